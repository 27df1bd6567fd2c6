package centrifuge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/KatantDev/centrifuge-go/internal/protocol"
	"github.com/KatantDev/centrifuge-go/internal/registry"
	"github.com/KatantDev/centrifuge-go/internal/transport"
)

// State represents the client connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// subprotocol advertised when the codec uses binary framing.
const binarySubprotocol = "centrifuge-protobuf"

// clientConn bundles one transport connection with its receive queue and
// the stop channel shared by the receive and process loops. A new bundle
// is created for every connection attempt, so poisoning the loops of a
// dead connection can never affect its successor.
type clientConn struct {
	transport *transport.Conn
	messages  chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) shutdown() {
	cc.closeOnce.Do(func() { close(cc.closeCh) })
}

// Client is a websocket client to a Centrifugo/Centrifuge server. It keeps
// a single persistent connection, multiplexes publish/subscribe channels,
// RPC, presence and history requests over it, and reconnects with
// exponential backoff after transport failures.
//
// A Client can be in one of three states: disconnected (initial, after
// Disconnect, or after a terminal server disconnect code), connecting
// (Connect called or automatic reconnection in progress) and connected.
type Client struct {
	mu     sync.Mutex
	state  State
	addr   string
	config Config
	codec  protocol.Codec
	events connectionEvents

	cmdID    uint32
	registry *registry.Registry
	subs     map[string]*Subscription

	conn          *clientConn
	clientID      string
	token         string
	connected     *signal
	needReconnect bool

	reconnectBackoff *backoff.Backoff
	reconnectTimer   *time.Timer
	pingTimer        *time.Timer
	refreshTimer     *time.Timer
	pingInterval     time.Duration
	sendPong         bool
}

// New creates a Client for the given websocket address. Call Connect to
// establish the connection.
func New(addr string, config Config) *Client {
	config.setDefaults()
	return &Client{
		state:            StateDisconnected,
		addr:             addr,
		config:           config,
		codec:            protocol.JSONCodec{},
		registry:         registry.New(),
		subs:             make(map[string]*Subscription),
		token:            config.Token,
		connected:        newSignal(),
		needReconnect:    true,
		reconnectBackoff: newBackoff(config.MinReconnectDelay, config.MaxReconnectDelay),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID returns the server-assigned connection id. Empty until the
// first successful connect.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Subscriptions returns a copy of the registered subscriptions keyed by
// channel.
func (c *Client) Subscriptions() map[string]*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make(map[string]*Subscription, len(c.subs))
	for channel, sub := range c.subs {
		subs[channel] = sub
	}
	return subs
}

// GetSubscription returns the subscription registered for channel, or nil.
func (c *Client) GetSubscription(channel string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[channel]
}

// NewSubscription creates and registers a subscription to channel. At most
// one subscription per channel may exist: a second call for the same
// channel fails with ErrDuplicateSubscription.
func (c *Client) NewSubscription(channel string, config SubscriptionConfig) (*Subscription, error) {
	config.setDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[channel]; ok {
		return nil, fmt.Errorf("%w: channel %q", ErrDuplicateSubscription, channel)
	}
	sub := newSubscription(c, channel, config)
	c.subs[channel] = sub
	return sub, nil
}

// RemoveSubscription removes a subscription from the client registry. Only
// unsubscribed subscriptions can be removed; the subscription is not
// usable afterwards.
func (c *Client) RemoveSubscription(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if sub.State() != SubStateUnsubscribed {
		return errInternal("can not remove subscription in non-unsubscribed state")
	}
	sub.mu.Lock()
	sub.client = nil
	sub.mu.Unlock()
	c.mu.Lock()
	delete(c.subs, sub.channel)
	c.mu.Unlock()
	return nil
}

func (c *Client) nextCommandID() uint32 {
	return atomic.AddUint32(&c.cmdID, 1)
}

// Connect initiates the connection to the server. It is a no-op when the
// client is already connecting or connected. The returned error reflects
// only the first attempt: after a recoverable failure the client keeps
// reconnecting in the background with exponential backoff.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.needReconnect = true
	if c.connected.resolved() {
		c.connected = newSignal()
	}
	c.mu.Unlock()
	c.emitConnecting(ConnectingCodeConnectCalled, reasonConnectCalled)
	return c.createConnection()
}

// Disconnect closes the connection to the server and moves the client to
// the disconnected state. No reconnection happens until Connect is called
// again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.disconnect(DisconnectedCodeDisconnectCalled, reasonDisconnectCalled, false)
	return nil
}

// Ready blocks until the client is connected, the context is done, or the
// configured ReadTimeout elapses. After a terminal disconnect it fails
// immediately with ErrClientDisconnected.
func (c *Client) Ready(ctx context.Context) error {
	c.mu.Lock()
	sig := c.connected
	timeout := c.config.ReadTimeout
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sig.ch:
		return sig.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: waiting for connection to be ready", ErrTimeout)
	}
}

// createConnection performs one connection attempt: dial, token
// acquisition, loop startup and the barriered connect command exchange.
func (c *Client) createConnection() error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cfg := transport.Config{
		Binary:           c.codec.Binary(),
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	if c.codec.Binary() {
		cfg.Subprotocols = []string{binarySubprotocol}
	}
	t, err := transport.Dial(c.addr, cfg)
	if err != nil {
		c.emitError(ErrorCodeTransportClosed, err)
		c.scheduleReconnect()
		return err
	}

	cc := &clientConn{
		transport: t,
		messages:  make(chan []byte, 128),
		closeCh:   make(chan struct{}),
	}
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		t.Close()
		return nil
	}
	c.conn = cc
	c.mu.Unlock()

	connectReq := &protocol.ConnectRequest{
		Name:    c.config.Name,
		Version: c.config.Version,
	}
	if data, err := encodeData(c.codec.Binary(), c.config.Data); err == nil {
		connectReq.Data = data
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		connectReq.Token = token
	} else if c.config.GetToken != nil {
		token, err := c.config.GetToken(ConnectionTokenEvent{})
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.disconnect(DisconnectedCodeUnauthorized, reasonUnauthorized, false)
				return err
			}
			c.closeTransport(cc)
			c.emitError(ErrorCodeClientConnectToken, err)
			c.scheduleReconnect()
			return err
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		connectReq.Token = token
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.conn != cc {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	go c.listen(cc)
	go c.processMessages(cc)

	id := c.nextCommandID()
	cmd := &protocol.Command{ID: id, Connect: connectReq}
	fut, done := c.registry.RegisterWithBarrier(id, c.config.ReadTimeout)
	defer done()

	if err := c.sendCommands(cc, cmd); err != nil {
		return err
	}

	reply, err := fut.Await(context.Background())
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.closeTransport(cc)
			c.emitError(ErrorCodeTimeout, err)
			c.scheduleReconnect()
			return err
		}
		if c.State() != StateConnecting {
			return nil
		}
		c.closeTransport(cc)
		c.emitError(ErrorCodeTransportClosed, err)
		c.scheduleReconnect()
		return err
	}

	if c.State() != StateConnecting {
		return nil
	}

	if reply.Error != nil {
		replyErr := &ReplyError{
			Code:      reply.Error.Code,
			Message:   reply.Error.Message,
			Temporary: reply.Error.Temporary,
		}
		if isTokenExpired(replyErr.Code) {
			replyErr.Temporary = true
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		if replyErr.Temporary {
			c.closeTransport(cc)
			c.emitError(ErrorCodeConnectReplyError, replyErr)
			c.scheduleReconnect()
			return replyErr
		}
		c.disconnect(replyErr.Code, replyErr.Message, false)
		return replyErr
	}

	res := reply.Connect
	if res == nil {
		res = &protocol.ConnectResult{}
	}

	c.mu.Lock()
	if c.state != StateConnecting || c.conn != cc {
		c.mu.Unlock()
		return nil
	}
	c.clientID = res.Client
	c.state = StateConnected
	c.sendPong = res.Pong
	c.pingInterval = time.Duration(res.Ping) * time.Second
	if c.pingInterval > 0 {
		c.restartPingWaitLocked()
	}
	if res.Expires {
		stopTimer(&c.refreshTimer)
		c.refreshTimer = time.AfterFunc(time.Duration(res.TTL)*time.Second, c.refresh)
	}
	c.connected.resolve()
	c.mu.Unlock()

	c.emitConnected(ConnectedEvent{
		ClientID: res.Client,
		Version:  res.Version,
		Data:     c.decodeData(res.Data),
	})

	c.clearConnectingState()

	for _, sub := range c.Subscriptions() {
		if sub.State() != SubStateSubscribing {
			continue
		}
		go c.subscribeChannel(sub.channel)
	}
	return nil
}

// clearConnectingState resets the reconnect backoff and cancels a pending
// reconnect timer after a successful transition to connected.
func (c *Client) clearConnectingState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectBackoff.Reset()
	stopTimer(&c.reconnectTimer)
}

// scheduleReconnect arms the single reconnect timer with the next backoff
// delay. It is skipped when the client is connected, a transport is still
// attached, or reconnection was switched off.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.state == StateConnected || c.conn != nil || !c.needReconnect {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	delay := c.reconnectBackoff.Duration()
	stopTimer(&c.reconnectTimer)
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectNow)
	c.mu.Unlock()
}

func (c *Client) reconnectNow() {
	if c.State() != StateConnecting {
		return
	}
	_ = c.createConnection()
}

// closeTransport closes the transport of one connection attempt and
// detaches it when it is still the current one. A later attempt's
// transport is never touched.
func (c *Client) closeTransport(cc *clientConn) {
	c.mu.Lock()
	if c.conn == cc {
		c.conn = nil
	}
	c.mu.Unlock()
	cc.shutdown()
	cc.transport.Close()
}

// listen is the receive loop: it drains the transport and enqueues raw
// frames for the process loop, preserving arrival order. When the
// transport dies underneath a live connection it derives the disconnect
// code from the websocket close code.
func (c *Client) listen(cc *clientConn) {
	for {
		data, err := cc.transport.Read()
		if err != nil {
			break
		}
		select {
		case cc.messages <- data:
		case <-cc.closeCh:
			return
		}
	}

	// Queue an empty marker frame and wait until the process loop took it:
	// every frame read before the close is dispatched by then, so replies
	// that arrived ahead of the close still resolve their commands.
	select {
	case cc.messages <- nil:
	case <-cc.closeCh:
		return
	}
	for len(cc.messages) > 0 {
		select {
		case <-time.After(time.Millisecond):
		case <-cc.closeCh:
			return
		}
	}

	c.mu.Lock()
	current := c.conn == cc
	c.mu.Unlock()
	if !current {
		// Already detached by a disconnect; nothing left to report.
		return
	}

	code := ConnectingCodeTransportClosed
	reason := reasonTransportClosed
	reconnect := true

	wsCode := cc.transport.CloseCode()
	switch {
	case wsCode < 3000:
		if wsCode == closeCodeMessageTooBig {
			code = DisconnectedCodeMessageSizeLimit
			reason = reasonMessageSizeLimit
		}
	default:
		code = uint32(wsCode)
		reason = cc.transport.CloseReason()
		reconnect = reconnectableCode(code)
	}

	c.disconnect(code, reason, reconnect)
}

// processMessages is the process loop: it dequeues raw frames and
// dispatches the replies they contain in arrival order.
func (c *Client) processMessages(cc *clientConn) {
	for {
		select {
		case data := <-cc.messages:
			c.processIncoming(cc, data)
		case <-cc.closeCh:
			// Frames that arrived before the close are still dispatched;
			// the poison only marks the end of the queue.
			for {
				select {
				case data := <-cc.messages:
					c.processIncoming(cc, data)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) processIncoming(cc *clientConn, data []byte) {
	replies, err := c.codec.DecodeReplies(data)
	if err != nil {
		c.emitError(ErrorCodeTransportClosed, err)
		return
	}
	for _, reply := range replies {
		c.processReply(cc, reply)
	}
}

// processReply demultiplexes one reply. Replies with an id resolve their
// pending command; the barrier discipline inside ResolveSuccess guarantees
// that pushes following a connect or subscribe reply in the same frame are
// dispatched only after the reply's post-processing finished.
func (c *Client) processReply(cc *clientConn, reply *protocol.Reply) {
	switch {
	case reply.ID > 0:
		c.registry.ResolveSuccess(reply.ID, reply)
	case reply.Push != nil:
		push := reply.Push
		switch {
		case push.Pub != nil:
			c.processPublication(push.Channel, push.Pub)
		case push.Join != nil:
			c.processJoin(push.Channel, push.Join)
		case push.Leave != nil:
			c.processLeave(push.Channel, push.Leave)
		case push.Unsubscribe != nil:
			c.processUnsubscribe(push.Channel, push.Unsubscribe)
		case push.Disconnect != nil:
			c.processDisconnect(push.Disconnect)
		default:
			// Unknown push kinds are ignored for forward compatibility.
		}
	default:
		c.handleServerPing(cc)
	}
}

func (c *Client) processPublication(channel string, pub *protocol.Publication) {
	sub := c.GetSubscription(channel)
	if sub == nil {
		return
	}
	sub.emitPublication(c.toPublication(pub))
}

func (c *Client) processJoin(channel string, join *protocol.Join) {
	sub := c.GetSubscription(channel)
	if sub == nil || join.Info == nil {
		return
	}
	sub.emitJoin(c.toClientInfo(join.Info))
}

func (c *Client) processLeave(channel string, leave *protocol.Leave) {
	sub := c.GetSubscription(channel)
	if sub == nil || leave.Info == nil {
		return
	}
	sub.emitLeave(c.toClientInfo(leave.Info))
}

// processUnsubscribe applies the server unsubscribe code policy: codes
// below 2500 are terminal, everything else goes through subscribing and a
// scheduled resubscribe.
func (c *Client) processUnsubscribe(channel string, unsub *protocol.Unsubscribe) {
	sub := c.GetSubscription(channel)
	if sub == nil {
		return
	}
	if resubscribableCode(unsub.Code) {
		sub.moveSubscribing(unsub.Code, unsub.Reason, true)
	} else {
		sub.moveUnsubscribed(unsub.Code, unsub.Reason, false)
	}
}

// processDisconnect applies the server disconnect code policy: codes in
// [3500, 4000) and [4500, 5000) reconnect, everything else is terminal.
func (c *Client) processDisconnect(d *protocol.Disconnect) {
	c.disconnect(d.Code, d.Reason, reconnectableCode(d.Code))
}

// handleServerPing answers an empty server reply: restart the ping
// deadline and send a pong when the server asked for one.
func (c *Client) handleServerPing(cc *clientConn) {
	c.mu.Lock()
	sendPong := c.sendPong
	c.restartPingWaitLocked()
	c.mu.Unlock()
	if sendPong {
		_ = c.sendCommands(cc, &protocol.Command{})
	}
}

// restartPingWaitLocked re-arms the server ping deadline. Requires c.mu.
func (c *Client) restartPingWaitLocked() {
	stopTimer(&c.pingTimer)
	deadline := c.pingInterval + c.config.MaxServerPingDelay
	c.pingTimer = time.AfterFunc(deadline, c.noPing)
}

func (c *Client) noPing() {
	c.disconnect(ConnectingCodeNoPing, reasonNoPing, true)
}

// disconnect is the single internal transition out of an established or
// establishing connection. It cancels timers, poisons the message loops,
// fails every pending command, refreshes the connected signal, moves
// subscribed subscriptions back to subscribing and finally reports the
// disconnect and schedules a reconnect when asked to.
func (c *Client) disconnect(code uint32, reason string, reconnect bool) {
	c.mu.Lock()
	stopTimer(&c.pingTimer)
	stopTimer(&c.refreshTimer)
	stopTimer(&c.reconnectTimer)

	cc := c.conn
	c.conn = nil
	if cc != nil {
		cc.shutdown()
	}

	if !reconnect {
		c.needReconnect = false
	}

	if c.state == StateDisconnected {
		c.mu.Unlock()
		if cc != nil {
			cc.transport.Close()
		}
		return
	}

	c.registry.CancelAll(fmt.Errorf("%w: %d (%s)", ErrClientDisconnected, code, reason))

	if c.connected.resolved() {
		c.connected = newSignal()
	}
	if reconnect {
		c.state = StateConnecting
	} else {
		c.connected.fail(fmt.Errorf("%w: %d (%s)", ErrClientDisconnected, code, reason))
		c.state = StateDisconnected
	}

	var resubs []*Subscription
	for _, sub := range c.subs {
		resubs = append(resubs, sub)
	}
	c.mu.Unlock()

	if cc != nil {
		cc.transport.Close()
	}

	for _, sub := range resubs {
		if sub.State() != SubStateSubscribed {
			continue
		}
		// The next connected transition re-subscribes them, so no
		// resubscribe is scheduled here.
		sub.moveSubscribing(SubscribingCodeTransportClosed, reasonTransportClosed, false)
	}

	c.emitDisconnected(code, reason)

	if reconnect {
		c.scheduleReconnect()
	}
}

// refresh acquires a fresh connection token and sends a refresh command.
func (c *Client) refresh() {
	if c.config.GetToken == nil {
		c.emitError(ErrorCodeClientRefreshToken, errInternal("token expires but no GetToken configured"))
		return
	}
	token, err := c.config.GetToken(ConnectionTokenEvent{})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.disconnect(DisconnectedCodeUnauthorized, reasonUnauthorized, false)
			return
		}
		c.emitError(ErrorCodeClientRefreshToken, err)
		return
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	reply, err := c.sendAwait(context.Background(), &protocol.Command{
		Refresh: &protocol.RefreshRequest{Token: token},
	})
	if err != nil {
		c.emitError(ErrorCodeClientRefreshToken, err)
		return
	}
	res := reply.Refresh
	if res != nil && res.Expires {
		c.mu.Lock()
		stopTimer(&c.refreshTimer)
		c.refreshTimer = time.AfterFunc(time.Duration(res.TTL)*time.Second, c.refresh)
		c.mu.Unlock()
	}
}

// subscribeChannel issues the subscribe command for a channel currently in
// the subscribing state. Errors feed the per-subscription backoff.
func (c *Client) subscribeChannel(channel string) {
	sub := c.GetSubscription(channel)
	if sub == nil {
		return
	}
	if c.State() != StateConnected {
		// The next connected transition picks this subscription up.
		return
	}

	req := &protocol.SubscribeRequest{Channel: channel}

	sub.mu.Lock()
	token := sub.token
	getToken := sub.config.GetToken
	sub.mu.Unlock()
	if token != "" {
		req.Token = token
	} else if getToken != nil {
		token, err := getToken(SubscriptionTokenEvent{Channel: channel})
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				sub.moveUnsubscribed(UnsubscribedCodeUnauthorized, reasonUnauthorized, false)
				return
			}
			sub.emitError(ErrorCodeSubscriptionSubscribeToken, err)
			sub.scheduleResubscribe()
			return
		}
		sub.mu.Lock()
		sub.token = token
		sub.mu.Unlock()
		req.Token = token
	}

	id := c.nextCommandID()
	cmd := &protocol.Command{ID: id, Subscribe: req}
	fut, done := c.registry.RegisterWithBarrier(id, c.config.ReadTimeout)
	defer done()

	cc := c.currentConn()
	if cc == nil {
		c.registry.ResolveError(id, ErrClientDisconnected)
		return
	}
	if err := c.sendCommands(cc, cmd); err != nil {
		return
	}

	reply, err := fut.Await(context.Background())
	if err != nil {
		if sub.State() != SubStateSubscribing {
			return
		}
		if errors.Is(err, ErrTimeout) {
			sub.emitError(ErrorCodeTimeout, err)
		} else {
			sub.emitError(ErrorCodeTransportClosed, err)
		}
		sub.scheduleResubscribe()
		return
	}

	if sub.State() != SubStateSubscribing {
		return
	}

	if reply.Error != nil {
		replyErr := &ReplyError{
			Code:      reply.Error.Code,
			Message:   reply.Error.Message,
			Temporary: reply.Error.Temporary,
		}
		if isTokenExpired(replyErr.Code) {
			replyErr.Temporary = true
			sub.mu.Lock()
			sub.token = ""
			sub.mu.Unlock()
		}
		if replyErr.Temporary {
			sub.emitError(ErrorCodeSubscribeReplyError, replyErr)
			sub.scheduleResubscribe()
			return
		}
		sub.moveUnsubscribed(replyErr.Code, replyErr.Message, false)
		return
	}

	res := reply.Subscribe
	if res == nil {
		res = &protocol.SubscribeResult{}
	}
	sub.moveSubscribed(res)
}

// unsubscribeChannel sends an unsubscribe command. A timeout waiting for
// the reply leaves the server side in an unknown state, so the connection
// is dropped and re-established.
func (c *Client) unsubscribeChannel(channel string) {
	cc := c.currentConn()
	if cc == nil {
		return
	}
	id := c.nextCommandID()
	cmd := &protocol.Command{ID: id, Unsubscribe: &protocol.UnsubscribeRequest{Channel: channel}}
	fut := c.registry.Register(id, c.config.ReadTimeout)
	if err := c.sendCommands(cc, cmd); err != nil {
		return
	}
	if _, err := fut.Await(context.Background()); errors.Is(err, ErrTimeout) {
		c.disconnect(ConnectingCodeUnsubscribeError, reasonUnsubscribeError, true)
	}
}

// subRefresh acquires a fresh subscription token and sends a sub_refresh
// command for the channel.
func (c *Client) subRefresh(channel string) {
	sub := c.GetSubscription(channel)
	if sub == nil {
		return
	}
	getToken := sub.config.GetToken
	if getToken == nil {
		sub.emitError(ErrorCodeSubscriptionRefreshToken, errInternal("subscription expires but no GetToken configured"))
		return
	}
	token, err := getToken(SubscriptionTokenEvent{Channel: channel})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			sub.moveUnsubscribed(UnsubscribedCodeUnauthorized, reasonUnauthorized, true)
			return
		}
		sub.emitError(ErrorCodeSubscriptionSubscribeToken, err)
		sub.scheduleResubscribe()
		return
	}
	sub.mu.Lock()
	sub.token = token
	sub.mu.Unlock()

	reply, err := c.sendAwait(context.Background(), &protocol.Command{
		SubRefresh: &protocol.SubRefreshRequest{Token: token},
	})
	if err != nil {
		sub.emitError(ErrorCodeSubscriptionRefreshToken, err)
		return
	}
	res := reply.SubRefresh
	if res != nil && res.Expires {
		sub.mu.Lock()
		stopTimer(&sub.refreshTimer)
		sub.refreshTimer = time.AfterFunc(time.Duration(res.TTL)*time.Second, sub.refresh)
		sub.mu.Unlock()
	}
}

// Publish publishes data into a channel and waits for the ack.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) (PublishResult, error) {
	if err := c.Ready(ctx); err != nil {
		return PublishResult{}, err
	}
	encoded, err := encodeData(c.codec.Binary(), data)
	if err != nil {
		return PublishResult{}, err
	}
	_, err = c.sendAwait(ctx, &protocol.Command{
		Publish: &protocol.PublishRequest{Channel: channel, Data: encoded},
	})
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{}, nil
}

// History requests publications from a channel's history stream.
func (c *Client) History(ctx context.Context, channel string, opts HistoryOptions) (HistoryResult, error) {
	if err := c.Ready(ctx); err != nil {
		return HistoryResult{}, err
	}
	req := &protocol.HistoryRequest{
		Channel: channel,
		Limit:   opts.Limit,
		Reverse: opts.Reverse,
	}
	if opts.Since != nil {
		req.Since = &protocol.StreamPosition{Offset: opts.Since.Offset, Epoch: opts.Since.Epoch}
	}
	reply, err := c.sendAwait(ctx, &protocol.Command{History: req})
	if err != nil {
		return HistoryResult{}, err
	}
	res := reply.History
	if res == nil {
		res = &protocol.HistoryResult{}
	}
	publications := make([]Publication, 0, len(res.Publications))
	for i := range res.Publications {
		publications = append(publications, c.toPublication(&res.Publications[i]))
	}
	return HistoryResult{
		Publications: publications,
		Offset:       res.Offset,
		Epoch:        res.Epoch,
	}, nil
}

// Presence requests the active connections in a channel.
func (c *Client) Presence(ctx context.Context, channel string) (PresenceResult, error) {
	if err := c.Ready(ctx); err != nil {
		return PresenceResult{}, err
	}
	reply, err := c.sendAwait(ctx, &protocol.Command{
		Presence: &protocol.PresenceRequest{Channel: channel},
	})
	if err != nil {
		return PresenceResult{}, err
	}
	clients := make(map[string]ClientInfo)
	if reply.Presence != nil {
		for id, info := range reply.Presence.Presence {
			clients[id] = c.toClientInfo(&info)
		}
	}
	return PresenceResult{Clients: clients}, nil
}

// PresenceStats requests short presence counters for a channel.
func (c *Client) PresenceStats(ctx context.Context, channel string) (PresenceStatsResult, error) {
	if err := c.Ready(ctx); err != nil {
		return PresenceStatsResult{}, err
	}
	reply, err := c.sendAwait(ctx, &protocol.Command{
		PresenceStats: &protocol.PresenceStatsRequest{Channel: channel},
	})
	if err != nil {
		return PresenceStatsResult{}, err
	}
	res := reply.PresenceStats
	if res == nil {
		res = &protocol.PresenceStatsResult{}
	}
	return PresenceStatsResult{NumClients: res.NumClients, NumUsers: res.NumUsers}, nil
}

// RPC sends data to a named server-side RPC handler and waits for the
// result.
func (c *Client) RPC(ctx context.Context, method string, data []byte) (RPCResult, error) {
	if err := c.Ready(ctx); err != nil {
		return RPCResult{}, err
	}
	encoded, err := encodeData(c.codec.Binary(), data)
	if err != nil {
		return RPCResult{}, err
	}
	reply, err := c.sendAwait(ctx, &protocol.Command{
		RPC: &protocol.RPCRequest{Method: method, Data: encoded},
	})
	if err != nil {
		return RPCResult{}, err
	}
	res := reply.RPC
	if res == nil {
		res = &protocol.RPCResult{}
	}
	return RPCResult{Data: c.decodeData(res.Data)}, nil
}

// sendAwait allocates a command id, registers a pending reply with the
// configured timeout, sends the command and waits for its reply. A reply
// carrying an error payload is returned as *ReplyError.
func (c *Client) sendAwait(ctx context.Context, cmd *protocol.Command) (*protocol.Reply, error) {
	cc := c.currentConn()
	if cc == nil {
		return nil, ErrClientDisconnected
	}
	cmd.ID = c.nextCommandID()
	fut := c.registry.Register(cmd.ID, c.config.ReadTimeout)
	if err := c.sendCommands(cc, cmd); err != nil {
		return nil, err
	}
	reply, err := fut.Await(ctx)
	if err != nil {
		return nil, err
	}
	if reply.Error != nil {
		return nil, &ReplyError{
			Code:      reply.Error.Code,
			Message:   reply.Error.Message,
			Temporary: reply.Error.Temporary,
		}
	}
	return reply, nil
}

func (c *Client) currentConn() *clientConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// sendCommands encodes a batch of commands into one frame and writes it.
// A write failure means the transport is gone: the client disconnects with
// reconnect enabled, unless a newer connection already took over.
func (c *Client) sendCommands(cc *clientConn, cmds ...*protocol.Command) error {
	frame, err := c.codec.EncodeCommands(cmds)
	if err != nil {
		return err
	}
	if err := cc.transport.Write(frame); err != nil {
		c.mu.Lock()
		current := c.conn == cc
		c.mu.Unlock()
		if current {
			c.disconnect(ConnectingCodeTransportClosed, reasonTransportClosed, true)
		}
		return fmt.Errorf("%w: %s", ErrClientDisconnected, reasonTransportClosed)
	}
	return nil
}

func (c *Client) decodeData(raw json.RawMessage) []byte {
	return decodeData(c.codec.Binary(), raw)
}

func (c *Client) toClientInfo(info *protocol.ClientInfo) ClientInfo {
	return ClientInfo{
		Client:   info.Client,
		User:     info.User,
		ConnInfo: c.decodeData(info.ConnInfo),
		ChanInfo: c.decodeData(info.ChanInfo),
	}
}

func (c *Client) toPublication(pub *protocol.Publication) Publication {
	p := Publication{Offset: pub.Offset, Data: c.decodeData(pub.Data)}
	if pub.Info != nil {
		info := c.toClientInfo(pub.Info)
		p.Info = &info
	}
	return p
}

// stopTimer cancels a timer slot in place. Callers hold the lock guarding
// the slot.
func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
