package centrifuge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/KatantDev/centrifuge-go/internal/protocol"
)

// SubState represents the state of a subscription.
type SubState string

const (
	SubStateUnsubscribed SubState = "unsubscribed"
	SubStateSubscribing  SubState = "subscribing"
	SubStateSubscribed   SubState = "subscribed"
)

// Subscription is a client subscription to a channel.
//
// It can be in one of three states: unsubscribed (initial, after
// Unsubscribe, or after a terminal unsubscribe code from the server),
// subscribing (Subscribe called or automatic resubscription in progress)
// and subscribed.
//
// Create subscriptions with Client.NewSubscription.
type Subscription struct {
	mu      sync.Mutex
	channel string
	state   SubState
	client  *Client
	config  SubscriptionConfig
	token   string
	events  subscriptionEvents

	subscribed *signal

	resubscribeBackoff *backoff.Backoff
	resubscribeTimer   *time.Timer
	refreshTimer       *time.Timer
}

func newSubscription(c *Client, channel string, config SubscriptionConfig) *Subscription {
	return &Subscription{
		channel:            channel,
		state:              SubStateUnsubscribed,
		client:             c,
		config:             config,
		token:              config.Token,
		subscribed:         newSignal(),
		resubscribeBackoff: newBackoff(config.MinResubscribeDelay, config.MaxResubscribeDelay),
	}
}

// Channel returns the channel this subscription is bound to.
func (s *Subscription) Channel() string {
	return s.channel
}

// State returns the current subscription state.
func (s *Subscription) State() SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe moves the subscription to the subscribing state and asks the
// client to issue a subscribe command. It is a no-op when already
// subscribing.
func (s *Subscription) Subscribe() error {
	s.mu.Lock()
	if s.state == SubStateSubscribing {
		s.mu.Unlock()
		return nil
	}
	c := s.client
	if c == nil {
		s.mu.Unlock()
		return errInternal("subscription was removed from client")
	}
	s.state = SubStateSubscribing
	if s.subscribed.resolved() {
		s.subscribed = newSignal()
	}
	s.mu.Unlock()

	s.emitSubscribing(SubscribingCodeSubscribeCalled, reasonSubscribeCalled)
	go c.subscribeChannel(s.channel)
	return nil
}

// Unsubscribe moves the subscription to the unsubscribed state and tells
// the server to drop the channel.
func (s *Subscription) Unsubscribe() error {
	s.moveUnsubscribed(UnsubscribedCodeUnsubscribeCalled, reasonUnsubscribeCalled, true)
	return nil
}

// Ready blocks until the subscription is subscribed, the context is done,
// or the client's ReadTimeout elapses. After the subscription moved to the
// unsubscribed state it fails immediately with
// ErrSubscriptionUnsubscribed.
func (s *Subscription) Ready(ctx context.Context) error {
	s.mu.Lock()
	sig := s.subscribed
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return errInternal("subscription was removed from client")
	}

	timer := time.NewTimer(c.config.ReadTimeout)
	defer timer.Stop()
	select {
	case <-sig.ch:
		return sig.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: waiting for subscription to be ready", ErrTimeout)
	}
}

// Publish publishes data into the subscription channel once subscribed.
func (s *Subscription) Publish(ctx context.Context, data []byte) (PublishResult, error) {
	c, err := s.readyClient(ctx)
	if err != nil {
		return PublishResult{}, err
	}
	return c.Publish(ctx, s.channel, data)
}

// History requests publications from the channel history once subscribed.
func (s *Subscription) History(ctx context.Context, opts HistoryOptions) (HistoryResult, error) {
	c, err := s.readyClient(ctx)
	if err != nil {
		return HistoryResult{}, err
	}
	return c.History(ctx, s.channel, opts)
}

// Presence requests channel presence once subscribed.
func (s *Subscription) Presence(ctx context.Context) (PresenceResult, error) {
	c, err := s.readyClient(ctx)
	if err != nil {
		return PresenceResult{}, err
	}
	return c.Presence(ctx, s.channel)
}

// PresenceStats requests channel presence counters once subscribed.
func (s *Subscription) PresenceStats(ctx context.Context) (PresenceStatsResult, error) {
	c, err := s.readyClient(ctx)
	if err != nil {
		return PresenceStatsResult{}, err
	}
	return c.PresenceStats(ctx, s.channel)
}

func (s *Subscription) readyClient(ctx context.Context) (*Client, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return nil, errInternal("subscription was removed from client")
	}
	return c, nil
}

// clearSubscribedStateLocked cancels the token refresh timer. Requires
// s.mu.
func (s *Subscription) clearSubscribedStateLocked() {
	stopTimer(&s.refreshTimer)
}

// clearSubscribingStateLocked resets the resubscribe backoff and cancels a
// pending resubscribe timer. Requires s.mu.
func (s *Subscription) clearSubscribingStateLocked() {
	s.resubscribeBackoff.Reset()
	stopTimer(&s.resubscribeTimer)
}

// moveUnsubscribed transitions to the unsubscribed state, fails the
// subscribed signal so waiters wake, and optionally sends an unsubscribe
// command to the server.
func (s *Subscription) moveUnsubscribed(code uint32, reason string, sendUnsubscribe bool) {
	s.mu.Lock()
	if s.state == SubStateUnsubscribed {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case SubStateSubscribed:
		s.clearSubscribedStateLocked()
	case SubStateSubscribing:
		s.clearSubscribingStateLocked()
	}
	s.state = SubStateUnsubscribed
	if s.subscribed.resolved() {
		s.subscribed = newSignal()
	}
	s.subscribed.fail(ErrSubscriptionUnsubscribed)
	c := s.client
	s.mu.Unlock()

	s.emitUnsubscribed(code, reason)

	if sendUnsubscribe && c != nil {
		c.unsubscribeChannel(s.channel)
	}
}

// moveSubscribing transitions to the subscribing state. When
// scheduleResubscribe is false the caller relies on the next connected
// transition to re-subscribe the channel.
func (s *Subscription) moveSubscribing(code uint32, reason string, scheduleResubscribe bool) {
	s.mu.Lock()
	if s.state == SubStateSubscribing {
		s.mu.Unlock()
		return
	}
	if s.state == SubStateSubscribed {
		s.clearSubscribedStateLocked()
	}
	s.state = SubStateSubscribing
	if s.subscribed.resolved() {
		s.subscribed = newSignal()
	}
	c := s.client
	s.mu.Unlock()

	s.emitSubscribing(code, reason)

	if scheduleResubscribe && c != nil {
		s.scheduleResubscribe()
	}
}

// moveSubscribed applies a successful subscribe reply: resolve the
// subscribed signal, arm the refresh timer, emit the subscribed event and
// deliver the publications included in the reply in order.
func (s *Subscription) moveSubscribed(res *protocol.SubscribeResult) {
	s.mu.Lock()
	s.state = SubStateSubscribed
	s.subscribed.resolve()
	if res.Expires {
		stopTimer(&s.refreshTimer)
		s.refreshTimer = time.AfterFunc(time.Duration(res.TTL)*time.Second, s.refresh)
	}
	c := s.client
	s.mu.Unlock()
	if c == nil {
		return
	}

	var streamPosition *StreamPosition
	if res.Positioned || res.Recoverable {
		streamPosition = &StreamPosition{Offset: res.Offset, Epoch: res.Epoch}
	}
	s.emitSubscribed(SubscribedEvent{
		Channel:        s.channel,
		Recoverable:    res.Recoverable,
		Positioned:     res.Positioned,
		StreamPosition: streamPosition,
		WasRecovering:  res.WasRecovering,
		Recovered:      res.Recovered,
		Data:           c.decodeData(res.Data),
	})

	for i := range res.Publications {
		s.emitPublication(c.toPublication(&res.Publications[i]))
	}

	s.mu.Lock()
	s.clearSubscribingStateLocked()
	s.mu.Unlock()
}

// refresh fires when the subscription token TTL elapses.
func (s *Subscription) refresh() {
	s.mu.Lock()
	c := s.client
	state := s.state
	s.mu.Unlock()
	if state != SubStateSubscribed || c == nil {
		return
	}
	c.subRefresh(s.channel)
}

// scheduleResubscribe arms the single resubscribe timer with the next
// backoff delay.
func (s *Subscription) scheduleResubscribe() {
	s.mu.Lock()
	if s.state != SubStateSubscribing {
		s.mu.Unlock()
		return
	}
	delay := s.resubscribeBackoff.Duration()
	stopTimer(&s.resubscribeTimer)
	s.resubscribeTimer = time.AfterFunc(delay, s.resubscribeNow)
	s.mu.Unlock()
}

func (s *Subscription) resubscribeNow() {
	s.mu.Lock()
	c := s.client
	state := s.state
	s.mu.Unlock()
	if state != SubStateSubscribing || c == nil {
		return
	}
	c.subscribeChannel(s.channel)
}
