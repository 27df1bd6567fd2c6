// Package protocol defines the wire-level commands and replies exchanged
// with a Centrifugo/Centrifuge server, plus the codec that frames them.
package protocol

import "encoding/json"

// Command is a single client-to-server command. Every command carries a
// positive id and exactly one request payload. A command with no fields at
// all is the client's pong to a server ping.
type Command struct {
	ID            uint32                `json:"id,omitempty"`
	Connect       *ConnectRequest       `json:"connect,omitempty"`
	Refresh       *RefreshRequest       `json:"refresh,omitempty"`
	Subscribe     *SubscribeRequest     `json:"subscribe,omitempty"`
	SubRefresh    *SubRefreshRequest    `json:"sub_refresh,omitempty"`
	Unsubscribe   *UnsubscribeRequest   `json:"unsubscribe,omitempty"`
	Publish       *PublishRequest       `json:"publish,omitempty"`
	History       *HistoryRequest       `json:"history,omitempty"`
	Presence      *PresenceRequest      `json:"presence,omitempty"`
	PresenceStats *PresenceStatsRequest `json:"presence_stats,omitempty"`
	RPC           *RPCRequest           `json:"rpc,omitempty"`
}

// Reply is a single server-to-client message. A reply either carries the id
// of the command it answers plus a result payload, or a Push, or nothing at
// all — an empty reply is a server ping.
type Reply struct {
	ID            uint32               `json:"id,omitempty"`
	Error         *Error               `json:"error,omitempty"`
	Push          *Push                `json:"push,omitempty"`
	Connect       *ConnectResult       `json:"connect,omitempty"`
	Refresh       *RefreshResult       `json:"refresh,omitempty"`
	Subscribe     *SubscribeResult     `json:"subscribe,omitempty"`
	SubRefresh    *SubRefreshResult    `json:"sub_refresh,omitempty"`
	Unsubscribe   *UnsubscribeResult   `json:"unsubscribe,omitempty"`
	Publish       *PublishResult       `json:"publish,omitempty"`
	History       *HistoryResult       `json:"history,omitempty"`
	Presence      *PresenceResult      `json:"presence,omitempty"`
	PresenceStats *PresenceStatsResult `json:"presence_stats,omitempty"`
	RPC           *RPCResult           `json:"rpc,omitempty"`
}

// Error is the error payload attached to a reply.
type Error struct {
	Code      uint32 `json:"code"`
	Message   string `json:"message"`
	Temporary bool   `json:"temporary,omitempty"`
}

// Push is a server-initiated message not correlated to a command.
// Exactly one of the payload fields is set.
type Push struct {
	Channel     string       `json:"channel,omitempty"`
	Pub         *Publication `json:"pub,omitempty"`
	Join        *Join        `json:"join,omitempty"`
	Leave       *Leave       `json:"leave,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Disconnect  *Disconnect  `json:"disconnect,omitempty"`
}

// Publication is a message published into a channel.
type Publication struct {
	Offset uint64          `json:"offset,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Info   *ClientInfo     `json:"info,omitempty"`
}

// ClientInfo describes the connection that produced a publication or a
// presence event.
type ClientInfo struct {
	Client   string          `json:"client,omitempty"`
	User     string          `json:"user,omitempty"`
	ConnInfo json.RawMessage `json:"conn_info,omitempty"`
	ChanInfo json.RawMessage `json:"chan_info,omitempty"`
}

// Join is a push sent when a client joins a channel.
type Join struct {
	Info *ClientInfo `json:"info,omitempty"`
}

// Leave is a push sent when a client leaves a channel.
type Leave struct {
	Info *ClientInfo `json:"info,omitempty"`
}

// Unsubscribe is a push moving a subscription out of the subscribed state.
type Unsubscribe struct {
	Code   uint32 `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// Disconnect is a push instructing the client to disconnect.
type Disconnect struct {
	Code   uint32 `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// StreamPosition identifies a point in a channel stream.
type StreamPosition struct {
	Offset uint64 `json:"offset,omitempty"`
	Epoch  string `json:"epoch,omitempty"`
}

// ConnectRequest authenticates and establishes a session.
type ConnectRequest struct {
	Token   string          `json:"token,omitempty"`
	Name    string          `json:"name,omitempty"`
	Version string          `json:"version,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectResult is the server's answer to a connect command.
type ConnectResult struct {
	Client  string          `json:"client,omitempty"`
	Version string          `json:"version,omitempty"`
	Expires bool            `json:"expires,omitempty"`
	TTL     uint32          `json:"ttl,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Ping    uint32          `json:"ping,omitempty"`
	Pong    bool            `json:"pong,omitempty"`
}

// RefreshRequest updates the connection token.
type RefreshRequest struct {
	Token string `json:"token"`
}

// RefreshResult is the server's answer to a refresh command.
type RefreshResult struct {
	Expires bool   `json:"expires,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
}

// SubscribeRequest subscribes the connection to a channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Token   string `json:"token,omitempty"`
}

// SubscribeResult is the server's answer to a subscribe command.
type SubscribeResult struct {
	Expires       bool            `json:"expires,omitempty"`
	TTL           uint32          `json:"ttl,omitempty"`
	Recoverable   bool            `json:"recoverable,omitempty"`
	Epoch         string          `json:"epoch,omitempty"`
	Publications  []Publication   `json:"publications,omitempty"`
	Recovered     bool            `json:"recovered,omitempty"`
	Offset        uint64          `json:"offset,omitempty"`
	Positioned    bool            `json:"positioned,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	WasRecovering bool            `json:"was_recovering,omitempty"`
}

// SubRefreshRequest updates a subscription token.
type SubRefreshRequest struct {
	Token string `json:"token"`
}

// SubRefreshResult is the server's answer to a sub_refresh command.
type SubRefreshResult struct {
	Expires bool   `json:"expires,omitempty"`
	TTL     uint32 `json:"ttl,omitempty"`
}

// UnsubscribeRequest removes the connection from a channel.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// UnsubscribeResult is the server's answer to an unsubscribe command.
type UnsubscribeResult struct{}

// PublishRequest publishes data into a channel.
type PublishRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// PublishResult is the server's answer to a publish command.
type PublishResult struct{}

// HistoryRequest asks for channel history.
type HistoryRequest struct {
	Channel string          `json:"channel"`
	Limit   int32           `json:"limit"`
	Reverse bool            `json:"reverse"`
	Since   *StreamPosition `json:"since,omitempty"`
}

// HistoryResult is the server's answer to a history command.
type HistoryResult struct {
	Publications []Publication `json:"publications,omitempty"`
	Epoch        string        `json:"epoch,omitempty"`
	Offset       uint64        `json:"offset,omitempty"`
}

// PresenceRequest asks for channel presence.
type PresenceRequest struct {
	Channel string `json:"channel"`
}

// PresenceResult is the server's answer to a presence command.
type PresenceResult struct {
	Presence map[string]ClientInfo `json:"presence,omitempty"`
}

// PresenceStatsRequest asks for short presence information.
type PresenceStatsRequest struct {
	Channel string `json:"channel"`
}

// PresenceStatsResult is the server's answer to a presence_stats command.
type PresenceStatsResult struct {
	NumClients uint32 `json:"num_clients,omitempty"`
	NumUsers   uint32 `json:"num_users,omitempty"`
}

// RPCRequest sends data to a named server-side RPC handler.
type RPCRequest struct {
	Method string          `json:"method,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// RPCResult is the server's answer to an rpc command.
type RPCResult struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// IsPing reports whether the reply is a server ping: no id, no payload.
func (r *Reply) IsPing() bool {
	return r.ID == 0 && r.Push == nil && r.Error == nil &&
		r.Connect == nil && r.Refresh == nil && r.Subscribe == nil &&
		r.SubRefresh == nil && r.Unsubscribe == nil && r.Publish == nil &&
		r.History == nil && r.Presence == nil && r.PresenceStats == nil &&
		r.RPC == nil
}
