package centrifuge

import "time"

// Default configuration values applied by New and NewSubscription.
const (
	DefaultReadTimeout         = 5 * time.Second
	DefaultHandshakeTimeout    = 30 * time.Second
	DefaultMaxServerPingDelay  = 10 * time.Second
	DefaultMinReconnectDelay   = 100 * time.Millisecond
	DefaultMaxReconnectDelay   = 20 * time.Second
	DefaultMinResubscribeDelay = 100 * time.Millisecond
	DefaultMaxResubscribeDelay = 10 * time.Second
)

// Config customizes a Client. The zero value is usable: defaults are
// filled in by New.
type Config struct {
	// Token is a static connection token sent in the connect command.
	Token string
	// GetToken is called to obtain a connection token when Token is empty
	// and on connection token refresh.
	GetToken ConnectionTokenGetter
	// Data is an arbitrary JSON payload sent in the connect command.
	Data []byte
	// Name identifies the client application to the server.
	Name string
	// Version identifies the client application version to the server.
	Version string
	// ReadTimeout bounds every command awaiting its reply, and is the
	// default timeout for Ready.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
	// MaxServerPingDelay is the slack added to the server ping interval
	// before the connection is considered dead.
	MaxServerPingDelay time.Duration
	// MinReconnectDelay and MaxReconnectDelay bound the exponential
	// reconnect backoff.
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "go"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxServerPingDelay == 0 {
		c.MaxServerPingDelay = DefaultMaxServerPingDelay
	}
	if c.MinReconnectDelay == 0 {
		c.MinReconnectDelay = DefaultMinReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
}

// SubscriptionConfig customizes a Subscription created through
// Client.NewSubscription.
type SubscriptionConfig struct {
	// Token is a static subscription token sent in the subscribe command.
	Token string
	// GetToken is called to obtain a subscription token when Token is
	// empty and on subscription token refresh.
	GetToken SubscriptionTokenGetter
	// MinResubscribeDelay and MaxResubscribeDelay bound the exponential
	// resubscribe backoff.
	MinResubscribeDelay time.Duration
	MaxResubscribeDelay time.Duration
}

func (c *SubscriptionConfig) setDefaults() {
	if c.MinResubscribeDelay == 0 {
		c.MinResubscribeDelay = DefaultMinResubscribeDelay
	}
	if c.MaxResubscribeDelay == 0 {
		c.MaxResubscribeDelay = DefaultMaxResubscribeDelay
	}
}
