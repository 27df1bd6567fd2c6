// Package transport adapts a websocket connection into the full-duplex
// byte-message channel the client engine works with. It negotiates the
// codec subprotocol and surfaces the close code and reason after the
// connection ends.
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Read and Write once the connection is closed.
// It is distinct from any parse error: the engine uses it to tell a dead
// transport apart from a malformed frame.
var ErrClosed = errors.New("centrifuge: connection closed")

// Config carries dial parameters for a websocket connection.
type Config struct {
	// Subprotocols to advertise during the handshake.
	Subprotocols []string
	// Binary selects binary websocket frames instead of text frames.
	Binary bool
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
	// Header is sent with the upgrade request.
	Header http.Header
}

// Conn is a single websocket connection. The engine is the only writer and
// the receive loop is the only reader.
type Conn struct {
	ws     *websocket.Conn
	binary bool

	writeMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

// Dial opens a websocket connection to addr.
func Dial(addr string, cfg Config) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     cfg.Subprotocols,
	}
	ws, resp, err := dialer.Dial(addr, cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws, binary: cfg.Binary}, nil
}

// Write sends one frame. Returns ErrClosed when the connection is gone.
func (c *Conn) Write(data []byte) error {
	messageType := websocket.TextMessage
	if c.binary {
		messageType = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	err := c.ws.WriteMessage(messageType, data)
	c.writeMu.Unlock()
	if err != nil {
		return ErrClosed
	}
	return nil
}

// Read blocks for the next frame. Once the connection closes — cleanly or
// not — it records the close code and reason and returns ErrClosed.
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.recordClose(err)
		return nil, ErrClosed
	}
	return data, nil
}

func (c *Conn) recordClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	// gorilla reports a connection lost without a close frame as a
	// CloseError with code 1006; no peer ever sends that code.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.closeCode = closeErr.Code
		c.closeReason = closeErr.Text
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

// CloseCode returns the websocket close code observed when the connection
// ended, or 0 when it ended without a close frame.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseReason returns the close reason sent by the peer, if any.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}
