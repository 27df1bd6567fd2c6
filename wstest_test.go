package centrifuge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsUpgrader is used to upgrade HTTP connections to WebSocket.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsHandler is a function that handles WebSocket connections in tests.
type wsHandler func(*websocket.Conn)

// newTestServer creates a test WebSocket server speaking the client wire
// protocol. The handler function is called with each accepted connection.
func newTestServer(t *testing.T, handler wsHandler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

// wsURL converts an httptest server URL into a websocket URL.
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// readCommand reads one frame and parses the single command it carries.
func readCommand(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var cmd map[string]any
	require.NoError(t, json.Unmarshal(data, &cmd))
	return cmd
}

// tryReadCommand reads one command, reporting false once the connection
// is gone. Use it in server loops that run until the client hangs up.
func tryReadCommand(conn *websocket.Conn) (map[string]any, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	var cmd map[string]any
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, false
	}
	return cmd, true
}

// commandID extracts the id from a parsed command.
func commandID(cmd map[string]any) uint32 {
	if id, ok := cmd["id"].(float64); ok {
		return uint32(id)
	}
	return 0
}

// writeReply writes one reply as its own frame.
func writeReply(t *testing.T, conn *websocket.Conn, reply any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(reply))
}

// writeFrame writes several replies batched into a single frame.
func writeFrame(t *testing.T, conn *websocket.Conn, replies ...any) {
	t.Helper()
	lines := make([]string, 0, len(replies))
	for _, reply := range replies {
		data, err := json.Marshal(reply)
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Join(lines, "\n"))))
}

// serveConnect reads the connect command and acknowledges it with the
// given connect result fields.
func serveConnect(t *testing.T, conn *websocket.Conn, result map[string]any) map[string]any {
	t.Helper()
	cmd := readCommand(t, conn)
	require.Contains(t, cmd, "connect")
	writeReply(t, conn, map[string]any{
		"id":      commandID(cmd),
		"connect": result,
	})
	return cmd
}

// serveSubscribe reads a subscribe command and acknowledges it with the
// given subscribe result fields.
func serveSubscribe(t *testing.T, conn *websocket.Conn, result map[string]any) map[string]any {
	t.Helper()
	cmd := readCommand(t, conn)
	require.Contains(t, cmd, "subscribe")
	writeReply(t, conn, map[string]any{
		"id":        commandID(cmd),
		"subscribe": result,
	})
	return cmd
}

// waitClosed blocks until the peer closes the connection.
func waitClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// fastConfig returns a Config with short delays suitable for tests.
func fastConfig() Config {
	return Config{
		Token:             "test-token",
		ReadTimeout:       2 * time.Second,
		MinReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	}
}
