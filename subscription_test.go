package centrifuge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_SubscribeAndReceive(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		cmd := serveSubscribe(t, conn, map[string]any{})
		subscribe := cmd["subscribe"].(map[string]any)
		assert.Equal(t, "room", subscribe["channel"])
		writeReply(t, conn, map[string]any{
			"push": map[string]any{
				"channel": "room",
				"pub":     map[string]any{"offset": 3, "data": map[string]any{"m": 3}},
			},
		})
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	pubCh := make(chan PublicationEvent, 1)
	sub.OnPublication(func(e PublicationEvent) {
		pubCh <- e
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))
	assert.Equal(t, SubStateSubscribed, sub.State())

	select {
	case pub := <-pubCh:
		assert.Equal(t, uint64(3), pub.Offset)
		assert.JSONEq(t, `{"m":3}`, string(pub.Data))
	case <-time.After(time.Second):
		t.Fatal("no publication delivered")
	}
}

func TestSubscription_SubscribeBeforeConnect(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		serveSubscribe(t, conn, map[string]any{})
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	// Subscribing while disconnected parks the subscription; the connected
	// transition picks it up.
	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)
	require.NoError(t, sub.Subscribe())
	assert.Equal(t, SubStateSubscribing, sub.State())

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Ready(context.Background()))
	assert.Equal(t, SubStateSubscribed, sub.State())
}

func TestSubscription_AutoResubscribeOnServerUnsubscribe(t *testing.T) {
	var mu sync.Mutex
	var subscribes int

	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		for {
			cmd, ok := tryReadCommand(conn)
			if !ok {
				return
			}
			if cmd["subscribe"] == nil {
				continue
			}
			writeReply(t, conn, map[string]any{
				"id":        commandID(cmd),
				"subscribe": map[string]any{},
			})
			mu.Lock()
			subscribes++
			first := subscribes == 1
			mu.Unlock()
			if first {
				writeReply(t, conn, map[string]any{
					"push": map[string]any{
						"channel":     "room",
						"unsubscribe": map[string]any{"code": 2600, "reason": "x"},
					},
				})
			}
		}
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{
		MinResubscribeDelay: 10 * time.Millisecond,
		MaxResubscribeDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	var events []SubscribingEvent
	var evMu sync.Mutex
	sub.OnSubscribing(func(e SubscribingEvent) {
		evMu.Lock()
		events = append(events, e)
		evMu.Unlock()
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))

	// Code 2600 is resubscribable: the subscription transitions through
	// subscribing and comes back on its own.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return subscribes >= 2 && sub.State() == SubStateSubscribed
	}, 3*time.Second, 10*time.Millisecond)

	evMu.Lock()
	defer evMu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, uint32(2600), last.Code)
	assert.Equal(t, "x", last.Reason)
}

func TestSubscription_TerminalServerUnsubscribe(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		serveSubscribe(t, conn, map[string]any{})
		writeReply(t, conn, map[string]any{
			"push": map[string]any{
				"channel":     "room",
				"unsubscribe": map[string]any{"code": 102, "reason": "gone"},
			},
		})
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	unsubCh := make(chan UnsubscribedEvent, 1)
	sub.OnUnsubscribed(func(e UnsubscribedEvent) {
		unsubCh <- e
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))

	select {
	case e := <-unsubCh:
		assert.Equal(t, uint32(102), e.Code)
		assert.Equal(t, "gone", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("no unsubscribed event")
	}
	assert.Equal(t, SubStateUnsubscribed, sub.State())
}

func TestSubscription_PublicationOrdering(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		cmd := readCommand(t, conn)
		require.Contains(t, cmd, "subscribe")
		// Subscribe reply with initial publications and a later push in the
		// same frame: the push may only be dispatched after the reply's
		// post-processing — subscribed event first, then p1, p2, p3.
		writeFrame(t, conn,
			map[string]any{
				"id": commandID(cmd),
				"subscribe": map[string]any{
					"publications": []map[string]any{
						{"offset": 1, "data": map[string]any{"p": 1}},
						{"offset": 2, "data": map[string]any{"p": 2}},
					},
				},
			},
			map[string]any{
				"push": map[string]any{
					"channel": "room",
					"pub":     map[string]any{"offset": 3, "data": map[string]any{"p": 3}},
				},
			},
		)
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	record := func(entry string) {
		mu.Lock()
		order = append(order, entry)
		mu.Unlock()
	}
	sub.OnSubscribed(func(SubscribedEvent) { record("subscribed") })
	sub.OnPublication(func(e PublicationEvent) {
		switch e.Offset {
		case 1:
			record("p1")
		case 2:
			record("p2")
		case 3:
			record("p3")
		}
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"subscribed", "p1", "p2", "p3"}, order)
}

func TestSubscription_ResubscribedAfterReconnect(t *testing.T) {
	var mu sync.Mutex
	var connects int

	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		mu.Lock()
		connects++
		first := connects == 1
		mu.Unlock()
		serveSubscribe(t, conn, map[string]any{})
		if first {
			conn.Close()
			return
		}
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	var subscribing []SubscribingEvent
	var evMu sync.Mutex
	sub.OnSubscribing(func(e SubscribingEvent) {
		evMu.Lock()
		subscribing = append(subscribing, e)
		evMu.Unlock()
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))

	// Drop happens server-side; the subscription must come back without
	// user intervention.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 2 && sub.State() == SubStateSubscribed
	}, 3*time.Second, 10*time.Millisecond)

	evMu.Lock()
	defer evMu.Unlock()
	var sawTransportClosed bool
	for _, e := range subscribing {
		if e.Code == SubscribingCodeTransportClosed {
			sawTransportClosed = true
		}
	}
	assert.True(t, sawTransportClosed, "expected a transport closed subscribing event")
}

func TestSubscription_UnsubscribeSendsCommand(t *testing.T) {
	gotUnsubscribe := make(chan struct{})
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		serveSubscribe(t, conn, map[string]any{})
		cmd := readCommand(t, conn)
		require.Contains(t, cmd, "unsubscribe")
		unsubscribe := cmd["unsubscribe"].(map[string]any)
		assert.Equal(t, "room", unsubscribe["channel"])
		writeReply(t, conn, map[string]any{
			"id":          commandID(cmd),
			"unsubscribe": map[string]any{},
		})
		close(gotUnsubscribe)
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))

	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, SubStateUnsubscribed, sub.State())

	select {
	case <-gotUnsubscribe:
	case <-time.After(time.Second):
		t.Fatal("no unsubscribe command sent")
	}

	err = sub.Ready(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionUnsubscribed)
}

func TestSubscription_SubscribeTokenUsed(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		cmd := serveSubscribe(t, conn, map[string]any{})
		subscribe := cmd["subscribe"].(map[string]any)
		assert.Equal(t, "sub-token", subscribe["token"])
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{
		GetToken: func(e SubscriptionTokenEvent) (string, error) {
			assert.Equal(t, "room", e.Channel)
			return "sub-token", nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Ready(context.Background()))
}

func TestSubscription_UnauthorizedTokenTerminal(t *testing.T) {
	server := newTestServer(t, func(conn *websocket.Conn) {
		serveConnect(t, conn, map[string]any{"client": "abc"})
		waitClosed(conn)
	})

	client := New(wsURL(server), fastConfig())
	defer client.Disconnect()

	sub, err := client.NewSubscription("room", SubscriptionConfig{
		GetToken: func(SubscriptionTokenEvent) (string, error) {
			return "", ErrUnauthorized
		},
	})
	require.NoError(t, err)

	unsubCh := make(chan UnsubscribedEvent, 1)
	sub.OnUnsubscribed(func(e UnsubscribedEvent) {
		unsubCh <- e
	})

	require.NoError(t, client.Connect())
	require.NoError(t, sub.Subscribe())

	select {
	case e := <-unsubCh:
		assert.Equal(t, UnsubscribedCodeUnauthorized, e.Code)
	case <-time.After(time.Second):
		t.Fatal("no unsubscribed event")
	}
	assert.Equal(t, SubStateUnsubscribed, sub.State())
}

func TestSubscription_RemoveRules(t *testing.T) {
	client := New("ws://example.invalid", Config{})
	sub, err := client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)

	// Force a non-unsubscribed state without a server.
	sub.mu.Lock()
	sub.state = SubStateSubscribing
	sub.mu.Unlock()
	require.Error(t, client.RemoveSubscription(sub))

	sub.mu.Lock()
	sub.state = SubStateUnsubscribed
	sub.mu.Unlock()
	require.NoError(t, client.RemoveSubscription(sub))
	assert.Nil(t, client.GetSubscription("room"))

	// The channel is free again after removal.
	_, err = client.NewSubscription("room", SubscriptionConfig{})
	require.NoError(t, err)
}

func TestSubscription_ChannelAccessor(t *testing.T) {
	t.Parallel()
	client := New("ws://example.invalid", Config{})
	sub, err := client.NewSubscription("news", SubscriptionConfig{})
	require.NoError(t, err)
	assert.Equal(t, "news", sub.Channel())
	assert.Equal(t, SubStateUnsubscribed, sub.State())
}
