// Package centrifuge is a websocket client for Centrifugo and any
// Centrifuge-based server. It maintains a single persistent bidirectional
// connection and multiplexes publish/subscribe channels, RPC, presence and
// history requests over it.
//
// A Client owns the connection lifecycle: connecting with token
// acquisition, reacting to server pings, refreshing expiring tokens and
// reconnecting with exponential backoff after transport failures.
// Subscriptions own the per-channel lifecycle and survive reconnects: once
// the client is connected again, every subscribing channel is
// re-subscribed automatically.
//
//	client := centrifuge.New("ws://localhost:8000/connection/websocket", centrifuge.Config{
//		Token: token,
//	})
//	sub, _ := client.NewSubscription("chat:index", centrifuge.SubscriptionConfig{})
//	sub.OnPublication(func(e centrifuge.PublicationEvent) {
//		log.Printf("new message: %s", e.Data)
//	})
//	_ = client.Connect()
//	_ = sub.Subscribe()
package centrifuge
