package centrifuge

// Codes reported in ConnectingEvent when the client moves to the
// connecting state.
const (
	ConnectingCodeConnectCalled    uint32 = 0
	ConnectingCodeTransportClosed  uint32 = 1
	ConnectingCodeNoPing           uint32 = 2
	ConnectingCodeSubscribeTimeout uint32 = 3
	ConnectingCodeUnsubscribeError uint32 = 4
)

// Codes reported in DisconnectedEvent for client-generated disconnects.
// Server-generated disconnects carry the server's own code instead.
const (
	DisconnectedCodeDisconnectCalled uint32 = 0
	DisconnectedCodeUnauthorized     uint32 = 1
	DisconnectedCodeBadProtocol      uint32 = 2
	DisconnectedCodeMessageSizeLimit uint32 = 3
)

// Codes reported in SubscribingEvent.
const (
	SubscribingCodeSubscribeCalled uint32 = 0
	SubscribingCodeTransportClosed uint32 = 1
)

// Codes reported in UnsubscribedEvent for client-generated unsubscribes.
const (
	UnsubscribedCodeUnsubscribeCalled uint32 = 0
	UnsubscribedCodeUnauthorized      uint32 = 1
	UnsubscribedCodeClientClosed      uint32 = 2
)

// Client-side error codes carried by ErrorEvent and
// SubscriptionErrorEvent.
const (
	ErrorCodeTimeout                    uint32 = 1
	ErrorCodeTransportClosed            uint32 = 2
	ErrorCodeClientDisconnected         uint32 = 3
	ErrorCodeClientConnectToken         uint32 = 4
	ErrorCodeClientRefreshToken         uint32 = 5
	ErrorCodeConnectReplyError          uint32 = 6
	ErrorCodeSubscribeReplyError        uint32 = 7
	ErrorCodeSubscriptionSubscribeToken uint32 = 8
	ErrorCodeSubscriptionRefreshToken   uint32 = 9
)

// codeTokenExpired is the server error code signalling an expired token on
// connect or subscribe replies.
const codeTokenExpired uint32 = 109

func isTokenExpired(code uint32) bool {
	return code == codeTokenExpired
}

// Websocket close code meaning the peer rejected an oversized message.
const closeCodeMessageTooBig = 1009

const (
	reasonConnectCalled     = "connect called"
	reasonDisconnectCalled  = "disconnect called"
	reasonTransportClosed   = "transport closed"
	reasonNoPing            = "no ping"
	reasonUnsubscribeError  = "unsubscribe error"
	reasonUnauthorized      = "unauthorized"
	reasonMessageSizeLimit  = "message size limit"
	reasonSubscribeCalled   = "subscribe called"
	reasonUnsubscribeCalled = "unsubscribe called"
)

// reconnectableCode reports whether a server disconnect code allows
// automatic reconnection: [3500, 4000) and [4500, 5000) are advisory
// "temporary" ranges, everything else at or above 3000 is terminal.
func reconnectableCode(code uint32) bool {
	return (code >= 3500 && code < 4000) || (code >= 4500 && code < 5000)
}

// resubscribableCode reports whether a server unsubscribe code allows
// automatic resubscription. Codes below 2500 are terminal.
func resubscribableCode(code uint32) bool {
	return code >= 2500
}
