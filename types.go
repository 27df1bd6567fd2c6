package centrifuge

// StreamPosition is an (offset, epoch) pair identifying a point in a
// channel's history stream.
type StreamPosition struct {
	Offset uint64
	Epoch  string
}

// ClientInfo describes the connection behind a publication or presence
// entry.
type ClientInfo struct {
	Client   string
	User     string
	ConnInfo []byte
	ChanInfo []byte
}

// Publication is a message published into a channel.
type Publication struct {
	Offset uint64
	Data   []byte
	Info   *ClientInfo
}

// PublishResult is returned from a successful publish operation.
type PublishResult struct{}

// HistoryOptions configure a history request.
type HistoryOptions struct {
	// Limit caps the number of publications returned. Zero asks for
	// position information only.
	Limit int32
	// Since asks for publications after the given stream position.
	Since *StreamPosition
	// Reverse iterates from the latest publication backwards.
	Reverse bool
}

// HistoryResult holds publications and the current stream position of a
// channel.
type HistoryResult struct {
	Publications []Publication
	Offset       uint64
	Epoch        string
}

// PresenceResult holds the active connections in a channel, keyed by
// connection id.
type PresenceResult struct {
	Clients map[string]ClientInfo
}

// PresenceStatsResult holds short presence counters for a channel.
type PresenceStatsResult struct {
	NumClients uint32
	NumUsers   uint32
}

// RPCResult holds data returned by a server-side RPC handler.
type RPCResult struct {
	Data []byte
}
