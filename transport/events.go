package transport

// EventType identifies what changed on a connection since the caller last
// asked (§5, the poll-style external interface).
type EventType int

const (
	// EventStream fires when a stream has newly readable data, has been
	// reset by the peer, or the peer asked us to stop sending on it.
	EventStream EventType = iota
	// EventStreamComplete fires once a stream's send half has every byte
	// (including FIN) acknowledged. The receive half is not considered.
	EventStreamComplete
	// EventHandshakeComplete fires when the handshake completes.
	EventHandshakeComplete
	// EventNewConnectionID fires when a peer NEW_CONNECTION_ID frame has
	// delivered a CID that can be used for migration.
	EventNewConnectionID
)

// Event is a side effect the connection state machine produced while
// processing received data or timers, delivered to the application via
// Conn.Events (§5).
type Event struct {
	Type     EventType
	StreamID uint64

	// Stream-related detail.
	Readable bool
	Reset    bool
	Stop     bool
	ErrorCode uint64
}

func newStreamRecvEvent(id uint64) Event {
	return Event{Type: EventStream, StreamID: id, Readable: true}
}

func newStreamResetEvent(id uint64, code uint64) Event {
	return Event{Type: EventStream, StreamID: id, Reset: true, ErrorCode: code}
}

func newStreamStopEvent(id uint64, code uint64) Event {
	return Event{Type: EventStream, StreamID: id, Stop: true, ErrorCode: code}
}

func newStreamCompleteEvent(id uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: id}
}
