package quic

import "github.com/goburrow/quic/transport"

// Endpoint-level events, reported through the same Handler.Serve callback
// as transport.Event so application code handles both in one switch. The
// values are chosen well above transport's own EventType range so the two
// never collide.
const (
	// EventConnAccept fires once for a new connection, client or server
	// side, right before its first batch of transport events is delivered.
	EventConnAccept transport.EventType = iota + 1000
	// EventConnClose fires once a connection has fully closed and its
	// endpoint-level state has been torn down. No further events follow.
	EventConnClose
)
