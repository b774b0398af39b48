package quic

import (
	"io"
	"net"

	"github.com/goburrow/quic/transport"
)

// Stream is an application-facing QUIC stream: ordered, reliable bytes in
// each direction, closed independently of the connection. *transport.Stream
// already implements this; it's named here so application code importing
// only this package never needs to know that.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	ID() uint64
}

// Conn is an established or establishing QUIC connection, bound to one
// remote address on the endpoint's shared socket.
type Conn interface {
	// Stream returns the named stream, opening it locally if it does not
	// already exist. Returns nil if the stream could not be opened (for
	// instance, a peer-initiated ID used before the peer ever mentioned
	// it, or the stream limit having been reached).
	Stream(id uint64) Stream

	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Close starts closing the connection, sending a CONNECTION_CLOSE with
	// the given application error code and reason.
	Close(code uint64, reason string) error
}

// Handler reacts to per-connection events as an endpoint drives its
// connections. Serve is called from whichever goroutine is driving the
// connection: the endpoint's receive loop, its timer sweep, or the
// Client's Connect call. Implementations that need to block should hand
// work off to their own goroutine rather than blocking here.
type Handler interface {
	Serve(c Conn, events []transport.Event)
}
