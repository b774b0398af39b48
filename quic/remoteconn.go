package quic

import (
	"net"
	"time"

	"github.com/goburrow/quic/transport"
)

// remoteConn is the endpoint's bookkeeping for one transport.Conn: enough
// to route datagrams to it, drive its timers, and hand it to a Handler as
// a Conn.
type remoteConn struct {
	scid []byte
	addr net.Addr

	conn *transport.Conn

	localAddr net.Addr

	// established latches true the first time transport reports the
	// handshake complete, so the endpoint only emits EventConnAccept once.
	established bool

	// lastActive is bumped on every datagram the endpoint routes to this
	// connection, independent of transport's own idle timer. It is only
	// recorded; the endpoint does not read it.
	lastActive time.Time
}

func newRemoteConn(scid []byte, addr, localAddr net.Addr, conn *transport.Conn) *remoteConn {
	return &remoteConn{
		scid:      scid,
		addr:      addr,
		localAddr: localAddr,
		conn:      conn,
	}
}

func (c *remoteConn) Stream(id uint64) Stream {
	st, err := c.conn.Stream(id)
	if err != nil {
		return nil
	}
	return st
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.addr }
func (c *remoteConn) LocalAddr() net.Addr  { return c.localAddr }

func (c *remoteConn) Close(code uint64, reason string) error {
	c.conn.Close(true, code, reason)
	return nil
}
