package quic

import (
	"encoding/hex"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goburrow/quic/transport"
)

// localCIDLength is the length of every connection ID this package hands
// out. Fixed so PeekDestinationCID can route short-header packets without
// first looking anything up.
const localCIDLength = 12 // len(xid.ID{})

// endpoint is the logic shared by Client and Server: one UDP socket
// multiplexing many transport.Conn, driven by a single read loop plus a
// periodic timer sweep.
type endpoint struct {
	config  *Config
	handler Handler
	logger  logger
	metrics *metrics

	socket *net.UDPConn

	// serverMode reports whether this endpoint accepts new incoming
	// connections (Server) or only ever dials out (Client).
	serverMode bool

	mu    sync.Mutex
	conns map[string]*remoteConn // keyed by hex(scid)

	closed   chan struct{}
	closeErr error
}

func newEndpoint(config *Config, namespace string, serverMode bool) *endpoint {
	return &endpoint{
		config:     config,
		serverMode: serverMode,
		conns:      make(map[string]*remoteConn),
		metrics:    newMetrics(namespace),
		closed:     make(chan struct{}),
	}
}

func (e *endpoint) setHandler(h Handler) { e.handler = h }

func (e *endpoint) setLogger(level int, w io.Writer) {
	e.logger.level = logLevel(level)
	e.logger.setWriter(w)
}

// listen opens the UDP socket and starts the read loop. addr may be empty
// for an ephemeral client-side port.
func (e *endpoint) listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	socket, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	if err := tuneUDPConn(socket); err != nil {
		logrus.WithError(err).Debug("could not tune udp socket buffers")
	}
	e.socket = socket
	go e.recvLoop()
	go e.timerLoop()
	return nil
}

func (e *endpoint) localAddr() net.Addr {
	if e.socket == nil {
		return nil
	}
	return e.socket.LocalAddr()
}

func (e *endpoint) recvLoop() {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, addr, err := e.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			logrus.WithError(err).Debug("udp read error")
			return
		}
		e.metrics.packetsRecv.Inc()
		e.metrics.bytesRecv.Add(float64(n))
		e.handleDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

// handleDatagram routes one datagram to its connection, creating a new
// server-side connection on demand, then drives that connection forward
// and flushes anything it now wants to send.
func (e *endpoint) handleDatagram(b []byte, addr net.Addr) {
	dcid, err := transport.PeekDestinationCID(b, localCIDLength)
	if err != nil {
		e.metrics.packetsDropped.Inc()
		return
	}
	rc := e.lookup(dcid)
	if rc == nil {
		rc = e.accept(dcid, b, addr)
		if rc == nil {
			e.metrics.packetsDropped.Inc()
			return
		}
	}
	rc.lastActive = time.Now()
	if _, err := rc.conn.Write(b); err != nil {
		logrus.WithError(err).WithField("cid", hex.EncodeToString(rc.scid)).Debug("connection write error")
	}
	e.drive(rc)
}

// accept creates a new server-side connection for an unrecognized DCID.
// On a client it returns nil: client connections are registered by dial.
// It also returns nil once MaxIdleConns connections are registered.
func (e *endpoint) accept(dcid []byte, b []byte, addr net.Addr) *remoteConn {
	if !e.isServer() {
		return nil
	}
	if max := e.config.MaxIdleConns; max > 0 {
		e.mu.Lock()
		n := len(e.conns)
		e.mu.Unlock()
		if n >= max {
			return nil
		}
	}
	scid := newConnectionID()
	conn, err := transport.Accept(scid, dcid, &e.config.Config)
	if err != nil {
		logrus.WithError(err).Debug("accept failed")
		return nil
	}
	rc := newRemoteConn(scid, addr, e.localAddr(), conn)
	e.register(rc)
	e.logger.attachLogger(rc)
	e.metrics.connsAccepted.Inc()
	e.metrics.connsActive.Inc()
	return rc
}

func (e *endpoint) isServer() bool { return e.serverMode }

// drive pumps one connection: flush outgoing packets, deliver events to the
// handler, and tear down state once the connection fully closes.
func (e *endpoint) drive(rc *remoteConn) {
	e.flush(rc)

	e.metrics.congestionWindow.Set(float64(rc.conn.CongestionWindow()))
	e.metrics.bytesInFlight.Set(float64(rc.conn.BytesInFlight()))
	e.metrics.smoothedRTT.Set(rc.conn.SmoothedRTT().Seconds())

	events := rc.conn.Events(nil)
	if len(events) > 0 || !rc.established {
		toDeliver := events
		if !rc.established && rc.conn.IsEstablished() {
			rc.established = true
			toDeliver = append([]transport.Event{{Type: EventConnAccept}}, toDeliver...)
			if d := rc.conn.HandshakeDuration(); d > 0 {
				e.metrics.handshakeDuration.Observe(d.Seconds())
			}
		}
		if e.handler != nil && len(toDeliver) > 0 {
			e.handler.Serve(rc, toDeliver)
		}
	}

	if rc.conn.IsClosed() {
		e.remove(rc)
		e.metrics.connsActive.Dec()
		e.metrics.connsClosed.Inc()
		if e.handler != nil {
			e.handler.Serve(rc, []transport.Event{{Type: EventConnClose}})
		}
		e.logger.detachLogger(rc)
	}
}

// flush drains every packet the connection currently wants to send.
func (e *endpoint) flush(rc *remoteConn) {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		n, err := rc.conn.Read(buf)
		if err != nil {
			logrus.WithError(err).Debug("connection read error")
			return
		}
		if n == 0 {
			return
		}
		if _, err := e.socket.WriteTo(buf[:n], rc.addr); err != nil {
			logrus.WithError(err).Debug("udp write error")
			return
		}
		e.metrics.packetsSent.Inc()
		e.metrics.bytesSent.Add(float64(n))
	}
}

// timerLoop periodically checks every connection's idle/loss-recovery
// timeout, since those fire independently of any datagram arriving.
func (e *endpoint) timerLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			for _, rc := range e.snapshot() {
				if rc.conn.Timeout() == 0 {
					// An empty Write runs the connection's timeout checks.
					_, _ = rc.conn.Write(nil)
					e.drive(rc)
				}
			}
		}
	}
}

func (e *endpoint) lookup(scid []byte) *remoteConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[hex.EncodeToString(scid)]
}

func (e *endpoint) register(rc *remoteConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[hex.EncodeToString(rc.scid)] = rc
}

func (e *endpoint) remove(rc *remoteConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, hex.EncodeToString(rc.scid))
}

func (e *endpoint) snapshot() []*remoteConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*remoteConn, 0, len(e.conns))
	for _, rc := range e.conns {
		out = append(out, rc)
	}
	return out
}

func (e *endpoint) close() error {
	select {
	case <-e.closed:
		return e.closeErr
	default:
	}
	close(e.closed)
	if e.socket != nil {
		e.closeErr = e.socket.Close()
	}
	return e.closeErr
}
