package quic

import (
	"io"
	"net"

	"github.com/goburrow/quic/transport"
)

// Client dials out to one or more QUIC servers over a single UDP socket.
type Client struct {
	endpoint *endpoint
}

// NewClient creates a Client using config. config.TLS should at minimum set
// ServerName or InsecureSkipVerify for the servers this Client will dial.
func NewClient(config *Config) *Client {
	return &Client{
		endpoint: newEndpoint(config, "quic_client", false),
	}
}

// SetHandler sets the callback invoked with events for every connection
// this Client drives.
func (c *Client) SetHandler(h Handler) {
	c.endpoint.setHandler(h)
}

// SetLogger enables per-transaction logging at level (see the logLevel
// constants) to w.
func (c *Client) SetLogger(level int, w io.Writer) {
	c.endpoint.setLogger(level, w)
}

// ListenAndServe opens the client's local UDP socket. addr may be empty to
// pick an ephemeral port. Must be called before Connect.
func (c *Client) ListenAndServe(addr string) error {
	return c.endpoint.listen(addr)
}

// Connect dials addr, returning once the initial packet has been sent; it
// does not block until the handshake completes. Handshake progress and
// completion arrive as events through the Handler set via SetHandler.
func (c *Client) Connect(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	scid := newConnectionID()
	tr, err := transport.Connect(scid, &c.endpoint.config.Config)
	if err != nil {
		return err
	}
	rc := newRemoteConn(scid, udpAddr, c.endpoint.localAddr(), tr)
	c.endpoint.register(rc)
	c.endpoint.logger.attachLogger(rc)
	c.endpoint.metrics.connsAccepted.Inc()
	c.endpoint.metrics.connsActive.Inc()
	c.endpoint.drive(rc)
	return nil
}

// Close shuts down the client's socket and every connection using it.
func (c *Client) Close() error {
	return c.endpoint.close()
}
