package quic

import (
	"io"
)

// Server accepts incoming QUIC connections on a single UDP socket.
type Server struct {
	endpoint *endpoint
}

// NewServer creates a Server using config. config.TLS must carry at least
// one certificate.
func NewServer(config *Config) *Server {
	return &Server{
		endpoint: newEndpoint(config, "quic_server", true),
	}
}

// SetHandler sets the callback invoked with events for every connection
// this Server accepts.
func (s *Server) SetHandler(h Handler) {
	s.endpoint.setHandler(h)
}

// SetLogger enables per-transaction logging at level (see the logLevel
// constants) to w.
func (s *Server) SetLogger(level int, w io.Writer) {
	s.endpoint.setLogger(level, w)
}

// ListenAndServe opens addr and starts accepting connections.
func (s *Server) ListenAndServe(addr string) error {
	return s.endpoint.listen(addr)
}

// Close shuts down the server's socket and every connection it accepted.
func (s *Server) Close() error {
	return s.endpoint.close()
}
