package quic

import (
	"crypto/tls"
	"time"

	"github.com/goburrow/quic/transport"
)

// Config configures a Client or Server: the transport-level parameters
// passed straight through to transport.Config, plus endpoint-level
// settings that only make sense once many connections share one socket.
type Config struct {
	transport.Config

	// MaxIdleConns bounds how many connections an endpoint keeps state
	// for concurrently; beyond that, new incoming connection attempts are
	// refused. 0 means unbounded.
	MaxIdleConns int

	// HandshakeTimeout is carried in the Config but not read by the
	// endpoint: unestablished connections are not reaped on a deadline.
	HandshakeTimeout time.Duration
}

// NewConfig returns a Config built from transport.NewConfig(tlsConfig)
// (QUIC version 1, DefaultParameters, NewReno) with a 10-second
// HandshakeTimeout.
func NewConfig(tlsConfig *tls.Config) *Config {
	return &Config{
		Config:           *transport.NewConfig(tlsConfig),
		HandshakeTimeout: 10 * time.Second,
	}
}
