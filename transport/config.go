package transport

import "crypto/tls"

// congestionAlgorithm selects which congestionController implementation a
// connection's loss recovery state uses.
type congestionAlgorithm int

const (
	CongestionControlReno congestionAlgorithm = iota
	CongestionControlCubic
)

// Config carries everything needed to construct a Conn: the QUIC version,
// the local transport parameters to advertise, the TLS configuration
// backing the handshake, and the congestion control algorithm to run.
type Config struct {
	Version uint32

	// TLS is passed to crypto/tls's QUICClient/QUICServer. MinVersion is
	// forced to TLS 1.3 by this package regardless of what is set here,
	// since QUIC requires it (RFC 9001 §4).
	TLS *tls.Config

	Params Parameters

	CongestionControl congestionAlgorithm
}

// NewConfig returns a Config for QUIC version 1 with DefaultParameters,
// NewReno and tlsConfig as its TLS configuration.
func NewConfig(tlsConfig *tls.Config) *Config {
	return &Config{
		Version: versionQUIC1,
		TLS:     tlsConfig,
		Params:  DefaultParameters(),
	}
}

func (c *Config) newCongestionController() congestionController {
	switch c.CongestionControl {
	case CongestionControlCubic:
		return newCubic()
	default:
		return newNewReno()
	}
}
