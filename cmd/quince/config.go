package main

import (
	"crypto/tls"

	"github.com/goburrow/quic"
)

// newConfig returns the Config shared by both the client and server
// subcommands, with QUIC's required ALPN set to "quince" via NextProtos.
func newConfig() *quic.Config {
	tlsConfig := &tls.Config{
		NextProtos: []string{"quince"},
	}
	return quic.NewConfig(tlsConfig)
}
