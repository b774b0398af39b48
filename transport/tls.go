package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"
)

// side identifies whether a connection is acting as the TLS client or
// server for the handshake (which in QUIC is independent of which side
// initiated the connection only in theory; in practice they coincide).
type side int

const (
	sideClient side = iota
	sideServer
)

// handshakeState drives the crypto/tls QUICConn handshake and fans its
// events out into packet-number-space keys and CRYPTO stream data,
// mirroring the way the standard library's own QUIC implementation
// drives the same API.
type handshakeState struct {
	side side
	tls  *tls.QUICConn

	outCrypto [packetSpaceCount][]byte // Pending CRYPTO frame bytes per space, keyed by Initial/Handshake/Application.

	spaces *[packetSpaceCount]packetNumberSpace

	started       bool
	done          bool
	peerParams    Parameters
	gotPeerParams bool
}

func newHandshakeState(s side, tlsConfig *tls.Config) *handshakeState {
	h := &handshakeState{side: s}
	qconfig := &tls.QUICConfig{TLSConfig: forceTLS13(tlsConfig)}
	if s == sideClient {
		h.tls = tls.QUICClient(qconfig)
	} else {
		h.tls = tls.QUICServer(qconfig)
	}
	return h
}

// forceTLS13 returns a shallow copy of cfg with the version range pinned
// to TLS 1.3, since QUIC requires it (RFC 9001 §4).
func forceTLS13(cfg *tls.Config) *tls.Config {
	clone := cfg.Clone()
	if clone == nil {
		clone = &tls.Config{}
	}
	clone.MinVersion = tls.VersionTLS13
	clone.MaxVersion = tls.VersionTLS13
	return clone
}

// bindSpaces gives the handshake state somewhere to install derived keys as
// crypto/tls produces them. Conn calls this once right after construction.
func (h *handshakeState) bindSpaces(spaces *[packetSpaceCount]packetNumberSpace) {
	h.spaces = spaces
}

// setTransportParams installs the local transport parameters to send in
// the handshake. Must be called before start; crypto/tls locks in the
// extension payload once the handshake begins.
func (h *handshakeState) setTransportParams(p *Parameters) {
	h.tls.SetTransportParameters(p.Marshal())
}

// reset discards in-progress handshake state so a fresh attempt can begin,
// used after Version Negotiation or a Retry restarts the Initial exchange.
func (h *handshakeState) reset(s side, tlsConfig *tls.Config) {
	spaces := h.spaces
	*h = handshakeState{side: s, spaces: spaces}
	qconfig := &tls.QUICConfig{TLSConfig: forceTLS13(tlsConfig)}
	if s == sideClient {
		h.tls = tls.QUICClient(qconfig)
	} else {
		h.tls = tls.QUICServer(qconfig)
	}
}

// start begins the handshake, returning once crypto/tls has produced its
// first batch of events (usually ClientHello data at the Initial level).
func (h *handshakeState) start(now time.Time) error {
	if h.started {
		return nil
	}
	h.started = true
	if err := h.tls.Start(context.Background()); err != nil {
		return fmt.Errorf("transport: tls start: %w", err)
	}
	return h.drainEvents(now)
}

func levelToSpace(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

// drainEvents pumps crypto/tls's event queue until it reports no further
// progress is possible without more input.
func (h *handshakeState) drainEvents(now time.Time) error {
	for {
		e := h.tls.NextEvent()
		switch e.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			k, err := deriveKeys(e.Data, isChaChaSuite(e.Suite))
			if err != nil {
				return err
			}
			h.spaces[levelToSpace(e.Level)].opener = k
		case tls.QUICSetWriteSecret:
			k, err := deriveKeys(e.Data, isChaChaSuite(e.Suite))
			if err != nil {
				return err
			}
			h.spaces[levelToSpace(e.Level)].sealer = k
		case tls.QUICWriteData:
			space := levelToSpace(e.Level)
			h.outCrypto[space] = append(h.outCrypto[space], e.Data...)
		case tls.QUICHandshakeDone:
			h.done = true
		case tls.QUICTransportParameters:
			var params Parameters
			if err := params.Unmarshal(e.Data); err != nil {
				return fmt.Errorf("transport: peer transport parameters: %w", err)
			}
			h.peerParams = params
			h.gotPeerParams = true
		}
	}
}

// isChaChaSuite reports whether the negotiated cipher suite is
// ChaCha20-Poly1305 rather than one of the AES-GCM suites, which
// determines the header-protection algorithm (RFC 9001 §5.4).
func isChaChaSuite(suite uint16) bool {
	return suite == tls.TLS_CHACHA20_POLY1305_SHA256
}

// handleCryptoData feeds received CRYPTO frame bytes (already
// reassembled in order by the packet number space's crypto stream) into
// the handshake and drains any resulting events.
func (h *handshakeState) handleCryptoData(space packetSpace, data []byte, now time.Time) error {
	var level tls.QUICEncryptionLevel
	switch space {
	case packetSpaceInitial:
		level = tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		level = tls.QUICEncryptionLevelHandshake
	default:
		level = tls.QUICEncryptionLevelApplication
	}
	if err := h.tls.HandleData(level, data); err != nil {
		return fmt.Errorf("transport: tls handle data: %w", err)
	}
	return h.drainEvents(now)
}

// popCrypto drains and returns any pending outgoing CRYPTO bytes for the
// given packet number space, for the caller to push into its send buffer.
func (h *handshakeState) popCrypto(space packetSpace) []byte {
	data := h.outCrypto[space]
	h.outCrypto[space] = nil
	return data
}

func (h *handshakeState) handshakeComplete() bool { return h.done }

// peerTransportParams returns the peer's transport parameters once
// received, or nil before that.
func (h *handshakeState) peerTransportParams() *Parameters {
	if !h.gotPeerParams {
		return nil
	}
	return &h.peerParams
}

// writeSpace reports the latest packet number space with pending outgoing
// handshake data, used to pick a space for PTO probes once no space is
// otherwise ready to send.
func (h *handshakeState) writeSpace() packetSpace {
	for sp := packetSpaceApplication; sp >= packetSpaceInitial; sp-- {
		if len(h.outCrypto[sp]) > 0 {
			return sp
		}
	}
	return packetSpaceInitial
}

func (h *handshakeState) connectionState() tls.ConnectionState {
	return h.tls.ConnectionState()
}
