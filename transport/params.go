package transport

import "time"

// Transport parameter codepoints (RFC 9000 §18.2).
const (
	paramOriginalDestinationCID         = 0x00
	paramMaxIdleTimeout                 = 0x01
	paramStatelessResetToken            = 0x02
	paramMaxUDPPayloadSize              = 0x03
	paramInitialMaxData                 = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni        = 0x07
	paramInitialMaxStreamsBidi          = 0x08
	paramInitialMaxStreamsUni           = 0x09
	paramAckDelayExponent               = 0x0a
	paramMaxAckDelay                    = 0x0b
	paramDisableActiveMigration         = 0x0c
	paramActiveConnectionIDLimit        = 0x0e
	paramInitialSourceCID               = 0x0f
	paramRetrySourceCID                 = 0x10
)

// tlsExtensionQUICTransportParameters is the TLS extension codepoint
// carrying the encoded Parameters (RFC 9001 §8.2).
const tlsExtensionQUICTransportParameters = 0x39

// Parameters holds the QUIC transport parameters exchanged during the
// handshake (RFC 9000 §18).
type Parameters struct {
	OriginalDestinationCID []byte
	MaxIdleTimeout         time.Duration
	StatelessResetToken    []byte
	MaxUDPPayloadSize      uint64
	InitialMaxData         uint64

	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64

	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64

	AckDelayExponent uint64
	MaxAckDelay      time.Duration

	DisableActiveMigration bool
	ActiveConnectionIDLimit uint64

	InitialSourceCID []byte
	RetrySourceCID   []byte
}

// DefaultParameters returns the transport parameters this implementation
// advertises absent caller overrides.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIdleTimeout:          30 * time.Second,
		MaxUDPPayloadSize:       MaxPacketSize,
		InitialMaxData:          1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 18,
		InitialMaxStreamDataBidiRemote: 1 << 18,
		InitialMaxStreamDataUni:        1 << 18,
		InitialMaxStreamsBidi:   100,
		InitialMaxStreamsUni:    100,
		AckDelayExponent:        3,
		MaxAckDelay:             25 * time.Millisecond,
		ActiveConnectionIDLimit: 4,
	}
}

func appendParam(b []byte, id uint64, value []byte) []byte {
	b = appendVarint(b, id)
	b = appendVarint(b, uint64(len(value)))
	return append(b, value...)
}

func appendVarintParam(b []byte, id, value uint64) []byte {
	var tmp [8]byte
	n := putVarint(tmp[:], value)
	return appendParam(b, id, tmp[:n])
}

// Marshal encodes the parameters into the TLS transport-parameters
// extension wire format.
func (p *Parameters) Marshal() []byte {
	b := make([]byte, 0, 256)
	if len(p.OriginalDestinationCID) > 0 {
		b = appendParam(b, paramOriginalDestinationCID, p.OriginalDestinationCID)
	}
	if p.MaxIdleTimeout > 0 {
		b = appendVarintParam(b, paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	if len(p.StatelessResetToken) > 0 {
		b = appendParam(b, paramStatelessResetToken, p.StatelessResetToken)
	}
	if p.MaxUDPPayloadSize > 0 {
		b = appendVarintParam(b, paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	b = appendVarintParam(b, paramInitialMaxData, p.InitialMaxData)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	b = appendVarintParam(b, paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	b = appendVarintParam(b, paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	b = appendVarintParam(b, paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent > 0 {
		b = appendVarintParam(b, paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay > 0 {
		b = appendVarintParam(b, paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	}
	if p.DisableActiveMigration {
		b = appendParam(b, paramDisableActiveMigration, nil)
	}
	b = appendVarintParam(b, paramActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	if len(p.InitialSourceCID) > 0 || p.InitialSourceCID != nil {
		b = appendParam(b, paramInitialSourceCID, p.InitialSourceCID)
	}
	if len(p.RetrySourceCID) > 0 {
		b = appendParam(b, paramRetrySourceCID, p.RetrySourceCID)
	}
	return b
}

// Unmarshal decodes the TLS transport-parameters extension wire format
// into p. Unknown parameter IDs (the 31-bit-reserved "greased" range and
// anything else unrecognized) are silently ignored per RFC 9000 §7.4.1.
func (p *Parameters) Unmarshal(b []byte) error {
	for len(b) > 0 {
		var id, length uint64
		n := getVarint(b, &id)
		if n == 0 {
			return newError(TransportParameterError, "param id")
		}
		b = b[n:]
		n = getVarint(b, &length)
		if n == 0 {
			return newError(TransportParameterError, "param length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return newError(TransportParameterError, "param value")
		}
		v := b[:length]
		b = b[length:]
		switch id {
		case paramOriginalDestinationCID:
			p.OriginalDestinationCID = append([]byte{}, v...)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeout = time.Duration(decodeVarintParam(v)) * time.Millisecond
		case paramStatelessResetToken:
			if len(v) != 16 {
				return newError(TransportParameterError, "reset token length")
			}
			p.StatelessResetToken = append([]byte{}, v...)
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = decodeVarintParam(v)
		case paramInitialMaxData:
			p.InitialMaxData = decodeVarintParam(v)
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = decodeVarintParam(v)
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = decodeVarintParam(v)
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = decodeVarintParam(v)
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = decodeVarintParam(v)
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = decodeVarintParam(v)
		case paramAckDelayExponent:
			p.AckDelayExponent = decodeVarintParam(v)
		case paramMaxAckDelay:
			p.MaxAckDelay = time.Duration(decodeVarintParam(v)) * time.Millisecond
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		case paramActiveConnectionIDLimit:
			p.ActiveConnectionIDLimit = decodeVarintParam(v)
		case paramInitialSourceCID:
			p.InitialSourceCID = append([]byte{}, v...)
		case paramRetrySourceCID:
			p.RetrySourceCID = append([]byte{}, v...)
		default:
			// Unknown/greased parameter: ignore.
		}
	}
	if p.ActiveConnectionIDLimit != 0 && p.ActiveConnectionIDLimit < 2 {
		return newError(TransportParameterError, "active_connection_id_limit")
	}
	return nil
}

func decodeVarintParam(b []byte) uint64 {
	var v uint64
	getVarint(b, &v)
	return v
}
