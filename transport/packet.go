package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// MaxCIDLength is the maximum length of a connection ID (RFC 9000 §17.2).
const MaxCIDLength = 20

// MinInitialPacketSize is the minimum size of a client's first Initial
// packet, including UDP datagram padding (RFC 9000 §14.1).
const MinInitialPacketSize = 1200

// MaxPacketSize is the largest packet this implementation will ever build.
const MaxPacketSize = 1452

// minPayloadLength is the minimum protected payload length so that the
// packet number and the HP sample always fit (4-byte PN + 16-byte sample).
const minPayloadLength = 20

// packetSpace identifies one of the three independent packet number spaces.
type packetSpace int

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

// packetType is the long-header packet type, or packetTypeShort for 1-RTT.
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0-RTT"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "short"
	default:
		return "unknown"
	}
}

func packetTypeFromSpace(s packetSpace) packetType {
	switch s {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

func packetSpaceFromType(t packetType) packetSpace {
	switch t {
	case packetTypeInitial:
		return packetSpaceInitial
	case packetTypeHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

const longHeaderForm = 0x80

// long-header type bits (RFC 9000 §17.2), shifted into the low type bits.
const (
	longTypeInitial   = 0x00
	longTypeZeroRTT   = 0x01
	longTypeHandshake = 0x02
	longTypeRetry     = 0x03
)

// packetHeader holds decoded header fields, valid for both long and short
// headers. dcil is the expected length of a short-header DCID (the local
// SCID length), needed because short headers omit an explicit CID length.
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8
}

// packet is a decoded (but not yet decrypted, for received packets) QUIC
// packet. It is reused for encoding outbound packets.
type packet struct {
	typ    packetType
	header packetHeader

	packetNumber    uint64
	packetNumberLen int
	payloadLen      int // Length field (long header) / remaining buffer (short header)
	headerLen       int // Length of header as decoded/encoded, excluding PN

	token             []byte // Initial token (client) or Retry token
	supportedVersions []uint32

	keyPhase byte
}

func (p *packet) String() string {
	return sprint(p.typ, " dcid=", p.header.dcid, " scid=", p.header.scid, " pn=", p.packetNumber)
}

// PeekDestinationCID extracts the destination connection ID from a raw
// datagram without fully decoding or decrypting it, so an endpoint serving
// many connections over one socket can route the datagram to the right
// Conn before touching any per-connection state. dcidLen must match the
// length of connection IDs this endpoint hands out, since short-header
// packets (the common case once a connection is established) don't carry
// an explicit CID length.
func PeekDestinationCID(b []byte, dcidLen int) ([]byte, error) {
	var p packet
	p.header.dcil = uint8(dcidLen)
	if _, err := p.decodeHeader(b); err != nil {
		return nil, err
	}
	return p.header.dcid, nil
}

// decodeHeader parses enough of the packet to identify its type and CIDs,
// without requiring decryption. Returns the number of bytes consumed by the
// unprotected portion of the header (not including a variable-length PN,
// which is protected).
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "short packet")
	}
	first := b[0]
	if first&longHeaderForm == 0 {
		// Short header: 1 flag byte + DCID (fixed length) + protected PN.
		if len(b) < 1+int(p.header.dcil) {
			return 0, newError(FrameEncodingError, "short header too small")
		}
		p.typ = packetTypeShort
		p.header.dcid = append(p.header.dcid[:0], b[1:1+int(p.header.dcil)]...)
		p.headerLen = 1 + int(p.header.dcil)
		p.keyPhase = (first >> 2) & 0x1
		return p.headerLen, nil
	}
	if len(b) < 7 {
		return 0, newError(FrameEncodingError, "long header too small")
	}
	version := binary.BigEndian.Uint32(b[1:5])
	off := 5
	dcidLen := int(b[off])
	off++
	if len(b) < off+dcidLen+1 {
		return 0, newError(FrameEncodingError, "long header cid")
	}
	dcid := b[off : off+dcidLen]
	off += dcidLen
	scidLen := int(b[off])
	off++
	if len(b) < off+scidLen {
		return 0, newError(FrameEncodingError, "long header cid")
	}
	scid := b[off : off+scidLen]
	off += scidLen

	p.header.version = version
	p.header.dcid = append(p.header.dcid[:0], dcid...)
	p.header.scid = append(p.header.scid[:0], scid...)

	if version == 0 {
		p.typ = packetTypeVersionNegotiation
		p.headerLen = off
		return off, nil
	}
	switch (first >> 4) & 0x3 {
	case longTypeInitial:
		p.typ = packetTypeInitial
	case longTypeZeroRTT:
		p.typ = packetTypeZeroRTT
	case longTypeHandshake:
		p.typ = packetTypeHandshake
	case longTypeRetry:
		p.typ = packetTypeRetry
	}
	p.keyPhase = 0

	if p.typ == packetTypeRetry {
		p.headerLen = off
		return off, nil
	}

	if p.typ == packetTypeInitial {
		var tokenLen uint64
		n := getVarint(b[off:], &tokenLen)
		if n == 0 {
			return 0, newError(FrameEncodingError, "initial token length")
		}
		off += n
		if uint64(len(b)) < uint64(off)+tokenLen {
			return 0, newError(FrameEncodingError, "initial token")
		}
		p.token = append(p.token[:0], b[off:off+int(tokenLen)]...)
		off += int(tokenLen)
	}

	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "packet length")
	}
	off += n
	p.payloadLen = int(length)
	p.headerLen = off
	return off, nil
}

// decodeBody decodes the remainder of packetTypeVersionNegotiation and
// packetTypeRetry packets, which carry no AEAD-protected payload.
func (p *packet) decodeBody(b []byte) (int, error) {
	off := p.headerLen
	switch p.typ {
	case packetTypeVersionNegotiation:
		p.supportedVersions = p.supportedVersions[:0]
		for off+4 <= len(b) {
			p.supportedVersions = append(p.supportedVersions, binary.BigEndian.Uint32(b[off:off+4]))
			off += 4
		}
		return off - p.headerLen, nil
	case packetTypeRetry:
		// Retry token occupies everything up to the final 16-byte
		// integrity tag.
		if len(b)-off < retryIntegrityTagLen {
			return 0, newError(FrameEncodingError, "retry too short")
		}
		p.token = append(p.token[:0], b[off:len(b)-retryIntegrityTagLen]...)
		return len(b) - p.headerLen, nil
	default:
		return 0, newError(InternalError, "decodeBody on non-special packet")
	}
}

// encodedLen returns the number of bytes required for the unprotected
// header plus the packet number (but not the AEAD overhead, which the
// caller adds separately).
func (p *packet) encodedLen() int {
	switch p.typ {
	case packetTypeShort:
		return 1 + len(p.header.dcid) + p.pnLen()
	default:
		n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
		if p.typ == packetTypeInitial {
			n += varIntLen(uint64(len(p.token))) + len(p.token)
		}
		n += varIntLen(uint64(p.payloadLen)) // Length field
		n += p.pnLen()
		return n
	}
}

func (p *packet) pnLen() int {
	if p.packetNumberLen == 0 {
		return 4
	}
	return p.packetNumberLen
}

// encode writes the full (unprotected) header and the packet number
// (pnLen bytes, 4 unless packetNumberLen is set) for an outbound packet,
// records headerLen and packetNumberLen for sealPacket, and returns the
// offset at which payload bytes start.
func (p *packet) encode(b []byte) (int, error) {
	pnLen := p.pnLen()
	p.packetNumberLen = pnLen
	switch p.typ {
	case packetTypeShort:
		if len(b) < 1+len(p.header.dcid)+pnLen {
			return 0, errShortBuffer
		}
		b[0] = 0x40 | byte(p.keyPhase<<2) | byte(pnLen-1)
		off := 1
		off += copy(b[off:], p.header.dcid)
		p.headerLen = off
		off += encodePacketNumber(b[off:], p.packetNumber, pnLen)
		return off, nil
	default:
		first := longHeaderForm | 0x40 | byte(pnLen-1)
		switch p.typ {
		case packetTypeInitial:
			first |= longTypeInitial << 4
		case packetTypeZeroRTT:
			first |= longTypeZeroRTT << 4
		case packetTypeHandshake:
			first |= longTypeHandshake << 4
		}
		if len(b) < p.encodedLen() {
			return 0, errShortBuffer
		}
		off := 0
		b[off] = first
		off++
		binary.BigEndian.PutUint32(b[off:], p.header.version)
		off += 4
		b[off] = byte(len(p.header.dcid))
		off++
		off += copy(b[off:], p.header.dcid)
		b[off] = byte(len(p.header.scid))
		off++
		off += copy(b[off:], p.header.scid)
		if p.typ == packetTypeInitial {
			off = int(appendVarintAt(b, off, uint64(len(p.token))))
			off += copy(b[off:], p.token)
		}
		off = int(appendVarintAt(b, off, uint64(p.payloadLen)))
		p.headerLen = off
		off += encodePacketNumber(b[off:], p.packetNumber, pnLen)
		return off, nil
	}
}

func appendVarintAt(b []byte, off int, v uint64) int {
	n := putVarint(b[off:], v)
	return off + n
}

func encodePacketNumber(b []byte, pn uint64, length int) int {
	for i := 0; i < length; i++ {
		b[length-1-i] = byte(pn >> (8 * i))
	}
	return length
}

// decodePacketNumber reconstructs the full packet number from its truncated
// on-wire form using the largest packet number seen in the same space
// (RFC 9000 Appendix A).
func decodePacketNumber(largest uint64, truncated uint64, length int) uint64 {
	pnBits := uint(length * 8)
	expected := largest + 1
	win := uint64(1) << pnBits
	half := win / 2
	candidate := (expected &^ (win - 1)) | truncated
	switch {
	case candidate+half <= expected && candidate < (uint64(1)<<62)-win:
		return candidate + win
	case candidate > expected+half && candidate >= win:
		return candidate - win
	default:
		return candidate
	}
}

// encodeVersionNegotiation writes a Version Negotiation packet listing
// versions (plus a reserved grease version) in response to dcid/scid taken
// from the triggering packet.
func encodeVersionNegotiation(b []byte, dcid, scid []byte, versions []uint32) (int, error) {
	if len(b) < 7+len(dcid)+len(scid)+4*(len(versions)+1) {
		return 0, errShortBuffer
	}
	off := 0
	b[off] = longHeaderForm | 0x7f // Reserved bits set to exercise client tolerance.
	off++
	binary.BigEndian.PutUint32(b[off:], 0)
	off += 4
	b[off] = byte(len(dcid))
	off++
	off += copy(b[off:], dcid)
	b[off] = byte(len(scid))
	off++
	off += copy(b[off:], scid)
	binary.BigEndian.PutUint32(b[off:], greaseVersion)
	off += 4
	for _, v := range versions {
		binary.BigEndian.PutUint32(b[off:], v)
		off += 4
	}
	return off, nil
}

const greaseVersion = 0x1a2a3a4a

func versionSupported(v uint32) bool {
	return v == versionQUIC1
}

const versionQUIC1 = 0x00000001

const retryIntegrityTagLen = 16

// retryIntegrityKey/Nonce are the fixed AEAD_AES_128_GCM key/nonce used to
// authenticate Retry packets (RFC 9001 §5.8, version 1 values).
var (
	retryIntegrityKey   = [16]byte{0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a, 0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e}
	retryIntegrityNonce = [12]byte{0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2, 0x23, 0x98, 0x25, 0xbb}
)

// retryPseudoPacket builds the pseudo-packet used to compute/verify the
// Retry integrity tag: a length-prefixed ODCID followed by the Retry
// packet's header and token (everything in b except the trailing tag).
func retryPseudoPacket(odcid []byte, retryPacket []byte) []byte {
	out := make([]byte, 0, 1+len(odcid)+len(retryPacket))
	out = append(out, byte(len(odcid)))
	out = append(out, odcid...)
	out = append(out, retryPacket...)
	return out
}

func sealRetryIntegrityTag(odcid []byte, retryPacketWithoutTag []byte) ([]byte, error) {
	block, err := aes.NewCipher(retryIntegrityKey[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pseudo := retryPseudoPacket(odcid, retryPacketWithoutTag)
	return aead.Seal(nil, retryIntegrityNonce[:], nil, pseudo), nil
}

// verifyRetryIntegrity checks the 16-byte tag at the end of a received
// Retry datagram b against the original destination CID odcid used before
// the Retry.
func verifyRetryIntegrity(b []byte, odcid []byte) bool {
	if len(b) < retryIntegrityTagLen {
		return false
	}
	body := b[:len(b)-retryIntegrityTagLen]
	tag := b[len(b)-retryIntegrityTagLen:]
	want, err := sealRetryIntegrityTag(odcid, body)
	if err != nil {
		return false
	}
	if len(want) != len(tag) {
		return false
	}
	var diff byte
	for i := range tag {
		diff |= tag[i] ^ want[i]
	}
	return diff == 0
}
