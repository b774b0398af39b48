package transport

import "time"

// cryptoStream is a CRYPTO frame's reliable byte stream: no flow control,
// no FIN, shared loss-recovery and retransmit-on-loss machinery with a
// regular Stream (§4.3, §4.5).
type cryptoStream struct {
	recv recvBuffer
	send sendBuffer
}

func (c *cryptoStream) pushRecv(data []byte, offset uint64, fin bool) error {
	return c.recv.push(data, offset, fin)
}

func (c *cryptoStream) popSend(left int) (data []byte, offset uint64, ok bool) {
	data, offset, _, ok = c.send.pop(left)
	return data, offset, ok
}

// keys bundles one direction's packet-protection AEAD and header-
// protection cipher at a given encryption level.
type keys struct {
	aead aeadSuite
	hp   headerProtection

	// secret and isChaCha are kept so a later key update can derive the
	// next generation from this one (RFC 9001 §6).
	secret   []byte
	isChaCha bool
}

// packetNumberSpace holds everything scoped to one of Initial, Handshake,
// or Application: packet number bookkeeping, ACK generation state, the
// CRYPTO reliable stream, and the installed keys (§4.2, §4.3).
type packetNumberSpace struct {
	nextPacketNumber uint64

	largestRecv           uint64
	largestRecvPacketTime time.Time
	recvPacketNeedAck     rangeSet
	ackElicited           bool
	firstPacketAcked      bool

	cryptoStream cryptoStream

	opener *keys
	sealer *keys

	dropped bool

	// Key update state (RFC 9001 §6), meaningful only for the Application
	// space: Initial/Handshake packets always carry key phase 0.
	keyPhase byte

	nextOpener *keys // Precomputed next generation, ready for a phase flip.
	nextSealer *keys
	prevOpener *keys // Previous generation, kept for reordered packets.

	// updatePending is set once a key update is promoted locally, and
	// cleared once a packet sent under the new phase is acknowledged; a
	// second update must not start while one is already outstanding.
	updatePending bool
	updateSincePN uint64
}

func (p *packetNumberSpace) init() {
	p.nextPacketNumber = 0
}

func (p *packetNumberSpace) reset() {
	*p = packetNumberSpace{}
}

func (p *packetNumberSpace) drop() {
	p.dropped = true
	p.opener = nil
	p.sealer = nil
	p.nextOpener = nil
	p.nextSealer = nil
	p.prevOpener = nil
}

func (p *packetNumberSpace) canDecrypt() bool { return !p.dropped && p.opener != nil }
func (p *packetNumberSpace) canEncrypt() bool { return !p.dropped && p.sealer != nil }

func (p *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return p.recvPacketNeedAck.contains(pn)
}

// onPacketReceived records a newly accepted packet number for both dedup
// and ACK-range generation.
func (p *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	p.recvPacketNeedAck.add(pn, pn)
	if pn > p.largestRecv || p.largestRecvPacketTime.IsZero() {
		p.largestRecv = pn
		p.largestRecvPacketTime = now
	}
}

// ready reports whether this space has anything worth sending a packet
// for: a pending ACK, CRYPTO data, or any registered ack-eliciting need.
func (p *packetNumberSpace) ready() bool {
	if p.dropped {
		return false
	}
	if p.ackElicited {
		return true
	}
	return p.cryptoStream.send.ready()
}

// decryptPacket removes header protection and opens the AEAD payload of a
// received packet, returning the decrypted payload and total consumed
// length (header + payload + tag). The current generation is tried first;
// if it fails, the precomputed next generation (a peer-initiated key
// update) and then the retained previous generation (a reordered packet
// from before our own last update) are tried, per RFC 9001 §6.1/§6.3. The
// decoded key phase bit is not consulted: decodeHeader reads it while the
// first byte is still header-protected.
func (p *packetNumberSpace) decryptPacket(b []byte, pkt *packet) ([]byte, int, error) {
	if p.opener == nil {
		return nil, 0, newError(InternalError, "no read keys installed")
	}
	plain, n, err := tryOpen(p.opener, b, pkt, p.largestRecv)
	if err == nil {
		return plain, n, nil
	}
	if p.nextOpener != nil {
		if plain, n, nerr := tryOpen(p.nextOpener, b, pkt, p.largestRecv); nerr == nil {
			p.updateKeys()
			return plain, n, nil
		}
	}
	if p.prevOpener != nil {
		if plain, n, perr := tryOpen(p.prevOpener, b, pkt, p.largestRecv); perr == nil {
			return plain, n, nil
		}
	}
	return nil, 0, err
}

// prepareNextKeys derives and caches the next generation of keys so a
// peer-initiated key update can be serviced without delay and a later local
// update has material ready (RFC 9001 §6).
func (p *packetNumberSpace) prepareNextKeys() error {
	if p.opener == nil || p.sealer == nil {
		return newError(InternalError, "keys not installed")
	}
	if p.nextOpener == nil {
		k, err := nextKeys(p.opener)
		if err != nil {
			return err
		}
		p.nextOpener = k
	}
	if p.nextSealer == nil {
		k, err := nextKeys(p.sealer)
		if err != nil {
			return err
		}
		p.nextSealer = k
	}
	return nil
}

// updateKeys promotes the precomputed next generation to current, flipping
// the phase bit used for subsequent sends.
func (p *packetNumberSpace) updateKeys() {
	p.prevOpener = p.opener
	p.opener = p.nextOpener
	p.sealer = p.nextSealer
	p.nextOpener = nil
	p.nextSealer = nil
	p.keyPhase ^= 1
	p.updatePending = true
	p.updateSincePN = p.nextPacketNumber
}

// encryptPacket applies AEAD protection and header protection to an
// already-serialized packet in place.
func (p *packetNumberSpace) encryptPacket(b []byte, pkt *packet) error {
	if p.sealer == nil {
		return newError(InternalError, "no write keys installed")
	}
	return sealPacket(p.sealer, b, pkt)
}
