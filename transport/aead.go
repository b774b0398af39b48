package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// initialSaltV1 is the version 1 salt used to derive Initial secrets from
// the client's original Destination CID (RFC 9001 §5.2).
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// aeadSuite performs packet payload protection for one direction at one
// encryption level.
type aeadSuite struct {
	aead       cipher.AEAD
	iv         []byte
	packetsSealed uint64 // Confidentiality limit bookkeeping, checked on seal.
	limit      uint64

	authFailures   uint64 // Integrity limit bookkeeping, checked on failed open.
	integrityLimit uint64
}

// headerProtection masks the first byte and packet number field.
type headerProtection struct {
	isChaCha bool
	key      []byte
}

// keyUpdateLabel is the HKDF-Expand-Label used to derive the next
// generation's packet protection secret on a key update (RFC 9001 §6).
const keyUpdateLabel = "quic ku"

func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	// TLS 1.3 HkdfLabel: uint16 length, length-prefixed label "tls13 "+label,
	// length-prefixed (empty) context.
	full := "tls13 " + label
	info := make([]byte, 0, 2+1+len(full)+1)
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, 0)
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, info)
	if _, err := r.Read(out); err != nil {
		panic(err) // hkdf.Expand only fails if length is unreasonably large
	}
	return out
}

// deriveInitialSecrets computes the client and server Initial secrets from
// the original Destination CID (RFC 9001 §5.2).
func deriveInitialSecrets(dcid []byte) (clientSecret, serverSecret []byte) {
	initial := hkdf.Extract(sha256.New, dcid, initialSaltV1)
	clientSecret = hkdfExpandLabel(initial, "client in", sha256.Size)
	serverSecret = hkdfExpandLabel(initial, "server in", sha256.Size)
	return clientSecret, serverSecret
}

// updateTrafficSecret derives the next generation's traffic secret from the
// current one for a key update (RFC 9001 §6).
func updateTrafficSecret(secret []byte) []byte {
	return hkdfExpandLabel(secret, keyUpdateLabel, len(secret))
}

// nextKeys derives the next generation of k's keys ahead of a key update,
// from the same traffic secret chain (RFC 9001 §6).
func nextKeys(k *keys) (*keys, error) {
	return deriveKeys(updateTrafficSecret(k.secret), k.isChaCha)
}

// deriveKeys expands a traffic secret into AEAD key+iv and header
// protection key per RFC 9001 §5.1. isChaCha selects ChaCha20-Poly1305
// (32-byte AEAD and header protection keys) instead of AES-128-GCM
// (16-byte keys); it also selects the header protection mask computation
// in headerProtection.mask.
func deriveKeys(secret []byte, isChaCha bool) (*keys, error) {
	keyLen := 16
	if isChaCha {
		keyLen = chacha20poly1305.KeySize
	}
	aeadKey := hkdfExpandLabel(secret, "quic key", keyLen)
	iv := hkdfExpandLabel(secret, "quic iv", 12)
	hpKey := hkdfExpandLabel(secret, "quic hp", keyLen)

	var aead cipher.AEAD
	var err error
	if isChaCha {
		aead, err = chacha20poly1305.New(aeadKey)
	} else {
		var block cipher.Block
		block, err = aes.NewCipher(aeadKey)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	}
	if err != nil {
		return nil, err
	}
	return &keys{
		aead: aeadSuite{
			aead:           aead,
			iv:             iv,
			limit:          aeadConfidentialityLimit(isChaCha),
			integrityLimit: aeadIntegrityLimit(isChaCha),
		},
		hp:       headerProtection{key: hpKey, isChaCha: isChaCha},
		secret:   append([]byte(nil), secret...),
		isChaCha: isChaCha,
	}, nil
}

// aeadConfidentialityLimit returns the number of packets that may be
// protected under one key before a key update is required to bound AEAD
// usage (RFC 9001 §6.6, approximate limits for AEAD_AES_128_GCM and
// AEAD_CHACHA20_POLY1305).
func aeadConfidentialityLimit(isChaCha bool) uint64 {
	if isChaCha {
		return 1 << 36
	}
	return 1 << 23
}

// aeadIntegrityLimit returns the number of forgery/authentication failures
// tolerated under one key before the connection must be closed with
// AEAD_LIMIT_REACHED (RFC 9001 §6.6).
func aeadIntegrityLimit(isChaCha bool) uint64 {
	if isChaCha {
		return 1 << 36
	}
	return 1 << 52
}

func nonceFor(iv []byte, pn uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	var pnb [8]byte
	binary.BigEndian.PutUint64(pnb[:], pn)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= pnb[i]
	}
	return nonce
}

// sample extracts the 16-byte header protection sample starting 4 bytes
// after the start of the packet number field, per RFC 9001 §5.4.2.
func sample(b []byte, pnOffset int) ([]byte, error) {
	start := pnOffset + 4
	if start+16 > len(b) {
		return nil, errShortBuffer
	}
	return b[start : start+16], nil
}

// mask computes the 5-byte header protection mask from a ciphertext sample
// (RFC 9001 §5.4.3, §5.4.4).
func (h *headerProtection) mask(sample []byte) ([5]byte, error) {
	var out [5]byte
	if !h.isChaCha {
		block, err := aes.NewCipher(h.key)
		if err != nil {
			return out, err
		}
		var buf [16]byte
		block.Encrypt(buf[:], sample)
		copy(out[:], buf[:5])
		return out, nil
	}
	// ChaCha20 HP: first 4 sample bytes are a little-endian block counter,
	// the remaining 12 are the nonce; the mask is 5 bytes of keystream.
	counter := binary.LittleEndian.Uint32(sample[:4])
	nonce := sample[4:16]
	c, err := chacha20.NewUnauthenticatedCipher(h.key, nonce)
	if err != nil {
		return out, err
	}
	c.SetCounter(counter)
	var zero [5]byte
	c.XORKeyStream(out[:], zero[:])
	return out, nil
}

// openPacket undoes header protection then opens the AEAD payload.
func openPacket(k *keys, b []byte, pkt *packet, largestRecvPN uint64) ([]byte, int, error) {
	if pkt.headerLen == 0 {
		return nil, 0, newError(ProtocolViolation, "header not decoded")
	}
	smp, err := sample(b, pkt.headerLen)
	if err != nil {
		return nil, 0, err
	}
	mask, err := k.hp.mask(smp)
	if err != nil {
		return nil, 0, err
	}
	if b[0]&0x80 != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	pnLen := int(b[0]&0x3)+1
	for i := 0; i < pnLen; i++ {
		b[pkt.headerLen+i] ^= mask[1+i]
	}
	var truncated uint64
	for i := 0; i < pnLen; i++ {
		truncated = truncated<<8 | uint64(b[pkt.headerLen+i])
	}
	pn := decodePacketNumber(largestRecvPN, truncated, pnLen)
	pkt.packetNumber = pn
	pkt.packetNumberLen = pnLen

	hdrEnd := pkt.headerLen + pnLen
	if hdrEnd > len(b) {
		return nil, 0, errShortBuffer
	}
	header := b[:hdrEnd]
	ciphertext := b[hdrEnd:]
	nonce := nonceFor(k.aead.iv, pn)
	plain, err := k.aead.aead.Open(ciphertext[:0], nonce, ciphertext, header)
	if err != nil {
		k.aead.authFailures++
		if k.aead.authFailures >= k.aead.integrityLimit {
			return nil, 0, newError(AEADLimitReached, "aead integrity limit")
		}
		return nil, 0, newError(ProtocolViolation, "aead open failed")
	}
	k.aead.packetsSealed++
	return plain, hdrEnd + len(ciphertext), nil
}

// tryOpen calls openPacket, restoring all of b if the attempt fails (header
// protection removal and a failed AEAD open both overwrite it in place), so
// a caller probing multiple key generations (for a key update's phase-bit
// ambiguity) can retry with the same input buffer.
func tryOpen(k *keys, b []byte, pkt *packet, largestRecvPN uint64) ([]byte, int, error) {
	saved := append([]byte(nil), b...)
	plain, consumed, err := openPacket(k, b, pkt, largestRecvPN)
	if err != nil {
		copy(b, saved)
	}
	return plain, consumed, err
}

// sealPacket applies AEAD protection to the payload already written after
// the header, then applies header protection.
func sealPacket(k *keys, b []byte, pkt *packet) error {
	if k.aead.packetsSealed >= k.aead.limit {
		return newError(AEADLimitReached, "aead confidentiality limit")
	}
	hdrEnd := pkt.headerLen + pkt.packetNumberLen
	header := b[:hdrEnd]
	// pkt.payloadLen is the wire Length field: packet number length plus
	// AEAD-protected payload (ciphertext + tag).
	plainLen := pkt.payloadLen - pkt.packetNumberLen - k.aead.aead.Overhead()
	plaintext := b[hdrEnd : hdrEnd+plainLen]
	nonce := nonceFor(k.aead.iv, pkt.packetNumber)
	sealed := k.aead.aead.Seal(plaintext[:0], nonce, append([]byte{}, plaintext...), header)
	copy(b[hdrEnd:], sealed)
	k.aead.packetsSealed++

	smp, err := sample(b, pkt.headerLen)
	if err != nil {
		return err
	}
	mask, err := k.hp.mask(smp)
	if err != nil {
		return err
	}
	if b[0]&0x80 != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pkt.packetNumberLen; i++ {
		b[pkt.headerLen+i] ^= mask[1+i]
	}
	return nil
}
