package transport

import (
	"bytes"
	"testing"
)

func TestDeriveInitialSecretsDiffer(t *testing.T) {
	dcid := []byte{0x83, 0x94, 0xc8, 0xf0, 0x3e, 0x51, 0x57, 0x08}
	client, server := deriveInitialSecrets(dcid)
	if bytes.Equal(client, server) {
		t.Fatal("client and server initial secrets must differ")
	}
	if len(client) != 32 || len(server) != 32 {
		t.Fatalf("secret length = %d/%d, want 32", len(client), len(server))
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSecret, _ := deriveInitialSecrets(dcid)
	k, err := deriveKeys(clientSecret, false)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := bytes.Repeat([]byte{0x42}, 32)
	pkt := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: versionQUIC1,
			dcid:    dcid,
			scid:    []byte{9, 9, 9, 9},
		},
		packetNumber:    3,
		packetNumberLen: 2,
		payloadLen:      2 + len(plaintext) + 16, // Length field covers PN + ciphertext + tag
	}

	hdrLen := pkt.encodedLen()
	buf := make([]byte, hdrLen+len(plaintext)+16)
	n, err := pkt.encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	copy(buf[n:], plaintext)
	sealBuf := buf[:n+len(plaintext)+16]

	if err := sealPacket(k, sealBuf, pkt); err != nil {
		t.Fatal(err)
	}

	openPkt := &packet{}
	hn, err := openPkt.decodeHeader(sealBuf)
	if err != nil {
		t.Fatal(err)
	}
	if hn != pkt.headerLen {
		t.Fatalf("decoded header length %d, want %d", hn, pkt.headerLen)
	}
	plain, consumed, err := openPacket(k, sealBuf, openPkt, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, plaintext) {
		t.Fatalf("opened plaintext mismatch: %x != %x", plain, plaintext)
	}
	if consumed != len(sealBuf) {
		t.Fatalf("consumed %d, want %d", consumed, len(sealBuf))
	}
	if openPkt.packetNumber != pkt.packetNumber {
		t.Fatalf("packet number = %d, want %d", openPkt.packetNumber, pkt.packetNumber)
	}
}

func TestUpdateTrafficSecretChanges(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)
	next := updateTrafficSecret(secret)
	if bytes.Equal(secret, next) {
		t.Fatal("updated traffic secret must differ from the original")
	}
	if len(next) != len(secret) {
		t.Fatalf("length changed: %d != %d", len(next), len(secret))
	}
}

func TestNextKeysDeriveDifferentSecret(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSecret, _ := deriveInitialSecrets(dcid)
	k, err := deriveKeys(clientSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	next, err := nextKeys(k)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k.secret, next.secret) {
		t.Fatal("next generation must derive a different secret")
	}
	if next.isChaCha != k.isChaCha {
		t.Fatal("next generation must preserve the cipher suite choice")
	}
}

// garbageInitialPacket builds a header-protected Initial packet with a
// ciphertext that will never pass AEAD authentication, for exercising the
// open failure path.
func garbageInitialPacket(t *testing.T, k *keys) (*packet, []byte) {
	t.Helper()
	pkt := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: versionQUIC1,
			dcid:    []byte{1, 2, 3, 4, 5, 6, 7, 8},
			scid:    []byte{9, 9, 9, 9},
		},
		packetNumber:    3,
		packetNumberLen: 2,
		// 4 plaintext bytes so the header protection sample (16 bytes from
		// 4 past the packet number start) fits inside the packet.
		payloadLen: 2 + 4 + 16,
	}
	hdrLen := pkt.encodedLen()
	buf := make([]byte, hdrLen+4+16)
	n, err := pkt.encode(buf)
	if err != nil {
		t.Fatal(err)
	}
	sealBuf := buf[:n+4+16]
	if err := sealPacket(k, sealBuf, pkt); err != nil {
		t.Fatal(err)
	}
	// Corrupt the ciphertext so every open attempt fails authentication,
	// without touching the header-protected first byte / PN bytes.
	sealBuf[len(sealBuf)-1] ^= 0xff
	return pkt, sealBuf
}

func TestOpenPacketAuthFailureReachesIntegrityLimit(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSecret, _ := deriveInitialSecrets(dcid)
	k, err := deriveKeys(clientSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	k.aead.integrityLimit = 2
	_, sealBuf := garbageInitialPacket(t, k)

	for i := 0; i < 2; i++ {
		input := append([]byte(nil), sealBuf...)
		openPkt := &packet{}
		if _, err := openPkt.decodeHeader(input); err != nil {
			t.Fatal(err)
		}
		if _, _, err := openPacket(k, input, openPkt, 0); err == nil {
			t.Fatal("expected open to fail on corrupted ciphertext")
		}
	}
	if k.aead.authFailures != 2 {
		t.Fatalf("authFailures = %d, want 2", k.aead.authFailures)
	}

	input := append([]byte(nil), sealBuf...)
	openPkt := &packet{}
	if _, err := openPkt.decodeHeader(input); err != nil {
		t.Fatal(err)
	}
	_, _, err = openPacket(k, input, openPkt, 0)
	qerr, ok := err.(*Error)
	if !ok || qerr.Code != AEADLimitReached {
		t.Fatalf("err = %v, want AEADLimitReached", err)
	}
}

func TestTryOpenRestoresHeaderOnFailure(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	clientSecret, _ := deriveInitialSecrets(dcid)
	k, err := deriveKeys(clientSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	_, sealBuf := garbageInitialPacket(t, k)
	input := append([]byte(nil), sealBuf...)
	before := append([]byte(nil), input...)

	openPkt := &packet{}
	if _, err := openPkt.decodeHeader(input); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tryOpen(k, input, openPkt, 0); err == nil {
		t.Fatal("expected tryOpen to fail on corrupted ciphertext")
	}
	if !bytes.Equal(input[:openPkt.headerLen+4], before[:openPkt.headerLen+4]) {
		t.Fatal("tryOpen must restore header protection bytes after a failed open")
	}
}
