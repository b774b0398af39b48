package transport

import (
	"bytes"
	"testing"
)

func TestPacketLongHeaderRoundTrip(t *testing.T) {
	p := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: versionQUIC1,
			dcid:    []byte{1, 2, 3, 4},
			scid:    []byte{5, 6, 7, 8},
		},
		packetNumber: 7,
		payloadLen:   100,
	}
	b := make([]byte, p.encodedLen())
	off, err := p.encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if off != len(b) {
		t.Fatalf("encode wrote %d, expected %d", off, len(b))
	}

	got := &packet{}
	n, err := got.decodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.typ != packetTypeInitial {
		t.Fatalf("type = %v, want initial", got.typ)
	}
	if !bytes.Equal(got.header.dcid, p.header.dcid) || !bytes.Equal(got.header.scid, p.header.scid) {
		t.Fatalf("cid mismatch: got %+v", got.header)
	}
	if got.header.version != versionQUIC1 {
		t.Fatalf("version = %x, want %x", got.header.version, versionQUIC1)
	}
	if n != got.headerLen {
		t.Fatalf("decodeHeader returned %d, headerLen=%d", n, got.headerLen)
	}
	if got.payloadLen != p.payloadLen {
		t.Fatalf("payloadLen = %d, want %d", got.payloadLen, p.payloadLen)
	}
}

func TestPacketInitialTokenRoundTrip(t *testing.T) {
	p := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: versionQUIC1,
			dcid:    []byte{1, 2, 3, 4},
			scid:    []byte{5, 6, 7, 8},
		},
		token:        []byte{0xaa, 0xbb, 0xcc},
		packetNumber: 1,
		payloadLen:   50,
	}
	b := make([]byte, p.encodedLen())
	if _, err := p.encode(b); err != nil {
		t.Fatal(err)
	}
	got := &packet{}
	n, err := got.decodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.token, p.token) {
		t.Fatalf("token = %v, want %v", got.token, p.token)
	}
	if got.payloadLen != 50 {
		t.Fatalf("payloadLen = %d, want 50", got.payloadLen)
	}
	if n != got.headerLen {
		t.Fatalf("decodeHeader returned %d, headerLen=%d", n, got.headerLen)
	}
}

func TestPacketShortHeaderRoundTrip(t *testing.T) {
	p := &packet{
		typ: packetTypeShort,
		header: packetHeader{
			dcid: []byte{9, 9, 9, 9},
		},
		packetNumber: 42,
		keyPhase:     1,
	}
	b := make([]byte, p.encodedLen())
	if _, err := p.encode(b); err != nil {
		t.Fatal(err)
	}
	got := &packet{header: packetHeader{dcil: uint8(len(p.header.dcid))}}
	if _, err := got.decodeHeader(b); err != nil {
		t.Fatal(err)
	}
	if got.typ != packetTypeShort {
		t.Fatalf("type = %v, want short", got.typ)
	}
	if !bytes.Equal(got.header.dcid, p.header.dcid) {
		t.Fatalf("dcid mismatch: %v != %v", got.header.dcid, p.header.dcid)
	}
	if got.keyPhase != 1 {
		t.Fatalf("key phase not preserved: %d", got.keyPhase)
	}
}

func TestPacketNumberDecode(t *testing.T) {
	cases := []struct {
		largest   uint64
		truncated uint64
		length    int
		want      uint64
	}{
		{largest: 0, truncated: 1, length: 1, want: 1},
		{largest: 100, truncated: 101 & 0xff, length: 1, want: 101},
		{largest: 0x1fffff, truncated: 0, length: 2, want: 0x200000},
	}
	for _, c := range cases {
		got := decodePacketNumber(c.largest, c.truncated, c.length)
		if got != c.want {
			t.Errorf("decodePacketNumber(%d,%d,%d) = %d, want %d", c.largest, c.truncated, c.length, got, c.want)
		}
	}
}

func TestVersionNegotiationEncode(t *testing.T) {
	dcid := []byte{1, 2, 3}
	scid := []byte{4, 5, 6}
	b := make([]byte, 64)
	n, err := encodeVersionNegotiation(b, dcid, scid, []uint32{versionQUIC1})
	if err != nil {
		t.Fatal(err)
	}
	got := &packet{header: packetHeader{dcil: uint8(len(scid))}}
	if _, err := got.decodeHeader(b[:n]); err != nil {
		t.Fatal(err)
	}
	if got.typ != packetTypeVersionNegotiation {
		t.Fatalf("type = %v, want version_negotiation", got.typ)
	}
	m, err := got.decodeBody(b[:n])
	if err != nil {
		t.Fatal(err)
	}
	_ = m
	if len(got.supportedVersions) != 2 {
		t.Fatalf("supported versions = %v, want 2 entries (grease + v1)", got.supportedVersions)
	}
	if got.supportedVersions[1] != versionQUIC1 {
		t.Fatalf("missing advertised version 1: %v", got.supportedVersions)
	}
}

func TestRetryIntegrityTag(t *testing.T) {
	odcid := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	body := []byte("retry-header-and-token")
	tag, err := sealRetryIntegrityTag(odcid, body)
	if err != nil {
		t.Fatal(err)
	}
	if len(tag) != retryIntegrityTagLen {
		t.Fatalf("tag length = %d, want %d", len(tag), retryIntegrityTagLen)
	}
	full := append(append([]byte{}, body...), tag...)
	if !verifyRetryIntegrity(full, odcid) {
		t.Fatal("expected retry integrity tag to verify")
	}
	full[0] ^= 0xff
	if verifyRetryIntegrity(full, odcid) {
		t.Fatal("corrupted retry packet must not verify")
	}
}
