package transport

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 63, 64, 16383, 16384,
		1073741823, 1073741824,
		4611686018427387903,
	}
	for _, v := range values {
		b := make([]byte, 8)
		n := putVarint(b, v)
		if n != varIntLen(v) {
			t.Fatalf("putVarint(%d): wrote %d bytes, want %d", v, n, varIntLen(v))
		}
		var got uint64
		m := getVarint(b[:n], &got)
		if m != n {
			t.Fatalf("getVarint(%d): consumed %d bytes, want %d", v, m, n)
		}
		if got != v {
			t.Fatalf("getVarint round trip: got %d, want %d", got, v)
		}
	}
}

func TestVarintShortBuffer(t *testing.T) {
	b := []byte{0x80, 0x00, 0x00} // claims 4 bytes, only 3 present
	var v uint64
	if n := getVarint(b, &v); n != 0 {
		t.Fatalf("getVarint on short buffer: got n=%d, want 0", n)
	}
	if n := getVarint(nil, &v); n != 0 {
		t.Fatalf("getVarint on empty buffer: got n=%d, want 0", n)
	}
}

func TestVarintCanonicalDecode(t *testing.T) {
	// Non-canonical (longer than necessary) encodings still decode to the
	// correct value; only the encoder is required to be canonical.
	b := []byte{0x40, 0x01} // 2-byte encoding of 1
	var v uint64
	n := getVarint(b, &v)
	if n != 2 || v != 1 {
		t.Fatalf("getVarint non-canonical: n=%d v=%d, want 2,1", n, v)
	}
}
