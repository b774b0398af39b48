package transport

import (
	"testing"

	"github.com/go-test/deep"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Run("padding", func(t *testing.T) {
		f := newPaddingFrame(5)
		b := make([]byte, f.encodedLen())
		n, err := f.encode(b)
		if err != nil || n != len(b) {
			t.Fatalf("encode: n=%d err=%v", n, err)
		}
		got := &paddingFrame{}
		if _, err := got.decode(b); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("ping", func(t *testing.T) {
		b := make([]byte, 1)
		f := &pingFrame{}
		n, err := f.encode(b)
		if err != nil || n != 1 || b[0] != frameTypePing {
			t.Fatalf("encode ping failed: n=%d err=%v b=%v", n, err, b)
		}
	})

	t.Run("ack", func(t *testing.T) {
		var rs rangeSet
		rs.add(10, 11)
		rs.add(13, 14)
		f := newAckFrame(42, &rs)
		b := make([]byte, f.encodedLen())
		if _, err := f.encode(b); err != nil {
			t.Fatal(err)
		}
		got := &ackFrame{}
		n, err := got.decode(b)
		if err != nil {
			t.Fatal(err)
		}
		if n != len(b) {
			t.Fatalf("decode consumed %d, want %d", n, len(b))
		}
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("reset_stream", func(t *testing.T) {
		f := newResetStreamFrame(4, 7, 100)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &resetStreamFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("stop_sending", func(t *testing.T) {
		f := newStopSendingFrame(4, 7)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &stopSendingFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("crypto", func(t *testing.T) {
		f := newCryptoFrame([]byte("client hello"), 5)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &cryptoFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("new_token", func(t *testing.T) {
		f := newNewTokenFrame([]byte{1, 2, 3, 4})
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &newTokenFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("stream", func(t *testing.T) {
		f := newStreamFrame(4, []byte("ping"), 0, true)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &streamFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("max_data", func(t *testing.T) {
		f := newMaxDataFrame(1000)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &maxDataFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("max_stream_data", func(t *testing.T) {
		f := newMaxStreamDataFrame(4, 1000)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &maxStreamDataFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("max_streams", func(t *testing.T) {
		for _, bidi := range []bool{true, false} {
			f := newMaxStreamsFrame(50, bidi)
			b := make([]byte, f.encodedLen())
			f.encode(b)
			got := &maxStreamsFrame{}
			got.decode(b)
			if diff := deep.Equal(f, got); diff != nil {
				t.Fatalf("round trip mismatch (bidi=%v): %v", bidi, diff)
			}
		}
	})

	t.Run("data_blocked", func(t *testing.T) {
		f := newDataBlockedFrame(1000)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &dataBlockedFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("stream_data_blocked", func(t *testing.T) {
		f := newStreamDataBlockedFrame(4, 1000)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &streamDataBlockedFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("streams_blocked", func(t *testing.T) {
		for _, bidi := range []bool{true, false} {
			f := newStreamsBlockedFrame(10, bidi)
			b := make([]byte, f.encodedLen())
			f.encode(b)
			got := &streamsBlockedFrame{}
			got.decode(b)
			if diff := deep.Equal(f, got); diff != nil {
				t.Fatalf("round trip mismatch (bidi=%v): %v", bidi, diff)
			}
		}
	})

	t.Run("connection_close", func(t *testing.T) {
		f := newConnectionCloseFrame(uint64(ProtocolViolation), 0x08, []byte("bye"), false)
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &connectionCloseFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})

	t.Run("handshake_done", func(t *testing.T) {
		f := &handshakeDoneFrame{}
		b := make([]byte, 1)
		f.encode(b)
		if b[0] != frameTypeHanshakeDone {
			t.Fatalf("unexpected encoding: %v", b)
		}
	})

	t.Run("datagram", func(t *testing.T) {
		f := &datagramFrame{data: []byte("unreliable")}
		b := make([]byte, f.encodedLen())
		f.encode(b)
		got := &datagramFrame{}
		got.decode(b)
		if diff := deep.Equal(f, got); diff != nil {
			t.Fatalf("round trip mismatch: %v", diff)
		}
	})
}

func TestFrameAckElicitingClassification(t *testing.T) {
	// isFrameAckEliciting must exclude PADDING and ACK and include PING.
	if isFrameAckEliciting(frameTypePadding) {
		t.Fatal("padding must not be ack-eliciting")
	}
	if isFrameAckEliciting(frameTypeAck) {
		t.Fatal("ack must not be ack-eliciting")
	}
	if !isFrameAckEliciting(frameTypePing) {
		t.Fatal("ping must be ack-eliciting")
	}
}
