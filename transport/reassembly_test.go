package transport

import "testing"

func TestRecvBufferInOrder(t *testing.T) {
	var r recvBuffer
	if err := r.push([]byte("hello"), 0, false); err != nil {
		t.Fatal(err)
	}
	got := r.read()
	if string(got) != "hello" {
		t.Fatalf("read = %q, want hello", got)
	}
}

func TestRecvBufferOutOfOrder(t *testing.T) {
	var r recvBuffer
	if err := r.push([]byte("world"), 5, true); err != nil {
		t.Fatal(err)
	}
	if r.read() != nil {
		t.Fatal("expected nothing readable yet, gap at offset 0")
	}
	if err := r.push([]byte("hello"), 0, false); err != nil {
		t.Fatal(err)
	}
	got := r.read()
	if string(got) != "helloworld" {
		t.Fatalf("read = %q, want helloworld", got)
	}
	if !r.complete() {
		t.Fatal("expected complete after delivering up to final size")
	}
}

func TestRecvBufferOverlap(t *testing.T) {
	var r recvBuffer
	r.push([]byte("AAABBB"), 0, false)
	r.push([]byte("BBBCCC"), 3, false)
	got := r.read()
	if string(got) != "AAABBBCCC" {
		t.Fatalf("read = %q, want AAABBBCCC", got)
	}
}

func TestRecvBufferFinalSizeConflict(t *testing.T) {
	var r recvBuffer
	r.push([]byte("abc"), 0, true)
	err := r.push([]byte("d"), 3, true)
	te, ok := err.(*Error)
	if !ok || te.Code != FinalSizeError {
		t.Fatalf("expected FinalSizeError, got %v", err)
	}
}

func TestRecvBufferCryptoOverflow(t *testing.T) {
	r := recvBuffer{maxBuffered: 4}
	err := r.push([]byte("toolong"), 0, false)
	te, ok := err.(*Error)
	if !ok || te.Code != CryptoBufferExceeded {
		t.Fatalf("expected CryptoBufferExceeded, got %v", err)
	}
}
