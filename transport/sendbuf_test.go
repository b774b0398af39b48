package transport

import "testing"

func TestSendBufferPopAndAck(t *testing.T) {
	var s sendBuffer
	s.write([]byte("hello"), false)
	data, offset, fin, ok := s.pop(3)
	if !ok || string(data) != "hel" || offset != 0 || fin {
		t.Fatalf("pop = %q off=%d fin=%v ok=%v", data, offset, fin, ok)
	}
	data, offset, fin, ok = s.pop(10)
	if !ok || string(data) != "lo" || offset != 3 || fin {
		t.Fatalf("pop = %q off=%d fin=%v ok=%v", data, offset, fin, ok)
	}
	if s.ready() {
		t.Fatal("nothing left to send without fin")
	}
	s.ack(0, 3, false)
	s.ack(3, 2, false)
	if !s.complete() {
		t.Fatal("expected complete once all bytes acked and no fin")
	}
}

func TestSendBufferFin(t *testing.T) {
	var s sendBuffer
	s.write([]byte("bye"), true)
	data, offset, fin, ok := s.pop(100)
	if !ok || string(data) != "bye" || offset != 0 || !fin {
		t.Fatalf("pop = %q off=%d fin=%v ok=%v", data, offset, fin, ok)
	}
	if s.ready() {
		t.Fatal("fin already sent, nothing pending")
	}
	s.ack(0, 3, true)
	if !s.complete() {
		t.Fatal("expected complete after fin acked")
	}
}

func TestSendBufferRetransmitOnLoss(t *testing.T) {
	var s sendBuffer
	s.write([]byte("retrydata"), false)
	data, offset, _, _ := s.pop(100)
	if string(data) != "retrydata" {
		t.Fatalf("pop = %q", data)
	}
	s.push(offset, len(data), false)
	if !s.ready() {
		t.Fatal("expected retransmit pending after push")
	}
	data2, offset2, _, ok := s.pop(100)
	if !ok || string(data2) != "retrydata" || offset2 != 0 {
		t.Fatalf("retransmit pop = %q off=%d ok=%v", data2, offset2, ok)
	}
}
