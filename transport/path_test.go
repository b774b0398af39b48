package transport

import "testing"

func TestPathAntiAmplificationLimit(t *testing.T) {
	p := newPath("server:443", "client:1", true, false)
	p.onBytesReceived(100)
	if got, want := p.canSend(), 300; got != want {
		t.Fatalf("canSend = %d, want %d", got, want)
	}
	p.onBytesSent(300)
	if p.canSend() != 0 {
		t.Fatalf("canSend = %d, want 0 once budget exhausted", p.canSend())
	}
}

func TestPathValidationUnblocksAmplification(t *testing.T) {
	p := newPath("server:443", "client:1", true, false)
	var challenge [8]byte
	copy(challenge[:], []byte("12345678"))
	p.startValidation(challenge, testTime(0))
	if !p.onPathResponse(challenge) {
		t.Fatal("expected matching PATH_RESPONSE to validate the path")
	}
	if !p.validated {
		t.Fatal("path should be validated")
	}
	if p.canSend() < (1 << 20) {
		t.Fatal("validated path should not be amplification-limited")
	}
}

func TestPathResponseMismatchDoesNotValidate(t *testing.T) {
	p := newPath("server:443", "client:1", true, false)
	var challenge, other [8]byte
	copy(challenge[:], []byte("aaaaaaaa"))
	copy(other[:], []byte("bbbbbbbb"))
	p.startValidation(challenge, testTime(0))
	if p.onPathResponse(other) {
		t.Fatal("mismatched response must not validate the path")
	}
}

func TestPathManagerMigration(t *testing.T) {
	active := newPath("server:443", "client:1", true, true)
	m := newPathManager(active)
	candidate := m.onPeerAddressChanged("client:2")
	if candidate.validated {
		t.Fatal("new candidate path must start unvalidated")
	}
	var challenge [8]byte
	candidate.startValidation(challenge, testTime(0))
	candidate.onPathResponse(challenge)
	m.promote(candidate)
	if m.active != candidate {
		t.Fatal("expected validated candidate to become the active path")
	}
	if len(m.candidates) != 0 {
		t.Fatal("promoted candidate should be removed from the candidate list")
	}
}
