package transport

import "testing"

func TestStreamMapOpenLocal(t *testing.T) {
	m := newStreamMap(true, 10, 10, 10, 10)
	s1, err := m.openLocal(true)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.openLocal(true)
	if err != nil {
		t.Fatal(err)
	}
	if s1.id != 0 || s2.id != 4 {
		t.Fatalf("ids = %d, %d; want 0, 4", s1.id, s2.id)
	}
}

func TestStreamMapPeerImplicitOpen(t *testing.T) {
	m := newStreamMap(true, 10, 10, 10, 10)
	// Server-initiated bidi stream id 5 implicitly opens id 1 too.
	s, err := m.getOrCreatePeer(5)
	if err != nil {
		t.Fatal(err)
	}
	if s.id != 5 {
		t.Fatalf("id = %d, want 5", s.id)
	}
	if _, ok := m.get(1); !ok {
		t.Fatal("expected stream 1 to be implicitly opened")
	}
}

func TestStreamMapPeerLimit(t *testing.T) {
	m := newStreamMap(true, 1, 10, 10, 10)
	if _, err := m.getOrCreatePeer(1); err != nil {
		t.Fatal(err)
	}
	_, err := m.getOrCreatePeer(5)
	te, ok := err.(*Error)
	if !ok || te.Code != StreamLimitError {
		t.Fatalf("expected StreamLimitError, got %v", err)
	}
}

func TestStreamMapLocalLimit(t *testing.T) {
	m := newStreamMap(true, 10, 10, 1, 10)
	if _, err := m.openLocal(true); err != nil {
		t.Fatal(err)
	}
	_, err := m.openLocal(true)
	te, ok := err.(*Error)
	if !ok || te.Code != StreamLimitError {
		t.Fatalf("expected StreamLimitError, got %v", err)
	}
}
