package transport

import "testing"

func TestCIDPoolAddAndLimit(t *testing.T) {
	p := newCIDPool(2)
	if err := p.add(0, []byte{1, 2, 3, 4}, [16]byte{}, false); err != nil {
		t.Fatal(err)
	}
	if err := p.add(1, []byte{5, 6, 7, 8}, [16]byte{}, false); err != nil {
		t.Fatal(err)
	}
	err := p.add(2, []byte{9, 9, 9, 9}, [16]byte{}, false)
	te, ok := err.(*Error)
	if !ok || te.Code != ConnectionIDLimitError {
		t.Fatalf("expected ConnectionIDLimitError, got %v", err)
	}
}

func TestCIDPoolRetirePriorTo(t *testing.T) {
	p := newCIDPool(4)
	p.add(0, []byte{1}, [16]byte{}, false)
	p.add(1, []byte{2}, [16]byte{}, false)
	p.add(2, []byte{3}, [16]byte{}, false)
	retired := p.retire(2)
	if len(retired) != 2 {
		t.Fatalf("retired = %v, want 2 entries", retired)
	}
	if len(p.active()) != 1 {
		t.Fatalf("active = %d, want 1", len(p.active()))
	}
}

func TestCIDPoolDuplicateAddIsIdempotent(t *testing.T) {
	p := newCIDPool(2)
	if err := p.add(0, []byte{1, 2}, [16]byte{}, false); err != nil {
		t.Fatal(err)
	}
	if err := p.add(0, []byte{1, 2}, [16]byte{}, false); err != nil {
		t.Fatal(err)
	}
	if len(p.ids) != 1 {
		t.Fatalf("expected duplicate add to be a no-op, got %d entries", len(p.ids))
	}
}
