package transport

import "testing"

func TestRangeSetMergeAdjacent(t *testing.T) {
	var s rangeSet
	s.add(10, 11)
	s.add(13, 14)
	s.add(12, 12) // Bridges the gap, should merge into one range.
	if len(s.ranges) != 1 {
		t.Fatalf("expected 1 merged range, got %d: %v", len(s.ranges), s.ranges)
	}
	if s.ranges[0] != (pnRange{10, 14}) {
		t.Fatalf("unexpected merged range %v", s.ranges[0])
	}
}

func TestRangeSetContains(t *testing.T) {
	var s rangeSet
	s.add(5, 5)
	s.add(10, 20)
	for _, pn := range []uint64{5, 10, 15, 20} {
		if !s.contains(pn) {
			t.Fatalf("expected %d to be contained", pn)
		}
	}
	for _, pn := range []uint64{4, 6, 9, 21} {
		if s.contains(pn) {
			t.Fatalf("expected %d to not be contained", pn)
		}
	}
}

func TestRangeSetEncodeAckFrame(t *testing.T) {
	var s rangeSet
	s.add(10, 11)
	s.add(13, 14)
	f := &ackFrame{}
	s.encodeInto(f)
	if f.largestAck != 14 || f.firstAckRange != 1 {
		t.Fatalf("largest=%d firstRange=%d, want 14,1", f.largestAck, f.firstAckRange)
	}
	if len(f.ranges) != 1 || f.ranges[0].gap != 0 || f.ranges[0].length != 1 {
		t.Fatalf("unexpected ranges %v", f.ranges)
	}
	rs := f.toRangeSet()
	if !rs.contains(10) || !rs.contains(11) || !rs.contains(13) || !rs.contains(14) || rs.contains(12) {
		t.Fatalf("round-tripped range set incorrect: %v", rs.ranges)
	}
}

func TestRangeSetRemoveUntil(t *testing.T) {
	var s rangeSet
	s.add(1, 5)
	s.add(10, 12)
	s.removeUntil(5)
	if len(s.ranges) != 1 || s.ranges[0] != (pnRange{10, 12}) {
		t.Fatalf("unexpected ranges after removeUntil: %v", s.ranges)
	}
}
