package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestParametersRoundTrip(t *testing.T) {
	p := DefaultParameters()
	p.OriginalDestinationCID = []byte{1, 2, 3, 4}
	p.InitialSourceCID = []byte{5, 6, 7, 8}
	p.StatelessResetToken = bytes.Repeat([]byte{0xaa}, 16)

	b := p.Marshal()
	var got Parameters
	if err := got.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.OriginalDestinationCID, p.OriginalDestinationCID) {
		t.Fatalf("odcid mismatch: %v != %v", got.OriginalDestinationCID, p.OriginalDestinationCID)
	}
	if !bytes.Equal(got.InitialSourceCID, p.InitialSourceCID) {
		t.Fatalf("iscid mismatch: %v != %v", got.InitialSourceCID, p.InitialSourceCID)
	}
	if got.InitialMaxData != p.InitialMaxData {
		t.Fatalf("initial_max_data mismatch: %d != %d", got.InitialMaxData, p.InitialMaxData)
	}
	if got.MaxIdleTimeout != p.MaxIdleTimeout {
		t.Fatalf("idle timeout mismatch: %v != %v", got.MaxIdleTimeout, p.MaxIdleTimeout)
	}
	if got.ActiveConnectionIDLimit != p.ActiveConnectionIDLimit {
		t.Fatalf("active_connection_id_limit mismatch: %d != %d", got.ActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	}
}

func TestParametersRejectsLowActiveConnectionIDLimit(t *testing.T) {
	var p Parameters
	b := appendVarintParam(nil, paramActiveConnectionIDLimit, 1)
	err := p.Unmarshal(b)
	te, ok := err.(*Error)
	if !ok || te.Code != TransportParameterError {
		t.Fatalf("expected TransportParameterError, got %v", err)
	}
}

func TestParametersIgnoresUnknown(t *testing.T) {
	var p Parameters
	b := appendParam(nil, 0xbeef, []byte("grease"))
	b = appendVarintParam(b, paramInitialMaxData, 100)
	if err := p.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if p.InitialMaxData != 100 {
		t.Fatalf("initial_max_data = %d, want 100", p.InitialMaxData)
	}
}

func TestParametersMaxAckDelayRoundTrip(t *testing.T) {
	p := Parameters{MaxAckDelay: 40 * time.Millisecond}
	b := appendVarintParam(nil, paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	var got Parameters
	if err := got.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if got.MaxAckDelay != p.MaxAckDelay {
		t.Fatalf("max_ack_delay = %v, want %v", got.MaxAckDelay, p.MaxAckDelay)
	}
}
