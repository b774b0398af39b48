package transport

import "testing"

func TestMTUDiscoveryClimbsOnAck(t *testing.T) {
	m := newMTUDiscovery()
	first := m.nextProbeSize()
	if first != minPLPMTU+mtuStepSize {
		t.Fatalf("first probe = %d, want %d", first, minPLPMTU+mtuStepSize)
	}
	m.onProbeAcked()
	if m.plpmtu() != minPLPMTU+mtuStepSize {
		t.Fatalf("plpmtu = %d, want %d", m.plpmtu(), minPLPMTU+mtuStepSize)
	}
	second := m.nextProbeSize()
	if second != m.plpmtu()+mtuStepSize {
		t.Fatalf("second probe = %d, want %d", second, m.plpmtu()+mtuStepSize)
	}
}

func TestMTUDiscoveryCompletesAtCeiling(t *testing.T) {
	m := newMTUDiscovery()
	m.current = maxPLPMTU - mtuStepSize
	m.state = mtuStateSearching
	m.probeSize = maxPLPMTU
	m.onProbeAcked()
	if m.state != mtuStateSearchComplete {
		t.Fatalf("state = %v, want SearchComplete", m.state)
	}
	if m.nextProbeSize() != 0 {
		t.Fatal("expected no further probes once search is complete")
	}
}

func TestMTUDiscoveryGivesUpAfterRepeatedLoss(t *testing.T) {
	m := newMTUDiscovery()
	m.nextProbeSize()
	m.onProbeLost()
	m.onProbeLost()
	if m.state != mtuStateSearching {
		t.Fatalf("state = %v, want still Searching before final loss", m.state)
	}
	m.onProbeLost()
	if m.state != mtuStateSearchComplete {
		t.Fatalf("state = %v, want SearchComplete after repeated loss", m.state)
	}
	if m.plpmtu() != minPLPMTU {
		t.Fatalf("plpmtu = %d, want unchanged base %d", m.plpmtu(), minPLPMTU)
	}
}

func TestMTUDiscoveryBlackholeResetsToBase(t *testing.T) {
	m := newMTUDiscovery()
	m.nextProbeSize()
	m.onProbeAcked()
	if m.plpmtu() == minPLPMTU {
		t.Fatal("expected plpmtu to have grown before blackhole")
	}
	m.onBlackhole()
	if m.state != mtuStateBase || m.plpmtu() != minPLPMTU {
		t.Fatalf("expected reset to Base/%d, got state=%v plpmtu=%d", minPLPMTU, m.state, m.plpmtu())
	}
}
