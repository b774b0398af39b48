package transport

// mtuState is the DPLPMTUD probing state machine (RFC 8899, applied to
// QUIC as PING-in-a-padded-packet probes per RFC 9000 §14.4).
type mtuState int

const (
	mtuStateDisabled mtuState = iota
	mtuStateBase
	mtuStateSearching
	mtuStateSearchComplete
	mtuStateError
)

// minPLPMTU/maxPLPMTU bound the probing range; minPLPMTU matches the
// minimum datagram size a QUIC sender must always be able to use.
const (
	minPLPMTU = 1200
	maxPLPMTU = MaxPacketSize
	mtuStepSize = 32
	mtuMaxProbes = 3
)

// mtuDiscovery implements a binary-search-free, fixed-step probing climb
// from minPLPMTU to maxPLPMTU, matching the common simplified profile of
// RFC 8899 §5.2 ("search_low"/"search_high" collapsed to one step size).
type mtuDiscovery struct {
	state       mtuState
	current     int // Confirmed working PLPMTU
	probeSize   int
	probesSent  int
}

func newMTUDiscovery() *mtuDiscovery {
	return &mtuDiscovery{state: mtuStateBase, current: minPLPMTU}
}

// nextProbeSize reports the size of the next probe to send, entering
// Searching on first use, or zero once SearchComplete/Error is reached.
func (m *mtuDiscovery) nextProbeSize() int {
	switch m.state {
	case mtuStateBase:
		m.state = mtuStateSearching
		m.probeSize = m.current + mtuStepSize
		m.probesSent = 0
		return m.probeSize
	case mtuStateSearching:
		return m.probeSize
	default:
		return 0
	}
}

// onProbeAcked records a successful probe: the PLPMTU is raised and a
// larger probe is scheduled, unless the ceiling has been reached.
func (m *mtuDiscovery) onProbeAcked() {
	if m.state != mtuStateSearching {
		return
	}
	m.current = m.probeSize
	m.probesSent = 0
	if m.current+mtuStepSize > maxPLPMTU {
		m.state = mtuStateSearchComplete
		return
	}
	m.probeSize = m.current + mtuStepSize
}

// onProbeLost records a failed probe; after mtuMaxProbes consecutive
// failures at the same size, search completes at the last confirmed size.
func (m *mtuDiscovery) onProbeLost() {
	if m.state != mtuStateSearching {
		return
	}
	m.probesSent++
	if m.probesSent >= mtuMaxProbes {
		m.state = mtuStateSearchComplete
	}
}

// onBlackhole drops back to the base PLPMTU after a suspected path MTU
// blackhole (e.g. a run of losses at the previously confirmed size).
func (m *mtuDiscovery) onBlackhole() {
	m.state = mtuStateBase
	m.current = minPLPMTU
	m.probesSent = 0
}

func (m *mtuDiscovery) plpmtu() int { return m.current }
