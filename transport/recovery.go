package transport

import "time"

// kPacketThreshold and kTimeThreshold are the loss detection thresholds of
// RFC 9002 §6.1.
const (
	packetThreshold = 3
	timeThresholdNumerator   = 9
	timeThresholdDenominator = 8
)

const (
	initialRTT        = 333 * time.Millisecond
	granularity       = time.Millisecond
	maxPTOBackoff     = 6 // caps exponential PTO backoff at 64x
	persistentCongestionThreshold = 3
)

// outgoingPacket records everything loss recovery needs about one sent
// packet: enough to declare it lost or acked and, if lost, what to do
// about it (RFC 9002 §A.1, "sent_packets").
type outgoingPacket struct {
	packetNumber  uint64
	space         packetSpace
	sentTime      time.Time
	size          int
	ackEliciting  bool
	inFlight      bool

	// Retransmittable content, described abstractly as offset ranges so the
	// stream/CRYPTO engine can re-enqueue on loss without the recovery
	// layer understanding frame formats.
	streamRanges []sentStreamRange

	// frames holds the actual frames placed in the packet, for encoding
	// and for qlog-style logging once it has been sent.
	frames []frame
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{packetNumber: pn, sentTime: now}
}

// addFrame records a frame as part of the packet under construction,
// updating the ack-eliciting/in-flight/retransmit bookkeeping that follows
// from its type (RFC 9000 §13.2).
func (p *outgoingPacket) addFrame(f frame) {
	p.frames = append(p.frames, f)
	if _, ok := f.(*ackFrame); !ok {
		p.inFlight = true
	}
	switch ff := f.(type) {
	case *paddingFrame, *connectionCloseFrame:
		// Not ack-eliciting.
	case *ackFrame:
		// Not ack-eliciting.
	case *cryptoFrame:
		p.ackEliciting = true
		p.streamRanges = append(p.streamRanges, sentStreamRange{streamID: streamIDNone, offset: ff.offset, length: len(ff.data)})
	case *streamFrame:
		p.ackEliciting = true
		p.streamRanges = append(p.streamRanges, sentStreamRange{streamID: ff.streamID, offset: ff.offset, length: len(ff.data), fin: ff.fin})
	default:
		p.ackEliciting = true
	}
}

type sentStreamRange struct {
	streamID uint64 // streamIDNone for the per-space CRYPTO stream
	offset   uint64
	length   int
	fin      bool
}

const streamIDNone = ^uint64(0)

// lossRecovery implements the RTT estimator, PTO timer, and loss detection
// of RFC 9002. One instance is shared across all three packet number
// spaces; sent packets carry their own space so ACK processing can be
// scoped correctly.
type lossRecovery struct {
	sent map[packetSpace]map[uint64]*outgoingPacket

	latestRTT   time.Duration
	smoothedRTT time.Duration
	rttVar      time.Duration
	minRTT      time.Duration
	maxAckDelay time.Duration
	rttSampled  bool

	ptoCount int

	lossTime       [packetSpaceCount]time.Time
	lastAckElicitingSent [packetSpaceCount]time.Time

	largestAckedPN   [packetSpaceCount]uint64
	hasLargestAcked  [packetSpaceCount]bool

	bytesInFlight int

	cc congestionController

	// ecnCE is the highest cumulative ECN-CE count a peer has reported per
	// space (RFC 9000 §13.4.2); a later, larger report is treated as a
	// congestion signal equivalent to loss (RFC 9002 §7.9).
	ecnCE [packetSpaceCount]uint64

	// probes is the number of PTO probe packets still owed across all
	// spaces; decremented as the connection sends them.
	probes int

	// lossDetectionTimer is the absolute time the next loss-detection or
	// PTO alarm should fire, or the zero Time if disarmed.
	lossDetectionTimer time.Time
}

func newLossRecovery(cc congestionController, maxAckDelay time.Duration) *lossRecovery {
	r := &lossRecovery{
		sent:        make(map[packetSpace]map[uint64]*outgoingPacket),
		smoothedRTT: initialRTT,
		rttVar:      initialRTT / 2,
		minRTT:      initialRTT,
		maxAckDelay: maxAckDelay,
		cc:          cc,
	}
	for s := packetSpace(0); s < packetSpaceCount; s++ {
		r.sent[s] = make(map[uint64]*outgoingPacket)
	}
	return r
}

// onPacketSent registers an outgoing packet for ACK/loss tracking.
func (r *lossRecovery) onPacketSent(p *outgoingPacket) {
	r.sent[p.space][p.packetNumber] = p
	if p.ackEliciting {
		r.lastAckElicitingSent[p.space] = p.sentTime
	}
	if p.inFlight {
		r.bytesInFlight += p.size
		r.cc.onPacketSent(p.size)
	}
}

// onAckReceived processes an ACK frame's ranges for one space, updating
// the RTT estimate (from the largest newly-acked packet), congestion
// control, and loss detection. It returns the stream ranges belonging to
// now-acked packets and to packets declared lost as a result, so the
// caller can apply each to the stream/CRYPTO send buffers.
func (r *lossRecovery) onAckReceived(space packetSpace, acked *rangeSet, ackDelay time.Duration, ecn *ecnCounts, now time.Time) (ackedRanges, lostRanges []sentStreamRange, newlyAckedLargest bool) {
	if acked.empty() {
		return nil, nil, false
	}
	largest, _ := acked.largest()
	if !r.hasLargestAcked[space] || largest > r.largestAckedPN[space] {
		r.largestAckedPN[space] = largest
		r.hasLargestAcked[space] = true
	}
	if ecn != nil && ecn.ce > r.ecnCE[space] {
		r.ecnCE[space] = ecn.ce
		r.cc.onPacketsLost(0, now)
	}
	var ackedPackets []*outgoingPacket
	for pn, pkt := range r.sent[space] {
		if acked.contains(pn) {
			ackedPackets = append(ackedPackets, pkt)
		}
	}
	for _, pkt := range ackedPackets {
		if pkt.packetNumber == largest && pkt.ackEliciting {
			r.updateRTT(now.Sub(pkt.sentTime), ackDelay)
			newlyAckedLargest = true
		}
		ackedRanges = append(ackedRanges, pkt.streamRanges...)
		r.removeSent(pkt)
		r.cc.onPacketAcked(pkt.size, pkt.sentTime, now)
	}
	lostRanges = r.detectLoss(space, now)
	r.ptoCount = 0
	return ackedRanges, lostRanges, newlyAckedLargest
}

func (r *lossRecovery) removeSent(pkt *outgoingPacket) {
	delete(r.sent[pkt.space], pkt.packetNumber)
	if pkt.inFlight {
		r.bytesInFlight -= pkt.size
	}
}

func (r *lossRecovery) updateRTT(sample, ackDelay time.Duration) {
	if sample < 0 {
		return
	}
	r.latestRTT = sample
	if !r.rttSampled {
		r.minRTT = sample
		r.smoothedRTT = sample
		r.rttVar = sample / 2
		r.rttSampled = true
		return
	}
	if sample < r.minRTT {
		r.minRTT = sample
	}
	adjusted := sample
	if adjusted > r.minRTT+ackDelay {
		adjusted -= ackDelay
		if adjusted > r.maxAckDelay && ackDelay > r.maxAckDelay {
			adjusted = sample - r.maxAckDelay
		}
	}
	diff := r.smoothedRTT - adjusted
	if diff < 0 {
		diff = -diff
	}
	r.rttVar = (3*r.rttVar + diff) / 4
	r.smoothedRTT = (7*r.smoothedRTT + adjusted) / 8
}

// lossDelay is the time after which an unacked ack-eliciting packet sent
// before the most recent ack-eliciting packet is declared lost by time
// threshold (RFC 9002 §6.1.2).
func (r *lossRecovery) lossDelay() time.Duration {
	d := r.smoothedRTT
	if r.latestRTT > d {
		d = r.latestRTT
	}
	d = d * timeThresholdNumerator / timeThresholdDenominator
	if d < granularity {
		d = granularity
	}
	return d
}

// detectLoss scans outstanding packets in space for packet- or
// time-threshold loss, reports the lost in-flight bytes to the congestion
// controller, returns the lost packets' retransmit descriptors, and
// schedules lossTime for any packet only eligible for time-threshold loss
// in the future.
func (r *lossRecovery) detectLoss(space packetSpace, now time.Time) []sentStreamRange {
	largest, ok := r.largestAcked(space)
	if !ok {
		return nil
	}
	delay := r.lossDelay()
	var lost []sentStreamRange
	var lostBytes int
	var firstLost, lastLost time.Time
	var ackElicitingLost int
	r.lossTime[space] = time.Time{}
	for pn, pkt := range r.sent[space] {
		if pn > largest {
			continue
		}
		lostByPacket := largest-pn >= packetThreshold
		lostByTime := now.Sub(pkt.sentTime) >= delay
		if lostByPacket || lostByTime {
			lost = append(lost, pkt.streamRanges...)
			if pkt.inFlight {
				lostBytes += pkt.size
			}
			if pkt.ackEliciting {
				ackElicitingLost++
				if firstLost.IsZero() || pkt.sentTime.Before(firstLost) {
					firstLost = pkt.sentTime
				}
				if pkt.sentTime.After(lastLost) {
					lastLost = pkt.sentTime
				}
			}
			r.removeSent(pkt)
		} else {
			lossTimeCandidate := pkt.sentTime.Add(delay)
			if r.lossTime[space].IsZero() || lossTimeCandidate.Before(r.lossTime[space]) {
				r.lossTime[space] = lossTimeCandidate
			}
		}
	}
	if lostBytes > 0 {
		r.cc.onPacketsLost(lostBytes, now)
	}
	// Persistent congestion: every ack-eliciting packet sent across a span
	// at least persistentCongestionThreshold PTOs wide was declared lost in
	// this pass, with nothing from that span surviving as acked or still
	// outstanding (RFC 9002 §7.6).
	if ackElicitingLost >= 2 && lastLost.Sub(firstLost) >= r.persistentCongestionDuration(space) {
		r.cc.onPersistentCongestion()
	}
	return lost
}

// persistentCongestionDuration is the span a contiguous run of lost
// ack-eliciting packets must cover to be treated as persistent congestion
// (RFC 9002 §7.6.1).
func (r *lossRecovery) persistentCongestionDuration(space packetSpace) time.Duration {
	pto := r.smoothedRTT + maxDuration(4*r.rttVar, granularity)
	if space == packetSpaceApplication {
		pto += r.maxAckDelay
	}
	return pto * persistentCongestionThreshold
}

// availableWindow reports how many more bytes may be placed in flight
// without exceeding the congestion window (RFC 9002 §7.2).
func (r *lossRecovery) availableWindow() int {
	avail := r.cc.window() - r.bytesInFlight
	if avail < 0 {
		return 0
	}
	return avail
}

func (r *lossRecovery) largestAcked(space packetSpace) (uint64, bool) {
	return r.largestAckedPN[space], r.hasLargestAcked[space]
}

// ptoPeriod computes the probe timeout duration for the given space
// (RFC 9002 §6.2.1), doubling with ptoCount.
func (r *lossRecovery) ptoPeriod(space packetSpace) time.Duration {
	backoff := r.ptoCount
	if backoff > maxPTOBackoff {
		backoff = maxPTOBackoff
	}
	base := r.smoothedRTT + maxDuration(4*r.rttVar, granularity)
	if space == packetSpaceApplication {
		base += r.maxAckDelay
	}
	return base * (1 << uint(backoff))
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// onPTO is invoked when the PTO timer fires: it bumps ptoCount so the next
// timer backs off, and the caller is responsible for sending a probe.
func (r *lossRecovery) onPTO() {
	r.ptoCount++
}

// dropUnackedData discards every in-flight packet record for a space whose
// keys are being dropped (e.g. Initial keys once Handshake keys install),
// without treating the contents as lost for congestion purposes (RFC 9002
// §6.2.2.1, "a sender SHOULD discard packets it can no longer decrypt").
func (r *lossRecovery) dropUnackedData(space packetSpace) []sentStreamRange {
	var dropped []sentStreamRange
	for pn, pkt := range r.sent[space] {
		dropped = append(dropped, pkt.streamRanges...)
		if pkt.inFlight {
			r.bytesInFlight -= pkt.size
		}
		delete(r.sent[space], pn)
	}
	r.lossTime[space] = time.Time{}
	return dropped
}

// probeTimeout returns the shortest PTO duration across all packet number
// spaces, whether or not they have packets outstanding. It sizes the
// draining period, among other uses.
func (r *lossRecovery) probeTimeout() time.Duration {
	d := r.ptoPeriod(packetSpaceApplication)
	for s := packetSpace(0); s < packetSpaceCount; s++ {
		if p := r.ptoPeriod(s); p < d {
			d = p
		}
	}
	return d
}

// setLossDetectionTimer (re)computes lossDetectionTimer: the earliest
// pending time-threshold loss deadline if one is set, otherwise a PTO
// deadline if any ack-eliciting data is outstanding, otherwise disarmed
// (RFC 9002 Appendix A.8).
func (r *lossRecovery) setLossDetectionTimer(now time.Time) {
	var earliestLoss time.Time
	for s := packetSpace(0); s < packetSpaceCount; s++ {
		if !r.lossTime[s].IsZero() && (earliestLoss.IsZero() || r.lossTime[s].Before(earliestLoss)) {
			earliestLoss = r.lossTime[s]
		}
	}
	if !earliestLoss.IsZero() {
		r.lossDetectionTimer = earliestLoss
		return
	}
	if r.bytesInFlight == 0 {
		r.lossDetectionTimer = time.Time{}
		return
	}
	r.lossDetectionTimer = now.Add(r.probeTimeout())
}

// onLossDetectionTimeout fires when lossDetectionTimer expires: it either
// declares time-threshold losses (if lossTime was set) or schedules a PTO
// probe (bumping ptoCount so the caller sends one or two probe packets).
func (r *lossRecovery) onLossDetectionTimeout(now time.Time) []sentStreamRange {
	for s := packetSpace(0); s < packetSpaceCount; s++ {
		if !r.lossTime[s].IsZero() && !now.Before(r.lossTime[s]) {
			return r.detectLoss(s, now)
		}
	}
	r.onPTO()
	r.probes = 2
	r.lossDetectionTimer = time.Time{}
	return nil
}

func (r *lossRecovery) CongestionWindow() int    { return r.cc.window() }
func (r *lossRecovery) BytesInFlight() int       { return r.bytesInFlight }
func (r *lossRecovery) SmoothedRTT() time.Duration { return r.smoothedRTT }
func (r *lossRecovery) MinRTT() time.Duration    { return r.minRTT }
func (r *lossRecovery) PTOCount() int            { return r.ptoCount }
