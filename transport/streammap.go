package transport

// streamMap owns every Stream for a connection and enforces the
// concurrency limits and ID-ordering invariants of RFC 9000 §2.1, §4.6.
type streamMap struct {
	isClient bool
	streams  map[uint64]*Stream

	nextBidi uint64 // next local-initiated bidi stream ID to hand out
	nextUni  uint64

	localBidiLimit uint64
	localUniLimit  uint64

	peerBidiLimit uint64
	peerUniLimit  uint64

	peerMaxBidi uint64 // highest peer-initiated bidi stream ID observed
	peerMaxUni  uint64
}

func newStreamMap(isClient bool, localBidiLimit, localUniLimit, peerBidiLimit, peerUniLimit uint64) *streamMap {
	m := &streamMap{
		isClient:       isClient,
		streams:        make(map[uint64]*Stream),
		localBidiLimit: localBidiLimit,
		localUniLimit:  localUniLimit,
		peerBidiLimit:  peerBidiLimit,
		peerUniLimit:   peerUniLimit,
	}
	initiator := uint64(streamInitiatorServer)
	if isClient {
		initiator = streamInitiatorClient
	}
	m.nextBidi = initiator | streamDirBidi
	m.nextUni = initiator | streamDirUni
	return m
}

// openLocal allocates the next stream ID this endpoint may open.
func (m *streamMap) openLocal(bidi bool) (*Stream, error) {
	if bidi {
		if m.countLocal(true) >= m.peerBidiLimit {
			return nil, newError(StreamLimitError, "bidi stream limit")
		}
		id := m.nextBidi
		m.nextBidi += 4
		s := newStream(id, true, true)
		m.streams[id] = s
		return s, nil
	}
	if m.countLocal(false) >= m.peerUniLimit {
		return nil, newError(StreamLimitError, "uni stream limit")
	}
	id := m.nextUni
	m.nextUni += 4
	s := newStream(id, false, true)
	m.streams[id] = s
	return s, nil
}

func (m *streamMap) countLocal(bidi bool) uint64 {
	var n uint64
	for id := range m.streams {
		if streamIsLocal(id, m.isClient) && streamIsBidi(id) == bidi {
			n++
		}
	}
	return n
}

// getOrCreatePeer returns the stream for a peer-initiated ID, creating it
// (and every lower-numbered stream of the same type, per the implicit-open
// rule) if this is the first frame mentioning it.
func (m *streamMap) getOrCreatePeer(id uint64) (*Stream, error) {
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	if streamIsLocal(id, m.isClient) {
		return nil, newError(StreamStateError, "peer referenced a local stream id")
	}
	bidi := streamIsBidi(id)
	index := id >> 2
	limit := m.localUniLimit
	if bidi {
		limit = m.localBidiLimit
	}
	if index >= limit {
		return nil, newError(StreamLimitError, "stream limit exceeded")
	}
	initiator := uint64(streamInitiatorServer)
	if m.isClient {
		initiator = streamInitiatorClient
	}
	dir := uint64(streamDirUni)
	if bidi {
		dir = streamDirBidi
	}
	base := initiator | dir
	for n := base; n <= id; n += 4 {
		if _, ok := m.streams[n]; !ok {
			m.streams[n] = newStream(n, bidi, false)
		}
	}
	if bidi {
		if id > m.peerMaxBidi || len(m.streams) == 0 {
			m.peerMaxBidi = id
		}
	} else if id > m.peerMaxUni {
		m.peerMaxUni = id
	}
	return m.streams[id], nil
}

func (m *streamMap) get(id uint64) (*Stream, bool) {
	s, ok := m.streams[id]
	return s, ok
}

func (m *streamMap) setPeerMaxStreamsBidi(max uint64) {
	if max > m.peerBidiLimit {
		m.peerBidiLimit = max
	}
}

func (m *streamMap) setPeerMaxStreamsUni(max uint64) {
	if max > m.peerUniLimit {
		m.peerUniLimit = max
	}
}

// hasFlushable reports whether any stream has data, a FIN, or a
// retransmission still waiting to go out.
func (m *streamMap) hasFlushable() bool {
	for _, st := range m.streams {
		if st.send.ready() {
			return true
		}
	}
	return false
}
