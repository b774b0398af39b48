package transport

// flowControl tracks one direction pair of flow-control windows: the
// credit we grant the peer to send to us (receive side) and the credit the
// peer has granted us to send to it (send side). It backs both the
// connection-wide MAX_DATA/DATA_BLOCKED accounting and the per-stream
// MAX_STREAM_DATA/STREAM_DATA_BLOCKED accounting (§4.5, §8 invariant 5 via
// the connection-level instance).
type flowControl struct {
	// Receive side: bytes the peer is allowed to send us.
	maxRecv     uint64 // Last value advertised to the peer
	maxRecvNext uint64 // Value to advertise on the next MAX_*_DATA frame
	recvLen     uint64 // Bytes received so far

	// Send side: bytes the peer allows us to send it.
	maxSend uint64
	sendLen uint64
}

func (f *flowControl) init(maxRecv, maxSend uint64) {
	f.maxRecv = maxRecv
	f.maxRecvNext = maxRecv
	f.maxSend = maxSend
}

// canRecv returns how many more bytes may be received before the receive
// window is exceeded.
func (f *flowControl) canRecv() uint64 {
	if f.recvLen >= f.maxRecv {
		return 0
	}
	return f.maxRecv - f.recvLen
}

// addRecv records n newly received bytes. Callers must have already
// checked canRecv(); exceeding the window is the caller's responsibility to
// reject as FLOW_CONTROL_ERROR before calling addRecv.
func (f *flowControl) addRecv(n int) {
	f.recvLen += uint64(n)
}

// shouldUpdateMaxRecv reports whether enough of the receive window has been
// consumed to justify sending an updated MAX_*_DATA frame. The hysteresis
// (half the window consumed) is implementation-defined per §9 Open
// Questions; this matches the common choice named there.
func (f *flowControl) shouldUpdateMaxRecv() bool {
	if f.maxRecv == 0 {
		return false
	}
	consumed := f.recvLen
	half := f.maxRecv / 2
	if consumed < half {
		return false
	}
	next := consumed + f.maxRecv
	return next > f.maxRecvNext
}

// commitMaxRecv is called once a MAX_*_DATA frame advertising maxRecvNext
// has actually been placed in an outgoing packet.
func (f *flowControl) commitMaxRecv() {
	consumed := f.recvLen
	next := consumed + f.maxRecv
	if next > f.maxRecvNext {
		f.maxRecvNext = next
	}
	f.maxRecv = f.maxRecvNext
}

// canSend returns how many more bytes may be sent under the peer-advertised
// credit.
func (f *flowControl) canSend() uint64 {
	if f.sendLen >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sendLen
}

func (f *flowControl) addSend(n int) {
	f.sendLen += uint64(n)
}

// setMaxSend installs a new peer-advertised send credit. MAX_DATA/
// MAX_STREAM_DATA values are monotonic; a lower or stale value is ignored.
func (f *flowControl) setMaxSend(max uint64) {
	if max > f.maxSend {
		f.maxSend = max
	}
}
