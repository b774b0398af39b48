package transport

import "io"

// Stream ID low bits (RFC 9000 §2.1).
const (
	streamInitiatorClient = 0
	streamInitiatorServer = 1
	streamDirBidi         = 0
	streamDirUni          = 2
)

func streamIsClientInitiated(id uint64) bool { return id&0x1 == streamInitiatorClient }
func streamIsBidi(id uint64) bool            { return id&0x2 == streamDirBidi }
func streamIsLocal(id uint64, isClient bool) bool {
	clientInitiated := streamIsClientInitiated(id)
	return clientInitiated == isClient
}

// sendState is the send half state machine (RFC 9000 §3.1).
type sendState int

const (
	sendStateReady sendState = iota
	sendStateSend
	sendStateDataSent
	sendStateDataRecvd
	sendStateResetSent
	sendStateResetRecvd
)

// recvState is the receive half state machine (RFC 9000 §3.2).
type recvState int

const (
	recvStateRecv recvState = iota
	recvStateSizeKnown
	recvStateDataRecvd
	recvStateDataRead
	recvStateResetRecvd
	recvStateResetRead
)

// Stream is one QUIC stream's bidirectional (or half, for unidirectional
// streams) buffering and state machine. Applications use *Stream directly:
// the quic package hands it out as its Stream interface.
type Stream struct {
	id uint64

	sendOpen bool
	recvOpen bool

	send      sendBuffer
	sendState sendState
	sendErr   uint64 // application error code once ResetSent/ResetRecvd
	flow      flowControl

	recv         recvBuffer
	recvState    recvState
	recvErr      uint64
	recvErrFinal uint64 // final size communicated by RESET_STREAM

	updateMaxData bool // peer should be sent a fresh MAX_STREAM_DATA

	pending  []byte // leftover bytes from the last internal read() not yet copied out by Read
	recvDone bool    // final byte of the last internal read() has been seen
}

func newStream(id uint64, bidi, local bool) *Stream {
	s := &Stream{id: id}
	s.sendOpen = local || bidi
	s.recvOpen = !local || bidi
	if !s.sendOpen {
		s.sendState = sendStateDataRecvd
	}
	if !s.recvOpen {
		s.recvState = recvStateDataRead
	}
	return s
}

// write buffers application data for sending. fin marks the final write.
func (s *Stream) write(b []byte, fin bool) (int, error) {
	if !s.sendOpen {
		return 0, newError(StreamStateError, "stream is receive-only")
	}
	switch s.sendState {
	case sendStateResetSent, sendStateResetRecvd:
		return 0, newError(StreamStateError, "stream reset")
	case sendStateDataSent, sendStateDataRecvd:
		return 0, newError(StreamStateError, "fin already sent")
	}
	s.send.write(b, fin)
	if s.sendState == sendStateReady {
		s.sendState = sendStateSend
	}
	if fin {
		s.sendState = sendStateDataSent
	}
	return len(b), nil
}

// popSend slices off up to left bytes to place in an outgoing STREAM
// frame, bounded by both byte budget and the peer-advertised per-stream
// credit.
func (s *Stream) popSend(left int) (data []byte, offset uint64, fin bool, ok bool) {
	if s.sendState == sendStateResetSent || s.sendState == sendStateResetRecvd {
		return nil, 0, false, false
	}
	max := left
	if credit := int(s.flow.canSend()); credit < max {
		max = credit
	}
	if max <= 0 {
		data, offset, fin, ok = s.send.popFin()
	} else {
		data, offset, fin, ok = s.send.pop(max)
	}
	if !ok {
		return nil, 0, false, false
	}
	s.flow.addSend(len(data))
	return data, offset, fin, true
}

// ackSend records that a previously sent range (and FIN, if any) has been
// acknowledged, possibly completing the send half.
func (s *Stream) ackSend(offset uint64, length int, fin bool) {
	s.send.ack(offset, length, fin)
	if s.send.complete() && s.sendState == sendStateDataSent {
		s.sendState = sendStateDataRecvd
	}
}

// loseSend re-queues a range declared lost for retransmission.
func (s *Stream) loseSend(offset uint64, length int, fin bool) {
	s.send.push(offset, length, fin)
}

func (s *Stream) ackMaxData() { s.updateMaxData = false }

// pushRecv delivers newly received STREAM frame payload. It returns the
// increase in the stream's highest-offset-seen, which the caller must also
// credit against connection-level flow control (RFC 9000 §4.1 counts the
// highest offset seen on each stream, not bytes actually buffered, so
// overlapping retransmissions of already-seen data cost nothing extra).
func (s *Stream) pushRecv(data []byte, offset uint64, fin bool) (uint64, error) {
	if !s.recvOpen {
		return 0, newError(StreamStateError, "stream is send-only")
	}
	if s.recvState == recvStateResetRecvd || s.recvState == recvStateResetRead {
		return 0, nil // Late data after reset; ignore.
	}
	end := offset + uint64(len(data))
	if end > s.flow.maxRecv {
		return 0, newError(FlowControlError, "stream flow control")
	}
	var delta uint64
	if end > s.flow.recvLen {
		delta = end - s.flow.recvLen
	}
	if err := s.recv.push(data, offset, fin); err != nil {
		return 0, err
	}
	s.flow.addRecv(int(delta))
	if fin {
		s.recvState = recvStateSizeKnown
	}
	if s.recv.complete() {
		s.recvState = recvStateDataRecvd
	}
	return delta, nil
}

// read drains newly available contiguous received bytes. The second
// return value is true once the final byte (if any) has been delivered.
func (s *Stream) read() ([]byte, bool) {
	b := s.recv.read()
	if s.recv.complete() {
		s.recvState = recvStateDataRead
	}
	return b, s.recv.complete()
}

// reset applies a RESET_STREAM received from the peer, returning how many
// additional bytes should be credited against connection flow control (the
// final size minus bytes already counted) and any error.
func (s *Stream) reset(code uint64, finalSize uint64) (uint64, error) {
	if s.recvState == recvStateResetRecvd || s.recvState == recvStateResetRead {
		return 0, nil
	}
	curFinal, has := s.recv.final()
	if has && curFinal != finalSize {
		return 0, newError(FinalSizeError, "reset final size mismatch")
	}
	if finalSize < s.recv.readOffset {
		return 0, newError(FinalSizeError, "reset final size below delivered data")
	}
	var extra uint64
	if finalSize > s.flow.recvLen {
		extra = finalSize - s.flow.recvLen
	}
	s.recvErr = code
	s.recvErrFinal = finalSize
	s.recvState = recvStateResetRecvd
	s.flow.addRecv(int(extra))
	return extra, nil
}

// stopSending applies a peer STOP_SENDING, converting the send half to
// ResetSent so the caller will emit RESET_STREAM.
func (s *Stream) stopSending(code uint64) {
	if s.sendState == sendStateResetSent || s.sendState == sendStateResetRecvd {
		return
	}
	s.sendErr = code
	s.sendState = sendStateResetSent
}

func (s *Stream) sendFinalSize() uint64 { return uint64(len(s.send.data)) }

// ID returns the stream's identifier.
func (s *Stream) ID() uint64 { return s.id }

// Write queues b for sending on the stream, opening it if this is the
// first write. It never blocks on network I/O: the connection only
// actually transmits queued data the next time its Read is driven.
func (s *Stream) Write(b []byte) (int, error) {
	return s.write(b, false)
}

// Close marks the stream's send side finished, queuing a FIN.
func (s *Stream) Close() error {
	_, err := s.write(nil, true)
	return err
}

// Read copies newly available received data into b, returning io.EOF once
// every byte up to the stream's final size has been delivered and consumed.
func (s *Stream) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		data, done := s.read()
		s.pending = data
		s.recvDone = done
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	if n == 0 && len(s.pending) == 0 && s.recvDone {
		return 0, io.EOF
	}
	return n, nil
}
