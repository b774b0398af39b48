package transport

// sendBuffer holds everything written to a stream or CRYPTO space send
// side, tracks how much has been offered for the first time versus must be
// retransmitted after loss, and tracks acknowledgement so the caller can
// tell when the send side is fully flushed (§4.3, §4.4).
type sendBuffer struct {
	data []byte

	hasFin    bool
	finOffset uint64
	finSent   bool
	finAcked  bool

	sendOffset uint64   // next never-before-sent byte
	lost       rangeSet // byte ranges queued for retransmission, [lo,hi] inclusive
	acked      rangeSet // byte ranges acknowledged, [lo,hi] inclusive
}

// write appends newly produced application/handshake bytes.
func (s *sendBuffer) write(b []byte, fin bool) {
	s.data = append(s.data, b...)
	if fin {
		s.hasFin = true
		s.finOffset = uint64(len(s.data))
	}
}

// ready reports whether there is anything left to send: either unsent new
// data, a pending retransmission, or an unsent FIN.
func (s *sendBuffer) ready() bool {
	if !s.lost.empty() {
		return true
	}
	if s.sendOffset < uint64(len(s.data)) {
		return true
	}
	return s.hasFin && s.sendOffset == s.finOffset && !s.finSent
}

// pop returns up to max bytes of data still owed to the peer, preferring
// lost ranges (retransmission) over first-time sends, plus the stream/
// offset/fin metadata needed to build the outgoing frame. It returns
// ok=false when there is nothing to send.
func (s *sendBuffer) pop(max int) (data []byte, offset uint64, fin bool, ok bool) {
	if max <= 0 {
		return s.popFin()
	}
	if lo, hi, has := s.firstLostRange(); has {
		n := int(hi - lo + 1)
		if n > max {
			n = max
		}
		out := s.data[lo : lo+uint64(n)]
		s.trimLost(lo, lo+uint64(n)-1)
		fin = s.hasFin && lo+uint64(n) == s.finOffset
		return out, lo, fin, true
	}
	if s.sendOffset < uint64(len(s.data)) {
		n := len(s.data) - int(s.sendOffset)
		if n > max {
			n = max
		}
		off := s.sendOffset
		out := s.data[off : off+uint64(n)]
		s.sendOffset += uint64(n)
		fin = s.hasFin && s.sendOffset == s.finOffset
		if fin {
			s.finSent = true
		}
		return out, off, fin, true
	}
	return s.popFin()
}

// popFin returns a FIN-only frame descriptor if the FIN is owed and has
// not yet been sent, independent of any byte budget.
func (s *sendBuffer) popFin() (data []byte, offset uint64, fin bool, ok bool) {
	if s.hasFin && s.lost.empty() && s.sendOffset == s.finOffset && !s.finSent {
		s.finSent = true
		return nil, s.finOffset, true, true
	}
	return nil, 0, false, false
}

func (s *sendBuffer) firstLostRange() (lo, hi uint64, ok bool) {
	if s.lost.empty() {
		return 0, 0, false
	}
	r := s.lost.ranges[0]
	return r.lo, r.hi, true
}

// trimLost removes [*, hi] from the front of the retransmission queue once
// it has been re-offered via pop.
func (s *sendBuffer) trimLost(lo, hi uint64) {
	s.lost.removeBelow(hi)
}

// push re-queues a byte range for retransmission after the packet carrying
// it was declared lost.
func (s *sendBuffer) push(offset uint64, length int, fin bool) {
	if length > 0 {
		s.lost.add(offset, offset+uint64(length)-1)
	}
	if fin {
		s.finSent = false
	}
}

// ack records an acknowledged byte range (and FIN, if carried) and removes
// it from the retransmission queue.
func (s *sendBuffer) ack(offset uint64, length int, fin bool) {
	if length > 0 {
		end := offset + uint64(length) - 1
		s.acked.add(offset, end)
		out := make([]pnRange, 0, len(s.lost.ranges)+1)
		for _, r := range s.lost.ranges {
			if r.hi < offset || r.lo > end {
				out = append(out, r)
				continue
			}
			if r.lo < offset {
				out = append(out, pnRange{r.lo, offset - 1})
			}
			if r.hi > end {
				out = append(out, pnRange{end + 1, r.hi})
			}
		}
		s.lost.ranges = out
	}
	if fin {
		s.finAcked = true
	}
}

// complete reports whether every written byte, and the FIN if any, has
// been acknowledged.
func (s *sendBuffer) complete() bool {
	if len(s.data) == 0 {
		if s.hasFin {
			return s.finAcked
		}
		return false
	}
	if len(s.acked.ranges) != 1 || s.acked.ranges[0].lo != 0 ||
		s.acked.ranges[0].hi+1 < uint64(len(s.data)) {
		return false
	}
	if s.hasFin {
		return s.finAcked
	}
	return true
}
