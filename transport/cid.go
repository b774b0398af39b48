package transport

// connID is one connection ID, either local (one we issued to the peer) or
// remote (one the peer issued to us), tracked with its sequence number and
// stateless reset token (RFC 9000 §5.1, §10.3).
type connID struct {
	seq        uint64
	cid        []byte
	resetToken [16]byte
	hasReset   bool
	retired    bool
}

// cidPool manages one direction's set of active connection IDs, enforcing
// the active_connection_id_limit and retire_prior_to bookkeeping shared by
// both the locally-issued and peer-issued pools.
type cidPool struct {
	ids        []connID
	limit      uint64
	nextSeq    uint64
	retirePrior uint64
}

func newCIDPool(limit uint64) *cidPool {
	return &cidPool{limit: limit}
}

// add registers a connection ID (from our own issuance, or from a received
// NEW_CONNECTION_ID frame). Returns an error if accepting it would exceed
// the active_connection_id_limit.
func (p *cidPool) add(seq uint64, cid []byte, resetToken [16]byte, hasReset bool) error {
	for _, existing := range p.ids {
		if existing.seq == seq {
			return nil // Duplicate frame; idempotent.
		}
	}
	if uint64(len(p.active())) >= p.limit {
		return newError(ConnectionIDLimitError, "active_connection_id_limit exceeded")
	}
	p.ids = append(p.ids, connID{seq: seq, cid: append([]byte{}, cid...), resetToken: resetToken, hasReset: hasReset})
	if seq >= p.nextSeq {
		p.nextSeq = seq + 1
	}
	return nil
}

func (p *cidPool) active() []connID {
	out := make([]connID, 0, len(p.ids))
	for _, id := range p.ids {
		if !id.retired {
			out = append(out, id)
		}
	}
	return out
}

// retire marks sequence numbers below retirePriorTo as retired, returning
// the sequence numbers that need RETIRE_CONNECTION_ID frames sent (for a
// peer-issued pool) or that were freed locally (for our own pool).
func (p *cidPool) retire(retirePriorTo uint64) []uint64 {
	if retirePriorTo <= p.retirePrior {
		return nil
	}
	p.retirePrior = retirePriorTo
	var retired []uint64
	for i := range p.ids {
		if !p.ids[i].retired && p.ids[i].seq < retirePriorTo {
			p.ids[i].retired = true
			retired = append(retired, p.ids[i].seq)
		}
	}
	return retired
}

func (p *cidPool) retireSeq(seq uint64) {
	for i := range p.ids {
		if p.ids[i].seq == seq {
			p.ids[i].retired = true
		}
	}
}

// current returns the lowest-sequence active CID, the one in use absent an
// explicit migration.
func (p *cidPool) current() (connID, bool) {
	var best connID
	found := false
	for _, id := range p.ids {
		if id.retired {
			continue
		}
		if !found || id.seq < best.seq {
			best = id
			found = true
		}
	}
	return best, found
}

func (p *cidPool) findByValue(cid []byte) (connID, bool) {
	for _, id := range p.ids {
		if !id.retired && bytesEqual(id.cid, cid) {
			return id, true
		}
	}
	return connID{}, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
