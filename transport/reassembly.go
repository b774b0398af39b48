package transport

import "sort"

// recvChunk is a contiguous run of bytes received at a given stream/crypto
// offset, held until it can be delivered in order.
type recvChunk struct {
	offset uint64
	data   []byte
}

func (c recvChunk) end() uint64 { return c.offset + uint64(len(c.data)) }

// recvBuffer reassembles an offset-addressed byte stream out of
// out-of-order chunks (STREAM or CRYPTO frame payloads) and exposes the
// longest available contiguous prefix starting at readOffset. It is shared
// by Stream's receive side and the per-space CRYPTO receive buffer
// (§4.3, §4.4).
type recvBuffer struct {
	chunks     []recvChunk
	readOffset uint64

	hasFinal  bool
	finalSize uint64

	buffered uint64 // bytes currently held in chunks, not yet delivered
	maxBuffered uint64 // 0 means unbounded (flow control bounds it elsewhere)
}

// push stores a newly received chunk. fin marks that offset+len(data) is
// the final size of the stream; a final size that conflicts with one seen
// earlier, or with data already delivered beyond it, is a protocol error.
func (r *recvBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if fin {
		if r.hasFinal && r.finalSize != end {
			return newError(FinalSizeError, "final size changed")
		}
		r.hasFinal = true
		r.finalSize = end
	}
	if r.hasFinal && end > r.finalSize {
		return newError(FinalSizeError, "data beyond final size")
	}
	if end <= r.readOffset || len(data) == 0 {
		return nil // wholly duplicate
	}
	if offset < r.readOffset {
		data = data[r.readOffset-offset:]
		offset = r.readOffset
	}
	r.insert(recvChunk{offset: offset, data: data})
	if r.maxBuffered > 0 && r.buffered > r.maxBuffered {
		return newError(CryptoBufferExceeded, "crypto buffer exceeded")
	}
	return nil
}

// insert merges a chunk into the sorted, non-overlapping chunk list and
// recomputes the buffered byte count from the result, so partial overlaps
// on either side never over- or under-count.
func (r *recvBuffer) insert(c recvChunk) {
	i := sort.Search(len(r.chunks), func(i int) bool { return r.chunks[i].offset >= c.offset })
	merged := c
	if i > 0 && r.chunks[i-1].end() >= c.offset {
		prev := r.chunks[i-1]
		if prev.end() < c.end() {
			merged = recvChunk{offset: prev.offset, data: append(append([]byte{}, prev.data...), c.data[prev.end()-c.offset:]...)}
		} else {
			merged = prev
		}
		i--
	}
	j := i + 1
	for j < len(r.chunks) && r.chunks[j].offset <= merged.end() {
		next := r.chunks[j]
		if next.end() > merged.end() {
			merged.data = append(merged.data, next.data[merged.end()-next.offset:]...)
		}
		j++
	}
	out := make([]recvChunk, 0, len(r.chunks)-(j-i)+1)
	out = append(out, r.chunks[:i]...)
	out = append(out, merged)
	out = append(out, r.chunks[j:]...)
	r.chunks = out

	var total uint64
	for _, ch := range r.chunks {
		total += uint64(len(ch.data))
	}
	r.buffered = total
}

// read returns the longest contiguous run of bytes now available starting
// at readOffset, consuming it from the buffer.
func (r *recvBuffer) read() []byte {
	if len(r.chunks) == 0 || r.chunks[0].offset != r.readOffset {
		return nil
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	r.readOffset += uint64(len(c.data))
	r.buffered -= uint64(len(c.data))
	return c.data
}

// complete reports whether the final size is known and every byte up to it
// has been delivered.
func (r *recvBuffer) complete() bool {
	return r.hasFinal && r.readOffset >= r.finalSize
}

func (r *recvBuffer) final() (uint64, bool) {
	return r.finalSize, r.hasFinal
}
