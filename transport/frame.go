package transport

// Frame type codepoints (RFC 9000 §19).
const (
	frameTypePadding            = 0x00
	frameTypePing               = 0x01
	frameTypeAck                = 0x02
	frameTypeAckECN             = 0x03
	frameTypeResetStream        = 0x04
	frameTypeStopSending        = 0x05
	frameTypeCrypto             = 0x06
	frameTypeNewToken           = 0x07
	frameTypeStream             = 0x08
	frameTypeStreamEnd          = 0x0f
	frameTypeMaxData            = 0x10
	frameTypeMaxStreamData      = 0x11
	frameTypeMaxStreamsBidi     = 0x12
	frameTypeMaxStreamsUni      = 0x13
	frameTypeDataBlocked        = 0x14
	frameTypeStreamDataBlocked  = 0x15
	frameTypeStreamsBlockedBidi = 0x16
	frameTypeStreamsBlockedUni  = 0x17
	frameTypeNewConnectionID    = 0x18
	frameTypeRetireConnectionID = 0x19
	frameTypePathChallenge      = 0x1a
	frameTypePathResponse       = 0x1b
	frameTypeConnectionClose    = 0x1c
	frameTypeApplicationClose   = 0x1d
	frameTypeHanshakeDone       = 0x1e
	frameTypeDatagram           = 0x30
	frameTypeDatagramLen        = 0x31
)

// isFrameAckEliciting reports whether a frame of the given type requires
// the peer to acknowledge the packet carrying it (everything except ACK,
// PADDING, and CONNECTION_CLOSE).
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN,
		frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// frame is implemented by every decoded/pending frame so that the
// retransmission and logging paths can operate on them uniformly.
type frame interface {
	encodedLen() int
	encode(b []byte) (int, error)
}

// ---- PADDING ----

type paddingFrame struct {
	length int
}

func newPaddingFrame(n int) *paddingFrame { return &paddingFrame{length: n} }

func (f *paddingFrame) decode(b []byte) (int, error) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	f.length = n
	return n, nil
}

func (f *paddingFrame) encodedLen() int { return f.length }

func (f *paddingFrame) encode(b []byte) (int, error) {
	if len(b) < f.length {
		return 0, errShortBuffer
	}
	for i := 0; i < f.length; i++ {
		b[i] = frameTypePadding
	}
	return f.length, nil
}

// ---- PING ----

type pingFrame struct{}

func (f *pingFrame) decode(b []byte) (int, error) {
	return 1, nil
}

func (f *pingFrame) encodedLen() int { return 1 }

func (f *pingFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePing
	return 1, nil
}

// ---- ACK ----

type ackRange struct {
	gap    uint64
	length uint64
}

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange
	ecnCounts     *ecnCounts
}

type ecnCounts struct {
	ect0, ect1, ce uint64
}

func newAckFrame(ackDelay uint64, recv *rangeSet) *ackFrame {
	f := &ackFrame{ackDelay: ackDelay}
	recv.encodeInto(f)
	return f
}

func (f *ackFrame) String() string {
	return sprint("largest=", f.largestAck, " delay=", f.ackDelay)
}

func (f *ackFrame) decode(b []byte) (int, error) {
	off := 1 // Skip frame type (caller already peeked it)
	n := getVarint(b[off:], &f.largestAck)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack largest")
	}
	off += n
	n = getVarint(b[off:], &f.ackDelay)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack delay")
	}
	off += n
	var rangeCount uint64
	n = getVarint(b[off:], &rangeCount)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack range count")
	}
	off += n
	n = getVarint(b[off:], &f.firstAckRange)
	if n == 0 {
		return 0, newError(FrameEncodingError, "ack first range")
	}
	off += n
	f.ranges = f.ranges[:0]
	for i := uint64(0); i < rangeCount; i++ {
		var r ackRange
		n = getVarint(b[off:], &r.gap)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack gap")
		}
		off += n
		n = getVarint(b[off:], &r.length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "ack range")
		}
		off += n
		f.ranges = append(f.ranges, r)
	}
	if b[0] == frameTypeAckECN {
		f.ecnCounts = &ecnCounts{}
		for _, p := range []*uint64{&f.ecnCounts.ect0, &f.ecnCounts.ect1, &f.ecnCounts.ce} {
			n = getVarint(b[off:], p)
			if n == 0 {
				return 0, newError(FrameEncodingError, "ack ecn")
			}
			off += n
		}
	}
	return off, nil
}

func (f *ackFrame) encodedLen() int {
	n := 1 + varIntLen(f.largestAck) + varIntLen(f.ackDelay) +
		varIntLen(uint64(len(f.ranges))) + varIntLen(f.firstAckRange)
	for _, r := range f.ranges {
		n += varIntLen(r.gap) + varIntLen(r.length)
	}
	return n
}

func (f *ackFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	b = b[:0]
	b = appendVarint(b, frameTypeAck)
	b = appendVarint(b, f.largestAck)
	b = appendVarint(b, f.ackDelay)
	b = appendVarint(b, uint64(len(f.ranges)))
	b = appendVarint(b, f.firstAckRange)
	for _, r := range f.ranges {
		b = appendVarint(b, r.gap)
		b = appendVarint(b, r.length)
	}
	return n, nil
}

// toRangeSet reconstructs the set of acknowledged packet number ranges
// described by this frame, newest range first.
func (f *ackFrame) toRangeSet() *rangeSet {
	rs := &rangeSet{}
	hi := f.largestAck
	lo := hi - f.firstAckRange
	if lo > hi {
		return nil
	}
	rs.add(lo, hi)
	for _, r := range f.ranges {
		if r.gap+2 > lo {
			return nil
		}
		hi = lo - r.gap - 2
		lo = hi - r.length
		if lo > hi {
			return nil
		}
		rs.add(lo, hi)
	}
	return rs
}

// ---- RESET_STREAM ----

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(id, code, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: id, errorCode: code, finalSize: finalSize}
}

func (f *resetStreamFrame) decode(b []byte) (int, error) {
	off := 1
	for _, p := range []*uint64{&f.streamID, &f.errorCode, &f.finalSize} {
		n := getVarint(b[off:], p)
		if n == 0 {
			return 0, newError(FrameEncodingError, "reset_stream")
		}
		off += n
	}
	return off, nil
}

func (f *resetStreamFrame) encodedLen() int {
	return 1 + varIntLen(f.streamID) + varIntLen(f.errorCode) + varIntLen(f.finalSize)
}

func (f *resetStreamFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	b = b[:0]
	b = appendVarint(b, frameTypeResetStream)
	b = appendVarint(b, f.streamID)
	b = appendVarint(b, f.errorCode)
	b = appendVarint(b, f.finalSize)
	return n, nil
}

// ---- STOP_SENDING ----

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(id, code uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: id, errorCode: code}
}

func (f *stopSendingFrame) decode(b []byte) (int, error) {
	off := 1
	for _, p := range []*uint64{&f.streamID, &f.errorCode} {
		n := getVarint(b[off:], p)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stop_sending")
		}
		off += n
	}
	return off, nil
}

func (f *stopSendingFrame) encodedLen() int {
	return 1 + varIntLen(f.streamID) + varIntLen(f.errorCode)
}

func (f *stopSendingFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	b = b[:0]
	b = appendVarint(b, frameTypeStopSending)
	b = appendVarint(b, f.streamID)
	b = appendVarint(b, f.errorCode)
	return n, nil
}

// ---- CRYPTO ----

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (f *cryptoFrame) String() string {
	return sprint("offset=", f.offset, " length=", len(f.data))
}

func (f *cryptoFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &f.offset)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto offset")
	}
	off += n
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "crypto length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "crypto data")
	}
	f.data = append(f.data[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (f *cryptoFrame) encodedLen() int {
	return 1 + varIntLen(f.offset) + varIntLen(uint64(len(f.data))) + len(f.data)
}

func (f *cryptoFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeCrypto)
	out = appendVarint(out, f.offset)
	out = appendVarint(out, uint64(len(f.data)))
	out = append(out, f.data...)
	return n, nil
}

const maxCryptoFrameOverhead = 1 + 8 + 8 // type + offset + length, worst case

// ---- NEW_TOKEN ----

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func (f *newTokenFrame) decode(b []byte) (int, error) {
	off := 1
	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "new_token length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "new_token data")
	}
	f.token = append(f.token[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (f *newTokenFrame) encodedLen() int {
	return 1 + varIntLen(uint64(len(f.token))) + len(f.token)
}

func (f *newTokenFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeNewToken)
	out = appendVarint(out, uint64(len(f.token)))
	out = append(out, f.token...)
	return n, nil
}

// ---- STREAM ----

type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
}

func newStreamFrame(id uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: id, data: data, offset: offset, fin: fin}
}

func (f *streamFrame) decode(b []byte) (int, error) {
	typ := b[0]
	off := 1
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return 0, newError(FrameEncodingError, "stream id")
	}
	off += n
	f.offset = 0
	if typ&0x04 != 0 {
		n = getVarint(b[off:], &f.offset)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream offset")
		}
		off += n
	}
	var length uint64
	hasLen := typ&0x02 != 0
	if hasLen {
		n = getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "stream data")
	}
	f.data = append(f.data[:0], b[off:off+int(length)]...)
	off += int(length)
	f.fin = typ&0x01 != 0
	return off, nil
}

func (f *streamFrame) encodedLen() int {
	return 1 + varIntLen(f.streamID) + varIntLen(f.offset) + varIntLen(uint64(len(f.data))) + len(f.data)
}

func (f *streamFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	typ := uint64(frameTypeStream) | 0x04 | 0x02 // offset + length always present
	if f.fin {
		typ |= 0x01
	}
	out := b[:0]
	out = appendVarint(out, typ)
	out = appendVarint(out, f.streamID)
	out = appendVarint(out, f.offset)
	out = appendVarint(out, uint64(len(f.data)))
	out = append(out, f.data...)
	return n, nil
}

const maxStreamFrameOverhead = 1 + 8 + 8 + 8 // type + id + offset + length, worst case

// ---- MAX_DATA ----

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }

func (f *maxDataFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &f.maximumData)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_data")
	}
	return off + n, nil
}

func (f *maxDataFrame) encodedLen() int { return 1 + varIntLen(f.maximumData) }

func (f *maxDataFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeMaxData)
	out = appendVarint(out, f.maximumData)
	return n, nil
}

// ---- MAX_STREAM_DATA ----

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(id, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: id, maximumData: max}
}

func (f *maxStreamDataFrame) decode(b []byte) (int, error) {
	off := 1
	for _, p := range []*uint64{&f.streamID, &f.maximumData} {
		n := getVarint(b[off:], p)
		if n == 0 {
			return 0, newError(FrameEncodingError, "max_stream_data")
		}
		off += n
	}
	return off, nil
}

func (f *maxStreamDataFrame) encodedLen() int {
	return 1 + varIntLen(f.streamID) + varIntLen(f.maximumData)
}

func (f *maxStreamDataFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeMaxStreamData)
	out = appendVarint(out, f.streamID)
	out = appendVarint(out, f.maximumData)
	return n, nil
}

// ---- MAX_STREAMS ----

type maxStreamsFrame struct {
	maximumStreams uint64
	bidi           bool
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{maximumStreams: max, bidi: bidi}
}

func (f *maxStreamsFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeMaxStreamsBidi
	off := 1
	n := getVarint(b[off:], &f.maximumStreams)
	if n == 0 {
		return 0, newError(FrameEncodingError, "max_streams")
	}
	return off + n, nil
}

func (f *maxStreamsFrame) encodedLen() int { return 1 + varIntLen(f.maximumStreams) }

func (f *maxStreamsFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	typ := uint64(frameTypeMaxStreamsUni)
	if f.bidi {
		typ = frameTypeMaxStreamsBidi
	}
	out := b[:0]
	out = appendVarint(out, typ)
	out = appendVarint(out, f.maximumStreams)
	return n, nil
}

// ---- DATA_BLOCKED ----

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: limit} }

func (f *dataBlockedFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &f.dataLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "data_blocked")
	}
	return off + n, nil
}

func (f *dataBlockedFrame) encodedLen() int { return 1 + varIntLen(f.dataLimit) }

func (f *dataBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeDataBlocked)
	out = appendVarint(out, f.dataLimit)
	return n, nil
}

// ---- STREAM_DATA_BLOCKED ----

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(id, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: id, dataLimit: limit}
}

func (f *streamDataBlockedFrame) decode(b []byte) (int, error) {
	off := 1
	for _, p := range []*uint64{&f.streamID, &f.dataLimit} {
		n := getVarint(b[off:], p)
		if n == 0 {
			return 0, newError(FrameEncodingError, "stream_data_blocked")
		}
		off += n
	}
	return off, nil
}

func (f *streamDataBlockedFrame) encodedLen() int {
	return 1 + varIntLen(f.streamID) + varIntLen(f.dataLimit)
}

func (f *streamDataBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeStreamDataBlocked)
	out = appendVarint(out, f.streamID)
	out = appendVarint(out, f.dataLimit)
	return n, nil
}

// ---- STREAMS_BLOCKED ----

type streamsBlockedFrame struct {
	streamLimit uint64
	bidi        bool
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{streamLimit: limit, bidi: bidi}
}

func (f *streamsBlockedFrame) decode(b []byte) (int, error) {
	f.bidi = b[0] == frameTypeStreamsBlockedBidi
	off := 1
	n := getVarint(b[off:], &f.streamLimit)
	if n == 0 {
		return 0, newError(FrameEncodingError, "streams_blocked")
	}
	return off + n, nil
}

func (f *streamsBlockedFrame) encodedLen() int { return 1 + varIntLen(f.streamLimit) }

func (f *streamsBlockedFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	typ := uint64(frameTypeStreamsBlockedUni)
	if f.bidi {
		typ = frameTypeStreamsBlockedBidi
	}
	out := b[:0]
	out = appendVarint(out, typ)
	out = appendVarint(out, f.streamLimit)
	return n, nil
}

// ---- NEW_CONNECTION_ID ----

type newConnectionIDFrame struct {
	sequenceNumber uint64
	retirePriorTo  uint64
	connectionID   []byte
	resetToken     [16]byte
}

func (f *newConnectionIDFrame) decode(b []byte) (int, error) {
	off := 1
	for _, p := range []*uint64{&f.sequenceNumber, &f.retirePriorTo} {
		n := getVarint(b[off:], p)
		if n == 0 {
			return 0, newError(FrameEncodingError, "new_connection_id")
		}
		off += n
	}
	if off >= len(b) {
		return 0, newError(FrameEncodingError, "new_connection_id")
	}
	cidLen := int(b[off])
	off++
	if len(b) < off+cidLen+16 {
		return 0, newError(FrameEncodingError, "new_connection_id")
	}
	f.connectionID = append(f.connectionID[:0], b[off:off+cidLen]...)
	off += cidLen
	copy(f.resetToken[:], b[off:off+16])
	off += 16
	return off, nil
}

func (f *newConnectionIDFrame) encodedLen() int {
	return 1 + varIntLen(f.sequenceNumber) + varIntLen(f.retirePriorTo) + 1 + len(f.connectionID) + 16
}

func (f *newConnectionIDFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeNewConnectionID)
	out = appendVarint(out, f.sequenceNumber)
	out = appendVarint(out, f.retirePriorTo)
	out = append(out, byte(len(f.connectionID)))
	out = append(out, f.connectionID...)
	out = append(out, f.resetToken[:]...)
	return n, nil
}

// ---- RETIRE_CONNECTION_ID ----

type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func (f *retireConnectionIDFrame) decode(b []byte) (int, error) {
	off := 1
	n := getVarint(b[off:], &f.sequenceNumber)
	if n == 0 {
		return 0, newError(FrameEncodingError, "retire_connection_id")
	}
	return off + n, nil
}

func (f *retireConnectionIDFrame) encodedLen() int { return 1 + varIntLen(f.sequenceNumber) }

func (f *retireConnectionIDFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeRetireConnectionID)
	out = appendVarint(out, f.sequenceNumber)
	return n, nil
}

// ---- PATH_CHALLENGE / PATH_RESPONSE ----

type pathChallengeFrame struct {
	data [8]byte
}

func (f *pathChallengeFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_challenge")
	}
	copy(f.data[:], b[1:9])
	return 9, nil
}

func (f *pathChallengeFrame) encodedLen() int { return 9 }

func (f *pathChallengeFrame) encode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePathChallenge
	copy(b[1:9], f.data[:])
	return 9, nil
}

type pathResponseFrame struct {
	data [8]byte
}

func (f *pathResponseFrame) decode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, newError(FrameEncodingError, "path_response")
	}
	copy(f.data[:], b[1:9])
	return 9, nil
}

func (f *pathResponseFrame) encodedLen() int { return 9 }

func (f *pathResponseFrame) encode(b []byte) (int, error) {
	if len(b) < 9 {
		return 0, errShortBuffer
	}
	b[0] = frameTypePathResponse
	copy(b[1:9], f.data[:])
	return 9, nil
}

// ---- CONNECTION_CLOSE ----

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64 // Only set (and only meaningful) for transport errors
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{application: application, errorCode: errorCode, frameType: frameType, reasonPhrase: reason}
}

func (f *connectionCloseFrame) String() string {
	return string(f.reasonPhrase)
}

func (f *connectionCloseFrame) decode(b []byte) (int, error) {
	f.application = b[0] == frameTypeApplicationClose
	off := 1
	n := getVarint(b[off:], &f.errorCode)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close code")
	}
	off += n
	if !f.application {
		n = getVarint(b[off:], &f.frameType)
		if n == 0 {
			return 0, newError(FrameEncodingError, "connection_close frame type")
		}
		off += n
	}
	var length uint64
	n = getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "connection_close reason length")
	}
	off += n
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "connection_close reason")
	}
	f.reasonPhrase = append(f.reasonPhrase[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (f *connectionCloseFrame) encodedLen() int {
	n := 1 + varIntLen(f.errorCode)
	if !f.application {
		n += varIntLen(f.frameType)
	}
	n += varIntLen(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
	return n
}

func (f *connectionCloseFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	typ := uint64(frameTypeConnectionClose)
	if f.application {
		typ = frameTypeApplicationClose
	}
	out := b[:0]
	out = appendVarint(out, typ)
	out = appendVarint(out, f.errorCode)
	if !f.application {
		out = appendVarint(out, f.frameType)
	}
	out = appendVarint(out, uint64(len(f.reasonPhrase)))
	out = append(out, f.reasonPhrase...)
	return n, nil
}

// ---- HANDSHAKE_DONE ----

type handshakeDoneFrame struct{}

func (f *handshakeDoneFrame) decode(b []byte) (int, error) { return 1, nil }
func (f *handshakeDoneFrame) encodedLen() int               { return 1 }
func (f *handshakeDoneFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	b[0] = frameTypeHanshakeDone
	return 1, nil
}

// ---- DATAGRAM (RFC 9221) ----

type datagramFrame struct {
	data []byte
}

func (f *datagramFrame) decode(b []byte) (int, error) {
	typ := b[0]
	off := 1
	var length uint64
	if typ == frameTypeDatagramLen {
		n := getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "datagram length")
		}
		off += n
	} else {
		length = uint64(len(b) - off)
	}
	if uint64(len(b)-off) < length {
		return 0, newError(FrameEncodingError, "datagram data")
	}
	f.data = append(f.data[:0], b[off:off+int(length)]...)
	off += int(length)
	return off, nil
}

func (f *datagramFrame) encodedLen() int {
	return 1 + varIntLen(uint64(len(f.data))) + len(f.data)
}

func (f *datagramFrame) encode(b []byte) (int, error) {
	n := f.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	out := b[:0]
	out = appendVarint(out, frameTypeDatagramLen)
	out = appendVarint(out, uint64(len(f.data)))
	out = append(out, f.data...)
	return n, nil
}

// encodeFrames writes each frame in frames sequentially into b, returning
// the total number of bytes written.
func encodeFrames(b []byte, frames []frame) (int, error) {
	off := 0
	for _, f := range frames {
		n, err := f.encode(b[off:])
		if err != nil {
			return 0, err
		}
		off += n
	}
	return off, nil
}
