package transport

import (
	"bytes"
	"crypto/rand"
	"io"
	"time"
)

type connectionState uint8

const (
	stateAttempted connectionState = iota
	stateHandshake
	stateActive
	stateDraining
	stateClosed
)

// Conn is a QUIC connection. It consumes and produces raw UDP datagram
// payloads through Write/Read; the caller owns the socket and addressing.
type Conn struct {
	isClient bool
	version  uint32

	scid  []byte // Source CID
	dcid  []byte // Destination CID. Can be replaced in recvPacketInitial.
	odcid []byte // Original destination CID. Used to validate transport parameters.
	rscid []byte // Retry source CID. Set in recvPacketRetry.
	token []byte // Stateless retry token

	packetNumberSpaces [packetSpaceCount]packetNumberSpace
	streams            *streamMap

	localParams Parameters
	peerParams  Parameters

	handshake *handshakeState
	recovery  *lossRecovery
	flow      flowControl

	localCIDs *cidPool
	peerCIDs  *cidPool

	// pendingPathResponse holds the payload of a PATH_CHALLENGE awaiting a
	// PATH_RESPONSE, cleared once queued into an outgoing packet (RFC 9000
	// §8.2.1).
	pendingPathResponse *[8]byte

	// path is the anti-amplification and validation state of the address
	// this Conn currently sends to (RFC 9000 §8.1, §9). A server's path
	// starts unvalidated; it becomes validated once the handshake
	// completes, since that requires the client to have decrypted a
	// server packet sealed to its own address.
	path *path

	// mtu tracks DPLPMTUD probing of the path's maximum datagram size
	// (RFC 8899 applied per RFC 9000 §14.4); mtuProbe* bookkeeping
	// correlates the one outstanding probe packet to its ack or loss.
	mtu              *mtuDiscovery
	mtuProbePending  bool
	mtuProbePN       uint64
	mtuProbeSentTime time.Time

	tlsConfig *tlsConfigHolder

	state                 connectionState
	gotPeerCID            bool
	didRetry              bool
	didVersionNegotiation bool
	ackElicitingSent      bool // Whether an ACK-eliciting packet has been sent since last receiving a packet.
	handshakeConfirmed    bool
	derivedInitialSecrets bool
	updateMaxData         bool

	closeFrame *connectionCloseFrame

	idleTimer     time.Time
	drainingTimer time.Time

	// createdAt and handshakeConfirmedAt bound HandshakeDuration(), exposed
	// for metrics; handshakeConfirmedAt stays zero until handshakeConfirmed
	// first flips true.
	createdAt            time.Time
	handshakeConfirmedAt time.Time

	events []Event

	logEventFn func(LogEvent)
}

// tlsConfigHolder carries the crypto/tls.Config plus a rand/time source,
// kept separate from transport.Config so Conn doesn't need to import
// crypto/tls in its exported surface beyond what's already in config.go.
type tlsConfigHolder struct {
	config *Config
}

// Connect creates a client connection.
func Connect(scid []byte, config *Config) (*Conn, error) {
	return newConn(config, scid, nil, true)
}

// Accept creates a server connection.
func Accept(scid, odcid []byte, config *Config) (*Conn, error) {
	return newConn(config, scid, odcid, false)
}

func newConn(config *Config, scid, odcid []byte, isClient bool) (*Conn, error) {
	if config == nil {
		return nil, newError(InternalError, "config required")
	}
	if len(scid) > MaxCIDLength || len(odcid) > MaxCIDLength {
		return nil, newError(ProtocolViolation, "cid too long")
	}
	s := &Conn{
		version:     config.Version,
		isClient:    isClient,
		localParams: config.Params,
		state:       stateAttempted,
		tlsConfig:   &tlsConfigHolder{config: config},
	}
	side := sideServer
	if isClient {
		side = sideClient
	}
	s.handshake = newHandshakeState(side, config.TLS)
	s.handshake.bindSpaces(&s.packetNumberSpaces)
	for i := range s.packetNumberSpaces {
		s.packetNumberSpaces[i].init()
	}
	s.streams = newStreamMap(isClient,
		s.localParams.InitialMaxStreamsBidi, s.localParams.InitialMaxStreamsUni,
		0, 0)
	s.recovery = newLossRecovery(config.newCongestionController(), s.localParams.MaxAckDelay)
	s.flow.init(s.localParams.InitialMaxData, 0)
	s.localCIDs = newCIDPool(s.localParams.ActiveConnectionIDLimit)
	s.peerCIDs = newCIDPool(s.localParams.ActiveConnectionIDLimit)
	s.path = newPath("", "", !isClient, isClient)
	s.mtu = newMTUDiscovery()
	s.createdAt = s.time()
	if len(scid) > 0 {
		s.scid = append(s.scid[:0], scid...)
	}
	s.localParams.InitialSourceCID = s.scid
	if len(odcid) > 0 {
		s.odcid = append(s.odcid[:0], odcid...)
		s.localParams.OriginalDestinationCID = s.odcid
		s.localParams.RetrySourceCID = s.scid
		s.didRetry = true
	} else {
		s.localParams.OriginalDestinationCID = nil
		s.localParams.RetrySourceCID = nil
	}
	if isClient {
		s.localParams.StatelessResetToken = nil
		s.dcid = make([]byte, MaxCIDLength)
		if err := s.rand(s.dcid); err != nil {
			return nil, err
		}
		s.deriveInitialKeyMaterial(s.dcid)
	}
	s.handshake.setTransportParams(&s.localParams)
	return s, nil
}

// Write consumes received data.
func (s *Conn) Write(b []byte) (int, error) {
	now := s.time()
	n := 0
	for n < len(b) {
		if !s.drainingTimer.IsZero() || s.closeFrame != nil {
			break
		}
		i, err := s.recv(b[n:], now)
		if err != nil {
			return n, err
		}
		n += i
	}
	s.path.onBytesReceived(n)
	s.checkTimeout(now)
	return n, nil
}

func (s *Conn) deriveInitialKeyMaterial(cid []byte) {
	clientSecret, serverSecret := deriveInitialSecrets(cid)
	clientKeys, err := deriveKeys(clientSecret, false)
	if err != nil {
		return
	}
	serverKeys, err := deriveKeys(serverSecret, false)
	if err != nil {
		return
	}
	space := &s.packetNumberSpaces[packetSpaceInitial]
	if s.isClient {
		space.opener, space.sealer = serverKeys, clientKeys
	} else {
		space.opener, space.sealer = clientKeys, serverKeys
	}
	s.derivedInitialSecrets = true
}

func (s *Conn) recv(b []byte, now time.Time) (int, error) {
	p := packet{
		header: packetHeader{
			dcil: uint8(len(s.scid)),
		},
	}
	_, err := p.decodeHeader(b)
	if err != nil {
		return 0, err
	}
	switch p.typ {
	case packetTypeVersionNegotiation:
		return s.recvPacketVersionNegotiation(b, &p, now)
	case packetTypeRetry:
		return s.recvPacketRetry(b, &p, now)
	case packetTypeInitial:
		return s.recvPacketInitial(b, &p, now)
	case packetTypeZeroRTT:
		return 0, newError(InternalError, "zerortt packet not supported")
	case packetTypeHandshake:
		return s.recvPacketHandshake(b, &p, now)
	case packetTypeShort:
		return s.recvPacketShort(b, &p, now)
	default:
		panic(sprint("unsupported packet type ", p.typ))
	}
}

func (s *Conn) recvPacketVersionNegotiation(b []byte, p *packet, now time.Time) (int, error) {
	if !s.isClient || s.didVersionNegotiation || s.state != stateAttempted ||
		!bytes.Equal(p.header.dcid, s.scid) || !bytes.Equal(p.header.scid, s.dcid) {
		debug("dropped packet", p)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	n, err := p.decodeBody(b)
	if err != nil {
		return 0, err
	}
	debug("received packet", p)
	var newVersion uint32
	for _, v := range p.supportedVersions {
		if versionSupported(v) {
			newVersion = v
			break
		}
	}
	if newVersion == 0 {
		return 0, newError(InternalError, sprint("unsupported version ", p.supportedVersions))
	}
	s.version = newVersion
	s.didVersionNegotiation = true
	s.gotPeerCID = false
	s.recovery.dropUnackedData(packetSpaceInitial)
	s.packetNumberSpaces[packetSpaceInitial].reset()
	side := sideServer
	if s.isClient {
		side = sideClient
	}
	s.handshake.reset(side, s.tlsConfig.config.TLS)
	s.handshake.setTransportParams(&s.localParams)
	s.logPacketReceived(p, now)
	return p.headerLen + n, nil
}

func (s *Conn) recvPacketRetry(b []byte, p *packet, now time.Time) (int, error) {
	if !s.isClient || s.didRetry || s.state != stateAttempted ||
		!bytes.Equal(p.header.dcid, s.scid) || bytes.Equal(p.header.scid, s.dcid) {
		debug("dropped packet", p)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	_, err := p.decodeBody(b)
	if err != nil {
		return 0, err
	}
	if len(p.token) == 0 || !verifyRetryIntegrity(b, s.dcid) {
		return 0, errInvalidToken
	}
	debug("received packet", p)
	s.didRetry = true
	s.token = append(s.token[:0], p.token...)
	s.odcid = append(s.odcid[:0], s.dcid...)
	s.dcid = append(s.dcid[:0], p.header.scid...)
	s.rscid = s.dcid
	s.deriveInitialKeyMaterial(s.dcid)
	s.gotPeerCID = false
	s.recovery.dropUnackedData(packetSpaceInitial)
	s.packetNumberSpaces[packetSpaceInitial].reset()
	side := sideServer
	if s.isClient {
		side = sideClient
	}
	s.handshake.reset(side, s.tlsConfig.config.TLS)
	s.handshake.setTransportParams(&s.localParams)
	s.logPacketReceived(p, now)
	return len(b), nil
}

func (s *Conn) recvPacketInitial(b []byte, p *packet, now time.Time) (int, error) {
	if s.gotPeerCID && (!bytes.Equal(p.header.dcid, s.scid) || !bytes.Equal(p.header.scid, s.dcid)) {
		debug("dropped packet", p)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	if !s.derivedInitialSecrets {
		s.deriveInitialKeyMaterial(p.header.dcid)
	}
	if !s.gotPeerCID {
		if s.isClient {
			if len(s.odcid) == 0 {
				s.odcid = append(s.odcid[:0], s.dcid...)
			}
		} else {
			if !s.didRetry {
				s.odcid = append(s.odcid[:0], p.header.dcid...)
				s.localParams.OriginalDestinationCID = s.odcid
				s.handshake.setTransportParams(&s.localParams)
			}
		}
		s.dcid = append(s.dcid[:0], p.header.scid...)
		s.gotPeerCID = true
	}
	return s.recvPacket(b, p, packetSpaceInitial, now)
}

func (s *Conn) recvPacketHandshake(b []byte, p *packet, now time.Time) (int, error) {
	if !bytes.Equal(p.header.dcid, s.scid) || !bytes.Equal(p.header.scid, s.dcid) {
		debug("dropped packet", p)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	return s.recvPacket(b, p, packetSpaceHandshake, now)
}

func (s *Conn) recvPacketShort(b []byte, p *packet, now time.Time) (int, error) {
	if !bytes.Equal(p.header.dcid, s.scid) {
		debug("dropped packet", p)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	return s.recvPacket(b, p, packetSpaceApplication, now)
}

func (s *Conn) recvPacket(b []byte, p *packet, space packetSpace, now time.Time) (int, error) {
	pnSpace := &s.packetNumberSpaces[space]
	if !pnSpace.canDecrypt() {
		debug("dropped undecryptable packet", p, space)
		s.logPacketDropped(p, now)
		return len(b), nil
	}
	payload, length, err := pnSpace.decryptPacket(b, p)
	if err != nil {
		return 0, err
	}
	debug("decrypted packet", p, "payload", len(payload))
	if pnSpace.isPacketReceived(p.packetNumber) {
		s.logPacketDropped(p, now)
		return length, nil
	}
	s.logPacketReceived(p, now)
	if err = s.recvFrames(payload, space, now); err != nil {
		return 0, err
	}

	pnSpace.onPacketReceived(p.packetNumber, now)

	if s.localParams.MaxIdleTimeout > 0 {
		s.idleTimer = now.Add(s.localParams.MaxIdleTimeout)
	}
	if !s.isClient && space == packetSpaceHandshake && s.state == stateAttempted {
		s.state = stateHandshake
		s.dropPacketSpace(packetSpaceInitial)
	}
	s.ackElicitingSent = false
	return length, nil
}

func (s *Conn) recvFrames(b []byte, space packetSpace, now time.Time) error {
	var ackElicited = false
	for len(b) > 0 {
		var typ uint64
		n := getVarint(b, &typ)
		if n == 0 {
			return newError(FrameEncodingError, "")
		}
		var err error
		switch {
		case typ == frameTypePadding:
			n, err = s.recvFramePadding(b, now)
		case typ == frameTypePing:
			s.recvFramePing(now)
		case typ == frameTypeAck || typ == frameTypeAckECN:
			n, err = s.recvFrameAck(b, space, now)
		case typ == frameTypeResetStream:
			n, err = s.recvFrameResetStream(b, now)
		case typ == frameTypeStopSending:
			n, err = s.recvFrameStopSending(b, now)
		case typ == frameTypeCrypto:
			n, err = s.recvFrameCrypto(b, space, now)
		case typ == frameTypeNewToken:
			n, err = s.recvFrameNewToken(b, now)
		case typ >= frameTypeStream && typ <= frameTypeStreamEnd:
			n, err = s.recvFrameStream(b, now)
		case typ == frameTypeMaxData:
			n, err = s.recvFrameMaxData(b, now)
		case typ == frameTypeMaxStreamData:
			n, err = s.recvFrameMaxStreamData(b, now)
		case typ == frameTypeMaxStreamsBidi || typ == frameTypeMaxStreamsUni:
			n, err = s.recvFrameMaxStreams(b, now)
		case typ == frameTypeDataBlocked:
			n, err = s.recvFrameDataBlocked(b, now)
		case typ == frameTypeStreamDataBlocked:
			n, err = s.recvFrameStreamDataBlocked(b, now)
		case typ == frameTypeStreamsBlockedBidi || typ == frameTypeStreamsBlockedUni:
			n, err = s.recvFrameStreamsBlocked(b, now)
		case typ == frameTypeNewConnectionID:
			n, err = s.recvFrameNewConnectionID(b, now)
		case typ == frameTypeRetireConnectionID:
			n, err = s.recvFrameRetireConnectionID(b, now)
		case typ == frameTypePathChallenge:
			n, err = s.recvFramePathChallenge(b, space, now)
		case typ == frameTypePathResponse:
			n, err = s.recvFramePathResponse(b, now)
		case typ == frameTypeConnectionClose || typ == frameTypeApplicationClose:
			n, err = s.recvFrameConnectionClose(b, space, now)
		case typ == frameTypeHanshakeDone:
			n, err = s.recvFrameHandshakeDone(b, now)
		default:
			return newError(FrameEncodingError, sprint("unsupported frame ", typ))
		}
		if err != nil {
			debug("error processing frame", typ, err)
			return err
		}
		if !ackElicited {
			ackElicited = isFrameAckEliciting(typ)
		}
		b = b[n:]
	}
	if ackElicited {
		s.packetNumberSpaces[space].ackElicited = true
	}
	return nil
}

func (s *Conn) recvFramePadding(b []byte, now time.Time) (int, error) {
	var f paddingFrame
	n, err := f.decode(b)
	s.logFrameProcessed(&f, now)
	return n, err
}

func (s *Conn) recvFramePing(now time.Time) {
	var f pingFrame
	s.logFrameProcessed(&f, now)
}

func (s *Conn) recvFrameAck(b []byte, space packetSpace, now time.Time) (int, error) {
	var f ackFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	ranges := f.toRangeSet()
	if ranges == nil {
		return 0, newError(FrameEncodingError, sprint("invalid ack ranges ", f.String()))
	}
	ackDelay := time.Duration((1<<s.peerParams.AckDelayExponent)*f.ackDelay) * time.Microsecond
	ackedRanges, lostRanges, newlyAckedLargest := s.recovery.onAckReceived(space, ranges, ackDelay, f.ecnCounts, now)
	s.applyAcked(space, ackedRanges)
	s.applyLost(space, lostRanges)
	s.recovery.setLossDetectionTimer(now)

	if space == packetSpaceApplication {
		pnSpace := &s.packetNumberSpaces[space]
		if pnSpace.updatePending {
			if largest, ok := ranges.largest(); ok && largest >= pnSpace.updateSincePN {
				pnSpace.updatePending = false
				pnSpace.prevOpener = nil
				pnSpace.prepareNextKeys()
			}
		}
		if s.mtuProbePending && ranges.contains(s.mtuProbePN) {
			s.mtu.onProbeAcked()
			s.mtuProbePending = false
		}
	}

	if newlyAckedLargest && !s.packetNumberSpaces[space].firstPacketAcked {
		s.packetNumberSpaces[space].firstPacketAcked = true
		if space == packetSpaceApplication && s.state == stateActive {
			s.dropPacketSpace(packetSpaceHandshake)
			if s.isClient && !s.handshakeConfirmed {
				s.setHandshakeConfirmed(now)
			}
		}
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameResetStream(b []byte, now time.Time) (int, error) {
	var f resetStreamFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	local := streamIsLocal(f.streamID, s.isClient)
	bidi := streamIsBidi(f.streamID)
	if local && !bidi {
		return 0, newError(StreamStateError, sprint("reset stream ", f.streamID))
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	extra, err := st.reset(f.errorCode, f.finalSize)
	if err != nil {
		return 0, err
	}
	if s.flow.canRecv() < extra {
		return 0, errFlowControl
	}
	s.flow.addRecv(int(extra))
	s.addEvent(newStreamResetEvent(f.streamID, f.errorCode))
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameStopSending(b []byte, now time.Time) (int, error) {
	var f stopSendingFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	local := streamIsLocal(f.streamID, s.isClient)
	if _, ok := s.streams.get(f.streamID); local && !ok {
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	bidi := streamIsBidi(f.streamID)
	if !bidi {
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	if st, ok := s.streams.get(f.streamID); ok {
		st.stopSending(f.errorCode)
	}
	s.addEvent(newStreamStopEvent(f.streamID, f.errorCode))
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameCrypto(b []byte, space packetSpace, now time.Time) (int, error) {
	var f cryptoFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	err = s.packetNumberSpaces[space].cryptoStream.pushRecv(f.data, f.offset, false)
	if err != nil {
		return 0, err
	}
	if err := s.doHandshake(); err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameNewToken(b []byte, now time.Time) (int, error) {
	var f newTokenFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameStream(b []byte, now time.Time) (int, error) {
	var f streamFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	local := streamIsLocal(f.streamID, s.isClient)
	bidi := streamIsBidi(f.streamID)
	if local && !bidi {
		return 0, newError(StreamStateError, "writing not permitted")
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	if s.flow.canRecv() < uint64(len(f.data)) {
		return 0, errFlowControl
	}
	delta, err := st.pushRecv(f.data, f.offset, f.fin)
	if err != nil {
		return 0, err
	}
	s.flow.addRecv(int(delta))
	s.addEvent(newStreamRecvEvent(f.streamID))
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameMaxData(b []byte, now time.Time) (int, error) {
	var f maxDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.flow.setMaxSend(f.maximumData)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameMaxStreamData(b []byte, now time.Time) (int, error) {
	var f maxStreamDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	st.flow.setMaxSend(f.maximumData)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameMaxStreams(b []byte, now time.Time) (int, error) {
	var f maxStreamsFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if f.bidi {
		s.streams.setPeerMaxStreamsBidi(f.maximumStreams)
	} else {
		s.streams.setPeerMaxStreamsUni(f.maximumStreams)
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameDataBlocked(b []byte, now time.Time) (int, error) {
	var f dataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameStreamDataBlocked(b []byte, now time.Time) (int, error) {
	var f streamDataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameStreamsBlocked(b []byte, now time.Time) (int, error) {
	var f streamsBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

// recvFrameNewConnectionID records a CID the peer is offering us to use as
// a new destination CID, for instance during migration (RFC 9000 §5.1.1).
func (s *Conn) recvFrameNewConnectionID(b []byte, now time.Time) (int, error) {
	var f newConnectionIDFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if err := s.peerCIDs.add(f.sequenceNumber, f.connectionID, f.resetToken, true); err != nil {
		return 0, err
	}
	s.peerCIDs.retire(f.retirePriorTo)
	s.addEvent(Event{Type: EventNewConnectionID})
	s.logFrameProcessed(&f, now)
	return n, nil
}

// recvFrameRetireConnectionID retires one of our locally-issued CIDs that
// the peer is no longer using (RFC 9000 §5.1.2).
func (s *Conn) recvFrameRetireConnectionID(b []byte, now time.Time) (int, error) {
	var f retireConnectionIDFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.localCIDs.retireSeq(f.sequenceNumber)
	s.logFrameProcessed(&f, now)
	return n, nil
}

// recvFramePathChallenge answers a PATH_CHALLENGE with a PATH_RESPONSE
// carrying the same payload, required on whatever path it arrived on
// (RFC 9000 §8.2.1). Queued generically in the Application space; actual
// per-path address bookkeeping belongs to the caller driving Write/Read.
func (s *Conn) recvFramePathChallenge(b []byte, space packetSpace, now time.Time) (int, error) {
	var f pathChallengeFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.pendingPathResponse = &f.data
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFramePathResponse(b []byte, now time.Time) (int, error) {
	var f pathResponseFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.path.onPathResponse(f.data)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameConnectionClose(b []byte, space packetSpace, now time.Time) (int, error) {
	var f connectionCloseFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	debug("receiving frame", &f, errorCodeString(ErrorCode(f.errorCode)))
	s.state = stateDraining
	s.setDraining(now)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func (s *Conn) recvFrameHandshakeDone(b []byte, now time.Time) (int, error) {
	var f handshakeDoneFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if !s.isClient {
		return 0, newError(ProtocolViolation, "unexpected handshake done frame")
	}
	if s.state == stateActive && !s.handshakeConfirmed {
		s.dropPacketSpace(packetSpaceHandshake)
		s.setHandshakeConfirmed(now)
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

// applyAcked marks the retransmit buffers for now-acked stream/CRYPTO
// ranges, firing EventStreamComplete once a stream's send side fully
// drains, and clears the need to keep acking packets below the largest
// acked value.
func (s *Conn) applyAcked(space packetSpace, ranges []sentStreamRange) {
	pnSpace := &s.packetNumberSpaces[space]
	if largest, ok := s.recovery.largestAcked(space); ok {
		pnSpace.recvPacketNeedAck.removeUntil(largest)
	}
	for _, r := range ranges {
		if r.streamID == streamIDNone {
			pnSpace.cryptoStream.send.ack(r.offset, r.length, false)
			continue
		}
		if st, ok := s.streams.get(r.streamID); ok {
			st.ackSend(r.offset, r.length, r.fin)
			if st.send.complete() {
				s.addEvent(newStreamCompleteEvent(r.streamID))
			}
		}
	}
}

// applyLost re-enqueues lost stream/CRYPTO ranges for retransmission.
func (s *Conn) applyLost(space packetSpace, ranges []sentStreamRange) {
	pnSpace := &s.packetNumberSpaces[space]
	for _, r := range ranges {
		if r.streamID == streamIDNone {
			pnSpace.cryptoStream.send.push(r.offset, r.length, false)
			continue
		}
		if st, ok := s.streams.get(r.streamID); ok {
			st.loseSend(r.offset, r.length, r.fin)
		}
	}
	if len(ranges) > 0 {
		pnSpace.ackElicited = true
	}
}

func (s *Conn) doHandshake() error {
	if s.state >= stateActive {
		return nil
	}
	now := s.time()
	if err := s.handshake.start(now); err != nil {
		return err
	}
	for sp := packetSpaceInitial; sp < packetSpaceCount; sp++ {
		if data := s.packetNumberSpaces[sp].cryptoStream.recv.read(); len(data) > 0 {
			if err := s.handshake.handleCryptoData(sp, data, now); err != nil {
				return err
			}
		}
	}
	for sp := packetSpaceInitial; sp < packetSpaceCount; sp++ {
		if out := s.handshake.popCrypto(sp); len(out) > 0 {
			s.packetNumberSpaces[sp].cryptoStream.send.write(out, false)
		}
	}
	if s.handshake.handshakeComplete() {
		params := s.handshake.peerTransportParams()
		debug("peer transport params", params)
		if err := s.validatePeerTransportParams(params); err != nil {
			return err
		}
		s.flow.setMaxSend(params.InitialMaxData)
		s.streams.setPeerMaxStreamsBidi(params.InitialMaxStreamsBidi)
		s.streams.setPeerMaxStreamsUni(params.InitialMaxStreamsUni)
		s.recovery.maxAckDelay = params.MaxAckDelay
		s.peerParams = *params
		s.state = stateActive
		s.path.validated = true
		s.addEvent(Event{Type: EventHandshakeComplete})
	}
	return nil
}

func (s *Conn) validatePeerTransportParams(p *Parameters) error {
	if p == nil {
		return newError(TransportParameterError, "")
	}
	if len(p.InitialSourceCID) == 0 || !bytes.Equal(p.InitialSourceCID, s.dcid) {
		return newError(TransportParameterError, "initial source cid")
	}
	if s.isClient {
		if !bytes.Equal(p.OriginalDestinationCID, s.odcid) {
			return newError(TransportParameterError, "original destination cid")
		}
	} else {
		if len(p.OriginalDestinationCID) > 0 {
			return newError(TransportParameterError, "original destination cid")
		}
		if len(p.StatelessResetToken) > 0 {
			return newError(TransportParameterError, "reset token")
		}
	}
	if len(s.rscid) > 0 && !bytes.Equal(p.RetrySourceCID, s.rscid) {
		return newError(TransportParameterError, "retry source cid")
	}
	return nil
}

// Read produces data for sending to the peer.
func (s *Conn) Read(b []byte) (int, error) {
	now := s.time()
	if !s.drainingTimer.IsZero() {
		return 0, nil
	}
	if err := s.doHandshake(); err != nil {
		return 0, err
	}
	space := s.writeSpace()
	if space == packetSpaceCount {
		return 0, nil
	}
	budget := len(b)
	if !s.path.validated {
		if pb := s.path.canSend(); pb < budget {
			budget = pb
		}
		if budget <= 0 {
			return 0, nil
		}
	}
	if s.recovery.probes == 0 {
		if cw := s.recovery.availableWindow(); cw < budget {
			budget = cw
		}
		if budget <= 0 {
			return 0, nil
		}
	}
	n, err := s.send(b[:budget], space, now)
	if err != nil {
		return 0, err
	}
	s.path.onBytesSent(n)
	if space < packetSpaceApplication {
		avail := minInt(s.maxPacketSize(), budget)
		if avail-n >= 96 {
			nextSpace := s.writeSpace()
			if nextSpace < packetSpaceCount && nextSpace > space {
				m, err := s.send(b[n:avail], nextSpace, now)
				if err != nil {
					return 0, err
				}
				s.path.onBytesSent(m)
				return n + m, nil
			}
		}
	}
	return n, nil
}

func (s *Conn) send(b []byte, space packetSpace, now time.Time) (int, error) {
	pnSpace := &s.packetNumberSpaces[space]
	if !pnSpace.canEncrypt() {
		return 0, newError(InternalError, sprint("cannot encrypt space ", space.String()))
	}
	if space == packetSpaceApplication && s.handshakeConfirmed {
		pnSpace.prepareNextKeys()
	}
	avail := minInt(s.maxPacketSize(), len(b))
	// Opportunistically probe one step past the confirmed PLPMTU, bypassing
	// the ceiling maxPacketSize() otherwise enforces (RFC 8899 §5.2).
	probing := false
	if space == packetSpaceApplication && s.handshakeConfirmed && !s.mtuProbePending {
		if probe := s.mtu.nextProbeSize(); probe > avail && probe <= len(b) {
			avail = probe
			probing = true
		}
	}
	p := packet{
		typ: packetTypeFromSpace(space),
		header: packetHeader{
			version: s.version,
			dcid:    s.dcid,
			scid:    s.scid,
		},
		token:        s.token,
		packetNumber: pnSpace.nextPacketNumber,
		payloadLen:   avail,
		keyPhase:     pnSpace.keyPhase,
	}
	overhead := pnSpace.sealer.aead.aead.Overhead()
	pktOverhead := p.encodedLen() + overhead
	left := avail - pktOverhead
	if left <= minPayloadLength {
		return 0, errShortBuffer
	}
	s.applyLost(space, s.recovery.detectLoss(space, now))
	op := newOutgoingPacket(p.packetNumber, now)
	op.space = space
	p.payloadLen = s.sendFrames(op, space, left, now)
	if probing && len(op.frames) == 0 {
		f := &pingFrame{}
		n := f.encodedLen()
		if left >= n {
			op.addFrame(f)
			p.payloadLen += n
		}
	}
	if len(op.frames) == 0 {
		return 0, nil
	}
	left -= p.payloadLen
	if s.isClient && p.typ == packetTypeInitial {
		n := MinInitialPacketSize - pktOverhead - p.payloadLen
		if n > 0 {
			if n > left {
				return 0, errShortBuffer
			}
			op.addFrame(newPaddingFrame(n))
			p.payloadLen += n
			left -= n
		}
	}
	if p.payloadLen < minPayloadLength {
		n := minPayloadLength - p.payloadLen
		if n > left {
			return 0, errShortBuffer
		}
		op.addFrame(newPaddingFrame(n))
		p.payloadLen += n
		left -= n
	}
	if probing && left > 0 {
		op.addFrame(newPaddingFrame(left))
		p.payloadLen += left
		left = 0
	}
	p.payloadLen += overhead + p.pnLen()
	payloadOffset, err := p.encode(b)
	if err != nil {
		return 0, err
	}
	n, err := encodeFrames(b[payloadOffset:], op.frames)
	if err != nil {
		return 0, err
	}
	n += payloadOffset + overhead
	if n != p.headerLen+p.payloadLen || n > len(b) {
		return 0, newError(InternalError, sprint("encoded payload length ", n, " exceeded buffer capacity ", len(b)))
	}
	pnSpace.encryptPacket(b[:n], &p)
	op.size = n
	debug("sending packet", &p, op)
	s.logPacketSent(&p, op.frames, now)
	s.onPacketSent(op, space)
	s.recovery.setLossDetectionTimer(now)
	if probing {
		s.mtuProbePending = true
		s.mtuProbePN = op.packetNumber
		s.mtuProbeSentTime = now
	}
	if s.isClient && p.typ == packetTypeHandshake && s.state == stateAttempted {
		s.state = stateHandshake
		s.dropPacketSpace(packetSpaceInitial)
	}
	return n, nil
}

func (s *Conn) writeSpace() packetSpace {
	if s.closeFrame != nil {
		return s.closeWriteSpace()
	}
	if s.recovery.probes > 0 {
		return s.handshake.writeSpace()
	}
	for i := packetSpaceInitial; i < packetSpaceCount; i++ {
		if i == packetSpaceApplication && s.state < stateActive {
			continue
		}
		if s.packetNumberSpaces[i].ready() {
			return i
		}
	}
	if s.state >= stateActive && s.streams.hasFlushable() {
		return packetSpaceApplication
	}
	return packetSpaceCount
}

// closeWriteSpace picks the most advanced packet number space still able
// to encrypt, so CONNECTION_CLOSE is sent at the current encryption level
// rather than regressing to Initial once the handshake has moved on (RFC
// 9000 §10.2.3, §12.5).
func (s *Conn) closeWriteSpace() packetSpace {
	for i := packetSpaceApplication; i >= packetSpaceInitial; i-- {
		if s.packetNumberSpaces[i].canEncrypt() {
			return i
		}
	}
	return packetSpaceInitial
}

func (s *Conn) maxPacketSize() int {
	if s.state >= stateActive {
		n := MaxPacketSize
		if s.peerParams.MaxUDPPayloadSize > 0 && int(s.peerParams.MaxUDPPayloadSize) < n {
			n = int(s.peerParams.MaxUDPPayloadSize)
		}
		if p := s.mtu.plpmtu(); p < n {
			n = p
		}
		if n >= MinInitialPacketSize && n <= MaxPacketSize {
			return n
		}
	}
	return MinInitialPacketSize
}

func (s *Conn) sendFrames(op *outgoingPacket, space packetSpace, left int, now time.Time) int {
	pnSpace := &s.packetNumberSpaces[space]
	payloadLen := 0
	if s.closeFrame != nil {
		n := s.closeFrame.encodedLen()
		if left >= n {
			op.addFrame(s.closeFrame)
			payloadLen += n
			left -= n
			s.setDraining(now)
		}
	}
	if s.state < stateDraining {
		if f := s.sendFrameAck(pnSpace, now); f != nil {
			n := f.encodedLen()
			if left >= n {
				op.addFrame(f)
				payloadLen += n
				left -= n
				pnSpace.ackElicited = false
			}
		}
		if f := s.sendFrameCrypto(pnSpace, left); f != nil {
			n := f.encodedLen()
			op.addFrame(f)
			payloadLen += n
			left -= n
		}
		if space == packetSpaceApplication {
			if f := s.sendFramePathResponse(); f != nil {
				n := f.encodedLen()
				if left >= n {
					op.addFrame(f)
					payloadLen += n
					left -= n
					s.pendingPathResponse = nil
				}
			}
			if f := s.sendFrameHandshakeDone(); f != nil {
				n := f.encodedLen()
				if left >= n {
					op.addFrame(f)
					payloadLen += n
					left -= n
					s.setHandshakeConfirmed(now)
				}
			}
			if f := s.sendFrameMaxData(); f != nil {
				n := f.encodedLen()
				if left >= n {
					op.addFrame(f)
					payloadLen += n
					left -= n
					s.updateMaxData = true
					s.flow.commitMaxRecv()
				}
			}
			for id, st := range s.streams.streams {
				if f := s.sendFrameMaxStreamData(id, st); f != nil {
					n := f.encodedLen()
					if left >= n {
						op.addFrame(f)
						payloadLen += n
						left -= n
						st.flow.commitMaxRecv()
					}
				}
			}
			for id, st := range s.streams.streams {
				if f := s.sendFrameStream(id, st, left); f != nil {
					n := f.encodedLen()
					op.addFrame(f)
					payloadLen += n
					left -= n
				}
			}
		}
		if s.recovery.probes > 0 && left >= 1 {
			f := &pingFrame{}
			n := f.encodedLen()
			op.addFrame(f)
			payloadLen += n
			left -= n
			s.recovery.probes--
		}
	}
	return payloadLen
}

func (s *Conn) onPacketSent(op *outgoingPacket, space packetSpace) {
	op.space = space
	s.recovery.onPacketSent(op)
	s.packetNumberSpaces[space].nextPacketNumber++
	if op.ackEliciting {
		if !s.ackElicitingSent && s.localParams.MaxIdleTimeout > 0 {
			s.idleTimer = op.sentTime.Add(s.localParams.MaxIdleTimeout)
		}
		s.ackElicitingSent = true
	}
}

// Timeout returns the amount of time until the next timeout event.
func (s *Conn) Timeout() time.Duration {
	if s.state == stateClosed {
		return -1
	}
	deadline := s.drainingTimer
	if deadline.IsZero() {
		deadline = s.recovery.lossDetectionTimer
		if deadline.IsZero() || (!s.idleTimer.IsZero() && s.idleTimer.Before(deadline)) {
			deadline = s.idleTimer
		}
		if deadline.IsZero() {
			return -1
		}
	}
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

func (s *Conn) checkTimeout(now time.Time) {
	if !s.drainingTimer.IsZero() && !now.Before(s.drainingTimer) {
		debug("draining timeout expired")
		s.state = stateClosed
		return
	}
	if !s.idleTimer.IsZero() && !now.Before(s.idleTimer) {
		debug("idle timeout expired")
		s.state = stateClosed
		return
	}
	if !s.recovery.lossDetectionTimer.IsZero() && !now.Before(s.recovery.lossDetectionTimer) {
		ranges := s.recovery.onLossDetectionTimeout(now)
		for sp := packetSpaceInitial; sp < packetSpaceCount; sp++ {
			s.applyLost(sp, ranges)
		}
		s.recovery.setLossDetectionTimer(now)
	}
	if s.mtuProbePending && now.Sub(s.mtuProbeSentTime) > s.recovery.probeTimeout() {
		s.mtu.onProbeLost()
		s.mtuProbePending = false
	}
}

// Close sets the connection to closing state.
func (s *Conn) Close(app bool, errCode uint64, reason string) {
	if !s.drainingTimer.IsZero() || s.closeFrame != nil {
		return
	}
	debug("set close code", errCode)
	s.closeFrame = &connectionCloseFrame{
		application:  app,
		errorCode:    errCode,
		reasonPhrase: []byte(reason),
	}
	s.state = stateDraining
}

// InitiateKeyUpdate starts a key update on the 1-RTT packet protection keys
// (RFC 9001 §6.1). It is an error before the handshake is confirmed, and a
// no-op if an earlier update's packets are still unacknowledged, since the
// RFC forbids overlapping updates.
func (s *Conn) InitiateKeyUpdate() error {
	if !s.handshakeConfirmed {
		return newError(KeyUpdateError, "key update before handshake confirmed")
	}
	pnSpace := &s.packetNumberSpaces[packetSpaceApplication]
	if pnSpace.updatePending {
		return nil
	}
	if err := pnSpace.prepareNextKeys(); err != nil {
		return err
	}
	pnSpace.updateKeys()
	return nil
}

// setHandshakeConfirmed latches handshakeConfirmed and its timestamp; callers
// already guard against calling this more than once.
func (s *Conn) setHandshakeConfirmed(now time.Time) {
	s.handshakeConfirmed = true
	s.handshakeConfirmedAt = now
}

// CongestionWindow returns the current congestion window in bytes.
func (s *Conn) CongestionWindow() int { return s.recovery.CongestionWindow() }

// BytesInFlight returns the number of sent bytes awaiting ack or loss
// declaration.
func (s *Conn) BytesInFlight() int { return s.recovery.BytesInFlight() }

// SmoothedRTT returns the current smoothed round-trip time estimate.
func (s *Conn) SmoothedRTT() time.Duration { return s.recovery.SmoothedRTT() }

// MinRTT returns the lowest RTT sample observed so far.
func (s *Conn) MinRTT() time.Duration { return s.recovery.MinRTT() }

// PTOCount returns the number of consecutive probe timeouts since the last
// successful ack.
func (s *Conn) PTOCount() int { return s.recovery.PTOCount() }

// HandshakeDuration returns the time between connection creation and
// handshake confirmation, or zero if the handshake has not yet confirmed.
func (s *Conn) HandshakeDuration() time.Duration {
	if s.handshakeConfirmedAt.IsZero() {
		return 0
	}
	return s.handshakeConfirmedAt.Sub(s.createdAt)
}

// IsEstablished returns true if handshake is complete and the connection is not closing.
func (s *Conn) IsEstablished() bool {
	return s.state == stateActive
}

// IsClosed returns true when the connection is closed and no longer sends or receives packets.
func (s *Conn) IsClosed() bool {
	return s.state == stateClosed
}

// Events consumes received events. It appends to the provided slice and
// clears the internal queue.
func (s *Conn) Events(events []Event) []Event {
	events = append(events, s.events...)
	for i := range s.events {
		s.events[i] = Event{}
	}
	s.events = s.events[:0]
	return events
}

// Stream returns an opened stream, creating a local one if it does not exist.
func (s *Conn) Stream(id uint64) (*Stream, error) {
	return s.getOrCreateStream(id, true)
}

func (s *Conn) sendFrameAck(pnSpace *packetNumberSpace, now time.Time) *ackFrame {
	if pnSpace.ackElicited {
		ackDelay := uint64(now.Sub(pnSpace.largestRecvPacketTime).Microseconds())
		ackDelay /= 1 << s.peerParams.AckDelayExponent
		return newAckFrame(ackDelay, &pnSpace.recvPacketNeedAck)
	}
	return nil
}

func (s *Conn) sendFrameCrypto(pnSpace *packetNumberSpace, left int) *cryptoFrame {
	left -= maxCryptoFrameOverhead
	if left > 0 {
		data, offset, ok := pnSpace.cryptoStream.popSend(left)
		if ok && len(data) > 0 {
			return newCryptoFrame(data, offset)
		}
	}
	return nil
}

func (s *Conn) sendFrameStream(id uint64, st *Stream, left int) *streamFrame {
	allowed := int(s.flow.canSend())
	left -= maxStreamFrameOverhead
	if left > allowed {
		left = allowed
	}
	if left > 0 {
		data, offset, fin, ok := st.popSend(left)
		if ok && (len(data) > 0 || fin) {
			s.flow.addSend(len(data))
			return newStreamFrame(id, data, offset, fin)
		}
	}
	return nil
}

func (s *Conn) sendFrameMaxData() *maxDataFrame {
	if s.updateMaxData || s.flow.shouldUpdateMaxRecv() {
		return newMaxDataFrame(s.flow.maxRecvNext)
	}
	return nil
}

func (s *Conn) sendFrameMaxStreamData(id uint64, st *Stream) *maxStreamDataFrame {
	if st.updateMaxData {
		return newMaxStreamDataFrame(id, st.flow.maxRecvNext)
	}
	return nil
}

func (s *Conn) sendFramePathResponse() *pathResponseFrame {
	if s.pendingPathResponse == nil {
		return nil
	}
	return &pathResponseFrame{data: *s.pendingPathResponse}
}

func (s *Conn) sendFrameHandshakeDone() *handshakeDoneFrame {
	if s.isClient || s.state != stateActive || s.handshakeConfirmed {
		return nil
	}
	return &handshakeDoneFrame{}
}

func (s *Conn) setDraining(now time.Time) {
	if s.drainingTimer.IsZero() {
		s.drainingTimer = now.Add(s.recovery.probeTimeout() * 3)
	}
}

func (s *Conn) getOrCreateStream(id uint64, local bool) (*Stream, error) {
	if st, ok := s.streams.get(id); ok {
		return st, nil
	}
	if local != streamIsLocal(id, s.isClient) {
		return nil, newError(StreamStateError, sprint("invalid type of stream ", id))
	}
	bidi := streamIsBidi(id)
	var st *Stream
	var err error
	if local {
		st, err = s.streams.openLocal(bidi)
	} else {
		st, err = s.streams.getOrCreatePeer(id)
	}
	if err != nil {
		return nil, err
	}
	var maxRecv, maxSend uint64
	if local {
		if bidi {
			maxRecv = s.localParams.InitialMaxStreamDataBidiLocal
			maxSend = s.peerParams.InitialMaxStreamDataBidiRemote
		} else {
			maxRecv = 0
			maxSend = s.peerParams.InitialMaxStreamDataUni
		}
	} else {
		if bidi {
			maxRecv = s.localParams.InitialMaxStreamDataBidiRemote
			maxSend = s.peerParams.InitialMaxStreamDataBidiLocal
		} else {
			maxRecv = s.localParams.InitialMaxStreamDataUni
			maxSend = 0
		}
	}
	st.flow.init(maxRecv, maxSend)
	return st, nil
}

func (s *Conn) dropPacketSpace(space packetSpace) {
	s.packetNumberSpaces[space].drop()
	s.recovery.dropUnackedData(space)
	debug("dropped space", space)
}

func (s *Conn) addEvent(e Event) {
	s.events = append(s.events, e)
}

// rand uses tls.Config.Rand if available.
func (s *Conn) rand(b []byte) error {
	var err error
	if s.tlsConfig.config.TLS != nil && s.tlsConfig.config.TLS.Rand != nil {
		_, err = io.ReadFull(s.tlsConfig.config.TLS.Rand, b)
	} else {
		_, err = rand.Read(b)
	}
	return err
}

// time uses tls.Config.Time if available.
func (s *Conn) time() time.Time {
	if s.tlsConfig.config.TLS != nil && s.tlsConfig.config.TLS.Time != nil {
		return s.tlsConfig.config.TLS.Time()
	}
	return time.Now()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// OnLogEvent sets the handler invoked for qlog-style events.
func (s *Conn) OnLogEvent(fn func(LogEvent)) {
	s.logEventFn = fn
}

func (s *Conn) logPacketDropped(p *packet, now time.Time) {
	if s.logEventFn != nil {
		e := newLogEventPacket(now, logEventPacketDropped, p)
		s.logEventFn(e)
	}
}

func (s *Conn) logPacketReceived(p *packet, now time.Time) {
	if s.logEventFn != nil {
		e := newLogEventPacket(now, logEventPacketReceived, p)
		s.logEventFn(e)
	}
}

func (s *Conn) logPacketSent(p *packet, frames []frame, now time.Time) {
	if s.logEventFn != nil {
		e := newLogEventPacket(now, logEventPacketSent, p)
		s.logEventFn(e)
		for _, f := range frames {
			e = newLogEventFrame(now, logEventFramesProcessed, f)
			s.logEventFn(e)
		}
	}
}

func (s *Conn) logFrameProcessed(f frame, now time.Time) {
	if s.logEventFn != nil {
		e := newLogEventFrame(now, logEventFramesProcessed, f)
		s.logEventFn(e)
	}
}
