package transport

import (
	"sync"
	"time"
)

type connectionState uint8

const (
	stateFirstflight connectionState = iota
	stateHandshaking
	stateConnected
	stateClosing
	stateDraining
	stateTerminated
)

// Conn is a single QUIC connection's state machine: packet number spaces,
// streams, flow control, and the TLS handshake collaborator, all advanced
// synchronously by ConnectionMade/DatagramReceived/Stream I/O (spec §3, §5).
type Conn struct {
	mu   sync.Mutex
	cond *sync.Cond

	isClient bool
	version  uint32
	config   *Config

	scid  []byte // source CID
	dcid  []byte // destination CID, replaced once the peer's real SCID is learned
	odcid []byte // original destination CID, used to validate peer transport params
	rscid []byte // retry source CID, set once a Retry is accepted
	token []byte // token to echo in Initial packets after a Retry

	// clientRandom is the 32-byte random field of the ClientHello, captured
	// from the raw handshake bytes the first time either side sees it
	// (captureClientRandom) so the NSS-format keylog lines (spec §6) carry
	// the one value both endpoints agree on, not a locally generated one.
	clientRandom    [32]byte
	clientRandomSet bool

	packetNumberSpaces [packetSpaceCount]packetNumberSpace
	streams            streamMap
	remoteCIDs         cidSet

	localParams   Parameters
	peerParams    Parameters
	gotPeerParams bool

	handshake tlsHandshake
	flow      flowControl

	state                 connectionState
	gotPeerCID            bool
	didVersionNegotiation bool
	didRetry              bool
	handshakeConfirmed    bool

	closeFrame *connectionCloseFrame
	closeSent  bool

	pendingPathChallenge [8]byte
	havePathChallenge    bool

	supportedVersions []uint32

	sink func([]byte) error

	events []Event

	logEventFn func(LogEvent)
}

// Connect creates a client connection, derives Initial keys from a freshly
// chosen destination CID, and starts the TLS handshake.
func Connect(scid []byte, config *Config) (*Conn, error) {
	dcid, err := randomCID(DefaultCIDLength)
	if err != nil {
		return nil, err
	}
	c, err := newConn(config, scid, dcid, true)
	if err != nil {
		return nil, err
	}
	c.odcid = dcid
	if err := c.deriveInitialKeyMaterial(dcid); err != nil {
		return nil, err
	}
	if err := c.startHandshake(); err != nil {
		return nil, err
	}
	return c, nil
}

// Accept creates a server connection for a client Initial already decoded
// by the caller, whose destination CID was odcid.
func Accept(scid, odcid []byte, config *Config) (*Conn, error) {
	c, err := newConn(config, scid, odcid, false)
	if err != nil {
		return nil, err
	}
	c.odcid = odcid
	if err := c.deriveInitialKeyMaterial(odcid); err != nil {
		return nil, err
	}
	if err := c.startHandshake(); err != nil {
		return nil, err
	}
	return c, nil
}

func newConn(config *Config, scid, dcid []byte, isClient bool) (*Conn, error) {
	if config == nil {
		return nil, newError(InternalError, "config required")
	}
	if len(scid) > MaxCIDLength || len(dcid) > MaxCIDLength {
		return nil, newError(ProtocolViolation, "cid too long")
	}
	c := &Conn{
		version:           config.Version,
		isClient:          isClient,
		config:            config,
		localParams:       config.Params,
		scid:              append([]byte(nil), scid...),
		dcid:              append([]byte(nil), dcid...),
		supportedVersions: DefaultSupportedVersions,
	}
	c.cond = sync.NewCond(&c.mu)
	c.streams.init(config.Params.InitialMaxStreamsBidi, config.Params.InitialMaxStreamsUni)
	c.handshake.keylog = config.KeyLog
	for i := range c.packetNumberSpaces {
		c.packetNumberSpaces[i].init()
	}
	c.localParams.InitialSourceConnectionID = c.scid
	if !isClient {
		c.localParams.OriginalDestinationConnectionID = dcid
	}
	return c, nil
}

// captureClientRandom picks the 32-byte random field out of a raw ClientHello
// handshake message the first time either side observes one: the client sees
// it in the bytes it is about to send, the server in the bytes it is about
// to hand to crypto/tls, so both converge on the identical value the keylog
// format requires (spec §6) without crypto/tls exposing it directly.
func (c *Conn) captureClientRandom(data []byte) {
	const clientHelloType = 1
	const randomOffset = 1 + 3 + 2 // msg type, 3-byte length, legacy_version
	if c.clientRandomSet || len(data) < randomOffset+32 || data[0] != clientHelloType {
		return
	}
	copy(c.clientRandom[:], data[randomOffset:randomOffset+32])
	c.clientRandomSet = true
}

func (c *Conn) deriveInitialKeyMaterial(dcidForSecret []byte) error {
	var ia initialAEAD
	if err := ia.init(dcidForSecret); err != nil {
		return err
	}
	space := &c.packetNumberSpaces[packetSpaceInitial]
	if c.isClient {
		space.sealer = ia.client
		space.opener = ia.server
	} else {
		space.sealer = ia.server
		space.opener = ia.client
	}
	return nil
}

func (c *Conn) startHandshake() error {
	return c.initTLS(c.config.TLS, c.localParams)
}

// SetTransportSink installs the function used to emit outbound datagrams
// (spec §6 "Transport sink").
func (c *Conn) SetTransportSink(fn func([]byte) error) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

// OnLogEvent installs the structured-logging callback (spec §6 "Structured
// logging").
func (c *Conn) OnLogEvent(fn func(LogEvent)) {
	c.logEventFn = fn
}

func (c *Conn) logEvent(e LogEvent) {
	if c.logEventFn != nil {
		c.logEventFn(e)
	}
}

func (c *Conn) terminal() bool {
	return c.state == stateClosing || c.state == stateDraining || c.state == stateTerminated
}

// IsClient reports whether this connection is the handshake initiator.
func (c *Conn) IsClient() bool { return c.isClient }

// State exposes the connection's lifecycle stage for diagnostics.
func (c *Conn) State() string {
	switch c.state {
	case stateFirstflight:
		return "firstflight"
	case stateHandshaking:
		return "handshaking"
	case stateConnected:
		return "connected"
	case stateClosing:
		return "closing"
	case stateDraining:
		return "draining"
	default:
		return "terminated"
	}
}

// ConnectionMade triggers the first build pass; for a client this produces
// the first Initial flight.
func (c *Conn) ConnectionMade() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateFirstflight {
		c.state = stateHandshaking
	}
	return c.buildAndFlushLocked()
}

// CreateStream opens a new stream initiated by this endpoint, sized with
// whatever flow-control credit the peer's transport parameters granted.
func (c *Conn) CreateStream(unidirectional bool) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.streams.create(c, c.isClient, unidirectional)
	if err != nil {
		return nil, err
	}
	sendInit := c.peerParams.InitialMaxStreamDataUni
	recvInit := uint64(0)
	if !unidirectional {
		sendInit = c.peerParams.InitialMaxStreamDataBidiRemote
		recvInit = c.localParams.InitialMaxStreamDataBidiLocal
	}
	st.flow.init(recvInit, sendInit)
	return st, nil
}

// Stream looks up a stream previously created locally or by the peer.
func (c *Conn) Stream(id uint64) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.get(id)
}

// Close schedules a CONNECTION_CLOSE and transitions to Closing (spec §7).
func (c *Conn) Close(application bool, code uint64, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal() {
		return nil
	}
	c.closeFrame = newConnectionCloseFrame(code, 0, []byte(reason), application)
	c.state = stateClosing
	c.cond.Broadcast()
	return c.buildAndFlushLocked()
}

// buildAndFlush acquires the connection lock and runs one build pass;
// Stream.Write/Close use this to push newly queued bytes out promptly.
func (c *Conn) buildAndFlush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildAndFlushLocked()
}

// DatagramReceived processes one inbound UDP datagram, which may contain
// several coalesced QUIC packets (spec §4.6), then runs a build pass so any
// frames the processing produced (ACKs, credit, replies) go out promptly.
func (c *Conn) DatagramReceived(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for len(b) > 0 {
		n, err := c.recvPacket(b, now)
		if err != nil {
			if err == errPacketDropped {
				break
			}
			if qerr, ok := err.(*QuicConnectionError); ok {
				c.onLocalError(qerr)
				break
			}
			return err
		}
		if n <= 0 {
			break
		}
		b = b[n:]
	}
	c.cond.Broadcast()
	return c.buildAndFlushLocked()
}

func (c *Conn) onLocalError(err *QuicConnectionError) {
	if c.terminal() {
		return
	}
	c.closeFrame = newConnectionCloseFrame(uint64(err.ErrorCode), err.FrameType, []byte(err.ReasonPhrase), false)
	c.state = stateClosing
	c.queueEvent(Event{Type: EventConnectionClose, ErrorCode: err.ErrorCode, Reason: err.ReasonPhrase})
}

// recvPacket decodes and processes a single packet at the front of b,
// returning the number of bytes it consumed.
func (c *Conn) recvPacket(b []byte, now time.Time) (int, error) {
	p := &packet{}
	p.header.dcil = uint8(len(c.scid))
	hdrLen, err := p.decodeHeader(b)
	if err != nil {
		return 0, errPacketDropped
	}
	if _, err := p.decodeBody(b); err != nil {
		return 0, errPacketDropped
	}

	switch p.typ {
	case packetTypeVersionNegotiation:
		return c.recvVersionNegotiation(p, b)
	case packetTypeRetry:
		return c.recvRetry(p, b)
	}

	space := spaceFromPacketType(p.typ)
	ps := &c.packetNumberSpaces[space]
	if !ps.canDecrypt() {
		return 0, errPacketDropped
	}

	isLong := p.typ != packetTypeShort
	pnOffset := hdrLen
	pnLen, err := removeHeaderProtection(ps.opener, b, pnOffset, isLong)
	if err != nil {
		return 0, errPacketDropped
	}
	p.packetNumberLen = pnLen
	p.packetNumber = getPacketNumber(b[pnOffset:pnOffset+pnLen], pnLen)

	var totalLen int
	if isLong {
		totalLen = hdrLen + p.payloadLen
	} else {
		totalLen = len(b)
	}
	if totalLen > len(b) || totalLen < pnOffset+pnLen {
		return 0, errPacketDropped
	}
	aad := append([]byte(nil), b[:pnOffset+pnLen]...)
	ciphertext := b[pnOffset+pnLen : totalLen]
	plaintext, err := ps.opener.open(nil, aad, ciphertext, p.packetNumber)
	if err != nil {
		return 0, errPacketDropped
	}

	if !c.gotPeerCID && len(p.header.scid) > 0 {
		c.dcid = append([]byte(nil), p.header.scid...)
		c.gotPeerCID = true
	}

	ps.onPacketReceived(p.packetNumber, now)
	c.logEvent(newLogEventPacket(now, logEventPacketReceived, p))

	if err := c.recvFrames(space, plaintext); err != nil {
		return 0, err
	}
	return totalLen, nil
}

func (c *Conn) recvVersionNegotiation(p *packet, b []byte) (int, error) {
	if !c.isClient || c.didVersionNegotiation || c.handshake.done {
		return len(b), nil
	}
	c.didVersionNegotiation = true
	var chosen uint32
	for _, v := range c.supportedVersions {
		for _, offered := range p.supportedVersions {
			if v == offered {
				chosen = v
				break
			}
		}
		if chosen != 0 {
			break
		}
	}
	if chosen == 0 {
		// No mutually supported version: nothing further we can do; leave
		// the connection stalled in its current state rather than resend.
		return len(b), nil
	}
	c.version = chosen
	for i := range c.packetNumberSpaces {
		c.packetNumberSpaces[i].reset()
	}
	dcid, err := randomCID(DefaultCIDLength)
	if err != nil {
		return 0, err
	}
	c.dcid = dcid
	c.odcid = dcid
	c.gotPeerCID = false
	if err := c.deriveInitialKeyMaterial(dcid); err != nil {
		return 0, err
	}
	if err := c.startHandshake(); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Conn) recvRetry(p *packet, b []byte) (int, error) {
	if !c.isClient || c.didRetry || c.handshakeConfirmed {
		return len(b), nil
	}
	if !verifyRetryIntegrity(b, c.odcid) {
		return 0, errPacketDropped
	}
	c.didRetry = true
	c.rscid = append([]byte(nil), p.header.scid...)
	c.dcid = append([]byte(nil), p.header.scid...)
	c.gotPeerCID = true
	c.token = append([]byte(nil), p.token...)
	for i := range c.packetNumberSpaces {
		c.packetNumberSpaces[i].reset()
	}
	if err := c.deriveInitialKeyMaterial(c.dcid); err != nil {
		return 0, err
	}
	if err := c.startHandshake(); err != nil {
		return 0, err
	}
	return len(b), nil
}

// recvFrames parses and applies every frame in a decrypted packet payload,
// marking the space ack-eliciting as appropriate (spec §4.6/§4.7).
func (c *Conn) recvFrames(space packetSpace, b []byte) error {
	ps := &c.packetNumberSpaces[space]
	elicitsAck := false
	for len(b) > 0 {
		f, n, err := decodeFrame(b, c.config.TolerateUnknownFrames)
		if err != nil {
			if err == errShortBuffer {
				return newError(FrameEncodingError, "malformed frame")
			}
			return err
		}
		c.logEvent(newLogEventFrame(time.Now(), logEventFramesProcessed, f))
		if isAckEliciting(f) {
			elicitsAck = true
		}
		if err := c.applyFrame(space, f); err != nil {
			return err
		}
		b = b[n:]
	}
	if elicitsAck {
		ps.ackElicited = true
	}
	return nil
}

// applyFrame is the frame-type dispatch table spec §9 calls for: a type
// switch keyed on the concrete frame type, rather than a chain of per-type
// conditionals, so "unrecognized type" is a default-arm property instead of
// an omission bug.
func (c *Conn) applyFrame(space packetSpace, f frame) error {
	switch f := f.(type) {
	case *paddingFrame:
		return nil
	case *pingFrame:
		return nil
	case *ackFrame:
		return c.recvFrameAck(space, f)
	case *resetStreamFrame:
		return c.recvFrameResetStream(f)
	case *stopSendingFrame:
		return c.recvFrameStopSending(f)
	case *cryptoFrame:
		return c.recvFrameCrypto(space, f)
	case *newTokenFrame:
		return c.recvFrameNewToken(f)
	case *streamFrame:
		return c.recvFrameStream(f)
	case *maxDataFrame:
		return c.recvFrameMaxData(f)
	case *maxStreamDataFrame:
		return c.recvFrameMaxStreamData(f)
	case *maxStreamsFrame:
		return c.recvFrameMaxStreams(f)
	case *dataBlockedFrame:
		return nil
	case *streamDataBlockedFrame:
		return c.recvFrameStreamDataBlocked(f)
	case *streamsBlockedFrame:
		return nil
	case *newConnectionIDFrame:
		c.remoteCIDs.add(connectionID{
			sequence:            f.sequenceNumber,
			retirePriorTo:       f.retirePriorTo,
			cid:                 f.connectionID,
			statelessResetToken: f.statelessResetToken[:],
		})
		return nil
	case *retireConnectionIDFrame:
		c.remoteCIDs.retire(f.sequenceNumber)
		return nil
	case *pathChallengeFrame:
		return c.recvFramePathChallenge(f)
	case *pathResponseFrame:
		return c.recvFramePathResponse(f)
	case *connectionCloseFrame:
		return c.recvFrameConnectionClose(f)
	case *unknownFrame:
		return nil
	default:
		return newError(ProtocolViolation, "unhandled frame")
	}
}

func (c *Conn) recvFrameAck(space packetSpace, f *ackFrame) error {
	ps := &c.packetNumberSpaces[space]
	ranges := f.toRangeSet()
	ps.onAckReceived(ranges, func(sent frame) {
		switch sf := sent.(type) {
		case *maxDataFrame:
			c.flow.commitMaxRecv()
		case *maxStreamDataFrame:
			if st := c.streams.get(sf.streamID); st != nil {
				st.flow.commitMaxRecv()
			}
		}
	})
	return nil
}

func (c *Conn) recvFrameCrypto(space packetSpace, f *cryptoFrame) error {
	ps := &c.packetNumberSpaces[space]
	if err := ps.cryptoStream.pushRecv(f.data, f.offset); err != nil {
		return err
	}
	if err := c.feedCrypto(space); err != nil {
		return err
	}
	if c.handshake.done && c.state != stateConnected && !c.terminal() {
		c.state = stateConnected
		if !c.isClient {
			// HANDSHAKE_DONE (0x1e) names no frame in this wire format
			// (spec §4.7): the server's handshake confirmation is implicit
			// in having sent its last flight, as in drafts 17 through 20.
			c.handshakeConfirmed = true
		}
	}
	return nil
}

func (c *Conn) recvFrameNewToken(f *newTokenFrame) error {
	if !c.isClient {
		return newFrameError(ProtocolViolation, frameTypeNewToken, "server received NEW_TOKEN")
	}
	return nil
}

func (c *Conn) recvFrameResetStream(f *resetStreamFrame) error {
	if !streamCanSend(f.streamID, !c.isClient) {
		return newFrameError(StreamStateError, frameTypeResetStream, "Stream is send-only")
	}
	st := c.getOrCreateStream(f.streamID)
	if st == nil {
		return nil
	}
	st.resetReceived = true
	st.resetErrorCode = f.errorCode
	c.queueEvent(Event{Type: EventStreamReset, StreamID: f.streamID, ErrorCode: TransportErrorCode(f.errorCode)})
	return nil
}

func (c *Conn) recvFrameStopSending(f *stopSendingFrame) error {
	if !streamCanReceive(f.streamID, !c.isClient) {
		return newFrameError(StreamStateError, frameTypeStopSending, "Stream is receive-only")
	}
	st := c.getOrCreateStream(f.streamID)
	if st == nil {
		return nil
	}
	st.stopRequested = true
	return nil
}

func (c *Conn) recvFrameStream(f *streamFrame) error {
	if !streamCanReceive(f.streamID, c.isClient) {
		return newFrameError(StreamStateError, frameTypeStream, "Stream is send-only")
	}
	st := c.getOrCreateStream(f.streamID)
	if st == nil {
		return newError(StreamLimitError, "stream limit")
	}
	if err := st.pushRecv(f.data, f.offset, f.fin); err != nil {
		return err
	}
	c.queueEvent(Event{Type: EventStream, StreamID: f.streamID})
	return nil
}

func (c *Conn) recvFrameMaxData(f *maxDataFrame) error {
	c.flow.setMaxSend(f.maximumData)
	return nil
}

func (c *Conn) recvFrameMaxStreamData(f *maxStreamDataFrame) error {
	if !streamCanSend(f.streamID, c.isClient) {
		return newFrameError(StreamStateError, frameTypeMaxStreamData, "Stream is receive-only")
	}
	st := c.getOrCreateStream(f.streamID)
	if st == nil {
		return nil
	}
	st.flow.setMaxSend(f.maximumData)
	return nil
}

func (c *Conn) recvFrameMaxStreams(f *maxStreamsFrame) error {
	if f.bidi {
		c.streams.setPeerMaxStreamsBidi(f.maximumStreams)
	} else {
		c.streams.setPeerMaxStreamsUni(f.maximumStreams)
	}
	return nil
}

func (c *Conn) recvFrameStreamDataBlocked(f *streamDataBlockedFrame) error {
	if !streamCanReceive(f.streamID, c.isClient) {
		return newFrameError(StreamStateError, frameTypeStreamDataBlocked, "Stream is send-only")
	}
	return nil
}

func (c *Conn) recvFramePathChallenge(f *pathChallengeFrame) error {
	c.pendingPathChallenge = f.data
	c.havePathChallenge = true
	return nil
}

func (c *Conn) recvFramePathResponse(f *pathResponseFrame) error {
	return newFrameError(ProtocolViolation, frameTypePathResponse, "unsolicited PATH_RESPONSE")
}

func (c *Conn) recvFrameConnectionClose(f *connectionCloseFrame) error {
	if c.state == stateDraining || c.state == stateTerminated {
		return nil
	}
	wasClosing := c.state == stateClosing
	c.state = stateDraining
	c.queueEvent(Event{Type: EventConnectionClose, ErrorCode: TransportErrorCode(f.errorCode), Reason: string(f.reasonPhrase)})
	if !wasClosing {
		c.closeFrame = nil // draining: nothing further is ever sent
	}
	return nil
}

// getOrCreateStream returns the Stream for id, creating it on first mention
// if the peer is the one entitled to have opened it.
func (c *Conn) getOrCreateStream(id uint64) *Stream {
	if st := c.streams.get(id); st != nil {
		return st
	}
	if isStreamLocal(id, c.isClient) {
		return nil
	}
	st, err := c.streams.createRemote(c, id)
	if err != nil {
		return nil
	}
	recvInit := uint64(0)
	sendInit := uint64(0)
	if isStreamBidi(id) {
		recvInit = c.localParams.InitialMaxStreamDataBidiRemote
		sendInit = c.peerParams.InitialMaxStreamDataBidiLocal
	} else {
		recvInit = c.localParams.InitialMaxStreamDataUni
	}
	st.flow.init(recvInit, sendInit)
	return st
}

// validatePeerTransportParams checks the peer's original_destination_connection_id
// against what we actually sent to, and initializes flow-control state that
// depends on both sides' parameters (RFC 9000 §7.3).
func (c *Conn) validatePeerTransportParams() error {
	if c.isClient && len(c.peerParams.OriginalDestinationConnectionID) > 0 &&
		!bytesEqual(c.peerParams.OriginalDestinationConnectionID, c.odcid) {
		return newError(TransportParameterError, "original_destination_connection_id mismatch")
	}
	c.gotPeerParams = true
	c.flow.init(c.localParams.InitialMaxData, c.peerParams.InitialMaxData)
	c.streams.setPeerMaxStreamsBidi(c.peerParams.InitialMaxStreamsBidi)
	c.streams.setPeerMaxStreamsUni(c.peerParams.InitialMaxStreamsUni)
	return nil
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

// NegotiateVersion builds a Version Negotiation datagram for use before any
// Conn exists, when a listener peeks at an inbound long header and finds a
// version it does not support (spec §4.1 "Version Negotiation").
func NegotiateVersion(dcid, scid []byte) []byte {
	buf := make([]byte, 0, 7+len(scid)+len(dcid)+4*len(DefaultSupportedVersions))
	buf = append(buf, formLong|fixedBit)
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, byte(len(dcid)))
	buf = append(buf, dcid...)
	buf = append(buf, byte(len(scid)))
	buf = append(buf, scid...)
	for _, v := range DefaultSupportedVersions {
		buf = append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return buf
}

// --- outbound packet builder (spec §4.5) ---

const maxDatagramSize = 1452
const minInitialDatagramSize = 1200

// buildAndFlushLocked drains every packet-number space that has something
// ready to send, coalescing whatever spaces have keys and data ready into
// MTU-bounded datagrams in Initial -> Handshake -> Application order (spec
// §2(c), §4.1, §4.5: "the builder coalesces where keys are available").
func (c *Conn) buildAndFlushLocked() error {
	if c.sink == nil {
		return nil
	}
	if c.terminal() {
		return c.buildClosePacketLocked()
	}
	for iterations := 0; iterations < 1024; iterations++ {
		dgram, err := c.buildDatagramLocked()
		if err != nil {
			return err
		}
		if dgram == nil {
			return nil
		}
		if err := c.sink(dgram); err != nil {
			return err
		}
	}
	return nil
}

// buildDatagramLocked assembles one outbound UDP datagram, coalescing a
// packet from every packet-number space that has usable keys and frames
// ready, in ascending space order, until the datagram hits its size limit
// (spec §4.5): minInitialDatagramSize until the handshake completes, then
// the peer's max_udp_payload_size capped at maxDatagramSize. A client's
// Initial packet pads itself to minInitialDatagramSize (encodePacket),
// which also satisfies the minimum for any datagram it is coalesced into.
func (c *Conn) buildDatagramLocked() ([]byte, error) {
	limit := minInitialDatagramSize
	if c.state == stateConnected {
		limit = maxDatagramSize
		if p := c.peerParams.MaxPacketSize; p > 0 && p < uint64(limit) {
			limit = int(p)
		}
	}
	var dgram []byte
	for space := packetSpace(0); space < packetSpaceCount; space++ {
		ps := &c.packetNumberSpaces[space]
		if !ps.canEncrypt() {
			continue
		}
		available := limit - len(dgram)
		if available <= 64 {
			break
		}
		frames, ackEliciting := c.collectFrames(space, available)
		if len(frames) == 0 {
			continue
		}
		pkt, err := c.encodePacket(space, frames, ackEliciting)
		if err != nil {
			return nil, err
		}
		dgram = append(dgram, pkt...)
	}
	if len(dgram) == 0 {
		return nil, nil
	}
	return dgram, nil
}

func (c *Conn) buildClosePacketLocked() error {
	if c.closeSent || c.closeFrame == nil || c.sink == nil {
		return nil
	}
	for space := packetSpaceApplication; space >= packetSpaceInitial; space-- {
		if c.packetNumberSpaces[space].canEncrypt() {
			dgram, err := c.encodePacket(space, []frame{c.closeFrame}, true)
			if err != nil {
				return err
			}
			c.closeSent = true
			return c.sink(dgram)
		}
	}
	return nil
}

// collectFrames gathers the frames the next packet in space should carry,
// respecting a conservative payload budget out of the bytes still free in
// the datagram being assembled (spec §4.5).
func (c *Conn) collectFrames(space packetSpace, available int) ([]frame, bool) {
	ps := &c.packetNumberSpaces[space]
	var frames []frame
	budget := available - 64 // header, AEAD tag, and a margin for long headers
	if budget <= 0 {
		return nil, false
	}

	if ps.ackElicited && !ps.recvPacketNeedAck.empty() {
		f := newAckFrame(ps.recvPacketNeedAck.descending(), 0)
		frames = append(frames, f)
		budget -= f.encodedLen()
		ps.ackElicited = false
	}

	for budget > 32 {
		n := budget - 16
		if n > 900 {
			n = 900
		}
		data, offset := ps.cryptoStream.popSend(n)
		if len(data) == 0 {
			break
		}
		f := newCryptoFrame(data, offset)
		frames = append(frames, f)
		budget -= f.encodedLen()
	}

	if space == packetSpaceApplication {
		if c.flow.shouldUpdateMaxRecv() {
			f := newMaxDataFrame(c.flow.maxRecvNext)
			frames = append(frames, f)
			budget -= f.encodedLen()
		}
		for _, st := range c.streams.roundRobinOrder() {
			if st.flow.shouldUpdateMaxRecv() {
				f := newMaxStreamDataFrame(st.id, st.flow.maxRecvNext)
				frames = append(frames, f)
				budget -= f.encodedLen()
			}
		}
		if c.havePathChallenge {
			frames = append(frames, &pathResponseFrame{data: c.pendingPathChallenge})
			c.havePathChallenge = false
			budget -= 9
		}
		// STREAM frames round-robin across ready streams (spec §4.5):
		// each build pass picks up where the last one left off instead of
		// always favoring the same streams, and a stream is skipped once
		// either its own or the connection's send credit is exhausted
		// (spec §4.4 "subject to both stream and connection send credit").
		ready := c.streams.roundRobinOrder()
		visited := 0
		for _, st := range ready {
			if budget <= 16 {
				break
			}
			visited++
			if !st.hasPending() {
				continue
			}
			connAvail := int(c.flow.canSend())
			if connAvail == 0 {
				break
			}
			avail := int(st.flow.canSend())
			if avail == 0 {
				continue
			}
			if avail > connAvail {
				avail = connAvail
			}
			n := budget - 16
			if n > avail {
				n = avail
			}
			data, offset, fin := st.popSend(n)
			if len(data) == 0 && !fin {
				continue
			}
			f := newStreamFrame(st.id, data, offset, fin)
			st.flow.addSend(len(data))
			c.flow.addSend(len(data))
			frames = append(frames, f)
			budget -= f.encodedLen()
		}
		c.streams.advanceRoundRobin(visited)
	}

	if len(frames) == 0 {
		return nil, false
	}
	ackEliciting := false
	for _, f := range frames {
		if isAckEliciting(f) {
			ackEliciting = true
			break
		}
	}
	return frames, ackEliciting
}

// encodePacket serializes, pads, encrypts, and header-protects one packet,
// recording it in the space's sent ledger.
func (c *Conn) encodePacket(space packetSpace, frames []frame, ackEliciting bool) ([]byte, error) {
	ps := &c.packetNumberSpaces[space]
	pn := ps.nextPacketNumber

	pkt := &packet{
		typ: packetTypeFromSpace(space),
		header: packetHeader{
			version: c.version,
			dcid:    c.dcid,
			scid:    c.scid,
		},
		packetNumber:    pn,
		packetNumberLen: packetNumberLenFor(pn),
	}
	if pkt.typ == packetTypeInitial {
		pkt.token = c.token
	}

	payloadLen := 0
	for _, f := range frames {
		payloadLen += f.encodedLen()
	}

	isLong := pkt.typ != packetTypeShort
	if isLong {
		pkt.payloadLen = pkt.packetNumberLen + payloadLen + aeadOverhead
	}
	headerLen := pkt.encodedLen()

	// A client's Initial packet is padded to the minimum datagram size so
	// the server's first flight stays below the anti-amplification limit
	// (spec §4.1). Padding is a frame, not trailing datagram bytes, so it
	// is added here, before sealing, per spec §2(c) "frame, encrypt, pad".
	if c.isClient && pkt.typ == packetTypeInitial {
		if total := headerLen + payloadLen + aeadOverhead; total < minInitialDatagramSize {
			pad := newPaddingFrame(minInitialDatagramSize - total)
			frames = append(frames, pad)
			payloadLen += pad.encodedLen()
			if isLong {
				pkt.payloadLen = pkt.packetNumberLen + payloadLen + aeadOverhead
			}
			headerLen = pkt.encodedLen()
		}
	}

	buf := make([]byte, headerLen+payloadLen+aeadOverhead)
	n, err := pkt.encode(buf)
	if err != nil {
		return nil, err
	}
	pnOffset := n - pkt.packetNumberLen

	plaintext := make([]byte, 0, payloadLen)
	for _, f := range frames {
		fb := make([]byte, f.encodedLen())
		f.encode(fb)
		plaintext = append(plaintext, fb...)
	}

	sealed := ps.sealer.seal(buf[:n], buf[:n], plaintext, pn)
	buf = sealed

	if err := applyHeaderProtection(ps.sealer, buf, pnOffset, pkt.packetNumberLen, isLong); err != nil {
		return nil, err
	}

	ps.onPacketSent(pn, frames, ackEliciting)
	ps.nextPacketNumber++
	c.logEvent(newLogEventPacket(time.Now(), logEventPacketSent, pkt))
	return buf, nil
}
