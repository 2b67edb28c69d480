package transport

// Frame type codepoints, RFC 9000 §19 (spec §4.7's 24-entry table).
const (
	frameTypePadding             = 0x00
	frameTypePing                = 0x01
	frameTypeAck                 = 0x02
	frameTypeAckECN              = 0x03
	frameTypeResetStream         = 0x04
	frameTypeStopSending         = 0x05
	frameTypeCrypto              = 0x06
	frameTypeNewToken            = 0x07
	frameTypeStream              = 0x08 // through 0x0f, low 3 bits are OFF/LEN/FIN
	frameTypeStreamMax           = 0x0f
	frameTypeMaxData             = 0x10
	frameTypeMaxStreamData       = 0x11
	frameTypeMaxStreamsBidi      = 0x12
	frameTypeMaxStreamsUni       = 0x13
	frameTypeDataBlocked         = 0x14
	frameTypeStreamDataBlocked   = 0x15
	frameTypeStreamsBlockedBidi  = 0x16
	frameTypeStreamsBlockedUni   = 0x17
	frameTypeNewConnectionID     = 0x18
	frameTypeRetireConnectionID  = 0x19
	frameTypePathChallenge       = 0x1a
	frameTypePathResponse        = 0x1b
	frameTypeConnectionClose     = 0x1c
	frameTypeConnectionCloseApp  = 0x1d
	// 0x1e and beyond name no frame in this wire format (HANDSHAKE_DONE
	// belongs to later drafts); decodeFrame's default arm governs them.
)

// frame is anything that can appear inside a packet payload.
type frame interface {
	encodedLen() int
	encode(b []byte) int
}

// --- PADDING ---

type paddingFrame struct {
	length int
}

func newPaddingFrame(length int) *paddingFrame { return &paddingFrame{length: length} }

func (f *paddingFrame) encodedLen() int { return f.length }

func (f *paddingFrame) encode(b []byte) int {
	for i := 0; i < f.length; i++ {
		b[i] = frameTypePadding
	}
	return f.length
}

func decodePaddingFrame(b []byte) (*paddingFrame, int) {
	n := 0
	for n < len(b) && b[n] == frameTypePadding {
		n++
	}
	return &paddingFrame{length: n}, n
}

// --- PING ---

type pingFrame struct{}

func (f *pingFrame) encodedLen() int          { return 1 }
func (f *pingFrame) encode(b []byte) int      { b[0] = frameTypePing; return 1 }

// --- ACK ---

type ackRange struct {
	gap   uint64
	ack   uint64
}

type ackFrame struct {
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	ranges        []ackRange

	ecn     bool
	ect0    uint64
	ect1    uint64
	ecnCE   uint64
}

// newAckFrame builds an ACK frame out of a descending-order rangeSet
// (largest range first), the encoding RFC 9000 §19.3 requires.
func newAckFrame(ranges []pnRange, ackDelay uint64) *ackFrame {
	f := &ackFrame{ackDelay: ackDelay}
	if len(ranges) == 0 {
		return f
	}
	f.largestAck = ranges[0].end
	f.firstAckRange = ranges[0].end - ranges[0].start
	prevSmallest := ranges[0].start
	for _, r := range ranges[1:] {
		gap := prevSmallest - r.end - 2
		ackLen := r.end - r.start
		f.ranges = append(f.ranges, ackRange{gap: gap, ack: ackLen})
		prevSmallest = r.start
	}
	return f
}

// toRangeSet reconstructs the inclusive packet-number ranges an ACK frame
// covers, largest-range first as received on the wire.
func (f *ackFrame) toRangeSet() []pnRange {
	out := make([]pnRange, 0, 1+len(f.ranges))
	largest := f.largestAck
	smallest := largest - f.firstAckRange
	out = append(out, pnRange{start: smallest, end: largest})
	for _, r := range f.ranges {
		largest = smallest - r.gap - 2
		smallest = largest - r.ack
		out = append(out, pnRange{start: smallest, end: largest})
	}
	return out
}

func (f *ackFrame) encodedLen() int {
	typ := uint64(frameTypeAck)
	if f.ecn {
		typ = frameTypeAckECN
	}
	n := varintLen(typ) + varintLen(f.largestAck) + varintLen(f.ackDelay) +
		varintLen(uint64(len(f.ranges))) + varintLen(f.firstAckRange)
	for _, r := range f.ranges {
		n += varintLen(r.gap) + varintLen(r.ack)
	}
	if f.ecn {
		n += varintLen(f.ect0) + varintLen(f.ect1) + varintLen(f.ecnCE)
	}
	return n
}

func (f *ackFrame) encode(b []byte) int {
	off := 0
	typ := uint64(frameTypeAck)
	if f.ecn {
		typ = frameTypeAckECN
	}
	off += putVarint(b[off:], typ)
	off += putVarint(b[off:], f.largestAck)
	off += putVarint(b[off:], f.ackDelay)
	off += putVarint(b[off:], uint64(len(f.ranges)))
	off += putVarint(b[off:], f.firstAckRange)
	for _, r := range f.ranges {
		off += putVarint(b[off:], r.gap)
		off += putVarint(b[off:], r.ack)
	}
	if f.ecn {
		off += putVarint(b[off:], f.ect0)
		off += putVarint(b[off:], f.ect1)
		off += putVarint(b[off:], f.ecnCE)
	}
	return off
}

func decodeAckFrame(b []byte, ecn bool) (*ackFrame, int, error) {
	off := 1 // type byte already consumed by caller
	f := &ackFrame{ecn: ecn}
	var u uint64
	n := getVarint(b[off:], &u)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	f.largestAck = u
	off += n
	if n = getVarint(b[off:], &u); n == 0 {
		return nil, 0, errShortBuffer
	}
	f.ackDelay = u
	off += n
	if n = getVarint(b[off:], &u); n == 0 {
		return nil, 0, errShortBuffer
	}
	count := u
	off += n
	if n = getVarint(b[off:], &u); n == 0 {
		return nil, 0, errShortBuffer
	}
	f.firstAckRange = u
	off += n
	for i := uint64(0); i < count; i++ {
		var gap, ack uint64
		if n = getVarint(b[off:], &gap); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
		if n = getVarint(b[off:], &ack); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
		f.ranges = append(f.ranges, ackRange{gap: gap, ack: ack})
	}
	if ecn {
		if n = getVarint(b[off:], &f.ect0); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
		if n = getVarint(b[off:], &f.ect1); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
		if n = getVarint(b[off:], &f.ecnCE); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
	}
	return f, off, nil
}

// --- RESET_STREAM ---

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(streamID, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: streamID, errorCode: errorCode, finalSize: finalSize}
}

func (f *resetStreamFrame) encodedLen() int {
	return varintLen(frameTypeResetStream) + varintLen(f.streamID) + varintLen(f.errorCode) + varintLen(f.finalSize)
}

func (f *resetStreamFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeResetStream)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.errorCode)
	off += putVarint(b[off:], f.finalSize)
	return off
}

func decodeResetStreamFrame(b []byte) (*resetStreamFrame, int, error) {
	off := 1
	f := &resetStreamFrame{}
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.errorCode); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.finalSize); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	return f, off, nil
}

// --- STOP_SENDING ---

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(streamID, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: streamID, errorCode: errorCode}
}

func (f *stopSendingFrame) encodedLen() int {
	return varintLen(frameTypeStopSending) + varintLen(f.streamID) + varintLen(f.errorCode)
}

func (f *stopSendingFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeStopSending)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.errorCode)
	return off
}

func decodeStopSendingFrame(b []byte) (*stopSendingFrame, int, error) {
	off := 1
	f := &stopSendingFrame{}
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.errorCode); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	return f, off, nil
}

// --- CRYPTO ---

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (f *cryptoFrame) encodedLen() int {
	return varintLen(frameTypeCrypto) + varintLen(f.offset) + varintLen(uint64(len(f.data))) + len(f.data)
}

func (f *cryptoFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeCrypto)
	off += putVarint(b[off:], f.offset)
	off += putVarint(b[off:], uint64(len(f.data)))
	off += copy(b[off:], f.data)
	return off
}

func decodeCryptoFrame(b []byte) (*cryptoFrame, int, error) {
	off := 1
	f := &cryptoFrame{}
	n := getVarint(b[off:], &f.offset)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	var l uint64
	if n = getVarint(b[off:], &l); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if uint64(len(b)-off) < l {
		return nil, 0, errShortBuffer
	}
	f.data = append([]byte(nil), b[off:off+int(l)]...)
	off += int(l)
	return f, off, nil
}

// --- NEW_TOKEN ---

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame { return &newTokenFrame{token: token} }

func (f *newTokenFrame) encodedLen() int {
	return varintLen(frameTypeNewToken) + varintLen(uint64(len(f.token))) + len(f.token)
}

func (f *newTokenFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeNewToken)
	off += putVarint(b[off:], uint64(len(f.token)))
	off += copy(b[off:], f.token)
	return off
}

func decodeNewTokenFrame(b []byte) (*newTokenFrame, int, error) {
	off := 1
	var l uint64
	n := getVarint(b[off:], &l)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if uint64(len(b)-off) < l {
		return nil, 0, errShortBuffer
	}
	f := &newTokenFrame{token: append([]byte(nil), b[off:off+int(l)]...)}
	off += int(l)
	return f, off, nil
}

// --- STREAM ---

type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
	hasLen   bool // whether to encode an explicit length (false = "extends to end of packet")
}

func newStreamFrame(streamID uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: streamID, data: data, offset: offset, fin: fin, hasLen: true}
}

func (f *streamFrame) typeByte() byte {
	t := byte(frameTypeStream)
	if f.offset > 0 {
		t |= 0x04
	}
	if f.hasLen {
		t |= 0x02
	}
	if f.fin {
		t |= 0x01
	}
	return t
}

func (f *streamFrame) encodedLen() int {
	n := 1 + varintLen(f.streamID)
	if f.offset > 0 {
		n += varintLen(f.offset)
	}
	if f.hasLen {
		n += varintLen(uint64(len(f.data)))
	}
	return n + len(f.data)
}

func (f *streamFrame) encode(b []byte) int {
	off := 0
	b[off] = f.typeByte()
	off++
	off += putVarint(b[off:], f.streamID)
	if f.offset > 0 {
		off += putVarint(b[off:], f.offset)
	}
	if f.hasLen {
		off += putVarint(b[off:], uint64(len(f.data)))
	}
	off += copy(b[off:], f.data)
	return off
}

func decodeStreamFrame(b []byte) (*streamFrame, int, error) {
	typ := b[0]
	off := 1
	f := &streamFrame{fin: typ&0x01 != 0}
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if typ&0x04 != 0 {
		if n = getVarint(b[off:], &f.offset); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
	}
	if typ&0x02 != 0 {
		f.hasLen = true
		var l uint64
		if n = getVarint(b[off:], &l); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
		if uint64(len(b)-off) < l {
			return nil, 0, errShortBuffer
		}
		f.data = append([]byte(nil), b[off:off+int(l)]...)
		off += int(l)
	} else {
		f.data = append([]byte(nil), b[off:]...)
		off = len(b)
	}
	return f, off, nil
}

// --- MAX_DATA ---

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(max uint64) *maxDataFrame { return &maxDataFrame{maximumData: max} }

func (f *maxDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxData) + varintLen(f.maximumData)
}

func (f *maxDataFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeMaxData)
	off += putVarint(b[off:], f.maximumData)
	return off
}

func decodeMaxDataFrame(b []byte) (*maxDataFrame, int, error) {
	f := &maxDataFrame{}
	n := getVarint(b[1:], &f.maximumData)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	return f, 1 + n, nil
}

// --- MAX_STREAM_DATA ---

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(streamID, max uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: streamID, maximumData: max}
}

func (f *maxStreamDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxStreamData) + varintLen(f.streamID) + varintLen(f.maximumData)
}

func (f *maxStreamDataFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeMaxStreamData)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.maximumData)
	return off
}

func decodeMaxStreamDataFrame(b []byte) (*maxStreamDataFrame, int, error) {
	off := 1
	f := &maxStreamDataFrame{}
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.maximumData); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	return f, off, nil
}

// --- MAX_STREAMS ---

type maxStreamsFrame struct {
	bidi           bool
	maximumStreams uint64
}

func newMaxStreamsFrame(max uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{bidi: bidi, maximumStreams: max}
}

func (f *maxStreamsFrame) typ() uint64 {
	if f.bidi {
		return frameTypeMaxStreamsBidi
	}
	return frameTypeMaxStreamsUni
}

func (f *maxStreamsFrame) encodedLen() int {
	return varintLen(f.typ()) + varintLen(f.maximumStreams)
}

func (f *maxStreamsFrame) encode(b []byte) int {
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.maximumStreams)
	return off
}

func decodeMaxStreamsFrame(b []byte, bidi bool) (*maxStreamsFrame, int, error) {
	f := &maxStreamsFrame{bidi: bidi}
	n := getVarint(b[1:], &f.maximumStreams)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	return f, 1 + n, nil
}

// --- DATA_BLOCKED ---

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(limit uint64) *dataBlockedFrame { return &dataBlockedFrame{dataLimit: limit} }

func (f *dataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeDataBlocked) + varintLen(f.dataLimit)
}

func (f *dataBlockedFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeDataBlocked)
	off += putVarint(b[off:], f.dataLimit)
	return off
}

func decodeDataBlockedFrame(b []byte) (*dataBlockedFrame, int, error) {
	f := &dataBlockedFrame{}
	n := getVarint(b[1:], &f.dataLimit)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	return f, 1 + n, nil
}

// --- STREAM_DATA_BLOCKED ---

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(streamID, limit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: streamID, dataLimit: limit}
}

func (f *streamDataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeStreamDataBlocked) + varintLen(f.streamID) + varintLen(f.dataLimit)
}

func (f *streamDataBlockedFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeStreamDataBlocked)
	off += putVarint(b[off:], f.streamID)
	off += putVarint(b[off:], f.dataLimit)
	return off
}

func decodeStreamDataBlockedFrame(b []byte) (*streamDataBlockedFrame, int, error) {
	off := 1
	f := &streamDataBlockedFrame{}
	n := getVarint(b[off:], &f.streamID)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.dataLimit); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	return f, off, nil
}

// --- STREAMS_BLOCKED ---

type streamsBlockedFrame struct {
	bidi        bool
	streamLimit uint64
}

func newStreamsBlockedFrame(limit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{bidi: bidi, streamLimit: limit}
}

func (f *streamsBlockedFrame) typ() uint64 {
	if f.bidi {
		return frameTypeStreamsBlockedBidi
	}
	return frameTypeStreamsBlockedUni
}

func (f *streamsBlockedFrame) encodedLen() int {
	return varintLen(f.typ()) + varintLen(f.streamLimit)
}

func (f *streamsBlockedFrame) encode(b []byte) int {
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.streamLimit)
	return off
}

func decodeStreamsBlockedFrame(b []byte, bidi bool) (*streamsBlockedFrame, int, error) {
	f := &streamsBlockedFrame{bidi: bidi}
	n := getVarint(b[1:], &f.streamLimit)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	return f, 1 + n, nil
}

// --- NEW_CONNECTION_ID ---

type newConnectionIDFrame struct {
	sequenceNumber      uint64
	retirePriorTo       uint64
	connectionID        []byte
	statelessResetToken [16]byte
}

func (f *newConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeNewConnectionID) + varintLen(f.sequenceNumber) + varintLen(f.retirePriorTo) +
		1 + len(f.connectionID) + 16
}

func (f *newConnectionIDFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeNewConnectionID)
	off += putVarint(b[off:], f.sequenceNumber)
	off += putVarint(b[off:], f.retirePriorTo)
	b[off] = byte(len(f.connectionID))
	off++
	off += copy(b[off:], f.connectionID)
	off += copy(b[off:], f.statelessResetToken[:])
	return off
}

func decodeNewConnectionIDFrame(b []byte) (*newConnectionIDFrame, int, error) {
	off := 1
	f := &newConnectionIDFrame{}
	n := getVarint(b[off:], &f.sequenceNumber)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if n = getVarint(b[off:], &f.retirePriorTo); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if off >= len(b) {
		return nil, 0, errShortBuffer
	}
	l := int(b[off])
	off++
	if len(b)-off < l+16 {
		return nil, 0, errShortBuffer
	}
	f.connectionID = append([]byte(nil), b[off:off+l]...)
	off += l
	copy(f.statelessResetToken[:], b[off:off+16])
	off += 16
	return f, off, nil
}

// --- RETIRE_CONNECTION_ID ---

type retireConnectionIDFrame struct {
	sequenceNumber uint64
}

func (f *retireConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeRetireConnectionID) + varintLen(f.sequenceNumber)
}

func (f *retireConnectionIDFrame) encode(b []byte) int {
	off := putVarint(b, frameTypeRetireConnectionID)
	off += putVarint(b[off:], f.sequenceNumber)
	return off
}

func decodeRetireConnectionIDFrame(b []byte) (*retireConnectionIDFrame, int, error) {
	f := &retireConnectionIDFrame{}
	n := getVarint(b[1:], &f.sequenceNumber)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	return f, 1 + n, nil
}

// --- PATH_CHALLENGE / PATH_RESPONSE ---

type pathChallengeFrame struct {
	data [8]byte
}

func (f *pathChallengeFrame) encodedLen() int { return 1 + 8 }
func (f *pathChallengeFrame) encode(b []byte) int {
	b[0] = frameTypePathChallenge
	copy(b[1:], f.data[:])
	return 9
}

func decodePathChallengeFrame(b []byte) (*pathChallengeFrame, int, error) {
	if len(b) < 9 {
		return nil, 0, errShortBuffer
	}
	f := &pathChallengeFrame{}
	copy(f.data[:], b[1:9])
	return f, 9, nil
}

type pathResponseFrame struct {
	data [8]byte
}

func (f *pathResponseFrame) encodedLen() int { return 1 + 8 }
func (f *pathResponseFrame) encode(b []byte) int {
	b[0] = frameTypePathResponse
	copy(b[1:], f.data[:])
	return 9
}

func decodePathResponseFrame(b []byte) (*pathResponseFrame, int, error) {
	if len(b) < 9 {
		return nil, 0, errShortBuffer
	}
	f := &pathResponseFrame{}
	copy(f.data[:], b[1:9])
	return f, 9, nil
}

// --- CONNECTION_CLOSE ---

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reason []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{application: application, errorCode: errorCode, frameType: frameType, reasonPhrase: reason}
}

func (f *connectionCloseFrame) typ() uint64 {
	if f.application {
		return frameTypeConnectionCloseApp
	}
	return frameTypeConnectionClose
}

func (f *connectionCloseFrame) encodedLen() int {
	n := varintLen(f.typ()) + varintLen(f.errorCode)
	if !f.application {
		n += varintLen(f.frameType)
	}
	return n + varintLen(uint64(len(f.reasonPhrase))) + len(f.reasonPhrase)
}

func (f *connectionCloseFrame) encode(b []byte) int {
	off := putVarint(b, f.typ())
	off += putVarint(b[off:], f.errorCode)
	if !f.application {
		off += putVarint(b[off:], f.frameType)
	}
	off += putVarint(b[off:], uint64(len(f.reasonPhrase)))
	off += copy(b[off:], f.reasonPhrase)
	return off
}

func decodeConnectionCloseFrame(b []byte, application bool) (*connectionCloseFrame, int, error) {
	off := 1
	f := &connectionCloseFrame{application: application}
	n := getVarint(b[off:], &f.errorCode)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if !application {
		if n = getVarint(b[off:], &f.frameType); n == 0 {
			return nil, 0, errShortBuffer
		}
		off += n
	}
	var l uint64
	if n = getVarint(b[off:], &l); n == 0 {
		return nil, 0, errShortBuffer
	}
	off += n
	if uint64(len(b)-off) < l {
		return nil, 0, errShortBuffer
	}
	f.reasonPhrase = append([]byte(nil), b[off:off+int(l)]...)
	off += int(l)
	return f, off, nil
}

// unknownFrame is a placeholder for a frame type this wire format does not
// define. It is only ever produced when the connection has been configured
// to tolerate them (spec §9 open question (a)); per §4.6 such a frame is
// parsed leniently exactly because it is assumed to carry no payload of its
// own — the type varint is the entire frame.
type unknownFrame struct {
	typ uint64
}

func (f *unknownFrame) encodedLen() int          { return varintLen(f.typ) }
func (f *unknownFrame) encode(b []byte) int      { return putVarint(b, f.typ) }

// decodeFrame reads one frame from the front of b, dispatching on its type
// varint through a table rather than a long if/else chain (the sprawling
// per-type conditional a single handler function would otherwise need).
// tolerant governs the default arm: a type this format never assigned
// (spec §4.7 "Any other type: PROTOCOL_VIOLATION") is rejected unless the
// caller opted into leniency, in which case it is consumed as a bare,
// payload-free frame.
func decodeFrame(b []byte, tolerant bool) (frame, int, error) {
	if len(b) == 0 {
		return nil, 0, errShortBuffer
	}
	if b[0] == frameTypePadding {
		f, n := decodePaddingFrame(b)
		return f, n, nil
	}
	var typ uint64
	n := getVarint(b, &typ)
	if n == 0 {
		return nil, 0, errShortBuffer
	}
	switch {
	case typ == frameTypePing:
		return &pingFrame{}, 1, nil
	case typ == frameTypeAck:
		return decodeAckFrame(b, false)
	case typ == frameTypeAckECN:
		return decodeAckFrame(b, true)
	case typ == frameTypeResetStream:
		return decodeResetStreamFrame(b)
	case typ == frameTypeStopSending:
		return decodeStopSendingFrame(b)
	case typ == frameTypeCrypto:
		return decodeCryptoFrame(b)
	case typ == frameTypeNewToken:
		return decodeNewTokenFrame(b)
	case typ >= frameTypeStream && typ <= frameTypeStreamMax:
		return decodeStreamFrame(b)
	case typ == frameTypeMaxData:
		return decodeMaxDataFrame(b)
	case typ == frameTypeMaxStreamData:
		return decodeMaxStreamDataFrame(b)
	case typ == frameTypeMaxStreamsBidi:
		return decodeMaxStreamsFrame(b, true)
	case typ == frameTypeMaxStreamsUni:
		return decodeMaxStreamsFrame(b, false)
	case typ == frameTypeDataBlocked:
		return decodeDataBlockedFrame(b)
	case typ == frameTypeStreamDataBlocked:
		return decodeStreamDataBlockedFrame(b)
	case typ == frameTypeStreamsBlockedBidi:
		return decodeStreamsBlockedFrame(b, true)
	case typ == frameTypeStreamsBlockedUni:
		return decodeStreamsBlockedFrame(b, false)
	case typ == frameTypeNewConnectionID:
		return decodeNewConnectionIDFrame(b)
	case typ == frameTypeRetireConnectionID:
		return decodeRetireConnectionIDFrame(b)
	case typ == frameTypePathChallenge:
		return decodePathChallengeFrame(b)
	case typ == frameTypePathResponse:
		return decodePathResponseFrame(b)
	case typ == frameTypeConnectionClose:
		return decodeConnectionCloseFrame(b, false)
	case typ == frameTypeConnectionCloseApp:
		return decodeConnectionCloseFrame(b, true)
	default:
		if tolerant {
			return &unknownFrame{typ: typ}, n, nil
		}
		return nil, 0, newFrameError(ProtocolViolation, typ, "unknown frame type")
	}
}

// isAckEliciting reports whether a frame obliges the peer to send an ACK
// in return (every frame except PADDING, ACK/ACK_ECN, and CONNECTION_CLOSE;
// RFC 9000 §13.2).
func isAckEliciting(f frame) bool {
	switch f.(type) {
	case *paddingFrame, *ackFrame, *connectionCloseFrame:
		return false
	default:
		return true
	}
}
