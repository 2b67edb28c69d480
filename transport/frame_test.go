package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f frame) frame {
	t.Helper()
	buf := make([]byte, f.encodedLen())
	n := f.encode(buf)
	require.Equal(t, len(buf), n, "encode should write exactly encodedLen bytes")

	got, consumed, err := decodeFrame(buf, false)
	require.NoError(t, err)
	require.Equal(t, n, consumed)
	return got
}

func TestStreamFrameRoundTrip(t *testing.T) {
	f := newStreamFrame(4, []byte("payload"), 12, true)
	got, ok := roundTrip(t, f).(*streamFrame)
	require.True(t, ok)
	require.Equal(t, uint64(4), got.streamID)
	require.Equal(t, uint64(12), got.offset)
	require.Equal(t, "payload", string(got.data))
	require.True(t, got.fin)
}

func TestStreamFrameZeroOffsetOmitsField(t *testing.T) {
	f := newStreamFrame(0, []byte("x"), 0, false)
	got, ok := roundTrip(t, f).(*streamFrame)
	require.True(t, ok)
	require.Zero(t, got.offset)
	require.Zero(t, got.streamID)
	require.Equal(t, "x", string(got.data))
}

func TestCryptoFrameRoundTrip(t *testing.T) {
	f := newCryptoFrame([]byte("clienthello"), 40)
	got, ok := roundTrip(t, f).(*cryptoFrame)
	require.True(t, ok)
	require.Equal(t, uint64(40), got.offset)
	require.Equal(t, "clienthello", string(got.data))
}

func TestAckFrameRoundTripViaRangeSet(t *testing.T) {
	var rs rangeSet
	for _, pn := range []uint64{1, 2, 3, 7, 8, 10} {
		rs.add(pn)
	}
	f := newAckFrame(rs.descending(), 5)
	got, ok := roundTrip(t, f).(*ackFrame)
	require.True(t, ok)
	require.Equal(t, rs.descending(), got.toRangeSet())
	require.Equal(t, uint64(5), got.ackDelay)
}

func TestResetStreamFrameRoundTrip(t *testing.T) {
	f := newResetStreamFrame(9, 0x10, 1024)
	got, ok := roundTrip(t, f).(*resetStreamFrame)
	require.True(t, ok)
	require.Equal(t, uint64(9), got.streamID)
	require.Equal(t, uint64(0x10), got.errorCode)
	require.Equal(t, uint64(1024), got.finalSize)
}

func TestMaxStreamsFrameBidiUni(t *testing.T) {
	bidi, ok := roundTrip(t, newMaxStreamsFrame(7, true)).(*maxStreamsFrame)
	require.True(t, ok)
	require.True(t, bidi.bidi)
	require.Equal(t, uint64(7), bidi.maximumStreams)

	uni, ok := roundTrip(t, newMaxStreamsFrame(3, false)).(*maxStreamsFrame)
	require.True(t, ok)
	require.False(t, uni.bidi)
	require.Equal(t, uint64(3), uni.maximumStreams)
}

func TestDecodeFrameUnknownTypeDefaultsToProtocolViolation(t *testing.T) {
	b := appendVarint(nil, 0x1e) // HANDSHAKE_DONE is not part of this wire format
	_, _, err := decodeFrame(b, false)
	qerr, ok := err.(*QuicConnectionError)
	require.True(t, ok, "expected *QuicConnectionError, got %T", err)
	require.Equal(t, ProtocolViolation, qerr.ErrorCode)
}

func TestDecodeFrameUnknownTypeToleratedWhenConfigured(t *testing.T) {
	b := appendVarint(nil, 0x1e)
	f, n, err := decodeFrame(b, true)
	require.NoError(t, err)
	uf, ok := f.(*unknownFrame)
	require.True(t, ok, "expected *unknownFrame, got %T", f)
	require.EqualValues(t, 0x1e, uf.typ)
	require.Equal(t, len(b), n)
}

func TestIsAckEliciting(t *testing.T) {
	require.False(t, isAckEliciting(&paddingFrame{}), "PADDING must not be ack-eliciting")
	require.False(t, isAckEliciting(&ackFrame{}), "ACK must not be ack-eliciting")
	require.False(t, isAckEliciting(newConnectionCloseFrame(0, 0, nil, false)), "CONNECTION_CLOSE must not be ack-eliciting")
	require.True(t, isAckEliciting(&pingFrame{}), "PING should be ack-eliciting")
	require.True(t, isAckEliciting(newStreamFrame(0, []byte("x"), 0, false)), "STREAM should be ack-eliciting")
}

func TestDecodePaddingCollapsesRun(t *testing.T) {
	b := make([]byte, 5)
	f, n, err := decodeFrame(b, false)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	_, ok := f.(*paddingFrame)
	require.True(t, ok, "expected *paddingFrame, got %T", f)
}
