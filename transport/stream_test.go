package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamIDEncoding(t *testing.T) {
	cases := []struct {
		id     uint64
		client bool
		local  bool
		bidi   bool
	}{
		{0, true, true, true},   // client-initiated bidi
		{1, true, false, true},  // server-initiated bidi, seen by a client
		{2, true, true, false},  // client-initiated uni
		{3, true, false, false}, // server-initiated uni
		{1, false, true, true},  // server-initiated bidi, seen by the server itself
	}
	for _, c := range cases {
		require.Equalf(t, c.local, isStreamLocal(c.id, c.client), "isStreamLocal(%d, client=%v)", c.id, c.client)
		require.Equalf(t, c.bidi, isStreamBidi(c.id), "isStreamBidi(%d)", c.id)
	}
}

func TestStreamCanSendReceiveUnidirectional(t *testing.T) {
	// id=2 is a client-initiated unidirectional stream: only the client
	// may send on it, only the server may receive on it.
	const id = 2
	require.True(t, streamCanSend(id, true), "client should be able to send on its own uni stream")
	require.False(t, streamCanSend(id, false), "server must not be able to send on the client's uni stream")
	require.False(t, streamCanReceive(id, true), "client must not be able to receive on its own send-only uni stream")
	require.True(t, streamCanReceive(id, false), "server should be able to receive on the client's uni stream")
}

func TestStreamCanSendReceiveBidirectional(t *testing.T) {
	const id = 0
	require.True(t, streamCanSend(id, true))
	require.True(t, streamCanSend(id, false))
	require.True(t, streamCanReceive(id, true))
	require.True(t, streamCanReceive(id, false))
}

func TestStreamPushRecvOrdering(t *testing.T) {
	s := newStream(nil, 0)
	s.flow.init(100, 0)
	require.NoError(t, s.pushRecv([]byte("world"), 5, false))
	require.NoError(t, s.pushRecv([]byte("hello"), 0, false))
	require.Equal(t, "helloworld", string(s.recv.readable()))
}

func TestStreamPushRecvFlowControl(t *testing.T) {
	s := newStream(nil, 0)
	s.flow.init(4, 0)
	require.Error(t, s.pushRecv([]byte("toolong"), 0, false), "expected a flow control error for data exceeding the window")
}

func TestStreamPushRecvRetransmitNotDoubleCharged(t *testing.T) {
	s := newStream(nil, 0)
	s.flow.init(5, 0)
	require.NoError(t, s.pushRecv([]byte("hello"), 0, false))
	// Re-delivering the same bytes at the same offset must not consume
	// additional flow-control credit.
	require.NoError(t, s.pushRecv([]byte("hello"), 0, false))
	require.Zero(t, s.flow.canRecv(), "all 5 bytes should be charged exactly once")
}

func TestStreamMapCreateRespectsPeerLimit(t *testing.T) {
	var m streamMap
	m.init(10, 10)
	m.setPeerMaxStreamsBidi(1)
	_, err := m.create(nil, true, false)
	require.NoError(t, err, "first stream should be allowed")
	_, err = m.create(nil, true, false)
	require.Error(t, err, "second bidi stream should exceed the peer-granted limit")
}

func TestStreamMapCreateRemoteRespectsLocalLimit(t *testing.T) {
	var m streamMap
	m.init(1, 0)
	_, err := m.createRemote(nil, 1)
	require.NoError(t, err, "first remote bidi stream should be allowed")
	_, err = m.createRemote(nil, 5)
	require.Error(t, err, "second remote bidi stream should exceed our advertised limit")
}
