package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlowControlSendCredit(t *testing.T) {
	var f flowControl
	f.init(0, 100)
	require.Equal(t, uint64(100), f.canSend())

	f.addSend(40)
	require.Equal(t, uint64(60), f.canSend())

	f.addSend(60)
	require.Zero(t, f.canSend())
}

func TestFlowControlSetMaxSendMonotonic(t *testing.T) {
	var f flowControl
	f.init(0, 100)
	require.False(t, f.setMaxSend(50), "setMaxSend should reject a lower value")
	require.True(t, f.setMaxSend(200), "setMaxSend should accept a higher value")
	require.Equal(t, uint64(200), f.canSend())
}

func TestFlowControlRecvCredit(t *testing.T) {
	var f flowControl
	f.init(100, 0)
	require.Equal(t, uint64(100), f.canRecv())

	f.addRecv(30)
	require.Equal(t, uint64(70), f.canRecv())
}

func TestFlowControlWindowUpdate(t *testing.T) {
	var f flowControl
	f.init(100, 0)
	require.False(t, f.shouldUpdateMaxRecv(), "fresh flow control should not need an update")

	f.addRecv(60)
	require.True(t, f.shouldUpdateMaxRecv(), "consuming over half the window should trigger an update")

	f.commitMaxRecv()
	require.False(t, f.shouldUpdateMaxRecv(), "shouldUpdateMaxRecv should settle after commit")
	require.Equal(t, uint64(100), f.canRecv())
}

func TestMonotoneCounter(t *testing.T) {
	var c monotoneCounter
	require.True(t, c.raise(5), "first raise should apply")
	require.False(t, c.raise(3), "raise with a smaller value should be rejected")
	require.Equal(t, uint64(5), c.get())

	require.True(t, c.raise(10), "raise with a larger value should apply")
	require.Equal(t, uint64(10), c.get())
}
