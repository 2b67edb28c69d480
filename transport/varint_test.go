package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, maxVarint8}
	for _, v := range cases {
		b := make([]byte, 8)
		n := putVarint(b, v)
		require.Equalf(t, varintLen(v), n, "putVarint(%d)", v)

		var got uint64
		m := getVarint(b[:n], &got)
		require.Equal(t, n, m)
		require.Equal(t, v, got)
	}
}

func TestVarintLenBoundaries(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1},
		{maxVarint1, 1},
		{maxVarint1 + 1, 2},
		{maxVarint2, 2},
		{maxVarint2 + 1, 4},
		{maxVarint4, 4},
		{maxVarint4 + 1, 8},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, varintLen(c.v), "varintLen(%d)", c.v)
	}
}

func TestGetVarintShortBuffer(t *testing.T) {
	var v uint64
	n := getVarint([]byte{0x80}, &v)
	require.Zero(t, n, "getVarint on a truncated buffer must report 0 bytes consumed")
}

func TestAppendVarint(t *testing.T) {
	b := appendVarint(nil, 300)
	var got uint64
	getVarint(b, &got)
	require.Equal(t, uint64(300), got)
}
