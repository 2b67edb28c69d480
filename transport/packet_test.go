package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketLongHeaderRoundTrip(t *testing.T) {
	scid := []byte{1, 2, 3, 4}
	dcid := []byte{5, 6, 7, 8, 9, 10}
	p := &packet{
		typ: packetTypeInitial,
		header: packetHeader{
			version: VersionDraft20,
			dcid:    dcid,
			scid:    scid,
		},
		token:           []byte{0xaa, 0xbb},
		packetNumber:    17,
		packetNumberLen: 2,
	}
	p.payloadLen = p.packetNumberLen + 5 + aeadOverhead
	buf := make([]byte, p.encodedLen())
	n, err := p.encode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n, "encode should fill the full header")

	var decoded packet
	decoded.header.dcil = uint8(len(scid))
	hdrLen, err := decoded.decodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, n-p.packetNumberLen, hdrLen, "decodeHeader excludes the packet number")
	require.Equal(t, packetTypeInitial, decoded.typ)
	require.Equal(t, VersionDraft20, decoded.header.version)
	require.Equal(t, dcid, decoded.header.dcid)
	require.Equal(t, scid, decoded.header.scid)
	require.Equal(t, p.token, decoded.token)
}

func TestPacketShortHeaderRoundTrip(t *testing.T) {
	dcid := []byte{9, 9, 9, 9}
	p := &packet{
		typ:             packetTypeShort,
		header:          packetHeader{dcid: dcid},
		packetNumber:    300,
		packetNumberLen: 2,
	}
	buf := make([]byte, p.encodedLen())
	n, err := p.encode(buf)
	require.NoError(t, err)

	var decoded packet
	decoded.header.dcil = uint8(len(dcid))
	hdrLen, err := decoded.decodeHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, n-p.packetNumberLen, hdrLen)
	require.Equal(t, packetTypeShort, decoded.typ)
	require.Equal(t, dcid, decoded.header.dcid)
}

func TestPacketNumberLenFor(t *testing.T) {
	cases := []struct {
		pn   uint64
		want int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, packetNumberLenFor(c.pn), "packetNumberLenFor(%d)", c.pn)
	}
}

func TestPeekConnectionIDs(t *testing.T) {
	scid := []byte{1, 1, 1, 1}
	dcid := []byte{2, 2, 2, 2, 2, 2, 2, 2}
	p := &packet{
		typ:             packetTypeInitial,
		header:          packetHeader{version: VersionDraft20, dcid: dcid, scid: scid},
		packetNumber:    1,
		packetNumberLen: 1,
	}
	p.payloadLen = p.packetNumberLen + aeadOverhead
	buf := make([]byte, p.encodedLen())
	_, err := p.encode(buf)
	require.NoError(t, err)

	gotDcid, gotScid, isLong, err := PeekConnectionIDs(buf, len(dcid))
	require.NoError(t, err)
	require.True(t, isLong, "expected a long-header packet")
	require.Equal(t, dcid, gotDcid)
	require.Equal(t, scid, gotScid)
}

func TestVersionNegotiationDecode(t *testing.T) {
	dcid := []byte{1, 2, 3}
	scid := []byte{4, 5, 6}
	datagram := NegotiateVersion(dcid, scid)
	var p packet
	p.header.dcil = uint8(len(scid))
	hdrLen, err := p.decodeHeader(datagram)
	require.NoError(t, err)
	require.Equal(t, packetTypeVersionNegotiation, p.typ)

	_, err = p.decodeBody(datagram[:hdrLen+4*len(DefaultSupportedVersions)])
	require.NoError(t, err)
	require.Equal(t, len(DefaultSupportedVersions), len(p.supportedVersions))
}
