package transport

import (
	"encoding/binary"
)

// QUIC draft versions this core negotiates (spec §6).
const (
	VersionDraft17 uint32 = 0xff000011
	VersionDraft18 uint32 = 0xff000012
	VersionDraft19 uint32 = 0xff000013
	VersionDraft20 uint32 = 0xff000014
)

// DefaultSupportedVersions is the version list a freshly constructed
// Connection offers, newest first.
var DefaultSupportedVersions = []uint32{VersionDraft20, VersionDraft19, VersionDraft18, VersionDraft17}

// PeekConnectionIDs extracts the destination and source connection IDs from
// a datagram's leading packet without decrypting or otherwise validating
// it, so a socket layer can demultiplex inbound datagrams to an existing
// Conn (by dcid) or recognize a fresh long-header packet needing Accept (by
// version/form) before any Conn exists (spec §6 "Transport sink" binding).
// localCIDLen is the length this endpoint's own CIDs are issued with, used
// to parse the fixed-length DCID field of a short header.
func PeekConnectionIDs(b []byte, localCIDLen int) (dcid, scid []byte, isLong bool, err error) {
	p := &packet{}
	p.header.dcil = uint8(localCIDLen)
	if _, err := p.decodeHeader(b); err != nil {
		return nil, nil, false, err
	}
	return p.header.dcid, p.header.scid, p.typ != packetTypeShort, nil
}

func versionSupported(v uint32) bool {
	switch v {
	case VersionDraft17, VersionDraft18, VersionDraft19, VersionDraft20:
		return true
	default:
		return false
	}
}

// packetSpace indexes the three packet-number spaces of spec §3.
type packetSpace int

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication // "OneRtt" epoch in spec.md's terminology
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return "unknown"
	}
}

// packetType is the long-header packet type, plus a sentinel for the
// short header and for version negotiation (which carries no type bits).
type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeShort
	packetTypeVersionNegotiation
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0-rtt"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeShort:
		return "1-rtt"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	default:
		return "unknown"
	}
}

func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

func spaceFromPacketType(t packetType) packetSpace {
	switch t {
	case packetTypeInitial:
		return packetSpaceInitial
	case packetTypeHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}

const (
	formLong  = 0x80
	fixedBit  = 0x40
	longTypeMask = 0x30
	longTypeShift = 4
)

// packetHeader carries the fields common to every packet form.
type packetHeader struct {
	version uint32
	dcid    []byte
	scid    []byte
	dcil    uint8 // expected DCID length, used by the receiver to parse short headers
}

// packet is a single decoded (but possibly still encrypted) QUIC packet.
type packet struct {
	typ    packetType
	header packetHeader

	token             []byte
	supportedVersions []uint32

	packetNumber    uint64
	packetNumberLen int

	headerLen  int // bytes consumed by the cleartext header, excluding packet number
	payloadLen int // length field for long headers: packet number + payload + AEAD tag
}

func (p *packet) String() string {
	return p.typ.String()
}

// decodeHeader parses the invariant portion of a packet header: form,
// version, and connection IDs. It does not parse or remove header
// protection. For short headers, header.dcil must already be set to the
// length of our own CID so the DCID can be sliced out.
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "short packet")
	}
	first := b[0]
	if first&formLong == 0 {
		return p.decodeShortHeader(b)
	}
	return p.decodeLongHeader(b, first)
}

func (p *packet) decodeLongHeader(b []byte, first byte) (int, error) {
	if len(b) < 5 {
		return 0, newError(FrameEncodingError, "short long header")
	}
	off := 1
	version := binary.BigEndian.Uint32(b[off:])
	off += 4
	p.header.version = version

	dcil := int(b[off])
	off++
	if len(b) < off+dcil {
		return 0, newError(FrameEncodingError, "dcid")
	}
	p.header.dcid = b[off : off+dcil]
	off += dcil

	if len(b) < off+1 {
		return 0, newError(FrameEncodingError, "scil")
	}
	scil := int(b[off])
	off++
	if len(b) < off+scil {
		return 0, newError(FrameEncodingError, "scid")
	}
	p.header.scid = b[off : off+scil]
	off += scil

	if version == 0 {
		p.typ = packetTypeVersionNegotiation
		p.headerLen = off
		return off, nil
	}

	switch (first & longTypeMask) >> longTypeShift {
	case 0:
		p.typ = packetTypeInitial
	case 1:
		p.typ = packetTypeZeroRTT
	case 2:
		p.typ = packetTypeHandshake
	case 3:
		p.typ = packetTypeRetry
	}

	if p.typ == packetTypeRetry {
		// Everything after the header is the token: drafts 17 through 20
		// define no Retry integrity tag (§6), so none is split off here.
		p.token = b[off:]
		p.headerLen = len(b)
		return len(b), nil
	}

	if p.typ == packetTypeInitial {
		var tokenLen uint64
		n := getVarint(b[off:], &tokenLen)
		if n == 0 {
			return 0, newError(FrameEncodingError, "token length")
		}
		off += n
		if len(b) < off+int(tokenLen) {
			return 0, newError(FrameEncodingError, "token")
		}
		p.token = b[off : off+int(tokenLen)]
		off += int(tokenLen)
	}

	var length uint64
	n := getVarint(b[off:], &length)
	if n == 0 {
		return 0, newError(FrameEncodingError, "length")
	}
	off += n
	p.payloadLen = int(length)
	p.headerLen = off
	return off, nil
}

func (p *packet) decodeShortHeader(b []byte) (int, error) {
	p.typ = packetTypeShort
	dcil := int(p.header.dcil)
	if len(b) < 1+dcil {
		return 0, newError(FrameEncodingError, "short header dcid")
	}
	p.header.dcid = b[1 : 1+dcil]
	p.headerLen = 1 + dcil
	return p.headerLen, nil
}

// decodeBody finishes parsing type-specific cleartext fields that follow
// the invariant header: the version list for Version Negotiation packets.
func (p *packet) decodeBody(b []byte) (int, error) {
	if p.typ != packetTypeVersionNegotiation {
		return 0, nil
	}
	rest := b[p.headerLen:]
	n := 0
	for len(rest)-n >= 4 {
		p.supportedVersions = append(p.supportedVersions, binary.BigEndian.Uint32(rest[n:]))
		n += 4
	}
	return n, nil
}

// encodedLen returns the number of bytes the cleartext header plus packet
// number field will occupy, used to size outbound buffers before the
// length field and payload are known.
func (p *packet) encodedLen() int {
	switch p.typ {
	case packetTypeShort:
		return 1 + len(p.header.dcid) + p.packetNumberLen
	default:
		n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
		if p.typ == packetTypeInitial {
			n += varintLen(uint64(len(p.token))) + len(p.token)
		}
		n += 4 // Length field, always the 4-byte varint form (encodeLongHeader)
		n += p.packetNumberLen
		return n
	}
}

// encode writes the cleartext header (including the unprotected packet
// number) into b and returns the offset where the payload begins.
func (p *packet) encode(b []byte) (int, error) {
	if p.packetNumberLen == 0 {
		p.packetNumberLen = packetNumberLenFor(p.packetNumber)
	}
	switch p.typ {
	case packetTypeShort:
		return p.encodeShortHeader(b)
	default:
		return p.encodeLongHeader(b)
	}
}

func (p *packet) encodeLongHeader(b []byte) (int, error) {
	off := 0
	first := byte(formLong | fixedBit)
	var typeBits byte
	switch p.typ {
	case packetTypeInitial:
		typeBits = 0
	case packetTypeZeroRTT:
		typeBits = 1
	case packetTypeHandshake:
		typeBits = 2
	case packetTypeRetry:
		typeBits = 3
	}
	first |= typeBits << longTypeShift
	first |= byte(p.packetNumberLen - 1)
	if len(b) < off+1 {
		return 0, errShortBuffer
	}
	b[off] = first
	off++
	if len(b) < off+4 {
		return 0, errShortBuffer
	}
	binary.BigEndian.PutUint32(b[off:], p.header.version)
	off += 4
	if len(b) < off+1+len(p.header.dcid) {
		return 0, errShortBuffer
	}
	b[off] = byte(len(p.header.dcid))
	off++
	off += copy(b[off:], p.header.dcid)
	if len(b) < off+1+len(p.header.scid) {
		return 0, errShortBuffer
	}
	b[off] = byte(len(p.header.scid))
	off++
	off += copy(b[off:], p.header.scid)
	if p.typ == packetTypeInitial {
		need := varintLen(uint64(len(p.token))) + len(p.token)
		if len(b) < off+need {
			return 0, errShortBuffer
		}
		b = appendVarintInPlace(b, &off, uint64(len(p.token)))
		off += copy(b[off:], p.token)
	}
	if len(b) < off+4 {
		return 0, errShortBuffer
	}
	// Length is always encoded as a 4-byte varint so its width does not
	// depend on the eventual payload size, matching common practice for
	// coalesced packet construction.
	putVarint4(b[off:], uint64(p.payloadLen))
	off += 4
	if len(b) < off+p.packetNumberLen {
		return 0, errShortBuffer
	}
	putPacketNumber(b[off:off+p.packetNumberLen], p.packetNumber, p.packetNumberLen)
	off += p.packetNumberLen
	return off, nil
}

func (p *packet) encodeShortHeader(b []byte) (int, error) {
	off := 0
	first := byte(fixedBit)
	first |= byte(p.packetNumberLen - 1)
	if len(b) < 1+len(p.header.dcid)+p.packetNumberLen {
		return 0, errShortBuffer
	}
	b[off] = first
	off++
	off += copy(b[off:], p.header.dcid)
	putPacketNumber(b[off:off+p.packetNumberLen], p.packetNumber, p.packetNumberLen)
	off += p.packetNumberLen
	return off, nil
}

func appendVarintInPlace(b []byte, off *int, v uint64) []byte {
	n := putVarint(b[*off:], v)
	*off += n
	return b
}

// putVarint4 always encodes v using the 4-byte varint form (top two bits
// 0b10), padding with leading zero bits, so the Length field's width is
// fixed before the payload size is known.
func putVarint4(b []byte, v uint64) {
	if v > maxVarint4 {
		panic("value too large for 4-byte varint")
	}
	b[0] = 0x80 | byte(v>>24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func packetNumberLenFor(pn uint64) int {
	switch {
	case pn < 1<<8:
		return 1
	case pn < 1<<16:
		return 2
	case pn < 1<<24:
		return 3
	default:
		return 4
	}
}

func putPacketNumber(b []byte, pn uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(pn)
		pn >>= 8
	}
}

func getPacketNumber(b []byte, n int) uint64 {
	var pn uint64
	for i := 0; i < n; i++ {
		pn = pn<<8 | uint64(b[i])
	}
	return pn
}
