package transport

// Transport parameter identifiers, draft-17 through draft-20 (spec §4.7.E).
const (
	paramOriginalDestinationConnectionID = 0x00
	paramIdleTimeout                     = 0x01
	paramStatelessResetToken             = 0x02
	paramMaxPacketSize                   = 0x03 // max_udp_payload_size
	paramInitialMaxData                  = 0x04
	paramInitialMaxStreamDataBidiLocal   = 0x05
	paramInitialMaxStreamDataBidiRemote  = 0x06
	paramInitialMaxStreamDataUni         = 0x07
	paramInitialMaxStreamsBidi           = 0x08
	paramInitialMaxStreamsUni            = 0x09
	paramAckDelayExponent                = 0x0a
	paramMaxAckDelay                     = 0x0b
	paramDisableActiveMigration          = 0x0c
	paramInitialSourceConnectionID       = 0x0f
)

// Parameters is the set of QUIC transport parameters exchanged during the
// handshake (spec §4.7.E), carried as an extension inside the TLS
// ClientHello/EncryptedExtensions.
type Parameters struct {
	OriginalDestinationConnectionID []byte
	InitialSourceConnectionID       []byte
	StatelessResetToken             []byte

	MaxIdleTimeoutMs uint64
	MaxPacketSize    uint64

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64

	AckDelayExponent uint64
	MaxAckDelay      uint64

	DisableActiveMigration bool
}

// DefaultParameters returns the values this implementation advertises
// absent any application override.
func DefaultParameters() Parameters {
	return Parameters{
		MaxPacketSize:                   1452,
		InitialMaxData:                  1 << 20,
		InitialMaxStreamDataBidiLocal:   256 * 1024,
		InitialMaxStreamDataBidiRemote:  256 * 1024,
		InitialMaxStreamDataUni:         256 * 1024,
		InitialMaxStreamsBidi:           100,
		InitialMaxStreamsUni:            100,
		AckDelayExponent:                3,
		MaxAckDelay:                     25,
	}
}

func appendParam(b []byte, id uint64, value []byte) []byte {
	b = appendVarint(b, id)
	b = appendVarint(b, uint64(len(value)))
	return append(b, value...)
}

func appendVarintParam(b []byte, id uint64, value uint64) []byte {
	vb := make([]byte, varintLen(value))
	putVarint(vb, value)
	return appendParam(b, id, vb)
}

// Marshal encodes the parameter set as the length-prefixed sequence RFC
// 9000 §18 defines (id, length, value — each varint-prefixed).
func (p *Parameters) Marshal() []byte {
	var b []byte
	if p.OriginalDestinationConnectionID != nil {
		b = appendParam(b, paramOriginalDestinationConnectionID, p.OriginalDestinationConnectionID)
	}
	if p.InitialSourceConnectionID != nil {
		b = appendParam(b, paramInitialSourceConnectionID, p.InitialSourceConnectionID)
	}
	if p.StatelessResetToken != nil {
		b = appendParam(b, paramStatelessResetToken, p.StatelessResetToken)
	}
	if p.MaxIdleTimeoutMs > 0 {
		b = appendVarintParam(b, paramIdleTimeout, p.MaxIdleTimeoutMs)
	}
	if p.MaxPacketSize > 0 {
		b = appendVarintParam(b, paramMaxPacketSize, p.MaxPacketSize)
	}
	b = appendVarintParam(b, paramInitialMaxData, p.InitialMaxData)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	b = appendVarintParam(b, paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	b = appendVarintParam(b, paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	b = appendVarintParam(b, paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	b = appendVarintParam(b, paramAckDelayExponent, p.AckDelayExponent)
	b = appendVarintParam(b, paramMaxAckDelay, p.MaxAckDelay)
	if p.DisableActiveMigration {
		b = appendParam(b, paramDisableActiveMigration, nil)
	}
	return b
}

// UnmarshalParameters decodes a peer's transport parameter extension.
// Unknown identifiers are skipped, as RFC 9000 §7.4.2 requires.
func UnmarshalParameters(b []byte) (Parameters, error) {
	var p Parameters
	off := 0
	for off < len(b) {
		var id, length uint64
		n := getVarint(b[off:], &id)
		if n == 0 {
			return p, newError(TransportParameterError, "truncated parameter id")
		}
		off += n
		if n = getVarint(b[off:], &length); n == 0 {
			return p, newError(TransportParameterError, "truncated parameter length")
		}
		off += n
		if uint64(len(b)-off) < length {
			return p, newError(TransportParameterError, "truncated parameter value")
		}
		val := b[off : off+int(length)]
		off += int(length)

		switch id {
		case paramOriginalDestinationConnectionID:
			p.OriginalDestinationConnectionID = append([]byte(nil), val...)
		case paramInitialSourceConnectionID:
			p.InitialSourceConnectionID = append([]byte(nil), val...)
		case paramStatelessResetToken:
			p.StatelessResetToken = append([]byte(nil), val...)
		case paramIdleTimeout:
			if err := readVarintParam(val, &p.MaxIdleTimeoutMs); err != nil {
				return p, err
			}
		case paramMaxPacketSize:
			if err := readVarintParam(val, &p.MaxPacketSize); err != nil {
				return p, err
			}
		case paramInitialMaxData:
			if err := readVarintParam(val, &p.InitialMaxData); err != nil {
				return p, err
			}
		case paramInitialMaxStreamDataBidiLocal:
			if err := readVarintParam(val, &p.InitialMaxStreamDataBidiLocal); err != nil {
				return p, err
			}
		case paramInitialMaxStreamDataBidiRemote:
			if err := readVarintParam(val, &p.InitialMaxStreamDataBidiRemote); err != nil {
				return p, err
			}
		case paramInitialMaxStreamDataUni:
			if err := readVarintParam(val, &p.InitialMaxStreamDataUni); err != nil {
				return p, err
			}
		case paramInitialMaxStreamsBidi:
			if err := readVarintParam(val, &p.InitialMaxStreamsBidi); err != nil {
				return p, err
			}
		case paramInitialMaxStreamsUni:
			if err := readVarintParam(val, &p.InitialMaxStreamsUni); err != nil {
				return p, err
			}
		case paramAckDelayExponent:
			if err := readVarintParam(val, &p.AckDelayExponent); err != nil {
				return p, err
			}
		case paramMaxAckDelay:
			if err := readVarintParam(val, &p.MaxAckDelay); err != nil {
				return p, err
			}
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		default:
			// Unknown parameter: ignore its value, already consumed above.
		}
	}
	return p, nil
}

func readVarintParam(b []byte, out *uint64) error {
	n := getVarint(b, out)
	if n == 0 || n != len(b) {
		return newError(TransportParameterError, "malformed varint parameter")
	}
	return nil
}
