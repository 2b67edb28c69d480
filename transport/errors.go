package transport

import (
	"errors"
	"fmt"
)

// TransportErrorCode is a QUIC transport error code (spec §4.7).
type TransportErrorCode uint64

// Error codes defined by draft-17 through draft-20.
const (
	NoError                  TransportErrorCode = 0x0
	InternalError            TransportErrorCode = 0x1
	FlowControlError         TransportErrorCode = 0x3
	StreamLimitError         TransportErrorCode = 0x4
	StreamStateError         TransportErrorCode = 0x5
	FinalSizeError           TransportErrorCode = 0x6
	FrameEncodingError       TransportErrorCode = 0x7
	TransportParameterError  TransportErrorCode = 0x8
	ProtocolViolation        TransportErrorCode = 0xa
	CryptoErrorBase          TransportErrorCode = 0x100
)

func (e TransportErrorCode) String() string {
	switch {
	case e >= CryptoErrorBase:
		return fmt.Sprintf("crypto_error_%d", e-CryptoErrorBase)
	}
	switch e {
	case NoError:
		return "no_error"
	case InternalError:
		return "internal_error"
	case FlowControlError:
		return "flow_control_error"
	case StreamLimitError:
		return "stream_limit_error"
	case StreamStateError:
		return "stream_state_error"
	case FinalSizeError:
		return "final_size_error"
	case FrameEncodingError:
		return "frame_encoding_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case ProtocolViolation:
		return "protocol_violation"
	default:
		return fmt.Sprintf("unknown_error_%#x", uint64(e))
	}
}

func errorCodeString(e uint64) string {
	return TransportErrorCode(e).String()
}

// QuicConnectionError is a protocol-level error raised by a frame handler
// (spec §4.7, §7a). It carries enough information to build a
// CONNECTION_CLOSE frame and to be asserted against in tests.
type QuicConnectionError struct {
	ErrorCode    TransportErrorCode
	FrameType    uint64
	ReasonPhrase string
}

func (e *QuicConnectionError) Error() string {
	if e.ReasonPhrase != "" {
		return fmt.Sprintf("quic: %s (frame 0x%x): %s", e.ErrorCode, e.FrameType, e.ReasonPhrase)
	}
	return fmt.Sprintf("quic: %s (frame 0x%x)", e.ErrorCode, e.FrameType)
}

func newError(code TransportErrorCode, reason string) *QuicConnectionError {
	return &QuicConnectionError{ErrorCode: code, ReasonPhrase: reason}
}

func newFrameError(code TransportErrorCode, frameType uint64, reason string) *QuicConnectionError {
	return &QuicConnectionError{ErrorCode: code, FrameType: frameType, ReasonPhrase: reason}
}

// errPacketDropped is a sentinel used internally to signal that a packet
// must be silently discarded (spec §7b): header-protection removal failure,
// AEAD open failure, or an undecryptable epoch. It must never become a
// QuicConnectionError and must never reach the caller of DatagramReceived.
var errPacketDropped = errors.New("quic: packet dropped")

// errShortBuffer is returned internally when an outbound buffer has no room
// left for the frame being built; callers treat it as "stop building". The
// frame decoders also return it for truncated input, which recvFrames turns
// into FRAME_ENCODING_ERROR.
var errShortBuffer = errors.New("quic: short buffer")

// errInvalidToken names an invalid Retry token. Nothing returns it at
// present: recvRetry drops a Retry it cannot accept with errPacketDropped.
var errInvalidToken = errors.New("quic: invalid retry token")
