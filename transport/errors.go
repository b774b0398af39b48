package transport

import (
	"fmt"
	"strings"
)

// ErrorCode is a QUIC transport error code (RFC 9000 Section 20.1) or a
// CRYPTO_ERROR code (0x0100 + TLS alert).
type ErrorCode uint64

// Transport error codes.
const (
	NoError                  ErrorCode = 0x00
	InternalError            ErrorCode = 0x01
	ConnectionRefused        ErrorCode = 0x02
	FlowControlError         ErrorCode = 0x03
	StreamLimitError         ErrorCode = 0x04
	StreamStateError         ErrorCode = 0x05
	FinalSizeError           ErrorCode = 0x06
	FrameEncodingError       ErrorCode = 0x07
	TransportParameterError  ErrorCode = 0x08
	ConnectionIDLimitError   ErrorCode = 0x09
	ProtocolViolation        ErrorCode = 0x0a
	InvalidToken             ErrorCode = 0x0b
	ApplicationError         ErrorCode = 0x0c
	CryptoBufferExceeded     ErrorCode = 0x0d
	KeyUpdateError           ErrorCode = 0x0e
	AEADLimitReached         ErrorCode = 0x0f
	NoViablePath             ErrorCode = 0x10
	cryptoErrorBase          ErrorCode = 0x0100
)

// newCryptoError maps a TLS alert code onto a QUIC CRYPTO_ERROR code.
func newCryptoError(alert uint8) ErrorCode {
	return cryptoErrorBase + ErrorCode(alert)
}

func (e ErrorCode) isCryptoError() bool {
	return e >= cryptoErrorBase && e < cryptoErrorBase+256
}

func errorCodeString(e ErrorCode) string {
	switch {
	case e.isCryptoError():
		return fmt.Sprintf("crypto_error_%d", e-cryptoErrorBase)
	default:
		if s, ok := errorCodeNames[e]; ok {
			return s
		}
		return fmt.Sprintf("error_0x%x", uint64(e))
	}
}

var errorCodeNames = map[ErrorCode]string{
	NoError:                 "no_error",
	InternalError:           "internal_error",
	ConnectionRefused:       "connection_refused",
	FlowControlError:        "flow_control_error",
	StreamLimitError:        "stream_limit_error",
	StreamStateError:        "stream_state_error",
	FinalSizeError:          "final_size_error",
	FrameEncodingError:      "frame_encoding_error",
	TransportParameterError: "transport_parameter_error",
	ConnectionIDLimitError:  "connection_id_limit_error",
	ProtocolViolation:       "protocol_violation",
	InvalidToken:            "invalid_token",
	ApplicationError:        "application_error",
	CryptoBufferExceeded:    "crypto_buffer_exceeded",
	KeyUpdateError:          "key_update_error",
	AEADLimitReached:        "aead_limit_reached",
	NoViablePath:            "no_viable_path",
}

// Error is a transport-level or application-level error that terminates a
// connection, or (when returned from a codec function) one that should
// discard only the packet or frame being processed.
type Error struct {
	Code        ErrorCode
	Message     string
	Application bool // Delivered as CONNECTION_CLOSE type 0x1d
}

func newError(code ErrorCode, msg string) error {
	return &Error{Code: code, Message: msg}
}

func newAppError(code uint64, msg string) error {
	return &Error{Code: ErrorCode(code), Message: msg, Application: true}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return errorCodeString(e.Code)
	}
	return errorCodeString(e.Code) + ": " + e.Message
}

// sprint is a tiny allocation-free-ish helper used throughout the codebase
// for building debug/error strings from mixed argument types, matching the
// teacher's own "sprint(...)" call sites.
func sprint(args ...interface{}) string {
	var b strings.Builder
	for _, a := range args {
		fmt.Fprint(&b, a)
	}
	return b.String()
}

var (
	errShortBuffer  = newError(InternalError, "short buffer")
	errFlowControl  = newError(FlowControlError, "flow control")
	errInvalidToken = newError(InvalidToken, "invalid token")
)
