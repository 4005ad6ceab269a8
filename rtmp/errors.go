package rtmp

import "errors"

// ProtocolError marks a violation of the chunk-stream or handshake
// wire format that must end the connection (spec.md §7). Transport
// errors and EOF are reported by the caller's Transport/Frontend and
// are not wrapped here.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return "rtmp: protocol error: " + e.Message + ": " + e.Cause.Error()
	}
	return "rtmp: protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func newProtocolError(message string) error {
	return &ProtocolError{Message: message}
}

func wrapProtocolError(message string, cause error) error {
	return &ProtocolError{Message: message, Cause: cause}
}

// Sentinel errors for conditions callers may want to match directly.
var (
	ErrConnectionClosed   = errors.New("rtmp: connection is closed")
	ErrMissedKeepalive    = newProtocolError("no ping response received within the keepalive period")
	ErrUnknownChunkType   = newProtocolError("basic header referenced an unknown fmt")
	ErrChunkStreamNotInit = newProtocolError("type 1/2/3 chunk received before any type 0 chunk on that chunk stream")
)
