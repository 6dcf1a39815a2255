package wsframe

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Close status codes (RFC 6455 Section 7.4.1).
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseUnsupported   = 1003
	CloseNoStatus      = 1005
	CloseAbnormal      = 1006
	CloseInvalidData   = 1007
	ClosePolicy        = 1008
	CloseMessageTooBig = 1009
	CloseInternalError = 1011
)

// CloseError reports the status the peer closed the connection with.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: status %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: status %d: %s", e.Code, e.Reason)
}

// ClosePayload builds the body of a close frame. CloseNoStatus produces an
// empty body since that code must never appear on the wire. The reason is
// cut to fit the control frame limit.
func ClosePayload(code int, reason string) []byte {
	if code == CloseNoStatus || code == 0 {
		return nil
	}
	limit := MaxControlPayload - 2
	if len(reason) > limit {
		reason = reason[:limit]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(b, reason...)
}

// ParseClosePayload decodes the body of a close frame. An empty body means
// no status was sent.
func ParseClosePayload(p []byte) (*CloseError, error) {
	switch {
	case len(p) == 0:
		return &CloseError{Code: CloseNoStatus}, nil
	case len(p) == 1:
		return nil, &FrameError{Err: ErrInvalidClosePayload, Opcode: OpClose}
	}
	code := int(binary.BigEndian.Uint16(p))
	if !validCloseCode(code) {
		return nil, &FrameError{
			Err:    fmt.Errorf("%w: status %d", ErrInvalidClosePayload, code),
			Opcode: OpClose,
		}
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return nil, &FrameError{
			Err:    fmt.Errorf("%w: reason is not UTF-8", ErrInvalidClosePayload),
			Opcode: OpClose,
		}
	}
	return &CloseError{Code: code, Reason: string(reason)}, nil
}

func validCloseCode(code int) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code < 1000 || code > 1014:
		return false
	}
	switch code {
	case 1004, CloseNoStatus, CloseAbnormal:
		return false
	}
	return true
}
