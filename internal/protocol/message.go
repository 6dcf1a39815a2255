// Package protocol maps Chrome DevTools Protocol messages to and from their
// JSON wire form. It has no knowledge of sockets.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrInvalidMessage is returned for input that is not valid JSON or matches
// none of the known message shapes.
var ErrInvalidMessage = errors.New("invalid CDP message")

// Message is one decoded inbound message: *Response, *ErrorResponse or *Event.
type Message interface {
	message()
}

// Response is a successful reply to a command.
type Response struct {
	ID        int64
	Result    json.RawMessage
	SessionID string
}

// ErrorResponse is a reply reporting that a command failed.
type ErrorResponse struct {
	ID        int64
	Error     Error
	SessionID string
}

// Event is an unsolicited notification.
type Event struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

func (*Response) message()      {}
func (*ErrorResponse) message() {}
func (*Event) message()         {}

// Error represents a CDP protocol error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Decode classifies a raw inbound message by the fields it carries:
// id with error is an ErrorResponse, id with result is a Response, and
// method without id is an Event. Error takes precedence over result.
// Returned raw JSON never aliases data.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidMessage)
	}

	f := gjson.GetManyBytes(data, "id", "result", "error", "method", "params", "sessionId")
	id, result, errv, method, params, sid := f[0], f[1], f[2], f[3], f[4], f[5]

	if sid.Exists() && sid.Type != gjson.String {
		return nil, fmt.Errorf("%w: sessionId is %s", ErrInvalidMessage, sid.Type)
	}

	if id.Exists() {
		if id.Type != gjson.Number {
			return nil, fmt.Errorf("%w: id is %s", ErrInvalidMessage, id.Type)
		}
		switch {
		case errv.Exists():
			e, err := decodeError(id.Int(), errv)
			if err != nil {
				return nil, err
			}
			return &ErrorResponse{ID: id.Int(), Error: e, SessionID: sid.String()}, nil
		case result.Exists():
			return &Response{ID: id.Int(), Result: json.RawMessage(result.Raw), SessionID: sid.String()}, nil
		default:
			return nil, fmt.Errorf("%w: id %d without result or error", ErrInvalidMessage, id.Int())
		}
	}

	if method.Exists() {
		if method.Type != gjson.String || method.Str == "" {
			return nil, fmt.Errorf("%w: method is not a name", ErrInvalidMessage)
		}
		evt := &Event{Method: method.Str, SessionID: sid.String()}
		if params.Exists() {
			evt.Params = json.RawMessage(params.Raw)
		}
		return evt, nil
	}

	return nil, fmt.Errorf("%w: neither id nor method present", ErrInvalidMessage)
}

// ReplyError reports an error reply whose id is readable but whose error
// body is not. It wraps ErrInvalidMessage.
type ReplyError struct {
	ID     int64
	Reason string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%v: reply %d: %s", ErrInvalidMessage, e.ID, e.Reason)
}

func (e *ReplyError) Unwrap() error {
	return ErrInvalidMessage
}

func decodeError(id int64, v gjson.Result) (Error, error) {
	if !v.IsObject() {
		return Error{}, &ReplyError{ID: id, Reason: "error is " + v.Type.String()}
	}
	e := Error{
		Code:    int(v.Get("code").Int()),
		Message: v.Get("message").String(),
	}
	if data := v.Get("data"); data.Exists() {
		if data.Type == gjson.String {
			e.Data = data.Str
		} else {
			e.Data = data.Raw
		}
	}
	return e, nil
}
