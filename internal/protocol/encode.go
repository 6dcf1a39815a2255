package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Request represents a CDP command request.
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

type reply struct {
	ID        int64           `json:"id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

var emptyObject = json.RawMessage(`{}`)

// Encode produces the wire form of a command. The sessionId field is
// omitted when sessionID is empty and params is always sent, as {} when nil.
//
// params may be a json.RawMessage or []byte holding a JSON object, or any
// value that encoding/json marshals to an object. Keys are sent as given;
// callers holding snake_case names translate them with WireParams first.
func Encode(id int64, method string, params any, sessionID string) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("encode command %d: empty method", id)
	}
	p, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return json.Marshal(Request{ID: id, Method: method, Params: p, SessionID: sessionID})
}

func encodeParams(params any) (json.RawMessage, error) {
	var raw []byte
	switch v := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return objectOrEmpty(raw)
}

// objectOrEmpty accepts a JSON object, mapping null and empty input to {}.
func objectOrEmpty(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return emptyObject, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("malformed JSON")
	}
	r := gjson.ParseBytes(raw)
	switch {
	case r.Type == gjson.Null:
		return emptyObject, nil
	case !r.IsObject():
		return nil, fmt.Errorf("expected a JSON object, got %s", r.Type)
	}
	return json.RawMessage(raw), nil
}

// DecodeCommand parses the wire form of a command. It is the mirror of
// Encode, used by fake peers in tests.
func DecodeCommand(data []byte) (*Request, error) {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, fmt.Errorf("%w: malformed command", ErrInvalidMessage)
	}
	f := gjson.GetManyBytes(data, "id", "method", "params", "sessionId")
	id, method, params, sid := f[0], f[1], f[2], f[3]
	if id.Type != gjson.Number {
		return nil, fmt.Errorf("%w: command without numeric id", ErrInvalidMessage)
	}
	if method.Type != gjson.String || method.Str == "" {
		return nil, fmt.Errorf("%w: command without method", ErrInvalidMessage)
	}
	req := &Request{ID: id.Int(), Method: method.Str, SessionID: sid.String()}
	if params.Exists() {
		req.Params = json.RawMessage(params.Raw)
	}
	return req, nil
}

// EncodeResponse produces a successful reply to command id.
func EncodeResponse(id int64, result any, sessionID string) ([]byte, error) {
	var raw json.RawMessage
	switch v := result.(type) {
	case nil:
		raw = emptyObject
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		raw = b
	}
	return json.Marshal(reply{ID: id, Result: raw, SessionID: sessionID})
}

// EncodeError produces an error reply to command id.
func EncodeError(id int64, code int, message, sessionID string) ([]byte, error) {
	return json.Marshal(reply{
		ID:        id,
		Error:     &Error{Code: code, Message: message},
		SessionID: sessionID,
	})
}

// EncodeEvent produces an event notification.
func EncodeEvent(method string, params any, sessionID string) ([]byte, error) {
	p, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return json.Marshal(Event{Method: method, Params: p, SessionID: sessionID})
}
