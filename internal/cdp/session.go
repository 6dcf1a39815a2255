package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	cdproto "github.com/chromedp/cdproto/cdp"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Session is a handle on one attached target. The zero-ID session addresses
// the browser itself, or the page when the transport is already scoped to
// one. Sessions are plain values: copying one is free and dropping one needs
// no cleanup.
type Session struct {
	id     string
	client *Client
}

// jsonOptions matches how cdproto types are meant to be encoded.
var jsonOptions = jsonv2.JoinOptions(
	jsonv2.DefaultOptionsV2(),
	jsontext.AllowInvalidUTF8(true),
)

var _ cdproto.Executor = Session{}

// ID returns the session identifier.
func (s Session) ID() string {
	return s.id
}

// Send sends a command within the session and waits for the response.
// Uses the client's default timeout.
func (s Session) Send(method string, params any) (json.RawMessage, error) {
	return s.client.send(context.Background(), s.id, method, params)
}

// SendContext sends a command within the session with a context for
// cancellation.
func (s Session) SendContext(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.client.send(ctx, s.id, method, params)
}

// Subscribe registers a handler for the session's events. See
// Client.Subscribe.
func (s Session) Subscribe(handler func(Event)) func() {
	return s.client.Subscribe(s.id, handler)
}

// Execute implements cdp.Executor so cdproto commands run through the
// session:
//
//	err := page.Navigate(url).Do(cdp.WithExecutor(ctx, session))
func (s Session) Execute(ctx context.Context, method string, params, res any) error {
	var raw json.RawMessage
	if params != nil {
		buf, err := jsonv2.Marshal(params, jsonOptions)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		raw = buf
	}

	result, err := s.client.send(ctx, s.id, method, raw)
	if err != nil {
		return err
	}
	if res == nil || len(result) == 0 {
		return nil
	}
	if err := jsonv2.Unmarshal(result, res, jsonOptions); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}
