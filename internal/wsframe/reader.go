package wsframe

import (
	"errors"
	"fmt"
	"io"
)

// Reader turns a stream of frames into complete messages. Fragments are
// reassembled, control frames are handed to the hooks and never returned.
//
// Reader is not safe for concurrent use.
type Reader struct {
	// MaxFrameSize bounds the payload of a single frame.
	MaxFrameSize int64

	// MaxMessageSize bounds a reassembled message.
	MaxMessageSize int64

	// AllowMasked accepts masked frames. Clients leave it false since a
	// server must never mask.
	AllowMasked bool

	// OnPing is called with the payload of every ping. The hook is expected
	// to answer with a pong carrying the same bytes.
	OnPing func(payload []byte) error

	// OnClose is called once when the peer's close frame arrives.
	OnClose func(*CloseError) error

	src    io.Reader
	closed *CloseError
}

// NewReader returns a Reader over src with the default size limits.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		MaxFrameSize:   DefaultMaxFrameSize,
		MaxMessageSize: DefaultMaxFrameSize,
		src:            src,
	}
}

// ReadMessage returns the next complete data message. After the peer's
// close frame it returns the *CloseError, and keeps returning it without
// reading further input.
func (r *Reader) ReadMessage() (Opcode, []byte, error) {
	if r.closed != nil {
		return 0, nil, r.closed
	}

	var (
		op  Opcode
		buf []byte
		in  bool
	)
	for {
		f, err := ReadFrame(r.src, r.MaxFrameSize)
		if err != nil {
			if in && errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, nil, err
		}
		if f.Masked && !r.AllowMasked {
			return 0, nil, &FrameError{Err: ErrMaskedServerFrame, Opcode: f.Opcode}
		}

		switch f.Opcode {
		case OpPing:
			if r.OnPing != nil {
				if err := r.OnPing(f.Payload); err != nil {
					return 0, nil, fmt.Errorf("answer ping: %w", err)
				}
			}
			continue
		case OpPong:
			continue
		case OpClose:
			ce, err := ParseClosePayload(f.Payload)
			if err != nil {
				return 0, nil, err
			}
			r.closed = ce
			if r.OnClose != nil {
				if err := r.OnClose(ce); err != nil {
					return 0, nil, fmt.Errorf("answer close: %w", err)
				}
			}
			return 0, nil, ce
		case OpContinuation:
			if !in {
				return 0, nil, &FrameError{Err: ErrUnexpectedContinuation, Opcode: f.Opcode}
			}
		default:
			if in {
				return 0, nil, &FrameError{Err: ErrExpectedContinuation, Opcode: f.Opcode}
			}
			if f.Fin {
				if err := r.checkMessageSize(f.Opcode, int64(len(f.Payload))); err != nil {
					return 0, nil, err
				}
				return f.Opcode, f.Payload, nil
			}
			op, in = f.Opcode, true
		}

		if err := r.checkMessageSize(op, int64(len(buf))+int64(len(f.Payload))); err != nil {
			return 0, nil, err
		}
		buf = append(buf, f.Payload...)
		if f.Fin {
			if buf == nil {
				buf = []byte{}
			}
			return op, buf, nil
		}
	}
}

func (r *Reader) checkMessageSize(op Opcode, n int64) error {
	if r.MaxMessageSize > 0 && n > r.MaxMessageSize {
		return &FrameError{
			Err:    fmt.Errorf("%w: message of %d bytes exceeds limit of %d", ErrFrameTooLarge, n, r.MaxMessageSize),
			Opcode: op,
		}
	}
	return nil
}
