// Package wsframe implements the client side of the RFC 6455 framing layer:
// the opening handshake, frame encoding and decoding, masking, fragmentation
// and control frames. It knows nothing about the messages it carries.
package wsframe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Opcode identifies the type of a frame (RFC 6455 Section 5.2).
type Opcode byte

// Frame opcodes.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// IsData reports whether o starts or continues a data message.
func (o Opcode) IsData() bool {
	return o == OpContinuation || o == OpText || o == OpBinary
}

func (o Opcode) valid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(o))
	}
}

const (
	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125

	// DefaultMaxFrameSize bounds a single inbound frame payload. Chrome sends
	// unfragmented messages of up to 100MiB.
	DefaultMaxFrameSize int64 = 100 << 20
)

// Frame errors.
var (
	ErrFrameTooLarge          = errors.New("frame too large")
	ErrMaskedServerFrame      = errors.New("masked frame from server")
	ErrReservedBits           = errors.New("reserved bits set")
	ErrInvalidOpcode          = errors.New("invalid opcode")
	ErrControlTooLong         = errors.New("control frame payload too long")
	ErrFragmentedControl      = errors.New("fragmented control frame")
	ErrUnexpectedContinuation = errors.New("continuation frame without message")
	ErrExpectedContinuation   = errors.New("data frame inside fragmented message")
	ErrInvalidClosePayload    = errors.New("invalid close payload")
)

// FrameError ties a framing error to the opcode of the offending frame.
type FrameError struct {
	Err    error
	Opcode Opcode
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s frame: %v", e.Opcode, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Frame is one unit of the wire format. Payload always holds unmasked bytes;
// Masked and MaskKey describe how the frame travels on the wire.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// Validate checks the invariants every frame must satisfy before it is written.
func (f *Frame) Validate() error {
	if !f.Opcode.valid() {
		return &FrameError{Err: ErrInvalidOpcode, Opcode: f.Opcode}
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return &FrameError{Err: ErrFragmentedControl, Opcode: f.Opcode}
		}
		if len(f.Payload) > MaxControlPayload {
			return &FrameError{Err: ErrControlTooLong, Opcode: f.Opcode}
		}
	}
	return nil
}

// Mask XORs b in place with key. Applying it twice restores the input.
func Mask(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// NewMaskKey returns a fresh random masking key.
func NewMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generate mask key: %w", err)
	}
	return key, nil
}

// AppendFrame appends the wire encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	b0 := byte(f.Opcode) & 0x0f
	if f.Fin {
		b0 |= 0x80
	}
	dst = append(dst, b0)

	var b1 byte
	if f.Masked {
		b1 = 0x80
	}
	n := len(f.Payload)
	switch {
	case n <= 125:
		dst = append(dst, b1|byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}
	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	Mask(f.MaskKey, dst[start:])
	return dst
}

// WriteFrame validates f and writes it to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := w.Write(AppendFrame(nil, f))
	return err
}

// ReadFrame reads one frame from r and returns it with its payload unmasked.
// A declared payload length above maxPayload is rejected before any payload
// byte is read; maxPayload <= 0 disables the check.
func ReadFrame(r io.Reader, maxPayload int64) (Frame, error) {
	var f Frame
	var hdr [8]byte

	// io.EOF here is a clean end of stream between frames.
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return f, err
	}

	f.Fin = hdr[0]&0x80 != 0
	f.Opcode = Opcode(hdr[0] & 0x0f)
	if hdr[0]&0x70 != 0 {
		return f, &FrameError{Err: ErrReservedBits, Opcode: f.Opcode}
	}
	if !f.Opcode.valid() {
		return f, &FrameError{Err: ErrInvalidOpcode, Opcode: f.Opcode}
	}
	f.Masked = hdr[1]&0x80 != 0

	length := uint64(hdr[1] & 0x7f)
	switch length {
	case 126:
		if err := readFull(r, hdr[:2]); err != nil {
			return f, err
		}
		length = uint64(binary.BigEndian.Uint16(hdr[:2]))
	case 127:
		if err := readFull(r, hdr[:8]); err != nil {
			return f, err
		}
		length = binary.BigEndian.Uint64(hdr[:8])
		if length > math.MaxInt64 {
			return f, &FrameError{Err: ErrFrameTooLarge, Opcode: f.Opcode}
		}
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return f, &FrameError{Err: ErrFragmentedControl, Opcode: f.Opcode}
		}
		if length > MaxControlPayload {
			return f, &FrameError{Err: ErrControlTooLong, Opcode: f.Opcode}
		}
	}
	if maxPayload > 0 && length > uint64(maxPayload) {
		return f, &FrameError{
			Err:    fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, length, maxPayload),
			Opcode: f.Opcode,
		}
	}

	if f.Masked {
		if err := readFull(r, f.MaskKey[:]); err != nil {
			return f, err
		}
	}

	f.Payload = make([]byte, length)
	if err := readFull(r, f.Payload); err != nil {
		return f, err
	}
	if f.Masked {
		Mask(f.MaskKey, f.Payload)
	}
	return f, nil
}

// readFull reads inside a frame, where running out of input is never clean.
func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Fragment splits payload into frames of at most size bytes. The first frame
// carries op, the rest are continuations, and only the last has Fin set.
// size <= 0 yields a single frame.
func Fragment(op Opcode, payload []byte, size int) []Frame {
	if size <= 0 || len(payload) <= size {
		return []Frame{{Fin: true, Opcode: op, Payload: payload}}
	}

	frames := make([]Frame, 0, (len(payload)+size-1)/size)
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		f := Frame{Opcode: OpContinuation, Payload: payload[off:end]}
		if off == 0 {
			f.Opcode = op
		}
		f.Fin = end == len(payload)
		frames = append(frames, f)
	}
	return frames
}

// EncodeMessage encodes payload as one or more client frames, each masked
// with its own random key.
func EncodeMessage(op Opcode, payload []byte, fragmentSize int) ([]byte, error) {
	frames := Fragment(op, payload, fragmentSize)
	buf := make([]byte, 0, len(payload)+14*len(frames))
	for _, f := range frames {
		key, err := NewMaskKey()
		if err != nil {
			return nil, err
		}
		f.Masked = true
		f.MaskKey = key
		if err := f.Validate(); err != nil {
			return nil, err
		}
		buf = AppendFrame(buf, f)
	}
	return buf, nil
}
