package wsframe

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"testing"
)

func TestMask_Involution(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	lengths := []int{0, 1, 3, 4, 5, 125, 1000}
	for range 50 {
		lengths = append(lengths, rng.IntN(4096))
	}

	for _, n := range lengths {
		orig := make([]byte, n)
		for i := range orig {
			orig[i] = byte(rng.Uint32())
		}
		var key [4]byte
		for i := range key {
			key[i] = byte(rng.Uint32())
		}

		b := bytes.Clone(orig)
		Mask(key, b)
		Mask(key, b)
		if !bytes.Equal(b, orig) {
			t.Errorf("len %d: mask applied twice did not restore input", n)
		}
	}
}

func TestMask_KeyIndex(t *testing.T) {
	t.Parallel()

	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	b := make([]byte, 6)
	Mask(key, b)

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x01, 0x02}
	if !bytes.Equal(b, want) {
		t.Errorf("Mask() = %x, want %x", b, want)
	}
}

func TestAppendFrame_LengthEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		size       int
		wantHeader []byte
	}{
		{name: "empty", size: 0, wantHeader: []byte{0x81, 0x00}},
		{name: "7-bit max", size: 125, wantHeader: []byte{0x81, 125}},
		{name: "16-bit min", size: 126, wantHeader: []byte{0x81, 126, 0x00, 126}},
		{name: "16-bit max", size: 65535, wantHeader: []byte{0x81, 126, 0xff, 0xff}},
		{name: "64-bit min", size: 65536, wantHeader: []byte{0x81, 127, 0, 0, 0, 0, 0, 1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := bytes.Repeat([]byte{'x'}, tt.size)
			got := AppendFrame(nil, Frame{Fin: true, Opcode: OpText, Payload: payload})

			if !bytes.Equal(got[:len(tt.wantHeader)], tt.wantHeader) {
				t.Errorf("header = %x, want %x", got[:len(tt.wantHeader)], tt.wantHeader)
			}
			if len(got) != len(tt.wantHeader)+tt.size {
				t.Errorf("frame length = %d, want %d", len(got), len(tt.wantHeader)+tt.size)
			}

			f, err := ReadFrame(bytes.NewReader(got), 0)
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if len(f.Payload) != tt.size {
				t.Errorf("decoded payload length = %d, want %d", len(f.Payload), tt.size)
			}
		})
	}
}

func TestAppendFrame_Masked(t *testing.T) {
	t.Parallel()

	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	payload := []byte("Hello")
	got := AppendFrame(nil, Frame{Fin: true, Opcode: OpText, Masked: true, MaskKey: key, Payload: payload})

	// RFC 6455 Section 5.7 example: a single-frame masked text message.
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendFrame() = %x, want %x", got, want)
	}
	if string(payload) != "Hello" {
		t.Errorf("AppendFrame() modified the caller's payload: %q", payload)
	}

	f, err := ReadFrame(bytes.NewReader(got), 0)
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !f.Masked || f.MaskKey != key {
		t.Errorf("mask = %v %x, want true %x", f.Masked, f.MaskKey, key)
	}
	if string(f.Payload) != "Hello" {
		t.Errorf("payload = %q, want %q", f.Payload, "Hello")
	}
}

func TestReadFrame_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		max     int64
		wantErr error
	}{
		{name: "reserved bits", input: []byte{0xc1, 0x00}, wantErr: ErrReservedBits},
		{name: "unknown opcode", input: []byte{0x83, 0x00}, wantErr: ErrInvalidOpcode},
		{name: "fragmented ping", input: []byte{0x09, 0x00}, wantErr: ErrFragmentedControl},
		{name: "long ping", input: []byte{0x89, 126, 0x00, 126}, wantErr: ErrControlTooLong},
		{name: "over limit", input: []byte{0x81, 126, 0x01, 0x00}, max: 255, wantErr: ErrFrameTooLarge},
		{name: "64-bit sign bit", input: []byte{0x82, 127, 0x80, 0, 0, 0, 0, 0, 0, 0}, wantErr: ErrFrameTooLarge},
		{name: "truncated length", input: []byte{0x81, 126, 0x01}, wantErr: io.ErrUnexpectedEOF},
		{name: "truncated payload", input: []byte{0x81, 0x05, 'a', 'b'}, wantErr: io.ErrUnexpectedEOF},
		{name: "empty stream", input: nil, wantErr: io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadFrame(bytes.NewReader(tt.input), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// payloadTrap fails the test if anything past the header is read.
type payloadTrap struct {
	t      *testing.T
	header []byte
}

func (p *payloadTrap) Read(b []byte) (int, error) {
	if len(p.header) == 0 {
		p.t.Error("payload read after oversized header")
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(b, p.header)
	p.header = p.header[n:]
	return n, nil
}

func TestReadFrame_OversizedRejectedBeforePayload(t *testing.T) {
	t.Parallel()

	// 8-byte length of 1 GiB against a 1 MiB limit.
	header := []byte{0x82, 127, 0, 0, 0, 0, 0x40, 0, 0, 0}
	_, err := ReadFrame(&payloadTrap{t: t, header: header}, 1<<20)

	var fe *FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FrameError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
	if fe.Opcode != OpBinary {
		t.Errorf("opcode = %s, want binary", fe.Opcode)
	}
}

func TestWriteFrame_Validates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   Frame
		wantErr error
	}{
		{name: "fragmented close", frame: Frame{Opcode: OpClose}, wantErr: ErrFragmentedControl},
		{name: "long pong", frame: Frame{Fin: true, Opcode: OpPong, Payload: make([]byte, 126)}, wantErr: ErrControlTooLong},
		{name: "bad opcode", frame: Frame{Fin: true, Opcode: 0x7}, wantErr: ErrInvalidOpcode},
		{name: "max control", frame: Frame{Fin: true, Opcode: OpPing, Payload: make([]byte, 125)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			err := WriteFrame(&buf, tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("WriteFrame() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && buf.Len() != 0 {
				t.Errorf("invalid frame wrote %d bytes", buf.Len())
			}
		})
	}
}

func TestFragment(t *testing.T) {
	t.Parallel()

	payload := []byte("abcdefghij")

	tests := []struct {
		name       string
		size       int
		wantFrames int
	}{
		{name: "no limit", size: 0, wantFrames: 1},
		{name: "larger than payload", size: 64, wantFrames: 1},
		{name: "even split", size: 5, wantFrames: 2},
		{name: "uneven split", size: 3, wantFrames: 4},
		{name: "byte per frame", size: 1, wantFrames: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			frames := Fragment(OpText, payload, tt.size)
			if len(frames) != tt.wantFrames {
				t.Fatalf("got %d frames, want %d", len(frames), tt.wantFrames)
			}

			var joined []byte
			for i, f := range frames {
				wantOp := OpContinuation
				if i == 0 {
					wantOp = OpText
				}
				if f.Opcode != wantOp {
					t.Errorf("frame %d opcode = %s, want %s", i, f.Opcode, wantOp)
				}
				if f.Fin != (i == len(frames)-1) {
					t.Errorf("frame %d fin = %v", i, f.Fin)
				}
				joined = append(joined, f.Payload...)
			}
			if !bytes.Equal(joined, payload) {
				t.Errorf("joined payload = %q, want %q", joined, payload)
			}
		})
	}
}

func TestEncodeMessage_MasksEveryFrame(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":1,"method":"Page.enable","params":{}}`)
	wire, err := EncodeMessage(OpText, payload, 8)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}

	r := bytes.NewReader(wire)
	var got []byte
	for {
		f, err := ReadFrame(r, 0)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if !f.Masked {
			t.Error("client frame is not masked")
		}
		got = append(got, f.Payload...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}
}

func TestOpcode_IsControl(t *testing.T) {
	t.Parallel()

	for _, op := range []Opcode{OpClose, OpPing, OpPong} {
		if !op.IsControl() || op.IsData() {
			t.Errorf("%s: IsControl = %v, IsData = %v", op, op.IsControl(), op.IsData())
		}
	}
	for _, op := range []Opcode{OpContinuation, OpText, OpBinary} {
		if op.IsControl() || !op.IsData() {
			t.Errorf("%s: IsControl = %v, IsData = %v", op, op.IsControl(), op.IsData())
		}
	}
}
