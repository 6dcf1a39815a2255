package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/wsframe"
)

// Pipe carries messages over Chrome's --remote-debugging-pipe channel: each
// message is JSON text terminated by a NUL byte. The browser reads commands
// from fd 3 and writes replies to fd 4.
type Pipe struct {
	r       io.ReadCloser
	w       io.WriteCloser
	scanner *bufio.Scanner
	maxSize int64
	logger  *log.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewPipe returns a Pipe reading replies from r and writing commands to w.
// WithMaxFrameSize bounds the size of one inbound message.
func NewPipe(r io.ReadCloser, w io.WriteCloser, opts ...Option) *Pipe {
	o := buildOptions(opts)

	s := bufio.NewScanner(r)
	initial := 64 << 10
	if int64(initial) > o.maxFrameSize {
		initial = int(o.maxFrameSize) + 1
	}
	s.Buffer(make([]byte, 0, initial), int(o.maxFrameSize)+1)
	s.Split(splitNUL)

	return &Pipe{
		r:       r,
		w:       w,
		scanner: s,
		maxSize: o.maxFrameSize,
		logger:  o.logger,
	}
}

func splitNUL(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return 0, nil, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadMessage returns the next message. Cancelling ctx interrupts the read
// only when the reader supports deadlines, as *os.File pipes do.
func (p *Pipe) ReadMessage(ctx context.Context) ([]byte, error) {
	if rd, ok := p.r.(readDeadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = rd.SetReadDeadline(time.Unix(1, 0))
		})
		defer stop()
	}

	if !p.scanner.Scan() {
		err := p.scanner.Err()
		switch {
		case err == nil:
			return nil, io.EOF
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, bufio.ErrTooLong):
			return nil, fmt.Errorf("%w: pipe message exceeds %d bytes", wsframe.ErrFrameTooLarge, p.maxSize)
		}
		return nil, err
	}
	msg := bytes.Clone(p.scanner.Bytes())
	if msg == nil {
		msg = []byte{}
	}
	p.logger.Debugf("pipe", "<- %d bytes", len(msg))
	return msg, nil
}

// WriteMessage sends p followed by the NUL terminator. p must not contain NUL.
func (p *Pipe) WriteMessage(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(msg, 0) >= 0 {
		return errors.New("pipe message contains NUL byte")
	}
	buf := make([]byte, 0, len(msg)+1)
	buf = append(append(buf, msg...), 0)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if _, err := p.w.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	p.logger.Debugf("pipe", "-> %d bytes", len(msg))
	return nil
}

// Close closes both ends. Closing the write end tells the browser to exit.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		errW := p.w.Close()
		errR := p.r.Close()
		p.closeErr = errors.Join(ignoreClosed(errW), ignoreClosed(errR))
	})
	return p.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
