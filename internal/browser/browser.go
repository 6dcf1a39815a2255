package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/transport"
)

// Browser represents a running Chrome instance with CDP enabled.
type Browser struct {
	cmd      *exec.Cmd
	host     string
	port     int
	dataDir  string
	ownsData bool // true if we created the temp data dir
	pipe     *transport.Pipe
	logger   *log.Logger

	// done is closed once the process has exited; waitErr is its status.
	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// ErrNoPageTarget is returned when no page target is available.
var ErrNoPageTarget = errors.New("no page target found")

// ErrStartTimeout is returned when the browser fails to start in time.
var ErrStartTimeout = errors.New("browser start timeout")

// ErrExited is returned when the browser exits before its endpoint is ready.
var ErrExited = errors.New("browser exited during startup")

// ErrNoEndpoint is returned for endpoint queries on a pipe-mode browser.
var ErrNoEndpoint = errors.New("browser has no debugging port")

// DefaultStartTimeout bounds how long Start waits for the CDP endpoint.
const DefaultStartTimeout = 30 * time.Second

// shutdownGrace is how long Close waits after SIGINT before killing.
const shutdownGrace = 5 * time.Second

// Start launches a new Chrome browser with CDP enabled.
// It waits for the CDP endpoint to become available before returning.
func Start(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	binPath, err := FindChrome()
	if err != nil {
		return nil, err
	}

	return StartWithBinary(ctx, binPath, opts)
}

// StartWithBinary launches Chrome using the specified binary path. When ctx
// has no deadline, DefaultStartTimeout applies.
func StartWithBinary(ctx context.Context, binPath string, opts LaunchOptions) (*Browser, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNullLogger()
	}
	binPath, err := checkChrome(binPath)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	switch {
	case opts.Pipe:
		port = 0
	case port == 0:
		port = DefaultPort
	}

	p, err := spawnProcess(binPath, opts)
	if err != nil {
		return nil, err
	}

	b := &Browser{
		cmd:      p.cmd,
		host:     "127.0.0.1",
		port:     port,
		dataDir:  p.dataDir,
		ownsData: opts.UserDataDir == "", // we created temp dir if UserDataDir was empty
		pipe:     p.pipe,
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}
	go b.wait()
	b.logger.Debugf("browser", "started %s (pid %d)", binPath, b.PID())

	// A pipe is usable as soon as the process runs.
	if opts.Pipe {
		return b, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultStartTimeout)
		defer cancel()
	}

	if err := b.waitForCDP(ctx); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Browser) wait() {
	b.waitErr = b.cmd.Wait()
	b.logger.Debugf("browser", "process exited: %v", b.waitErr)
	close(b.done)
}

// waitForCDP polls the CDP endpoint with backoff until it responds, the
// process exits or ctx ends.
func (b *Browser) waitForCDP(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
		backoff.WithMaxInterval(500*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)

	_, err := backoff.RetryNotifyWithData(func() (*VersionInfo, error) {
		select {
		case <-b.done:
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrExited, b.waitErr))
		default:
		}
		return FetchVersion(ctx, b.host, b.port)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		b.logger.Debugf("browser", "endpoint not ready (%v), retrying in %s", err, next)
	})
	if err != nil && ctx.Err() != nil {
		return ErrStartTimeout
	}
	return err
}

// Port returns the CDP debugging port, or 0 in pipe mode.
func (b *Browser) Port() int {
	return b.port
}

// PID returns the browser process ID.
func (b *Browser) PID() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Done returns a channel closed when the browser process exits.
func (b *Browser) Done() <-chan struct{} {
	return b.done
}

// ExitErr returns the process exit status once Done is closed.
func (b *Browser) ExitErr() error {
	select {
	case <-b.done:
		return b.waitErr
	default:
		return nil
	}
}

// PipeTransport returns the pipe transport of a browser launched with
// LaunchOptions.Pipe, or nil.
func (b *Browser) PipeTransport() *transport.Pipe {
	return b.pipe
}

// Targets fetches the list of available CDP targets.
func (b *Browser) Targets(ctx context.Context) ([]Target, error) {
	if b.port == 0 {
		return nil, ErrNoEndpoint
	}
	return FetchTargets(ctx, b.host, b.port)
}

// PageTarget returns the first page-type target.
func (b *Browser) PageTarget(ctx context.Context) (*Target, error) {
	targets, err := b.Targets(ctx)
	if err != nil {
		return nil, err
	}

	target := FindPageTarget(targets)
	if target == nil {
		return nil, ErrNoPageTarget
	}

	return target, nil
}

// Version fetches the browser version information.
func (b *Browser) Version(ctx context.Context) (*VersionInfo, error) {
	if b.port == 0 {
		return nil, ErrNoEndpoint
	}
	return FetchVersion(ctx, b.host, b.port)
}

// WebSocketURL returns the browser-level WebSocket URL, over which any
// target can be attached.
func (b *Browser) WebSocketURL(ctx context.Context) (string, error) {
	info, err := b.Version(ctx)
	if err != nil {
		return "", err
	}
	if info.WebSocketURL == "" {
		return "", fmt.Errorf("browser reported no WebSocket URL")
	}
	return info.WebSocketURL, nil
}

// PageWebSocketURL returns the WebSocket URL for connecting to the first
// page target directly.
func (b *Browser) PageWebSocketURL(ctx context.Context) (string, error) {
	target, err := b.PageTarget(ctx)
	if err != nil {
		return "", err
	}

	if target.WebSocketURL == "" {
		return "", fmt.Errorf("target has no WebSocket URL")
	}

	return target.WebSocketURL, nil
}

// Close terminates the browser process and cleans up resources. It is safe
// to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		// Closing the pipe asks Chrome to exit.
		if b.pipe != nil {
			_ = b.pipe.Close()
		}

		// Send SIGINT for graceful shutdown
		if err := b.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = b.cmd.Process.Kill()
		}

		t := time.NewTimer(shutdownGrace)
		select {
		case <-b.done:
		case <-t.C:
			b.logger.Warnf("browser", "pid %d ignored interrupt, killing", b.PID())
			_ = b.cmd.Process.Kill()
			<-b.done
		}
		t.Stop()

		// Clean up temp data directory
		if b.ownsData && b.dataDir != "" {
			os.RemoveAll(b.dataDir)
		}
	})
	return nil
}
