package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/grantcarthew/cdpmux/internal/log"
	"github.com/grantcarthew/cdpmux/internal/transport"
)

// LaunchOptions configures browser launch behavior.
type LaunchOptions struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// Port for CDP remote debugging. If 0, uses default 9222.
	// Ignored when Pipe is set.
	Port int

	// Pipe speaks CDP over fds 3 and 4 (--remote-debugging-pipe) instead
	// of opening a debugging port.
	Pipe bool

	// UserDataDir specifies the browser profile directory.
	// Special values:
	//   - Empty string: create a temporary directory (default)
	//   - "default": use the user's default Chrome profile
	//   - Any path: use that directory
	UserDataDir string

	// ExtraArgs are appended to the command line before the start URL.
	ExtraArgs []string

	// TransportOptions configure the pipe transport.
	TransportOptions []transport.Option

	Logger *log.Logger
}

// DefaultPort is the default CDP debugging port.
const DefaultPort = 9222

// UserDataDirDefault is the special value that means "use the user's Chrome profile".
const UserDataDirDefault = "default"

// buildArgs constructs the Chrome command line arguments.
func buildArgs(opts LaunchOptions) []string {
	var args []string
	if opts.Pipe {
		args = append(args, "--remote-debugging-pipe")
	} else {
		port := opts.Port
		if port == 0 {
			port = DefaultPort
		}
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", port))
	}

	args = append(args,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-popup-blocking",
	)

	// Platform-specific flags to avoid system dialogs
	switch runtime.GOOS {
	case "darwin":
		args = append(args, "--use-mock-keychain")
	case "linux":
		args = append(args, "--password-store=basic")
	}

	if opts.Headless {
		args = append(args, "--headless")
	}

	// Handle user data directory:
	// - Empty or "default": no flag (use user's Chrome profile)
	// - Any path: use that directory
	if opts.UserDataDir != "" && opts.UserDataDir != UserDataDirDefault {
		args = append(args, fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir))
	}

	args = append(args, opts.ExtraArgs...)

	// Open about:blank to avoid any default page loading
	args = append(args, "about:blank")

	return args
}

// createTempDataDir creates a temporary directory for browser profile data.
func createTempDataDir() (string, error) {
	return os.MkdirTemp("", "cdpmux-chrome-*")
}

// process is a started browser and the resources it was given.
type process struct {
	cmd     *exec.Cmd
	dataDir string
	pipe    *transport.Pipe
}

// spawnProcess starts the browser process with the given binary and options.
// It does not wait for the process to exit.
func spawnProcess(binPath string, opts LaunchOptions) (*process, error) {
	p := &process{}
	var createdTempDir bool

	switch opts.UserDataDir {
	case "":
		dir, err := createTempDataDir()
		if err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
		opts.UserDataDir = dir
		p.dataDir = dir
		createdTempDir = true
	case UserDataDirDefault:
	default:
		p.dataDir = opts.UserDataDir
	}

	cleanup := func() {
		if createdTempDir {
			os.RemoveAll(p.dataDir)
		}
	}

	cmd := exec.Command(binPath, buildArgs(opts)...)

	// Detach from controlling terminal
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	// The browser reads commands from fd 3 and writes replies to fd 4.
	var childEnds []*os.File
	if opts.Pipe {
		cmdR, cmdW, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("create command pipe: %w", err)
		}
		replyR, replyW, err := os.Pipe()
		if err != nil {
			cmdR.Close()
			cmdW.Close()
			cleanup()
			return nil, fmt.Errorf("create reply pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{cmdR, replyW}
		childEnds = cmd.ExtraFiles

		topts := append([]transport.Option{transport.WithLogger(opts.Logger)}, opts.TransportOptions...)
		p.pipe = transport.NewPipe(replyR, cmdW, topts...)
	}

	err := cmd.Start()
	var closeErr error
	for _, f := range childEnds {
		closeErr = errors.Join(closeErr, f.Close())
	}
	if err != nil {
		if p.pipe != nil {
			p.pipe.Close()
		}
		cleanup()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if closeErr != nil {
		opts.Logger.Warnf("browser", "closing child pipe ends: %v", closeErr)
	}

	p.cmd = cmd
	return p, nil
}
