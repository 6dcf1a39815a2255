package browser

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/grantcarthew/cdpmux/internal/cdptest"
)

func TestStartWithBinary_WaitsForEndpoint(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t, cdptest.WithDiscovery("/devtools/browser/fake"))
	_, port := server.HostPort()

	b, err := StartWithBinary(context.Background(), fakeBinary(t, "exec sleep 30"), LaunchOptions{Port: port})
	if err != nil {
		t.Fatalf("StartWithBinary() error = %v", err)
	}
	defer b.Close()

	if b.PID() == 0 {
		t.Error("expected non-zero PID")
	}
	if b.PipeTransport() != nil {
		t.Error("expected no pipe transport in port mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL, err := b.WebSocketURL(ctx)
	if err != nil {
		t.Fatalf("WebSocketURL() error = %v", err)
	}
	if want := server.URL("/devtools/browser/fake"); wsURL != want {
		t.Errorf("WebSocketURL() = %s, want %s", wsURL, want)
	}

	page, err := b.PageTarget(ctx)
	if err != nil {
		t.Fatalf("PageTarget() error = %v", err)
	}
	if page.ID != cdptest.TargetID {
		t.Errorf("PageTarget().ID = %s, want %s", page.ID, cdptest.TargetID)
	}
}

func TestStartWithBinary_Timeout(t *testing.T) {
	t.Parallel()

	// Nothing listens on the port, so the endpoint never comes up.
	server := cdptest.NewServer(t)
	_, port := server.HostPort()
	server.ServerHTTP.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := StartWithBinary(ctx, fakeBinary(t, "exec sleep 30"), LaunchOptions{Port: port})
	if !errors.Is(err, ErrStartTimeout) {
		t.Fatalf("expected ErrStartTimeout, got %v", err)
	}
}

func TestStartWithBinary_ProcessExits(t *testing.T) {
	t.Parallel()

	server := cdptest.NewServer(t)
	_, port := server.HostPort()
	server.ServerHTTP.Close()

	start := time.Now()
	_, err := StartWithBinary(context.Background(), fakeBinary(t, "exit 3"), LaunchOptions{Port: port})
	if !errors.Is(err, ErrExited) {
		t.Fatalf("expected ErrExited, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("exit noticed after %s", elapsed)
	}
}

func TestStartWithBinary_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := StartWithBinary(context.Background(), "/nonexistent/chrome", LaunchOptions{})
	if !errors.Is(err, ErrChromeNotFound) {
		t.Fatalf("expected ErrChromeNotFound, got %v", err)
	}
}

func TestStartWithBinary_Pipe(t *testing.T) {
	t.Parallel()

	// The fake browser echoes every command it reads on fd 3 to fd 4.
	b, err := StartWithBinary(context.Background(), fakeBinary(t, "exec cat <&3 >&4"), LaunchOptions{Pipe: true})
	if err != nil {
		t.Fatalf("StartWithBinary() error = %v", err)
	}
	defer b.Close()

	if b.Port() != 0 {
		t.Errorf("expected no port in pipe mode, got %d", b.Port())
	}
	if _, err := b.Version(context.Background()); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("Version() error = %v, want ErrNoEndpoint", err)
	}

	p := b.PipeTransport()
	if p == nil {
		t.Fatal("expected a pipe transport")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := `{"id":1,"method":"Browser.getVersion","params":{}}`
	if err := p.WriteMessage(ctx, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	got, err := p.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(got) != msg {
		t.Errorf("ReadMessage() = %s, want %s", got, msg)
	}

	// Closing the pipe ends the fake browser.
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-b.Done():
	default:
		t.Error("expected Done to be closed after Close")
	}
}

func TestBrowser_DoneOnExit(t *testing.T) {
	t.Parallel()

	b, err := StartWithBinary(context.Background(), fakeBinary(t, "exec cat <&3 >/dev/null"), LaunchOptions{Pipe: true})
	if err != nil {
		t.Fatalf("StartWithBinary() error = %v", err)
	}
	defer b.Close()

	if b.ExitErr() != nil {
		t.Error("expected no exit status while running")
	}

	// EOF on fd 3 makes the fake exit by itself.
	_ = b.PipeTransport().Close()

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the process exited")
	}
	if err := b.ExitErr(); err != nil {
		t.Errorf("ExitErr() = %v, want clean exit", err)
	}
}

func TestBrowser_CloseRemovesTempProfile(t *testing.T) {
	t.Parallel()

	b, err := StartWithBinary(context.Background(), fakeBinary(t, "exec cat <&3 >&4"), LaunchOptions{Pipe: true})
	if err != nil {
		t.Fatalf("StartWithBinary() error = %v", err)
	}
	dir := b.dataDir
	if dir == "" {
		t.Fatal("expected a temporary profile directory")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("profile directory missing while running: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("profile directory still present after Close: %v", err)
	}
}
