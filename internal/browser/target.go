package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// Target represents a CDP target (page, worker, etc).
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// FetchTargets retrieves the list of available targets from the CDP endpoint.
// Uses http.DefaultClient which has no timeout; callers must provide a context
// with timeout. This is acceptable for local CDP calls where network issues are rare.
func FetchTargets(ctx context.Context, host string, port int) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, host, port, "/json/list", &targets); err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from the CDP endpoint.
// Uses http.DefaultClient which has no timeout; callers must provide a context
// with timeout. This is acceptable for local CDP calls where network issues are rare.
func FetchVersion(ctx context.Context, host string, port int) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, host, port, "/json/version", &info); err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}
	return &info, nil
}

// EndpointURL returns the HTTP discovery URL for path on host:port.
func EndpointURL(host string, port int, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

func getJSON(ctx context.Context, host string, port int, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, EndpointURL(host, port, path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// FindPageTarget returns the first page-type target from the list.
func FindPageTarget(targets []Target) *Target {
	for i := range targets {
		if targets[i].Type == "page" {
			return &targets[i]
		}
	}
	return nil
}
