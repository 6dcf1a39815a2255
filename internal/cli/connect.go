package cli

import (
	"context"
	"errors"
	"fmt"

	chromecdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/grantcarthew/cdpmux/internal/browser"
	"github.com/grantcarthew/cdpmux/internal/cdp"
	"github.com/grantcarthew/cdpmux/internal/transport"
)

// pageTarget selects the first page target in --target flags.
const pageTarget = "page"

// resolveEndpoint returns the configured endpoint, or asks the browser's
// HTTP discovery endpoint for its browser-level WebSocket URL.
func resolveEndpoint(ctx context.Context) (string, error) {
	if cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}
	info, err := browser.FetchVersion(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return "", fmt.Errorf("no browser at %s (start one with: cdpmux launch): %w", cfg.HTTPAddr(), err)
	}
	if info.WebSocketURL == "" {
		return "", fmt.Errorf("browser at %s reported no WebSocket URL", cfg.HTTPAddr())
	}
	debugf("discovered endpoint %s", info.WebSocketURL)
	return info.WebSocketURL, nil
}

// transportOptions maps the config onto transport settings.
func transportOptions() []transport.Option {
	return []transport.Option{
		transport.WithMaxFrameSize(cfg.MaxFrameSize),
		transport.WithFragmentSize(cfg.FragmentSize),
		transport.WithHandshakeTimeout(cfg.HandshakeTimeout),
		transport.WithCloseTimeout(cfg.CloseTimeout),
		transport.WithLogger(logger),
	}
}

// connect dials the browser. The caller must Close the client.
func connect(ctx context.Context) (*cdp.Client, error) {
	url, err := resolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return cdp.Dial(ctx, url,
		cdp.WithTimeout(cfg.CommandTimeout),
		cdp.WithLogger(logger),
		cdp.WithTransportOptions(transportOptions()...),
	)
}

// commandContext bounds a whole command by the configured timeout.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, cfg.CommandTimeout)
}

// attach attaches to the target with the given ID, or to the first page
// when id is "page", and returns the flattened session.
func attach(ctx context.Context, client *cdp.Client, id string) (cdp.Session, error) {
	browserCtx := chromecdp.WithExecutor(ctx, client.Session(""))

	targetID := target.ID(id)
	if id == pageTarget {
		infos, err := target.GetTargets().Do(browserCtx)
		if err != nil {
			return cdp.Session{}, fmt.Errorf("list targets: %w", err)
		}
		info := firstPage(infos)
		if info == nil {
			return cdp.Session{}, browser.ErrNoPageTarget
		}
		targetID = info.TargetID
	}

	sessionID, err := target.AttachToTarget(targetID).WithFlatten(true).Do(browserCtx)
	if err != nil {
		return cdp.Session{}, fmt.Errorf("attach to %s: %w", targetID, err)
	}
	debugf("attached to %s as session %s", targetID, sessionID)
	return client.Session(string(sessionID)), nil
}

func firstPage(infos []*target.Info) *target.Info {
	for _, info := range infos {
		if info.Type == "page" {
			return info
		}
	}
	return nil
}

// errorMessage renders err for the user, preferring the browser's own
// message for protocol errors.
func errorMessage(err error) string {
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		return fmt.Sprintf("%s (code %d)", cdpErr.Message, cdpErr.Code)
	}
	return err.Error()
}
