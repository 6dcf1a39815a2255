package cli

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto"
	chromecdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/cdp"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <url>",
	Short: "Navigate to URL",
	Long:  "Attaches to a page, navigates it to the URL and waits for the load event unless --wait=false.",
	Args:  cobra.ExactArgs(1),
	RunE:  runNavigate,
}

func init() {
	navigateCmd.Flags().String("target", pageTarget, `Target ID to navigate ("page" for the first page)`)
	navigateCmd.Flags().Bool("wait", true, "Wait for Page.loadEventFired")
	rootCmd.AddCommand(navigateCmd)
}

// normalizeURL adds protocol to URL if missing.
// Uses http:// for localhost/127.0.0.1/0.0.0.0, https:// otherwise.
func normalizeURL(url string) string {
	if strings.Contains(url, "://") || strings.HasPrefix(url, "about:") {
		return url
	}

	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "localhost") ||
		strings.HasPrefix(lower, "127.0.0.1") ||
		strings.HasPrefix(lower, "0.0.0.0") {
		return "http://" + url
	}

	return "https://" + url
}

func runNavigate(cmd *cobra.Command, args []string) error {
	targetID, _ := cmd.Flags().GetString("target")
	wait, _ := cmd.Flags().GetBool("wait")
	url := normalizeURL(args[0])

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return outputError(err.Error())
	}
	defer client.Close()

	sess, err := attach(ctx, client, targetID)
	if err != nil {
		return outputError(errorMessage(err))
	}

	loaded := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(e cdp.Event) {
		if e.Method != string(cdproto.EventPageLoadEventFired) {
			return
		}
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	sessCtx := chromecdp.WithExecutor(ctx, sess)
	if err := page.Enable().Do(sessCtx); err != nil {
		return outputError(errorMessage(err))
	}
	frameID, loaderID, errorText, _, err := page.Navigate(url).Do(sessCtx)
	if err != nil {
		return outputError(errorMessage(err))
	}
	if errorText != "" {
		return outputError(fmt.Sprintf("navigate to %s: %s", url, errorText))
	}
	debugf("navigating frame %s (loader %s)", frameID, loaderID)

	if wait {
		select {
		case <-loaded:
		case <-client.Done():
			return outputError(fmt.Sprintf("connection closed while loading %s", url))
		case <-ctx.Done():
			return outputError(fmt.Sprintf("timed out after %s waiting for %s to load", cfg.CommandTimeout, url))
		}
	}

	if JSONOutput {
		return outputSuccess(map[string]any{
			"url":      url,
			"frameId":  frameID,
			"loaderId": loaderID,
		})
	}
	return outputSuccess(nil)
}
