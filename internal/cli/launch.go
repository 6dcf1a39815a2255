package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	chromecdp "github.com/chromedp/cdproto/cdp"
	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/browser"
	"github.com/grantcarthew/cdpmux/internal/cdp"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start Chrome with remote debugging",
	Long: `Starts Chrome with the DevTools Protocol enabled, prints its endpoint and
keeps it running until interrupted or the browser exits.

With --pipe the browser speaks CDP over inherited pipes instead of a port.
cdpmux then connects over the pipe itself and reports the browser version.`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().Bool("headless", true, "Run without a visible window")
	launchCmd.Flags().Bool("pipe", false, "Use --remote-debugging-pipe instead of a port")
	launchCmd.Flags().String("user-data-dir", "", `Profile directory (empty for a temporary one, "default" for the user's profile)`)
	launchCmd.Flags().String("chrome", "", "Chrome binary (default: detect)")
	rootCmd.AddCommand(launchCmd)
}

// launchOptions layers the launch flags over the config.
func launchOptions(cmd *cobra.Command) (binPath string, opts browser.LaunchOptions) {
	flags := cmd.Flags()
	opts = browser.LaunchOptions{
		Headless:         cfg.Headless,
		Port:             cfg.Port,
		Pipe:             cfg.Pipe,
		UserDataDir:      cfg.UserDataDir,
		TransportOptions: transportOptions(),
		Logger:           logger,
	}
	binPath = cfg.Chrome
	if flags.Changed("headless") {
		opts.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("pipe") {
		opts.Pipe, _ = flags.GetBool("pipe")
	}
	if flags.Changed("user-data-dir") {
		opts.UserDataDir, _ = flags.GetString("user-data-dir")
	}
	if flags.Changed("chrome") {
		binPath, _ = flags.GetString("chrome")
	}
	return binPath, opts
}

func runLaunch(cmd *cobra.Command, args []string) error {
	binPath, opts := launchOptions(cmd)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		b   *browser.Browser
		err error
	)
	if binPath != "" {
		b, err = browser.StartWithBinary(ctx, binPath, opts)
	} else {
		b, err = browser.Start(ctx, opts)
	}
	if err != nil {
		return outputError(err.Error())
	}
	defer b.Close()

	endpoint, err := launchEndpoint(ctx, b)
	if err != nil {
		return outputError(err.Error())
	}

	if JSONOutput {
		if err := outputSuccess(map[string]any{
			"pid":      b.PID(),
			"port":     b.Port(),
			"endpoint": endpoint,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "Chrome running (pid %d)\n", b.PID())
		fmt.Fprintf(stdout, "Endpoint: %s\n", endpoint)
		fmt.Fprintln(stdout, "Press Ctrl-C to stop")
	}

	select {
	case <-ctx.Done():
		debugf("interrupted, stopping browser")
		return nil
	case <-b.Done():
		return outputError(fmt.Sprintf("browser exited: %v", b.ExitErr()))
	}
}

// launchEndpoint describes where the browser can be reached. A pipe has no
// address, so the version reported over it stands in.
func launchEndpoint(ctx context.Context, b *browser.Browser) (string, error) {
	pipe := b.PipeTransport()
	if pipe == nil {
		setupCtx, cancel := commandContext(ctx)
		defer cancel()
		return b.WebSocketURL(setupCtx)
	}

	client := cdp.NewClient(pipe,
		cdp.WithTimeout(cfg.CommandTimeout),
		cdp.WithLogger(logger),
		cdp.WithExitSignal(b.Done()),
	)
	setupCtx, cancel := commandContext(ctx)
	defer cancel()
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(chromecdp.WithExecutor(setupCtx, client.Session("")))
	if err != nil {
		return "", fmt.Errorf("query browser over pipe: %w", err)
	}
	return fmt.Sprintf("pipe (%s)", product), nil
}
