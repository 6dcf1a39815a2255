package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/cdp"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream CDP events as JSON lines",
	Long: `Prints every event the browser sends, one JSON object per line, until
interrupted or --duration elapses.

--method filters by exact method name (Page.loadEventFired) or by domain
(Page). --enable calls <Domain>.enable on the session first.

Examples:
  cdpmux events --target page --enable Page,Network
  cdpmux events --target page --enable Page --method Page.loadEventFired --duration 10s`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().String("target", "", `Attach to this target ID ("page" for the first page)`)
	eventsCmd.Flags().Duration("duration", 0, "Stop after this long (0 streams until interrupted)")
	eventsCmd.Flags().StringSlice("method", nil, "Only print events of these methods or domains")
	eventsCmd.Flags().StringSlice("enable", nil, "Domains to enable before streaming")
	rootCmd.AddCommand(eventsCmd)
}

// methodFilter reports whether method is selected by filters. An empty
// filter list selects everything.
func methodFilter(filters []string) func(method string) bool {
	return func(method string) bool {
		if len(filters) == 0 {
			return true
		}
		for _, f := range filters {
			if method == f || strings.HasPrefix(method, f+".") {
				return true
			}
		}
		return false
	}
}

func runEvents(cmd *cobra.Command, args []string) error {
	targetID, _ := cmd.Flags().GetString("target")
	duration, _ := cmd.Flags().GetDuration("duration")
	methods, _ := cmd.Flags().GetStringSlice("method")
	enable, _ := cmd.Flags().GetStringSlice("enable")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	setupCtx, cancel := commandContext(ctx)
	defer cancel()

	client, err := connect(setupCtx)
	if err != nil {
		return outputError(err.Error())
	}
	defer client.Close()

	selected := methodFilter(methods)
	var mu sync.Mutex
	enc := json.NewEncoder(stdout)
	emit := func(e cdp.Event) {
		if !selected(e.Method) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(e); err != nil {
			logger.Warnf("cli", "write event: %v", err)
		}
	}

	defer client.Subscribe("", emit)()

	sess := client.Session("")
	if targetID != "" {
		if sess, err = attach(setupCtx, client, targetID); err != nil {
			return outputError(errorMessage(err))
		}
		defer sess.Subscribe(emit)()
	}

	for _, domain := range enable {
		if _, err := sess.SendContext(setupCtx, domain+".enable", nil); err != nil {
			return outputError(errorMessage(err))
		}
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
		if err := client.Err(); err != nil {
			return outputError("connection closed: " + err.Error())
		}
	}
	return nil
}
