package cli

import (
	"fmt"

	chromecdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List browser targets",
	Long:  "Lists pages, workers and other targets with Target.getTargets.",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}

func runTargets(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return outputError(err.Error())
	}
	defer client.Close()

	infos, err := target.GetTargets().Do(chromecdp.WithExecutor(ctx, client.Session("")))
	if err != nil {
		return outputError(errorMessage(err))
	}

	if JSONOutput {
		list := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			list = append(list, map[string]any{
				"id":       info.TargetID,
				"type":     info.Type,
				"title":    info.Title,
				"url":      info.URL,
				"attached": info.Attached,
			})
		}
		return outputSuccess(list)
	}

	if len(infos) == 0 {
		fmt.Fprintln(stdout, "No targets")
		return nil
	}
	for _, info := range infos {
		title := info.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(stdout, "%s  %-15s %s  %s\n", info.TargetID, info.Type, info.URL, title)
	}
	return nil
}
