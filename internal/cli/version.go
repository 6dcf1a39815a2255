package cli

import (
	"fmt"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	chromecdp "github.com/chromedp/cdproto/cdp"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show browser version",
	Long:  "Asks the browser for its product, protocol and engine versions with Browser.getVersion.",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return outputError(err.Error())
	}
	defer client.Close()

	protocolVersion, product, revision, userAgent, jsVersion, err :=
		cdpbrowser.GetVersion().Do(chromecdp.WithExecutor(ctx, client.Session("")))
	if err != nil {
		return outputError(errorMessage(err))
	}

	if JSONOutput {
		return outputSuccess(map[string]any{
			"protocolVersion": protocolVersion,
			"product":         product,
			"revision":        revision,
			"userAgent":       userAgent,
			"jsVersion":       jsVersion,
		})
	}

	fmt.Fprintf(stdout, "Browser:    %s\n", product)
	fmt.Fprintf(stdout, "Protocol:   %s\n", protocolVersion)
	fmt.Fprintf(stdout, "Revision:   %s\n", revision)
	fmt.Fprintf(stdout, "User-Agent: %s\n", userAgent)
	fmt.Fprintf(stdout, "V8:         %s\n", jsVersion)
	return nil
}
