package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grantcarthew/cdpmux/internal/protocol"
)

var sendCmd = &cobra.Command{
	Use:   "send <Domain.method> [key=value ...]",
	Short: "Send a raw CDP command",
	Long: `Sends one CDP command and prints its result.

Parameters are given as key=value pairs. Values that parse as JSON are sent
as JSON, anything else as a string. snake_case parameter names are sent in
the protocol's camelCase, so frame_id and frameId are the same parameter.
Keys inside JSON values are sent exactly as written.

Examples:
  cdpmux send Target.getTargets
  cdpmux send Runtime.evaluate expression='1+1' return_by_value=true --target page
  cdpmux send Page.navigate url=https://example.com --target page --snake`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("target", "", `Attach to this target ID ("page" for the first page) and send within its session`)
	sendCmd.Flags().Bool("snake", false, "Print result keys in snake_case")
	rootCmd.AddCommand(sendCmd)
}

// parseParams turns key=value arguments into command parameters.
func parseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

// parseValue decodes value as JSON when it is valid JSON, and returns it
// as a string otherwise.
func parseValue(value string) any {
	if json.Valid([]byte(value)) {
		var v any
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			return v
		}
	}
	return value
}

func runSend(cmd *cobra.Command, args []string) error {
	targetID, _ := cmd.Flags().GetString("target")
	snake, _ := cmd.Flags().GetBool("snake")

	method := args[0]
	if !strings.Contains(method, ".") {
		return outputError(fmt.Sprintf("invalid method %q: expected Domain.method", method))
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return outputError(err.Error())
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	client, err := connect(ctx)
	if err != nil {
		return outputError(err.Error())
	}
	defer client.Close()

	sess := client.Session("")
	if targetID != "" {
		if sess, err = attach(ctx, client, targetID); err != nil {
			return outputError(errorMessage(err))
		}
	}

	raw, err := sess.SendContext(ctx, method, protocol.WireParams(params))
	if err != nil {
		return outputError(errorMessage(err))
	}

	var result any = raw
	if snake {
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err != nil {
			return outputError(fmt.Sprintf("decode result: %v", err))
		}
		result = protocol.SnakeParams(v)
	}

	if JSONOutput {
		return outputSuccess(result)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
