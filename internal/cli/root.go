package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/grantcarthew/cdpmux/internal/config"
	"github.com/grantcarthew/cdpmux/internal/log"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables JSON output format (default is text).
var JSONOutput bool

// NoColor disables color output.
var NoColor bool

var (
	configPath string
	endpoint   string
	host       string
	port       int
	timeout    time.Duration
)

// cfg and logger are set by loadConfig before any command runs.
var (
	cfg    = config.Default()
	logger = log.NewNullLogger()
)

// stdout and stderr are replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:               "cdpmux",
	Short:             "Chrome DevTools Protocol client",
	Long:              "cdpmux speaks the Chrome DevTools Protocol to a running browser over one multiplexed connection.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&endpoint, "endpoint", "", "Browser WebSocket URL (skips HTTP discovery)")
	pf.StringVar(&host, "host", config.DefaultHost, "Browser debugging host")
	pf.IntVar(&port, "port", config.DefaultPort, "Browser debugging port")
	pf.DurationVar(&timeout, "timeout", config.DefaultCommandTimeout, "Per-command timeout")
	pf.BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	pf.BoolVar(&JSONOutput, "json", false, "Output in JSON format (default is text)")
	pf.BoolVar(&NoColor, "no-color", false, "Disable color output")
	rootCmd.SetVersionTemplate(`cdpmux version {{.Version}}
Repository: https://github.com/grantcarthew/cdpmux
Report issues: https://github.com/grantcarthew/cdpmux/issues/new
`)
}

// loadConfig layers changed command line flags over the config file and
// environment, then builds the logger.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		c.Endpoint = endpoint
	}
	if flags.Changed("host") {
		c.Host = host
	}
	if flags.Changed("port") {
		c.Port = port
	}
	if flags.Changed("timeout") {
		c.CommandTimeout = timeout
	}
	if Debug {
		c.LogLevel = "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := log.Setup(stderr, c.LogLevel, c.LogFilter)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	debugf("config: endpoint=%q addr=%s timeout=%s", cfg.Endpoint, cfg.HTTPAddr(), cfg.CommandTimeout)
	return nil
}

// debugf logs a debug message if debug mode is enabled.
func debugf(format string, args ...any) {
	if Debug {
		fmt.Fprintf(stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// Execute runs the root command.
// Supports command abbreviation via unique prefix matching.
func Execute() error {
	args := os.Args[1:]
	if len(args) > 0 {
		if expanded := tryExpandCommand(args[0]); expanded != "" {
			args[0] = expanded
			rootCmd.SetArgs(args)
		}
	}
	return rootCmd.Execute()
}

// tryExpandCommand attempts to expand a command abbreviation.
// Returns the expanded command if exactly one match is found, empty string otherwise.
func tryExpandCommand(prefix string) string {
	var matches []string
	for _, cmd := range rootCmd.Commands() {
		name := cmd.Name()
		if name == prefix {
			return ""
		}
		if len(prefix) < len(name) && name[:len(prefix)] == prefix {
			matches = append(matches, name)
		}
	}

	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// ExecuteArgs runs a command with the given arguments and resets every flag
// afterwards so the next call starts fresh.
// Returns true if the command was recognized (even if it failed), false if unknown.
func ExecuteArgs(args []string) (recognized bool, err error) {
	if len(args) == 0 {
		return false, nil
	}
	if expanded := tryExpandCommand(args[0]); expanded != "" {
		args = append([]string{expanded}, args[1:]...)
	}

	cmd, _, findErr := rootCmd.Find(args)
	if findErr != nil || cmd == rootCmd {
		return false, nil
	}

	rootCmd.SetArgs(args)
	err = rootCmd.Execute()

	resetFlags := func(flags *pflag.FlagSet) {
		flags.VisitAll(func(f *pflag.Flag) {
			// Set("[]") would create a slice holding the literal "[]".
			defVal := f.DefValue
			if defVal == "[]" {
				defVal = ""
			}
			_ = f.Value.Set(defVal)
			f.Changed = false
		})
	}

	resetFlags(cmd.Flags())
	resetFlags(cmd.PersistentFlags())
	for parent := cmd.Parent(); parent != nil; parent = parent.Parent() {
		resetFlags(parent.PersistentFlags())
	}

	Debug = false
	JSONOutput = false
	NoColor = false

	return true, err
}

// printedError marks an error already reported to the user.
type printedError struct {
	msg string
}

func (e *printedError) Error() string {
	return e.msg
}

// IsPrintedError reports whether err was already written to stderr by a
// command handler.
func IsPrintedError(err error) bool {
	var pe *printedError
	return errors.As(err, &pe)
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	f, ok := stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// outputJSON writes a JSON response to the given writer.
// Pretty prints if stdout is a TTY, compact otherwise.
func outputJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

// outputSuccess writes a successful response to stdout.
// For action commands (no data), outputs "OK" in text mode.
func outputSuccess(data any) error {
	if JSONOutput {
		resp := map[string]any{
			"ok": true,
		}
		if data != nil {
			resp["data"] = data
		}
		return outputJSON(stdout, resp)
	}

	if data == nil {
		if shouldUseColor() {
			color.New(color.FgGreen).Fprintln(stdout, "OK")
		} else {
			fmt.Fprintln(stdout, "OK")
		}
		return nil
	}

	_, err := fmt.Fprintf(stdout, "%v\n", data)
	return err
}

// outputError writes an error response to stderr and returns an error.
// Uses text format by default, JSON if --json flag is set.
func outputError(msg string) error {
	if JSONOutput {
		resp := map[string]any{
			"ok":    false,
			"error": msg,
		}
		outputJSON(stderr, resp)
	} else if shouldUseColor() {
		color.New(color.FgRed).Fprint(stderr, "Error:")
		fmt.Fprintf(stderr, " %s\n", msg)
	} else {
		fmt.Fprintf(stderr, "Error: %s\n", msg)
	}
	return &printedError{msg: msg}
}

// shouldUseColor determines if color output should be used based on flags and environment.
func shouldUseColor() bool {
	if JSONOutput || NoColor {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := stderr.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
