package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree around one shared app.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "blelink",
		Short: "BLE peripheral connection manager",
		Long: `blelink connects to Bluetooth Low Energy peripherals by name, address,
system id or advertised MAC and writes to them:

- Scan for nearby peripherals or wait for specific ones
- Connect and resolve write and notify characteristics automatically
- Write hex or text payloads, optionally chunked or through the ordered queue
- Monitor notifications from a peripheral
- Bridge a peripheral to a virtual serial port`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")
	root.PersistentFlags().String("backend", "", "Radio backend (goble, tinygo); overrides the config file")

	root.AddCommand(newScanCmd(a))
	root.AddCommand(newWriteCmd(a))
	root.AddCommand(newMonitorCmd(a))
	root.AddCommand(newBridgeCmd(a))
	return root
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
