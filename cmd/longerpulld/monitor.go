package main

import (
	"github.com/spf13/cobra"
)

// monitorCmd is shorthand for `serve --monitor`: it starts the same
// dispatcher but replaces its stderr logging with the live stats TUI.
// There is no separate out-of-process attach path; the TUI subscribes
// to the in-process event bus, so it must run inside the dispatcher
// that owns it.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the dispatcher with the live stats TUI attached",
	Long: `monitor starts the dispatcher exactly like 'serve' but attaches
the bubbletea stats view instead of logging to stderr, showing live
connection count, pause/resume activity, and per-connection queue
depth as they happen.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (default: ~/.config/longerpulld/config.json)")
	monitorCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	monitorCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Any level runServe does not recognise sends log output to io.Discard.
	serveLogLevel = "off"
	serveMonitor = true
	return runServe(cmd, args)
}
