package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "longerpulld",
	Short: "LongerPull long-polling RPC dispatcher",
	Long: `longerpulld frames and dispatches a bidirectional long-polling RPC
protocol over TCP.

Run 'longerpulld serve' to start the dispatcher, or 'longerpulld monitor'
to start it with a live stats TUI attached to its own event stream.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: ~/.config/longerpulld/config.json)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
