package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mayfield/longerpull/internal/commands"
	"github.com/mayfield/longerpull/internal/config"
	"github.com/mayfield/longerpull/internal/dispatch"
	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/lpconn"
	"github.com/mayfield/longerpull/internal/monitor"
	"github.com/mayfield/longerpull/internal/registry"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	serveConfigPath string
	serveAddr       string
	servePort       int
	serveLogLevel   string
	serveMonitor    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher",
	Long: `Run longerpulld as a standalone dispatcher, accepting connections and
routing framed messages to registered commands.

Config is hot-reloaded from the default config path
(~/.config/longerpulld/config.json): editing that file's thresholds
takes effect for newly accepted connections without a restart. A file
given with --config is read once at startup and is not watched.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (default: ~/.config/longerpulld/config.json)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().StringVarP(&serveLogLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveMonitor, "monitor", false, "Attach the stats TUI in-process after starting")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	switch serveLogLevel {
	case "debug":
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	case "info", "warn", "error":
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	default:
		log.SetOutput(io.Discard)
	}

	log.Printf("longerpulld serve starting (version=%s)", version)

	resolvedConfigPath, err := resolveConfigPath(serveConfigPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfigFrom(resolvedConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if servePort != 0 {
		cfg.Port = servePort
	}

	log.Printf("listening on %s:%d (pause=%d resume=%d)", cfg.Addr, cfg.Port, cfg.PauseThreshold, cfg.ResumeThreshold)

	reg := registry.New()
	commands.Register(reg)

	bus := events.NewBus()
	defer bus.Close()

	srv := dispatch.New(reg, bus, dispatchConfigFrom(cfg))

	stopWatch, err := config.Watch(func(updated *config.Config) {
		log.Printf("config changed: pause=%d resume=%d", updated.PauseThreshold, updated.ResumeThreshold)
		srv.SetThresholds(lpconn.Thresholds{
			PauseThreshold:  updated.PauseThreshold,
			ResumeThreshold: updated.ResumeThreshold,
			MaxBodySize:     updated.MaxBodySize,
		})
	})
	if err != nil {
		log.Printf("config hot-reload disabled: %v", err)
	} else {
		defer stopWatch()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port))
	}()

	if serveMonitor {
		p := tea.NewProgram(monitor.New(srv, bus), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Printf("monitor exited: %v", err)
		}
		cancel()
	}

	if err := <-errCh; err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %w", err)
	}

	log.Println("longerpulld serve exiting")
	return nil
}

func resolveConfigPath(flagPath string) (string, error) {
	if flagPath == "" {
		return config.ConfigPath()
	}
	if strings.HasPrefix(flagPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home dir: %w", err)
		}
		return filepath.Join(home, flagPath[2:]), nil
	}
	return flagPath, nil
}

// loadConfigFrom loads from an explicit path, falling back to
// config.Load's default-path resolution when path is empty.
func loadConfigFrom(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.NewConfig(), nil
		}
		return nil, err
	}
	cfg := config.NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func dispatchConfigFrom(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Thresholds: lpconn.Thresholds{
			PauseThreshold:  cfg.PauseThreshold,
			ResumeThreshold: cfg.ResumeThreshold,
			MaxBodySize:     cfg.MaxBodySize,
		},
		ListenBacklog:   cfg.ListenBacklog,
		AcceptPerSecond: cfg.AcceptRatePerSecond,
		AcceptBurst:     cfg.AcceptBurst,
	}
}
