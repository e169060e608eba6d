// Package config loads and hot-reloads the dispatcher's operational
// tunables: backpressure thresholds, listen backlog, body-size guard,
// and accept-loop admission limiting.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const (
	configDirName  = "longerpulld"
	configFileName = "config.json"
)

// Config holds every tunable a running dispatcher consults. Zero values
// are not meaningful on their own; use NewConfig for the defaults the
// reference server shipped with.
type Config struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`

	PauseThreshold  int `json:"pauseThreshold"`
	ResumeThreshold int `json:"resumeThreshold"`

	// MaxBodySize bounds a single message body; zero means unbounded.
	MaxBodySize uint32 `json:"maxBodySize"`

	// ListenBacklog is carried into dispatch.Config but the listener does
	// not apply it; the platform's default backlog is used.
	ListenBacklog int `json:"listenBacklog"`

	// AcceptRatePerSecond throttles the accept loop; zero disables
	// admission limiting entirely.
	AcceptRatePerSecond float64 `json:"acceptRatePerSecond"`
	AcceptBurst         int     `json:"acceptBurst"`
}

// NewConfig returns the reference server's defaults: pause after a
// single queued message, resume once drained, no admission limiting.
func NewConfig() *Config {
	return &Config{
		Addr:            "0.0.0.0",
		Port:            8001,
		PauseThreshold:  1,
		ResumeThreshold: 0,
		MaxBodySize:     16 << 20,
		ListenBacklog:   2048,
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", configDirName, configFileName), nil
}

// Load reads the configuration from disk, returning the defaults if the
// file does not exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to disk atomically, via a temp
// file + rename, so a reloader never observes a partially written file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Watch starts watching the config file for changes and invokes onChange
// with the freshly loaded Config whenever it is modified. It returns a
// stop function; callers should defer it or call it on shutdown. A
// watch failure (e.g. the directory doesn't exist yet) is returned
// immediately rather than retried, since hot-reload is an operational
// convenience, not a startup requirement.
func Watch(onChange func(*Config)) (stop func() error, err error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load()
				if err != nil {
					log.Printf("config: reload %s: %v", path, err)
					continue
				}
				onChange(cfg)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watch error: %v", werr)
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
