// Package lptest provides an in-process dispatcher and a raw framing
// client for end-to-end protocol tests, in the spirit of mcptest's
// subprocess fake server but over a real TCP loopback listener instead
// of a spawned process: LongerPull is a network protocol, not a
// stdio one.
package lptest

import (
	"context"
	"net"
	"testing"

	"github.com/mayfield/longerpull/internal/commands"
	"github.com/mayfield/longerpull/internal/dispatch"
	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/registry"
)

// Server is a dispatcher bound to an ephemeral loopback port, torn down
// automatically at the end of the test.
type Server struct {
	*dispatch.Server
	Addr     string
	Bus      *events.Bus
	Registry *registry.Registry

	listener net.Listener
	cancel   context.CancelFunc
}

// Option configures a Server before it starts accepting connections.
type Option func(*dispatch.Config, *registry.Registry)

// WithThresholds overrides the default backpressure thresholds.
func WithThresholds(pause, resume int) Option {
	return func(cfg *dispatch.Config, _ *registry.Registry) {
		cfg.Thresholds.PauseThreshold = pause
		cfg.Thresholds.ResumeThreshold = resume
	}
}

// WithMaxBodySize bounds a single message body.
func WithMaxBodySize(n uint32) Option {
	return func(cfg *dispatch.Config, _ *registry.Registry) {
		cfg.Thresholds.MaxBodySize = n
	}
}

// WithExtraCommand registers an additional command constructor, for
// tests exercising handlers beyond the bundled sample set.
func WithExtraCommand(name string, ctor registry.Constructor) Option {
	return func(_ *dispatch.Config, reg *registry.Registry) {
		reg.Register(name, ctor)
	}
}

// Start brings up a Server listening on 127.0.0.1 with an ephemeral
// port and registers t.Cleanup to shut it down.
func Start(t *testing.T, opts ...Option) *Server {
	t.Helper()

	reg := registry.New()
	commands.Register(reg)

	cfg := dispatch.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg, reg)
	}

	bus := events.NewBus()
	srv := dispatch.New(reg, bus, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("lptest: listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Serve(ctx, ln)
	}()

	s := &Server{
		Server:   srv,
		Addr:     ln.Addr().String(),
		Bus:      bus,
		Registry: reg,
		listener: ln,
		cancel:   cancel,
	}
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting connections and releases the listener. It is
// registered as a t.Cleanup by Start; tests rarely need to call it
// directly.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.Bus.Close()
}
