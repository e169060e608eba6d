// Package dispatch implements the accept loop and per-connection
// command loop: it owns the live-connection set, applies accept-rate
// admission control, looks commands up in a registry, runs their
// handlers, and wraps the result into a reply envelope (spec.md §4.5).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/time/rate"

	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/lpconn"
	"github.com/mayfield/longerpull/internal/registry"
	"github.com/mayfield/longerpull/internal/wire"
)

// Config bundles the tunables an Accept loop and its connections need.
type Config struct {
	Thresholds      lpconn.Thresholds
	ListenBacklog   int
	AcceptPerSecond float64
	AcceptBurst     int
}

// DefaultConfig mirrors the reference server's defaults: pause after a
// single queued message, resume once drained, no admission limiting.
func DefaultConfig() Config {
	return Config{Thresholds: lpconn.DefaultThresholds()}
}

// Server owns the set of live connections that internal/monitor reads.
// It keeps no aggregate counters of its own; the recv/pause counters
// live on each connection and are read through Snapshot. A single mutex
// guards the set, substituting for the reference server's
// single-event-loop-thread guarantee (see DESIGN.md).
type Server struct {
	reg    *registry.Registry
	bus    *events.Bus
	config Config

	mu      sync.Mutex
	conns   map[uint64]*lpconn.Connection
	limiter *rate.Limiter
}

// New returns a Server dispatching to reg, publishing lifecycle events
// to bus (which may be nil to disable monitoring).
func New(reg *registry.Registry, bus *events.Bus, config Config) *Server {
	s := &Server{
		reg:    reg,
		bus:    bus,
		config: config,
		conns:  make(map[uint64]*lpconn.Connection),
	}
	if config.AcceptPerSecond > 0 {
		burst := config.AcceptBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.AcceptPerSecond), burst)
	}
	return s
}

// ListenAndServe binds addr with SO_REUSEPORT and serves connections
// until ctx is cancelled or the listener errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatch: listen %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop against an already-bound listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	conn := lpconn.New(netConn, s.config.Thresholds, s.bus)

	s.mu.Lock()
	s.conns[conn.Ident] = conn
	s.mu.Unlock()
	s.publish(events.NewConnectionOpenedEvent(conn.Ident, conn.PeerAddr))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		conn.Serve(connCtx)
		close(readDone)
	}()

	reason := s.dispatchLoop(connCtx, conn)
	cancel()
	// Closing the socket unblocks a read loop parked in Read; cancelling
	// connCtx alone only reaches it while it is paused.
	netConn.Close()
	<-readDone
	conn.Close()

	s.mu.Lock()
	delete(s.conns, conn.Ident)
	s.mu.Unlock()
	s.publish(events.NewConnectionClosedEvent(conn.Ident, reason))
}

// dispatchLoop receives messages from conn one at a time, looks up and
// runs the named command, and sends back a wrapped reply. It returns
// once the connection is no longer usable, with a short description of
// why.
func (s *Server) dispatchLoop(ctx context.Context, conn *lpconn.Connection) string {
	for {
		msgID, raw, err := conn.RecvMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "shutdown"
			}
			return err.Error()
		}

		var req wire.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			// A request the dispatcher cannot even parse is a malformed
			// client: terminate rather than guess at a command name.
			return fmt.Sprintf("malformed request: %v", err)
		}

		handler, err := s.reg.Lookup(req.Command, conn, req.Args, msgID)
		if err != nil {
			// Lookup failure is a protocol error: a malformed client is
			// not tolerated, so the connection is terminated with no
			// reply rather than kept open (unlike a handler error, which
			// does get a reply and a live connection; see DESIGN.md).
			s.publish(events.NewMessageDispatchedEvent(conn.Ident, req.Command, false))
			return err.Error()
		}

		data, runErr := handler.Run(ctx)
		if runErr != nil {
			s.publish(events.NewHandlerErrorEvent(conn.Ident, req.Command, runErr))
			s.publish(events.NewMessageDispatchedEvent(conn.Ident, req.Command, false))
			s.sendReply(conn, msgID, nil, runErr)
			continue
		}
		s.publish(events.NewMessageDispatchedEvent(conn.Ident, req.Command, true))
		s.sendReply(conn, msgID, data, nil)
	}
}

// sendReply wraps data/handlerErr into the success/exception envelope
// and writes it. A write failure is logged, not fatal: the read side is
// what ultimately decides whether the connection is still usable.
func (s *Server) sendReply(conn *lpconn.Connection, msgID uint32, data any, handlerErr error) {
	var reply wire.Reply
	if handlerErr == nil {
		reply = wire.Reply{Success: true, Data: data}
	} else {
		reply = exceptionReply(handlerErr)
	}
	if err := conn.SendMessage(msgID, reply); err != nil {
		log.Printf("dispatch: send reply to %s: %v", conn, err)
	}
}

// namedException is implemented by errors that carry their own
// exception name and extra envelope fields (see commands.HandlerError).
// A handler error that doesn't implement it still gets a reply, named
// after its Go type.
type namedException interface {
	error
	ExceptionName() string
	ExtraFields() map[string]any
}

func exceptionReply(err error) wire.Reply {
	if ne, ok := err.(namedException); ok {
		return wire.Reply{Success: false, Exception: ne.ExceptionName(), Message: ne.Error(), Extra: ne.ExtraFields()}
	}
	return wire.Reply{Success: false, Exception: exceptionNameOf(err), Message: err.Error()}
}

func exceptionNameOf(err error) string {
	return fmt.Sprintf("%T", err)
}

func (s *Server) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// Snapshot returns a point-in-time view of every live connection, for
// internal/monitor.
func (s *Server) Snapshot() []lpconn.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lpconn.Snapshot, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// ConnCount returns the number of currently live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SetThresholds updates the backpressure thresholds applied to
// connections accepted from this point on. Connections already being
// served keep the thresholds they were created with; a config reload
// does not retroactively resize an in-flight queue.
func (s *Server) SetThresholds(t lpconn.Thresholds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Thresholds = t
}
