// Package registry holds the read-only-after-startup map from command
// name to handler constructor that the dispatcher consults for every
// incoming request (spec.md §4.6).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler is a single constructed command invocation. Run executes the
// command and returns the value to place in the reply envelope's data
// field, or an error to be reported back to the caller without closing
// the connection (see DESIGN.md's continue-on-error resolution).
type Handler interface {
	Run(ctx context.Context) (any, error)
}

// Conn is the subset of *internal/lpconn.Connection a handler needs.
// Handlers depend on this interface, not the concrete connection type,
// so internal/commands can be tested without a real socket.
type Conn interface {
	SendMessage(msgID uint32, value any) error
	SetPollID(msgID uint32)
	PollID() (uint32, bool)
	String() string
}

// Constructor builds a Handler for one request. args is the raw,
// still-undecoded "args" field of the request envelope; msgID is the
// frame's message id (handlers that start a long poll record it via
// conn.SetPollID).
type Constructor func(conn Conn, args json.RawMessage, msgID uint32) (Handler, error)

// ErrUnknownCommand is returned by Lookup when no constructor is
// registered under the given name.
type ErrUnknownCommand struct {
	Command string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("registry: unknown command %q", e.Command)
}

// Registry is a name -> Constructor map. It is built once at startup via
// Register and is read-only afterward; Lookup is safe for concurrent use
// by every connection's dispatch goroutine.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a named constructor. Re-registering a name overwrites
// the previous constructor; callers typically do this once at startup
// before serving any connection.
func (r *Registry) Register(command string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[command] = ctor
}

// Lookup constructs a Handler for command, or returns *ErrUnknownCommand.
func (r *Registry) Lookup(command string, conn Conn, args json.RawMessage, msgID uint32) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[command]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrUnknownCommand{Command: command}
	}
	return ctor(conn, args, msgID)
}

// Commands returns the currently registered command names, for
// diagnostics and tests. The order is unspecified.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}
