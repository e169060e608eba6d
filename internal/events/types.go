// Package events provides the event system used to observe a running
// dispatcher: connection lifecycle, backpressure transitions, and
// dispatch errors, consumed by internal/monitor.
package events

import "time"

// EventType identifies the kind of event.
type EventType int

const (
	EventConnectionOpened EventType = iota
	EventConnectionClosed
	EventPaused
	EventResumed
	EventMessageDispatched
	EventHandlerError
)

func (e EventType) String() string {
	switch e {
	case EventConnectionOpened:
		return "connection_opened"
	case EventConnectionClosed:
		return "connection_closed"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventMessageDispatched:
		return "message_dispatched"
	case EventHandlerError:
		return "handler_error"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events. ConnID identifies the
// originating connection; it is zero for process-wide events (none
// currently exist, but the zero value is reserved for that).
type Event interface {
	Type() EventType
	ConnID() uint64
	Timestamp() time.Time
}

type baseEvent struct {
	connID    uint64
	timestamp time.Time
}

func (e baseEvent) ConnID() uint64       { return e.connID }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBase(connID uint64) baseEvent {
	return baseEvent{connID: connID, timestamp: time.Now()}
}

// ConnectionOpenedEvent is emitted when the dispatcher accepts a new
// connection.
type ConnectionOpenedEvent struct {
	baseEvent
	PeerAddr string
}

func (e ConnectionOpenedEvent) Type() EventType { return EventConnectionOpened }

// NewConnectionOpenedEvent creates a new connection-opened event.
func NewConnectionOpenedEvent(connID uint64, peerAddr string) ConnectionOpenedEvent {
	return ConnectionOpenedEvent{baseEvent: newBase(connID), PeerAddr: peerAddr}
}

// ConnectionClosedEvent is emitted when a connection's serve loop exits,
// for any reason (clean close, protocol error, transport loss).
type ConnectionClosedEvent struct {
	baseEvent
	Reason string
}

func (e ConnectionClosedEvent) Type() EventType { return EventConnectionClosed }

// NewConnectionClosedEvent creates a new connection-closed event.
func NewConnectionClosedEvent(connID uint64, reason string) ConnectionClosedEvent {
	return ConnectionClosedEvent{baseEvent: newBase(connID), Reason: reason}
}

// PausedEvent is emitted when a connection's receive queue crosses the
// pause threshold and reading is suspended.
type PausedEvent struct {
	baseEvent
}

func (e PausedEvent) Type() EventType { return EventPaused }

// NewPausedEvent creates a new paused event.
func NewPausedEvent(connID uint64) PausedEvent {
	return PausedEvent{baseEvent: newBase(connID)}
}

// ResumedEvent is emitted when a connection's receive queue drains
// enough to resume reading.
type ResumedEvent struct {
	baseEvent
}

func (e ResumedEvent) Type() EventType { return EventResumed }

// NewResumedEvent creates a new resumed event.
func NewResumedEvent(connID uint64) ResumedEvent {
	return ResumedEvent{baseEvent: newBase(connID)}
}

// MessageDispatchedEvent is emitted after a handler completes (whether
// it succeeded or returned a HandlerError), and with Success false when
// the command lookup fails, for throughput monitoring.
type MessageDispatchedEvent struct {
	baseEvent
	Command string
	Success bool
}

func (e MessageDispatchedEvent) Type() EventType { return EventMessageDispatched }

// NewMessageDispatchedEvent creates a new message-dispatched event.
func NewMessageDispatchedEvent(connID uint64, command string, success bool) MessageDispatchedEvent {
	return MessageDispatchedEvent{baseEvent: newBase(connID), Command: command, Success: success}
}

// HandlerErrorEvent is emitted when a handler returns an error that the
// dispatcher converts into an exception reply, per the continue-on-error
// policy (see DESIGN.md).
type HandlerErrorEvent struct {
	baseEvent
	Command string
	Err     error
}

func (e HandlerErrorEvent) Type() EventType { return EventHandlerError }

// NewHandlerErrorEvent creates a new handler-error event.
func NewHandlerErrorEvent(connID uint64, command string, err error) HandlerErrorEvent {
	return HandlerErrorEvent{baseEvent: newBase(connID), Command: command, Err: err}
}
