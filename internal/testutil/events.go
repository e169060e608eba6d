// Package testutil provides common test utilities.
package testutil

import (
	"sync"
	"time"

	"github.com/mayfield/longerpull/internal/events"
)

// EventCollector is a thread-safe event collector for test assertions.
// Subscribe it to an event bus and then query collected events.
type EventCollector struct {
	mu     sync.Mutex
	all    []events.Event
	byConn map[uint64][]events.Event
	cond   *sync.Cond
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	ec := &EventCollector{
		all:    make([]events.Event, 0),
		byConn: make(map[uint64][]events.Event),
	}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Handler records e; pass c.Handler to bus.Subscribe().
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = append(c.all, e)
	c.byConn[e.ConnID()] = append(c.byConn[e.ConnID()], e)
	c.cond.Broadcast()
}

// Events returns all collected events, across every connection.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.all))
	copy(result, c.all)
	return result
}

// ForConn returns the events observed for a single connection id.
func (c *EventCollector) ForConn(connID uint64) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.byConn[connID]))
	copy(result, c.byConn[connID])
	return result
}

// CountType returns how many collected events match the given type.
func (c *EventCollector) CountType(t events.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.all {
		if e.Type() == t {
			n++
		}
	}
	return n
}

// WaitForType blocks until an event of the given type is observed or
// timeout expires. Returns true if it was observed.
func (c *EventCollector) WaitForType(t events.EventType, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		for _, e := range c.all {
			if e.Type() == t {
				return true
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		done := make(chan struct{})
		go func() {
			time.Sleep(remaining)
			c.cond.Broadcast()
			close(done)
		}()

		c.cond.Wait()

		select {
		case <-done:
			for _, e := range c.all {
				if e.Type() == t {
					return true
				}
			}
			return false
		default:
		}
	}
}

// Clear resets the collector's state.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all = make([]events.Event, 0)
	c.byConn = make(map[uint64][]events.Event)
}
