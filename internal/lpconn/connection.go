// Package lpconn implements the per-connection receive queue, backpressure,
// and send path described in spec.md §4.4: it is the glue between a raw
// net.Conn, the frame parser, and the dispatcher.
package lpconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/frame"
	"github.com/mayfield/longerpull/internal/wire"
)

// ErrConnectionLost is surfaced to a pending or future RecvMessage call
// once the transport has closed, by error or by EOF.
var ErrConnectionLost = errors.New("lpconn: connection lost")

// ErrRecvInProgress is returned by RecvMessage when a previous call on the
// same connection has not yet resolved. spec.md §9 treats a second
// concurrent receiver as a programming error to reject outright; this
// implementation returns an error instead of asserting/panicking so that
// a caller bug in one connection's handler does not take down the process
// (see DESIGN.md Open Questions).
var ErrRecvInProgress = errors.New("lpconn: recv_message already pending")

var identer atomic.Uint64

type queued struct {
	msgID uint32
	value json.RawMessage
	err   error
}

// Thresholds configures the backpressure policy for a Connection. The
// zero value is not valid; use DefaultThresholds.
type Thresholds struct {
	// PauseThreshold is the queue length at which reading is paused.
	PauseThreshold int
	// ResumeThreshold is the queue length at or below which reading is
	// resumed once the consumer drains the queue.
	ResumeThreshold int
	// MaxBodySize bounds a single message body; zero means unbounded.
	MaxBodySize uint32
}

// DefaultThresholds yields strict one-in-flight backpressure: pause as
// soon as one message is queued, resume the instant the queue is
// drained to empty.
func DefaultThresholds() Thresholds {
	return Thresholds{PauseThreshold: 1, ResumeThreshold: 0}
}

// Connection owns one TCP peer: its reader/writer halves, receive queue,
// single in-flight waiter, and backpressure state. It is created on
// accept and reaches a terminal state on transport close or protocol
// error; it is never reused.
type Connection struct {
	Ident    uint64
	PeerAddr string

	netConn net.Conn
	parser  *frame.Parser
	bus     *events.Bus

	thresholds Thresholds

	mu     sync.Mutex
	queue  []queued
	waiter chan queued
	paused bool
	closed bool
	pollID *uint32

	resumeCh chan struct{}

	// Counters, guarded by mu and mutated only from the connection's own
	// goroutines (Serve's read loop and the dispatcher's RecvMessage
	// calls), per spec.md §5.
	RecvDirect  uint64
	RecvEnqueue uint64
	RecvDequeue uint64
	RecvWait    uint64
	PauseCount  uint64

	writeMu sync.Mutex
}

// New wraps conn and returns a Connection ready to have its read loop
// started. The caller is responsible for calling Serve to begin
// consuming bytes.
func New(conn net.Conn, thresholds Thresholds, bus *events.Bus) *Connection {
	return &Connection{
		Ident:      identer.Add(1),
		PeerAddr:   conn.RemoteAddr().String(),
		netConn:    conn,
		parser:     withMaxBody(frame.NewParser(), thresholds.MaxBodySize),
		bus:        bus,
		thresholds: thresholds,
		resumeCh:   make(chan struct{}, 1),
	}
}

func withMaxBody(p *frame.Parser, max uint32) *frame.Parser {
	p.MaxBodySize = max
	return p
}

func (c *Connection) String() string {
	return fmt.Sprintf("<Connection [%s] ident:%d>", c.PeerAddr, c.Ident)
}

// Serve runs the blocking read loop until the transport closes, a
// protocol error occurs, or ctx is cancelled. ctx is observed only while
// the loop is paused; a pending Read returns once the transport is
// closed. It is meant to be run in its own goroutine by the dispatcher.
func (c *Connection) Serve(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		if c.waitIfPaused(ctx) {
			return
		}

		n, err := c.netConn.Read(buf)
		if err != nil {
			c.feedException(wrapReadErr(err))
			return
		}
		if n == 0 {
			continue
		}

		frames, ferr := c.parser.Feed(buf[:n])
		for _, f := range frames {
			if decodeErr := c.feedFrame(f); decodeErr != nil {
				c.feedException(decodeErr)
				return
			}
		}
		if ferr != nil {
			c.feedException(ferr)
			return
		}
	}
}

func wrapReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// waitIfPaused blocks the read loop while the connection is paused,
// returning true if ctx was cancelled in the meantime.
func (c *Connection) waitIfPaused(ctx context.Context) (cancelled bool) {
	for {
		c.mu.Lock()
		paused := c.paused
		c.mu.Unlock()
		if !paused {
			return false
		}
		// A resume signalled while the loop was not waiting leaves a
		// stale token in resumeCh, so re-check paused after each one.
		select {
		case <-c.resumeCh:
		case <-ctx.Done():
			return true
		}
	}
}

func (c *Connection) feedFrame(f frame.Frame) error {
	var raw json.RawMessage
	if err := wire.DecodeMessage(f.Body, f.IsCompressed, &raw); err != nil {
		return err
	}
	c.feedMessage(f.MsgID, raw)
	return nil
}

// feedMessage delivers a decoded message to the pending waiter, or
// queues it, applying the pause policy on enqueue per spec.md §4.4.
func (c *Connection) feedMessage(msgID uint32, value json.RawMessage) {
	c.mu.Lock()
	if c.waiter != nil {
		w := c.waiter
		c.waiter = nil
		c.RecvDirect++
		c.mu.Unlock()
		w <- queued{msgID: msgID, value: value}
		return
	}

	c.queue = append(c.queue, queued{msgID: msgID, value: value})
	c.RecvEnqueue++
	shouldPause := !c.paused && len(c.queue) >= c.thresholds.PauseThreshold
	if shouldPause {
		c.paused = true
		c.PauseCount++
	}
	c.mu.Unlock()

	if shouldPause {
		c.publish(events.NewPausedEvent(c.Ident))
	}
}

// feedException delivers a terminal error to the pending waiter, or
// queues it so the next RecvMessage call surfaces it.
func (c *Connection) feedException(err error) {
	c.mu.Lock()
	if c.waiter != nil {
		w := c.waiter
		c.waiter = nil
		c.mu.Unlock()
		w <- queued{err: err}
		return
	}
	c.queue = append(c.queue, queued{err: err})
	c.mu.Unlock()
}

// RecvMessage returns the next available message. Only one call may be
// in flight at a time; a second concurrent call returns
// ErrRecvInProgress.
func (c *Connection) RecvMessage(ctx context.Context) (msgID uint32, value json.RawMessage, err error) {
	c.mu.Lock()
	if c.waiter != nil {
		c.mu.Unlock()
		return 0, nil, ErrRecvInProgress
	}

	if len(c.queue) > 0 {
		item := c.queue[0]
		c.queue = c.queue[1:]
		c.RecvDequeue++
		resume := c.paused && len(c.queue) <= c.thresholds.ResumeThreshold
		if resume {
			c.paused = false
		}
		c.mu.Unlock()
		if resume {
			c.signalResume()
		}
		return item.msgID, item.value, item.err
	}

	resume := c.paused && c.thresholds.ResumeThreshold == 0
	if resume {
		c.paused = false
	}
	ch := make(chan queued, 1)
	c.waiter = ch
	c.RecvWait++
	c.mu.Unlock()

	if resume {
		c.signalResume()
	}

	select {
	case item := <-ch:
		return item.msgID, item.value, item.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.waiter == ch {
			c.waiter = nil
		}
		c.mu.Unlock()
		return 0, nil, ctx.Err()
	}
}

func (c *Connection) signalResume() {
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
	c.publish(events.NewResumedEvent(c.Ident))
}

// SendMessage encodes value, frames it with msgID, and writes it to the
// transport. Writes are fire-and-forget at this layer (spec.md §4.4,
// §9): the transport is left to buffer or apply its own backpressure.
func (c *Connection) SendMessage(msgID uint32, value any) error {
	data, compressed, err := wire.EncodeMessage(value)
	if err != nil {
		return err
	}
	preamble := wire.EncodePreamble(msgID, uint32(len(data)), compressed)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return fmt.Errorf("lpconn: send on closed connection")
	}
	if _, err := c.netConn.Write(preamble[:]); err != nil {
		return err
	}
	_, err = c.netConn.Write(data)
	return err
}

// SetPollID records the msg_id of an outstanding start_poll request, so
// a later server-initiated push can reuse it (spec.md §9, internal/rpc).
func (c *Connection) SetPollID(msgID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := msgID
	c.pollID = &id
}

// PollID returns the stored poll channel id, if any.
func (c *Connection) PollID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollID == nil {
		return 0, false
	}
	return *c.pollID, true
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying transport. Subsequent SendMessage calls
// fail.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.parser.Close()
	return c.netConn.Close()
}

func (c *Connection) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

// Snapshot captures a point-in-time view of the connection's counters,
// used by internal/monitor.
type Snapshot struct {
	Ident       uint64
	PeerAddr    string
	QueueLength int
	Paused      bool
	RecvDirect  uint64
	RecvEnqueue uint64
	RecvDequeue uint64
	RecvWait    uint64
	PauseCount  uint64
}

// Snapshot returns the current counters and queue depth.
func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Ident:       c.Ident,
		PeerAddr:    c.PeerAddr,
		QueueLength: len(c.queue),
		Paused:      c.paused,
		RecvDirect:  c.RecvDirect,
		RecvEnqueue: c.RecvEnqueue,
		RecvDequeue: c.RecvDequeue,
		RecvWait:    c.RecvWait,
		PauseCount:  c.PauseCount,
	}
}
