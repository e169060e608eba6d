// Package frame implements the LongerPull byte-stream state machine:
// the incremental parser that turns a raw, chunked TCP byte stream into
// complete (msg_id, body, is_compressed) frames.
//
// The parser keeps a single internal buffer that is extended as bytes
// arrive and drained by re-slicing; it is not reallocated per message,
// though each emitted Frame's Body is a fresh copy. This matches the source's
// "stateful byte parser without coroutines" design (see SPEC_FULL.md §9).
// It is a plain struct driven by Feed, not a goroutine — callers own the
// concurrency (see internal/lpconn for the read-loop goroutine that
// drives it from a net.Conn).
package frame

import (
	"fmt"

	"github.com/mayfield/longerpull/internal/wire"
)

type state int

const (
	stateConnect state = iota
	statePreamble
	stateData
	stateClosed
)

// Frame is one complete, decoded body lifted off the wire, still paired
// with its message id and compression flag; the caller (internal/lpconn)
// is responsible for running it through wire.DecodeMessage.
type Frame struct {
	MsgID        uint32
	Body         []byte
	IsCompressed bool
}

// Parser is the per-connection byte-stream state machine described in
// spec.md §4.3. It is not safe for concurrent use; a connection has
// exactly one reader goroutine feeding it bytes in order.
type Parser struct {
	state        state
	waitingBytes int
	msgID        uint32
	isCompressed bool
	buf          []byte

	// MaxBodySize bounds body_size as decoded from a preamble. Zero means
	// unbounded. This is an operational guard (SPEC_FULL.md §3) absent
	// from the original protocol, which trusted its preamble implicitly.
	MaxBodySize uint32
}

// NewParser returns a Parser positioned at the start of a new connection,
// expecting the single version handshake byte first.
func NewParser() *Parser {
	return &Parser{
		state:        stateConnect,
		waitingBytes: 1,
	}
}

// Feed appends chunk to the internal buffer and drains as many complete
// frames as are now available, in order. It handles chunks smaller than
// the bytes currently awaited (buffering the partial), chunks spanning
// multiple messages (looping), and a zero-length chunk (a no-op).
func (p *Parser) Feed(chunk []byte) ([]Frame, error) {
	if p.state == stateClosed {
		return nil, fmt.Errorf("frame: parser is closed")
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for len(p.buf) >= p.waitingBytes {
		data := p.buf[:p.waitingBytes]
		p.buf = p.buf[p.waitingBytes:]

		switch p.state {
		case stateConnect:
			version := data[0]
			if version != wire.ProtocolVersion {
				p.state = stateClosed
				return frames, fmt.Errorf("%w: got %d", wire.ErrBadVersion, version)
			}
			p.state = statePreamble
			p.waitingBytes = wire.PreambleSize

		case statePreamble:
			size, msgID, isCompressed, err := wire.DecodePreamble(data)
			if err != nil {
				p.state = stateClosed
				return frames, err
			}
			if p.MaxBodySize != 0 && size > p.MaxBodySize {
				p.state = stateClosed
				return frames, wire.ErrBodyTooLarge
			}
			p.msgID = msgID
			p.isCompressed = isCompressed
			p.state = stateData
			p.waitingBytes = int(size)

		case stateData:
			body := make([]byte, len(data))
			copy(body, data)
			frames = append(frames, Frame{
				MsgID:        p.msgID,
				Body:         body,
				IsCompressed: p.isCompressed,
			})
			p.state = statePreamble
			p.waitingBytes = wire.PreambleSize
		}
	}
	return frames, nil
}

// Close transitions the parser to its terminal state. Further Feed calls
// return an error. Safe to call more than once.
func (p *Parser) Close() {
	p.state = stateClosed
}
