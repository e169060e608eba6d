package lptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mayfield/longerpull/internal/wire"
)

// Client is a raw framing-level test client: it speaks the wire
// protocol directly instead of going through internal/lpconn, so tests
// can construct malformed preambles, split writes across reads, or skip
// the handshake entirely.
type Client struct {
	t    *testing.T
	conn net.Conn
}

// Dial connects to addr and registers t.Cleanup to close the socket.
func Dial(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("lptest: dial %s: %v", addr, err)
	}
	c := &Client{t: t, conn: conn}
	t.Cleanup(func() { conn.Close() })
	return c
}

// Handshake writes the protocol version byte, the first thing a real
// client sends on a new connection.
func (c *Client) Handshake() {
	c.t.Helper()
	if _, err := c.conn.Write([]byte{wire.Handshake()}); err != nil {
		c.t.Fatalf("lptest: handshake: %v", err)
	}
}

// WriteRaw writes bytes directly to the connection, for tests that need
// to corrupt a frame or split it across multiple writes.
func (c *Client) WriteRaw(b []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("lptest: write: %v", err)
	}
}

// SendRequest encodes and writes a full framed command request.
func (c *Client) SendRequest(msgID uint32, command string, args any) {
	c.t.Helper()

	var rawArgs json.RawMessage
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			c.t.Fatalf("lptest: marshal args: %v", err)
		}
		rawArgs = encoded
	}

	body, compressed, err := wire.EncodeMessage(wire.Request{Command: command, Args: rawArgs})
	if err != nil {
		c.t.Fatalf("lptest: encode request: %v", err)
	}
	c.writeFramed(msgID, body, compressed)
}

func (c *Client) writeFramed(msgID uint32, body []byte, compressed bool) {
	c.t.Helper()
	preamble := wire.EncodePreamble(msgID, uint32(len(body)), compressed)
	if _, err := c.conn.Write(preamble[:]); err != nil {
		c.t.Fatalf("lptest: write preamble: %v", err)
	}
	if _, err := c.conn.Write(body); err != nil {
		c.t.Fatalf("lptest: write body: %v", err)
	}
}

// ReadReply blocks for one framed reply and decodes it into a
// wire.Reply-shaped map (Reply's Extra fields are flattened on the
// wire, so a map survives round trips a struct would drop).
func (c *Client) ReadReply() (msgID uint32, reply map[string]any) {
	c.t.Helper()
	msgID, raw := c.ReadMessage()
	if err := json.Unmarshal(raw, &reply); err != nil {
		c.t.Fatalf("lptest: unmarshal reply: %v", err)
	}
	return msgID, reply
}

// ReadMessage blocks for one framed message and returns its decoded
// JSON body, without assuming it is a Reply (a push on a poll channel
// looks different).
func (c *Client) ReadMessage() (msgID uint32, raw json.RawMessage) {
	c.t.Helper()

	var preamble [wire.PreambleSize]byte
	if _, err := io.ReadFull(c.conn, preamble[:]); err != nil {
		c.t.Fatalf("lptest: read preamble: %v", err)
	}
	bodySize, msgID, compressed, err := wire.DecodePreamble(preamble[:])
	if err != nil {
		c.t.Fatalf("lptest: decode preamble: %v", err)
	}

	body := make([]byte, bodySize)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.t.Fatalf("lptest: read body: %v", err)
	}

	if err := wire.DecodeMessage(body, compressed, &raw); err != nil {
		c.t.Fatalf("lptest: decode message: %v", err)
	}
	return msgID, raw
}

// SetReadDeadline exposes the underlying connection's deadline, for
// tests asserting that the server does *not* reply (e.g. after closing
// the connection on a bad handshake).
func (c *Client) SetReadDeadline(d time.Duration) {
	c.conn.SetReadDeadline(time.Now().Add(d))
}

// ExpectClosed asserts that the next read observes EOF or a connection
// reset, within the given deadline.
func (c *Client) ExpectClosed(d time.Duration) error {
	c.conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, 1)
	n, err := c.conn.Read(buf)
	if err == nil && n > 0 {
		return fmt.Errorf("lptest: expected closed connection, read %d bytes", n)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ne
	}
	return nil
}
