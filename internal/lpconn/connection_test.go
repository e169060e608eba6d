package lpconn

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/wire"
)

func newTestConnection(t *testing.T, thresholds Thresholds) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	return New(server, thresholds, nil), client
}

func TestConnection_DirectHandoff(t *testing.T) {
	c, _ := newTestConnection(t, DefaultThresholds())

	done := make(chan struct{})
	var gotID uint32
	var gotVal json.RawMessage
	go func() {
		gotID, gotVal, _ = c.RecvMessage(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let RecvMessage register its waiter
	c.feedMessage(5, json.RawMessage(`{"a":1}`))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for direct handoff")
	}

	if gotID != 5 || string(gotVal) != `{"a":1}` {
		t.Errorf("got (%d, %s)", gotID, gotVal)
	}
	if c.RecvDirect != 1 {
		t.Errorf("expected RecvDirect=1, got %d", c.RecvDirect)
	}
}

func TestConnection_BackpressurePauseAndResumeOnDrain(t *testing.T) {
	c, _ := newTestConnection(t, Thresholds{PauseThreshold: 1, ResumeThreshold: 0})

	var pauses, resumes int
	bus := events.NewBus()
	defer bus.Close()
	done := make(chan struct{}, 1)
	bus.Subscribe(func(e events.Event) {
		switch e.Type() {
		case events.EventPaused:
			pauses++
		case events.EventResumed:
			resumes++
			done <- struct{}{}
		}
	})
	c.bus = bus

	c.feedMessage(1, json.RawMessage(`1`))
	c.feedMessage(2, json.RawMessage(`2`))

	if !c.paused {
		t.Fatal("expected connection to be paused after crossing pause threshold")
	}
	if c.PauseCount != 1 {
		t.Errorf("expected PauseCount=1, got %d", c.PauseCount)
	}

	if _, _, err := c.RecvMessage(context.Background()); err != nil {
		t.Fatalf("recv 1: %v", err)
	}
	if !c.paused {
		t.Error("should still be paused: queue not yet drained to <= resume threshold")
	}

	if _, _, err := c.RecvMessage(context.Background()); err != nil {
		t.Fatalf("recv 2: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for resume event")
	}

	if c.paused {
		t.Error("expected connection to resume once queue drained to empty")
	}
	if pauses != 1 || resumes != 1 {
		t.Errorf("expected exactly one pause and one resume, got pauses=%d resumes=%d", pauses, resumes)
	}
}

func TestConnection_RecvInProgressRejected(t *testing.T) {
	c, _ := newTestConnection(t, DefaultThresholds())

	waiterStarted := make(chan struct{})
	go func() {
		close(waiterStarted)
		c.RecvMessage(context.Background())
	}()
	<-waiterStarted
	time.Sleep(20 * time.Millisecond)

	_, _, err := c.RecvMessage(context.Background())
	if err != ErrRecvInProgress {
		t.Fatalf("expected ErrRecvInProgress, got %v", err)
	}

	c.feedMessage(1, json.RawMessage(`1`))
}

func TestConnection_RecvMessageContextCancellation(t *testing.T) {
	c, _ := newTestConnection(t, DefaultThresholds())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.RecvMessage(ctx)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A subsequent real message must still be deliverable; the cancelled
	// waiter must have been cleared.
	c.feedMessage(9, json.RawMessage(`9`))
	id, val, err := c.RecvMessage(context.Background())
	if err != nil || id != 9 || string(val) != "9" {
		t.Fatalf("got (%d, %s, %v)", id, val, err)
	}
}

func TestConnection_FeedExceptionDelivered(t *testing.T) {
	c, _ := newTestConnection(t, DefaultThresholds())

	c.feedException(ErrConnectionLost)
	_, _, err := c.RecvMessage(context.Background())
	if err != ErrConnectionLost {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestConnection_ServeDeliversFramedMessages(t *testing.T) {
	c, client := newTestConnection(t, DefaultThresholds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)

	go func() {
		client.Write([]byte{wire.ProtocolVersion})
		data, compressed, _ := wire.EncodeMessage(map[string]any{"command": "ping"})
		pre := wire.EncodePreamble(3, uint32(len(data)), compressed)
		client.Write(pre[:])
		client.Write(data)
	}()

	id, val, err := c.RecvMessage(context.Background())
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if id != 3 {
		t.Errorf("expected msgID 3, got %d", id)
	}
	var decoded map[string]any
	if err := json.Unmarshal(val, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["command"] != "ping" {
		t.Errorf("unexpected payload: %v", decoded)
	}
}

func TestConnection_ServeSurfacesTransportClose(t *testing.T) {
	c, client := newTestConnection(t, DefaultThresholds())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)

	client.Close()

	_, _, err := c.RecvMessage(context.Background())
	if err == nil {
		t.Fatal("expected an error once the transport closes")
	}
}

func TestConnection_SendMessageRoundTrip(t *testing.T) {
	c, client := newTestConnection(t, DefaultThresholds())

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.SendMessage(11, map[string]any{"success": true, "data": 42})
	}()

	preBuf := make([]byte, wire.PreambleSize)
	if _, err := readFull(client, preBuf); err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	size, msgID, compressed, err := wire.DecodePreamble(preBuf)
	if err != nil {
		t.Fatalf("decode preamble: %v", err)
	}
	if msgID != 11 {
		t.Errorf("expected msgID 11, got %d", msgID)
	}

	body := make([]byte, size)
	if _, err := readFull(client, body); err != nil {
		t.Fatalf("read body: %v", err)
	}

	var out map[string]any
	if err := wire.DecodeMessage(body, compressed, &out); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if out["success"] != true {
		t.Errorf("unexpected payload: %v", out)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestConnection_PollID(t *testing.T) {
	c, _ := newTestConnection(t, DefaultThresholds())

	if _, ok := c.PollID(); ok {
		t.Fatal("expected no poll id set initially")
	}
	c.SetPollID(77)
	id, ok := c.PollID()
	if !ok || id != 77 {
		t.Fatalf("got (%d, %v)", id, ok)
	}
}
