package rpc

import (
	"testing"

	"github.com/mayfield/longerpull/internal/wire"
)

type captureConn struct {
	msgID uint32
	value any
}

func (c *captureConn) SendMessage(msgID uint32, value any) error {
	c.msgID = msgID
	c.value = value
	return nil
}
func (c *captureConn) SetPollID(uint32)         {}
func (c *captureConn) PollID() (uint32, bool)   { return 0, false }
func (c *captureConn) String() string           { return "captureConn" }

func TestCall_PushesOnPollChannel(t *testing.T) {
	conn := &captureConn{}
	req := map[string]any{"system": "cs", "command": "get"}

	if err := Call(conn, 42, req); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if conn.msgID != 42 {
		t.Errorf("expected push on msg_id 42, got %d", conn.msgID)
	}
	payload := conn.value.(wire.Push)
	if payload.ResponseQueue != nil || payload.ResponseID != nil {
		t.Errorf("expected nil response_queue/response_id, got %+v", payload)
	}
	if payload.Request.(map[string]any)["command"] != "get" {
		t.Errorf("unexpected request payload: %v", payload.Request)
	}
}
