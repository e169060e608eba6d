package commands

import (
	"context"
	"testing"

	"github.com/mayfield/longerpull/internal/registry"
)

type fakeConn struct {
	pollID uint32
	polled bool
}

func (f *fakeConn) SendMessage(msgID uint32, value any) error { return nil }
func (f *fakeConn) SetPollID(msgID uint32)                    { f.pollID = msgID; f.polled = true }
func (f *fakeConn) PollID() (uint32, bool)                    { return f.pollID, f.polled }
func (f *fakeConn) String() string                            { return "fakeConn" }

func newReg() *registry.Registry {
	r := registry.New()
	Register(r)
	return r
}

func TestRegister_AllSampleCommandsPresent(t *testing.T) {
	r := newReg()
	want := []string{"authorize", "register", "check_activation", "bind", "start_poll", "post"}
	got := map[string]bool{}
	for _, c := range r.Commands() {
		got[c] = true
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("expected command %q to be registered", w)
		}
	}
}

func TestAuthorize_RepliesHelloWorld(t *testing.T) {
	r := newReg()
	h, err := r.Lookup("authorize", &fakeConn{}, nil, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := data.(map[string]any)
	if m["Hello"] != "World" {
		t.Errorf("unexpected reply: %v", m)
	}
}

func TestRegisterClient_ReturnsClientAndToken(t *testing.T) {
	r := newReg()
	h, err := r.Lookup("register", &fakeConn{}, nil, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := data.(map[string]any)
	if m["client_id"] != 1 || m["token_id"] != 1 || m["token_secret"] != "abc" {
		t.Errorf("unexpected reply: %v", m)
	}
}

func TestCheckActivation_ReturnsHandlerError(t *testing.T) {
	r := newReg()
	h, err := r.Lookup("check_activation", &fakeConn{}, nil, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	_, err = h.Run(context.Background())
	var he *HandlerError
	if err == nil {
		t.Fatal("expected a HandlerError")
	}
	if !asHandlerError(err, &he) {
		t.Fatalf("expected *HandlerError, got %T: %v", err, err)
	}
	if he.Name != "notregistered" {
		t.Errorf("expected exception name 'notregistered', got %q", he.Name)
	}
}

func asHandlerError(err error, out **HandlerError) bool {
	he, ok := err.(*HandlerError)
	if ok {
		*out = he
	}
	return ok
}

func TestStartPoll_RecordsPollIDAndRepliesPushTemplate(t *testing.T) {
	r := newReg()
	conn := &fakeConn{}
	h, err := r.Lookup("start_poll", conn, nil, 99)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if id, ok := conn.PollID(); !ok || id != 99 {
		t.Fatalf("expected poll id 99 recorded at construction, got (%d, %v)", id, ok)
	}
	data, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	m := data.(map[string]any)
	if m["response_queue"] != "return_addr" {
		t.Errorf("unexpected reply: %v", m)
	}
}

func TestBind_RepliesNil(t *testing.T) {
	r := newReg()
	h, err := r.Lookup("bind", &fakeConn{}, nil, 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := h.Run(context.Background())
	if err != nil || data != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", data, err)
	}
}

func TestPost_DecodesArgsAndRepliesNil(t *testing.T) {
	r := newReg()
	h, err := r.Lookup("post", &fakeConn{}, []byte(`{"queue":"q","id":"i","value":42}`), 1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := h.Run(context.Background())
	if err != nil || data != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", data, err)
	}
}

func TestLookup_UnknownCommand(t *testing.T) {
	r := newReg()
	_, err := r.Lookup("does_not_exist", &fakeConn{}, nil, 1)
	if err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
