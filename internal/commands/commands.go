// Package commands provides the sample command set ported from the
// reference server: authorize, register, check_activation, bind,
// start_poll, and post. Each handler returns the value that belongs in
// the reply envelope's data field (or an error); internal/dispatch is
// responsible for wrapping that into the success/exception envelope, so
// these handlers stay free of framing concerns (see DESIGN.md).
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mayfield/longerpull/internal/registry"
)

// Register adds every sample command to reg under its wire name.
func Register(reg *registry.Registry) {
	reg.Register("authorize", newAuthorize)
	reg.Register("register", newRegisterClient)
	reg.Register("check_activation", newCheckActivation)
	reg.Register("bind", newBind)
	reg.Register("start_poll", newStartPoll)
	reg.Register("post", newPost)
}

// HandlerError wraps an error with the exception name and extra fields
// that belong in a failed reply envelope, mirroring reply_exception's
// (name, message, extra) triple.
type HandlerError struct {
	Name  string
	Msg   string
	Extra map[string]any
}

func (e *HandlerError) Error() string { return e.Msg }

// ExceptionName and ExtraFields let internal/dispatch build the
// exception reply envelope without importing this package directly.
func (e *HandlerError) ExceptionName() string       { return e.Name }
func (e *HandlerError) ExtraFields() map[string]any { return e.Extra }

func newHandlerError(name string, err error, extra map[string]any) error {
	return &HandlerError{Name: name, Msg: err.Error(), Extra: extra}
}

type authorizeArgs struct {
	Username     *string `json:"username"`
	Password     *string `json:"password"`
	TokenID      *string `json:"token_id"`
	TokenSecret  *string `json:"token_secret"`
}

type authorize struct{}

func newAuthorize(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	if len(args) > 0 {
		var parsed authorizeArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("commands: decoding authorize args: %w", err)
		}
	}
	return authorize{}, nil
}

func (authorize) Run(ctx context.Context) (any, error) {
	return map[string]any{"Hello": "World"}, nil
}

type registerArgs struct {
	Product *string `json:"product"`
	MAC     *string `json:"mac"`
	Name    *string `json:"name"`
}

type registerClient struct{}

func newRegisterClient(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	if len(args) > 0 {
		var parsed registerArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("commands: decoding register args: %w", err)
		}
	}
	return registerClient{}, nil
}

func (registerClient) Run(ctx context.Context) (any, error) {
	return map[string]any{
		"client_id":    1,
		"token_id":     1,
		"token_secret": "abc",
	}, nil
}

type checkActivationArgs struct {
	SecretHash *string `json:"secrethash"`
}

type checkActivation struct{}

func newCheckActivation(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	if len(args) > 0 {
		var parsed checkActivationArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("commands: decoding check_activation args: %w", err)
		}
	}
	return checkActivation{}, nil
}

func (checkActivation) Run(ctx context.Context) (any, error) {
	return nil, newHandlerError("notregistered", errors.New("client is not registered"), nil)
}

type bindArgs struct {
	ClientID *int `json:"client_id"`
}

type bind struct{}

func newBind(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	if len(args) > 0 {
		var parsed bindArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("commands: decoding bind args: %w", err)
		}
	}
	return bind{}, nil
}

// Run replies with a bare ack (data: null), matching reply(None) in the
// original — not a stub.
func (bind) Run(ctx context.Context) (any, error) {
	return nil, nil
}

// startPoll's command args are themselves a nested request to arm, per
// the reference server; LongerPull only needs to remember which
// connection opened the channel, so args are accepted but not
// interpreted further here.
type startPoll struct {
	conn registry.Conn
}

func newStartPoll(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	conn.SetPollID(msgID)
	return startPoll{conn: conn}, nil
}

func (startPoll) Run(ctx context.Context) (any, error) {
	return map[string]any{
		"response_queue": "return_addr",
		"response_id":    0,
		"request": map[string]any{
			"system":  "cs",
			"command": "get",
			"options": map[string]any{
				"path": "status.product_info.mac0",
			},
			"event_trigger": map[string]any{
				"system": "cs",
				"id":     0,
				"trigger": map[string]any{
					"event": "put",
					"path":  "config",
					"delay": 0,
				},
			},
		},
	}, nil
}

type postArgs struct {
	Queue *string         `json:"queue"`
	ID    *string         `json:"id"`
	Value json.RawMessage `json:"value"`
}

type post struct{}

func newPost(conn registry.Conn, args json.RawMessage, msgID uint32) (registry.Handler, error) {
	if len(args) > 0 {
		var parsed postArgs
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("commands: decoding post args: %w", err)
		}
	}
	return post{}, nil
}

// Run replies with a bare ack (data: null), matching reply(None) in the
// original — not a stub.
func (post) Run(ctx context.Context) (any, error) {
	return nil, nil
}
