// Package rpc implements the server-initiated push used to run a
// command on a client that is parked in a long poll: it reuses the
// open poll's msg_id as the push's preamble id, so the client's pending
// recv_message resolves with the pushed request instead of a reply.
package rpc

import (
	"github.com/mayfield/longerpull/internal/registry"
	"github.com/mayfield/longerpull/internal/wire"
)

// Call pushes request down the poll channel identified by pollID. The
// response_queue/response_id fields are left nil; a caller that expects
// a correlated response back from the client is expected to arrange its
// own command (see the "post" command in internal/commands) to receive it.
func Call(conn registry.Conn, pollID uint32, request any) error {
	return conn.SendMessage(pollID, wire.Push{
		ResponseQueue: nil,
		ResponseID:    nil,
		Request:       request,
	})
}
