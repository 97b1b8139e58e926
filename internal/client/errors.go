// Package client is the frontend side of the wire protocol.
//
// Ownership boundary:
// - PendingRequest: one outstanding request, settled exactly once
// - Correlator: pending table and routing of inbound messages by parent id
// - HeartbeatMonitor: liveness probing and kernel death detection
// - Client: sockets, receive loops, request helpers, client-side comms
package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

var (
	ErrKernelDied   = errors.New("client: kernel died")
	ErrClosed       = errors.New("client: closed")
	ErrNoInput      = errors.New("client: no input available")
	ErrNoReplyType  = errors.New("client: request type has no reply type")
	ErrDuplicateID  = errors.New("client: duplicate request id")
	ErrNotConnected = errors.New("client: socket not connected")
)

// ReplyError is a reply whose status was "error".
type ReplyError struct {
	MsgType string
	Reply   *protocol.ErrorReply
}

func (e *ReplyError) Error() string {
	if e.Reply == nil {
		return fmt.Sprintf("client: %s failed", e.MsgType)
	}
	return fmt.Sprintf("client: %s failed: %s: %s", e.MsgType, e.Reply.EName, e.Reply.EValue)
}

func (e *ReplyError) Unwrap() error {
	if e.Reply == nil {
		return nil
	}
	return e.Reply
}

// ProtocolError reports a reply whose type does not match the request.
type ProtocolError struct {
	RequestID string
	Expected  string
	Got       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: request %s expected %s, got %s", e.RequestID, e.Expected, e.Got)
}
