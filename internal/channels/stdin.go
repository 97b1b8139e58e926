package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/rs/zerolog"
)

var ErrInputTimeout = errors.New("channels: timed out waiting for input_reply")

// StdinChannel lets a handler ask the frontend for input mid-request. The
// call blocks the handler's goroutine, never the stdin socket's peers.
type StdinChannel struct {
	sock    *Socket
	timeout time.Duration
	mu      sync.Mutex
	log     zerolog.Logger
}

// NewStdinChannel binds sock. A zero timeout waits until ctx ends.
func NewStdinChannel(sock *Socket, timeout time.Duration) *StdinChannel {
	return &StdinChannel{
		sock:    sock,
		timeout: timeout,
		log:     logging.Component("channels").With().Str("channel", RoleStdin).Logger(),
	}
}

func (c *StdinChannel) Socket() *Socket { return c.sock }

// GetInput sends an input_request under parent and waits for the matching
// input_reply. Replies for other requests are dropped.
func (c *StdinChannel) GetInput(ctx context.Context, parent *protocol.Message, prompt string, password bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := protocol.NewReply(parent, protocol.MsgInputRequest, &protocol.InputRequest{Prompt: prompt, Password: password})
	if err := c.sock.Send(req); err != nil {
		return "", fmt.Errorf("send input_request: %w", err)
	}

	for {
		msg, err := c.sock.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %v", ErrInputTimeout, err)
			}
			return "", err
		}
		if msg.Type != protocol.MsgInputReply {
			c.log.Warn().Msgf("channels.Stdin.GetInput unexpected msg_type=%q", msg.TypeName())
			continue
		}
		if pid := msg.ParentID(); pid != "" && pid != req.ID() {
			c.log.Warn().Msgf("channels.Stdin.GetInput stale input_reply parent=%q", pid)
			continue
		}
		reply, err := protocol.ContentAs[protocol.InputReply](msg)
		if err != nil {
			return "", err
		}
		return reply.Value, nil
	}
}
