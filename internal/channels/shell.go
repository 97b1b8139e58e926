package channels

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/loop"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultPollInterval = 50 * time.Millisecond

// Handler serves one inbound request. Returned errors and panics are logged;
// the handler is expected to have already replied with an error.
type Handler func(env *ReplyEnvironment, msg *protocol.Message) error

// ShellChannel is the request/reply dispatcher used for both shell and
// control. The two differ only in role name.
type ShellChannel struct {
	role     string
	sock     *Socket
	conn     *Connection
	interval time.Duration
	loop     *loop.Loop
	log      zerolog.Logger
}

func newShellChannel(role string, sock *Socket, conn *Connection, interval time.Duration) *ShellChannel {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c := &ShellChannel{
		role:     role,
		sock:     sock,
		conn:     conn,
		interval: interval,
		log:      logging.Component("channels").With().Str("channel", role).Logger(),
	}
	c.loop = loop.New(role, c.tick)
	return c
}

func (c *ShellChannel) Role() string { return c.role }
func (c *ShellChannel) Socket() *Socket { return c.sock }
func (c *ShellChannel) Loop() *loop.Loop { return c.loop }

// tick handles at most one message. After a message it polls again without
// sleeping.
func (c *ShellChannel) tick() (time.Duration, error) {
	msg, ok, err := c.sock.Poll()
	if errors.Is(err, transport.ErrClosed) {
		return -1, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msgf("channels.%s.tick discarded message", c.role)
		return 0, nil
	}
	if !ok {
		return c.interval, nil
	}
	c.dispatch(msg)
	return 0, nil
}

func (c *ShellChannel) dispatch(msg *protocol.Message) {
	handler := c.conn.Handler(msg.Type)
	if handler == nil {
		c.log.Warn().Msgf("channels.%s.dispatch unhandled msg_type=%q msg_id=%q", c.role, msg.TypeName(), msg.ID())
		return
	}

	env := c.conn.newEnvironment(c.sock, msg)
	start := time.Now()
	err := invokeHandler(handler, env, msg)
	if err != nil {
		c.log.Error().Err(err).Msgf("channels.%s.dispatch handler failed msg_type=%q", c.role, msg.TypeName())
	}
	if rerr := env.finish(); rerr != nil {
		c.log.Error().Err(rerr).Msgf("channels.%s.dispatch deferred actions failed msg_type=%q", c.role, msg.TypeName())
	}
	observability.RecordHandler(msg.TypeName(), time.Since(start), err)

	if env.IsMarkedForShutdown() {
		c.log.Info().Msgf("channels.%s.dispatch shutdown requested", c.role)
		c.conn.Close()
	}
}

func invokeHandler(h Handler, env *ReplyEnvironment, msg *protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(env, msg)
}
