package channels

import (
	"errors"
	"time"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/loop"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/rs/zerolog"
)

const DefaultHeartbeatInterval = 500 * time.Millisecond

// HeartbeatChannel echoes every frame sequence back verbatim. Nothing is
// decoded.
type HeartbeatChannel struct {
	raw      transport.Socket
	interval time.Duration
	loop     *loop.Loop
	log      zerolog.Logger
}

func NewHeartbeatChannel(raw transport.Socket, interval time.Duration) *HeartbeatChannel {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	c := &HeartbeatChannel{
		raw:      raw,
		interval: interval,
		log:      logging.Component("channels").With().Str("channel", RoleHeartbeat).Logger(),
	}
	c.loop = loop.New(RoleHeartbeat, c.tick)
	return c
}

func (c *HeartbeatChannel) Loop() *loop.Loop { return c.loop }

func (c *HeartbeatChannel) tick() (time.Duration, error) {
	frames, ok, err := c.raw.Poll()
	if errors.Is(err, transport.ErrClosed) {
		return -1, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("channels.Heartbeat.tick poll failed")
		return c.interval, nil
	}
	if !ok {
		return c.interval, nil
	}
	if err := c.raw.Send(frames); err != nil {
		c.log.Warn().Err(err).Msg("channels.Heartbeat.tick echo failed")
	}
	return 0, nil
}
