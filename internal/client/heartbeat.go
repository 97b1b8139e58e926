package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/loop"
	"github.com/danmuck/jupyterwire/internal/observability"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/rs/zerolog"
)

// HeartbeatState is the monitor's view of the kernel.
type HeartbeatState int

const (
	StateBeating HeartbeatState = iota
	StateWaitingOnEcho
	StateMessagingFailure
	StatePaused
	StateDead
)

func (s HeartbeatState) String() string {
	switch s {
	case StateBeating:
		return "beating"
	case StateWaitingOnEcho:
		return "waiting_on_echo"
	case StateMessagingFailure:
		return "messaging_failure"
	case StatePaused:
		return "paused"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type HeartbeatConfig struct {
	Interval        time.Duration
	DeadAfter       time.Duration
	AllowedFailures int
	Backoff         BackoffConfig
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:        time.Second,
		DeadAfter:       time.Second,
		AllowedFailures: 3,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	def := DefaultHeartbeatConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.DeadAfter <= 0 {
		c.DeadAfter = def.DeadAfter
	}
	if c.AllowedFailures < 0 {
		c.AllowedFailures = 0
	}
	return c
}

// Dialer opens a fresh heartbeat socket.
type Dialer func(ctx context.Context) (transport.Socket, error)

// HeartbeatMonitor pings the kernel's heartbeat endpoint and declares the
// kernel dead once AllowedFailures consecutive echoes have been missed.
type HeartbeatMonitor struct {
	cfg    HeartbeatConfig
	redial Dialer
	rng    *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sock     transport.Socket
	state    HeartbeatState
	paused   bool
	failures int
	onDeath  []func()
	died     bool

	loop *loop.Loop
	log  zerolog.Logger
}

// NewHeartbeatMonitor pings over sock. When redial is set, the socket is
// replaced after each failure, since a REQ socket that missed its reply
// cannot send again.
func NewHeartbeatMonitor(sock transport.Socket, redial Dialer, cfg HeartbeatConfig) *HeartbeatMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &HeartbeatMonitor{
		cfg:    cfg.withDefaults(),
		redial: redial,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:    ctx,
		cancel: cancel,
		sock:   sock,
		log:    logging.Component("client").With().Str("channel", "hb").Logger(),
	}
	m.loop = loop.New("client.hb", m.tick)
	return m
}

func (m *HeartbeatMonitor) Start() error { return m.loop.Start() }

// Close stops probing and closes the socket. It does not declare death.
func (m *HeartbeatMonitor) Close() {
	m.cancel()
	m.loop.Shutdown()
	m.loop.Wait()
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
}

func (m *HeartbeatMonitor) State() HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *HeartbeatMonitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// OnDeath registers fn to run once when the kernel is declared dead. If it
// already is, fn runs immediately.
func (m *HeartbeatMonitor) OnDeath(fn func()) {
	m.mu.Lock()
	if m.died {
		m.mu.Unlock()
		fn()
		return
	}
	m.onDeath = append(m.onDeath, fn)
	m.mu.Unlock()
}

// Pause suspends probing without counting failures.
func (m *HeartbeatMonitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.died {
		return
	}
	m.paused = true
	m.state = StatePaused
}

// Resume restarts probing with a clean failure count.
func (m *HeartbeatMonitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.died {
		return
	}
	m.paused = false
	m.failures = 0
	m.state = StateBeating
}

func (m *HeartbeatMonitor) tick() (time.Duration, error) {
	m.mu.Lock()
	paused, died := m.paused, m.died
	m.mu.Unlock()
	if died {
		return -1, nil
	}
	if paused {
		return m.cfg.Interval, nil
	}

	err := m.ping()
	if m.ctx.Err() != nil {
		return -1, nil
	}
	if err == nil {
		m.mu.Lock()
		recovered := m.failures > 0
		m.failures = 0
		if !m.paused {
			m.state = StateBeating
		}
		m.mu.Unlock()
		if recovered {
			m.log.Info().Msg("client.HeartbeatMonitor beating again")
		}
		return m.cfg.Interval, nil
	}

	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return m.cfg.Interval, nil
	}
	m.failures++
	failures := m.failures
	m.state = StateMessagingFailure
	m.mu.Unlock()
	observability.RecordHeartbeatFailure(StateMessagingFailure.String())
	m.log.Warn().Err(err).Msgf("client.HeartbeatMonitor missed echo failures=%d allowed=%d", failures, m.cfg.AllowedFailures)

	if failures >= m.cfg.AllowedFailures {
		m.die(failures)
		return -1, nil
	}
	m.reconnect()
	return nextBackoffDelay(m.cfg.Backoff, failures, m.rng), nil
}

// ping sends one random 4-byte ping and waits DeadAfter for its echo.
// Stale echoes from earlier pings are skipped.
func (m *HeartbeatMonitor) ping() error {
	m.mu.Lock()
	sock := m.sock
	if !m.paused {
		m.state = StateWaitingOnEcho
	}
	m.mu.Unlock()
	if sock == nil {
		return ErrNotConnected
	}

	for {
		if _, ok, err := sock.Poll(); !ok || err != nil {
			break
		}
	}
	ping := make([]byte, 4)
	binary.BigEndian.PutUint32(ping, m.rng.Uint32())
	if err := sock.Send([][]byte{ping}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DeadAfter)
	defer cancel()
	for {
		frames, err := sock.Recv(ctx)
		if err != nil {
			return err
		}
		if len(frames) == 1 && bytes.Equal(frames[0], ping) {
			return nil
		}
	}
}

func (m *HeartbeatMonitor) reconnect() {
	if m.redial == nil {
		return
	}
	m.mu.Lock()
	old := m.sock
	m.sock = nil
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	sock, err := m.redial(m.ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("client.HeartbeatMonitor redial failed")
		return
	}
	m.mu.Lock()
	m.sock = sock
	m.mu.Unlock()
}

func (m *HeartbeatMonitor) die(failures int) {
	m.mu.Lock()
	if m.died {
		m.mu.Unlock()
		return
	}
	m.died = true
	m.state = StateDead
	callbacks := append([]func(){}, m.onDeath...)
	m.mu.Unlock()

	observability.RecordHeartbeatFailure(StateDead.String())
	m.log.Error().Msgf("client.HeartbeatMonitor kernel dead after failures=%d", failures)
	for _, fn := range callbacks {
		fn()
	}
}
