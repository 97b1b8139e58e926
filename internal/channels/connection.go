package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/config"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sockets are the five raw endpoints a Connection is built from.
type Sockets struct {
	Shell     transport.Socket
	Control   transport.Socket
	Stdin     transport.Socket
	IOPub     transport.Socket
	Heartbeat transport.Socket
}

func (s Sockets) closeAll() {
	for _, sock := range []transport.Socket{s.Shell, s.Control, s.Stdin, s.IOPub, s.Heartbeat} {
		if sock != nil {
			_ = sock.Close()
		}
	}
}

// Options tune a Connection. Zero values select defaults.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StdinTimeout      time.Duration
	Session           string
}

// Connection aggregates the kernel side of the five channels and owns the
// message type to handler table.
type Connection struct {
	codec   *protocol.Codec
	session string
	sockets Sockets

	shell     *ShellChannel
	control   *ShellChannel
	stdin     *StdinChannel
	iopub     *IOPubChannel
	heartbeat *HeartbeatChannel

	mu       sync.RWMutex
	handlers map[string]Handler

	closeOnce sync.Once
	closed    chan struct{}
	onClose   []func()
	log       zerolog.Logger
}

// Bind listens on every endpoint described by props.
func Bind(ctx context.Context, props config.ConnectionProperties, registry *protocol.Registry, opts Options) (*Connection, error) {
	signer, err := signing.New(props.SignatureScheme, []byte(props.Key))
	if err != nil {
		return nil, err
	}
	var sockets Sockets
	binds := []struct {
		dst  *transport.Socket
		kind transport.Kind
		port int
	}{
		{&sockets.Shell, transport.KindRouter, props.ShellPort},
		{&sockets.Control, transport.KindRouter, props.ControlPort},
		{&sockets.Stdin, transport.KindRouter, props.StdinPort},
		{&sockets.IOPub, transport.KindPub, props.IOPubPort},
		{&sockets.Heartbeat, transport.KindRep, props.HBPort},
	}
	for _, b := range binds {
		ep, err := transport.Endpoint(props.Transport, props.IP, b.port)
		if err != nil {
			sockets.closeAll()
			return nil, err
		}
		sock, err := transport.Bind(ctx, b.kind, ep)
		if err != nil {
			sockets.closeAll()
			return nil, fmt.Errorf("bind %s: %w", ep, err)
		}
		*b.dst = sock
	}
	return New(sockets, protocol.NewCodec(registry, signer), opts), nil
}

// New builds a Connection over already-open sockets.
func New(sockets Sockets, codec *protocol.Codec, opts Options) *Connection {
	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}
	c := &Connection{
		codec:    codec,
		session:  session,
		sockets:  sockets,
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
		log:      logging.Component("channels"),
	}
	c.shell = newShellChannel(RoleShell, NewSocket(RoleShell, sockets.Shell, codec), c, opts.PollInterval)
	c.control = newShellChannel(RoleControl, NewSocket(RoleControl, sockets.Control, codec), c, opts.PollInterval)
	c.stdin = NewStdinChannel(NewSocket(RoleStdin, sockets.Stdin, codec), opts.StdinTimeout)
	c.iopub = NewIOPubChannel(NewSocket(RoleIOPub, sockets.IOPub, codec))
	c.heartbeat = NewHeartbeatChannel(sockets.Heartbeat, opts.HeartbeatInterval)
	return c
}

func (c *Connection) Codec() *protocol.Codec { return c.codec }
func (c *Connection) Session() string { return c.session }
func (c *Connection) Shell() *ShellChannel { return c.shell }
func (c *Connection) Control() *ShellChannel { return c.control }
func (c *Connection) Stdin() *StdinChannel { return c.stdin }
func (c *Connection) IOPub() *IOPubChannel { return c.iopub }
func (c *Connection) Heartbeat() *HeartbeatChannel { return c.heartbeat }
func (c *Connection) Done() <-chan struct{} { return c.closed }

// SetHandler routes typ (and its error variant) to h. A nil h removes the
// route.
func (c *Connection) SetHandler(typ *protocol.MessageType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, typ.Name())
		return
	}
	c.handlers[typ.Name()] = h
}

// Handler returns the route for typ, or nil. Unknown types never match.
func (c *Connection) Handler(typ *protocol.MessageType) Handler {
	if typ == nil || typ == protocol.Unknown {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[typ.Name()]
}

// Publish broadcasts a message outside any dispatch, e.g. status=starting.
func (c *Connection) Publish(msg *protocol.Message) error {
	if msg.Header.Session == "" {
		msg.Header.Session = c.session
	}
	return c.iopub.Send(msg)
}

// OnClose registers fn to run once all loops have stopped and sockets are
// closed.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// Start launches the shell, control and heartbeat loops.
func (c *Connection) Start() error {
	for _, l := range c.loops() {
		if err := l.Start(); err != nil {
			return err
		}
	}
	c.log.Info().Msgf("channels.Connection.Start session=%q", c.session)
	return nil
}

// Close stops every loop and then closes the sockets. It does not block and
// may be called from a handler. Stdin closes first so a handler blocked in
// GetInput returns.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.sockets.Stdin != nil {
			_ = c.sockets.Stdin.Close()
		}
		for _, l := range c.loops() {
			l.Shutdown()
		}
		go func() {
			for _, l := range c.loops() {
				l.Wait()
			}
			c.sockets.closeAll()
			c.mu.RLock()
			callbacks := append([]func(){}, c.onClose...)
			c.mu.RUnlock()
			for _, fn := range callbacks {
				fn()
			}
			c.log.Info().Msgf("channels.Connection.Close session=%q", c.session)
			close(c.closed)
		}()
	})
}

// WaitUntilClose blocks until Close has fully completed.
func (c *Connection) WaitUntilClose() {
	<-c.closed
}

func (c *Connection) newEnvironment(reply *Socket, msg *protocol.Message) *ReplyEnvironment {
	return newEnvironment(msg, reply, c.iopub, c.stdin)
}

type runner interface {
	Start() error
	Shutdown()
	Wait()
}

func (c *Connection) loops() []runner {
	return []runner{c.shell.loop, c.control.loop, c.heartbeat.loop}
}
