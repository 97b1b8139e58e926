package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/comm"
	"github.com/danmuck/jupyterwire/internal/config"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/loop"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sockets are the client ends of the five channels.
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

type Options struct {
	Username string
	Session  string
	// AwaitIdle holds each request open until its status=idle arrives as
	// well as its reply.
	AwaitIdle    bool
	PollInterval time.Duration
	Heartbeat    HeartbeatConfig
	Wild         WildHandler
	// Redial replaces the heartbeat socket after a missed echo.
	Redial Dialer
}

func DefaultOptions() Options {
	return Options{
		Username:     "client",
		AwaitIdle:    true,
		PollInterval: channels.DefaultPollInterval,
		Heartbeat:    DefaultHeartbeatConfig(),
	}
}

// Client is a frontend connection to one kernel.
type Client struct {
	codec   *protocol.Codec
	opts    Options
	session string

	shell   *channels.Socket
	control *channels.Socket
	stdin   *channels.Socket
	iopub   *channels.Socket
	sockets Sockets

	heartbeat  *HeartbeatMonitor
	correlator *Correlator
	comms      *comm.Manager
	commServer *comm.Server
	loops      []*loop.Loop

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	log       zerolog.Logger
}

// Dial connects to the kernel described by props.
func Dial(ctx context.Context, props config.ConnectionProperties, opts Options) (*Client, error) {
	signer, err := signing.New(props.SignatureScheme, []byte(props.Key))
	if err != nil {
		return nil, err
	}
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}
	identity := []byte(opts.Session)

	var sockets Sockets
	dials := []struct {
		dst      *transport.Socket
		kind     transport.Kind
		port     int
		identity []byte
	}{
		{&sockets.Shell, transport.KindDealer, props.ShellPort, identity},
		{&sockets.Control, transport.KindDealer, props.ControlPort, identity},
		{&sockets.Stdin, transport.KindDealer, props.StdinPort, identity},
		{&sockets.IOPub, transport.KindSub, props.IOPubPort, nil},
		{&sockets.Heartbeat, transport.KindReq, props.HBPort, nil},
	}
	for _, d := range dials {
		ep, err := transport.Endpoint(props.Transport, props.IP, d.port)
		if err != nil {
			sockets.closeAll()
			return nil, err
		}
		sock, err := transport.Dial(ctx, d.kind, ep, d.identity)
		if err != nil {
			sockets.closeAll()
			return nil, fmt.Errorf("dial %s: %w", ep, err)
		}
		*d.dst = sock
	}

	if opts.Redial == nil {
		hbEndpoint, _ := transport.Endpoint(props.Transport, props.IP, props.HBPort)
		opts.Redial = func(ctx context.Context) (transport.Socket, error) {
			return transport.Dial(ctx, transport.KindReq, hbEndpoint, nil)
		}
	}
	return New(sockets, protocol.NewCodec(nil, signer), opts), nil
}

// New builds a Client over already-open sockets.
func New(sockets Sockets, codec *protocol.Codec, opts Options) *Client {
	if opts.Session == "" {
		opts.Session = uuid.NewString()
	}
	if opts.Username == "" {
		opts.Username = DefaultOptions().Username
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = channels.DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	log := logging.Component("client")
	c := &Client{
		codec:      codec,
		opts:       opts,
		session:    opts.Session,
		shell:      channels.NewSocket(channels.RoleShell, sockets.Shell, codec),
		control:    channels.NewSocket(channels.RoleControl, sockets.Control, codec),
		stdin:      channels.NewSocket(channels.RoleStdin, sockets.Stdin, codec),
		iopub:      channels.NewSocket(channels.RoleIOPub, sockets.IOPub, codec),
		sockets:    sockets,
		heartbeat:  NewHeartbeatMonitor(sockets.Heartbeat, opts.Redial, opts.Heartbeat),
		correlator: NewCorrelator(opts.Wild),
		comms:      comm.NewManager(),
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
		log:        log,
	}
	c.comms.ConnectTo(comm.NewMessageClient(c.shell.Send, c.session, opts.Username))
	c.commServer = comm.NewServer(c.comms)
	c.heartbeat.OnDeath(func() {
		c.correlator.FailAll(ErrKernelDied)
	})

	c.loops = []*loop.Loop{
		c.receiveLoop(c.shell, c.routeReply),
		c.receiveLoop(c.control, c.routeReply),
		c.receiveLoop(c.stdin, c.handleStdin),
		c.receiveLoop(c.iopub, c.handleIOPub),
	}
	return c
}

func (c *Client) Codec() *protocol.Codec { return c.codec }
func (c *Client) Session() string { return c.session }
func (c *Client) Username() string { return c.opts.Username }
func (c *Client) Correlator() *Correlator { return c.correlator }
func (c *Client) Heartbeat() *HeartbeatMonitor { return c.heartbeat }
func (c *Client) Comms() *comm.Manager { return c.comms }
func (c *Client) Done() <-chan struct{} { return c.closed }

// Start launches the receive loops and the heartbeat monitor.
func (c *Client) Start() error {
	for _, l := range c.loops {
		if err := l.Start(); err != nil {
			return err
		}
	}
	if err := c.heartbeat.Start(); err != nil {
		return err
	}
	c.log.Info().Msgf("client.Client.Start session=%q", c.session)
	return nil
}

// Close stops every loop, closes the sockets and fails whatever is still
// pending with ErrClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, l := range c.loops {
			l.Shutdown()
		}
		c.heartbeat.Close()
		for _, l := range c.loops {
			l.Wait()
		}
		c.sockets.closeAll()
		c.correlator.FailAll(ErrClosed)
		close(c.closed)
		c.log.Info().Msgf("client.Client.Close session=%q", c.session)
	})
}

// Request sends content as typ on the shell or control channel and returns
// its pending future. The future is tracked before the send.
func (c *Client) Request(role string, typ *protocol.MessageType, content any, sink IOSink) (*PendingRequest, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}
	if c.heartbeat.State() == StateDead {
		return nil, ErrKernelDied
	}
	sock, err := c.requestSocket(role)
	if err != nil {
		return nil, err
	}
	expected, err := c.replyType(typ)
	if err != nil {
		return nil, err
	}

	msg := protocol.NewMessage(typ, content, c.session, c.opts.Username)
	p := newPendingRequest(msg, expected, sink, c.opts.AwaitIdle)
	if err := c.correlator.Track(p); err != nil {
		return nil, err
	}
	if err := sock.Send(msg); err != nil {
		c.correlator.Fail(p.ID(), err)
		return nil, err
	}
	return p, nil
}

func (c *Client) requestSocket(role string) (*channels.Socket, error) {
	switch role {
	case channels.RoleShell, "":
		return c.shell, nil
	case channels.RoleControl:
		return c.control, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNotConnected, role)
	}
}

// replyType derives foo_reply from foo_request.
func (c *Client) replyType(typ *protocol.MessageType) (*protocol.MessageType, error) {
	name, ok := strings.CutSuffix(typ.Name(), "_request")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoReplyType, typ.Name())
	}
	reply := c.codec.Registry().Lookup(name + "_reply")
	if !reply.IsReply() {
		return nil, fmt.Errorf("%w: %s", ErrNoReplyType, typ.Name())
	}
	return reply, nil
}

func (c *Client) receiveLoop(sock *channels.Socket, handle func(role string, msg *protocol.Message)) *loop.Loop {
	role := sock.Name()
	return loop.New("client."+role, func() (time.Duration, error) {
		msg, ok, err := sock.Poll()
		if errors.Is(err, transport.ErrClosed) {
			return -1, nil
		}
		if err != nil {
			c.log.Warn().Err(err).Msgf("client.%s discarded message", role)
			return 0, nil
		}
		if !ok {
			return c.opts.PollInterval, nil
		}
		handle(role, msg)
		return 0, nil
	})
}

func (c *Client) routeReply(role string, msg *protocol.Message) {
	c.correlator.Route(role, msg)
}

func (c *Client) handleIOPub(role string, msg *protocol.Message) {
	handled, err := c.commServer.Handle(msg)
	if err != nil {
		c.log.Warn().Err(err).Msgf("client.iopub comm msg_type=%q", msg.TypeName())
	}
	if handled {
		return
	}
	c.correlator.Route(role, msg)
}

// handleStdin answers input_request from the sink of the request that
// caused it.
func (c *Client) handleStdin(role string, msg *protocol.Message) {
	if msg.Type != protocol.MsgInputRequest {
		c.correlator.Route(role, msg)
		return
	}
	p, ok := c.correlator.Lookup(msg.ParentID())
	if !ok {
		c.correlator.Route(role, msg)
		return
	}
	req, err := protocol.ContentAs[protocol.InputRequest](msg)
	if err != nil {
		c.log.Warn().Err(err).Msg("client.stdin malformed input_request")
		return
	}
	value, err := p.sink.ReadInput(c.ctx, req.Prompt, req.Password)
	if err != nil {
		c.log.Warn().Err(err).Msgf("client.stdin no input for request=%q", p.ID())
		value = ""
	}
	reply := protocol.NewReply(msg, protocol.MsgInputReply, &protocol.InputReply{Value: value})
	reply.Header.Session = c.session
	reply.Header.Username = c.opts.Username
	if err := c.stdin.Send(reply); err != nil {
		c.log.Warn().Err(err).Msg("client.stdin send input_reply failed")
	}
}

// call performs one request and decodes its reply content. If ctx ends
// first the request is abandoned.
func call[T any](ctx context.Context, c *Client, role string, typ *protocol.MessageType, content any, sink IOSink) (*T, error) {
	p, err := c.Request(role, typ, content, sink)
	if err != nil {
		return nil, err
	}
	msg, err := p.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.correlator.Fail(p.ID(), ctx.Err())
		}
		return nil, err
	}
	return protocol.ContentAs[T](msg)
}

func (c *Client) KernelInfo(ctx context.Context) (*protocol.KernelInfoReply, error) {
	return call[protocol.KernelInfoReply](ctx, c, channels.RoleShell, protocol.MsgKernelInfoRequest, &protocol.KernelInfoRequest{}, nil)
}

// Execute runs req, streaming its output to sink. A failed execution
// returns a *ReplyError.
func (c *Client) Execute(ctx context.Context, req *protocol.ExecuteRequest, sink IOSink) (*protocol.ExecuteReply, error) {
	if req.UserExpressions == nil {
		req.UserExpressions = map[string]string{}
	}
	return call[protocol.ExecuteReply](ctx, c, channels.RoleShell, protocol.MsgExecuteRequest, req, sink)
}

// ExecuteCode runs code with history on and stdin allowed.
func (c *Client) ExecuteCode(ctx context.Context, code string, sink IOSink) (*protocol.ExecuteReply, error) {
	return c.Execute(ctx, &protocol.ExecuteRequest{Code: code, StoreHistory: true, AllowStdin: true}, sink)
}

func (c *Client) Inspect(ctx context.Context, code string, cursor, detail int) (*protocol.InspectReply, error) {
	return call[protocol.InspectReply](ctx, c, channels.RoleShell, protocol.MsgInspectRequest,
		&protocol.InspectRequest{Code: code, CursorPos: cursor, DetailLevel: detail}, nil)
}

func (c *Client) Complete(ctx context.Context, code string, cursor int) (*protocol.CompleteReply, error) {
	return call[protocol.CompleteReply](ctx, c, channels.RoleShell, protocol.MsgCompleteRequest,
		&protocol.CompleteRequest{Code: code, CursorPos: cursor}, nil)
}

func (c *Client) IsComplete(ctx context.Context, code string) (*protocol.IsCompleteReply, error) {
	return call[protocol.IsCompleteReply](ctx, c, channels.RoleShell, protocol.MsgIsCompleteRequest,
		&protocol.IsCompleteRequest{Code: code}, nil)
}

func (c *Client) History(ctx context.Context, req *protocol.HistoryRequest) (*protocol.HistoryReply, error) {
	return call[protocol.HistoryReply](ctx, c, channels.RoleShell, protocol.MsgHistoryRequest, req, nil)
}

func (c *Client) CommInfo(ctx context.Context, target string) (*protocol.CommInfoReply, error) {
	return call[protocol.CommInfoReply](ctx, c, channels.RoleShell, protocol.MsgCommInfoRequest,
		&protocol.CommInfoRequest{TargetName: target}, nil)
}

// Shutdown asks the kernel to exit over control.
func (c *Client) Shutdown(ctx context.Context, restart bool) (*protocol.ShutdownReply, error) {
	return call[protocol.ShutdownReply](ctx, c, channels.RoleControl, protocol.MsgShutdownRequest,
		&protocol.ShutdownRequest{Restart: restart}, nil)
}

func (c *Client) Interrupt(ctx context.Context) (*protocol.InterruptReply, error) {
	return call[protocol.InterruptReply](ctx, c, channels.RoleControl, protocol.MsgInterruptRequest,
		&protocol.InterruptRequest{}, nil)
}
