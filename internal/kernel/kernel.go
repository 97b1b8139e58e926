// Package kernel serves the standard Jupyter requests on top of a
// channels.Connection, delegating language work to an Evaluator.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/comm"
	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/rs/zerolog"
)

type Options struct {
	Implementation        string
	ImplementationVersion string
	Banner                string
	HelpLinks             []protocol.HelpLink
	// History serves history_request and records executed code. Nil
	// answers every history_request with an empty list.
	History HistoryStore
}

// Kernel owns the handler set of one connection.
type Kernel struct {
	conn    *channels.Connection
	eval    Evaluator
	opts    Options
	history HistoryStore

	comms      *comm.Manager
	commServer *comm.Server

	executionCount atomic.Int64
	active         atomic.Int32
	closing        atomic.Bool

	mu         sync.Mutex
	cancelExec context.CancelFunc

	log zerolog.Logger
}

// New installs the standard handlers on conn.
func New(conn *channels.Connection, eval Evaluator, opts Options) *Kernel {
	if opts.Implementation == "" {
		opts.Implementation = "jupyterwire"
	}
	k := &Kernel{
		conn:    conn,
		eval:    eval,
		opts:    opts,
		history: opts.History,
		comms:   comm.NewManager(),
		log:     logging.Component("kernel"),
	}
	k.comms.ConnectTo(comm.NewMessageClient(conn.Publish, conn.Session(), protocol.DefaultUsername))
	k.commServer = comm.NewServer(k.comms)
	k.commServer.Register(conn)

	k.handle(protocol.MsgKernelInfoRequest, protocol.MsgKernelInfoReply, k.handleKernelInfo)
	k.handle(protocol.MsgExecuteRequest, protocol.MsgExecuteReply, k.handleExecute)
	k.handle(protocol.MsgInspectRequest, protocol.MsgInspectReply, k.handleInspect)
	k.handle(protocol.MsgCompleteRequest, protocol.MsgCompleteReply, k.handleComplete)
	k.handle(protocol.MsgIsCompleteRequest, protocol.MsgIsCompleteReply, k.handleIsComplete)
	k.handle(protocol.MsgHistoryRequest, protocol.MsgHistoryReply, k.handleHistory)
	k.handle(protocol.MsgShutdownRequest, protocol.MsgShutdownReply, k.handleShutdown)
	k.handle(protocol.MsgInterruptRequest, protocol.MsgInterruptReply, k.handleInterrupt)
	return k
}

func (k *Kernel) Connection() *channels.Connection { return k.conn }
func (k *Kernel) Comms() *comm.Manager { return k.comms }
func (k *Kernel) ExecutionCount() int { return int(k.executionCount.Load()) }

// History returns the store behind history_request, or nil.
func (k *Kernel) History() HistoryStore { return k.history }

// Start publishes status=starting and launches the channel loops.
func (k *Kernel) Start() error {
	starting := protocol.NewMessage(protocol.MsgStatus, &protocol.Status{ExecutionState: protocol.StateStarting}, k.conn.Session(), protocol.DefaultUsername)
	if err := k.conn.Publish(starting); err != nil {
		return err
	}
	if err := k.conn.Start(); err != nil {
		return err
	}
	k.log.Info().Msgf("kernel.Start implementation=%q language=%q", k.opts.Implementation, k.eval.LanguageInfo().Name)
	return nil
}

// Close cancels any running execution and closes the connection. Requests
// still queued run against an already cancelled context.
func (k *Kernel) Close() {
	k.closing.Store(true)
	k.interruptExec()
	k.conn.Close()
}

func (k *Kernel) Wait() { k.conn.WaitUntilClose() }

// Done is closed once the connection has fully closed.
func (k *Kernel) Done() <-chan struct{} { return k.conn.Done() }

// Status is a point-in-time view of the kernel.
type Status struct {
	Session        string `json:"session"`
	Implementation string `json:"implementation"`
	Language       string `json:"language"`
	ExecutionState string `json:"execution_state"`
	ExecutionCount int    `json:"execution_count"`
	Comms          int    `json:"comms"`
}

func (k *Kernel) Status() Status {
	state := protocol.StateIdle
	if k.active.Load() > 0 {
		state = protocol.StateBusy
	}
	return Status{
		Session:        k.conn.Session(),
		Implementation: k.opts.Implementation,
		Language:       k.eval.LanguageInfo().Name,
		ExecutionState: state,
		ExecutionCount: k.ExecutionCount(),
		Comms:          len(k.comms.Comms()),
	}
}

// handle registers h inside a busy/idle bracket. A panic in h becomes an
// error reply of type reply unless h already replied.
func (k *Kernel) handle(typ, reply *protocol.MessageType, h channels.Handler) {
	k.conn.SetHandler(typ, func(env *channels.ReplyEnvironment, msg *protocol.Message) (err error) {
		if berr := env.SetBusyDeferIdle(); berr != nil {
			return berr
		}
		k.active.Add(1)
		defer k.active.Add(-1)
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			k.log.Error().Msgf("kernel.handle panic msg_type=%q: %v", msg.TypeName(), r)
			err = fmt.Errorf("kernel: %s handler panic: %v", msg.TypeName(), r)
			if env.Replied() {
				return
			}
			if rerr := env.ReplyError(reply, protocol.NewErrorReply("Panic", fmt.Sprint(r), nil)); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}()
		return h(env, msg)
	})
}

// beginExec returns the context for one execution. Interrupts cancel it.
func (k *Kernel) beginExec() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	if k.closing.Load() {
		cancel()
	}
	k.mu.Lock()
	k.cancelExec = cancel
	k.mu.Unlock()
	return ctx, func() {
		k.mu.Lock()
		k.cancelExec = nil
		k.mu.Unlock()
		cancel()
	}
}

// Interrupt cancels the running execution, if any, and forwards to the
// evaluator when it implements Interrupter.
func (k *Kernel) Interrupt() (bool, error) {
	cancelled := k.interruptExec()
	if i, ok := k.eval.(Interrupter); ok {
		if err := i.Interrupt(); err != nil {
			return cancelled, err
		}
	}
	k.log.Info().Msgf("kernel.interrupt cancelled_execution=%t", cancelled)
	return cancelled, nil
}

func (k *Kernel) interruptExec() bool {
	k.mu.Lock()
	cancel := k.cancelExec
	k.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}
