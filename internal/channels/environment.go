package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

var (
	ErrDeferPending = errors.New("channels: resolve called while defer mode is armed")
	ErrNoStdin      = errors.New("channels: stdin channel unavailable")
)

// ReplyEnvironment is handed to a handler for one inbound request. It is
// owned by the dispatching goroutine and is not safe for concurrent use.
//
// Deferred actions form a LIFO stack. SetBusyDeferIdle pushes the idle status
// first, so everything deferred after it runs before idle.
type ReplyEnvironment struct {
	parent *protocol.Message
	reply  *Socket
	iopub  *IOPubChannel
	stdin  *StdinChannel

	deferNext bool
	stack     []func() error
	shutdown  bool
	replied   bool
}

func newEnvironment(parent *protocol.Message, reply *Socket, iopub *IOPubChannel, stdin *StdinChannel) *ReplyEnvironment {
	return &ReplyEnvironment{parent: parent, reply: reply, iopub: iopub, stdin: stdin}
}

// Parent returns the request being handled.
func (e *ReplyEnvironment) Parent() *protocol.Message { return e.parent }

// Defer arms defer mode for exactly the next Publish or Reply.
func (e *ReplyEnvironment) Defer() *ReplyEnvironment {
	e.deferNext = true
	return e
}

// DeferFunc pushes fn onto the stack without touching defer mode.
func (e *ReplyEnvironment) DeferFunc(fn func() error) {
	if fn == nil {
		return
	}
	e.stack = append(e.stack, fn)
}

// Publish sends msg on iopub, or defers it when defer mode is armed.
func (e *ReplyEnvironment) Publish(msg *protocol.Message) error {
	return e.sendOrDefer(func() error { return e.iopub.Send(msg) })
}

// Reply sends msg on the channel the request arrived on, or defers it.
func (e *ReplyEnvironment) Reply(msg *protocol.Message) error {
	e.replied = true
	return e.sendOrDefer(func() error { return e.reply.Send(msg) })
}

func (e *ReplyEnvironment) PublishContent(typ *protocol.MessageType, content any) error {
	return e.Publish(protocol.NewBroadcast(e.parent, typ, content))
}

func (e *ReplyEnvironment) ReplyContent(typ *protocol.MessageType, content any) error {
	return e.Reply(protocol.NewReply(e.parent, typ, content))
}

// ReplyError replies with the error variant of typ.
func (e *ReplyEnvironment) ReplyError(typ *protocol.MessageType, reply *protocol.ErrorReply) error {
	if reply.Status == "" {
		reply.Status = protocol.StatusError
	}
	return e.Reply(protocol.NewReply(e.parent, typ.ErrorVariant(), reply))
}

func (e *ReplyEnvironment) SetStatusBusy() error {
	return e.PublishContent(protocol.MsgStatus, &protocol.Status{ExecutionState: protocol.StateBusy})
}

func (e *ReplyEnvironment) SetStatusIdle() error {
	return e.PublishContent(protocol.MsgStatus, &protocol.Status{ExecutionState: protocol.StateIdle})
}

// SetBusyDeferIdle publishes busy now and defers idle to the bottom of
// everything deferred afterwards.
func (e *ReplyEnvironment) SetBusyDeferIdle() error {
	err := e.SetStatusBusy()
	e.DeferFunc(e.SetStatusIdle)
	return err
}

// WriteStream publishes a stream message.
func (e *ReplyEnvironment) WriteStream(name, text string) error {
	return e.PublishContent(protocol.MsgStream, &protocol.Stream{Name: name, Text: text})
}

func (e *ReplyEnvironment) Display(data *protocol.DisplayData) error {
	return e.PublishContent(protocol.MsgDisplayData, data)
}

// Input asks the frontend for a line through the stdin channel.
func (e *ReplyEnvironment) Input(ctx context.Context, prompt string, password bool) (string, error) {
	if e.stdin == nil {
		return "", ErrNoStdin
	}
	return e.stdin.GetInput(ctx, e.parent, prompt, password)
}

// ResolveDeferrals pops and runs the stack until empty. Every action runs
// even if an earlier one fails; failures are joined.
func (e *ReplyEnvironment) ResolveDeferrals() error {
	if e.deferNext {
		return ErrDeferPending
	}
	var errs []error
	for len(e.stack) > 0 {
		last := len(e.stack) - 1
		fn := e.stack[last]
		e.stack = e.stack[:last]
		if err := runDeferred(fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finish is the dispatch loop's unconditional resolution: a dangling defer
// mode is disarmed so the stack still drains.
func (e *ReplyEnvironment) finish() error {
	var armed error
	if e.deferNext {
		e.deferNext = false
		armed = ErrDeferPending
	}
	return errors.Join(armed, e.ResolveDeferrals())
}

// Replied reports whether a reply was sent or deferred.
func (e *ReplyEnvironment) Replied() bool { return e.replied }

func (e *ReplyEnvironment) MarkForShutdown() { e.shutdown = true }
func (e *ReplyEnvironment) IsMarkedForShutdown() bool { return e.shutdown }

func (e *ReplyEnvironment) sendOrDefer(send func() error) error {
	if e.deferNext {
		e.deferNext = false
		e.stack = append(e.stack, send)
		return nil
	}
	return send()
}

func runDeferred(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channels: deferred action panic: %v", r)
		}
	}()
	return fn()
}
