package client

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

// PendingRequest is the future for one outstanding request. It settles
// exactly once: with the reply, a *ReplyError, a *ProtocolError,
// ErrKernelDied or ErrClosed.
type PendingRequest struct {
	request   *protocol.Message
	expected  *protocol.MessageType
	sink      IOSink
	awaitIdle bool
	queuedAt  time.Time

	mu      sync.Mutex
	reply   *protocol.Message
	idle    bool
	settled bool
	result  *protocol.Message
	err     error
	done    chan struct{}
}

func newPendingRequest(request *protocol.Message, expected *protocol.MessageType, sink IOSink, awaitIdle bool) *PendingRequest {
	if sink == nil {
		sink = NopSink{}
	}
	return &PendingRequest{
		request:   request,
		expected:  expected,
		sink:      sink,
		awaitIdle: awaitIdle,
		queuedAt:  time.Now(),
		done:      make(chan struct{}),
	}
}

func (p *PendingRequest) ID() string { return p.request.ID() }
func (p *PendingRequest) Request() *protocol.Message { return p.request }
func (p *PendingRequest) Expected() *protocol.MessageType { return p.expected }
func (p *PendingRequest) Sink() IOSink { return p.sink }
func (p *PendingRequest) QueuedAt() time.Time { return p.queuedAt }

// Done is closed once the request settles.
func (p *PendingRequest) Done() <-chan struct{} { return p.done }

// Wait blocks until the request settles or ctx ends. Ending ctx does not
// settle the request.
func (p *PendingRequest) Wait(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled outcome. Before settlement both are nil.
func (p *PendingRequest) Result() (*protocol.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *PendingRequest) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// observeReply records the matching reply and reports whether the request
// is now complete.
func (p *PendingRequest) observeReply(msg *protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reply == nil {
		p.reply = msg
	}
	return !p.awaitIdle || p.idle
}

// observeIdle records status=idle and reports whether the request is now
// complete.
func (p *PendingRequest) observeIdle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = true
	return p.reply != nil
}

// complete settles with the recorded reply.
func (p *PendingRequest) complete() bool {
	p.mu.Lock()
	reply := p.reply
	p.mu.Unlock()
	if reply == nil {
		return false
	}
	if reply.IsError() {
		content, _ := reply.Content.(*protocol.ErrorReply)
		return p.settle(reply, &ReplyError{MsgType: reply.TypeName(), Reply: content})
	}
	return p.settle(reply, nil)
}

func (p *PendingRequest) fail(err error) bool {
	return p.settle(nil, err)
}

// settle reports whether this call performed the settlement.
func (p *PendingRequest) settle(msg *protocol.Message, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	p.result = msg
	p.err = err
	close(p.done)
	return true
}

// deliver hands a parented broadcast to the request's sink.
func (p *PendingRequest) deliver(msg *protocol.Message) {
	switch c := msg.Content.(type) {
	case *protocol.Stream:
		p.sink.Stream(c.Name, c.Text)
	case *protocol.DisplayData:
		p.sink.Display(c, msg.Type == protocol.MsgUpdateDisplayData)
	case *protocol.ExecuteResult:
		p.sink.Result(c)
	case *protocol.ErrorContent:
		p.sink.Error(c)
	case *protocol.ClearOutput:
		p.sink.ClearOutput(c.Wait)
	}
}
