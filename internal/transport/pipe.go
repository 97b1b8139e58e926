package transport

import (
	"context"
	"sync"
)

// Pipe returns two connected in-process sockets. Frames sent on one arrive
// on the other in order. Identities are not added, so a Pipe stands in for
// any socket pair in tests and in embedded kernels.
func Pipe() (*PipeSocket, *PipeSocket) {
	ab := make(chan [][]byte, inboxSize)
	ba := make(chan [][]byte, inboxSize)
	done := make(chan struct{})
	var once sync.Once
	closeBoth := func() { once.Do(func() { close(done) }) }
	a := &PipeSocket{out: ab, in: ba, done: done, close: closeBoth}
	b := &PipeSocket{out: ba, in: ab, done: done, close: closeBoth}
	return a, b
}

// PipeSocket is one end of a Pipe.
type PipeSocket struct {
	out   chan<- [][]byte
	in    <-chan [][]byte
	done  chan struct{}
	close func()

	mu   sync.Mutex
	sent int
	drop bool
}

func (p *PipeSocket) Send(frames [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.sent++
	if p.drop {
		return nil
	}
	select {
	case p.out <- cloneFrames(frames):
		return nil
	case <-p.done:
		return ErrClosed
	}
}

func (p *PipeSocket) Poll() ([][]byte, bool, error) {
	select {
	case frames := <-p.in:
		return frames, true, nil
	default:
	}
	select {
	case <-p.done:
		return nil, false, ErrClosed
	default:
		return nil, false, nil
	}
}

func (p *PipeSocket) Recv(ctx context.Context) ([][]byte, error) {
	select {
	case frames := <-p.in:
		return frames, nil
	default:
	}
	select {
	case frames := <-p.in:
		return frames, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *PipeSocket) Close() error {
	p.close()
	return nil
}

// Sent counts Send calls, including dropped ones.
func (p *PipeSocket) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// SetDrop makes Send discard frames, simulating an unresponsive peer.
func (p *PipeSocket) SetDrop(drop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop = drop
}
