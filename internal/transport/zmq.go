package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

const (
	inboxSize  = 256
	errorPause = 10 * time.Millisecond
)

type zmqSocket struct {
	kind Kind
	sock zmq4.Socket

	sendMu sync.Mutex
	inbox  chan [][]byte
	errs   chan error

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Bind listens on endpoint. Kernels bind every channel.
func Bind(ctx context.Context, kind Kind, endpoint string) (Socket, error) {
	s, err := newZMQ(ctx, kind, nil)
	if err != nil {
		return nil, err
	}
	if err := s.sock.Listen(endpoint); err != nil {
		s.Close()
		return nil, fmt.Errorf("transport: listen %s %s: %w", kind, endpoint, err)
	}
	s.start()
	return s, nil
}

// Dial connects to endpoint. identity is optional and applies to dealer
// sockets so the kernel's router sees a stable routing id.
func Dial(ctx context.Context, kind Kind, endpoint string, identity []byte) (Socket, error) {
	var opts []zmq4.Option
	if len(identity) > 0 {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(identity)))
	}
	s, err := newZMQ(ctx, kind, opts)
	if err != nil {
		return nil, err
	}
	if err := s.sock.Dial(endpoint); err != nil {
		s.Close()
		return nil, fmt.Errorf("transport: dial %s %s: %w", kind, endpoint, err)
	}
	if kind == KindSub {
		if err := s.sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			s.Close()
			return nil, fmt.Errorf("transport: subscribe %s: %w", endpoint, err)
		}
	}
	s.start()
	return s, nil
}

func newZMQ(parent context.Context, kind Kind, opts []zmq4.Option) (*zmqSocket, error) {
	ctx, cancel := context.WithCancel(parent)
	var sock zmq4.Socket
	switch kind {
	case KindRouter:
		sock = zmq4.NewRouter(ctx, opts...)
	case KindDealer:
		sock = zmq4.NewDealer(ctx, opts...)
	case KindPub:
		sock = zmq4.NewPub(ctx, opts...)
	case KindSub:
		sock = zmq4.NewSub(ctx, opts...)
	case KindRep:
		sock = zmq4.NewRep(ctx, opts...)
	case KindReq:
		sock = zmq4.NewReq(ctx, opts...)
	default:
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return &zmqSocket{
		kind:   kind,
		sock:   sock,
		inbox:  make(chan [][]byte, inboxSize),
		errs:   make(chan error, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// start runs the single reader. Pub sockets never receive.
func (s *zmqSocket) start() {
	if s.kind == KindPub {
		return
	}
	go func() {
		for {
			msg, err := s.sock.Recv()
			if err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				select {
				case s.errs <- err:
				default:
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				time.Sleep(errorPause)
				continue
			}
			select {
			case s.inbox <- msg.Frames:
			case <-s.done:
				return
			}
		}
	}()
}

func (s *zmqSocket) Send(frames [][]byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s *zmqSocket) Poll() ([][]byte, bool, error) {
	select {
	case frames := <-s.inbox:
		return frames, true, nil
	case err := <-s.errs:
		return nil, false, err
	case <-s.done:
		return nil, false, ErrClosed
	default:
		return nil, false, nil
	}
}

func (s *zmqSocket) Recv(ctx context.Context) ([][]byte, error) {
	select {
	case frames := <-s.inbox:
		return frames, nil
	case err := <-s.errs:
		return nil, err
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *zmqSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.sock.Close()
		s.cancel()
	})
	return err
}
