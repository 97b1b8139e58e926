// Package transport adapts multipart message sockets to the poll-driven
// channel model.
//
// A Socket is fed by one reader goroutine into a buffered inbox; callers
// either Poll it without blocking or Recv with a context. Sends are
// serialized per socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed           = errors.New("transport: socket closed")
	ErrUnsupportedKind  = errors.New("transport: unsupported socket kind")
	ErrInvalidTransport = errors.New("transport: invalid transport scheme")
)

// Kind is the socket pattern for one endpoint.
type Kind int

const (
	KindRouter Kind = iota
	KindDealer
	KindPub
	KindSub
	KindRep
	KindReq
)

func (k Kind) String() string {
	switch k {
	case KindRouter:
		return "router"
	case KindDealer:
		return "dealer"
	case KindPub:
		return "pub"
	case KindSub:
		return "sub"
	case KindRep:
		return "rep"
	case KindReq:
		return "req"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Socket is one multipart endpoint.
type Socket interface {
	// Send writes one multipart message.
	Send(frames [][]byte) error
	// Poll returns the next buffered message without blocking.
	Poll() ([][]byte, bool, error)
	// Recv blocks until a message arrives, ctx ends, or the socket closes.
	Recv(ctx context.Context) ([][]byte, error)
	Close() error
}

// Endpoint renders a transport address. ipc endpoints use "ip-port" paths.
func Endpoint(scheme, ip string, port int) (string, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", "tcp":
		return fmt.Sprintf("tcp://%s:%d", ip, port), nil
	case "ipc":
		return fmt.Sprintf("ipc://%s-%d", ip, port), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransport, scheme)
	}
}

func cloneFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}
