// Package comm implements the comm_open / comm_msg / comm_close
// sub-protocol shared by kernels and clients.
//
// Ownership boundary:
// - Comm: one live application channel, identified by a UUID both ends share
// - Manager: live comm table, target table, outgoing context stack
// - Client: outbound message construction
// - Server: inbound message handling, kernel handlers
package comm

import (
	"errors"
	"sync/atomic"

	"github.com/danmuck/jupyterwire/internal/protocol"
)

var (
	ErrNotConnected  = errors.New("comm: manager has no client")
	ErrCommClosed    = errors.New("comm: comm is closed")
	ErrNilComm       = errors.New("comm: target produced no comm")
	ErrForeignComm   = errors.New("comm: comm belongs to another manager")
	ErrMissingCommID = errors.New("comm: message has no comm_id")
)

// Handler receives traffic for one comm. sending is true when the local
// side initiated the close.
type Handler interface {
	OnMessage(c *Comm, msg *protocol.Message, data map[string]any)
	OnClose(c *Comm, msg *protocol.Message, data map[string]any, sending bool)
}

// HandlerFuncs adapts optional functions to Handler.
type HandlerFuncs struct {
	Message func(c *Comm, msg *protocol.Message, data map[string]any)
	Close   func(c *Comm, msg *protocol.Message, data map[string]any, sending bool)
}

func (h HandlerFuncs) OnMessage(c *Comm, msg *protocol.Message, data map[string]any) {
	if h.Message != nil {
		h.Message(c, msg, data)
	}
}

func (h HandlerFuncs) OnClose(c *Comm, msg *protocol.Message, data map[string]any, sending bool) {
	if h.Close != nil {
		h.Close(c, msg, data, sending)
	}
}

// Comm is one live comm. The closed flag only moves from false to true.
type Comm struct {
	id      string
	target  string
	manager *Manager
	handler Handler
	closed  atomic.Bool
}

func NewComm(m *Manager, id, target string, h Handler) *Comm {
	if h == nil {
		h = HandlerFuncs{}
	}
	return &Comm{id: id, target: target, manager: m, handler: h}
}

func (c *Comm) ID() string { return c.id }
func (c *Comm) Target() string { return c.target }
func (c *Comm) Manager() *Manager { return c.manager }
func (c *Comm) IsClosed() bool { return c.closed.Load() }

// Send emits a comm_msg to the peer.
func (c *Comm) Send(data map[string]any) error {
	return c.manager.MessageComm(c, data)
}

// Close emits comm_close once. Later calls are no-ops.
func (c *Comm) Close(data map[string]any) error {
	return c.manager.CloseComm(c, data)
}

func (c *Comm) deliver(msg *protocol.Message, data map[string]any) {
	if c.IsClosed() {
		return
	}
	c.handler.OnMessage(c, msg, data)
}

// markClosed reports whether this call performed the transition.
func (c *Comm) markClosed() bool {
	return c.closed.CompareAndSwap(false, true)
}

// Target creates the local comm for an open. open is nil when the comm is
// opened locally.
type Target interface {
	CreateComm(m *Manager, id, target string, open *protocol.Message) (*Comm, error)
}

type TargetFunc func(m *Manager, id, target string, open *protocol.Message) (*Comm, error)

func (f TargetFunc) CreateComm(m *Manager, id, target string, open *protocol.Message) (*Comm, error) {
	return f(m, id, target, open)
}

// HandlerTarget builds comms that all share one Handler.
func HandlerTarget(h Handler) Target {
	return TargetFunc(func(m *Manager, id, target string, _ *protocol.Message) (*Comm, error) {
		return NewComm(m, id, target, h), nil
	})
}
