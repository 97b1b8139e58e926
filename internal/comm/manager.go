package comm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/jupyterwire/internal/logging"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns the live comms and the targets accepted for inbound opens.
// All tables are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	comms   map[string]*Comm
	targets map[string]Target
	client  Client

	ctxMu    sync.Mutex
	contexts []*protocol.Message

	newID func() string
	log   zerolog.Logger
}

func NewManager() *Manager {
	return &Manager{
		comms:   make(map[string]*Comm),
		targets: make(map[string]Target),
		newID:   uuid.NewString,
		log:     logging.Component("comm"),
	}
}

// ConnectTo attaches the outbound client. Switching to a different client
// closes every live comm through the old one first.
func (m *Manager) ConnectTo(client Client) {
	m.mu.RLock()
	prev := m.client
	m.mu.RUnlock()
	if prev != nil && prev != client {
		m.CloseAll(nil)
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
}

func (m *Manager) Client() Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// OpenComm sends comm_open for a fresh id, then builds and registers the
// local comm with factory. If the factory fails the peer is told to close.
func (m *Manager) OpenComm(target string, data map[string]any, factory Target) (*Comm, error) {
	client := m.Client()
	if client == nil {
		return nil, ErrNotConnected
	}
	id := m.newID()
	ctx := m.Context()
	if err := client.SendOpen(ctx, id, target, data); err != nil {
		return nil, fmt.Errorf("send comm_open: %w", err)
	}
	c, err := factory.CreateComm(m, id, target, nil)
	if err == nil && c == nil {
		err = ErrNilComm
	}
	if err != nil {
		_ = client.SendClose(ctx, id, nil)
		return nil, err
	}
	m.register(c)
	m.log.Debug().Msgf("comm.Manager.OpenComm id=%q target=%q", id, target)
	return c, nil
}

// MessageComm sends a comm_msg on c.
func (m *Manager) MessageComm(c *Comm, data map[string]any) error {
	if c.manager != m {
		return ErrForeignComm
	}
	if c.IsClosed() {
		return fmt.Errorf("%w: %s", ErrCommClosed, c.id)
	}
	client := m.Client()
	if client == nil {
		return ErrNotConnected
	}
	return client.SendMessage(m.Context(), c.id, data)
}

// CloseComm unregisters c, sends comm_close and notifies its handler with
// sending=true. Closing a closed comm does nothing.
func (m *Manager) CloseComm(c *Comm, data map[string]any) error {
	if c.manager != m {
		return ErrForeignComm
	}
	if !c.markClosed() {
		return nil
	}
	m.unregister(c.id)
	var err error
	if client := m.Client(); client != nil {
		err = client.SendClose(m.Context(), c.id, data)
	} else {
		err = ErrNotConnected
	}
	c.handler.OnClose(c, nil, data, true)
	m.log.Debug().Msgf("comm.Manager.CloseComm id=%q target=%q", c.id, c.target)
	return err
}

// CloseAll closes every live comm.
func (m *Manager) CloseAll(data map[string]any) {
	for _, c := range m.Comms() {
		if err := m.CloseComm(c, data); err != nil {
			m.log.Warn().Err(err).Msgf("comm.Manager.CloseAll id=%q", c.id)
		}
	}
}

func (m *Manager) RegisterTarget(name string, t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = t
}

func (m *Manager) UnregisterTarget(name string) (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[name]
	delete(m.targets, name)
	return t, ok
}

func (m *Manager) Target(name string) (Target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[name]
	return t, ok
}

func (m *Manager) Comm(id string) (*Comm, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comms[id]
	return c, ok
}

// Comms lists live comms sorted by id.
func (m *Manager) Comms() []*Comm {
	m.mu.RLock()
	out := make([]*Comm, 0, len(m.comms))
	for _, c := range m.comms {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Info maps live comm ids to their target, filtered by target when non-empty.
func (m *Manager) Info(target string) map[string]protocol.CommInfo {
	out := make(map[string]protocol.CommInfo)
	for _, c := range m.Comms() {
		if target != "" && c.target != target {
			continue
		}
		out[c.id] = protocol.CommInfo{TargetName: c.target}
	}
	return out
}

// PushContext makes msg the parent of comm traffic until it is dropped.
func (m *Manager) PushContext(msg *protocol.Message) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	m.contexts = append(m.contexts, msg)
}

// DropContext removes the most recent occurrence of msg.
func (m *Manager) DropContext(msg *protocol.Message) {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	for i := len(m.contexts) - 1; i >= 0; i-- {
		if m.contexts[i] == msg {
			m.contexts = append(m.contexts[:i], m.contexts[i+1:]...)
			return
		}
	}
}

// Context returns the top of the context stack, or nil.
func (m *Manager) Context() *protocol.Message {
	m.ctxMu.Lock()
	defer m.ctxMu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

func (m *Manager) register(c *Comm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comms[c.id] = c
}

func (m *Manager) unregister(id string) (*Comm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comms[id]
	delete(m.comms, id)
	return c, ok
}
