package comm

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	fail error
}

func (o *outbox) send(msg *protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) all() []*protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*protocol.Message(nil), o.msgs...)
}

func commID(t *testing.T, msg *protocol.Message) string {
	t.Helper()
	switch c := msg.Content.(type) {
	case *protocol.CommOpen:
		return c.CommID
	case *protocol.CommMsg:
		return c.CommID
	case *protocol.CommClose:
		return c.CommID
	}
	t.Fatalf("not a comm message: %s", msg.TypeName())
	return ""
}

type closeEvent struct {
	id      string
	sending bool
	data    map[string]any
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []map[string]any
	closes   []closeEvent
}

func (h *recordingHandler) OnMessage(c *Comm, msg *protocol.Message, data map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHandler) OnClose(c *Comm, msg *protocol.Message, data map[string]any, sending bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes = append(h.closes, closeEvent{id: c.ID(), sending: sending, data: data})
}

func newConnectedManager() (*Manager, *outbox) {
	out := &outbox{}
	m := NewManager()
	m.ConnectTo(NewMessageClient(out.send, "sess", "kernel"))
	return m, out
}

func TestOpenThenCloseEmitsOneOpenOneCloseSameID(t *testing.T) {
	testlog.Start(t)
	m, out := newConnectedManager()
	h := &recordingHandler{}

	c, err := m.OpenComm("jupyter.widget", map[string]any{"v": 1}, HandlerTarget(h))
	require.NoError(t, err)
	require.NotEmpty(t, c.ID())
	_, ok := m.Comm(c.ID())
	require.True(t, ok)

	require.NoError(t, c.Close(map[string]any{"bye": true}))
	require.NoError(t, c.Close(nil))
	require.NoError(t, m.CloseComm(c, nil))

	msgs := out.all()
	require.Len(t, msgs, 2)
	require.Same(t, protocol.MsgCommOpen, msgs[0].Type)
	require.Same(t, protocol.MsgCommClose, msgs[1].Type)
	require.Equal(t, c.ID(), commID(t, msgs[0]))
	require.Equal(t, c.ID(), commID(t, msgs[1]))
	require.Equal(t, "jupyter.widget", msgs[0].Content.(*protocol.CommOpen).TargetName)

	require.True(t, c.IsClosed())
	_, ok = m.Comm(c.ID())
	require.False(t, ok)
	require.Equal(t, []closeEvent{{id: c.ID(), sending: true, data: map[string]any{"bye": true}}}, h.closes)
	require.ErrorIs(t, c.Send(nil), ErrCommClosed)
}

func TestOpenCommRequiresClientAndSurvivesFactoryFailure(t *testing.T) {
	testlog.Start(t)
	_, err := NewManager().OpenComm("t", nil, HandlerTarget(nil))
	require.ErrorIs(t, err, ErrNotConnected)

	m, out := newConnectedManager()
	boom := errors.New("factory failed")
	_, err = m.OpenComm("t", nil, TargetFunc(func(*Manager, string, string, *protocol.Message) (*Comm, error) {
		return nil, boom
	}))
	require.ErrorIs(t, err, boom)
	msgs := out.all()
	require.Len(t, msgs, 2)
	require.Same(t, protocol.MsgCommClose, msgs[1].Type)
	require.Empty(t, m.Comms())
}

func TestServerTargetMissSendsImmediateClose(t *testing.T) {
	testlog.Start(t)
	m, out := newConnectedManager()
	srv := NewServer(m)

	open := protocol.NewMessage(protocol.MsgCommOpen, &protocol.CommOpen{CommID: "c-1", TargetName: "nobody"}, "fe", "fe")
	handled, err := srv.Handle(open)
	require.True(t, handled)
	require.NoError(t, err)

	msgs := out.all()
	require.Len(t, msgs, 1)
	require.Same(t, protocol.MsgCommClose, msgs[0].Type)
	require.Equal(t, "c-1", commID(t, msgs[0]))
	require.Equal(t, open.ID(), msgs[0].ParentID())
	require.Empty(t, m.Comms())
}

func TestServerOpenMessageClose(t *testing.T) {
	testlog.Start(t)
	m, out := newConnectedManager()
	srv := NewServer(m)
	h := &recordingHandler{}
	var opened *protocol.Message
	m.RegisterTarget("echo", TargetFunc(func(m *Manager, id, target string, open *protocol.Message) (*Comm, error) {
		opened = open
		return NewComm(m, id, target, h), nil
	}))

	open := protocol.NewMessage(protocol.MsgCommOpen, &protocol.CommOpen{CommID: "c-2", TargetName: "echo"}, "fe", "fe")
	_, err := srv.Handle(open)
	require.NoError(t, err)
	require.Same(t, open, opened)
	require.Empty(t, out.all())

	_, err = srv.Handle(protocol.NewMessage(protocol.MsgCommMsg, &protocol.CommMsg{CommID: "c-2", Data: map[string]any{"n": 1.0}}, "fe", "fe"))
	require.NoError(t, err)
	_, err = srv.Handle(protocol.NewMessage(protocol.MsgCommMsg, &protocol.CommMsg{CommID: "missing", Data: map[string]any{"n": 2.0}}, "fe", "fe"))
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"n": 1.0}}, h.messages)

	require.Equal(t, map[string]protocol.CommInfo{"c-2": {TargetName: "echo"}}, m.Info(""))
	require.Empty(t, m.Info("other"))

	_, err = srv.Handle(protocol.NewMessage(protocol.MsgCommClose, &protocol.CommClose{CommID: "c-2"}, "fe", "fe"))
	require.NoError(t, err)
	require.Equal(t, []closeEvent{{id: "c-2", sending: false}}, h.closes)
	require.Empty(t, out.all())

	_, ok := m.Comm("c-2")
	require.False(t, ok)

	handled, err := srv.Handle(protocol.NewMessage(protocol.MsgStatus, &protocol.Status{}, "fe", "fe"))
	require.False(t, handled)
	require.NoError(t, err)
}

func TestContextStackParentsOutgoingTraffic(t *testing.T) {
	testlog.Start(t)
	m, out := newConnectedManager()
	c, err := m.OpenComm("t", nil, HandlerTarget(nil))
	require.NoError(t, err)
	require.Nil(t, out.all()[0].ParentHeader)

	outer := protocol.NewMessage(protocol.MsgExecuteRequest, &protocol.ExecuteRequest{}, "fe", "fe")
	inner := protocol.NewMessage(protocol.MsgCommMsg, &protocol.CommMsg{}, "fe", "fe")
	m.PushContext(outer)
	m.PushContext(inner)
	require.NoError(t, c.Send(map[string]any{"a": 1}))
	m.DropContext(inner)
	require.NoError(t, c.Send(map[string]any{"a": 2}))
	m.DropContext(outer)
	m.DropContext(outer)
	require.Nil(t, m.Context())

	msgs := out.all()
	require.Equal(t, inner.ID(), msgs[1].ParentID())
	require.Equal(t, outer.ID(), msgs[2].ParentID())
}

func TestConnectToDifferentClientClosesAll(t *testing.T) {
	testlog.Start(t)
	m, out := newConnectedManager()
	client := m.Client()
	_, err := m.OpenComm("a", nil, HandlerTarget(nil))
	require.NoError(t, err)
	_, err = m.OpenComm("b", nil, HandlerTarget(nil))
	require.NoError(t, err)

	m.ConnectTo(client)
	require.Len(t, m.Comms(), 2)

	next := &outbox{}
	m.ConnectTo(NewMessageClient(next.send, "sess", "kernel"))
	require.Empty(t, m.Comms())
	closes := 0
	for _, msg := range out.all() {
		if msg.Type == protocol.MsgCommClose {
			closes++
		}
	}
	require.Equal(t, 2, closes)
	require.Empty(t, next.all())
}

func TestForeignCommRejected(t *testing.T) {
	testlog.Start(t)
	a, _ := newConnectedManager()
	b, _ := newConnectedManager()
	c := NewComm(a, "x", "t", nil)
	require.ErrorIs(t, b.MessageComm(c, nil), ErrForeignComm)
	require.ErrorIs(t, b.CloseComm(c, nil), ErrForeignComm)
}
