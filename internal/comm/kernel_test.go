package comm

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/stretchr/testify/require"
)

type kernelPeer struct {
	codec *protocol.Codec
	shell *transport.PipeSocket
	iopub *transport.PipeSocket
}

func startKernel(t *testing.T, m *Manager) *kernelPeer {
	t.Helper()
	signer, err := signing.New("", []byte("comm-key"))
	require.NoError(t, err)
	codec := protocol.NewCodec(protocol.DefaultRegistry(), signer)

	peer := &kernelPeer{codec: codec}
	var ks channels.Sockets
	ks.Shell, peer.shell = transport.Pipe()
	ks.Control, _ = transport.Pipe()
	ks.Stdin, _ = transport.Pipe()
	ks.IOPub, peer.iopub = transport.Pipe()
	ks.Heartbeat, _ = transport.Pipe()

	conn := channels.New(ks, codec, channels.Options{PollInterval: 5 * time.Millisecond, HeartbeatInterval: 5 * time.Millisecond})
	m.ConnectTo(NewMessageClient(conn.Publish, conn.Session(), "kernel"))
	NewServer(m).Register(conn)
	require.NoError(t, conn.Start())
	t.Cleanup(func() {
		conn.Close()
		conn.WaitUntilClose()
	})
	return peer
}

func (p *kernelPeer) send(t *testing.T, msg *protocol.Message) {
	t.Helper()
	msg.Identities = [][]byte{[]byte("frontend")}
	frames, err := p.codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, p.shell.Send(frames))
}

func (p *kernelPeer) recv(t *testing.T, sock *transport.PipeSocket) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frames, err := sock.Recv(ctx)
	require.NoError(t, err)
	msg, err := p.codec.Decode(frames)
	require.NoError(t, err)
	return msg
}

func (p *kernelPeer) iopubTypes(t *testing.T, n int) []*protocol.Message {
	t.Helper()
	out := make([]*protocol.Message, 0, n)
	for range n {
		out = append(out, p.recv(t, p.iopub))
	}
	return out
}

func TestKernelCommRoundTripInsideBusyIdle(t *testing.T) {
	testlog.Start(t)
	m := NewManager()
	m.RegisterTarget("echo", HandlerTarget(HandlerFuncs{
		Message: func(c *Comm, _ *protocol.Message, data map[string]any) {
			_ = c.Send(data)
		},
	}))
	peer := startKernel(t, m)

	open := protocol.NewMessage(protocol.MsgCommOpen, &protocol.CommOpen{CommID: "c-1", TargetName: "echo", Data: map[string]any{}}, "fe", "fe")
	peer.send(t, open)
	msgs := peer.iopubTypes(t, 2)
	require.Equal(t, "busy", msgs[0].Content.(*protocol.Status).ExecutionState)
	require.Equal(t, "idle", msgs[1].Content.(*protocol.Status).ExecutionState)
	require.Equal(t, open.ID(), msgs[1].ParentID())

	body := protocol.NewMessage(protocol.MsgCommMsg, &protocol.CommMsg{CommID: "c-1", Data: map[string]any{"ping": "x"}}, "fe", "fe")
	peer.send(t, body)
	msgs = peer.iopubTypes(t, 3)
	require.Same(t, protocol.MsgStatus, msgs[0].Type)
	require.Same(t, protocol.MsgCommMsg, msgs[1].Type)
	require.Equal(t, body.ID(), msgs[1].ParentID())
	echo := msgs[1].Content.(*protocol.CommMsg)
	require.Equal(t, "c-1", echo.CommID)
	require.Equal(t, map[string]any{"ping": "x"}, echo.Data)
	require.Equal(t, "idle", msgs[2].Content.(*protocol.Status).ExecutionState)

	info := protocol.NewMessage(protocol.MsgCommInfoRequest, &protocol.CommInfoRequest{}, "fe", "fe")
	peer.send(t, info)
	reply := peer.recv(t, peer.shell)
	require.Same(t, protocol.MsgCommInfoReply, reply.Type)
	require.Equal(t, map[string]protocol.CommInfo{"c-1": {TargetName: "echo"}}, reply.Content.(*protocol.CommInfoReply).Comms)
	peer.iopubTypes(t, 2)
}

func TestKernelCommOpenWithoutTargetCloses(t *testing.T) {
	testlog.Start(t)
	peer := startKernel(t, NewManager())

	open := protocol.NewMessage(protocol.MsgCommOpen, &protocol.CommOpen{CommID: "c-9", TargetName: "missing", Data: map[string]any{}}, "fe", "fe")
	peer.send(t, open)
	msgs := peer.iopubTypes(t, 3)
	require.Same(t, protocol.MsgStatus, msgs[0].Type)
	require.Same(t, protocol.MsgCommClose, msgs[1].Type)
	require.Equal(t, "c-9", msgs[1].Content.(*protocol.CommClose).CommID)
	require.Equal(t, open.ID(), msgs[1].ParentID())
	require.Equal(t, "idle", msgs[2].Content.(*protocol.Status).ExecutionState)
}
