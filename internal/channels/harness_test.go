package channels

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/frame"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/stretchr/testify/require"
)

// wireLog records every kernel-side send across channels in global order.
type wireLog struct {
	mu      sync.Mutex
	entries []string
}

func (w *wireLog) add(entry string) {
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.mu.Unlock()
}

func (w *wireLog) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.entries...)
}

type recordingSocket struct {
	transport.Socket
	channel string
	log     *wireLog
}

func (r *recordingSocket) Send(frames [][]byte) error {
	if env, err := frame.Split(frames); err == nil {
		var h protocol.Header
		var content map[string]any
		_ = json.Unmarshal(env.Header, &h)
		_ = json.Unmarshal(env.Content, &content)
		entry := r.channel + ":" + h.MsgType
		if state, ok := content["execution_state"].(string); ok {
			entry += "=" + state
		}
		r.log.add(entry)
	}
	return r.Socket.Send(frames)
}

type harness struct {
	conn  *Connection
	codec *protocol.Codec
	wire  *wireLog

	shell   *transport.PipeSocket
	control *transport.PipeSocket
	stdin   *transport.PipeSocket
	iopub   *transport.PipeSocket
	hb      *transport.PipeSocket
}

func newHarness(t *testing.T, key string, opts Options) *harness {
	t.Helper()
	signer, err := signing.New("hmac-sha256", []byte(key))
	require.NoError(t, err)
	codec := protocol.NewCodec(protocol.DefaultRegistry(), signer)
	wire := &wireLog{}

	h := &harness{codec: codec, wire: wire}
	var ks Sockets
	var k *transport.PipeSocket
	k, h.shell = transport.Pipe()
	ks.Shell = &recordingSocket{Socket: k, channel: RoleShell, log: wire}
	k, h.control = transport.Pipe()
	ks.Control = &recordingSocket{Socket: k, channel: RoleControl, log: wire}
	k, h.stdin = transport.Pipe()
	ks.Stdin = &recordingSocket{Socket: k, channel: RoleStdin, log: wire}
	k, h.iopub = transport.Pipe()
	ks.IOPub = &recordingSocket{Socket: k, channel: RoleIOPub, log: wire}
	k, h.hb = transport.Pipe()
	ks.Heartbeat = k

	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 5 * time.Millisecond
	}
	h.conn = New(ks, codec, opts)
	t.Cleanup(func() {
		h.conn.Close()
		h.conn.WaitUntilClose()
	})
	return h
}

func (h *harness) send(t *testing.T, peer *transport.PipeSocket, msg *protocol.Message) {
	t.Helper()
	frames, err := h.codec.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, peer.Send(frames))
}

func (h *harness) recv(t *testing.T, peer *transport.PipeSocket) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frames, err := peer.Recv(ctx)
	require.NoError(t, err)
	msg, err := h.codec.Decode(frames)
	require.NoError(t, err)
	return msg
}

func request(typ *protocol.MessageType, content any) *protocol.Message {
	msg := protocol.NewMessage(typ, content, "client-session", "tester")
	msg.Identities = [][]byte{[]byte("client-1")}
	return msg
}
