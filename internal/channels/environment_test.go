package channels

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func newTestEnvironment(h *harness) *ReplyEnvironment {
	parent := request(protocol.MsgExecuteRequest, &protocol.ExecuteRequest{Code: "x"})
	return h.conn.newEnvironment(h.conn.Shell().Socket(), parent)
}

func TestResolveDeferralsRunsLIFO(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "", Options{})
	env := newTestEnvironment(h)

	var order []string
	for _, name := range []string{"A", "B", "C"} {
		env.DeferFunc(func() error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, env.ResolveDeferrals())
	require.Equal(t, []string{"C", "B", "A"}, order)
	require.NoError(t, env.ResolveDeferrals())
}

func TestDeferModeAppliesToExactlyOneSend(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "", Options{})
	env := newTestEnvironment(h)

	require.NoError(t, env.SetBusyDeferIdle())
	require.NoError(t, env.Defer().ReplyContent(protocol.MsgExecuteReply, &protocol.ExecuteReply{Status: protocol.StatusOK}))
	require.NoError(t, env.WriteStream(protocol.StreamStdout, "now"))
	require.Equal(t, []string{"iopub:status=busy", "iopub:stream"}, h.wire.snapshot())

	require.NoError(t, env.ResolveDeferrals())
	require.Equal(t, []string{
		"iopub:status=busy",
		"iopub:stream",
		"shell:execute_reply",
		"iopub:status=idle",
	}, h.wire.snapshot())
}

func TestResolveWhileArmedFails(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "", Options{})
	env := newTestEnvironment(h)
	ran := false
	env.DeferFunc(func() error { ran = true; return nil })
	env.Defer()
	require.ErrorIs(t, env.ResolveDeferrals(), ErrDeferPending)
	require.False(t, ran)

	require.ErrorIs(t, env.finish(), ErrDeferPending)
	require.True(t, ran)
}

func TestResolveJoinsFailuresAndKeepsGoing(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "", Options{})
	env := newTestEnvironment(h)
	first := errors.New("first")
	ran := 0
	env.DeferFunc(func() error { ran++; return first })
	env.DeferFunc(func() error { ran++; panic("second") })
	err := env.ResolveDeferrals()
	require.ErrorIs(t, err, first)
	require.Contains(t, err.Error(), "second")
	require.Equal(t, 2, ran)
}

func TestReplyErrorUsesErrorVariant(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "k", Options{})
	env := newTestEnvironment(h)
	require.False(t, env.Replied())
	require.NoError(t, env.ReplyError(protocol.MsgExecuteReply, &protocol.ErrorReply{EName: "ValueError", EValue: "bad"}))
	require.True(t, env.Replied())

	reply := h.recv(t, h.shell)
	require.True(t, reply.IsError())
	require.Equal(t, protocol.StatusError, reply.Content.(*protocol.ErrorReply).Status)
	require.False(t, env.IsMarkedForShutdown())
	env.MarkForShutdown()
	require.True(t, env.IsMarkedForShutdown())
}

func TestInputWithoutStdin(t *testing.T) {
	testlog.Start(t)
	env := newEnvironment(nil, nil, nil, nil)
	_, err := env.Input(context.Background(), "", false)
	require.ErrorIs(t, err, ErrNoStdin)
}

func recvRaw(t *testing.T, peer interface {
	Recv(ctx context.Context) ([][]byte, error)
}) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frames, err := peer.Recv(ctx)
	require.NoError(t, err)
	return frames
}
