package kernel

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/client"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	stdout string
	stderr string
	exit   int
	calls  [][]string
}

func (r *scriptedRunner) Run(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.stdout != "" {
		_, _ = io.WriteString(stdout, r.stdout)
	}
	if r.stderr != "" {
		_, _ = io.WriteString(stderr, r.stderr)
	}
	if r.exit != 0 {
		return r.exit, fmt.Errorf("exit status %d", r.exit)
	}
	return 0, nil
}

func TestShellEvalStreamsOutput(t *testing.T) {
	testlog.Start(t)
	runner := &scriptedRunner{stdout: "out\n", stderr: "warn\n"}
	s := startSession(t, Shell{Runner: runner, Path: "/bin/sh"}, Options{}, client.HeartbeatConfig{})
	sink := &outputSink{}

	reply, err := s.client.ExecuteCode(ctxFor(t), "echo out; echo warn >&2", sink)
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, reply.Status)
	require.Equal(t, []string{"stdout:out\n", "stderr:warn\n"}, sink.streams)
	require.Empty(t, sink.results)
	require.Equal(t, [][]string{{"/bin/sh", "-c", "echo out; echo warn >&2"}}, runner.calls)
}

func TestShellEvalExitStatus(t *testing.T) {
	testlog.Start(t)
	s := startSession(t, Shell{Runner: &scriptedRunner{exit: 2}}, Options{}, client.HeartbeatConfig{})
	sink := &outputSink{}

	_, err := s.client.ExecuteCode(ctxFor(t), "false", sink)
	var replyErr *client.ReplyError
	require.ErrorAs(t, err, &replyErr)
	require.Equal(t, "ExitError", replyErr.Reply.EName)
	require.Equal(t, "exit status 2", replyErr.Reply.EValue)
}

func TestShellHostInterrupt(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s := startSession(t, Shell{}, Options{}, client.HeartbeatConfig{})

	ctx := ctxFor(t)
	done := make(chan error, 1)
	go func() {
		_, err := s.client.ExecuteCode(ctx, "sleep 5", nil)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return s.kernel.Status().ExecutionState == protocol.StateBusy
	}, 2*time.Second, 2*time.Millisecond)

	_, err := s.client.Interrupt(ctx)
	require.NoError(t, err)

	select {
	case err := <-done:
		var replyErr *client.ReplyError
		require.ErrorAs(t, err, &replyErr)
		require.Equal(t, "KeyboardInterrupt", replyErr.Reply.EName)
	case <-time.After(3 * time.Second):
		t.Fatal("shell execution was not interrupted")
	}
}

func TestShellIsComplete(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		code   string
		status string
	}{
		{"ls -la", protocol.CompleteYes},
		{"ls |", protocol.CompleteNo},
		{"make &&", protocol.CompleteNo},
		{"echo \\", protocol.CompleteNo},
		{`echo "open`, protocol.CompleteNo},
		{`echo 'it\'`, protocol.CompleteYes},
		{`echo "a \" b"`, protocol.CompleteYes},
	}
	for _, tc := range cases {
		status, _ := Shell{}.IsComplete(tc.code)
		require.Equal(t, tc.status, status, tc.code)
	}
}
