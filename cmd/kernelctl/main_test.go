package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/channels"
	"github.com/danmuck/jupyterwire/internal/client"
	"github.com/danmuck/jupyterwire/internal/kernel"
	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/danmuck/jupyterwire/internal/protocol/signing"
	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/danmuck/jupyterwire/internal/transport"
)

func startEcho(t *testing.T) *client.Client {
	t.Helper()
	signer, err := signing.New("hmac-sha256", []byte("kernelctl-key"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	codec := protocol.NewCodec(nil, signer)

	var ks channels.Sockets
	var cs client.Sockets
	ks.Shell, cs.Shell = transport.Pipe()
	ks.Control, cs.Control = transport.Pipe()
	ks.Stdin, cs.Stdin = transport.Pipe()
	ks.IOPub, cs.IOPub = transport.Pipe()
	ks.Heartbeat, cs.Heartbeat = transport.Pipe()

	conn := channels.New(ks, codec, channels.Options{PollInterval: 2 * time.Millisecond, HeartbeatInterval: 2 * time.Millisecond})
	k := kernel.New(conn, kernel.Echo{}, kernel.Options{History: kernel.NewMemoryHistory(0)})
	if err := k.Start(); err != nil {
		t.Fatalf("kernel start: %v", err)
	}

	cfg := defaultCtlConfig()
	cfg.Client.PollInterval = 2 * time.Millisecond
	cfg.Client.Heartbeat = client.HeartbeatConfig{Interval: 20 * time.Millisecond, DeadAfter: 250 * time.Millisecond, AllowedFailures: 3}
	c := client.New(cs, codec, cfg.Client)
	if err := c.Start(); err != nil {
		t.Fatalf("client start: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		k.Close()
		k.Wait()
	})
	return c
}

func runCmd(t *testing.T, c *client.Client, args ...string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := dispatch(ctx, c, args, &out); err != nil {
		t.Fatalf("%s: %v", args[0], err)
	}
	return out.String()
}

func TestDispatchCommands(t *testing.T) {
	testlog.Start(t)
	c := startEcho(t)

	if out := runCmd(t, c, "info"); !strings.Contains(out, `"protocol_version": "`+protocol.Version+`"`) {
		t.Fatalf("unexpected info output: %s", out)
	}
	if out := runCmd(t, c, "exec", "print:hello"); out != "hello\n" {
		t.Fatalf("unexpected exec output: %q", out)
	}
	if out := runCmd(t, c, "exec", "x", "y"); !strings.Contains(out, "x y") {
		t.Fatalf("expected echoed result, got %q", out)
	}
	if out := runCmd(t, c, "is-complete", "(1,"); !strings.Contains(out, `"incomplete"`) {
		t.Fatalf("unexpected is-complete output: %s", out)
	}
	out := runCmd(t, c, "history", "5")
	if !strings.Contains(out, "print:hello") || !strings.Contains(out, "x y") {
		t.Fatalf("unexpected history output: %q", out)
	}
	if out := runCmd(t, c, "interrupt"); out != "interrupted\n" {
		t.Fatalf("unexpected interrupt output: %q", out)
	}
	if out := runCmd(t, c, "shutdown"); out != "shutdown restart=false\n" {
		t.Fatalf("unexpected shutdown output: %q", out)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	testlog.Start(t)
	c := startEcho(t)

	err := dispatch(context.Background(), c, []string{"frobnicate"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "frobnicate") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}
