package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/jupyterwire/internal/testutil/testlog"
	"github.com/danmuck/jupyterwire/internal/transport"
	"github.com/stretchr/testify/require"
)

// echo answers every ping on sock until ctx ends.
func echo(ctx context.Context, sock transport.Socket) {
	for {
		frames, err := sock.Recv(ctx)
		if err != nil {
			return
		}
		_ = sock.Send(frames)
	}
}

func fastHeartbeat(allowed int) HeartbeatConfig {
	return HeartbeatConfig{
		Interval:        5 * time.Millisecond,
		DeadAfter:       30 * time.Millisecond,
		AllowedFailures: allowed,
		Backoff:         BackoffConfig{InitialDelay: time.Millisecond},
	}
}

func TestHeartbeatMonitorBeatsWhileEchoed(t *testing.T) {
	testlog.Start(t)
	local, remote := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echo(ctx, remote)

	m := NewHeartbeatMonitor(local, nil, fastHeartbeat(0))
	var died atomic.Bool
	m.OnDeath(func() { died.Store(true) })
	require.NoError(t, m.Start())
	defer m.Close()

	require.Eventually(t, func() bool { return remote.Sent() >= 3 }, time.Second, 5*time.Millisecond)
	require.NotEqual(t, StateDead, m.State())
	require.Zero(t, m.Failures())
	require.False(t, died.Load())
}

func TestHeartbeatMonitorDeclaresDeathAfterAllowedFailures(t *testing.T) {
	testlog.Start(t)
	local, remote := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echo(ctx, remote)
	remote.SetDrop(true)

	m := NewHeartbeatMonitor(local, nil, fastHeartbeat(2))
	deaths := make(chan struct{}, 4)
	m.OnDeath(func() { deaths <- struct{}{} })
	require.NoError(t, m.Start())
	defer m.Close()

	select {
	case <-deaths:
	case <-time.After(2 * time.Second):
		t.Fatalf("kernel never declared dead, state=%s", m.State())
	}
	require.Equal(t, StateDead, m.State())
	require.Equal(t, 2, m.Failures())

	late := make(chan struct{})
	m.OnDeath(func() { close(late) })
	<-late
	require.Len(t, deaths, 0)
}

func TestHeartbeatMonitorRedialsAfterMiss(t *testing.T) {
	testlog.Start(t)
	first, dead := transport.Pipe()
	dead.SetDrop(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dials atomic.Int32
	redial := func(context.Context) (transport.Socket, error) {
		dials.Add(1)
		local, remote := transport.Pipe()
		go echo(ctx, remote)
		return local, nil
	}
	m := NewHeartbeatMonitor(first, redial, fastHeartbeat(3))
	require.NoError(t, m.Start())
	defer m.Close()

	require.Eventually(t, func() bool {
		return dials.Load() == 1 && m.State() != StateMessagingFailure && m.Failures() == 0
	}, time.Second, 5*time.Millisecond)
	require.NotEqual(t, StateDead, m.State())
}

func TestHeartbeatMonitorPauseSuspendsFailures(t *testing.T) {
	testlog.Start(t)
	local, remote := transport.Pipe()
	remote.SetDrop(true)
	m := NewHeartbeatMonitor(local, nil, fastHeartbeat(0))
	m.Pause()
	require.Equal(t, StatePaused, m.State())
	require.NoError(t, m.Start())
	defer m.Close()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StatePaused, m.State())
	require.Zero(t, m.Failures())
	require.Zero(t, local.Sent())
}
