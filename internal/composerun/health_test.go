package composerun

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"initrunner/internal/audit"
	"initrunner/internal/compose"
	"initrunner/internal/delegate"
)

func TestHealthMonitorRestartsServiceOnFailureCondition(t *testing.T) {
	exec := execFunc(func(ctx context.Context, role *Role, req ExecRequest) (audit.RunResult, error) {
		return audit.RunResult{Success: false}, nil
	})
	cfg := compose.ServiceConfig{
		Restart: compose.RestartPolicy{Condition: compose.RestartOnFailure, MaxRetries: 3, DelaySeconds: 0},
	}
	svc := NewService("a", &Role{Name: "a"}, exec, cfg, delegate.NewInbox(1), nil, nil, zerolog.Nop())
	svc.Start()

	// force one failing run so error_count > 0, then kill the worker
	svc.Inbox() <- delegate.Event{Prompt: "x", Metadata: map[string]string{}}
	require.Eventually(t, func() bool { return svc.ErrorCount() == 1 }, time.Second, 10*time.Millisecond)
	svc.Stop()
	require.False(t, svc.IsAlive())

	services := map[string]*Service{"a": svc}
	mon := NewHealthMonitor(services, zerolog.Nop())
	mon.interval = 20 * time.Millisecond
	mon.Start()
	defer mon.Stop()

	require.Eventually(t, func() bool { return svc.IsAlive() }, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, 1, mon.RestartCounts()["a"])
}

func TestHealthMonitorSkipsServiceWithNoneRestartPolicy(t *testing.T) {
	exec := execFunc(func(ctx context.Context, role *Role, req ExecRequest) (audit.RunResult, error) {
		return audit.RunResult{Success: true}, nil
	})
	svc := NewService("a", &Role{Name: "a"}, exec, compose.ServiceConfig{}, delegate.NewInbox(1), nil, nil, zerolog.Nop())
	svc.Start()
	svc.Stop()

	mon := NewHealthMonitor(map[string]*Service{"a": svc}, zerolog.Nop())
	mon.interval = 20 * time.Millisecond
	mon.Start()
	defer mon.Stop()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, mon.RestartCounts()["a"])
	require.False(t, svc.IsAlive())
}
