package composerun

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"initrunner/internal/audit"
	"initrunner/internal/compose"
)

type stubBuilder struct {
	fail map[string]bool
}

func (b *stubBuilder) Build(serviceName, rolePath string, shared *MemoryConfig) (*Role, Executor, MemoryPruner, error) {
	if b.fail[serviceName] {
		return nil, nil, nil, errBuildFailed
	}
	role := &Role{Name: serviceName}
	exec := execFunc(func(ctx context.Context, role *Role, req ExecRequest) (audit.RunResult, error) {
		return audit.RunResult{RunID: "r", Output: req.Prompt, Success: true}, nil
	})
	return role, exec, nil, nil
}

type buildErr struct{ msg string }

func (e *buildErr) Error() string { return e.msg }

var errBuildFailed = &buildErr{msg: "role load failed"}

func sampleDef() *compose.ComposeDefinition {
	return &compose.ComposeDefinition{
		Metadata: compose.ComposeMetadata{Name: "test"},
		Spec: compose.ComposeSpec{
			Services: map[string]compose.ServiceConfig{
				"a": {Role: "a.yaml", DependsOn: []string{"b"}},
				"b": {Role: "b.yaml"},
			},
		},
	}
}

func TestOrchestratorStartsInDependencyOrderAndStops(t *testing.T) {
	def := sampleDef()
	o := NewOrchestrator(def, &stubBuilder{}, nil, zerolog.Nop())

	require.NoError(t, o.Start())
	defer o.Stop()

	require.Len(t, o.Services(), 2)
	require.Eventually(t, func() bool {
		return o.Services()["a"].IsAlive() && o.Services()["b"].IsAlive()
	}, time.Second, 10*time.Millisecond)
}

func TestOrchestratorAbortsWhenAllServicesFailToBuild(t *testing.T) {
	def := sampleDef()
	o := NewOrchestrator(def, &stubBuilder{fail: map[string]bool{"a": true, "b": true}}, nil, zerolog.Nop())

	err := o.Start()
	require.Error(t, err)
}

func TestOrchestratorContinuesWithSurvivingServicesOnPartialFailure(t *testing.T) {
	def := sampleDef()
	def.Spec.Services["a"] = compose.ServiceConfig{Role: "a.yaml"}
	o := NewOrchestrator(def, &stubBuilder{fail: map[string]bool{"a": true}}, nil, zerolog.Nop())

	require.NoError(t, o.Start())
	defer o.Stop()

	require.Len(t, o.Services(), 1)
	require.Contains(t, o.FailedServices(), "a")
}

func TestOrchestratorWiresDelegateSinkBetweenServices(t *testing.T) {
	def := sampleDef()
	threshold := 2
	def.Spec.Services["b"] = compose.ServiceConfig{
		Sink: &compose.DelegateSinkConfig{
			Target:                     compose.TargetList{"a"},
			QueueSize:                  10,
			TimeoutSeconds:             1,
			CircuitBreakerThreshold:    &threshold,
			CircuitBreakerResetSeconds: 5,
		},
	}
	o := NewOrchestrator(def, &stubBuilder{}, nil, zerolog.Nop())

	require.NoError(t, o.Start())
	defer o.Stop()

	require.Len(t, o.DelegateHealth(), 1)
	info := o.DelegateHealth()[0]
	require.Equal(t, "b", info.Source)
	require.Equal(t, "a", info.Target)
}
