package compose

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func svcWithDeps(deps ...string) ServiceConfig {
	return ServiceConfig{DependsOn: deps}
}

func svcWithDelegate(targets ...string) ServiceConfig {
	return ServiceConfig{Sink: &DelegateSinkConfig{Type: "delegate", Target: targets}}
}

func TestTopologicalTiersOrdersDependents(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDeps(),
		"b": svcWithDeps("a"),
		"c": svcWithDeps("a", "b"),
	}}}

	tiers, err := Validate(def)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, tiers)
}

func TestTopologicalTiersBreaksTiesLexicographically(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"zebra":  svcWithDeps(),
		"apple":  svcWithDeps(),
		"mango":  svcWithDeps(),
	}}}

	tiers, err := Validate(def)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	require.Equal(t, []string{"apple", "mango", "zebra"}, tiers[0])
}

func TestDependencyCycleRejected(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDeps("b"),
		"b": svcWithDeps("a"),
	}}}

	_, err := Validate(def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrDependencyCycle, verr.Code)
}

func TestDelegateCycleRejected(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDelegate("b"),
		"b": svcWithDelegate("a"),
	}}}

	_, err := Validate(def)
	require.Error(t, err)
	require.Contains(t, err.Error(), "delegate_cycle")
}

func TestSelfDependencyRejected(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDeps("a"),
	}}}

	_, err := Validate(def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrSelfDependency, verr.Code)
}

func TestSelfDelegateRejected(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDelegate("a"),
	}}}

	_, err := Validate(def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrSelfDelegate, verr.Code)
}

func TestUnknownDependencyRejected(t *testing.T) {
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": svcWithDeps("ghost"),
	}}}

	_, err := Validate(def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ErrUnknownService, verr.Code)
}

func TestDelegateAndDependencyGraphsAreIndependent(t *testing.T) {
	// A depends on B (B starts first) but A delegates to B (A emits to B).
	// Neither graph cycles even though the edges run in opposite directions
	// between the same pair.
	def := &ComposeDefinition{Spec: ComposeSpec{Services: map[string]ServiceConfig{
		"a": {DependsOn: []string{"b"}, Sink: &DelegateSinkConfig{Target: []string{"b"}}},
		"b": svcWithDeps(),
	}}}

	tiers, err := Validate(def)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"b"}, {"a"}}, tiers)
}

func TestDefaultedServiceConfigFillsSinkAndRestartDefaults(t *testing.T) {
	svc := DefaultedServiceConfig(ServiceConfig{Sink: &DelegateSinkConfig{Target: []string{"b"}}})
	require.Equal(t, 100, svc.Sink.QueueSize)
	require.Equal(t, 60.0, svc.Sink.TimeoutSeconds)
	require.Equal(t, 60.0, svc.Sink.CircuitBreakerResetSeconds)
	require.Equal(t, RestartNone, svc.Restart.Condition)
}
