package compose

import (
	"fmt"
	"sort"
)

// ErrorCode enumerates the validation failures the graph validator can
// produce. Raised at load time; never at runtime.
type ErrorCode string

const (
	ErrUnknownService  ErrorCode = "unknown_service"
	ErrSelfDependency  ErrorCode = "self_dependency"
	ErrSelfDelegate    ErrorCode = "self_delegate"
	ErrDependencyCycle ErrorCode = "dependency_cycle"
	ErrDelegateCycle   ErrorCode = "delegate_cycle"
)

// ValidationError carries a machine-checkable code alongside a human
// message, so callers can branch on Code without parsing Error().
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationErr(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a ComposeDefinition against every invariant in §3/§4.1 and
// returns the depends-on tiers (startup order) on success.
func Validate(def *ComposeDefinition) ([][]string, error) {
	if len(def.Spec.Services) == 0 {
		return nil, validationErr(ErrUnknownService, "compose definition has no services")
	}

	names := make(map[string]bool, len(def.Spec.Services))
	for name := range def.Spec.Services {
		names[name] = true
	}

	dependsOn := make(map[string][]string, len(names))
	delegateEdges := make(map[string][]string, len(names))

	for name, svc := range def.Spec.Services {
		for _, dep := range svc.DependsOn {
			if dep == name {
				return nil, validationErr(ErrSelfDependency, "service %q depends on itself", name)
			}
			if !names[dep] {
				return nil, validationErr(ErrUnknownService, "service %q depends on unknown service %q", name, dep)
			}
			dependsOn[name] = append(dependsOn[name], dep)
		}

		if svc.Sink != nil {
			for _, target := range svc.Sink.Target {
				if target == name {
					return nil, validationErr(ErrSelfDelegate, "service %q delegates to itself", name)
				}
				if !names[target] {
					return nil, validationErr(ErrUnknownService, "service %q delegates to unknown service %q", name, target)
				}
				delegateEdges[name] = append(delegateEdges[name], target)
			}
		}
	}

	tiers, err := TopologicalTiers(names, dependsOn)
	if err != nil {
		return nil, validationErr(ErrDependencyCycle, "%s", err)
	}

	if err := detectDelegateCycle(names, delegateEdges); err != nil {
		return nil, validationErr(ErrDelegateCycle, "%s", err)
	}

	return tiers, nil
}

// TopologicalTiers runs Kahn's algorithm over a depends-on graph: prereqs
// map[name] lists the services name depends on (must start earlier). Each
// returned tier is sorted lexicographically so output is deterministic
// across runs of the same definition. Exported so the orchestrator can
// recompute start/stop order from its surviving service set.
func TopologicalTiers(nodes map[string]bool, prereqs map[string][]string) ([][]string, error) {
	remaining := make(map[string]bool, len(nodes))
	for name := range nodes {
		remaining[name] = true
	}

	indegree := make(map[string]int, len(remaining))
	dependents := make(map[string][]string, len(remaining))

	for name := range remaining {
		indegree[name] = len(prereqs[name])
	}
	for name, deps := range prereqs {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var tiers [][]string
	left := len(remaining)

	for left > 0 {
		var tier []string
		for name := range remaining {
			if indegree[name] == 0 {
				tier = append(tier, name)
			}
		}
		if len(tier) == 0 {
			return nil, fmt.Errorf("cycle detected among remaining services")
		}
		sort.Strings(tier)

		for _, name := range tier {
			delete(remaining, name)
			left--
			indegree[name] = -1 // consumed; never re-selected
		}
		for _, name := range tier {
			for _, dependent := range dependents[name] {
				if indegree[dependent] >= 0 {
					indegree[dependent]--
				}
			}
		}
		tiers = append(tiers, tier)
	}

	return tiers, nil
}

// detectDelegateCycle checks the delegate graph for cycles. "A delegates to
// B" is modeled as "B depends on A" for this purpose: a delegate cycle is
// equivalent to a dependency cycle on the inverted edge set.
func detectDelegateCycle(names map[string]bool, delegateEdges map[string][]string) error {
	remaining := make(map[string]bool, len(names))
	for name := range names {
		remaining[name] = true
	}

	// Invert: delegateEdges[A] = [B, ...] (A emits to B) becomes prereqs[B]
	// including A (B depends on A).
	inverted := make(map[string][]string, len(remaining))
	for source, targets := range delegateEdges {
		for _, target := range targets {
			inverted[target] = append(inverted[target], source)
		}
	}

	_, err := TopologicalTiers(remaining, inverted)
	return err
}
