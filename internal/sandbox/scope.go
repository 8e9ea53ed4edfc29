package sandbox

import (
	"time"

	"initrunner/internal/audit"
)

// State is the per-worker sandbox state: one value owned exclusively by the
// goroutine executing one compose service's loop. It must never be shared
// across services — callers get isolation by constructing one State per
// worker, not by synchronizing access to a shared one.
type State struct {
	enforcing  bool
	depth      int
	config     Config
	agentName  string
	violations []Violation
	bypassed   bool

	audit *audit.Logger
}

// NewState builds sandbox state that flushes batched violations to log on
// the outermost scope exit. auditLogger may be nil in tests.
func NewState(auditLogger *audit.Logger) *State {
	return &State{audit: auditLogger}
}

// Enter activates enforcement for the duration of a custom tool call.
// Reentrant: nested Enter calls increment a depth counter, and only the
// outermost exit flushes violations and turns enforcement back off. Call the
// returned func to end the scope, typically via defer:
//
//	end := state.Enter(cfg, agentName)
//	defer end()
func (s *State) Enter(cfg Config, agentName string) func() {
	s.depth++
	wasEnforcing := s.enforcing
	prevConfig := s.config
	prevAgent := s.agentName

	s.enforcing = true
	s.config = cfg
	s.agentName = agentName

	return func() {
		s.depth--
		if s.depth == 0 {
			s.enforcing = false
			s.flushViolations()
		} else {
			s.enforcing = wasEnforcing
		}
		s.config = prevConfig
		s.agentName = prevAgent
	}
}

// FrameworkBypass temporarily disables enforcement for trusted internal
// operations (loading sub-agents, framework-initiated I/O) nested inside an
// active scope. Call the returned func to restore prior state.
func (s *State) FrameworkBypass() func() {
	wasBypassed := s.bypassed
	wasEnforcing := s.enforcing
	s.bypassed = true
	s.enforcing = false
	return func() {
		s.bypassed = wasBypassed
		s.enforcing = wasEnforcing
	}
}

// Enforcing reports whether a scope is currently active on this worker.
func (s *State) Enforcing() bool { return s.enforcing }

// Depth returns the current reentrancy depth. depth==0 iff Enforcing()==false
// at scope exit — the invariant every checker below depends on.
func (s *State) Depth() int { return s.depth }

func (s *State) flushViolations() {
	if len(s.violations) == 0 {
		return
	}
	if s.audit != nil {
		for _, v := range s.violations {
			s.audit.LogSecurityEvent("sandbox_violation", s.agentName, v.Event+": "+v.Detail, "", v.At)
		}
	}
	s.violations = nil
}

// record appends a violation and, in raise mode, returns an error the caller
// must propagate immediately. The violation is timestamped now, at the
// moment the check failed, since flushViolations may run much later (only on
// the outermost scope exit).
func (s *State) record(event, detail string) error {
	s.violations = append(s.violations, Violation{Event: event, Detail: detail, At: time.Now()})
	if s.config.ViolationAction == ActionRaise {
		return &ViolationError{Event: event, Detail: detail}
	}
	return nil
}
