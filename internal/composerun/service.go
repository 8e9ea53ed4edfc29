// Package composerun implements the multi-service compose orchestrator: it
// builds one worker per configured service, wires delegate edges between
// them, supervises restarts, and drives startup/shutdown in dependency-tier
// order.
package composerun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"initrunner/internal/audit"
	"initrunner/internal/compose"
	"initrunner/internal/delegate"
	"initrunner/internal/sink"
)

// MemoryConfig mirrors the subset of a role's memory configuration the
// orchestrator is allowed to mutate when shared memory is enabled.
type MemoryConfig struct {
	StorePath   string
	MaxMemories int
	MaxSessions int
}

// Role is consumed, not owned, by the orchestrator: it is whatever the
// external agent-loading collaborator produced. The orchestrator only ever
// reads Name/Triggers/Sinks and patches Memory.StorePath/MaxMemories when
// shared memory is configured.
type Role struct {
	Name   string
	Memory *MemoryConfig
	Sinks  []sink.Base

	// Trigger is used directly when already bound to a callback the caller
	// controls some other way. Prefer TriggerFactory when the triggers need
	// to fire into this service's own handlePrompt.
	Trigger TriggerDispatcher

	// TriggerFactory, when set, takes precedence over Trigger: the service
	// calls it with its own event callback once it exists, so concrete
	// triggers (cron, file-watch, webhook) can be built bound to a real
	// handler instead of one built before the service existed.
	TriggerFactory func(cb TriggerCallback) TriggerDispatcher
}

// TriggerCallback is invoked once per fired trigger event.
type TriggerCallback func(triggerType, prompt string, metadata map[string]string)

// ExecRequest is everything the external executor needs for one invocation.
type ExecRequest struct {
	Prompt          string
	TriggerType     string
	TriggerMetadata map[string]string
}

// Executor runs one prompt against a built agent/role and returns the
// outcome. Agent construction and execution itself are out of this
// package's scope; only this result shape matters here.
type Executor interface {
	Execute(ctx context.Context, role *Role, req ExecRequest) (audit.RunResult, error)
}

// TriggerDispatcher starts and stops a role's declared triggers (cron,
// file-watch, webhook), invoking a callback on each event.
type TriggerDispatcher interface {
	StartAll()
	StopAll()
}

// MemoryPruner prunes stale memory sessions for a role once shared memory
// or per-role memory is configured. Implemented externally; nil means no
// pruning is performed.
type MemoryPruner interface {
	PruneSessions(roleName string, maxSessions int) error
}

// Service wraps one long-running worker: it consumes its inbox and trigger
// callbacks, runs the executor once per event, audits the result, and
// dispatches it to sinks.
type Service struct {
	Name string

	role     *Role
	executor Executor
	config   compose.ServiceConfig
	inbox    delegate.Inbox

	auditLogger *audit.Logger
	memPruner   MemoryPruner
	log         zerolog.Logger

	dispatcher *sink.Dispatcher

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool

	execMu sync.Mutex

	counterMu sync.Mutex
	runCount  int
	errCount  int
}

// NewService constructs a service around a role, its bound executor, and
// its inbox. Sinks are added afterward via AddSink.
func NewService(name string, role *Role, executor Executor, cfg compose.ServiceConfig, inbox delegate.Inbox, auditLogger *audit.Logger, memPruner MemoryPruner, log zerolog.Logger) *Service {
	return &Service{
		Name:        name,
		role:        role,
		executor:    executor,
		config:      cfg,
		inbox:       inbox,
		auditLogger: auditLogger,
		memPruner:   memPruner,
		log:         log,
		dispatcher:  sink.NewDispatcher(name, "", "", log),
	}
}

// AddSink registers one output sink (file, webhook, custom, or delegate).
func (s *Service) AddSink(snk sink.Base) {
	s.dispatcher.AddSink(snk)
}

// Inbox exposes the service's delegate inbox so the orchestrator can wire
// delegate sinks targeting it.
func (s *Service) Inbox() delegate.Inbox {
	return s.inbox
}

// IsAlive reports whether the worker goroutine is currently running.
func (s *Service) IsAlive() bool {
	s.counterMu.Lock()
	alive := s.stopCh != nil && s.doneCh != nil
	s.counterMu.Unlock()
	if !alive {
		return false
	}
	select {
	case <-s.doneCh:
		return false
	default:
		return true
	}
}

// RunCount reports how many prompts have been executed.
func (s *Service) RunCount() int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.runCount
}

// ErrorCount reports how many executions failed.
func (s *Service) ErrorCount() int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.errCount
}

// Config returns the service's compose configuration (restart policy etc).
func (s *Service) Config() compose.ServiceConfig {
	return s.config
}

func (s *Service) handlePrompt(prompt, triggerType string, triggerMetadata map[string]string) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.counterMu.Lock()
	s.runCount++
	s.counterMu.Unlock()

	result, err := s.executor.Execute(context.Background(), s.role, ExecRequest{
		Prompt:          prompt,
		TriggerType:     triggerType,
		TriggerMetadata: triggerMetadata,
	})
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}

	if !result.Success {
		s.counterMu.Lock()
		s.errCount++
		s.counterMu.Unlock()
	}

	if s.role != nil && s.role.Memory != nil && s.memPruner != nil {
		if err := s.memPruner.PruneSessions(s.role.Name, s.role.Memory.MaxSessions); err != nil {
			s.log.Warn().Err(err).Str("service", s.Name).Msg("failed to prune memory sessions")
		}
	}

	s.dispatcher.Dispatch(result, prompt, triggerType, triggerMetadata)
}

// onTrigger is the callback handed to the trigger dispatcher.
func (s *Service) onTrigger(triggerType, prompt string, metadata map[string]string) {
	s.log.Debug().Str("service", s.Name).Str("trigger", triggerType).Msg("trigger fired")
	s.handlePrompt(prompt, triggerType, metadata)
}

func (s *Service) run() {
	defer close(s.doneCh)

	var dispatcher TriggerDispatcher
	if s.role != nil {
		switch {
		case s.role.TriggerFactory != nil:
			dispatcher = s.role.TriggerFactory(s.onTrigger)
		case s.role.Trigger != nil:
			dispatcher = s.role.Trigger
		}
	}
	if dispatcher != nil {
		dispatcher.StartAll()
		defer dispatcher.StopAll()
	}

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.inbox:
			if !ok {
				return
			}
			s.log.Debug().Str("service", s.Name).Str("from", ev.SourceService).Msg("delegate event received")
			s.handlePrompt(ev.Prompt, "delegate", ev.Metadata)
		case <-time.After(500 * time.Millisecond):
			// no event within the bound; loop back to check stopCh
		}
	}
}

// Start spawns the service's worker goroutine.
func (s *Service) Start() {
	s.counterMu.Lock()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.stopped = false
	s.counterMu.Unlock()
	go s.run()
}

// Stop signals the worker to exit and waits up to 5s for it to finish. Safe
// to call more than once, including after a HealthMonitor restart has
// replaced the underlying stop/done channels.
func (s *Service) Stop() {
	s.counterMu.Lock()
	if s.stopCh == nil || s.stopped {
		doneCh := s.doneCh
		s.counterMu.Unlock()
		if doneCh != nil {
			<-doneCh
		}
		return
	}
	s.stopped = true
	stopCh, doneCh := s.stopCh, s.doneCh
	s.counterMu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		s.log.Warn().Str("service", s.Name).Msg("service did not stop within 5s")
	}
}

func (s *Service) String() string {
	return fmt.Sprintf("Service(%s)", s.Name)
}
