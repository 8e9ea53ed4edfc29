package delegate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"initrunner/internal/audit"
	"initrunner/internal/sink"
)

const (
	circuitClosed   = "closed"
	circuitOpen     = "open"
	circuitHalfOpen = "half_open"
)

const (
	flushInterval    = time.Second
	auditBufferLimit = 10_000
)

// Sink routes one source service's successful output into one target
// service's inbox. It implements sink.Base so the dispatcher can wire it in
// alongside file/webhook/custom sinks.
type Sink struct {
	sourceService string
	targetService string
	targetInbox   Inbox
	timeout       time.Duration
	auditLogger   *audit.Logger
	log           zerolog.Logger

	counterMu     sync.Mutex
	droppedCount  int64
	filteredCount int64

	cbThreshold         *int
	cbResetSeconds      time.Duration
	consecutiveFailures int
	circuitState        string
	circuitOpenedAt     time.Time

	bufferMu        sync.Mutex
	buffer          []audit.DelegateEvent
	overflowCount   int64

	flushStop chan struct{}
	flushDone chan struct{}
	closeOnce sync.Once
}

// Option configures a Sink at construction.
type Option func(*Sink)

// WithCircuitBreaker enables the per-edge breaker: threshold consecutive
// failures opens the circuit; it half-opens resetSeconds later.
func WithCircuitBreaker(threshold int, resetSeconds float64) Option {
	return func(s *Sink) {
		t := threshold
		s.cbThreshold = &t
		s.cbResetSeconds = time.Duration(resetSeconds * float64(time.Second))
	}
}

// New creates a delegate sink and, when auditLogger is non-nil, starts its
// background flush loop.
func New(sourceService, targetService string, targetInbox Inbox, timeoutSeconds float64, auditLogger *audit.Logger, log zerolog.Logger, opts ...Option) *Sink {
	s := &Sink{
		sourceService:  sourceService,
		targetService:  targetService,
		targetInbox:    targetInbox,
		timeout:        time.Duration(timeoutSeconds * float64(time.Second)),
		auditLogger:    auditLogger,
		log:            log,
		circuitState:   circuitClosed,
		cbResetSeconds: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.auditLogger != nil {
		s.flushStop = make(chan struct{})
		s.flushDone = make(chan struct{})
		go s.flushLoop()
	}

	return s
}

// Source returns the name of the service this sink routes output from.
func (s *Sink) Source() string { return s.sourceService }

// Target returns the name of the service this sink routes output to.
func (s *Sink) Target() string { return s.targetService }

// DroppedCount reports messages dropped due to a full queue or exceeded
// delegation depth.
func (s *Sink) DroppedCount() int64 {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.droppedCount
}

// FilteredCount reports messages filtered because the upstream run failed.
func (s *Sink) FilteredCount() int64 {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.filteredCount
}

// CircuitState reports the current breaker state: closed, open, half_open.
func (s *Sink) CircuitState() string {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.circuitState
}

// ConsecutiveFailures reports the current failure streak.
func (s *Sink) ConsecutiveFailures() int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.consecutiveFailures
}

// AuditOverflowCount reports how many audit events were dropped because the
// buffer was full when appended.
func (s *Sink) AuditOverflowCount() int64 {
	s.bufferMu.Lock()
	defer s.bufferMu.Unlock()
	return s.overflowCount
}

// checkCircuit reports whether a send should proceed. Must be called with
// counterMu held.
func (s *Sink) checkCircuit() bool {
	if s.cbThreshold == nil {
		return true
	}

	switch s.circuitState {
	case circuitClosed:
		return true
	case circuitOpen:
		if !s.circuitOpenedAt.IsZero() && time.Since(s.circuitOpenedAt) >= s.cbResetSeconds {
			s.circuitState = circuitHalfOpen
			s.log.Info().Str("source", s.sourceService).Str("target", s.targetService).Msg("circuit half-open: allowing probe")
			return true
		}
		return false
	default: // half_open — allow the probe through
		return true
	}
}

// recordSuccess must be called with counterMu held.
func (s *Sink) recordSuccess() {
	if s.cbThreshold == nil {
		return
	}
	wasHalfOpen := s.circuitState == circuitHalfOpen
	s.consecutiveFailures = 0
	if wasHalfOpen {
		s.circuitState = circuitClosed
		s.circuitOpenedAt = time.Time{}
		s.log.Info().Str("source", s.sourceService).Str("target", s.targetService).Msg("circuit closed: probe succeeded")
	}
}

// recordFailure must be called with counterMu held.
func (s *Sink) recordFailure() {
	if s.cbThreshold == nil {
		return
	}
	s.consecutiveFailures++
	if s.circuitState == circuitHalfOpen {
		s.circuitState = circuitOpen
		s.circuitOpenedAt = time.Now()
		s.log.Warn().Str("source", s.sourceService).Str("target", s.targetService).Msg("circuit re-opened: probe failed")
		return
	}
	if s.consecutiveFailures >= *s.cbThreshold {
		s.circuitState = circuitOpen
		s.circuitOpenedAt = time.Now()
		s.log.Warn().Str("source", s.sourceService).Str("target", s.targetService).Int("failures", s.consecutiveFailures).Msg("circuit open")
	}
}

func preview(output string) string {
	if len(output) > 200 {
		return output[:200]
	}
	return output
}

// Send implements sink.Base. It never panics and never blocks longer than
// the configured timeout.
func (s *Sink) Send(payload sink.Payload) {
	if !payload.Success {
		s.counterMu.Lock()
		s.filteredCount++
		s.counterMu.Unlock()

		s.logEvent(audit.StatusFiltered, payload.RunID, payload.Error, payload.TriggerMetadata[MetaTrace], preview(payload.Output))
		return
	}

	s.counterMu.Lock()
	allowed := s.checkCircuit()
	if !allowed {
		s.droppedCount++
	}
	s.counterMu.Unlock()

	if !allowed {
		s.log.Warn().Str("source", s.sourceService).Str("target", s.targetService).Msg("circuit open, message rejected")
		s.logEvent(audit.StatusCircuitOpen, payload.RunID, "circuit_breaker_open", "", preview(payload.Output))
		return
	}

	existingTrace := payload.TriggerMetadata[MetaTrace]
	var trace []string
	if existingTrace != "" {
		trace = append(strings.Split(existingTrace, ","), s.sourceService)
	} else {
		trace = []string{s.sourceService}
	}

	if len(trace) > maxDelegationDepth {
		s.counterMu.Lock()
		s.droppedCount++
		s.counterMu.Unlock()

		joined := strings.Join(trace, ",")
		s.log.Error().Str("trace", strings.Join(trace, " -> ")).Msg("delegation depth exceeded, dropping message")
		s.logEvent(audit.StatusDropped, payload.RunID, fmt.Sprintf("delegation_depth_exceeded (%d)", len(trace)), joined, preview(payload.Output))
		return
	}

	traceStr := strings.Join(trace, ",")

	originalPrompt := payload.TriggerMetadata[MetaOriginalPrompt]
	if originalPrompt == "" {
		originalPrompt = payload.Prompt
	}

	metadata := map[string]string{
		MetaTrace:          traceStr,
		MetaOriginalPrompt: originalPrompt,
		MetaSourceOutput:   payload.Output,
	}
	injectTraceContext(metadata)

	ev := Event{
		SourceService: s.sourceService,
		TargetService: s.targetService,
		Prompt:        payload.Output,
		SourceRunID:   payload.RunID,
		Metadata:      metadata,
		Timestamp:     time.Now(),
		Trace:         trace,
	}

	if !tryPush(s.targetInbox, ev, s.timeout) {
		s.counterMu.Lock()
		s.droppedCount++
		s.recordFailure()
		s.counterMu.Unlock()

		s.log.Warn().Str("source", s.sourceService).Str("target", s.targetService).Dur("timeout", s.timeout).Msg("queue full, message dropped")
		s.logEvent(audit.StatusDropped, payload.RunID, "queue_full", existingTrace, preview(payload.Output))
		return
	}

	s.counterMu.Lock()
	s.recordSuccess()
	s.counterMu.Unlock()

	s.logEvent(audit.StatusDelivered, payload.RunID, "", traceStr, preview(payload.Output))
}

func (s *Sink) logEvent(status audit.DelegateEventStatus, sourceRunID, reason, trace, payloadPreview string) {
	if s.auditLogger == nil {
		return
	}

	ev := audit.DelegateEvent{
		Timestamp:      time.Now(),
		SourceService:  s.sourceService,
		TargetService:  s.targetService,
		Status:         status,
		SourceRunID:    sourceRunID,
		Reason:         reason,
		Trace:          trace,
		PayloadPreview: payloadPreview,
	}

	s.bufferMu.Lock()
	if len(s.buffer) >= auditBufferLimit {
		s.overflowCount++
		count := s.overflowCount
		s.bufferMu.Unlock()

		if count <= 5 || count%100 == 0 {
			s.log.Warn().Int64("count", count).Str("source", s.sourceService).Str("target", s.targetService).Msg("audit buffer full")
		}
		s.Flush()
		s.bufferMu.Lock()
	}
	s.buffer = append(s.buffer, ev)
	s.bufferMu.Unlock()
}

func (s *Sink) flushLoop() {
	defer close(s.flushDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.flushStop:
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush drains buffered delegate-audit events into the audit logger.
func (s *Sink) Flush() {
	if s.auditLogger == nil {
		return
	}

	s.bufferMu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.bufferMu.Unlock()

	for _, ev := range pending {
		s.auditLogger.LogDelegateEvent(ev)
	}
}

// Close stops the flush loop (with a 5s join timeout) and drains any
// remaining buffered events. Idempotent and safe from any goroutine.
func (s *Sink) Close() {
	if s.auditLogger == nil {
		return
	}

	s.closeOnce.Do(func() { close(s.flushStop) })

	select {
	case <-s.flushDone:
	case <-time.After(5 * time.Second):
		s.log.Warn().Str("source", s.sourceService).Str("target", s.targetService).Msg("audit flush loop did not stop in time")
	}

	s.Flush()

	if overflow := s.AuditOverflowCount(); overflow > 0 {
		s.log.Warn().Int64("overflow", overflow).Str("source", s.sourceService).Str("target", s.targetService).Msg("audit buffer overflowed during lifetime")
	}
}
