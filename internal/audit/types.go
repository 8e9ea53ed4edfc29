package audit

import "time"

// RunResult is produced by the external agent executor. The orchestrator
// treats agent invocation itself as opaque; only this result shape matters.
type RunResult struct {
	RunID       string
	Output      string
	Success     bool
	Error       string
	TokensIn    int
	TokensOut   int
	TotalTokens int
	ToolCalls   int
	DurationMs  int64
}

// Record is a persisted run audit row. Secret scrubbing is applied to
// UserPrompt, Output and Error before it reaches the store.
type Record struct {
	ID              int64
	RunID           string
	AgentName       string
	Timestamp       time.Time
	UserPrompt      string
	Model           string
	Provider        string
	Output          string
	TokensIn        int
	TokensOut       int
	TotalTokens     int
	ToolCalls       int
	DurationMs      int64
	Success         bool
	Error           string
	TriggerType     string
	TriggerMetadata string // JSON-encoded map[string]string, empty if absent
}

// SecurityEvent is a persisted row describing a policy or sandbox incident.
type SecurityEvent struct {
	ID        int64
	Timestamp time.Time
	EventType string
	AgentName string
	Details   string
	SourceIP  string
}

// DelegateEventStatus enumerates delegate routing outcomes.
type DelegateEventStatus string

const (
	StatusDelivered   DelegateEventStatus = "delivered"
	StatusDropped     DelegateEventStatus = "dropped"
	StatusFiltered    DelegateEventStatus = "filtered"
	StatusError       DelegateEventStatus = "error"
	StatusCircuitOpen DelegateEventStatus = "circuit_open"
)

// DelegateEvent is a persisted row describing one delegate-sink send outcome.
type DelegateEvent struct {
	ID             int64
	Timestamp      time.Time
	SourceService  string
	TargetService  string
	Status         DelegateEventStatus
	SourceRunID    string
	Reason         string
	Trace          string // comma-joined service chain
	PayloadPreview string // <=200 chars, scrubbed
}

// QueryFilter narrows a Query call. Zero-value fields are omitted from the
// WHERE clause.
type QueryFilter struct {
	AgentName   string
	RunID       string
	TriggerType string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// DelegateQueryFilter narrows a QueryDelegateEvents call.
type DelegateQueryFilter struct {
	SourceService string
	TargetService string
	Status        DelegateEventStatus
	SourceRunID   string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// SecurityQueryFilter narrows a QuerySecurityEvents call.
type SecurityQueryFilter struct {
	EventType string
	AgentName string
	Limit     int
}
