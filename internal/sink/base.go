// Package sink fans a service's RunResult out to its configured
// destinations — file, webhook, a user script, or a DelegateSink routing
// into a downstream service's inbox — isolating each sink's failures from
// the others and from the caller.
package sink

import (
	"time"

	"initrunner/internal/audit"
)

// Payload is the read-only view of one agent run handed to every sink.
// It mirrors the original language's SinkPayload shape so file/webhook/
// custom sinks can serialize it without depending on audit's Record type.
type Payload struct {
	AgentName       string
	RunID           string
	Prompt          string
	Output          string
	Success         bool
	Error           string
	TokensIn        int
	TokensOut       int
	DurationMs      int64
	Model           string
	Provider        string
	TriggerType     string
	TriggerMetadata map[string]string
	Timestamp       string
}

// FromRun builds a Payload from an external executor's RunResult.
func FromRun(result audit.RunResult, agentName, model, provider, prompt, triggerType string, triggerMetadata map[string]string) Payload {
	if triggerMetadata == nil {
		triggerMetadata = map[string]string{}
	}
	return Payload{
		AgentName:       agentName,
		RunID:           result.RunID,
		Prompt:          prompt,
		Output:          result.Output,
		Success:         result.Success,
		Error:           result.Error,
		TokensIn:        result.TokensIn,
		TokensOut:       result.TokensOut,
		DurationMs:      result.DurationMs,
		Model:           model,
		Provider:        provider,
		TriggerType:     triggerType,
		TriggerMetadata: triggerMetadata,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// ToMap renders the payload as a plain map for JSON/script serialization,
// the Go analogue of the original's dataclass-to-dict conversion.
func (p Payload) ToMap() map[string]any {
	return map[string]any{
		"agent_name":       p.AgentName,
		"run_id":           p.RunID,
		"prompt":           p.Prompt,
		"output":           p.Output,
		"success":          p.Success,
		"error":            p.Error,
		"tokens_in":        p.TokensIn,
		"tokens_out":       p.TokensOut,
		"duration_ms":      p.DurationMs,
		"model":            p.Model,
		"provider":         p.Provider,
		"trigger_type":     p.TriggerType,
		"trigger_metadata": p.TriggerMetadata,
		"timestamp":        p.Timestamp,
	}
}

// Base is the interface every sink implements. Send must never panic or
// block indefinitely; the Dispatcher isolates failures per-sink regardless,
// but well-behaved sinks handle their own errors internally.
type Base interface {
	Send(Payload)
}
