package sink

import (
	"fmt"

	"github.com/rs/zerolog"

	"initrunner/internal/audit"
)

// Dispatcher holds every sink configured for one service and fans a run's
// result out to all of them, catching and logging failures per-sink so one
// broken sink never blocks its siblings.
type Dispatcher struct {
	sinks           []Base
	agentName       string
	model, provider string
	log             zerolog.Logger
}

// NewDispatcher creates a dispatcher for one service's static configuration.
func NewDispatcher(agentName, model, provider string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{agentName: agentName, model: model, provider: provider, log: log}
}

// AddSink registers a sink, whether built from static config or — in the
// DelegateSink case — wired in by the orchestrator after the graph is known.
func (d *Dispatcher) AddSink(s Base) {
	d.sinks = append(d.sinks, s)
}

// Count reports how many sinks are registered.
func (d *Dispatcher) Count() int {
	return len(d.sinks)
}

// Dispatch builds a Payload from result and sends it to every registered
// sink. A panicking or slow sink is isolated: its failure is logged and the
// remaining sinks still run.
func (d *Dispatcher) Dispatch(result audit.RunResult, prompt, triggerType string, triggerMetadata map[string]string) {
	payload := FromRun(result, d.agentName, d.model, d.provider, prompt, triggerType, triggerMetadata)

	for _, s := range d.sinks {
		d.sendIsolated(s, payload)
	}
}

func (d *Dispatcher) sendIsolated(s Base, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("sink", fmt.Sprintf("%T", s)).
				Interface("panic", r).
				Msg("sink panicked")
		}
	}()
	s.Send(payload)
}
