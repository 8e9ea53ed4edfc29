// Package trigger aggregates a role's declared triggers — cron schedules,
// file-watch rules, and webhook bindings — and invokes a single callback on
// each fired event.
package trigger

// Event is what one fired trigger hands to the owning service.
type Event struct {
	TriggerType string
	Prompt      string
	Metadata    map[string]string
}

// Callback is invoked once per fired trigger event.
type Callback func(ev Event)

// Trigger is one external collaborator (cron/file-watch/webhook) that
// starts and stops independently.
type Trigger interface {
	Start() error
	Stop()
}

// Dispatcher aggregates a role's triggers and starts/stops them together.
type Dispatcher struct {
	triggers []Trigger
}

// NewDispatcher builds a dispatcher over the given triggers.
func NewDispatcher(triggers ...Trigger) *Dispatcher {
	return &Dispatcher{triggers: triggers}
}

// StartAll starts every trigger. A trigger that fails to start is skipped;
// callers that need strict all-or-nothing semantics should check errors
// from individual Trigger.Start calls before handing them to NewDispatcher.
func (d *Dispatcher) StartAll() {
	for _, t := range d.triggers {
		_ = t.Start()
	}
}

// StopAll stops every trigger.
func (d *Dispatcher) StopAll() {
	for _, t := range d.triggers {
		t.Stop()
	}
}
