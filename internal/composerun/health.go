package composerun

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"initrunner/internal/compose"
)

// defaultCheckInterval matches the reference interval between liveness
// sweeps.
const defaultCheckInterval = 10 * time.Second

// HealthMonitor periodically checks each service's liveness and restarts it
// according to its configured restart policy.
type HealthMonitor struct {
	services map[string]*Service
	interval time.Duration
	log      zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu            sync.Mutex
	restartCounts map[string]int
}

// NewHealthMonitor builds a monitor over the given services using the
// default 10s check interval.
func NewHealthMonitor(services map[string]*Service, log zerolog.Logger) *HealthMonitor {
	counts := make(map[string]int, len(services))
	for name := range services {
		counts[name] = 0
	}
	return &HealthMonitor{
		services:      services,
		interval:      defaultCheckInterval,
		log:           log,
		restartCounts: counts,
	}
}

// RestartCounts returns a snapshot of per-service restart attempts so far.
func (h *HealthMonitor) RestartCounts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.restartCounts))
	for k, v := range h.restartCounts {
		out[k] = v
	}
	return out
}

// interruptibleWait blocks until d elapses or stopCh closes, reporting
// whether a stop was observed.
func interruptibleWait(stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-stopCh:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return true
	case <-timer.C:
		return false
	}
}

func (h *HealthMonitor) checkAndRestart() {
	for name, svc := range h.services {
		select {
		case <-h.stopCh:
			return
		default:
		}

		if svc.IsAlive() {
			continue
		}

		policy := svc.Config().Restart
		if policy.Condition == compose.RestartNone {
			continue
		}
		if policy.Condition == compose.RestartOnFailure && svc.ErrorCount() == 0 {
			continue
		}

		h.mu.Lock()
		if h.restartCounts[name] >= policy.MaxRetries {
			h.mu.Unlock()
			h.log.Error().Str("service", name).Int("max_retries", policy.MaxRetries).Msg("service exceeded max restarts, not restarting")
			continue
		}
		h.restartCounts[name]++
		attempt := h.restartCounts[name]
		h.mu.Unlock()

		h.log.Warn().Str("service", name).Int("attempt", attempt).Int("max_retries", policy.MaxRetries).Msg("restarting service")

		delay := time.Duration(policy.DelaySeconds) * time.Second
		if interruptibleWait(h.stopCh, delay) {
			return
		}

		svc.Start()
	}
}

func (h *HealthMonitor) run() {
	defer close(h.doneCh)
	for {
		if interruptibleWait(h.stopCh, h.interval) {
			return
		}
		select {
		case <-h.stopCh:
			return
		default:
		}
		h.checkAndRestart()
	}
}

// Start launches the monitor's background loop.
func (h *HealthMonitor) Start() {
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.run()
}

// Stop signals the loop to exit and waits up to 5s for it to finish.
func (h *HealthMonitor) Stop() {
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	select {
	case <-h.doneCh:
	case <-time.After(5 * time.Second):
		h.log.Warn().Msg("health monitor did not stop within 5s")
	}
}
