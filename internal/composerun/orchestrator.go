package composerun

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"initrunner/internal/audit"
	"initrunner/internal/compose"
	"initrunner/internal/delegate"
)

// RoleBuilder loads a role by path and constructs everything a Service needs
// to run it: the role itself, its executor, and (if applicable) a memory
// pruner. It is the orchestrator's one external collaborator boundary —
// agent loading and construction are out of this package's scope.
type RoleBuilder interface {
	Build(serviceName, rolePath string, sharedMemory *MemoryConfig) (*Role, Executor, MemoryPruner, error)
}

// Orchestrator builds, wires, starts, and stops every service in a compose
// definition.
type Orchestrator struct {
	def         *compose.ComposeDefinition
	composeName string
	builder     RoleBuilder
	auditLogger *audit.Logger
	log         zerolog.Logger

	services       map[string]*Service
	failedServices map[string]string
	delegateSinks  []*delegate.Sink
	health         *HealthMonitor
}

// NewOrchestrator constructs an orchestrator for one compose definition.
// base_dir resolution of role paths is the RoleBuilder's responsibility.
func NewOrchestrator(def *compose.ComposeDefinition, builder RoleBuilder, auditLogger *audit.Logger, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		def:            def,
		composeName:    def.Metadata.Name,
		builder:        builder,
		auditLogger:    auditLogger,
		log:            log,
		services:       make(map[string]*Service),
		failedServices: make(map[string]string),
	}
}

// Services returns a snapshot of the built services keyed by name.
func (o *Orchestrator) Services() map[string]*Service {
	out := make(map[string]*Service, len(o.services))
	for k, v := range o.services {
		out[k] = v
	}
	return out
}

// FailedServices returns the build-failure reason for each service that
// could not be constructed.
func (o *Orchestrator) FailedServices() map[string]string {
	out := make(map[string]string, len(o.failedServices))
	for k, v := range o.failedServices {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) sharedMemoryConfig() *MemoryConfig {
	sm := o.def.Spec.SharedMemory
	if !sm.Enabled {
		return nil
	}
	path := sm.StorePath
	if path == "" {
		path = fmt.Sprintf("%s-shared.db", o.composeName)
	}
	maxMem := sm.MaxMemories
	if maxMem == 0 {
		maxMem = 1000
	}
	return &MemoryConfig{StorePath: path, MaxMemories: maxMem}
}

func (o *Orchestrator) buildServices() error {
	shared := o.sharedMemoryConfig()

	for name, rawCfg := range o.def.Spec.Services {
		cfg := compose.DefaultedServiceConfig(rawCfg)

		role, executor, memPruner, err := o.builder.Build(name, cfg.Role, shared)
		if err != nil {
			o.failedServices[name] = fmt.Sprintf("%T: %v", err, err)
			o.log.Error().Err(err).Str("service", name).Msg("failed to build service")
			continue
		}

		queueSize := 100
		if cfg.Sink != nil {
			queueSize = cfg.Sink.QueueSize
		}
		inbox := delegate.NewInbox(queueSize)

		svc := NewService(name, role, executor, cfg, inbox, o.auditLogger, memPruner, o.log)

		shouldBuildRoleSinks := cfg.Sink == nil || cfg.Sink.KeepExistingSinks
		if shouldBuildRoleSinks {
			for _, s := range role.Sinks {
				svc.AddSink(s)
			}
		}

		o.services[name] = svc
	}

	if len(o.services) == 0 {
		names := make([]string, 0, len(o.failedServices))
		for name := range o.failedServices {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("all services failed to build: %v", names)
	}
	return nil
}

func (o *Orchestrator) wireDelegates() {
	for name, rawCfg := range o.def.Spec.Services {
		cfg := compose.DefaultedServiceConfig(rawCfg)
		if cfg.Sink == nil {
			continue
		}
		source, ok := o.services[name]
		if !ok {
			continue
		}

		for _, targetName := range cfg.Sink.Target {
			target, ok := o.services[targetName]
			if !ok {
				o.log.Warn().Str("source", name).Str("target", targetName).Msg("skipping delegate: target service not available")
				continue
			}

			var opts []delegate.Option
			if cfg.Sink.CircuitBreakerThreshold != nil {
				opts = append(opts, delegate.WithCircuitBreaker(*cfg.Sink.CircuitBreakerThreshold, cfg.Sink.CircuitBreakerResetSeconds))
			}

			d := delegate.New(name, targetName, target.Inbox(), cfg.Sink.TimeoutSeconds, o.auditLogger, o.log, opts...)
			source.AddSink(d)
			o.delegateSinks = append(o.delegateSinks, d)
		}
	}
}

// topologicalTiers returns services grouped into dependency tiers, derived
// from each surviving service's depends_on list filtered to other survivors.
func (o *Orchestrator) topologicalTiers() ([][]string, error) {
	nodes := make(map[string]bool, len(o.services))
	for name := range o.services {
		nodes[name] = true
	}

	prereqs := make(map[string][]string, len(nodes))
	for name := range nodes {
		cfg := o.def.Spec.Services[name]
		for _, dep := range cfg.DependsOn {
			if nodes[dep] {
				prereqs[name] = append(prereqs[name], dep)
			}
		}
	}

	return compose.TopologicalTiers(nodes, prereqs)
}

// Start builds every service, wires delegate edges, starts the health
// monitor if any service needs restart supervision, then starts services in
// dependency-tier order.
func (o *Orchestrator) Start() error {
	if err := o.buildServices(); err != nil {
		return err
	}
	o.wireDelegates()

	hasRestarts := false
	for _, svc := range o.services {
		if svc.Config().Restart.Condition != compose.RestartNone {
			hasRestarts = true
			break
		}
	}
	if hasRestarts {
		o.health = NewHealthMonitor(o.services, o.log)
		o.health.Start()
	}

	tiers, err := o.topologicalTiers()
	if err != nil {
		return fmt.Errorf("compute start order: %w", err)
	}
	for _, tier := range tiers {
		for _, name := range tier {
			o.services[name].Start()
		}
	}
	return nil
}

// Stop stops the health monitor, stops services in reverse dependency-tier
// order, then flushes every delegate sink's buffered audit events.
func (o *Orchestrator) Stop() {
	if o.health != nil {
		o.health.Stop()
	}

	tiers, err := o.topologicalTiers()
	if err != nil {
		o.log.Error().Err(err).Msg("failed to compute stop order, stopping services in arbitrary order")
		for _, svc := range o.services {
			svc.Stop()
		}
	} else {
		for i := len(tiers) - 1; i >= 0; i-- {
			for _, name := range tiers[i] {
				o.services[name].Stop()
			}
		}
	}

	for _, d := range o.delegateSinks {
		d.Close()
	}
}

// DelegateHealthInfo summarizes one delegate edge's routing health for the
// shutdown report.
type DelegateHealthInfo struct {
	Source              string
	Target              string
	DroppedCount        int64
	FilteredCount       int64
	CircuitState        string
	ConsecutiveFailures int
}

// DelegateHealth reports per-edge routing health across every delegate sink.
func (o *Orchestrator) DelegateHealth() []DelegateHealthInfo {
	out := make([]DelegateHealthInfo, 0, len(o.delegateSinks))
	for _, d := range o.delegateSinks {
		out = append(out, DelegateHealthInfo{
			Source:              d.Source(),
			Target:              d.Target(),
			DroppedCount:        d.DroppedCount(),
			FilteredCount:       d.FilteredCount(),
			CircuitState:        d.CircuitState(),
			ConsecutiveFailures: d.ConsecutiveFailures(),
		})
	}
	return out
}
