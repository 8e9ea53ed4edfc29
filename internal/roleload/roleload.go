// Package roleload provides the concrete RoleBuilder the compose CLI wires
// into composerun.Orchestrator. Real agent construction (system prompt,
// model config, tools, guardrails) is the external collaborator this spec
// treats as "consumed, not owned" — this package loads only the slice of a
// role file the orchestrator itself needs (name, sinks, triggers, memory)
// and executes prompts with a placeholder executor.
package roleload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"initrunner/internal/audit"
	"initrunner/internal/composerun"
	"initrunner/internal/sandbox"
	"initrunner/internal/sink"
	"initrunner/internal/trigger"
)

// MemoryFile is the memory block of a role YAML file.
type MemoryFile struct {
	StorePath   string `yaml:"store_path"`
	MaxMemories int    `yaml:"max_memories"`
	MaxSessions int    `yaml:"max_sessions"`
}

// FileSinkFile, WebhookSinkFile, CustomSinkFile are the sink blocks a role
// file may declare under spec.sinks.
type SinkFile struct {
	Type           string            `yaml:"type"`
	Path           string            `yaml:"path"`
	Format         string            `yaml:"format"`
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	RetryCount     int               `yaml:"retry_count"`
	ScriptPath     string            `yaml:"script_path"`
	Function       string            `yaml:"function"`
}

// TriggersFile is the triggers block of a role YAML file.
type TriggersFile struct {
	Cron      []trigger.CronConfig      `yaml:"cron"`
	FileWatch []trigger.FileWatchConfig `yaml:"file_watch"`
	Webhook   []trigger.WebhookConfig   `yaml:"webhook"`
}

// SandboxFile is the security_policy block of a role YAML file. It mirrors
// sandbox.Config field for field; a role that omits it entirely gets
// sandbox.DefaultConfig()'s conservative deny-by-default posture rather than
// an all-open one.
type SandboxFile struct {
	BlockedModules      []string `yaml:"blocked_modules"`
	AllowedWritePaths   []string `yaml:"allowed_write_paths"`
	AllowedNetworkHosts []string `yaml:"allowed_network_hosts"`
	BlockPrivateIPs     *bool    `yaml:"block_private_ips"`
	AllowSubprocess     bool     `yaml:"allow_subprocess"`
	AllowEvalExec       bool     `yaml:"allow_eval_exec"`
	ViolationAction     string   `yaml:"violation_action"`
}

func (sf *SandboxFile) toConfig() sandbox.Config {
	if sf == nil {
		return sandbox.DefaultConfig()
	}
	cfg := sandbox.Config{
		BlockedCustomModules: sf.BlockedModules,
		AllowedWritePaths:    sf.AllowedWritePaths,
		AllowedNetworkHosts:  sf.AllowedNetworkHosts,
		BlockPrivateIPs:      true,
		AllowSubprocess:      sf.AllowSubprocess,
		AllowEvalExec:        sf.AllowEvalExec,
		ViolationAction:      sandbox.ActionRaise,
	}
	if sf.BlockPrivateIPs != nil {
		cfg.BlockPrivateIPs = *sf.BlockPrivateIPs
	}
	if sf.ViolationAction == string(sandbox.ActionLog) {
		cfg.ViolationAction = sandbox.ActionLog
	}
	return cfg
}

// RoleFile is the subset of a role definition this orchestrator acts on.
type RoleFile struct {
	Name     string        `yaml:"name"`
	Memory   *MemoryFile   `yaml:"memory"`
	Sinks    []SinkFile    `yaml:"sinks"`
	Triggers *TriggersFile `yaml:"triggers"`
	Sandbox  *SandboxFile  `yaml:"security_policy"`
}

func loadRoleFile(path string) (*RoleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role file %s: %w", path, err)
	}
	var rf RoleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse role file %s: %w", path, err)
	}
	if rf.Name == "" {
		rf.Name = filepath.Base(filepath.Dir(path))
	}
	return &rf, nil
}

func buildSinks(sinks []SinkFile, roleDir string, log zerolog.Logger, sb *sandbox.State, sbCfg sandbox.Config, agentName string) []sink.Base {
	out := make([]sink.Base, 0, len(sinks))
	for _, s := range sinks {
		switch s.Type {
		case "file":
			path := s.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(roleDir, path)
			}
			out = append(out, sink.NewFileSink(path, sink.FileFormat(s.Format), log))
		case "webhook":
			timeout := s.TimeoutSeconds
			if timeout == 0 {
				timeout = 30
			}
			out = append(out, sink.NewWebhookSink(s.URL, s.Method, s.Headers, timeout, s.RetryCount, log))
		case "custom":
			scriptPath := s.ScriptPath
			if !filepath.IsAbs(scriptPath) {
				scriptPath = filepath.Join(roleDir, scriptPath)
			}
			out = append(out, sink.NewCustomSink(scriptPath, s.Function, log, sb, sbCfg, agentName))
		default:
			log.Warn().Str("type", s.Type).Msg("unknown sink type in role file, skipping")
		}
	}
	return out
}

func buildTriggerDispatcher(tf *TriggersFile, log zerolog.Logger, onEvent trigger.Callback) composerun.TriggerDispatcher {
	if tf == nil {
		return nil
	}

	var triggers []trigger.Trigger
	for _, c := range tf.Cron {
		ct, err := trigger.NewCronTrigger(c, onEvent, log)
		if err != nil {
			log.Warn().Err(err).Str("schedule", c.Schedule).Msg("invalid cron trigger, skipping")
			continue
		}
		triggers = append(triggers, ct)
	}
	for _, c := range tf.FileWatch {
		ft, err := trigger.NewFileWatchTrigger(c, onEvent, log)
		if err != nil {
			log.Warn().Err(err).Strs("paths", c.Paths).Msg("invalid file-watch trigger, skipping")
			continue
		}
		triggers = append(triggers, ft)
	}
	for _, c := range tf.Webhook {
		triggers = append(triggers, trigger.NewWebhookTrigger(c, onEvent, log))
	}

	if len(triggers) == 0 {
		return nil
	}
	return trigger.NewDispatcher(triggers...)
}

// Builder is the concrete composerun.RoleBuilder wired into the compose CLI.
type Builder struct {
	Log zerolog.Logger

	// AuditLogger receives sandbox_violation security events flushed by each
	// built role's sandbox.State. May be nil in tests that don't care about
	// the audit trail.
	AuditLogger *audit.Logger
}

// Build loads the role file at rolePath, constructs its declared sinks and
// triggers, and returns an executor that echoes prompts back as output —
// the stand-in for the real agent-execution subsystem this spec does not
// own.
func (b *Builder) Build(serviceName, rolePath string, sharedMemory *composerun.MemoryConfig) (*composerun.Role, composerun.Executor, composerun.MemoryPruner, error) {
	rf, err := loadRoleFile(rolePath)
	if err != nil {
		return nil, nil, nil, err
	}

	mem := sharedMemory
	if mem == nil && rf.Memory != nil {
		mem = &composerun.MemoryConfig{
			StorePath:   rf.Memory.StorePath,
			MaxMemories: rf.Memory.MaxMemories,
			MaxSessions: rf.Memory.MaxSessions,
		}
	}

	sbCfg := rf.Sandbox.toConfig()
	sbState := sandbox.NewState(b.AuditLogger)

	role := &composerun.Role{
		Name:   rf.Name,
		Memory: mem,
		Sinks:  buildSinks(rf.Sinks, filepath.Dir(rolePath), b.Log, sbState, sbCfg, rf.Name),
	}

	// Triggers are built lazily: the service's own callback does not exist
	// until composerun.NewService runs, so construction (and the cron/
	// fsnotify/http registration that comes with it) is deferred to
	// Service.run() via TriggerFactory rather than done here.
	triggers := rf.Triggers
	log := b.Log
	role.TriggerFactory = func(cb composerun.TriggerCallback) composerun.TriggerDispatcher {
		return buildTriggerDispatcher(triggers, log, func(ev trigger.Event) {
			cb(ev.TriggerType, ev.Prompt, ev.Metadata)
		})
	}

	var pruner composerun.MemoryPruner
	if mem != nil {
		pruner = NewSQLiteMemoryPruner(mem.StorePath, b.Log)
	}

	return role, &EchoExecutor{}, pruner, nil
}

// EchoExecutor is the placeholder external executor: it does no model
// invocation, simply echoing the prompt back as output so the rest of the
// pipeline (audit logging, sink dispatch, memory pruning) is exercisable
// end to end without a real agent backend configured.
type EchoExecutor struct{}

// Execute implements composerun.Executor.
func (e *EchoExecutor) Execute(ctx context.Context, role *composerun.Role, req composerun.ExecRequest) (audit.RunResult, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return audit.RunResult{}, ctx.Err()
	default:
	}

	return audit.RunResult{
		RunID:       uuid.NewString(),
		Output:      req.Prompt,
		Success:     true,
		TotalTokens: len(req.Prompt),
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}
