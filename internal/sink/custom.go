package sink

import (
	"os"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"initrunner/internal/sandbox"
)

// CustomSink runs a user-provided JavaScript function against the payload.
// It is the Go analogue of dynamically importing a user Python module and
// calling a named function — here the "module" is a script file and goja
// is the runtime that loads and calls it.
//
// This is the one place in the repository that executes untrusted,
// caller-supplied script source, so every invocation runs inside the
// sandbox's scope: a static import scan before the script is ever
// evaluated, and the evaluation itself gated behind CheckEval the same way
// a user-level eval/compile call would be.
type CustomSink struct {
	scriptPath string
	function   string
	log        zerolog.Logger

	sandboxState *sandbox.State
	sandboxCfg   sandbox.Config
	agentName    string
}

// NewCustomSink creates a sink that evaluates scriptPath and calls function
// with the payload map on every send. sb is the per-role sandbox state the
// role's other custom tool invocations share; cfg is the policy enforced
// around this script's evaluation and agentName identifies the role in
// flushed security events.
func NewCustomSink(scriptPath, function string, log zerolog.Logger, sb *sandbox.State, cfg sandbox.Config, agentName string) *CustomSink {
	return &CustomSink{
		scriptPath:   scriptPath,
		function:     function,
		log:          log,
		sandboxState: sb,
		sandboxCfg:   cfg,
		agentName:    agentName,
	}
}

// Send loads the script fresh on every call (the script is expected to be
// small and side-effect-free to load) and invokes function(payload).
// Failures — a missing file, a script error, a missing export, a sandbox
// violation — are logged and swallowed.
func (c *CustomSink) Send(payload Payload) {
	src, err := os.ReadFile(c.scriptPath)
	if err != nil {
		c.log.Error().Err(err).Str("script", c.scriptPath).Msg("failed to read custom sink script")
		return
	}

	violations, err := sandbox.ScanSource(c.scriptPath, string(src), c.sandboxCfg)
	if err != nil {
		c.log.Error().Err(err).Str("script", c.scriptPath).Msg("failed to statically scan custom sink script")
		return
	}
	if len(violations) > 0 {
		for _, v := range violations {
			c.log.Error().Str("script", c.scriptPath).Str("module", v.Module).Str("detail", v.Detail).
				Msg("custom sink script blocked by static sandbox scan")
		}
		return
	}

	end := c.sandboxState.Enter(c.sandboxCfg, c.agentName)
	defer end()

	// Evaluating the script body is itself a user-level eval of untrusted
	// source, so it is gated the same way a script-invoked eval()/compile()
	// call would be.
	if err := c.sandboxState.CheckEval("eval", true); err != nil {
		c.log.Error().Err(err).Str("script", c.scriptPath).Msg("custom sink script evaluation blocked by sandbox")
		return
	}

	vm := goja.New()
	if _, err := vm.RunString(string(src)); err != nil {
		c.log.Error().Err(err).Str("script", c.scriptPath).Msg("failed to evaluate custom sink script")
		return
	}

	fn, ok := goja.AssertFunction(vm.Get(c.function))
	if !ok {
		c.log.Error().Str("script", c.scriptPath).Str("function", c.function).Msg("custom sink function not found")
		return
	}

	if _, err := fn(goja.Undefined(), vm.ToValue(payload.ToMap())); err != nil {
		c.log.Error().Err(err).Str("script", c.scriptPath).Str("function", c.function).Msg("custom sink function raised")
	}
}
