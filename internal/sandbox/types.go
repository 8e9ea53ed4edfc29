// Package sandbox enforces filesystem, network, subprocess, import, and
// eval/compile policy around custom tool execution.
//
// Unlike the teacher's jsvm.Sandbox (which scopes a goja.Runtime's Host API
// surface for the duration of one script run), this sandbox additionally
// gates a fixed set of named events — the Go analogue of the original
// Python implementation's PEP 578 sys.addaudithook dispatcher. Go has no
// process-wide audit hook and no thread-local storage; the translation used
// here is a per-worker State value, owned exclusively by the goroutine
// running one compose service's execution loop, passed explicitly rather
// than looked up through goroutine-local magic. Cross-worker isolation is
// structural: two services never share a *State.
package sandbox

import "time"

// ViolationAction selects what happens when a check fails.
type ViolationAction string

const (
	ActionRaise ViolationAction = "raise"
	ActionLog   ViolationAction = "log"
)

// Config mirrors the original's ToolSandboxConfig security-relevant fields.
// Content-policy and resource-limit fields from the original (profanity
// filter, rate limits, ingest size caps) belong to other components and are
// not part of this package.
type Config struct {
	BlockedCustomModules []string
	AllowedWritePaths    []string
	AllowedNetworkHosts  []string
	BlockPrivateIPs      bool
	AllowSubprocess      bool
	AllowEvalExec        bool
	ViolationAction      ViolationAction
}

// DefaultConfig matches the original's ToolSandboxConfig defaults: a
// conservative deny-by-default policy with a broad blocked-module list and
// private-IP blocking on.
func DefaultConfig() Config {
	return Config{
		BlockedCustomModules: []string{
			"fs", "child_process", "net", "dgram", "dns",
			"cluster", "worker_threads", "vm", "module",
		},
		AllowedWritePaths:   nil,
		AllowedNetworkHosts: nil,
		BlockPrivateIPs:     true,
		AllowSubprocess:     false,
		AllowEvalExec:       false,
		ViolationAction:     ActionRaise,
	}
}

// alwaysBlockedModules are denied inside any sandbox scope regardless of
// Config. worker_threads and cluster are Node's concurrency escape hatches —
// the JS analogue of the original's threading/_thread, which it blocks
// unconditionally to keep every sandboxed code path observable from a
// single worker.
var alwaysBlockedModules = map[string]bool{
	"worker_threads": true,
	"cluster":        true,
}

// Violation is one recorded policy breach, timestamped at the moment the
// check failed rather than when the batch is later flushed to the audit log.
type Violation struct {
	Event  string
	Detail string
	At     time.Time
}

// ViolationError is returned (ActionRaise) or only recorded (ActionLog) when
// a checked event fails policy.
type ViolationError struct {
	Event  string
	Detail string
}

func (e *ViolationError) Error() string {
	return "[" + e.Event + "] " + e.Detail
}
