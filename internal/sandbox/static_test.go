package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanSourceFlagsBlockedRequire(t *testing.T) {
	src := `
		var fs = require("fs");
		function run() { return fs.readFileSync("/etc/passwd"); }
	`
	violations, err := ScanSource("tool.js", src, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "fs", violations[0].Module)
}

func TestScanSourceAllowsUnblockedRequire(t *testing.T) {
	src := `var u = require("lodash");`
	violations, err := ScanSource("tool.js", src, DefaultConfig())
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestScanSourceAlwaysFlagsWorkerThreadsRegardlessOfConfig(t *testing.T) {
	src := `require("worker_threads");`
	cfg := Config{BlockedCustomModules: nil}
	violations, err := ScanSource("tool.js", src, cfg)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "worker_threads", violations[0].Module)
}

func TestScanSourceRejectsInvalidSyntax(t *testing.T) {
	_, err := ScanSource("tool.js", "function (", DefaultConfig())
	require.Error(t, err)
}
