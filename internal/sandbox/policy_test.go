package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withScope(t *testing.T, cfg Config) *State {
	t.Helper()
	s := NewState(nil)
	end := s.Enter(cfg, "agent")
	t.Cleanup(end)
	return s
}

func TestCheckOpenAllowsReadsAlways(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionRaise})
	require.NoError(t, s.CheckOpen("/etc/passwd", "r"))
}

func TestCheckOpenDeniesWriteWithEmptyAllowlist(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionRaise})
	err := s.CheckOpen("/tmp/out.txt", "w")
	require.Error(t, err)
}

func TestCheckOpenAllowsWriteWithinAllowedPath(t *testing.T) {
	dir := t.TempDir()
	s := withScope(t, Config{AllowedWritePaths: []string{dir}, ViolationAction: ActionRaise})
	require.NoError(t, s.CheckOpen(dir+"/out.txt", "w"))
}

func TestCheckOpenDeniesWriteOutsideAllowedPath(t *testing.T) {
	dir := t.TempDir()
	s := withScope(t, Config{AllowedWritePaths: []string{dir}, ViolationAction: ActionRaise})
	require.Error(t, s.CheckOpen("/etc/passwd", "w"))
}

func TestCheckSubprocessDeniedByDefault(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionRaise})
	require.Error(t, s.CheckSubprocess("spawn"))
}

func TestCheckSubprocessAllowedWhenConfigured(t *testing.T) {
	s := withScope(t, Config{AllowSubprocess: true, ViolationAction: ActionRaise})
	require.NoError(t, s.CheckSubprocess("spawn"))
}

func TestCheckNetworkConnectBlocksPrivateIP(t *testing.T) {
	s := withScope(t, Config{BlockPrivateIPs: true, ViolationAction: ActionRaise})
	require.Error(t, s.CheckNetworkConnect("10.0.0.5"))
	require.Error(t, s.CheckNetworkConnect("127.0.0.1"))
	require.Error(t, s.CheckNetworkConnect("169.254.1.1"))
	require.Error(t, s.CheckNetworkConnect("fc00::1"))
}

func TestCheckNetworkConnectAllowsPublicIP(t *testing.T) {
	s := withScope(t, Config{BlockPrivateIPs: true, ViolationAction: ActionRaise})
	require.NoError(t, s.CheckNetworkConnect("8.8.8.8"))
}

func TestCheckNetworkConnectIgnoresHostnames(t *testing.T) {
	s := withScope(t, Config{BlockPrivateIPs: true, ViolationAction: ActionRaise})
	require.NoError(t, s.CheckNetworkConnect("example.com"))
}

func TestCheckDNSEnforcesAllowlist(t *testing.T) {
	s := withScope(t, Config{AllowedNetworkHosts: []string{"api.example.com"}, ViolationAction: ActionRaise})
	require.NoError(t, s.CheckDNS("api.example.com"))
	require.Error(t, s.CheckDNS("evil.example.com"))
}

func TestCheckImportAlwaysBlocksRegardlessOfConfig(t *testing.T) {
	s := withScope(t, Config{BlockedCustomModules: nil, ViolationAction: ActionRaise})
	require.Error(t, s.CheckImport("worker_threads"))
	require.Error(t, s.CheckImport("cluster"))
}

func TestCheckImportBlocksConfiguredModules(t *testing.T) {
	s := withScope(t, Config{BlockedCustomModules: []string{"fs"}, ViolationAction: ActionRaise})
	require.Error(t, s.CheckImport("fs"))
	require.NoError(t, s.CheckImport("path"))
}

func TestCheckEvalDeniedByDefault(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionRaise})
	require.Error(t, s.CheckEval("eval", true))
}

func TestCheckEvalIgnoresInternalCompilation(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionRaise})
	require.NoError(t, s.CheckEval("compile", false))
}

func TestCheckNativeLoadAlwaysDenied(t *testing.T) {
	s := withScope(t, Config{AllowSubprocess: true, AllowEvalExec: true, ViolationAction: ActionRaise})
	require.Error(t, s.CheckNativeLoad("libfoo.so"))
}

func TestLogModeRecordsInsteadOfRaising(t *testing.T) {
	s := withScope(t, Config{ViolationAction: ActionLog})
	require.NoError(t, s.CheckSubprocess("spawn"))
	require.Len(t, s.violations, 1)
}
