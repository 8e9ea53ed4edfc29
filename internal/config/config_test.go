package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
	require.Equal(t, 90, cfg.Audit.RetentionDays)
	require.Equal(t, 100_000, cfg.Audit.MaxRecords)
	require.Equal(t, 1000, cfg.Audit.AutoPruneInterval)
	require.Equal(t, time.Second, cfg.Audit.FlushInterval)
	require.NotEmpty(t, cfg.Audit.DBPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "log:\n  level: debug\naudit:\n  retention_days: 30\n  db_path: " + filepath.Join(dir, "audit.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 30, cfg.Audit.RetentionDays)
	require.Equal(t, filepath.Join(dir, "audit.db"), cfg.Audit.DBPath)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
}
