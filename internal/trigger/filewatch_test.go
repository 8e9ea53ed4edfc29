package trigger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFileWatchTriggerFiresOnWriteAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(target, []byte("initial"), 0o644))

	fired := make(chan Event, 4)
	cfg := FileWatchConfig{
		Paths:           []string{dir},
		DebounceSeconds: 0.05,
		PromptTemplate:  "changed: {path}",
	}
	trig, err := NewFileWatchTrigger(cfg, func(ev Event) { fired <- ev }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, trig.Start())
	defer trig.Stop()

	require.NoError(t, os.WriteFile(target, []byte("updated"), 0o644))

	select {
	case ev := <-fired:
		require.Equal(t, "file-watch", ev.TriggerType)
		require.Contains(t, ev.Prompt, target)
		require.Equal(t, target, ev.Metadata["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("file watch trigger did not fire in time")
	}
}

func TestFileWatchTriggerFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	ignored := filepath.Join(dir, "note.log")
	require.NoError(t, os.WriteFile(ignored, []byte("x"), 0o644))

	cfg := FileWatchConfig{
		Paths:           []string{dir},
		Extensions:      []string{".txt"},
		DebounceSeconds: 0.05,
	}
	fired := make(chan Event, 4)
	trig, err := NewFileWatchTrigger(cfg, func(ev Event) { fired <- ev }, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, trig.Start())
	defer trig.Stop()

	require.NoError(t, os.WriteFile(ignored, []byte("y"), 0o644))

	select {
	case ev := <-fired:
		t.Fatalf("unexpected fire for filtered extension: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}
