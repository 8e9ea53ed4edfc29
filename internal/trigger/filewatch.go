package trigger

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileWatchConfig describes a set of paths whose writes/creates should
// trigger a prompt, rendered from PromptTemplate with {path} substituted.
type FileWatchConfig struct {
	Paths           []string `yaml:"paths"`
	Extensions      []string `yaml:"extensions"` // empty means match every extension
	DebounceSeconds float64  `yaml:"debounce_seconds"`
	PromptTemplate  string   `yaml:"prompt_template"`
}

// FileWatchTrigger watches a set of paths and fires a debounced event per
// changed file.
type FileWatchTrigger struct {
	cfg FileWatchConfig
	cb  Callback
	log zerolog.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu       sync.Mutex
	debounce map[string]*time.Timer
}

// NewFileWatchTrigger builds a trigger over cfg's paths. fsnotify.Add is
// called per path at Start time.
func NewFileWatchTrigger(cfg FileWatchConfig, cb Callback, log zerolog.Logger) (*FileWatchTrigger, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileWatchTrigger{
		cfg:      cfg,
		cb:       cb,
		log:      log,
		watcher:  w,
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
	}, nil
}

func (t *FileWatchTrigger) matches(path string) bool {
	if len(t.cfg.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range t.cfg.Extensions {
		if ext == want || strings.TrimPrefix(want, ".") == strings.TrimPrefix(ext, ".") {
			return true
		}
	}
	return false
}

// Start adds every configured path to the watcher and begins the event
// loop.
func (t *FileWatchTrigger) Start() error {
	for _, p := range t.cfg.Paths {
		if err := t.watcher.Add(p); err != nil {
			t.log.Warn().Err(err).Str("path", p).Msg("failed to watch path")
		}
	}
	go t.run()
	return nil
}

func (t *FileWatchTrigger) run() {
	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 || !t.matches(ev.Name) {
				continue
			}
			t.debounceFire(ev.Name)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Error().Err(err).Msg("file watch error")
		}
	}
}

func (t *FileWatchTrigger) debounceFire(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.debounce[path]; ok {
		timer.Stop()
	}

	delay := time.Duration(t.cfg.DebounceSeconds * float64(time.Second))
	t.debounce[path] = time.AfterFunc(delay, func() {
		prompt := strings.ReplaceAll(t.cfg.PromptTemplate, "{path}", path)
		t.cb(Event{TriggerType: "file-watch", Prompt: prompt, Metadata: map[string]string{"path": path}})

		t.mu.Lock()
		delete(t.debounce, path)
		t.mu.Unlock()
	})
}

// Stop stops the watch loop, cancels pending debounce timers, and closes
// the underlying fsnotify watcher.
func (t *FileWatchTrigger) Stop() {
	close(t.stopCh)

	t.mu.Lock()
	for _, timer := range t.debounce {
		timer.Stop()
	}
	t.mu.Unlock()

	_ = t.watcher.Close()
}
