package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
)

// TuningWatcher reloads the tuning file when it changes on disk and hands the
// validated result to a callback. Edits are debounced because editors and
// config management tools tend to emit several events per save (write, chmod,
// rename-and-replace).
type TuningWatcher struct {
	path     string
	onChange func(*TuningConfig)
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	dirty bool
}

// NewTuningWatcher prepares a watcher for the tuning file at path. onChange
// receives every successfully loaded and validated config; invalid or
// unreadable updates are logged and skipped, leaving the previous config in
// force.
func NewTuningWatcher(path string, onChange func(*TuningConfig)) (*TuningWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &TuningWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		watcher:  fsw,
	}, nil
}

// Start begins watching. It watches the parent directory rather than the file
// itself so rename-and-replace saves keep working.
func (w *TuningWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.loop(ctx)
	monitoring.Logf("config: watching %s for tuning changes", w.path)
	return nil
}

// Stop closes the underlying watcher.
func (w *TuningWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *TuningWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.dirty = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			monitoring.Logf("config: watcher error: %v", err)

		case <-ticker.C:
			w.mu.Lock()
			pending := w.dirty
			w.dirty = false
			w.mu.Unlock()
			if !pending {
				continue
			}

			cfg, err := LoadTuningConfig(w.path)
			if err != nil {
				monitoring.Logf("config: ignoring tuning update: %v", err)
				continue
			}
			monitoring.Logf("config: tuning file reloaded")
			w.onChange(cfg)
		}
	}
}
