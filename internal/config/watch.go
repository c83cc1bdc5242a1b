package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a WorkspaceConfig whenever its backing file changes on
// disk, debounced to coalesce the editor's typical write-then-rename burst.
type Watcher struct {
	cfg     *WorkspaceConfig
	fsw     *fsnotify.Watcher
	done    chan struct{}
	onError func(error)
}

// NewWatcher starts watching cfg's source file. Call Stop to release the
// underlying inotify/kqueue handle.
func NewWatcher(cfg *WorkspaceConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.path); err != nil {
		// The file may not exist yet; watch its parent directory instead.
		if derr := fsw.Add(filepath.Dir(cfg.path)); derr != nil {
			_ = fsw.Close()
			return nil, derr
		}
	}

	w := &Watcher{cfg: cfg, fsw: fsw, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	reload := func() {
		fresh, err := LoadWorkspaceConfig(w.cfg.path)
		if err != nil {
			if w.onError != nil {
				w.onError(err)
			} else {
				slog.Warn("workspace config reload failed", "path", w.cfg.path, "error", err)
			}
			return
		}
		w.cfg.ReplaceFrom(fresh)
		slog.Info("workspace config reloaded", "path", w.cfg.path)
	}

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(150*time.Millisecond, reload)
		case <-w.fsw.Errors:
			continue
		case <-w.done:
			return
		}
	}
}

// Stop releases the watcher's filesystem handle.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsw.Close()
}
