// Package watcher reloads the engine's data files when they change on disk.
//
// Editors and sync tools replace files with write-then-rename, which arrives
// as a burst of Create/Write/Rename events. Events are debounced so one save
// produces one reload. Watching is gated on the auto_reload_config setting;
// manual reload through the control plane always works regardless.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 500 * time.Millisecond

// Reloader is the reload entry point, satisfied by the shared store.
type Reloader interface {
	ReloadFromDisk() error
}

// Enabled reports whether watching should currently run, read per event so a
// config update toggles the gate without restarting the watcher.
type Enabled func() bool

// Watcher debounces file-change events into reloads.
type Watcher struct {
	paths       []string
	reloader    Reloader
	enabled     Enabled
	localWrites func() uint64
}

// New creates a watcher over the given files. localWrites, when non-nil,
// reports how many times this process has written the watched files; changes
// whose debounce window saw the counter advance are this process saving its
// own state and do not trigger a reload. Pass nil to reload on every change.
func New(reloader Reloader, enabled Enabled, localWrites func() uint64, paths ...string) *Watcher {
	return &Watcher{paths: paths, reloader: reloader, enabled: enabled, localWrites: localWrites}
}

// Run watches until ctx is cancelled. The parent directories are watched
// rather than the files themselves so rename-replace saves keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	watched := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return err
		}
	}
	slog.Info("file watcher started", "paths", w.paths)

	var lastWrites uint64
	if w.localWrites != nil {
		lastWrites = w.localWrites()
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := watched[abs]; !ok {
				continue
			}
			if w.enabled != nil && !w.enabled() {
				continue
			}
			slog.Debug("file change detected", "path", ev.Name, "op", ev.Op)
			pending = time.After(debounceWindow)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "error", err)
		case <-pending:
			pending = nil
			if w.localWrites != nil {
				if g := w.localWrites(); g != lastWrites {
					lastWrites = g
					slog.Debug("change was a local save, skipping reload")
					continue
				}
			}
			if err := w.reloader.ReloadFromDisk(); err != nil {
				slog.Error("auto-reload failed", "error", err)
				continue
			}
			slog.Info("auto-reload applied")
		}
	}
}
