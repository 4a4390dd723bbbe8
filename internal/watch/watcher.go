// Package watch monitors capture directories and aligns every new frame against a
// fixed reference.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// alignedMarker tags files written by the aligner so they are never re-queued.
const alignedMarker = ".aligned"

// Watcher reports image files once they have stopped changing.
type Watcher struct {
	watcher *fsnotify.Watcher
	dirs    []string
	exts    map[string]bool
	settle  time.Duration
	ignore  map[string]bool
	log     logr.Logger
}

// New creates a watcher over dirs. exts filters by file extension (case-insensitive);
// settle is how long a file must be quiet before it is reported.
func New(dirs, exts []string, settle time.Duration, log logr.Logger) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, errors.New("no directories to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher: fsw,
		dirs:    dirs,
		exts:    make(map[string]bool, len(exts)),
		settle:  settle,
		ignore:  make(map[string]bool),
		log:     log,
	}
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.exts[strings.ToLower(ext)] = true
	}
	return w, nil
}

// Ignore excludes a path from reporting, e.g. the reference frame itself.
func (w *Watcher) Ignore(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w.ignore[path] = true
}

func (w *Watcher) wanted(path string) bool {
	if abs, err := filepath.Abs(path); err == nil && w.ignore[abs] {
		return false
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if strings.HasSuffix(strings.TrimSuffix(base, ext), alignedMarker) {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(ext)]
}

// Run watches until ctx is cancelled, calling handle for each settled file in path
// order. handle runs on the watch goroutine, so files are processed one at a time.
func (w *Watcher) Run(ctx context.Context, handle func(ctx context.Context, path string)) error {
	defer w.watcher.Close()

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}

	tick := w.settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if w.wanted(event.Name) {
					pending[event.Name] = time.Now()
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "filesystem watcher error")

		case now := <-ticker.C:
			var ready []string
			for path, last := range pending {
				if now.Sub(last) >= w.settle {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(pending, path)
				if ctx.Err() != nil {
					return nil
				}
				handle(ctx, path)
			}
		}
	}
}
