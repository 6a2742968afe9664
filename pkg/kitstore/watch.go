package kitstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent names one kit version whose on-disk kit.yaml changed while
// a DevWatcher was running.
type ReloadEvent struct {
	Owner   string
	KitID   string
	Version string
}

// DevWatcher watches a Store's base path for edits to kit.yaml files and
// emits a ReloadEvent for each one. Store.GetKitConfig never caches, so
// nothing needs invalidating on the read path; DevWatcher exists purely
// so an operator running the platform against a local kit checkout sees
// an edited kit picked up on the next invocation without restarting the
// process or re-uploading the archive.
type DevWatcher struct {
	basePath string
	watcher  *fsnotify.Watcher
	events   chan ReloadEvent

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewDevWatcher builds a DevWatcher rooted at the same base path as a
// Store. It does not start watching until Start is called.
func NewDevWatcher(basePath string) (*DevWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DevWatcher{
		basePath: basePath,
		watcher:  w,
		events:   make(chan ReloadEvent, 32),
	}, nil
}

// Start begins watching every owner/kit/version directory under the
// base path and returns a channel of reload events. Calling Start twice
// is a no-op; the existing channel is returned.
func (w *DevWatcher) Start(ctx context.Context) (<-chan ReloadEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return w.events, nil
	}

	if err := w.addTree(w.basePath); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	go w.loop(runCtx)

	return w.events, nil
}

// Stop releases the underlying inotify/kqueue handles and closes the
// event channel. Safe to call once Start has returned.
func (w *DevWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.cancel()
	w.running = false
	err := w.watcher.Close()
	close(w.events)
	return err
}

func (w *DevWatcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".stage-") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("kitstore: failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *DevWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("kitstore: watch error", "error", err)
		}
	}
}

func (w *DevWatcher) handle(event fsnotify.Event) {
	if filepath.Base(event.Name) != "kit.yaml" {
		return
	}
	if !(event.Op&(fsnotify.Write|fsnotify.Create) != 0) {
		return
	}

	rel, err := filepath.Rel(w.basePath, filepath.Dir(event.Name))
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return
	}

	select {
	case w.events <- ReloadEvent{Owner: parts[0], KitID: parts[1], Version: parts[2]}:
	default:
		slog.Warn("kitstore: dropped reload event, channel full", "path", event.Name)
	}
}
