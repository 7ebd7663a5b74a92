package events

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
)

// FileChangedPayload is the payload of file-changed events.
type FileChangedPayload struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// Watcher publishes file-changed events for a set of watched
// directories.
type Watcher struct {
	bus     Bus
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	log     *logger.Logger
}

// NewWatcher creates a watcher over dirs. Directories that cannot be
// watched are skipped with a warning.
func NewWatcher(bus Bus, dirs []string, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "file-watcher"))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			log.Warn("cannot watch directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		log.Info("watching directory", zap.String("dir", dir))
	}

	return &Watcher{bus: bus, watcher: fsw, log: log}, nil
}

// Start runs the publish loop until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop ends the loop and releases the OS watches.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			payload := FileChangedPayload{Path: filepath.Clean(ev.Name), Op: ev.Op.String()}
			if err := w.bus.Publish(ctx, New(KindFileChanged, "file-watcher", payload)); err != nil {
				w.log.Error("publish failed", zap.Error(err))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}
