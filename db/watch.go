package db

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher reports changes to cached local files. It watches parent
// directories so files replaced by rename are still seen.
type watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	onChange func(path string)
	files    map[string]bool
	dirs     map[string]int
	doneCh   chan struct{}
}

func newWatcher(logger *zap.Logger, onChange func(path string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fsw:      fsw,
		logger:   logger,
		onChange: onChange,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// watch starts reporting changes to path, an absolute file name.
func (w *watcher) watch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[path] {
		return
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn("watch failed", zap.String("dir", dir), zap.Error(err))
			return
		}
	}
	w.dirs[dir]++
	w.files[path] = true
}

// forget stops reporting changes to path.
func (w *watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[path] {
		return
	}
	delete(w.files, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.fsw.Remove(dir); err != nil {
			w.logger.Debug("unwatch failed", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (w *watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(event.Name)
	w.mu.Lock()
	tracked := w.files[path]
	w.mu.Unlock()
	if !tracked {
		return
	}
	w.logger.Debug("source changed", zap.String("path", path), zap.String("op", event.Op.String()))
	w.onChange(path)
}

func (w *watcher) close() error {
	err := w.fsw.Close()
	<-w.doneCh
	return err
}
