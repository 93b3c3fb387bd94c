package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/hooop/vex/internal/source"
)

// SourceWatcher invalidates internal/source.Cache entries when the C
// files backing an in-flight analysis change underneath it, grounded on
// the teacher's FSNotifyWatcher (internal/runtime/vfs/watch_fsnotify.go):
// a background goroutine draining fsnotify's Events/Errors channels into
// the cache's own invalidation call rather than a generic event bus.
type SourceWatcher struct {
	w     *fsnotify.Watcher
	cache *source.Cache
	done  chan struct{}
}

// NewSourceWatcher starts watching the given source files for
// modification; cache.Invalidate is called with the changed path so the
// next FunctionViewAt re-reads from disk.
func NewSourceWatcher(cache *source.Cache, paths []string) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
	}
	sw := &SourceWatcher{w: w, cache: cache, done: make(chan struct{})}
	go sw.loop()
	return sw, nil
}

func (sw *SourceWatcher) loop() {
	for {
		select {
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				sw.cache.Invalidate(ev.Name)
			}
		case _, ok := <-sw.w.Errors:
			if !ok {
				return
			}
		case <-sw.done:
			return
		}
	}
}

// Close stops the watcher and releases its underlying fsnotify handle.
func (sw *SourceWatcher) Close() error {
	close(sw.done)
	return sw.w.Close()
}
