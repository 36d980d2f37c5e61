package localstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/portal/internal/events"
)

// Watcher publishes changes made to a Store by other contexts. Writes made
// through the watched Store itself are not published.
type Watcher struct {
	store  *Store
	bus    *events.Bus[events.StorageEvent]
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the store directory. Events are published on bus
// from the watcher goroutine. Call Close to stop.
func (s *Store) Watch(bus *events.Bus[events.StorageEvent], logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.snapshot(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	w := &Watcher{
		store:  s,
		bus:    bus,
		logger: logger,
		fsw:    fsw,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("storage watch error", "dir", w.store.dir, "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	key := filepath.Base(ev.Name)
	if isTempName(key) || !keyPattern.MatchString(key) {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	value, ok, err := w.store.Get(key)
	if err != nil {
		w.logger.Warn("storage read failed", "key", key, "err", err)
		return
	}
	if !ok {
		value = nil
	}
	if !w.store.observe(key, value) {
		return
	}

	w.logger.Debug("storage changed", "key", key, "removed", !ok)
	w.bus.Publish(events.StorageEvent{Key: key, NewValue: value, Removed: !ok})
}
