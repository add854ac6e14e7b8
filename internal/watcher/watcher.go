// Package watcher keeps the template cache fresh: it watches configured
// directories for file changes, debounces bursts per file path (editors
// often write a file several times per save), and pushes reloaded documents
// into the cache, notifying subscribers of every processed change.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/promptforge/promptforge/internal/cache"
	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/store"
	"github.com/promptforge/promptforge/internal/types"
	"github.com/promptforge/promptforge/internal/validate"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// processed.
const DefaultDebounce = 500 * time.Millisecond

// EventType classifies a processed file change.
type EventType int

const (
	EventAdded EventType = iota
	EventModified
	EventDeleted
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	switch e {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a processed, debounced template change.
type Event struct {
	Type     EventType
	Key      string
	Path     string
	ModTime  time.Time
	Template *types.Template // nil for deletions
}

// Callback receives processed events. A panicking callback is isolated and
// logged; it never prevents other callbacks from running.
type Callback func(Event)

// HotReloader watches template directories and reloads changed documents.
type HotReloader struct {
	docs      store.DocumentStore
	validator *validate.Validator
	cache     *cache.BoundedCache
	collector *errors.Collector
	logger    logging.Logger
	debounce  time.Duration

	mutex     sync.Mutex
	enabled   bool
	watcher   *fsnotify.Watcher
	timers    map[string]*time.Timer
	seen      map[string]bool // paths known to exist, for added/modified split
	callbacks []Callback
	wg        sync.WaitGroup
}

// New creates a hot reloader. A non-positive debounce falls back to the
// default.
func New(
	docs store.DocumentStore,
	validator *validate.Validator,
	templateCache *cache.BoundedCache,
	collector *errors.Collector,
	logger logging.Logger,
	debounce time.Duration,
) *HotReloader {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if collector == nil {
		collector = errors.NewCollector(0)
	}
	return &HotReloader{
		docs:      docs,
		validator: validator,
		cache:     templateCache,
		collector: collector,
		logger:    logger.WithComponent("watcher"),
		debounce:  debounce,
		timers:    make(map[string]*time.Timer),
		seen:      make(map[string]bool),
	}
}

// OnChange registers a change callback. Register before Enable.
func (h *HotReloader) OnChange(cb Callback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.callbacks = append(h.callbacks, cb)
}

// Enable starts watching the given directories. A directory that cannot be
// watched is reported and skipped; the remaining directories are still
// watched. Calling Enable while enabled is an error.
func (h *HotReloader) Enable(dirs []string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.enabled {
		return errors.NewConfigError(errors.CodeDirectoryInvalid, "hot reload already enabled")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewInternalError("creating filesystem watcher", err)
	}

	watching := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			wrapped := errors.NewConfigError(errors.CodeDirectoryInvalid, "cannot watch directory "+dir)
			h.collector.Record(wrapped)
			h.logger.Warn(context.Background(), err, "skipping watch directory", "dir", dir)
			continue
		}
		watching++
		// Seed existence knowledge so the first change to a pre-existing
		// file classifies as modified, not added.
		if paths, err := h.docs.List(dir); err == nil {
			for _, path := range paths {
				h.seen[path] = true
			}
		}
	}

	h.watcher = fsw
	h.enabled = true
	h.wg.Add(1)
	go h.loop(fsw)

	h.logger.Info(context.Background(), "hot reload enabled",
		"directories", watching, "debounce", h.debounce.String())
	return nil
}

// Disable synchronously stops all watchers and cancels every pending
// debounce timer. No reload fires after Disable returns.
func (h *HotReloader) Disable() {
	h.mutex.Lock()
	if !h.enabled {
		h.mutex.Unlock()
		return
	}
	h.enabled = false
	for path, timer := range h.timers {
		if timer.Stop() {
			// The timer never fired; release its slot in the wait group.
			h.wg.Done()
		}
		delete(h.timers, path)
	}
	watcher := h.watcher
	h.watcher = nil
	h.mutex.Unlock()

	_ = watcher.Close()
	// Join the event loop and any in-flight processing before returning.
	h.wg.Wait()

	h.logger.Info(context.Background(), "hot reload disabled")
}

// Enabled reports whether the reloader is active.
func (h *HotReloader) Enabled() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.enabled
}

func (h *HotReloader) loop(fsw *fsnotify.Watcher) {
	defer h.wg.Done()
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !store.IsDocument(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			h.arm(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			h.logger.Warn(context.Background(), err, "filesystem watcher error")
		}
	}
}

// arm (re)starts the debounce timer for a path. Every new raw event for the
// same path pushes processing out by the full debounce window.
func (h *HotReloader) arm(path string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.enabled {
		return
	}
	if timer, ok := h.timers[path]; ok && timer.Stop() {
		h.wg.Done()
	}
	h.wg.Add(1)
	h.timers[path] = time.AfterFunc(h.debounce, func() {
		defer h.wg.Done()
		h.process(path)
	})
}

// process classifies and applies one debounced change. Existence is checked
// now, not at event time: the file may have appeared and vanished within
// the debounce window.
func (h *HotReloader) process(path string) {
	h.mutex.Lock()
	if !h.enabled {
		h.mutex.Unlock()
		return
	}
	delete(h.timers, path)
	existedBefore := h.seen[path]
	h.mutex.Unlock()

	ctx := context.Background()
	key := store.KeyForPath(path)

	modTime, statErr := h.docs.Stat(path)
	if statErr != nil {
		// Gone: best-effort removal of the matching cache entry.
		h.mutex.Lock()
		delete(h.seen, path)
		h.mutex.Unlock()
		h.cache.Delete(key)
		h.logger.Info(ctx, "template file deleted", "key", key, "path", path)
		h.notify(Event{Type: EventDeleted, Key: key, Path: path})
		return
	}

	tmpl, err := h.docs.Read(path)
	if err != nil {
		h.collector.Record(err)
		h.logger.Warn(ctx, err, "reload failed; keeping previous version", "key", key)
		return
	}
	if result := h.validator.Validate(tmpl); !result.Valid() {
		h.collector.Record(result.Err())
		h.logger.Warn(ctx, result.Err(), "reloaded template failed validation; keeping previous version", "key", key)
		return
	}

	// Documents declaring inheritance are not cached raw; a change callback
	// with access to the composition resolver caches the composed result.
	if tmpl.Inheritance.Empty() {
		h.cache.Set(key, tmpl)
	}

	eventType := EventModified
	if !existedBefore {
		eventType = EventAdded
	}
	h.mutex.Lock()
	h.seen[path] = true
	h.mutex.Unlock()

	h.logger.Info(ctx, "template reloaded",
		"key", key, "event", eventType.String(), "path", path)
	h.notify(Event{
		Type:     eventType,
		Key:      key,
		Path:     path,
		ModTime:  modTime,
		Template: tmpl,
	})
}

// notify fans an event out to all callbacks, isolating panics.
func (h *HotReloader) notify(event Event) {
	h.mutex.Lock()
	callbacks := append([]Callback(nil), h.callbacks...)
	h.mutex.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error(context.Background(), nil, "change callback panicked",
						"key", event.Key, "panic", r)
				}
			}()
			cb(event)
		}()
	}
}
