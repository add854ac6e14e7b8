// Package loader discovers candidate template files without reading them
// and materializes a template on first request. Loads are de-duplicated per
// key: any number of concurrent callers for the same cold key share one
// document-store read, success or failure.
package loader

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/promptforge/promptforge/internal/cache"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/store"
	"github.com/promptforge/promptforge/internal/types"
	"github.com/promptforge/promptforge/internal/validate"
)

// preloadConcurrency bounds how many keys a preload materializes at once.
const preloadConcurrency = 8

// lazyEntry is discovery metadata for a template that may not be loaded yet.
type lazyEntry struct {
	path    string
	modTime time.Time
	loaded  bool
}

// Loader materializes templates on demand.
type Loader struct {
	store     store.DocumentStore
	validator *validate.Validator
	composer  *compose.Resolver
	cache     *cache.BoundedCache
	collector *errors.Collector
	logger    logging.Logger

	mutex sync.RWMutex
	index map[string]*lazyEntry
	group singleflight.Group

	// onLoad receives every successfully loaded template so the registry
	// can adopt it. Set once at wiring time, before any Get.
	onLoad func(*types.Template)
}

// New creates a lazy loader.
func New(
	docs store.DocumentStore,
	validator *validate.Validator,
	composer *compose.Resolver,
	templateCache *cache.BoundedCache,
	collector *errors.Collector,
	logger logging.Logger,
) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	if collector == nil {
		collector = errors.NewCollector(0)
	}
	return &Loader{
		store:     docs,
		validator: validator,
		composer:  composer,
		cache:     templateCache,
		collector: collector,
		logger:    logger.WithComponent("loader"),
		index:     make(map[string]*lazyEntry),
	}
}

// OnLoad registers the sink for successfully loaded templates.
func (l *Loader) OnLoad(fn func(*types.Template)) {
	l.onLoad = fn
}

// Initialize scans each directory (non-recursively) for candidate
// documents, indexing them without loading content. A missing directory is
// recorded and skipped; it never aborts the remaining directories.
func (l *Loader) Initialize(ctx context.Context, dirs []string) {
	for _, dir := range dirs {
		paths, err := l.store.List(dir)
		if err != nil {
			l.collector.Record(err)
			l.logger.Warn(ctx, err, "skipping template directory", "dir", dir)
			continue
		}
		l.mutex.Lock()
		for _, path := range paths {
			key := store.KeyForPath(path)
			if _, exists := l.index[key]; exists {
				l.logger.Warn(ctx, nil, "duplicate template key; keeping first discovery",
					"key", key, "path", path)
				continue
			}
			entry := &lazyEntry{path: path}
			if mod, err := l.store.Stat(path); err == nil {
				entry.modTime = mod
			}
			l.index[key] = entry
		}
		l.mutex.Unlock()
		l.logger.Info(ctx, "indexed template directory", "dir", dir, "files", len(paths))
	}
}

// Get returns the template for key, loading it on first request. Cache hits
// short-circuit; cold keys funnel through a single in-flight load.
func (l *Loader) Get(ctx context.Context, key string) (*types.Template, error) {
	if tmpl, ok := l.cache.Get(key); ok {
		return tmpl, nil
	}

	l.mutex.RLock()
	entry, known := l.index[key]
	l.mutex.RUnlock()
	if !known {
		return nil, errors.NewNotFoundError(key, l.Keys())
	}

	result, err, _ := l.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent loader may have
		// populated the cache while this caller queued.
		if tmpl, ok := l.cache.Get(key); ok {
			return tmpl, nil
		}
		return l.load(ctx, key, entry)
	})
	if err != nil {
		l.collector.Record(err)
		return nil, err
	}
	return result.(*types.Template), nil
}

// ReadRaw returns the uncomposed document for key, read straight from disk
// without caching, composition, or flight de-duplication. It backs parent and
// mixin lookups during composition, which must never re-enter Get.
func (l *Loader) ReadRaw(key string) (*types.Template, bool) {
	l.mutex.RLock()
	entry, ok := l.index[key]
	l.mutex.RUnlock()
	if !ok {
		return nil, false
	}
	tmpl, err := l.store.Read(entry.path)
	if err != nil {
		l.collector.Record(err)
		return nil, false
	}
	return tmpl, true
}

// load reads, validates, and (when declared) composes one template.
// Caller-side single-flight guarantees only one load runs per key.
func (l *Loader) load(ctx context.Context, key string, entry *lazyEntry) (*types.Template, error) {
	tmpl, err := l.store.Read(entry.path)
	if err != nil {
		return nil, err
	}

	if result := l.validator.Validate(tmpl); !result.Valid() {
		return nil, result.Err()
	}

	final := tmpl
	if !tmpl.Inheritance.Empty() && l.composer != nil {
		composed, err := l.composer.Compose(tmpl, nil)
		if err != nil {
			return nil, err
		}
		final = composed.Template
		if !composed.Complete {
			l.logger.Warn(ctx, nil, "template composed with warnings",
				"key", key, "warnings", composed.Warnings)
		}
	}

	l.cache.Set(key, final)
	l.mutex.Lock()
	entry.loaded = true
	if mod, statErr := l.store.Stat(entry.path); statErr == nil {
		entry.modTime = mod
	}
	l.mutex.Unlock()

	if l.onLoad != nil {
		l.onLoad(final)
	}
	l.logger.Debug(ctx, "template loaded", "key", key, "path", entry.path)
	return final, nil
}

// Preload materializes the given keys concurrently, best-effort: one
// failure never aborts the others. It returns the number successfully
// loaded.
func (l *Loader) Preload(ctx context.Context, keys []string) int {
	var loaded int64
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if _, err := l.Get(ctx, key); err != nil {
				l.logger.Warn(ctx, err, "preload failed", "key", key)
				return nil // best-effort: swallow, already recorded
			}
			mu.Lock()
			loaded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return int(loaded)
}

// PreloadFrequent materializes the templates the cache ranks as most
// frequently used. Useful after a restart or a cache flush under memory
// pressure.
func (l *Loader) PreloadFrequent(ctx context.Context, n int) int {
	return l.Preload(ctx, l.cache.FrequentKeys(n))
}

// Refresh compares the backing file's modification time with the last one
// observed; when newer, it invalidates the cache entry and reloads. The
// returned bool reports whether a reload happened.
func (l *Loader) Refresh(ctx context.Context, key string) (bool, error) {
	l.mutex.RLock()
	entry, known := l.index[key]
	l.mutex.RUnlock()
	if !known {
		return false, errors.NewNotFoundError(key, l.Keys())
	}

	mod, err := l.store.Stat(entry.path)
	if err != nil {
		return false, err
	}
	l.mutex.RLock()
	fresh := !mod.After(entry.modTime)
	l.mutex.RUnlock()
	if fresh {
		return false, nil
	}

	l.cache.Delete(key)
	if l.composer != nil {
		l.composer.Invalidate(key)
	}
	if _, err := l.Get(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops a key from the index, for deleted files.
func (l *Loader) Invalidate(key string) {
	l.mutex.Lock()
	delete(l.index, key)
	l.mutex.Unlock()
}

// Track adds or updates an index entry for a discovered file, used by the
// hot reloader when files appear after the initial scan.
func (l *Loader) Track(path string, modTime time.Time) {
	key := store.KeyForPath(path)
	l.mutex.Lock()
	l.index[key] = &lazyEntry{path: path, modTime: modTime}
	l.mutex.Unlock()
}

// Known reports whether key is in the lazy index.
func (l *Loader) Known(key string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, ok := l.index[key]
	return ok
}

// Keys returns all indexed keys, sorted.
func (l *Loader) Keys() []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	keys := make([]string, 0, len(l.index))
	for key := range l.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
