// Package registry is the engine façade: it wires the document store, cache,
// composer, lazy loader, hot reloader, and memory monitor into a single
// template registry with a category index.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/promptforge/promptforge/internal/cache"
	"github.com/promptforge/promptforge/internal/compose"
	"github.com/promptforge/promptforge/internal/config"
	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/loader"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/memory"
	"github.com/promptforge/promptforge/internal/store"
	"github.com/promptforge/promptforge/internal/substitute"
	"github.com/promptforge/promptforge/internal/types"
	"github.com/promptforge/promptforge/internal/validate"
	"github.com/promptforge/promptforge/internal/watcher"
)

// Registry manages templates by key with lazy loading, bounded caching,
// inheritance composition, and optional hot reload and memory monitoring.
type Registry struct {
	cfg       *config.Config
	logger    logging.Logger
	collector *errors.Collector
	validator *validate.Validator
	cache     *cache.BoundedCache
	composer  *compose.Resolver
	loader    *loader.Loader
	engine    *substitute.Engine
	reloader  *watcher.HotReloader
	monitor   *memory.Monitor

	mutex      sync.RWMutex
	templates  map[string]*types.Template
	byCategory map[types.Category]map[string]struct{}
}

// New creates a fully wired registry from configuration. Call Initialize to
// index the template directories before the first Get.
func New(cfg *config.Config, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}

	r := &Registry{
		cfg:        cfg,
		logger:     logger.WithComponent("registry"),
		collector:  errors.NewCollector(0),
		validator:  validate.New(),
		engine:     substitute.New(),
		templates:  make(map[string]*types.Template),
		byCategory: make(map[types.Category]map[string]struct{}),
	}

	docs := store.NewFSStore()
	r.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes, logger)
	r.composer = compose.New(compose.SourceFunc(r.lookupSource), r.validator, logger)
	r.loader = loader.New(docs, r.validator, r.composer, r.cache, r.collector, logger)
	r.loader.OnLoad(r.adopt)

	r.reloader = watcher.New(docs, r.validator, r.cache, r.collector, logger, cfg.Debounce())
	r.reloader.OnChange(r.handleReload)

	r.monitor = memory.NewMonitor(cfg.MemoryThresholds(), cfg.MemoryInterval(), logger)
	r.monitor.OnCleanup(r.shedMemory)

	return r
}

// Initialize indexes the configured template directories and preloads the
// most frequently used templates when configured. Directory problems are
// recorded, not fatal.
func (r *Registry) Initialize(ctx context.Context) {
	r.loader.Initialize(ctx, r.cfg.Templates.Dirs)
	if n := r.cfg.Templates.PreloadFrequent; n > 0 {
		loaded := r.loader.PreloadFrequent(ctx, n)
		r.logger.Info(ctx, "preloaded frequent templates", "count", loaded)
	}
}

// lookupSource resolves parent and mixin ids during composition. Registered
// templates win; otherwise the raw on-disk document is used so composition
// never re-enters the load path.
func (r *Registry) lookupSource(id string) (*types.Template, bool) {
	r.mutex.RLock()
	tmpl, ok := r.templates[id]
	r.mutex.RUnlock()
	if ok {
		return tmpl, true
	}
	return r.loader.ReadRaw(id)
}

// adopt records a loaded template in the registry maps.
func (r *Registry) adopt(tmpl *types.Template) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.insertLocked(tmpl)
}

func (r *Registry) insertLocked(tmpl *types.Template) {
	if prev, ok := r.templates[tmpl.ID]; ok && prev.Category != tmpl.Category {
		r.removeCategoryLocked(prev.Category, tmpl.ID)
	}
	r.templates[tmpl.ID] = tmpl
	if r.byCategory[tmpl.Category] == nil {
		r.byCategory[tmpl.Category] = make(map[string]struct{})
	}
	r.byCategory[tmpl.Category][tmpl.ID] = struct{}{}
}

func (r *Registry) removeCategoryLocked(cat types.Category, id string) {
	if ids, ok := r.byCategory[cat]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byCategory, cat)
		}
	}
}

// Register validates and registers a template directly, bypassing the
// document store. Re-registering an id replaces it and invalidates every
// composition that depends on it.
func (r *Registry) Register(tmpl *types.Template) error {
	if tmpl == nil {
		return errors.NewValidationError("", "cannot register a nil template")
	}
	if result := r.validator.Validate(tmpl); !result.Valid() {
		return result.Err()
	}

	r.mutex.Lock()
	r.insertLocked(tmpl)
	r.mutex.Unlock()

	r.cache.Set(tmpl.ID, tmpl)
	r.dropDependents(tmpl.ID)
	r.logger.Info(context.Background(), "template registered",
		"id", tmpl.ID, "category", string(tmpl.Category))
	return nil
}

// Unregister removes a template by id. It reports whether anything was
// removed.
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	tmpl, ok := r.templates[id]
	if ok {
		delete(r.templates, id)
		r.removeCategoryLocked(tmpl.Category, id)
	}
	r.mutex.Unlock()

	removed := r.cache.Delete(id) || ok
	r.dropDependents(id)
	r.loader.Invalidate(id)
	return removed
}

// dropDependents invalidates every memoized composition that depends on id
// and evicts those stale results from the cache and registry maps so the
// next Get re-composes them.
func (r *Registry) dropDependents(id string) {
	for _, dep := range r.composer.Invalidate(id) {
		if dep == id {
			continue
		}
		r.cache.Delete(dep)
		r.mutex.Lock()
		if tmpl, ok := r.templates[dep]; ok {
			delete(r.templates, dep)
			r.removeCategoryLocked(tmpl.Category, dep)
		}
		r.mutex.Unlock()
	}
}

// Get returns the template for key, loading lazily when needed. Unknown
// keys produce a not-found error enumerating every available key.
func (r *Registry) Get(ctx context.Context, key string) (*types.Template, error) {
	r.mutex.RLock()
	tmpl, ok := r.templates[key]
	r.mutex.RUnlock()
	if ok {
		if cached, hit := r.cache.Get(key); hit {
			return cached, nil
		}
		return tmpl, nil
	}

	if r.loader.Known(key) {
		return r.loader.Get(ctx, key)
	}
	return nil, errors.NewNotFoundError(key, r.Keys())
}

// GetSync returns the template only when it is already resident, cached or
// registered. It never triggers a lazy load; use Get for that.
func (r *Registry) GetSync(key string) (*types.Template, bool) {
	if tmpl, ok := r.cache.Get(key); ok {
		return tmpl, true
	}
	r.mutex.RLock()
	tmpl, ok := r.templates[key]
	r.mutex.RUnlock()
	return tmpl, ok
}

// GetByCategory returns the loaded templates in a category, sorted by id.
// Templates still unloaded do not appear; use Preload first for a complete
// view.
func (r *Registry) GetByCategory(cat types.Category) []*types.Template {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.byCategory[cat]))
	for id := range r.byCategory[cat] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]*types.Template, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.templates[id])
	}
	return result
}

// Keys returns every known template key, registered or merely indexed,
// sorted and de-duplicated.
func (r *Registry) Keys() []string {
	seen := make(map[string]struct{})
	r.mutex.RLock()
	for id := range r.templates {
		seen[id] = struct{}{}
	}
	r.mutex.RUnlock()
	for _, key := range r.loader.Keys() {
		seen[key] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Categories returns the categories with at least one loaded template.
func (r *Registry) Categories() []types.Category {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cats := make([]types.Category, 0, len(r.byCategory))
	for cat := range r.byCategory {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// Preload eagerly loads the given keys, or every indexed key when keys is
// empty. It returns how many loaded successfully; failures are recorded.
func (r *Registry) Preload(ctx context.Context, keys []string) int {
	if len(keys) == 0 {
		keys = r.loader.Keys()
	}
	return r.loader.Preload(ctx, keys)
}

// Render substitutes variables into the named template.
func (r *Registry) Render(ctx context.Context, key string, vars map[string]any) (*substitute.Result, error) {
	tmpl, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.engine.Substitute(tmpl, vars)
}

// EnableHotReload starts watching the configured template directories.
func (r *Registry) EnableHotReload() error {
	return r.reloader.Enable(r.cfg.Templates.Dirs)
}

// DisableHotReload stops watching. No reload callback fires after it
// returns.
func (r *Registry) DisableHotReload() {
	r.reloader.Disable()
}

// handleReload folds watcher events back into the registry: changed
// templates are composed when they declare inheritance, re-registered, and
// their dependent compositions dropped; deleted templates are removed
// everywhere.
func (r *Registry) handleReload(event watcher.Event) {
	switch event.Type {
	case watcher.EventDeleted:
		r.mutex.Lock()
		if tmpl, ok := r.templates[event.Key]; ok {
			delete(r.templates, event.Key)
			r.removeCategoryLocked(tmpl.Category, event.Key)
		}
		r.mutex.Unlock()
		r.dropDependents(event.Key)
		r.loader.Invalidate(event.Key)
	default:
		if event.Template == nil {
			return
		}
		// Invalidate first: compositions memoized against the old document,
		// including the reloaded template's own, must not be reused.
		r.dropDependents(event.Template.ID)
		tmpl := event.Template
		if !tmpl.Inheritance.Empty() {
			composed, err := r.composer.Compose(tmpl, nil)
			if err != nil {
				// The watcher never caches a raw inheriting document, so
				// lookups keep returning the previous composed version.
				r.collector.Record(err)
				r.logger.Warn(context.Background(), err,
					"reloaded template failed composition; keeping previous version", "key", event.Key)
				r.loader.Track(event.Path, event.ModTime)
				return
			}
			tmpl = composed.Template
			r.cache.Set(event.Key, tmpl)
		}
		r.adopt(tmpl)
		r.loader.Track(event.Path, event.ModTime)
	}
}

// StartMemoryMonitor begins heap sampling with the configured thresholds.
func (r *Registry) StartMemoryMonitor(ctx context.Context) error {
	return r.monitor.Start(ctx)
}

// shedMemory reacts to memory pressure: the cache is squeezed to its
// optimization targets, and at critical pressure the composition memo is
// dropped entirely.
func (r *Registry) shedMemory(pressure memory.Pressure) {
	r.cache.Optimize()
	if pressure >= memory.PressureCritical {
		r.composer.ClearMemo()
	}
}

// Close shuts down background machinery: hot reload and memory sampling.
func (r *Registry) Close() {
	if r.reloader.Enabled() {
		r.reloader.Disable()
	}
	r.monitor.Stop()
}

// Stats is a point-in-time summary of registry state.
type Stats struct {
	Templates       int                    `json:"templates"`
	Indexed         int                    `json:"indexed"`
	Categories      int                    `json:"categories"`
	CountByCategory map[types.Category]int `json:"count_by_category,omitempty"`
	Compositions    int                    `json:"compositions"`
	Cache           cache.Stats            `json:"cache"`
	Memory          memory.Stats           `json:"memory"`
	Errors          map[string]int         `json:"errors,omitempty"`
}

// Stats returns a snapshot of counts across the wired components.
func (r *Registry) Stats() Stats {
	r.mutex.RLock()
	registered := len(r.templates)
	categories := len(r.byCategory)
	byCategory := make(map[types.Category]int, len(r.byCategory))
	for cat, ids := range r.byCategory {
		byCategory[cat] = len(ids)
	}
	r.mutex.RUnlock()

	errCounts := make(map[string]int)
	for _, kind := range []errors.Kind{
		errors.KindDocumentParse, errors.KindValidation, errors.KindComposition,
		errors.KindSubstitution, errors.KindNotFound, errors.KindConfig,
	} {
		if n := r.collector.CountByKind(kind); n > 0 {
			errCounts[string(kind)] = n
		}
	}

	return Stats{
		Templates:       registered,
		Indexed:         len(r.loader.Keys()),
		Categories:      categories,
		CountByCategory: byCategory,
		Compositions:    r.composer.MemoSize(),
		Cache:           r.cache.Stats(),
		Memory:          r.monitor.Stats(),
		Errors:          errCounts,
	}
}

// PerformanceStats focuses on the hot paths: cache behavior and heap
// pressure.
type PerformanceStats struct {
	CacheHitRate float64      `json:"cache_hit_rate"`
	CacheEntries int          `json:"cache_entries"`
	CacheBytes   int64        `json:"cache_bytes"`
	FrequentKeys []string     `json:"frequent_keys,omitempty"`
	HeapMB       float64      `json:"heap_mb"`
	MemoryTrend  memory.Trend `json:"memory_trend"`
}

// PerformanceStats returns cache and memory hot-path numbers.
func (r *Registry) PerformanceStats() PerformanceStats {
	cacheStats := r.cache.Stats()
	memStats := r.monitor.Stats()
	return PerformanceStats{
		CacheHitRate: cacheStats.HitRate(),
		CacheEntries: cacheStats.Entries,
		CacheBytes:   cacheStats.Bytes,
		FrequentKeys: r.cache.FrequentKeys(5),
		HeapMB:       memStats.HeapMB,
		MemoryTrend:  memStats.Trend,
	}
}

// Advisories surfaces aggregated error guidance, such as repeated parse
// failures pointing at a misconfigured template directory.
func (r *Registry) Advisories() map[errors.Kind]string {
	return r.collector.Advisories()
}
