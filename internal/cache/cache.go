// Package cache provides the bounded in-memory template cache: a map with
// per-entry size accounting, a dual ceiling (entry count and byte budget),
// and frequency-boosted-recency eviction. Plain LRU would repeatedly evict
// templates that are reused infrequently but reliably; the boost keeps them
// resident without letting stale-but-once-hot entries pin the cache.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/types"
)

// Eviction scoring. Score units are seconds: the entry's last access time
// plus a capped frequency bonus, so frequency can buy at most
// scoreBoostCap*scoreBoost seconds of extra residency. Lowest score evicts
// first.
const (
	scoreBoost    = 60  // seconds of residency per access
	scoreBoostCap = 120 // accesses that still count toward the bonus
)

// Optimize targets and the near-limit trigger, as fractions of the ceilings.
const (
	optimizeEntryFraction = 0.8
	optimizeByteFraction  = 0.7
	nearLimitFraction     = 0.8
)

type entry struct {
	template     *types.Template
	size         int64
	lastAccessed time.Time
	accessCount  int64
}

func (e *entry) score() int64 {
	boost := e.accessCount
	if boost > scoreBoostCap {
		boost = scoreBoostCap
	}
	return e.lastAccessed.Unix() + boost*scoreBoost
}

// Stats is a point-in-time snapshot of cache health.
type Stats struct {
	Entries      int
	Bytes        int64
	MaxEntries   int
	MaxBytes     int64
	Hits         int64
	Misses       int64
	Sets         int64
	Evictions    int64
	OversizeSets int64
}

// HitRate returns hits/(hits+misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// BoundedCache is the engine's template cache.
type BoundedCache struct {
	mutex       sync.Mutex
	entries     map[string]*entry
	currentSize int64
	maxEntries  int
	maxBytes    int64
	logger      logging.Logger

	hits         int64
	misses       int64
	sets         int64
	evictions    int64
	oversizeSets int64
}

// New creates a bounded cache. Non-positive ceilings fall back to defaults.
func New(maxEntries int, maxBytes int64, logger logging.Logger) *BoundedCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &BoundedCache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		logger:     logger.WithComponent("cache"),
	}
}

// Get returns the cached template for key, updating access bookkeeping on a
// hit.
func (c *BoundedCache) Get(key string) (*types.Template, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	e.lastAccessed = time.Now()
	e.accessCount++
	atomic.AddInt64(&c.hits, 1)
	return e.template, true
}

// Set inserts or replaces the template under key, evicting lower-scoring
// entries until both ceilings have headroom. A single entry larger than the
// whole byte budget is admitted anyway and counted as an oversize set;
// eviction never fails.
func (c *BoundedCache) Set(key string, tmpl *types.Template) {
	size := estimateSize(tmpl)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// A replacement is a removal plus an insert so a grown entry passes
	// through the same eviction as a new one; its access count carries over.
	var accessCount int64
	if existing, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.currentSize -= existing.size
		accessCount = existing.accessCount
	}

	if size > c.maxBytes {
		atomic.AddInt64(&c.oversizeSets, 1)
		c.logger.Warn(context.Background(), nil, "template exceeds the entire cache byte budget",
			"key", key, "size", size, "max_bytes", c.maxBytes)
	}

	c.evictUntil(c.maxEntries-1, c.maxBytes-size)

	c.entries[key] = &entry{
		template:     tmpl,
		size:         size,
		lastAccessed: time.Now(),
		accessCount:  accessCount,
	}
	c.currentSize += size
	atomic.AddInt64(&c.sets, 1)
}

// Delete removes key, reporting whether it was present.
func (c *BoundedCache) Delete(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	c.currentSize -= e.size
	return true
}

// Clear drops every entry. Counters are kept; they describe lifetime
// behavior, not current contents.
func (c *BoundedCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries = make(map[string]*entry)
	c.currentSize = 0
}

// Optimize proactively evicts down to 80% of the entry ceiling and 70% of
// the byte budget when the cache is full or near its memory limit. It is
// the cleanup callback the memory monitor invokes under pressure.
func (c *BoundedCache) Optimize() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	nearLimit := float64(c.currentSize) >= float64(c.maxBytes)*nearLimitFraction
	if len(c.entries) < c.maxEntries && !nearLimit {
		return
	}

	targetEntries := int(float64(c.maxEntries) * optimizeEntryFraction)
	targetBytes := int64(float64(c.maxBytes) * optimizeByteFraction)
	evicted := c.evictUntil(targetEntries, targetBytes)
	if evicted > 0 {
		c.logger.Debug(context.Background(), "cache optimized",
			"evicted", evicted, "entries", len(c.entries), "bytes", c.currentSize)
	}
}

// evictUntil removes lowest-scoring entries until count and byte headroom
// are satisfied. Caller holds the mutex. Returns the number evicted.
func (c *BoundedCache) evictUntil(maxEntries int, maxBytes int64) int {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	evicted := 0
	for len(c.entries) > 0 && (len(c.entries) > maxEntries || c.currentSize > maxBytes) {
		victim := ""
		var victimScore int64
		for key, e := range c.entries {
			s := e.score()
			if victim == "" || s < victimScore {
				victim, victimScore = key, s
			}
		}
		c.currentSize -= c.entries[victim].size
		delete(c.entries, victim)
		evicted++
		atomic.AddInt64(&c.evictions, 1)
	}
	return evicted
}

// Keys returns all cached keys, sorted.
func (c *BoundedCache) Keys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// FrequentKeys returns up to n keys ordered by descending access count.
// The lazy loader uses this to decide what to preload.
func (c *BoundedCache) FrequentKeys(n int) []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	type kc struct {
		key   string
		count int64
	}
	all := make([]kc, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, kc{key, e.accessCount})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].key < all[j].key
	})
	if n > len(all) {
		n = len(all)
	}
	keys := make([]string, 0, n)
	for _, item := range all[:n] {
		keys = append(keys, item.key)
	}
	return keys
}

// Stats returns a snapshot of cache health counters.
func (c *BoundedCache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{
		Entries:      len(c.entries),
		Bytes:        c.currentSize,
		MaxEntries:   c.maxEntries,
		MaxBytes:     c.maxBytes,
		Hits:         atomic.LoadInt64(&c.hits),
		Misses:       atomic.LoadInt64(&c.misses),
		Sets:         atomic.LoadInt64(&c.sets),
		Evictions:    atomic.LoadInt64(&c.evictions),
		OversizeSets: atomic.LoadInt64(&c.oversizeSets),
	}
}

// estimateSize approximates an entry's memory footprint by its serialized
// length.
func estimateSize(tmpl *types.Template) int64 {
	data, err := json.Marshal(tmpl)
	if err != nil {
		// Marshal of our own model cannot realistically fail; fall back to
		// a conservative fixed estimate if it ever does.
		return 1024
	}
	return int64(len(data))
}
