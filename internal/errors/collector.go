package errors

import (
	"fmt"
	"sync"
	"time"
)

// Collector aggregates recoverable failures from discovery and reload paths
// so one bad file never aborts a scan. It also watches for the same kind of
// failure recurring and surfaces an advisory once a threshold is crossed.
type Collector struct {
	mutex     sync.RWMutex
	errors    []error
	kindCount map[Kind]int
	threshold int
	advisory  map[Kind]string
}

// DefaultAdvisoryThreshold is the per-kind error count at which the
// collector starts emitting advisories.
const DefaultAdvisoryThreshold = 5

// NewCollector creates a collector with the given advisory threshold.
// A threshold of zero or less falls back to the default.
func NewCollector(threshold int) *Collector {
	if threshold <= 0 {
		threshold = DefaultAdvisoryThreshold
	}
	return &Collector{
		kindCount: make(map[Kind]int),
		threshold: threshold,
		advisory:  make(map[Kind]string),
	}
}

// Record adds an error to the collector. Nil errors are ignored.
func (c *Collector) Record(err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.errors = append(c.errors, err)
	kind := KindOf(err)
	c.kindCount[kind]++
	if c.kindCount[kind] == c.threshold {
		c.advisory[kind] = advisoryFor(kind, c.threshold)
	}
}

// Errors returns a copy of all recorded errors.
func (c *Collector) Errors() []error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}

// CountByKind returns how many errors of the given kind were recorded.
func (c *Collector) CountByKind(kind Kind) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.kindCount[kind]
}

// Advisories returns the advisories triggered so far, keyed by kind.
func (c *Collector) Advisories() map[Kind]string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make(map[Kind]string, len(c.advisory))
	for k, v := range c.advisory {
		out[k] = v
	}
	return out
}

// HasErrors reports whether anything was recorded.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors) > 0
}

// Clear drops all recorded errors and advisories.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errors = c.errors[:0]
	c.kindCount = make(map[Kind]int)
	c.advisory = make(map[Kind]string)
}

func advisoryFor(kind Kind, count int) string {
	switch kind {
	case KindDocumentParse:
		return fmt.Sprintf("%d template parse failures since %s: check the template directory for malformed files",
			count, time.Now().Format(time.RFC3339))
	case KindValidation:
		return fmt.Sprintf("%d template validation failures: templates may be authored against an older schema", count)
	case KindComposition:
		return fmt.Sprintf("%d composition failures: check inheritance declarations for missing parents or cycles", count)
	default:
		return fmt.Sprintf("%d repeated %s errors", count, kind)
	}
}
