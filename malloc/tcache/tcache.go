// Package tcache implements the per-thread cache of recently freed small
// objects. A cache belongs to exactly one thread and is therefore entirely
// unlocked; contention only appears when a full bin flushes back to arenas.
package tcache

import "github.com/joshuapare/mallockit/malloc/sizeclass"

// binCap bounds how many objects one bin retains before Put reports
// overflow and the caller flushes.
const binCap = 32

// Cache holds freed small payloads binned by size class.
type Cache struct {
	bins     [][]uintptr
	maxClass int // largest cacheable class index, -1 caches nothing
}

// New builds a cache over the given table. lgMax caps the cached object
// size at 2^lgMax bytes; below the quantum the cache stays empty.
func New(table *sizeclass.Table, lgMax int) *Cache {
	maxSize := uintptr(0)
	if lgMax >= 0 && lgMax < 64 {
		maxSize = uintptr(1) << lgMax
	}
	if maxSize > table.SmallMax() {
		maxSize = table.SmallMax()
	}
	c := &Cache{
		bins:     make([][]uintptr, table.NumSmallClasses()),
		maxClass: -1,
	}
	if maxSize >= table.ClassSize(0) {
		c.maxClass = table.FloorIndex(maxSize)
	}
	return c
}

// Get pops a cached payload of the given class, if any.
func (c *Cache) Get(class int) (uintptr, bool) {
	if class > c.maxClass {
		return 0, false
	}
	bin := c.bins[class]
	if len(bin) == 0 {
		return 0, false
	}
	ptr := bin[len(bin)-1]
	c.bins[class] = bin[:len(bin)-1]
	return ptr, true
}

// Put parks a freed payload. Reports false when the class is uncacheable or
// the bin is full; the caller then releases to the arena directly.
func (c *Cache) Put(class int, ptr uintptr) bool {
	if class > c.maxClass || len(c.bins[class]) >= binCap {
		return false
	}
	c.bins[class] = append(c.bins[class], ptr)
	return true
}

// Flush empties every bin through release, which returns each payload to
// whichever arena owns it.
func (c *Cache) Flush(release func(ptr uintptr)) {
	for i, bin := range c.bins {
		for _, ptr := range bin {
			release(ptr)
		}
		c.bins[i] = bin[:0]
	}
}

// Cached returns the number of parked objects, for stats.
func (c *Cache) Cached() int {
	n := 0
	for _, bin := range c.bins {
		n += len(bin)
	}
	return n
}
