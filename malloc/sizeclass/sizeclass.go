// Package sizeclass maps requested allocation sizes to usable sizes.
//
// Requests are quantized into three tiers:
//
//   - small: quantum-spaced then geometrically grown classes below one page,
//     served from arena bins
//   - large: page multiples up to half a chunk, served from arena runs
//   - huge: chunk multiples, served by direct mappings
//
// The boundaries are configurable so the fragmentation/speed tradeoff can be
// tuned per workload; the allocator core only depends on the Mapper
// interface, not on this package's concrete table.
package sizeclass

import "math"

// Config defines a size-class strategy.
type Config struct {
	// Name identifies the configuration in stats output.
	Name string

	// Quantum is the spacing of the smallest classes and the minimum
	// payload alignment. Must be a power of two.
	Quantum uintptr

	// LinearMax is the top of the quantum-spaced region. Above it classes
	// grow geometrically until the page boundary.
	LinearMax uintptr

	// GrowthFactor controls geometric growth between LinearMax and Page.
	GrowthFactor float64

	// Page is the large-tier granule and the smallest large class.
	Page uintptr
}

// Predefined configurations.
var (
	// ConfigDefault balances class count against internal fragmentation:
	// 16..512 step 16, then ~1.25x growth to the page boundary.
	ConfigDefault = Config{
		Name:         "default",
		Quantum:      16,
		LinearMax:    512,
		GrowthFactor: 1.25,
		Page:         4096,
	}

	// ConfigCoarse trades fragmentation for fewer, larger bins.
	ConfigCoarse = Config{
		Name:         "coarse",
		Quantum:      16,
		LinearMax:    256,
		GrowthFactor: 2.0,
		Page:         4096,
	}
)

// Table is the computed size-class table for one configuration plus the
// chunk geometry fixed at boot.
type Table struct {
	cfg       Config
	small     []uintptr // small class usable sizes, ascending
	largeMax  uintptr   // largest large class (chunkSize / 2)
	chunkSize uintptr
	hugeOver  uintptr // per-mapping overhead subtracted from huge usable size
}

// New computes the class table. chunkSize must be a power of two larger than
// the page; hugeOverhead is the bookkeeping prefix of a huge mapping.
func New(cfg Config, chunkSize, hugeOverhead uintptr) *Table {
	t := &Table{
		cfg:       cfg,
		chunkSize: chunkSize,
		largeMax:  chunkSize / 2,
		hugeOver:  hugeOverhead,
	}

	for size := cfg.Quantum; size <= cfg.LinearMax; size += cfg.Quantum {
		t.small = append(t.small, size)
	}
	for size := t.small[len(t.small)-1]; size < cfg.Page; {
		next := uintptr(math.Ceil(float64(size) * cfg.GrowthFactor))
		next = alignUp(next, cfg.Quantum)
		if next <= size {
			next = size + cfg.Quantum
		}
		if next >= cfg.Page {
			break
		}
		t.small = append(t.small, next)
		size = next
	}
	return t
}

// sizeCeiling is the largest request the table will satisfy. Anything above
// it risks overflow during rounding and is reported as unsatisfiable.
const sizeCeiling = uintptr(1) << 48

// SizeToUsable maps a request to the smallest usable size that satisfies it.
// Returns 0 when the request cannot be satisfied.
func (t *Table) SizeToUsable(size uintptr) uintptr {
	if size == 0 || size > sizeCeiling {
		return 0
	}
	if size <= t.small[len(t.small)-1] {
		return t.small[t.smallIndex(size)]
	}
	if size <= t.largeMax {
		return alignUp(size, t.cfg.Page)
	}
	// Huge: round the mapping (request plus overhead) to chunk multiples,
	// then report what the caller actually gets back.
	spanned := alignUp(size+t.hugeOver, t.chunkSize)
	return spanned - t.hugeOver
}

// AlignedSizeToUsable maps a request with an explicit alignment constraint.
// Returns 0 when the pair cannot be satisfied (non-power-of-two alignment,
// alignment beyond half a chunk, or overflow).
func (t *Table) AlignedSizeToUsable(size, align uintptr) uintptr {
	if align == 0 || align&(align-1) != 0 {
		return 0
	}
	if align <= t.cfg.Quantum {
		return t.SizeToUsable(size)
	}
	if align > t.largeMax {
		return 0
	}
	if size < align {
		size = align
	}
	return t.SizeToUsable(size)
}

// smallIndex returns the index of the smallest small class >= size.
// Binary search; the table is tiny and sorted.
func (t *Table) smallIndex(size uintptr) int {
	lo, hi := 0, len(t.small)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if t.small[mid] < size {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ClassIndex returns the bin index for a small usable size. The usable size
// must be an exact small class.
func (t *Table) ClassIndex(usable uintptr) int {
	return t.smallIndex(usable)
}

// FloorIndex returns the largest small class index whose size is <= payload.
// payload must be at least one quantum.
func (t *Table) FloorIndex(payload uintptr) int {
	i := t.smallIndex(payload)
	if t.small[i] > payload {
		i--
	}
	return i
}

// ClassSize returns the usable size of small class i.
func (t *Table) ClassSize(i int) uintptr { return t.small[i] }

// NumSmallClasses returns the number of small classes (bin count).
func (t *Table) NumSmallClasses() int { return len(t.small) }

// SmallMax returns the largest small usable size.
func (t *Table) SmallMax() uintptr { return t.small[len(t.small)-1] }

// LargeMin returns the smallest large class. Sampled small allocations are
// promoted to this class so they can carry profiling metadata.
func (t *Table) LargeMin() uintptr { return t.cfg.Page }

// LargeMax returns the largest large class; anything above it is huge.
func (t *Table) LargeMax() uintptr { return t.largeMax }

// Quantum returns the minimum payload alignment.
func (t *Table) Quantum() uintptr { return t.cfg.Quantum }

// Name returns the configuration name.
func (t *Table) Name() string { return t.cfg.Name }

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
