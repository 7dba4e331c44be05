// Package arena implements the small/large allocation backend. Each arena
// owns a set of chunks carved into cells with 16-byte boundary-tag headers,
// segregated per-class free lists for small cells, and a best-fit list for
// large cells. Arenas are independently locked so threads spread across them
// contend only with their neighbors.
//
// Arena records live in base-allocated memory, not on the Go heap: the arena
// directory itself is base-backed and invisible to the garbage collector, so
// everything it points at must be off-heap too. Consequently Arena holds no
// Go pointers; free lists are threaded through the free cells themselves and
// external collaborators are passed in per call via Env.
package arena

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/mallockit/malloc/base"
	"github.com/joshuapare/mallockit/malloc/chunk"
	"github.com/joshuapare/mallockit/malloc/sizeclass"
)

// MaxBins bounds the number of small size classes an arena can serve.
const MaxBins = 64

// Env carries the collaborators arena methods need. Arenas cannot store
// these as fields (no Go pointers off-heap), so every operation receives
// them explicitly.
type Env struct {
	Table  *sizeclass.Table
	Chunks *chunk.Manager

	// Junk enables pattern-filling of allocated and freed memory.
	Junk bool
}

// Stats is a snapshot of one arena's counters.
type Stats struct {
	Allocated uint64 // live usable bytes
	NMalloc   uint64
	NDalloc   uint64
	NChunks   uint64
}

// Arena is one independently locked allocation region.
type Arena struct {
	mu       sync.Mutex
	ind      uint32
	nthreads atomic.Uint32

	// bins[i] heads the free list of cells whose payload floors to small
	// class i. largeHead chains everything above the small tier.
	bins      [MaxBins]uintptr
	largeHead uintptr

	allocated uint64
	nmalloc   uint64
	ndalloc   uint64
	nchunks   uint64
}

// New places a fresh arena record in base memory.
func New(b *base.Base, ind uint32) (*Arena, error) {
	raw, err := b.Alloc(unsafe.Sizeof(Arena{}))
	if err != nil {
		return nil, err
	}
	a := (*Arena)(unsafe.Pointer(raw))
	a.ind = ind
	return a, nil
}

// Ind returns the arena's directory index.
func (a *Arena) Ind() uint32 { return a.ind }

// NThreads returns the number of threads currently assigned to the arena.
func (a *Arena) NThreads() uint32 { return a.nthreads.Load() }

// AddThread records a thread assignment. Called under the directory lock.
func (a *Arena) AddThread() { a.nthreads.Add(1) }

// DropThread records a thread departure. Called under the directory lock.
func (a *Arena) DropThread() { a.nthreads.Add(^uint32(0)) }

// Stats returns a snapshot of the arena's counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Allocated: a.allocated,
		NMalloc:   a.nmalloc,
		NDalloc:   a.ndalloc,
		NChunks:   a.nchunks,
	}
}

// Prefork acquires the arena lock ahead of fork.
func (a *Arena) Prefork() { a.mu.Lock() }

// PostforkParent releases the arena lock in the parent.
func (a *Arena) PostforkParent() { a.mu.Unlock() }

// PostforkChild releases the arena lock in the child.
func (a *Arena) PostforkChild() { a.mu.Unlock() }
