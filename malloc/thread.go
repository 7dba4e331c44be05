package malloc

import (
	"github.com/joshuapare/mallockit/malloc/arena"
	"github.com/joshuapare/mallockit/malloc/prof"
	"github.com/joshuapare/mallockit/malloc/tcache"
)

// Thread is a per-goroutine (or per-OS-thread) handle, the explicit
// rendition of thread-specific allocator data. It carries the arena
// binding, the thread cache, profiling countdown state, and allocation
// counters. A Thread must not be used concurrently; share the Allocator,
// not the handle.
type Thread struct {
	a     *Allocator
	arena *arena.Arena
	cache *tcache.Cache

	profState prof.ThreadState

	allocated   uint64
	deallocated uint64

	// initOwner marks the thread currently running bootstrap, so its
	// recursive allocations bypass the init barrier.
	initOwner bool
	released  bool
}

// NewThread registers a handle. Arena binding and cache construction are
// deferred to the first allocation, so creating handles is cheap and legal
// before the allocator has booted.
func (a *Allocator) NewThread() *Thread {
	th := &Thread{a: a}
	a.threadsMu.Lock()
	a.threads[th] = struct{}{}
	a.threadsMu.Unlock()
	return th
}

// Release tears the handle down: the cache is flushed back to the owning
// arenas, the arena sheds this thread from its load count, and the
// counters fold into the allocator-wide totals. The handle is dead
// afterwards.
func (th *Thread) Release() {
	if th.released {
		return
	}
	th.released = true
	a := th.a

	if th.cache != nil {
		th.cache.Flush(a.freeToArena)
		th.cache = nil
	}
	if th.arena != nil {
		a.dropArena(th.arena)
		th.arena = nil
	}

	a.threadsMu.Lock()
	a.deadAllocated += th.allocated
	a.deadDeallocated += th.deallocated
	delete(a.threads, th)
	a.threadsMu.Unlock()
}

// AllocatedBytes reports the cumulative usable bytes this thread has
// allocated.
func (th *Thread) AllocatedBytes() uint64 { return th.allocated }

// DeallocatedBytes reports the cumulative usable bytes this thread has
// freed.
func (th *Thread) DeallocatedBytes() uint64 { return th.deallocated }

// ensureCache builds the thread cache on first use, once options are
// known. A disabled cache stays nil.
func (th *Thread) ensureCache() *tcache.Cache {
	if th.cache == nil && th.a.opts.Tcache {
		th.cache = tcache.New(th.a.table, th.a.opts.LgTcacheMax)
	}
	return th.cache
}

// thread returns the allocator's shared fallback handle, used by the
// Allocator-level convenience API. The caller must hold fallbackMu for
// the duration of the operation; the handle itself is single-caller.
func (a *Allocator) thread() *Thread {
	th := a.fallback
	if th == nil {
		th = a.NewThread()
		a.fallback = th
	}
	return th
}
