package malloc

import (
	"errors"
	"unsafe"

	"github.com/joshuapare/mallockit/internal/diag"
	"github.com/joshuapare/mallockit/malloc/arena"
	"github.com/joshuapare/mallockit/malloc/chunk"
	"github.com/joshuapare/mallockit/malloc/prof"
)

// ArenaAuto selects the thread's bound arena in AllocConfig.Arena.
const ArenaAuto = -1

// AllocConfig carries the per-call behaviors of the extended entry points.
// The zero value is not the default; use DefaultConfig.
type AllocConfig struct {
	// LgAlign requests 2^LgAlign byte alignment; 0 means natural
	// alignment.
	LgAlign uint8

	// Zero forces zero-filled memory regardless of entry point.
	Zero bool

	// Arena pins the request to a directory slot, or ArenaAuto.
	Arena int

	// NoCache bypasses the thread cache for this call.
	NoCache bool
}

// DefaultConfig returns the config equivalent to a plain malloc call.
func DefaultConfig() AllocConfig {
	return AllocConfig{Arena: ArenaAuto}
}

func (c AllocConfig) alignment() uintptr {
	if c.LgAlign == 0 {
		return 0
	}
	return uintptr(1) << c.LgAlign
}

// resolve classifies a live pointer: its usable size, backing kind, and,
// for arena-backed objects, the owning arena. Directory slots are written
// once and the write happens before any pointer from that arena exists, so
// the unlocked slot read is safe.
func (a *Allocator) resolve(ptr uintptr) (uintptr, chunk.Kind, *arena.Arena, error) {
	_, kind, ind, err := a.chunks.Resolve(ptr)
	if err != nil {
		return 0, 0, nil, ErrBadPointer
	}
	if kind == chunk.KindHuge {
		usable, err := a.huge.UsableSize(ptr)
		if err != nil {
			return 0, 0, nil, ErrBadPointer
		}
		return usable, kind, nil, nil
	}
	if ind >= a.narenasAuto || a.arenas[ind] == nil {
		return 0, 0, nil, ErrBadPointer
	}
	return arena.UsableSize(ptr), kind, a.arenas[ind], nil
}

// freeToArena releases a payload straight to its owning arena, bypassing
// thread state entirely. Used by cache flushes.
func (a *Allocator) freeToArena(ptr uintptr) {
	_, _, ar, err := a.resolve(ptr)
	if err != nil || ar == nil {
		diag.Writef("leaked cache entry %#x: unresolvable", ptr)
		return
	}
	ar.Dalloc(&a.env, ptr)
}

// pickArena resolves the target arena for an allocation: the explicit
// override when one is given, the thread's bound arena otherwise.
func (th *Thread) pickArena(c AllocConfig) (*arena.Arena, error) {
	if c.Arena != ArenaAuto {
		return th.a.arenaByIndex(c.Arena)
	}
	return th.a.chooseArena(th), nil
}

// allocate is the full allocation pipeline: bootstrap check, size-class
// resolution, profiling decision (with promotion of sampled small objects),
// routing, and accounting.
func (th *Thread) allocate(size uintptr, c AllocConfig) (uintptr, error) {
	a := th.a
	if err := a.ensureReady(th); err != nil {
		return 0, err
	}
	if size == 0 {
		size = 1
	}

	align := c.alignment()
	var usize uintptr
	if align == 0 {
		usize = a.table.SizeToUsable(size)
		if usize == 0 {
			return 0, a.oom("malloc")
		}
	} else {
		usize = a.table.AlignedSizeToUsable(size, align)
		if usize == 0 {
			return 0, a.argError(ErrInvalidAlignment, "invalid alignment request")
		}
	}
	zero := c.Zero || a.opts.Zero

	var t prof.Tctx
	promoted := false
	if a.prof.Enabled() {
		t = a.prof.Prepare(&th.profState, usize, true)
		if t.Decision == prof.Record && usize <= a.table.SmallMax() {
			// Sampled small objects are promoted to the smallest
			// large class so the backing cell is individually
			// trackable.
			promoted = true
			usize = a.table.LargeMin()
		}
	}

	ptr, err := th.allocRaw(usize, align, zero, c)
	if err != nil {
		if a.prof.Enabled() {
			a.prof.Rollback(&th.profState, t, true)
		}
		if a.opts.Utrace {
			diag.Writef("trace: malloc(%d) = <fail>", size)
		}
		if errors.Is(err, ErrBadArena) {
			return 0, a.argError(err, "allocation names an invalid arena")
		}
		return 0, a.oom("malloc")
	}

	if a.prof.Enabled() {
		a.prof.Commit(ptr, usize, t)
		if promoted {
			a.prof.MarkPromoted(ptr, size)
		}
	}

	th.allocated += uint64(usize)
	if got := arenaOrHugeUsable(a, ptr); got != usize {
		a.fatal("usable size mismatch on allocation")
	}
	if a.opts.Utrace {
		diag.Writef("trace: malloc(%d) = %#x", size, ptr)
	}
	return ptr, nil
}

// allocRaw routes by usable size: huge registry above the large ceiling,
// otherwise the thread cache (small, naturally aligned requests only) and
// the arena.
func (th *Thread) allocRaw(usize, align uintptr, zero bool, c AllocConfig) (uintptr, error) {
	a := th.a

	if usize > a.table.LargeMax() {
		if align > a.table.Quantum() {
			return a.huge.AllocAligned(usize, align, zero)
		}
		return a.huge.Alloc(usize, zero)
	}

	cacheable := !c.NoCache && c.Arena == ArenaAuto &&
		usize <= a.table.SmallMax() && align <= a.table.Quantum()
	if cacheable {
		if cache := th.ensureCache(); cache != nil {
			if ptr, ok := cache.Get(a.table.ClassIndex(usize)); ok {
				// Cached payloads are dirty.
				if zero {
					clearPayload(ptr, usize)
				} else if a.opts.Junk {
					junkPayload(ptr, usize)
				}
				return ptr, nil
			}
		}
	}

	ar, err := th.pickArena(c)
	if err != nil {
		return 0, err
	}
	if align > a.table.Quantum() {
		return ar.AllocAligned(&a.env, usize, align, zero)
	}
	return ar.Alloc(&a.env, usize, zero)
}

// deallocate releases a live pointer, preferring the thread cache for
// small objects.
func (th *Thread) deallocate(ptr uintptr, c AllocConfig) error {
	a := th.a
	usize, kind, ar, err := a.resolve(ptr)
	if err != nil {
		return a.argError(err, "free of pointer not owned by allocator")
	}
	if a.prof.Enabled() {
		a.prof.Free(ptr, usize)
	}
	th.deallocated += uint64(usize)

	if kind == chunk.KindHuge {
		if err := a.huge.Dalloc(ptr); err != nil {
			return a.argError(ErrBadPointer, "free of unknown huge pointer")
		}
		if a.opts.Utrace {
			diag.Writef("trace: free(%#x)", ptr)
		}
		return nil
	}

	// An explicit arena override only forces the slow path when it names a
	// different arena than the one that owns the chunk; the cache returns
	// entries to their owner on flush either way.
	cacheable := !c.NoCache && usize <= a.table.SmallMax() &&
		(c.Arena == ArenaAuto || c.Arena == int(ar.Ind()))
	if cacheable {
		if cache := th.ensureCache(); cache != nil {
			if cache.Put(a.table.ClassIndex(usize), ptr) {
				if a.opts.Utrace {
					diag.Writef("trace: free(%#x)", ptr)
				}
				return nil
			}
		}
	}

	ar.Dalloc(&a.env, ptr)
	if a.opts.Utrace {
		diag.Writef("trace: free(%#x)", ptr)
	}
	return nil
}

// reallocate implements resize-with-move semantics. The nil-pointer and
// zero-size degenerate forms are handled by the public entry points.
func (th *Thread) reallocate(ptr, size uintptr, c AllocConfig) (uintptr, error) {
	a := th.a
	oldUsize, kind, ar, err := a.resolve(ptr)
	if err != nil {
		return 0, a.argError(err, "realloc of pointer not owned by allocator")
	}

	align := c.alignment()
	var usize uintptr
	if align == 0 {
		usize = a.table.SizeToUsable(size)
		if usize == 0 {
			return 0, a.oom("realloc")
		}
	} else {
		usize = a.table.AlignedSizeToUsable(size, align)
		if usize == 0 {
			return 0, a.argError(ErrInvalidAlignment, "invalid alignment request")
		}
	}
	zero := c.Zero || a.opts.Zero

	var t prof.Tctx
	promoted := false
	if a.prof.Enabled() {
		t = a.prof.Prepare(&th.profState, usize, true)
		if t.Decision == prof.Record && usize <= a.table.SmallMax() {
			promoted = true
			usize = a.table.LargeMin()
		}
	}

	newPtr, err := th.resizeRaw(ptr, oldUsize, usize, align, zero, kind, ar, c)
	if err != nil {
		if a.prof.Enabled() {
			a.prof.Rollback(&th.profState, t, true)
		}
		if errors.Is(err, ErrBadArena) {
			return 0, a.argError(err, "reallocation names an invalid arena")
		}
		return 0, a.oom("realloc")
	}

	if a.prof.Enabled() {
		a.prof.RecordResize(ptr, newPtr, oldUsize, usize, t)
		if promoted {
			a.prof.MarkPromoted(newPtr, size)
		}
	}
	th.allocated += uint64(usize)
	th.deallocated += uint64(oldUsize)
	if a.opts.Utrace {
		diag.Writef("trace: realloc(%#x, %d) = %#x", ptr, size, newPtr)
	}
	return newPtr, nil
}

// resizeRaw tries in-place first, then falls back to allocate-copy-free.
func (th *Thread) resizeRaw(ptr, oldUsize, usize, align uintptr, zero bool, kind chunk.Kind, ar *arena.Arena, c AllocConfig) (uintptr, error) {
	a := th.a

	// In-place only makes sense when the backing kind would not change
	// and no alignment change is requested.
	if align == 0 || ptr&(align-1) == 0 {
		if kind == chunk.KindHuge && usize > a.table.LargeMax() {
			if a.huge.ResizeInPlace(ptr, usize, zero) {
				return ptr, nil
			}
		}
		if kind == chunk.KindArena && usize <= a.table.LargeMax() {
			if ar.ResizeInPlace(&a.env, ptr, usize, zero) {
				return ptr, nil
			}
		}
	}

	newPtr, err := th.allocRaw(usize, align, zero, c)
	if err != nil {
		return 0, err
	}
	n := oldUsize
	if usize < n {
		n = usize
	}
	copyPayload(newPtr, ptr, n)
	if kind == chunk.KindHuge {
		a.huge.Dalloc(ptr)
	} else {
		ar.Dalloc(&a.env, ptr)
	}
	return newPtr, nil
}

// extendInPlace grows (or shrinks) a pointer without ever moving it,
// returning the resulting usable size. On failure the object is untouched
// and the old usable size comes back.
func (th *Thread) extendInPlace(ptr, size, extra uintptr, c AllocConfig) uintptr {
	a := th.a
	oldUsize, kind, ar, err := a.resolve(ptr)
	if err != nil {
		return 0
	}
	// A requested alignment the pointer does not already satisfy can never
	// be met without moving, which this entry point refuses to do.
	if align := c.alignment(); align != 0 && ptr&(align-1) != 0 {
		return oldUsize
	}
	zero := c.Zero || a.opts.Zero

	want := a.table.SizeToUsable(size + extra)
	if want == 0 || size+extra < size {
		want = a.table.SizeToUsable(size)
	}
	floor := a.table.SizeToUsable(size)
	if floor == 0 {
		return oldUsize
	}

	for _, target := range []uintptr{want, floor} {
		if target == 0 || target == oldUsize {
			break
		}
		crossesKind := (kind == chunk.KindHuge) != (target > a.table.LargeMax())
		if crossesKind {
			continue
		}
		ok := false
		if kind == chunk.KindHuge {
			ok = a.huge.ResizeInPlace(ptr, target, zero)
		} else {
			ok = ar.ResizeInPlace(&a.env, ptr, target, zero)
		}
		if ok {
			if a.prof.Enabled() {
				t := a.prof.Prepare(&th.profState, target, false)
				a.prof.RecordResize(ptr, ptr, oldUsize, target, t)
			}
			th.allocated += uint64(target)
			th.deallocated += uint64(oldUsize)
			return target
		}
	}
	return oldUsize
}

func arenaOrHugeUsable(a *Allocator, ptr uintptr) uintptr {
	usable, _, _, err := a.resolve(ptr)
	if err != nil {
		return 0
	}
	return usable
}

func copyPayload(dst, src, n uintptr) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), n),
		unsafe.Slice((*byte)(unsafe.Pointer(src)), n))
}

func clearPayload(ptr, n uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
	for i := range b {
		b[i] = 0
	}
}

func junkPayload(ptr, n uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
	for i := range b {
		b[i] = 0xa5
	}
}
