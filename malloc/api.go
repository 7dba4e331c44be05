package malloc

import (
	"math/bits"
	"unsafe"
)

// Malloc allocates size bytes. A zero size yields a distinct minimal
// allocation rather than nil.
func (th *Thread) Malloc(size uintptr) (unsafe.Pointer, error) {
	ptr, err := th.allocate(size, DefaultConfig())
	return asPointer(ptr), err
}

// Calloc allocates zeroed memory for count objects of size bytes each,
// refusing products that overflow.
func (th *Thread) Calloc(count, size uintptr) (unsafe.Pointer, error) {
	total := count * size
	if count != 0 && total/count != size {
		return nil, th.a.oom("calloc")
	}
	c := DefaultConfig()
	c.Zero = true
	ptr, err := th.allocate(total, c)
	return asPointer(ptr), err
}

// Realloc resizes an allocation, possibly moving it. Realloc(nil, n)
// behaves as Malloc(n); Realloc(p, 0) frees p and returns nil with no
// error.
func (th *Thread) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	if p == nil {
		return th.Malloc(size)
	}
	if size == 0 {
		return nil, th.Free(p)
	}
	ptr, err := th.reallocate(uintptr(p), size, DefaultConfig())
	return asPointer(ptr), err
}

// Free releases an allocation. Freeing nil is a no-op.
func (th *Thread) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	return th.deallocate(uintptr(p), DefaultConfig())
}

// AlignedAlloc allocates size bytes aligned to align, which must be a
// power of two.
func (th *Thread) AlignedAlloc(align, size uintptr) (unsafe.Pointer, error) {
	c, err := alignedConfig(th.a, align, 1)
	if err != nil {
		return nil, err
	}
	ptr, err := th.allocate(size, c)
	return asPointer(ptr), err
}

// PosixMemalign mirrors posix_memalign: align must additionally be a
// multiple of the pointer size.
func (th *Thread) PosixMemalign(align, size uintptr) (unsafe.Pointer, error) {
	c, err := alignedConfig(th.a, align, unsafe.Sizeof(uintptr(0)))
	if err != nil {
		return nil, err
	}
	ptr, err := th.allocate(size, c)
	return asPointer(ptr), err
}

// PageAlloc allocates size bytes of page-aligned memory (the valloc
// shape).
func (th *Thread) PageAlloc(size uintptr) (unsafe.Pointer, error) {
	if err := th.a.ensureReady(th); err != nil {
		return nil, err
	}
	return th.AlignedAlloc(th.a.table.LargeMin(), size)
}

// UsableSize reports the usable bytes behind a live pointer; nil reports
// zero.
func (th *Thread) UsableSize(p unsafe.Pointer) uintptr {
	if p == nil || !th.a.initialized.Load() {
		return 0
	}
	usable, _, _, err := th.a.resolve(uintptr(p))
	if err != nil {
		return 0
	}
	return usable
}

// MallocX is the extended allocation entry point.
func (th *Thread) MallocX(size uintptr, c AllocConfig) (unsafe.Pointer, error) {
	ptr, err := th.allocate(size, c)
	return asPointer(ptr), err
}

// RallocX is the extended resize entry point. Unlike Realloc it rejects a
// zero size instead of freeing.
func (th *Thread) RallocX(p unsafe.Pointer, size uintptr, c AllocConfig) (unsafe.Pointer, error) {
	if p == nil || size == 0 {
		return nil, th.a.argError(ErrOutOfMemory, "rallocx requires a pointer and a size")
	}
	ptr, err := th.reallocate(uintptr(p), size, c)
	return asPointer(ptr), err
}

// XallocX resizes in place only and returns the resulting usable size,
// which is the unchanged old usable size when the resize cannot happen.
func (th *Thread) XallocX(p unsafe.Pointer, size, extra uintptr, c AllocConfig) uintptr {
	if p == nil || size == 0 || !th.a.initialized.Load() {
		return 0
	}
	return th.extendInPlace(uintptr(p), size, extra, c)
}

// SallocX reports the usable size of a live pointer.
func (th *Thread) SallocX(p unsafe.Pointer) uintptr {
	return th.UsableSize(p)
}

// DallocX is the extended free entry point.
func (th *Thread) DallocX(p unsafe.Pointer, c AllocConfig) error {
	if p == nil {
		return nil
	}
	return th.deallocate(uintptr(p), c)
}

// SdallocX frees with a size hint; the hint must map to the pointer's
// actual usable size.
func (th *Thread) SdallocX(p unsafe.Pointer, size uintptr, c AllocConfig) error {
	if p == nil {
		return nil
	}
	a := th.a
	want := a.table.SizeToUsable(size)
	if c.LgAlign != 0 {
		want = a.table.AlignedSizeToUsable(size, c.alignment())
	}
	if got, _, _, err := a.resolve(uintptr(p)); err == nil && want != got {
		a.fatal("sdallocx size does not match allocation")
	}
	return th.deallocate(uintptr(p), c)
}

// NallocX reports the usable size an allocation with these parameters
// would receive, without allocating.
func (a *Allocator) NallocX(size uintptr, c AllocConfig) uintptr {
	if err := a.ensureReady(nil); err != nil {
		return 0
	}
	if size == 0 {
		size = 1
	}
	if c.LgAlign != 0 {
		return a.table.AlignedSizeToUsable(size, c.alignment())
	}
	return a.table.SizeToUsable(size)
}

// Bytes exposes a live allocation's full usable extent as a byte slice.
func (th *Thread) Bytes(p unsafe.Pointer) []byte {
	n := th.UsableSize(p)
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// Allocator-level convenience API over the shared fallback handle. Each
// call holds fallbackMu for its duration so the handle's cache and
// counters see one caller at a time; programs that need parallel
// allocation throughput use explicit Thread handles instead.

func (a *Allocator) Malloc(size uintptr) (unsafe.Pointer, error) {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().Malloc(size)
}

func (a *Allocator) Calloc(count, size uintptr) (unsafe.Pointer, error) {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().Calloc(count, size)
}

func (a *Allocator) Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().Realloc(p, size)
}

func (a *Allocator) Free(p unsafe.Pointer) error {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().Free(p)
}

func (a *Allocator) AlignedAlloc(align, size uintptr) (unsafe.Pointer, error) {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().AlignedAlloc(align, size)
}

func (a *Allocator) UsableSize(p unsafe.Pointer) uintptr {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()
	return a.thread().UsableSize(p)
}

// alignedConfig validates an explicit alignment and packs it into a config.
func alignedConfig(a *Allocator, align, min uintptr) (AllocConfig, error) {
	c := DefaultConfig()
	if align < min || align&(align-1) != 0 {
		return c, a.argError(ErrInvalidAlignment, "alignment must be a power of two")
	}
	if align == 1 {
		return c, nil
	}
	c.LgAlign = uint8(bits.TrailingZeros64(uint64(align)))
	return c, nil
}

func asPointer(ptr uintptr) unsafe.Pointer {
	if ptr == 0 {
		return nil
	}
	// The target is allocator-owned memory outside the Go heap.
	return *(*unsafe.Pointer)(unsafe.Pointer(&ptr))
}
