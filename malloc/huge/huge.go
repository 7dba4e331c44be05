// Package huge serves allocations too large for any arena class. Each huge
// allocation is its own chunk-multiple mapping, tracked in a registry keyed
// by payload address.
package huge

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/joshuapare/mallockit/malloc/chunk"
)

// ErrUnknownPointer indicates an address with no huge record.
var ErrUnknownPointer = errors.New("huge: unknown pointer")

type record struct {
	base   uintptr // mapping base (chunk aligned)
	span   uintptr // mapping size (chunk multiple)
	usable uintptr
}

// Huge tracks all huge allocations under one lock; huge operations are rare
// enough that finer granularity buys nothing.
type Huge struct {
	mu      sync.Mutex
	chunks  *chunk.Manager
	records map[uintptr]record

	allocated uint64
	nmalloc   uint64
	ndalloc   uint64
}

// New returns a booted huge allocator over the given chunk manager.
func New(cm *chunk.Manager) *Huge {
	return &Huge{chunks: cm, records: make(map[uintptr]record)}
}

// Alloc maps a span for usable bytes. Fresh mappings are already zero, so
// the zero flag needs no extra work here.
func (h *Huge) Alloc(usable uintptr, zero bool) (uintptr, error) {
	span := alignUp(usable+chunk.HeaderSize, h.chunks.Size())
	base, err := h.chunks.Alloc(span, chunk.KindHuge, 0)
	if err != nil {
		return 0, err
	}
	ptr := base + chunk.HeaderSize

	h.mu.Lock()
	h.records[ptr] = record{base: base, span: span, usable: usable}
	h.allocated += uint64(usable)
	h.nmalloc++
	h.mu.Unlock()
	return ptr, nil
}

// AllocAligned maps a span with the payload placed on an align boundary.
// align must not exceed half a chunk so the payload stays inside the chunk
// that carries the header.
func (h *Huge) AllocAligned(usable, align uintptr, zero bool) (uintptr, error) {
	if align <= chunk.HeaderSize {
		return h.Alloc(usable, zero)
	}
	span := alignUp(usable+align+chunk.HeaderSize, h.chunks.Size())
	base, err := h.chunks.Alloc(span, chunk.KindHuge, 0)
	if err != nil {
		return 0, err
	}
	ptr := (base + chunk.HeaderSize + align - 1) &^ (align - 1)

	h.mu.Lock()
	h.records[ptr] = record{base: base, span: span, usable: usable}
	h.allocated += uint64(usable)
	h.nmalloc++
	h.mu.Unlock()
	return ptr, nil
}

// Dalloc unmaps a huge allocation.
func (h *Huge) Dalloc(ptr uintptr) error {
	h.mu.Lock()
	rec, ok := h.records[ptr]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownPointer
	}
	delete(h.records, ptr)
	h.allocated -= uint64(rec.usable)
	h.ndalloc++
	h.mu.Unlock()

	h.chunks.Dealloc(rec.base, rec.span)
	return nil
}

// UsableSize reports the recorded usable size of a huge payload.
func (h *Huge) UsableSize(ptr uintptr) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[ptr]
	if !ok {
		return 0, ErrUnknownPointer
	}
	return rec.usable, nil
}

// ResizeInPlace succeeds when the existing span already covers the new
// usable size. Reports whether the resize happened.
func (h *Huge) ResizeInPlace(ptr, usable uintptr, zero bool) bool {
	h.mu.Lock()
	rec, ok := h.records[ptr]
	if !ok || ptr+usable > rec.base+rec.span {
		h.mu.Unlock()
		return false
	}
	old := rec.usable
	rec.usable = usable
	h.records[ptr] = rec
	h.allocated += uint64(usable) - uint64(old)
	h.mu.Unlock()

	if zero && usable > old {
		// The tail may hold stale data from an earlier, larger size.
		clearRange(ptr+old, usable-old)
	}
	return true
}

// Stats returns live usable bytes and operation counts.
func (h *Huge) Stats() (allocated, nmalloc, ndalloc uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated, h.nmalloc, h.ndalloc
}

// Prefork acquires the huge lock ahead of fork.
func (h *Huge) Prefork() { h.mu.Lock() }

// PostforkParent releases the huge lock in the parent.
func (h *Huge) PostforkParent() { h.mu.Unlock() }

// PostforkChild releases the huge lock in the child.
func (h *Huge) PostforkChild() { h.mu.Unlock() }

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

func clearRange(ptr, n uintptr) {
	clear(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}
