// Package sysmem provides the raw memory mappings the allocator carves chunks
// from. Mappings are zero-filled, aligned, and live entirely outside the Go
// heap on platforms with mmap support.
package sysmem

import "unsafe"

// MapAligned returns a zeroed region of exactly size bytes whose base address
// is a multiple of align. align must be a power of two.
func MapAligned(size, align uintptr) (uintptr, error) {
	return mapAligned(size, align)
}

// Unmap releases a region previously returned by MapAligned. base and size
// must describe the full region.
func Unmap(base, size uintptr) error {
	return unmap(base, size)
}

// Decommit hints that the pages of the region are no longer needed. The
// region stays mapped and reads as zero or stale data afterwards. Best
// effort: failures are ignored by callers.
func Decommit(base, size uintptr) {
	decommit(base, size)
}

// Bytes views a mapped region as a byte slice.
func Bytes(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}
