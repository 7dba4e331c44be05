//go:build linux || freebsd || darwin

package sysmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapAligned over-maps by align bytes, then trims the unaligned head and tail
// so the surviving region starts on an align boundary. Anonymous mappings are
// zero-filled by the kernel.
func mapAligned(size, align uintptr) (uintptr, error) {
	length := size + align
	p, err := unix.MmapPtr(-1, 0, nil, length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, err
	}
	base := uintptr(p)
	aligned := (base + align - 1) &^ (align - 1)

	if head := aligned - base; head != 0 {
		if err := unix.MunmapPtr(p, head); err != nil {
			unix.MunmapPtr(p, length)
			return 0, err
		}
	}
	if tail := (base + length) - (aligned + size); tail != 0 {
		tp := unsafe.Pointer(aligned + size)
		if err := unix.MunmapPtr(tp, tail); err != nil {
			unix.MunmapPtr(unsafe.Pointer(aligned), size)
			return 0, err
		}
	}
	return aligned, nil
}

func unmap(base, size uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(base), size)
}

func decommit(base, size uintptr) {
	// MADV_DONTNEED lets the kernel reclaim the pages; the mapping itself
	// survives for reuse.
	_ = unix.Madvise(Bytes(base, size), unix.MADV_DONTNEED)
}
