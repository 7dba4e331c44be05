//go:build !linux && !freebsd && !darwin

package sysmem

import (
	"sync"
	"unsafe"
)

// Fallback for platforms without an mmap wrapper: regions come from the Go
// heap and are pinned in a registry so the garbage collector keeps them alive
// until Unmap. Decommit is a no-op here.

var (
	regMu   sync.Mutex
	regions = make(map[uintptr][]byte)
)

func mapAligned(size, align uintptr) (uintptr, error) {
	buf := make([]byte, size+align)
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + align - 1) &^ (align - 1)

	regMu.Lock()
	regions[aligned] = buf
	regMu.Unlock()
	return aligned, nil
}

func unmap(base, _ uintptr) error {
	regMu.Lock()
	delete(regions, base)
	regMu.Unlock()
	return nil
}

func decommit(_, _ uintptr) {}
