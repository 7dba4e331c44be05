// Package base is the allocator's internal metadata allocator. It hands out
// raw, zeroed, never-freed blocks carved from dedicated mappings, so
// bookkeeping structures (arena records, the arena directory) live outside
// both the Go heap and the chunks being managed.
package base

import (
	"errors"
	"sync"

	"github.com/joshuapare/mallockit/internal/sysmem"
)

// ErrMapFailed indicates the backing mapping could not be created.
var ErrMapFailed = errors.New("base: mapping failed")

const blockAlign = 16

// Base is a bump allocator over private mappings. Allocations are permanent.
type Base struct {
	mu        sync.Mutex
	cur       uintptr
	end       uintptr
	blockSize uintptr
	mapped    uintptr
}

// New returns a Base that maps blockSize bytes at a time. No memory is
// mapped until the first allocation.
func New(blockSize uintptr) *Base {
	return &Base{blockSize: blockSize}
}

// Alloc returns the address of n zeroed bytes, 16-byte aligned.
func (b *Base) Alloc(n uintptr) (uintptr, error) {
	n = (n + blockAlign - 1) &^ uintptr(blockAlign-1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur+n > b.end {
		size := b.blockSize
		if n > size {
			size = n
		}
		base, err := sysmem.MapAligned(size, blockAlign)
		if err != nil {
			return 0, ErrMapFailed
		}
		// The tail of the previous block is abandoned; base blocks are
		// never unmapped, so there is nothing to track.
		b.cur = base
		b.end = base + size
		b.mapped += size
	}

	p := b.cur
	b.cur += n
	return p, nil
}

// Mapped returns the total bytes mapped for metadata.
func (b *Base) Mapped() uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

// Prefork acquires the base lock ahead of fork.
func (b *Base) Prefork() { b.mu.Lock() }

// PostforkParent releases the base lock in the parent after fork.
func (b *Base) PostforkParent() { b.mu.Unlock() }

// PostforkChild releases the base lock in the child after fork.
func (b *Base) PostforkChild() { b.mu.Unlock() }
