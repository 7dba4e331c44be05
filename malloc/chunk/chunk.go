// Package chunk manages the chunk-granular address space the allocator lives
// in. Every chunk begins with a small raw header identifying its owner, and
// chunks are aligned to their own size, so any interior pointer resolves to
// its chunk in O(1) with a mask.
package chunk

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/joshuapare/mallockit/internal/sysmem"
)

var (
	// ErrMapFailed indicates the backing store could not satisfy a chunk
	// request.
	ErrMapFailed = errors.New("chunk: mapping failed")

	// ErrBadDSS indicates an unknown backing-store precedence name.
	ErrBadDSS = errors.New("chunk: unknown dss precedence")

	// ErrBadPointer indicates an address that does not belong to any
	// live chunk.
	ErrBadPointer = errors.New("chunk: address outside any chunk")
)

// Kind identifies what a chunk is used for.
type Kind uint32

const (
	// KindArena marks a chunk carved into arena cells.
	KindArena Kind = 1
	// KindHuge marks the first chunk of a huge mapping.
	KindHuge Kind = 2
)

// HeaderSize reserves the chunk prefix for the header plus alignment slack.
const HeaderSize = 64

const headerMagic = 0x6d6b6368 // "mkch"

// maxCachedChunks bounds the free-chunk cache.
const maxCachedChunks = 16

type header struct {
	magic    uint32
	kind     uint32
	arenaInd uint32
	_        uint32
}

// Manager allocates and recycles chunk-aligned regions.
type Manager struct {
	mu   sync.Mutex
	size uintptr
	mask uintptr
	dss  string

	// Freed single chunks are threaded through their own first word.
	cacheHead uintptr
	cached    int

	nalloc  uint64
	ndalloc uint64
	mapped  uintptr
}

// NewManager boots a manager for the given chunk size (a power of two).
func NewManager(chunkSize uintptr) (*Manager, error) {
	if chunkSize == 0 || chunkSize&(chunkSize-1) != 0 {
		return nil, errors.New("chunk: size must be a power of two")
	}
	return &Manager{size: chunkSize, mask: chunkSize - 1, dss: "secondary"}, nil
}

// Size returns the chunk size.
func (m *Manager) Size() uintptr { return m.size }

// Mask returns size-1, for base-address masking.
func (m *Manager) Mask() uintptr { return m.mask }

// ValidateDSS checks a backing-store precedence name. Split out so options
// can be vetted before any manager exists.
func ValidateDSS(name string) error {
	switch name {
	case "disabled", "primary", "secondary":
		return nil
	}
	return ErrBadDSS
}

// SetDSSPrec adopts a backing-store precedence. Unknown names are rejected
// so the option parser can refuse to commit them.
func (m *Manager) SetDSSPrec(name string) error {
	if err := ValidateDSS(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.dss = name
	m.mu.Unlock()
	return nil
}

// DSSPrec returns the current backing-store precedence.
func (m *Manager) DSSPrec() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dss
}

// Alloc returns a zeroed, chunk-aligned span of n bytes (a chunk multiple)
// with its header written. Single chunks are served from the recycle cache
// when possible.
func (m *Manager) Alloc(n uintptr, kind Kind, arenaInd uint32) (uintptr, error) {
	if n == 0 || n%m.size != 0 {
		return 0, ErrMapFailed
	}

	m.mu.Lock()
	if n == m.size && m.cacheHead != 0 {
		base := m.cacheHead
		m.cacheHead = *(*uintptr)(unsafe.Pointer(base))
		m.cached--
		m.nalloc++
		m.mu.Unlock()
		// Cached chunks were decommitted, not unmapped; contents must
		// read as zero again before reuse.
		clear(sysmem.Bytes(base, m.size))
		writeHeader(base, kind, arenaInd)
		return base, nil
	}
	m.nalloc++
	m.mapped += n
	m.mu.Unlock()

	base, err := sysmem.MapAligned(n, m.size)
	if err != nil {
		m.mu.Lock()
		m.nalloc--
		m.mapped -= n
		m.mu.Unlock()
		return 0, ErrMapFailed
	}
	writeHeader(base, kind, arenaInd)
	return base, nil
}

// Dealloc returns a span to the manager. Single chunks go to the bounded
// recycle cache; everything else is unmapped.
func (m *Manager) Dealloc(base, n uintptr) {
	m.mu.Lock()
	m.ndalloc++
	if n == m.size && m.cached < maxCachedChunks {
		*(*uintptr)(unsafe.Pointer(base)) = m.cacheHead
		m.cacheHead = base
		m.cached++
		m.mu.Unlock()
		sysmem.Decommit(base+pageSize, n-pageSize)
		return
	}
	m.mapped -= n
	m.mu.Unlock()
	_ = sysmem.Unmap(base, n)
}

const pageSize = 4096

// Stats returns allocation counters and the current cache depth.
func (m *Manager) Stats() (nalloc, ndalloc uint64, mapped uintptr, cached int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nalloc, m.ndalloc, m.mapped, m.cached
}

// Prefork acquires the manager lock ahead of fork.
func (m *Manager) Prefork() { m.mu.Lock() }

// PostforkParent releases the manager lock in the parent.
func (m *Manager) PostforkParent() { m.mu.Unlock() }

// PostforkChild releases the manager lock in the child.
func (m *Manager) PostforkChild() { m.mu.Unlock() }

func writeHeader(base uintptr, kind Kind, arenaInd uint32) {
	h := (*header)(unsafe.Pointer(base))
	h.magic = headerMagic
	h.kind = uint32(kind)
	h.arenaInd = arenaInd
}

// Resolve maps any pointer inside a chunk to that chunk's identity.
func (m *Manager) Resolve(ptr uintptr) (base uintptr, kind Kind, arenaInd uint32, err error) {
	base = ptr &^ m.mask
	h := (*header)(unsafe.Pointer(base))
	if h.magic != headerMagic {
		return 0, 0, 0, ErrBadPointer
	}
	return base, Kind(h.kind), h.arenaInd, nil
}
