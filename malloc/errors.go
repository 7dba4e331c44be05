package malloc

import "errors"

var (
	// ErrOutOfMemory is returned when no backing memory could be obtained
	// for a request, or when a requested size exceeds the supported range.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrInvalidAlignment is returned for alignments that are zero, not a
	// power of two, or beyond what the allocator can satisfy.
	ErrInvalidAlignment = errors.New("malloc: invalid alignment")

	// ErrBadPointer is returned when a pointer handed back to the
	// allocator does not belong to any of its mappings.
	ErrBadPointer = errors.New("malloc: pointer not owned by allocator")

	// ErrBadArena is returned for explicit arena overrides that name an
	// index outside the directory or a slot that was never populated.
	ErrBadArena = errors.New("malloc: invalid arena index")

	// ErrBootFailed is returned by every operation after the one-time
	// bootstrap sequence failed. The allocator stays unusable.
	ErrBootFailed = errors.New("malloc: allocator bootstrap failed")
)
