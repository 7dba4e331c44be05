// Package config resolves the allocator's runtime options.
//
// Options come from three sources with increasing precedence: a string
// compiled into the embedding program, the textual target of the
// /etc/malloc.conf symbolic link, and the MALLOC_CONF environment variable.
// Each source is a comma-separated key:value list. Malformed entries are
// diagnosed and skipped; option parsing never fails the caller, because by
// the time options are read the process has no way to recover from a broken
// allocator configuration anyway.
package config

// Option bounds fixed by the implementation rather than by configuration.
const (
	// LgChunkMin keeps a chunk large enough for its header page plus data.
	LgChunkMin = 14

	// LgChunkMax keeps chunk arithmetic inside a uintptr.
	LgChunkMax = 48

	// ProfPrefixCap bounds the profile filename prefix copy.
	ProfPrefixCap = 128
)

// DSS precedence values accepted by the dss option, in precedence order.
var DSSPrecNames = []string{"disabled", "primary", "secondary"}

// Options holds every runtime option. The zero value is not meaningful; use
// Defaults.
type Options struct {
	// Abort escalates recoverable errors to a process abort (strict mode).
	Abort bool

	// LgChunk is log2 of the chunk size.
	LgChunk uintptr

	// DSS is the backing-store precedence, one of DSSPrecNames. It is only
	// committed when the backing subsystem accepts it.
	DSS string

	// NArenas overrides the automatic arena count; 0 means automatic
	// (4x CPU count on multi-core systems).
	NArenas uintptr

	// LgDirtyMult controls dirty page purging aggressiveness; -1 disables.
	LgDirtyMult int

	// StatsPrint registers an exit-time statistics dump.
	StatsPrint bool

	// Junk fills allocated memory with a pattern (debug aid).
	Junk bool

	// Zero zero-fills all allocations regardless of entry point.
	Zero bool

	// Quarantine delays reuse of freed memory by the given byte budget.
	Quarantine uintptr

	// Redzone pads allocations with guard bytes (debug aid).
	Redzone bool

	// Utrace emits a trace record per allocation event.
	Utrace bool

	// Xmalloc aborts instead of returning nil on allocation failure.
	Xmalloc bool

	// Tcache enables the per-thread cache.
	Tcache bool

	// LgTcacheMax is log2 of the largest size the thread cache will hold.
	LgTcacheMax int

	// Prof enables allocation profiling.
	Prof bool

	// ProfPrefix is the profile dump filename prefix, truncated at
	// ProfPrefixCap bytes.
	ProfPrefix string

	// ProfActive starts profiling in the active state.
	ProfActive bool

	// LgProfSample is log2 of the mean bytes between allocation samples.
	LgProfSample uintptr
}

// Defaults returns the compiled-in option values.
func Defaults() Options {
	return Options{
		Abort:        false,
		LgChunk:      22, // 4 MiB chunks
		DSS:          "secondary",
		NArenas:      0,
		LgDirtyMult:  3,
		StatsPrint:   false,
		Tcache:       true,
		LgTcacheMax:  15,
		Prof:         false,
		ProfPrefix:   "mkprof",
		ProfActive:   true,
		LgProfSample: 19, // ~512 KiB between samples
	}
}

// ChunkSize returns the configured chunk size in bytes.
func (o Options) ChunkSize() uintptr { return uintptr(1) << o.LgChunk }
