package malloc

import (
	"fmt"
	"io"

	"github.com/joshuapare/mallockit/internal/diag"
	"github.com/joshuapare/mallockit/malloc/arena"
	"github.com/joshuapare/mallockit/malloc/ctl"
)

// Stats is a merged point-in-time snapshot across threads, arenas, the
// huge registry, and the chunk layer.
type Stats struct {
	// Allocated and Deallocated are cumulative usable bytes across all
	// thread handles, live and released.
	Allocated   uint64
	Deallocated uint64

	// NArenas is the directory size; NArenasActive counts populated
	// slots.
	NArenas       uint32
	NArenasActive uint32

	Arena arena.Stats

	HugeAllocated uint64
	HugeNMalloc   uint64
	HugeNDalloc   uint64

	ChunkNAlloc  uint64
	ChunkNDalloc uint64
	Mapped       uintptr
	MetaMapped   uintptr

	ProfLive int
}

// Stats merges a snapshot. Returns the zero value before bootstrap.
func (a *Allocator) Stats() Stats {
	var s Stats
	if !a.initialized.Load() {
		return s
	}

	a.threadsMu.Lock()
	s.Allocated = a.deadAllocated
	s.Deallocated = a.deadDeallocated
	for th := range a.threads {
		s.Allocated += th.allocated
		s.Deallocated += th.deallocated
	}
	a.threadsMu.Unlock()

	a.arenasMu.Lock()
	s.NArenas = a.narenasAuto
	for i := uint32(0); i < a.narenasAuto; i++ {
		if a.arenas[i] == nil {
			continue
		}
		s.NArenasActive++
		as := a.arenas[i].Stats()
		s.Arena.Allocated += as.Allocated
		s.Arena.NMalloc += as.NMalloc
		s.Arena.NDalloc += as.NDalloc
		s.Arena.NChunks += as.NChunks
	}
	a.arenasMu.Unlock()

	s.HugeAllocated, s.HugeNMalloc, s.HugeNDalloc = a.huge.Stats()
	s.ChunkNAlloc, s.ChunkNDalloc, s.Mapped, _ = a.chunks.Stats()
	s.MetaMapped = a.base.Mapped()
	s.ProfLive, _, _ = a.prof.Stats()
	return s
}

// StatsPrint writes a human-readable statistics report, the exit-dump
// format.
func (a *Allocator) StatsPrint(w io.Writer) error {
	if !a.initialized.Load() {
		_, err := fmt.Fprintln(w, "allocator not initialized")
		return err
	}
	s := a.Stats()
	o := a.opts
	_, err := fmt.Fprintf(w, `version: %s
arenas: %d (%d active), cpus: %d
chunk size: %d, dss: %s
allocated: %d, deallocated: %d, live: %d
arena allocated: %d (nmalloc %d, ndalloc %d, chunks %d)
huge allocated: %d (nmalloc %d, ndalloc %d)
mapped: %d, metadata: %d
profiling: enabled=%v live samples=%d
`,
		Version,
		s.NArenas, s.NArenasActive, a.ncpus,
		o.ChunkSize(), a.chunks.DSSPrec(),
		s.Allocated, s.Deallocated, s.Allocated-s.Deallocated,
		s.Arena.Allocated, s.Arena.NMalloc, s.Arena.NDalloc, s.Arena.NChunks,
		s.HugeAllocated, s.HugeNMalloc, s.HugeNDalloc,
		s.Mapped, s.MetaMapped,
		a.prof.Enabled(), s.ProfLive)
	return err
}

// Shutdown runs the exit-time duties: the stats dump when stats_print was
// set, and a final profile dump when profiling ran. The allocator remains
// usable afterwards; Shutdown is a reporting point, not a teardown.
func (a *Allocator) Shutdown(w io.Writer) {
	if !a.initialized.Load() {
		return
	}
	if a.opts.StatsPrint {
		if w == nil {
			a.StatsPrint(diagWriter{})
		} else {
			a.StatsPrint(w)
		}
	}
	if a.prof.Enabled() && w != nil {
		a.prof.Dump(w)
	}
}

// diagWriter adapts the diagnostic channel to io.Writer for the exit dump.
type diagWriter struct{}

func (diagWriter) Write(p []byte) (int, error) {
	diag.Write(string(p))
	return len(p), nil
}

// refreshStats is the epoch hook: introspection reads are served from the
// snapshot captured at the last epoch advance.
func (a *Allocator) refreshStats() {
	a.statsMu.Lock()
	a.statsCache = a.Stats()
	a.statsMu.Unlock()
}

func (a *Allocator) cachedStats() Stats {
	a.statsMu.Lock()
	s := a.statsCache
	a.statsMu.Unlock()
	return s
}

// registerCtlNodes publishes the introspection namespace. Read-only nodes
// serve either static configuration or the epoch-cached snapshot.
func (a *Allocator) registerCtlNodes() {
	ro := func(get func() any) ctl.Node {
		return ctl.Node{Get: func() (any, error) { return get(), nil }}
	}

	a.ctl.Register("version", ro(func() any { return Version }))
	a.ctl.Register("arenas.narenas", ro(func() any { return a.narenasAuto }))
	a.ctl.Register("arenas.quantum", ro(func() any { return a.table.Quantum() }))
	a.ctl.Register("arenas.page", ro(func() any { return a.table.LargeMin() }))

	a.ctl.Register("opt.abort", ro(func() any { return a.opts.Abort }))
	a.ctl.Register("opt.lg_chunk", ro(func() any { return a.opts.LgChunk }))
	a.ctl.Register("opt.narenas", ro(func() any { return a.opts.NArenas }))
	a.ctl.Register("opt.dss", ro(func() any { return a.chunks.DSSPrec() }))
	a.ctl.Register("opt.lg_dirty_mult", ro(func() any { return a.opts.LgDirtyMult }))
	a.ctl.Register("opt.junk", ro(func() any { return a.opts.Junk }))
	a.ctl.Register("opt.quarantine", ro(func() any { return a.opts.Quarantine }))
	a.ctl.Register("opt.redzone", ro(func() any { return a.opts.Redzone }))
	a.ctl.Register("opt.zero", ro(func() any { return a.opts.Zero }))
	a.ctl.Register("opt.tcache", ro(func() any { return a.opts.Tcache }))
	a.ctl.Register("opt.stats_print", ro(func() any { return a.opts.StatsPrint }))
	a.ctl.Register("opt.prof", ro(func() any { return a.opts.Prof }))

	a.ctl.Register("stats.allocated", ro(func() any { return a.cachedStats().Allocated }))
	a.ctl.Register("stats.deallocated", ro(func() any { return a.cachedStats().Deallocated }))
	a.ctl.Register("stats.mapped", ro(func() any { return a.cachedStats().Mapped }))
	a.ctl.Register("stats.metadata", ro(func() any { return a.cachedStats().MetaMapped }))
	a.ctl.Register("stats.huge.allocated", ro(func() any { return a.cachedStats().HugeAllocated }))

	a.ctl.Register("prof.active", ctl.Node{
		Get: func() (any, error) { return a.prof.Active(), nil },
		Set: func(v any) error {
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("prof.active wants a bool, got %T", v)
			}
			a.prof.SetActive(b)
			return nil
		},
	})
}
