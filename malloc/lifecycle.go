package malloc

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/joshuapare/mallockit/internal/diag"
	"github.com/joshuapare/mallockit/malloc/arena"
	"github.com/joshuapare/mallockit/malloc/base"
	"github.com/joshuapare/mallockit/malloc/chunk"
	"github.com/joshuapare/mallockit/malloc/config"
	"github.com/joshuapare/mallockit/malloc/ctl"
	"github.com/joshuapare/mallockit/malloc/huge"
	"github.com/joshuapare/mallockit/malloc/prof"
	"github.com/joshuapare/mallockit/malloc/sizeclass"
)

// ensureReady is the fast path of lazy bootstrap: a single atomic load when
// the allocator is up, the full one-time sequence otherwise.
func (a *Allocator) ensureReady(th *Thread) error {
	if a.initialized.Load() {
		return nil
	}
	return a.initHard(th)
}

// initHard runs the serialized bootstrap. Exactly one caller performs the
// work; concurrent callers wait for it, and re-entrant calls from the
// initializing thread itself (the bootstrap sequence allocates) are waved
// through so they can be satisfied by the partially built allocator.
func (a *Allocator) initHard(th *Thread) error {
	a.initLock.Lock()
	if a.initialized.Load() {
		a.initLock.Unlock()
		return nil
	}
	if th != nil && th.initOwner {
		// Recursive entry from the bootstrap sequence itself. The
		// single bootstrap arena is already in place.
		a.initLock.Unlock()
		return nil
	}
	if a.bootErr != nil {
		a.initLock.Unlock()
		return a.bootErr
	}
	if a.initializing {
		// Another thread is mid-bootstrap. Wait it out; the
		// initializer drops the lock partway through, so waiters
		// must re-check rather than assume lock-holder == done.
		for a.initializing && !a.initialized.Load() {
			a.initLock.Unlock()
			runtime.Gosched()
			a.initLock.Lock()
		}
		err := a.bootErr
		a.initLock.Unlock()
		return err
	}

	a.initializing = true
	if th != nil {
		th.initOwner = true
	}
	err := a.bootLocked()
	if err != nil {
		a.bootErr = fmt.Errorf("%w: %v", ErrBootFailed, err)
		err = a.bootErr
		diag.Writef("bootstrap failed: %v", err)
	} else {
		a.initialized.Store(true)
	}
	a.initializing = false
	if th != nil {
		th.initOwner = false
	}
	a.initLock.Unlock()
	return err
}

// bootLocked performs the ordered bootstrap under initLock. The subsystem
// order matters: each stage may allocate only through stages booted before
// it, and the lock is dropped exactly once, after a working single-arena
// allocator exists, so that environment probes may recursively allocate.
func (a *Allocator) bootLocked() error {
	// Thread registry storage first; Thread handles are the rendition of
	// thread-specific data and everything downstream may touch them.
	if a.threads == nil {
		a.threads = make(map[*Thread]struct{})
	}

	// Profiling pre-boot seeds the defaults the option parser may then
	// override, then the parser runs across all three sources.
	a.opts = config.Defaults()
	pendingDSS := a.opts.DSS
	config.Parse(&a.opts, a.boot.sources(), func(name string) error {
		if err := chunk.ValidateDSS(name); err != nil {
			return err
		}
		pendingDSS = name
		return nil
	})
	chunkSize := a.opts.ChunkSize()

	a.base = base.New(chunkSize)
	cm, err := chunk.NewManager(chunkSize)
	if err != nil {
		return err
	}
	if err := cm.SetDSSPrec(pendingDSS); err != nil {
		return err
	}
	a.chunks = cm

	a.ctl = ctl.New(a.refreshStats)
	if err := a.ctl.Boot(); err != nil {
		return err
	}

	a.prof = prof.New(a.opts.Prof, a.opts.LgProfSample, a.opts.ProfPrefix, a.opts.ProfActive)

	a.table = sizeclass.New(a.boot.SizeClass, chunkSize, chunk.HeaderSize)
	if a.table.NumSmallClasses() > arena.MaxBins {
		return fmt.Errorf("size-class config %q needs %d bins, arena supports %d",
			a.table.Name(), a.table.NumSmallClasses(), arena.MaxBins)
	}
	a.env = arena.Env{Table: a.table, Chunks: a.chunks, Junk: a.opts.Junk}

	a.huge = huge.New(a.chunks)

	// Bootstrap arena directory: a single-slot registry backed by
	// ordinary memory, enough to serve recursive allocations until the
	// permanent directory is carved out of base below.
	bootDir := make([]*arena.Arena, 1)
	a0, err := arena.New(a.base, 0)
	if err != nil {
		return err
	}
	bootDir[0] = a0
	a.arenas = bootDir
	a.narenasAuto = 1

	// Everything an allocation needs now exists. Drop the init lock so
	// the remaining probes may allocate recursively through arena 0.
	a.initLock.Unlock()

	ncpus := a.boot.NCPU
	if ncpus <= 0 {
		ncpus = runtime.NumCPU()
	}
	a.buildForkList()

	a.initLock.Lock()
	a.ncpus = ncpus

	narenas := a.opts.NArenas
	if narenas == 0 {
		narenas = 1
		if ncpus > 1 {
			narenas = uintptr(ncpus) << 2
		}
	}
	ptrSize := uintptr(unsafe.Sizeof(uintptr(0)))
	if maxArenas := chunkSize / ptrSize; narenas > maxArenas {
		narenas = maxArenas
		diag.Writef("reducing narenas to limit (%d)", narenas)
	}
	a.narenasAuto = uint32(narenas)

	// Permanent directory in base memory: never moved, never scanned,
	// safe to read from signal-constrained contexts.
	raw, err := a.base.Alloc(narenas * ptrSize)
	if err != nil {
		return err
	}
	dir := unsafe.Slice((**arena.Arena)(unsafe.Pointer(raw)), narenas)
	dir[0] = bootDir[0]
	a.arenas = dir

	a.registerCtlNodes()
	return nil
}
