package malloc

import (
	"os"
	"sync"
	"sync/atomic"

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

// Version identifies the allocator build. Surfaced through the "version"
// introspection node and the mallocctl CLI.
const Version = "0.1.0"

// BootConfig seeds an Allocator before bootstrap. The zero value boots with
// compiled-in defaults, the conventional config file path, and the process
// environment.
type BootConfig struct {
	// BuildConf is the compiled-in option string, the lowest-precedence
	// source. Empty means no build-time options.
	BuildConf string

	// ConfPath overrides the config symlink path read during bootstrap.
	ConfPath string

	// EnvVar overrides the environment variable consulted last.
	EnvVar string

	// ReadLink and LookupEnv replace the process-level lookups, for tests.
	ReadLink  func(string) (string, error)
	LookupEnv func(string) (string, bool)

	// SizeClass selects the size-class geometry. Zero value means the
	// default preset.
	SizeClass sizeclass.Config

	// NCPU overrides CPU detection when positive.
	NCPU int
}

func (bc BootConfig) sources() config.Sources {
	return config.Sources{
		Build:     bc.BuildConf,
		ConfPath:  bc.ConfPath,
		EnvVar:    bc.EnvVar,
		ReadLink:  bc.ReadLink,
		LookupEnv: bc.LookupEnv,
	}
}

// Allocator is the coordination front end: it owns bootstrap, the arena
// directory, and the dispatch policy that routes requests to arenas, the
// huge-object path, and per-thread caches.
//
// All fields below initLock are written only during bootstrap or while
// holding the documented mutex.
type Allocator struct {
	boot BootConfig

	initialized  atomic.Bool
	initLock     sync.Mutex
	initializing bool
	bootErr      error

	opts   config.Options
	table  *sizeclass.Table
	base   *base.Base
	chunks *chunk.Manager
	huge   *huge.Huge
	prof   *prof.Profiler
	ctl    *ctl.Tree
	env    arena.Env

	// arenasMu guards the directory slice and every slot in it. The slice
	// itself lives in base-allocated memory after bootstrap, so it is
	// never moved or scanned by the garbage collector.
	arenasMu    sync.Mutex
	arenas      []*arena.Arena
	narenasAuto uint32
	ncpus       int

	forkList []quiescer

	threadsMu       sync.Mutex
	threads         map[*Thread]struct{}
	deadAllocated   uint64
	deadDeallocated uint64

	// fallbackMu serializes the shared fallback handle: its lazy creation
	// and every operation routed through it, because a Thread is
	// single-caller by contract.
	fallbackMu sync.Mutex
	fallback   *Thread

	// statsMu guards the epoch-cached snapshot served by introspection
	// reads.
	statsMu    sync.Mutex
	statsCache Stats

	// abortFn runs on fatal conditions (xmalloc exhaustion, opt:abort
	// diagnostics). Overridable in tests.
	abortFn func()
}

// New returns an unbooted Allocator. Bootstrap runs lazily on the first
// allocation, mirroring the usual lazy-init contract of malloc front ends.
func New(bc BootConfig) *Allocator {
	if bc.SizeClass.Quantum == 0 {
		bc.SizeClass = sizeclass.ConfigDefault
	}
	return &Allocator{
		boot:    bc,
		threads: make(map[*Thread]struct{}),
		abortFn: func() { os.Exit(2) },
	}
}

// Options returns the option set resolved during bootstrap. Valid only
// after the allocator has initialized.
func (a *Allocator) Options() config.Options {
	return a.opts
}

// SizeClasses exposes the size-class table for introspection tooling.
func (a *Allocator) SizeClasses() *sizeclass.Table {
	return a.table
}

// Ctl exposes the introspection tree. Nil before bootstrap.
func (a *Allocator) Ctl() *ctl.Tree {
	return a.ctl
}

// NArenas reports the number of directory slots. Zero before bootstrap.
func (a *Allocator) NArenas() uint32 {
	if !a.initialized.Load() {
		return 0
	}
	return a.narenasAuto
}

// fatal reports a state-corrupting condition and aborts unconditionally;
// the heap cannot be trusted past this point regardless of options.
func (a *Allocator) fatal(msg string) {
	diag.Write(msg)
	a.abortFn()
}

// argError reports an invalid argument. Strict mode turns these into a
// process abort; otherwise the caller gets the sentinel back.
func (a *Allocator) argError(err error, msg string) error {
	diag.Write(msg)
	if a.initialized.Load() && a.opts.Abort {
		a.abortFn()
	}
	return err
}

// oom funnels allocation failures through the xmalloc policy.
func (a *Allocator) oom(op string) error {
	if a.initialized.Load() && a.opts.Xmalloc {
		diag.Writef("error in %s(): out of memory", op)
		a.abortFn()
	}
	return ErrOutOfMemory
}
