package malloc

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/mallockit/internal/diag"
)

// newTestAllocator builds an allocator that reads only the given conf
// string, sees a fixed CPU count, and panics instead of aborting the test
// process.
func newTestAllocator(t *testing.T, conf string, ncpu int) *Allocator {
	t.Helper()
	var buf bytes.Buffer
	diag.SetWriter(&buf)
	t.Cleanup(func() { diag.SetWriter(nil) })

	a := New(BootConfig{
		BuildConf: conf,
		ReadLink:  func(string) (string, error) { return "", os.ErrNotExist },
		LookupEnv: func(string) (string, bool) { return "", false },
		NCPU:      ncpu,
	})
	a.abortFn = func() { panic("allocator abort") }
	return a
}

// TestBootstrap_Lazy verifies nothing boots until the first allocation and
// that the directory is sized from the CPU count.
func TestBootstrap_Lazy(t *testing.T) {
	a := newTestAllocator(t, "", 4)
	assert.Zero(t, a.NArenas(), "no arenas before the first allocation")

	p, err := a.Malloc(64)
	require.NoError(t, err)
	require.NotNil(t, p)
	defer a.Free(p)

	assert.Equal(t, uint32(16), a.NArenas(), "4 cpus should yield 16 directory slots")
}

// TestBootstrap_SingleCPU verifies the uniprocessor directory collapses to
// one arena.
func TestBootstrap_SingleCPU(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	p, err := a.Malloc(64)
	require.NoError(t, err)
	defer a.Free(p)

	assert.Equal(t, uint32(1), a.NArenas())
}

// TestBootstrap_NArenasOption verifies the explicit narenas override.
func TestBootstrap_NArenasOption(t *testing.T) {
	a := newTestAllocator(t, "narenas:3", 8)
	p, err := a.Malloc(64)
	require.NoError(t, err)
	defer a.Free(p)

	assert.Equal(t, uint32(3), a.NArenas())
}

// TestBootstrap_Concurrent verifies racing first allocations all get served
// and exactly one bootstrap happens.
func TestBootstrap_Concurrent(t *testing.T) {
	a := newTestAllocator(t, "", 2)

	var wg sync.WaitGroup
	ptrs := make([]unsafe.Pointer, 16)
	for i := range ptrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th := a.NewThread()
			defer th.Release()
			p, err := th.Malloc(128)
			assert.NoError(t, err)
			ptrs[i] = p
		}(i)
	}
	wg.Wait()

	seen := map[unsafe.Pointer]bool{}
	th := a.NewThread()
	defer th.Release()
	for _, p := range ptrs {
		require.NotNil(t, p)
		require.False(t, seen[p], "two callers got the same pointer")
		seen[p] = true
		require.NoError(t, th.Free(p))
	}
}

// TestMalloc_ZeroSize verifies the zero-size request yields a real, distinct
// minimal allocation.
func TestMalloc_ZeroSize(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	p1, err := th.Malloc(0)
	require.NoError(t, err)
	require.NotNil(t, p1)
	p2, err := th.Malloc(0)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "zero-size allocations must be distinct")
	assert.Equal(t, a.NallocX(1, DefaultConfig()), th.UsableSize(p1))

	require.NoError(t, th.Free(p1))
	require.NoError(t, th.Free(p2))
}

// TestMalloc_UsableAtLeastRequested sweeps sizes across all three tiers.
func TestMalloc_UsableAtLeastRequested(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	for _, size := range []uintptr{1, 16, 17, 100, 4000, 4096, 100_000, 3 << 20, 5 << 20} {
		p, err := th.Malloc(size)
		require.NoError(t, err, "size %d", size)
		got := th.UsableSize(p)
		assert.GreaterOrEqual(t, got, size, "size %d", size)

		// The usable extent must be writable end to end.
		b := th.Bytes(p)
		b[0], b[len(b)-1] = 0xaa, 0xbb
		require.NoError(t, th.Free(p))
	}
}

// TestCalloc verifies zeroing and the multiplication overflow guard.
func TestCalloc(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Calloc(10, 100)
	require.NoError(t, err)
	for i, c := range th.Bytes(p)[:1000] {
		require.Zero(t, c, "byte %d not zeroed", i)
	}
	require.NoError(t, th.Free(p))

	_, err = th.Calloc(^uintptr(0)/2, 3)
	assert.ErrorIs(t, err, ErrOutOfMemory, "overflowing product must be refused")
}

// TestRealloc_Semantics verifies the three degenerate forms and content
// preservation across a move.
func TestRealloc_Semantics(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	// Realloc(nil, n) is malloc.
	p, err := th.Realloc(nil, 100)
	require.NoError(t, err)
	require.NotNil(t, p)

	copy(th.Bytes(p), "0123456789")

	// Growth far beyond the current tier forces a move and preserves
	// content.
	p2, err := th.Realloc(p, 3<<20)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(th.Bytes(p2)[:10]))

	// Shrink back down.
	p3, err := th.Realloc(p2, 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(th.Bytes(p3)[:10]))

	// Realloc(p, 0) frees and returns nil without error.
	p4, err := th.Realloc(p3, 0)
	require.NoError(t, err)
	assert.Nil(t, p4)

	st := a.Stats()
	assert.Equal(t, st.Allocated, st.Deallocated, "books must balance after the chain")
}

// TestFree_Nil verifies the nil no-op.
func TestFree_Nil(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	assert.NoError(t, a.Free(nil))
}

// TestAlignedAlloc verifies explicit alignments and the rejection rules.
func TestAlignedAlloc(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	for _, align := range []uintptr{8, 64, 4096, 1 << 16} {
		p, err := th.AlignedAlloc(align, 100)
		require.NoError(t, err, "align %d", align)
		assert.Zero(t, uintptr(p)%align, "align %d", align)
		require.NoError(t, th.Free(p))
	}

	_, err := th.AlignedAlloc(24, 100)
	assert.ErrorIs(t, err, ErrInvalidAlignment, "non-power-of-two alignment")

	_, err = th.PosixMemalign(2, 100)
	assert.ErrorIs(t, err, ErrInvalidAlignment, "posix_memalign requires pointer-size multiples")
}

// TestPageAlloc verifies the page-aligned convenience entry point.
func TestPageAlloc(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.PageAlloc(100)
	require.NoError(t, err)
	assert.Zero(t, uintptr(p)%a.SizeClasses().LargeMin())
	require.NoError(t, th.Free(p))
}

// TestAccounting_Identity verifies that thread counters reconcile with the
// live set: allocated minus deallocated equals the usable bytes still held.
func TestAccounting_Identity(t *testing.T) {
	a := newTestAllocator(t, "", 2)
	th := a.NewThread()
	defer th.Release()

	live := map[unsafe.Pointer]uintptr{}
	var wantLive uint64
	sizes := []uintptr{1, 24, 100, 500, 3000, 5000, 80_000, 3 << 20}
	for round := 0; round < 4; round++ {
		for _, size := range sizes {
			p, err := th.Malloc(size)
			require.NoError(t, err)
			live[p] = th.UsableSize(p)
			wantLive += uint64(live[p])
		}
		// Free every other one.
		i := 0
		for p, usable := range live {
			if i%2 == 0 {
				require.NoError(t, th.Free(p))
				wantLive -= uint64(usable)
				delete(live, p)
			}
			i++
		}
	}

	assert.Equal(t, wantLive, th.AllocatedBytes()-th.DeallocatedBytes())

	for p := range live {
		require.NoError(t, th.Free(p))
	}
	assert.Equal(t, th.AllocatedBytes(), th.DeallocatedBytes())
}

// TestDirectory_SpreadsThreads verifies the load balancer: with N slots, N
// threads land on N distinct arenas and thread N+1 shares the least
// loaded.
func TestDirectory_SpreadsThreads(t *testing.T) {
	const n = 4
	a := newTestAllocator(t, "narenas:4", 8)

	var threads []*Thread
	seen := map[uint32]bool{}
	for i := 0; i < n; i++ {
		th := a.NewThread()
		threads = append(threads, th)
		p, err := th.Malloc(64)
		require.NoError(t, err)
		require.NoError(t, th.Free(p))

		require.NotNil(t, th.arena, "allocation must bind the thread")
		ind := th.arena.Ind()
		assert.False(t, seen[ind], "thread %d re-used arena %d while empty slots remained", i, ind)
		seen[ind] = true
	}

	extra := a.NewThread()
	threads = append(threads, extra)
	p, err := extra.Malloc(64)
	require.NoError(t, err)
	require.NoError(t, extra.Free(p))
	require.NotNil(t, extra.arena)
	assert.True(t, seen[extra.arena.Ind()],
		"with every slot populated the extra thread must share an existing arena")
	assert.Equal(t, uint32(2), extra.arena.NThreads())

	for _, th := range threads {
		th.Release()
	}
}

// TestThreadRelease_FoldsCounters verifies released threads keep the
// allocator-wide books intact.
func TestThreadRelease_FoldsCounters(t *testing.T) {
	a := newTestAllocator(t, "", 1)

	th := a.NewThread()
	p, err := th.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, th.Free(p))
	allocated := th.AllocatedBytes()
	require.NotZero(t, allocated)
	th.Release()

	st := a.Stats()
	assert.Equal(t, allocated, st.Allocated, "released thread counters fold into the totals")
	assert.Equal(t, st.Allocated, st.Deallocated)
}

// TestMallocX_ExplicitArena verifies pinning to a slot and the invalid
// index error.
func TestMallocX_ExplicitArena(t *testing.T) {
	a := newTestAllocator(t, "narenas:2", 4)
	th := a.NewThread()
	defer th.Release()

	c := DefaultConfig()
	c.Arena = 0
	p, err := th.MallocX(100, c)
	require.NoError(t, err)
	require.NoError(t, th.DallocX(p, c))

	c.Arena = 99
	_, err = th.MallocX(100, c)
	assert.ErrorIs(t, err, ErrBadArena)

	c.Arena = 1
	_, err = th.MallocX(100, c)
	assert.ErrorIs(t, err, ErrBadArena, "an unpopulated slot is not a valid override target")
}

// TestXallocX verifies in-place-only growth: success into free tail,
// old size back when growth is impossible.
func TestXallocX(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	c := DefaultConfig()
	p, err := th.MallocX(128, c)
	require.NoError(t, err)
	require.Equal(t, uintptr(128), th.SallocX(p))

	grown := th.XallocX(p, 8192, 0, c)
	assert.GreaterOrEqual(t, grown, uintptr(8192), "tail of a fresh chunk is free, growth succeeds")
	assert.Equal(t, grown, th.SallocX(p), "recorded size follows the resize")

	// Growing past the whole chunk cannot happen in place.
	same := th.XallocX(p, a.Options().ChunkSize()*2, 0, c)
	assert.Equal(t, grown, same, "impossible growth returns the unchanged usable size")

	require.NoError(t, th.DallocX(p, c))
}

// TestSdallocX verifies the sized free accepts a size that maps to the
// allocation's class.
func TestSdallocX(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, th.SdallocX(p, 100, DefaultConfig()))
}

// TestNallocX verifies size prediction agrees with allocation.
func TestNallocX(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	th := a.NewThread()
	defer th.Release()

	for _, size := range []uintptr{1, 100, 5000, 3 << 20} {
		want := a.NallocX(size, DefaultConfig())
		p, err := th.Malloc(size)
		require.NoError(t, err)
		assert.Equal(t, want, th.UsableSize(p), "size %d", size)
		require.NoError(t, th.Free(p))
	}
}

// TestOptZero verifies the global zero option reaches every entry point.
func TestOptZero(t *testing.T) {
	a := newTestAllocator(t, "zero:true", 1)
	th := a.NewThread()
	defer th.Release()

	// Dirty a cell, free it into the cache, take it back out.
	p, err := th.Malloc(256)
	require.NoError(t, err)
	for i := range th.Bytes(p) {
		th.Bytes(p)[i] = 0xff
	}
	require.NoError(t, th.Free(p))

	p, err = th.Malloc(256)
	require.NoError(t, err)
	for i, c := range th.Bytes(p) {
		require.Zero(t, c, "byte %d dirty under opt.zero", i)
	}
	require.NoError(t, th.Free(p))
}

// TestOptAbort verifies strict mode escalates an invalid argument to the
// abort hook.
func TestOptAbort(t *testing.T) {
	a := newTestAllocator(t, "abort:true", 1)
	th := a.NewThread()
	defer th.Release()

	// Boot first; strict aborts only apply once options are known.
	p, err := th.Malloc(8)
	require.NoError(t, err)
	require.NoError(t, th.Free(p))

	assert.PanicsWithValue(t, "allocator abort", func() {
		th.AlignedAlloc(24, 100) //nolint:errcheck
	})
}

// TestProf_PromotesSampledSmall verifies that with sampling every
// allocation, a small request is promoted to the smallest large class and
// accounted at the promoted size.
func TestProf_PromotesSampledSmall(t *testing.T) {
	a := newTestAllocator(t, "prof:true,lg_prof_sample:0", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(10)
	require.NoError(t, err)

	largeMin := a.SizeClasses().LargeMin()
	assert.Equal(t, largeMin, th.UsableSize(p), "sampled small allocation is promoted")
	assert.Equal(t, uint64(largeMin), th.AllocatedBytes(), "counters record the promoted size")

	st := a.Stats()
	assert.Equal(t, 1, st.ProfLive)

	require.NoError(t, th.Free(p))
	st = a.Stats()
	assert.Zero(t, st.ProfLive, "freeing drops the sample record")
	assert.Equal(t, th.AllocatedBytes(), th.DeallocatedBytes())
}

// TestProf_InactiveSkips verifies prof_active:false samples nothing while
// leaving profiling compiled in.
func TestProf_InactiveSkips(t *testing.T) {
	a := newTestAllocator(t, "prof:true,prof_active:false,lg_prof_sample:0", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(10)
	require.NoError(t, err)
	assert.Less(t, th.UsableSize(p), a.SizeClasses().LargeMin(), "no promotion without sampling")
	assert.Zero(t, a.Stats().ProfLive)
	require.NoError(t, th.Free(p))
}

// TestFork_RoundTrip verifies the coordinator quiesces and releases every
// lock so allocation works before, between, and after.
func TestFork_RoundTrip(t *testing.T) {
	a := newTestAllocator(t, "narenas:2", 4)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(1000)
	require.NoError(t, err)

	a.BeforeFork()
	a.AfterForkParent()

	p2, err := th.Malloc(1000)
	require.NoError(t, err, "allocator must work after a fork round trip")
	require.NoError(t, th.Free(p))
	require.NoError(t, th.Free(p2))

	a.BeforeFork()
	a.AfterForkChild()
	p3, err := th.Malloc(1000)
	require.NoError(t, err, "child-side release must also restore the allocator")
	require.NoError(t, th.Free(p3))
}

// TestFork_UnbootedNoop verifies the coordinator tolerates a never-used
// allocator.
func TestFork_UnbootedNoop(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	a.BeforeFork()
	a.AfterForkParent()
	assert.Zero(t, a.NArenas())
}

// TestCtl_Namespace verifies the introspection tree serves configuration
// and epoch-cached statistics.
func TestCtl_Namespace(t *testing.T) {
	a := newTestAllocator(t, "narenas:2", 4)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(1000)
	require.NoError(t, err)

	tree := a.Ctl()
	require.NotNil(t, tree)

	v, err := tree.Read("version")
	require.NoError(t, err)
	assert.Equal(t, Version, v)

	v, err = tree.Read("arenas.narenas")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v)

	// Stats are epoch-cached: advance the epoch, then read.
	require.NoError(t, tree.Write("epoch", uint64(1)))
	v, err = tree.Read("stats.allocated")
	require.NoError(t, err)
	assert.NotZero(t, v.(uint64))

	require.NoError(t, th.Free(p))
}

// TestStatsPrint_Report verifies the report renders and carries the
// version line.
func TestStatsPrint_Report(t *testing.T) {
	a := newTestAllocator(t, "", 1)
	p, err := a.Malloc(100)
	require.NoError(t, err)
	defer a.Free(p)

	var buf bytes.Buffer
	require.NoError(t, a.StatsPrint(&buf))
	assert.Contains(t, buf.String(), "version: "+Version)
	assert.Contains(t, buf.String(), "allocated:")
}

// TestShutdown_StatsPrintOption verifies the exit dump honors the
// stats_print option.
func TestShutdown_StatsPrintOption(t *testing.T) {
	a := newTestAllocator(t, "stats_print:true", 1)
	p, err := a.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	var buf bytes.Buffer
	a.Shutdown(&buf)
	assert.Contains(t, buf.String(), "version: "+Version)

	quietA := newTestAllocator(t, "", 1)
	p, err = quietA.Malloc(100)
	require.NoError(t, err)
	require.NoError(t, quietA.Free(p))
	var quiet bytes.Buffer
	quietA.Shutdown(&quiet)
	assert.Empty(t, quiet.String(), "no dump without stats_print")
}

// TestConcurrentWorkload hammers the allocator from several handles and
// checks the global books balance afterwards.
func TestConcurrentWorkload(t *testing.T) {
	a := newTestAllocator(t, "narenas:4", 8)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uintptr) {
			defer wg.Done()
			th := a.NewThread()
			defer th.Release()

			var ptrs []unsafe.Pointer
			for i := uintptr(0); i < 200; i++ {
				size := (seed+i)*37%8192 + 1
				p, err := th.Malloc(size)
				if !assert.NoError(t, err) {
					return
				}
				ptrs = append(ptrs, p)
				if i%3 == 0 {
					last := ptrs[len(ptrs)-1]
					ptrs = ptrs[:len(ptrs)-1]
					if !assert.NoError(t, th.Free(last)) {
						return
					}
				}
			}
			for _, p := range ptrs {
				if !assert.NoError(t, th.Free(p)) {
					return
				}
			}
		}(uintptr(g))
	}
	wg.Wait()

	st := a.Stats()
	assert.Equal(t, st.Allocated, st.Deallocated, "every byte allocated must come back")
}

// TestAllocator_ConvenienceConcurrent hammers the handle-free Allocator
// entry points from many goroutines. They all share one fallback handle,
// so this exercises the serialization around its cache and counters;
// every pointer handed out must be distinct and every free must succeed.
func TestAllocator_ConvenienceConcurrent(t *testing.T) {
	a := newTestAllocator(t, "", 4)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[unsafe.Pointer]struct{})
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uintptr) {
			defer wg.Done()
			for i := uintptr(0); i < 100; i++ {
				size := (seed+i)*53%2048 + 1
				p, err := a.Malloc(size)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				_, dup := seen[p]
				seen[p] = struct{}{}
				mu.Unlock()
				if !assert.False(t, dup, "live pointer handed out twice") {
					return
				}
				mu.Lock()
				delete(seen, p)
				mu.Unlock()
				if !assert.NoError(t, a.Free(p)) {
					return
				}
			}
		}(uintptr(g))
	}
	wg.Wait()

	st := a.Stats()
	assert.Equal(t, st.Allocated, st.Deallocated, "every byte allocated must come back")
}

// forkRecorder wraps a fork-list subsystem and logs every quiesce call,
// so tests can assert the coordinator's ordering contract.
type forkRecorder struct {
	inner    quiescer
	name     string
	log      *[]string
	acquired int
	released int
}

func (r *forkRecorder) Prefork() {
	r.acquired++
	*r.log = append(*r.log, "acquire "+r.name)
	r.inner.Prefork()
}

func (r *forkRecorder) PostforkParent() {
	r.released++
	*r.log = append(*r.log, "parent "+r.name)
	r.inner.PostforkParent()
}

func (r *forkRecorder) PostforkChild() {
	r.released++
	*r.log = append(*r.log, "child "+r.name)
	r.inner.PostforkChild()
}

// TestFork_LockOrderAndRelease instruments the fork list and verifies the
// full contract: acquisition in list order, release in exact reverse
// order on both the parent and child paths, and exactly one release per
// subsystem per fork.
func TestFork_LockOrderAndRelease(t *testing.T) {
	a := newTestAllocator(t, "narenas:2", 2)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(64)
	require.NoError(t, err)
	require.NoError(t, th.Free(p))

	names := []string{"ctl", "prof", "arenas", "chunk", "base", "huge"}
	require.Len(t, a.forkList, len(names))

	var log []string
	recs := make([]*forkRecorder, len(a.forkList))
	for i, q := range a.forkList {
		recs[i] = &forkRecorder{inner: q, name: names[i], log: &log}
		a.forkList[i] = recs[i]
	}

	a.BeforeFork()
	a.AfterForkParent()
	require.Equal(t, []string{
		"acquire ctl", "acquire prof", "acquire arenas",
		"acquire chunk", "acquire base", "acquire huge",
		"parent huge", "parent base", "parent chunk",
		"parent arenas", "parent prof", "parent ctl",
	}, log, "parent path must release in exact reverse acquisition order")

	log = log[:0]
	a.BeforeFork()
	a.AfterForkChild()
	require.Equal(t, []string{
		"acquire ctl", "acquire prof", "acquire arenas",
		"acquire chunk", "acquire base", "acquire huge",
		"child huge", "child base", "child chunk",
		"child arenas", "child prof", "child ctl",
	}, log, "child path must release in exact reverse acquisition order")

	for _, r := range recs {
		assert.Equal(t, 2, r.acquired, "%s acquired once per fork", r.name)
		assert.Equal(t, 2, r.released, "%s released once per fork", r.name)
	}

	p, err = th.Malloc(64)
	require.NoError(t, err, "allocator must still work after instrumented forks")
	require.NoError(t, th.Free(p))
}

// TestXallocX_MisalignedPointer verifies an in-place resize refuses an
// alignment request the pointer cannot satisfy without moving.
func TestXallocX_MisalignedPointer(t *testing.T) {
	a := newTestAllocator(t, "tcache:false", 1)
	th := a.NewThread()
	defer th.Release()

	p, err := th.Malloc(48)
	require.NoError(t, err)
	require.NotZero(t, uintptr(p)&(4096-1), "need a pointer that is not page aligned")
	old := th.SallocX(p)

	c := DefaultConfig()
	c.LgAlign = 12
	got := th.XallocX(p, 4096, 0, c)
	assert.Equal(t, old, got, "a misaligned pointer must report no size change")
	require.NoError(t, th.Free(p))
}

// TestDallocX_ArenaOverrideCaching verifies an explicit arena override only
// bypasses the thread cache when it names a foreign arena.
func TestDallocX_ArenaOverrideCaching(t *testing.T) {
	a := newTestAllocator(t, "narenas:2", 2)
	th := a.NewThread()
	defer th.Release()

	p1, err := th.Malloc(64)
	require.NoError(t, err)
	p2, err := th.Malloc(64)
	require.NoError(t, err)
	require.NotNil(t, th.cache, "small allocations must build the thread cache")
	owner := int(th.arena.Ind())

	c := DefaultConfig()
	c.Arena = owner + 1
	require.NoError(t, th.DallocX(p1, c))
	assert.Zero(t, th.cache.Cached(), "a foreign arena override must bypass the cache")

	c.Arena = owner
	require.NoError(t, th.DallocX(p2, c))
	assert.Equal(t, 1, th.cache.Cached(), "a matching arena override must still cache the free")
}
