// Package prof implements sampling-based allocation profiling. Sampling is
// byte-driven: each thread counts allocated bytes down from a threshold and
// the allocation that crosses it is recorded. Small sampled allocations are
// promoted by the dispatcher into the smallest large class so the sample
// record can be attached reliably; this package only tracks the records.
package prof

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Decision is the three-way outcome of preparing a sample. It replaces the
// C convention of overloading a context pointer with a sentinel value.
type Decision uint8

const (
	// None means profiling is off; the caller skips all sample work.
	None Decision = iota
	// Skip means profiling is on but this allocation is not sampled.
	Skip
	// Record means this allocation must be recorded (and promoted if
	// small).
	Record
)

// Tctx is the per-allocation sampling context handed back to Commit or
// Rollback.
type Tctx struct {
	Decision Decision
}

// ThreadState is the per-thread countdown. Owned by the thread, touched by
// no one else.
type ThreadState struct {
	BytesUntil uint64
	primed     bool
}

type sample struct {
	usable    uintptr
	requested uintptr // pre-promotion request, when promoted
	promoted  bool
}

// Profiler owns the sample table.
type Profiler struct {
	enabled  bool
	active   atomic.Bool
	interval uint64
	prefix   string

	mu      sync.Mutex
	samples map[uintptr]sample

	cumAllocated uint64
	cumFreed     uint64
}

// New builds a profiler. With enabled false every Prepare call returns None
// and the profiler costs one branch per allocation.
func New(enabled bool, lgSample uintptr, prefix string, active bool) *Profiler {
	p := &Profiler{
		enabled:  enabled,
		interval: uint64(1) << lgSample,
		prefix:   prefix,
		samples:  make(map[uintptr]sample),
	}
	p.active.Store(active)
	return p
}

// Enabled reports whether profiling was configured on.
func (p *Profiler) Enabled() bool { return p.enabled }

// Active reports whether sampling is currently running.
func (p *Profiler) Active() bool { return p.enabled && p.active.Load() }

// SetActive starts or stops sampling without discarding existing records.
func (p *Profiler) SetActive(v bool) { p.active.Store(v) }

// Prepare decides whether an allocation of usable bytes should be sampled.
// update commits the countdown movement; resize probes pass false so a
// failed resize can be rolled back without skewing the schedule.
func (p *Profiler) Prepare(ts *ThreadState, usable uintptr, update bool) Tctx {
	if !p.enabled {
		return Tctx{Decision: None}
	}
	if !p.active.Load() {
		return Tctx{Decision: Skip}
	}
	if !ts.primed {
		ts.BytesUntil = p.interval
		ts.primed = true
	}
	if ts.BytesUntil >= uint64(usable) {
		if update {
			ts.BytesUntil -= uint64(usable)
		}
		return Tctx{Decision: Skip}
	}
	if update {
		ts.BytesUntil = p.interval
	}
	return Tctx{Decision: Record}
}

// Commit records a sampled allocation.
func (p *Profiler) Commit(ptr, usable uintptr, t Tctx) {
	if t.Decision != Record {
		return
	}
	p.mu.Lock()
	p.samples[ptr] = sample{usable: usable}
	p.cumAllocated += uint64(usable)
	p.mu.Unlock()
}

// Rollback abandons a prepared sample after the allocation it was meant for
// failed, so no dangling record is left behind. updated mirrors the update
// flag passed to Prepare.
func (p *Profiler) Rollback(ts *ThreadState, t Tctx, updated bool) {
	if t.Decision != Record || !updated {
		return
	}
	// The countdown was re-armed for an allocation that never happened;
	// force the next allocation to re-evaluate.
	ts.BytesUntil = 0
}

// MarkPromoted notes that a sampled allocation was inflated from requested
// bytes to the large tier purely to carry this record.
func (p *Profiler) MarkPromoted(ptr, requested uintptr) {
	p.mu.Lock()
	if s, ok := p.samples[ptr]; ok {
		s.promoted = true
		s.requested = requested
		p.samples[ptr] = s
	}
	p.mu.Unlock()
}

// Free drops the record for ptr, if it was sampled.
func (p *Profiler) Free(ptr, usable uintptr) {
	p.mu.Lock()
	if _, ok := p.samples[ptr]; ok {
		delete(p.samples, ptr)
		p.cumFreed += uint64(usable)
	}
	p.mu.Unlock()
}

// RecordResize moves a sample across a reallocation: the old record (if
// any) is retired and the new allocation is recorded when t says so.
func (p *Profiler) RecordResize(oldPtr, newPtr, oldUsable, newUsable uintptr, t Tctx) {
	p.mu.Lock()
	if _, ok := p.samples[oldPtr]; ok {
		delete(p.samples, oldPtr)
		p.cumFreed += uint64(oldUsable)
	}
	if t.Decision == Record {
		p.samples[newPtr] = sample{usable: newUsable}
		p.cumAllocated += uint64(newUsable)
	}
	p.mu.Unlock()
}

// Sampled reports whether ptr currently carries a sample record.
func (p *Profiler) Sampled(ptr uintptr) bool {
	p.mu.Lock()
	_, ok := p.samples[ptr]
	p.mu.Unlock()
	return ok
}

// Stats returns live record count and cumulative sampled byte counters.
func (p *Profiler) Stats() (live int, cumAllocated, cumFreed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples), p.cumAllocated, p.cumFreed
}

// Dump writes the live sample table, largest first. The prefix identifies
// the profile in multi-allocator processes.
func (p *Profiler) Dump(w io.Writer) error {
	p.mu.Lock()
	type row struct {
		ptr uintptr
		s   sample
	}
	rows := make([]row, 0, len(p.samples))
	for ptr, s := range p.samples {
		rows = append(rows, row{ptr, s})
	}
	p.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].s.usable > rows[j].s.usable })
	if _, err := fmt.Fprintf(w, "%s: %d live sampled allocations\n", p.prefix, len(rows)); err != nil {
		return err
	}
	for _, r := range rows {
		if r.s.promoted {
			_, err := fmt.Fprintf(w, "  %#x: %d bytes (promoted from %d)\n",
				r.ptr, r.s.usable, r.s.requested)
			if err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "  %#x: %d bytes\n", r.ptr, r.s.usable); err != nil {
			return err
		}
	}
	return nil
}

// Prefork acquires the profiler lock ahead of fork.
func (p *Profiler) Prefork() { p.mu.Lock() }

// PostforkParent releases the profiler lock in the parent.
func (p *Profiler) PostforkParent() { p.mu.Unlock() }

// PostforkChild releases the profiler lock in the child.
func (p *Profiler) PostforkChild() { p.mu.Unlock() }
