package prof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPrepare_Disabled verifies the disabled profiler costs nothing and
// decides None.
func TestPrepare_Disabled(t *testing.T) {
	p := New(false, 10, "test", true)
	var ts ThreadState

	tc := p.Prepare(&ts, 64, true)
	assert.Equal(t, None, tc.Decision)
	assert.Zero(t, ts.BytesUntil, "disabled profiler must not touch the countdown")
}

// TestPrepare_Inactive verifies that enabled-but-inactive profiling skips
// without consuming countdown.
func TestPrepare_Inactive(t *testing.T) {
	p := New(true, 10, "test", false)
	var ts ThreadState

	tc := p.Prepare(&ts, 64, true)
	assert.Equal(t, Skip, tc.Decision)
}

// TestPrepare_CountdownCrossing verifies the byte-driven schedule: small
// allocations drain the countdown and the one that crosses it is recorded.
func TestPrepare_CountdownCrossing(t *testing.T) {
	p := New(true, 10, "test", true) // 1024-byte interval
	var ts ThreadState

	// 16 x 64 bytes drains the interval exactly; each is skipped.
	for i := 0; i < 16; i++ {
		tc := p.Prepare(&ts, 64, true)
		require.Equal(t, Skip, tc.Decision, "allocation %d within the interval", i)
	}
	require.Zero(t, ts.BytesUntil)

	// The next allocation crosses and must be recorded, re-arming the
	// countdown.
	tc := p.Prepare(&ts, 64, true)
	assert.Equal(t, Record, tc.Decision)
	assert.Equal(t, uint64(1024), ts.BytesUntil)
}

// TestPrepare_ProbeDoesNotConsume verifies update=false leaves the
// schedule untouched.
func TestPrepare_ProbeDoesNotConsume(t *testing.T) {
	p := New(true, 10, "test", true)
	var ts ThreadState

	p.Prepare(&ts, 0, true) // prime
	before := ts.BytesUntil
	p.Prepare(&ts, 512, false)
	assert.Equal(t, before, ts.BytesUntil)
}

// TestCommitFreeLifecycle verifies the sample table through an allocation's
// life.
func TestCommitFreeLifecycle(t *testing.T) {
	p := New(true, 10, "test", true)

	tc := Tctx{Decision: Record}
	p.Commit(0x1000, 4096, tc)
	assert.True(t, p.Sampled(0x1000))

	live, cumAlloc, cumFreed := p.Stats()
	assert.Equal(t, 1, live)
	assert.Equal(t, uint64(4096), cumAlloc)
	assert.Zero(t, cumFreed)

	p.Free(0x1000, 4096)
	assert.False(t, p.Sampled(0x1000))
	live, _, cumFreed = p.Stats()
	assert.Zero(t, live)
	assert.Equal(t, uint64(4096), cumFreed)
}

// TestCommit_SkipIsFree verifies unsampled allocations leave no record.
func TestCommit_SkipIsFree(t *testing.T) {
	p := New(true, 10, "test", true)

	p.Commit(0x1000, 64, Tctx{Decision: Skip})
	assert.False(t, p.Sampled(0x1000))
	live, _, _ := p.Stats()
	assert.Zero(t, live)
}

// TestRollback_ReArms verifies a failed sampled allocation forces the next
// one to re-evaluate instead of silently skipping a whole interval.
func TestRollback_ReArms(t *testing.T) {
	p := New(true, 10, "test", true)
	var ts ThreadState

	// Drive the state to a Record decision.
	for {
		tc := p.Prepare(&ts, 512, true)
		if tc.Decision == Record {
			p.Rollback(&ts, tc, true)
			break
		}
	}
	assert.Zero(t, ts.BytesUntil, "rollback must zero the countdown")

	tc := p.Prepare(&ts, 16, true)
	assert.Equal(t, Record, tc.Decision, "next allocation re-takes the sample")
}

// TestMarkPromoted verifies promotion bookkeeping survives to the dump.
func TestMarkPromoted(t *testing.T) {
	p := New(true, 10, "test", true)

	p.Commit(0x1000, 4096, Tctx{Decision: Record})
	p.MarkPromoted(0x1000, 100)

	var buf bytes.Buffer
	require.NoError(t, p.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "test", "dump carries the configured prefix")
	assert.Contains(t, out, "4096")
	assert.Contains(t, out, "100", "promoted records keep the original request")
}

// TestRecordResize verifies a moved sampled object follows its pointer.
func TestRecordResize(t *testing.T) {
	p := New(true, 10, "test", true)

	p.Commit(0x1000, 4096, Tctx{Decision: Record})
	p.RecordResize(0x1000, 0x2000, 4096, 8192, Tctx{Decision: Skip})

	assert.False(t, p.Sampled(0x1000))
	assert.False(t, p.Sampled(0x2000), "an unsampled resize drops the old record")

	p.Commit(0x3000, 4096, Tctx{Decision: Record})
	p.RecordResize(0x3000, 0x4000, 4096, 8192, Tctx{Decision: Record})
	assert.True(t, p.Sampled(0x4000), "a sampled resize records the new location")
}
