package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
	"riscvkern/proc/task"
)

func TestAllocAssignsFreshSlotAndPid(t *testing.T) {
	p := New()
	slot1, pid1, err := p.Alloc()
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, slot1)

	slot2, pid2, err := p.Alloc()
	require.Equal(t, defs.Err_t(0), err)
	assert.NotEqual(t, pid1, pid2)
	assert.NotSame(t, slot1, slot2)
	assert.Equal(t, 2, p.Len())
}

// TestFreeThenLookupIsNil is the TCB-slot invariant: once a slot
// is freed it no longer resolves by pid, and the slot itself is zeroed
// before returning to the free list.
func TestFreeThenLookupIsNil(t *testing.T) {
	p := New()
	slot, pid, err := p.Alloc()
	require.Equal(t, defs.Err_t(0), err)
	task.InitAt(slot, pid)

	p.Free(pid)
	assert.Nil(t, p.Lookup(pid))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, defs.Pid_t(0), slot.Pid, "freed slot must be zeroed")
}

// TestAllocDoesNotReuseLivePid is the PID-reuse invariant: a PID
// still held by a live task is never handed out again: 51 allocations with
// none freed all get distinct PIDs.
func TestAllocDoesNotReuseLivePid(t *testing.T) {
	p := New()
	_, firstPid, err := p.Alloc()
	require.Equal(t, defs.Err_t(0), err)

	seen := map[defs.Pid_t]bool{firstPid: true}
	for i := 0; i < 50; i++ {
		_, pid, err := p.Alloc()
		require.Equal(t, defs.Err_t(0), err)
		assert.False(t, seen[pid], "pid %d reused while still live", pid)
		seen[pid] = true
	}
}

func TestFreeOnUnknownPidIsNoop(t *testing.T) {
	p := New()
	assert.NotPanics(t, func() { p.Free(999) })
	assert.Equal(t, 0, p.Len())
}

func TestPoolExhaustionReturnsEAGAIN(t *testing.T) {
	p := New()
	for i := 0; i < MaxTasks; i++ {
		_, _, err := p.Alloc()
		require.Equal(t, defs.Err_t(0), err)
	}
	_, _, err := p.Alloc()
	assert.Equal(t, -defs.EAGAIN, err)
}
