// Package pool implements the fixed-capacity task-control-block storage
// and PID allocator that backs fork: exactly one of (tasks[i], next_free)
// is live per TCB slot, and PIDs are allocated monotonically with
// ID-reuse after wraparound only if the ID is otherwise free. Grounded on
// original_source/kernel/src/process/sched.rs's do_fork, which calls a
// separate alloc_pid() before constructing the child Task in place; this
// package is that split out into its own allocator+pool, since the pack's
// copy of sched.rs elides pid.rs. Like proc/sched.RunQueue it stores tasks
// in a fixed array, but free slots are kept on a LIFO index stack rather
// than found by RunQueue's first-null-slot scan, and PID reuse is tracked too.
package pool

import (
	"sync"

	"riscvkern/kernel/defs"
	"riscvkern/proc/task"
)

// MaxTasks bounds the pool the way proc/sched.MaxTasks bounds a run queue;
// the two are independent constants (a task can exist in the pool while
// temporarily off every run queue, e.g. blocked in Wait4).
const MaxTasks = 4096

// Pool owns MaxTasks TCB slots and a monotonic PID counter. Slot i and
// nextFree[i] are never both meaningful at once: a slot holding a live
// task is not on the free list, and a free slot's Task is zeroed.
type Pool struct {
	mu       sync.Mutex
	slots    [MaxTasks]task.Task
	inUse    [MaxTasks]bool
	free     []int32 // indices of unused slots, LIFO
	nextPid  defs.Pid_t
	byPid    map[defs.Pid_t]int32
}

// New returns an empty pool with every slot free and the PID counter
// seeded at 1 (PID 0 is reserved for the per-CPU idle tasks).
func New() *Pool {
	p := &Pool{nextPid: 1, byPid: make(map[defs.Pid_t]int32, MaxTasks)}
	p.free = make([]int32, MaxTasks)
	for i := range p.free {
		p.free[i] = int32(MaxTasks - 1 - i)
	}
	return p
}

// allocPidLocked returns the next PID not currently live, wrapping around
// a 32-bit counter and skipping any PID still held by byPid: a PID is only
// reused after wraparound if it is otherwise free.
func (p *Pool) allocPidLocked() (defs.Pid_t, defs.Err_t) {
	for tries := 0; tries < MaxTasks+1; tries++ {
		pid := p.nextPid
		p.nextPid++
		if p.nextPid <= 0 {
			p.nextPid = 1
		}
		if _, live := p.byPid[pid]; !live {
			return pid, 0
		}
	}
	return 0, -defs.EAGAIN
}

// Alloc reserves a free slot and a fresh PID, returning a pointer to the
// zeroed (not yet constructed) slot. The caller constructs the TCB in
// place via task.InitAt or Task.DoFork, per the construct-in-slot
// idiom; Alloc itself never touches slot contents beyond reservation
// bookkeeping.
func (p *Pool) Alloc() (*task.Task, defs.Pid_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, 0, -defs.EAGAIN
	}
	pid, err := p.allocPidLocked()
	if err != 0 {
		return nil, 0, err
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true
	p.byPid[pid] = idx
	return &p.slots[idx], pid, 0
}

// Lookup returns the task owning pid, or nil if no live slot holds it.
func (p *Pool) Lookup(pid defs.Pid_t) *task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.byPid[pid]
	if !ok {
		return nil
	}
	return &p.slots[idx]
}

// Free returns pid's slot to the free list once its task has been reaped;
// the TCB is never freed until the parent reaps it. Calling Free on a pid
// not presently live is a no-op.
func (p *Pool) Free(pid defs.Pid_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.byPid[pid]
	if !ok {
		return
	}
	delete(p.byPid, pid)
	p.inUse[idx] = false
	p.slots[idx] = task.Task{}
	p.free = append(p.free, idx)
}

// Len reports how many slots are currently live, for tests and /proc
// accounting.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPid)
}
