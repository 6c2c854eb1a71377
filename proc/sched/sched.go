// Package sched implements the per-CPU run queue and round-robin scheduler
//. Kernel code is never preempted
// by the tick; it only yields by calling Schedule explicitly. Grounded on
// the teacher kernel's per-CPU lock-guarded structures (mem.Physmem_t's
// percpu array in mem/mem.go is the closest analog of a per-CPU-sharded
// subsystem in the teacher's own code), generalized to the task run queue
// describes; round-robin is the "simplest correct class"
// the design explicitly sanctions, substitutable for CFS without an external
// contract change.
package sched

import (
	"sync"
	"sync/atomic"

	"riscvkern/arch"
	"riscvkern/proc/task"
)

// MaxTasks is the run queue's fixed capacity.
const MaxTasks = 256

// RunQueue is one CPU's scheduling state.
type RunQueue struct {
	mu      sync.Mutex
	tasks   [MaxTasks]*task.Task
	nr      int
	current *task.Task
	idle    *task.Task
	cursor  int
}

// NewRunQueue returns an empty run queue whose current task is idle.
func NewRunQueue(idle *task.Task) *RunQueue {
	rq := &RunQueue{idle: idle, current: idle}
	return rq
}

// Current returns the task presently scheduled on this CPU.
func (rq *RunQueue) Current() *task.Task {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.current
}

// NrRunning reports how many runnable tasks (excluding idle) are queued.
func (rq *RunQueue) NrRunning() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.nr
}

// Enqueue finds the first empty slot and installs t. Per, a
// full run queue is a kernel bug; callers SHOULD treat the silent failure
// (reported here as a bool) as one, not as a recoverable condition.
func (rq *RunQueue) Enqueue(t *task.Task) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	for i, slot := range rq.tasks {
		if slot == nil {
			rq.tasks[i] = t
			rq.nr++
			return true
		}
	}
	return false
}

// Remove takes t out of the run queue array, used when a task blocks or
// exits.
func (rq *RunQueue) Remove(t *task.Task) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	for i, slot := range rq.tasks {
		if slot == t {
			rq.tasks[i] = nil
			rq.nr--
			return
		}
	}
}

// pickNextLocked implements round robin: starting from the cursor, walk up
// to MaxTasks slots and return the first non-nil, non-current task in
// Running state; else idle.
func (rq *RunQueue) pickNextLocked() *task.Task {
	for i := 0; i < MaxTasks; i++ {
		idx := (rq.cursor + i) % MaxTasks
		t := rq.tasks[idx]
		if t == nil || t == rq.current {
			continue
		}
		if t.State() == task.Running {
			rq.cursor = (idx + 1) % MaxTasks
			return t
		}
	}
	return rq.idle
}

// NeedResched is a per-CPU flag set by SchedulerTick at time-slice
// expiration; it must be checked by the trap-exit path
// before returning to user mode.
type NeedResched struct {
	flags []int32
}

func NewNeedResched(ncpus int) *NeedResched {
	return &NeedResched{flags: make([]int32, ncpus)}
}

func (n *NeedResched) Set(cpu int)   { atomic.StoreInt32(&n.flags[cpu], 1) }
func (n *NeedResched) Clear(cpu int) { atomic.StoreInt32(&n.flags[cpu], 0) }
func (n *NeedResched) Get(cpu int) bool {
	return atomic.LoadInt32(&n.flags[cpu]) != 0
}

// Scheduler owns one RunQueue per CPU plus the shared need_resched flags and
// HAL used for the actual context switch.
type Scheduler struct {
	hal arch.HAL
	rqs []*RunQueue
	nr  *NeedResched
}

// New builds a scheduler over ncpus run queues, one idle task per CPU.
func New(hal arch.HAL, idles []*task.Task) *Scheduler {
	s := &Scheduler{hal: hal, nr: NewNeedResched(len(idles))}
	s.rqs = make([]*RunQueue, len(idles))
	for i, idle := range idles {
		s.rqs[i] = NewRunQueue(idle)
	}
	return s
}

func (s *Scheduler) RunQueue(cpu int) *RunQueue { return s.rqs[cpu] }

// EnqueueTask installs t on cpu's run queue.
func (s *Scheduler) EnqueueTask(cpu int, t *task.Task) bool {
	return s.rqs[cpu].Enqueue(t)
}

// WakeUpProcess transitions a sleeping task to Running and, if it is not
// already enqueued anywhere, enqueues it on preferredCPU (// "local preferred"). It sets need_resched on preferredCPU so the woken
// task is considered at the next schedule point; the minimum round-robin
// design treats this as advisory rather than a priority preemption.
func (s *Scheduler) WakeUpProcess(t *task.Task, preferredCPU int) bool {
	if !t.CAS(task.Interruptible, task.Running) {
		if !t.CAS(task.Uninterruptible, task.Running) {
			return false
		}
	}
	queued := false
	for _, rq := range s.rqs {
		rq.mu.Lock()
		for _, slot := range rq.tasks {
			if slot == t {
				queued = true
				break
			}
		}
		rq.mu.Unlock()
	}
	if !queued {
		s.rqs[preferredCPU].Enqueue(t)
	}
	s.nr.Set(preferredCPU)
	return true
}

// SchedulerTick decrements the current task's time slice; at zero it
// refills the slice and sets need_resched. It must be called
// from the timer-interrupt path, once per tick.
func (s *Scheduler) SchedulerTick(cpu int) {
	rq := s.rqs[cpu]
	rq.mu.Lock()
	cur := rq.current
	rq.mu.Unlock()
	if cur == nil || cur == rq.idle {
		return
	}
	left := atomic.AddInt32(&cur.TimeSlice, -1)
	if left <= 0 {
		atomic.StoreInt32(&cur.TimeSlice, task.DefaultTimeSlice)
		s.nr.Set(cpu)
	}
}

// NeedResched reports whether cpu's need_resched flag is set; the trap-exit
// path calls this before returning to user mode.
func (s *Scheduler) NeedResched(cpu int) bool { return s.nr.Get(cpu) }

// Schedule runs __schedule on the calling CPU: clear need_resched, attempt a
// (stubbed) work-steal when the run queue is otherwise empty, pick the next
// task, and context switch into it if it differs from current (the design
//). ContextSwitch is handed the Context fields of the outgoing and
// incoming tasks.
func (s *Scheduler) Schedule(cpu int) {
	s.nr.Clear(cpu)
	rq := s.rqs[cpu]

	rq.mu.Lock()
	if rq.nr == 0 {
		s.tryStealLocked(cpu, rq)
	}
	next := rq.pickNextLocked()
	prev := rq.current
	if next == prev {
		rq.mu.Unlock()
		return
	}
	rq.current = next
	rq.mu.Unlock()

	s.hal.ContextSwitch(&prev.Context, &next.Context)
}

// tryStealLocked is the work-stealing stub explicitly leaves
// for implementers to expand; it currently declines to steal, preserving
// per-CPU fairness ( scenario 6) without the complexity of
// cross-run-queue migration.
func (s *Scheduler) tryStealLocked(cpu int, rq *RunQueue) {
	_ = cpu
	_ = rq
}

// Yield is the explicit in-kernel yield path: a task that must wait installs
// itself on a wait queue (owned by its caller) and calls Schedule (the design
// "Stack-based kernel" note).
func (s *Scheduler) Yield(cpu int) {
	s.Schedule(cpu)
}
