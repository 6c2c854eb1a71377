// Package task implements the task control block and the fork/exit
// lifecycle. Construction happens in place at a caller-owned slot rather
// than by value return, so a ~kilobyte TCB is never copied through the
// stack during fork. Grounded on the teacher kernel's accnt/accnt.go and
// tinfo/tinfo.go (per-task accounting and thread-note bookkeeping, both
// mutex-guarded value types embedded by reference into the owning task),
// generalized into a single TCB.
package task

import (
	"sync"
	"sync/atomic"

	"riscvkern/arch"
	"riscvkern/kernel/accnt"
	"riscvkern/kernel/defs"
	"riscvkern/mm/vma"
	"riscvkern/signal"
	"riscvkern/vfs/fd"
)

// State is the task's scheduling state.
type State int32

const (
	Running State = iota
	Interruptible
	Uninterruptible
	Zombie
	Stopped
	Dead
)

// Policy is the scheduling policy; this implementation only does round
// robin, but the field exists so a CFS-style scheduler can be substituted
// without changing the TCB layout.
type Policy int

const (
	PolicyRR Policy = iota
)

// Signal is the per-process-shared signal disposition table (signal.Signals
// itself); named here so ForkParams reads naturally without repeating the
// signal package's qualifier at every call site.
type Signal = *signal.Signals

// Fdtable is the per-task (or process-shared) file descriptor table
// (vfs/fd.Table itself); aliased for the same reason as Signal.
type Fdtable = *fd.Table

// Task is the TCB. AS == nil means a kernel thread, and State==Zombie
// holds until the parent reaps via Wait4.
type Task struct {
	state int32 // atomic State

	Pid  defs.Pid_t
	Tgid defs.Pid_t

	Policy       Policy
	StaticPrio   int
	NormalPrio   int
	DynamicPrio  int
	TimeSlice    int32 // remaining ticks

	Context arch.Context

	KernelStack []byte // nil for the idle task
	AS          *vma.AddressSpace
	Fdtable     Fdtable
	Sig         Signal

	Pending        signal.Pending
	PendingSignals uint64 // atomic bitmap, mirrors Pending.All() for external inspection
	SigMask        uint64
	SigAltStack    SigStack
	SigSaved       signal.SavedFrame // pre-handler frame, valid while inside a handler

	Parent   *Task
	Children []*Task

	Cwd string // absolute path, "/" for a freshly constructed task

	ExitCode int

	Accnt accnt.Accnt

	mu sync.Mutex
	// waitq wakes a parent blocked in Wait4 when this task (or a child)
	// changes state.
	waitq chan struct{}
}

// SigStack mirrors sigaltstack(2)'s registered alternate signal stack.
type SigStack struct {
	SP    uint64
	Size  uint64
	OnStack bool
}

// State returns the task's current scheduling state.
func (t *Task) State() State { return State(atomic.LoadInt32(&t.state)) }

// SetState stores a new scheduling state.
func (t *Task) SetState(s State) { atomic.StoreInt32(&t.state, int32(s)) }

// CAS atomically transitions state from old to new, reporting success.
func (t *Task) CAS(old, new State) bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(old), int32(new))
}

// IsKernelThread reports whether the task has no address space.
func (t *Task) IsKernelThread() bool { return t.AS == nil }

// InitAt constructs an idle or first task in place at slot, using the
// construct-in-slot idiom. pid==0 is reserved for the one static idle
// task: no address space, no fdtable, no signal struct.
func InitAt(slot *Task, pid defs.Pid_t) {
	*slot = Task{}
	slot.Pid = pid
	slot.Tgid = pid
	slot.state = int32(Running)
	slot.TimeSlice = DefaultTimeSlice
	slot.Cwd = "/"
	slot.waitq = make(chan struct{}, 1)
}

// DefaultTimeSlice is the per-task tick allotment the
// scheduler_tick decrements (10 ticks ~= 100ms at the conventional 10ms
// tick period, matching the teacher-adjacent reference kernel's
// DEFAULT_TIME_SLICE_MS/tick-period ratio).
const DefaultTimeSlice = 10

// CloneFlags controls what do_fork shares vs. duplicates.
type CloneFlags uint32

const (
	CloneVM CloneFlags = 1 << iota
	CloneFiles
	CloneSighand
	CloneThread
)

// ForkParams bundles do_fork's non-slot arguments.
type ForkParams struct {
	Flags      CloneFlags
	ChildSlot  *Task
	ChildPid   defs.Pid_t
	CloneAS    func(*vma.AddressSpace) *vma.AddressSpace // COW duplication
	ShareAS    func(*vma.AddressSpace) *vma.AddressSpace // CLONE_VM
	CloneFdtable func(Fdtable) Fdtable
	ShareFdtable func(Fdtable) Fdtable
	CloneSignal  func(Signal) Signal
	ShareSignal  func(Signal) Signal
}

// DoFork constructs a child TCB in place at p.ChildSlot, cloning the
// parent's CPU context with the child's return register zeroed, and
// sharing/cloning the address space, fdtable, and signal struct according
// to p.Flags.
func (parent *Task) DoFork(p ForkParams) *Task {
	child := p.ChildSlot
	*child = Task{}
	child.Pid = p.ChildPid
	child.Tgid = p.ChildPid
	child.state = int32(Running)
	child.TimeSlice = DefaultTimeSlice
	child.waitq = make(chan struct{}, 1)
	child.Policy = parent.Policy
	child.StaticPrio = parent.StaticPrio
	child.NormalPrio = parent.NormalPrio
	child.DynamicPrio = parent.DynamicPrio
	child.Cwd = parent.Cwd

	child.Context = parent.Context
	child.Context.Regs[10] = 0 // a0/x0 ABI return-value register reads 0 in the child

	if parent.AS != nil {
		if p.Flags&CloneVM != 0 {
			child.AS = p.ShareAS(parent.AS)
		} else {
			child.AS = p.CloneAS(parent.AS)
		}
	}
	if p.Flags&CloneFiles != 0 {
		child.Fdtable = p.ShareFdtable(parent.Fdtable)
	} else {
		child.Fdtable = p.CloneFdtable(parent.Fdtable)
	}
	if p.Flags&CloneSighand != 0 {
		child.Sig = p.ShareSignal(parent.Sig)
	} else {
		child.Sig = p.CloneSignal(parent.Sig)
	}

	child.Parent = parent
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return child
}

// DoExit transitions the task to Zombie, records its exit code, wakes
// anyone waiting on it, and reparents its children to init.
// The TCB slot is not freed here; Wait4 reaps the zombie once the parent
// collects the exit status, and the slot goes back to the task pool through
// pool.Pool.Free.
func (t *Task) DoExit(code int, initTask *Task) {
	t.ExitCode = code
	t.SetState(Zombie)

	t.mu.Lock()
	children := t.Children
	t.Children = nil
	t.mu.Unlock()
	for _, c := range children {
		c.mu.Lock()
		c.Parent = initTask
		c.mu.Unlock()
		if initTask != nil {
			initTask.mu.Lock()
			initTask.Children = append(initTask.Children, c)
			initTask.mu.Unlock()
		}
	}

	if t.Parent != nil {
		select {
		case t.Parent.waitq <- struct{}{}:
		default:
		}
	}
}

// Wait4 blocks (by the caller's own scheduling means — this call only
// inspects state, it does not itself schedule) until a specific child, or
// any child when pid<0, becomes a Zombie, then reaps it: the
// invariant "state==Zombie <=> parent has not reaped" holds until this
// returns. Reaping removes the child from t.Children; the slot itself is
// the caller's to recycle into the task pool's free list.
func (t *Task) Wait4(pid defs.Pid_t) (*Task, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.Children {
		if pid > 0 && c.Pid != pid {
			continue
		}
		if c.State() == Zombie {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return c, 0
		}
	}
	if len(t.Children) == 0 {
		return nil, -defs.ECHILD
	}
	return nil, 0 // no zombie child yet; caller should block on WaitChan and retry
}

// WaitChan exposes the channel Wait4's caller blocks on between retries.
func (t *Task) WaitChan() <-chan struct{} { return t.waitq }
