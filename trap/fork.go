// sys_fork wiring: allocates a PID and TCB slot from the shared pool,
// constructs the child in place via task.DoFork, and enqueues it on the
// calling CPU's run queue. Split
// out of syscall.go because fork needs the calling CPU id in addition to
// the (Dispatcher, Task, SyscallArgs) every table-driven handler receives.
package trap

import (
	"riscvkern/kernel/defs"
	"riscvkern/mm/vma"
	"riscvkern/proc/task"
	"riscvkern/signal"
	"riscvkern/vfs/fd"
)

func cloneAS(as *vma.AddressSpace) *vma.AddressSpace { return as.Clone() }
func shareAS(as *vma.AddressSpace) *vma.AddressSpace { return as }

func cloneFdtable(t task.Fdtable) task.Fdtable {
	if t == nil {
		return fd.New()
	}
	nt, err := t.Clone()
	if err != 0 {
		return fd.New()
	}
	return nt
}
func shareFdtable(t task.Fdtable) task.Fdtable { return t }

func cloneSignal(s task.Signal) task.Signal {
	if s == nil {
		return signal.New()
	}
	return s.Clone()
}
func shareSignal(s task.Signal) task.Signal { return s }

// doFork implements do_fork : it does not itself support
// CLONE_VM/CLONE_FILES/CLONE_SIGHAND (the plain fork(2) syscall always
// copies); clone(2) with those flags set is out of scope for this port's
// syscall table (the design Non-goals names thread creation as an explicit
// collaborator contract, not core surface).
func (d *Dispatcher) doFork(parent *task.Task, cpu int) (*task.Task, defs.Err_t) {
	if d.Pool == nil {
		return nil, -defs.ENOSYS
	}
	slot, pid, err := d.Pool.Alloc()
	if err != 0 {
		return nil, err
	}
	child := parent.DoFork(task.ForkParams{
		ChildSlot:    slot,
		ChildPid:     pid,
		CloneAS:      cloneAS,
		ShareAS:      shareAS,
		CloneFdtable: cloneFdtable,
		ShareFdtable: shareFdtable,
		CloneSignal:  cloneSignal,
		ShareSignal:  shareSignal,
	})
	if !d.Sched.EnqueueTask(cpu, child) {
		d.Pool.Free(pid)
		return nil, -defs.EAGAIN
	}
	return child, 0
}
