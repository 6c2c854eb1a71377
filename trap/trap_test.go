package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/arch"
	"riscvkern/kernel/defs"
	"riscvkern/proc/pool"
	"riscvkern/proc/sched"
	"riscvkern/proc/task"
)

// fakeHAL only implements the bits HandleTrap actually calls in these
// tests; every other method is a no-op.
type fakeHAL struct {
	cause arch.CauseClass
}

func (f *fakeHAL) CPUID() int                            { return 0 }
func (f *fakeHAL) EnableMMU(uint64)                       {}
func (f *fakeHAL) DisableMMU()                            {}
func (f *fakeHAL) FlushTLBAll()                           {}
func (f *fakeHAL) FlushTLBVA(uint64, int)                 {}
func (f *fakeHAL) DataBarrier()                           {}
func (f *fakeHAL) InstructionBarrier()                    {}
func (f *fakeHAL) ContextSwitch(prev, next *arch.Context) {}
func (f *fakeHAL) InstallTrapVector()                     {}
func (f *fakeHAL) SendIPI(int)                            {}
func (f *fakeHAL) MaskIRQ() arch.IRQToken                 { return 0 }
func (f *fakeHAL) RestoreIRQ(arch.IRQToken)               {}
func (f *fakeHAL) TimerProgram(uint64)                    {}
func (f *fakeHAL) TimerAck()                              {}
func (f *fakeHAL) Classify(*arch.TrapFrame) arch.CauseClass {
	return f.cause
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *task.Task) {
	t.Helper()
	hal := &fakeHAL{cause: arch.CauseSyscall}
	var idle task.Task
	task.InitAt(&idle, 0)
	s := sched.New(hal, []*task.Task{&idle})

	var cur task.Task
	task.InitAt(&cur, 1)
	cur.SetState(task.Running)
	require.True(t, s.EnqueueTask(0, &cur))
	s.Schedule(0) // switches RunQueue(0).Current() from idle to cur

	d := New(hal, nil, s, nil, nil, nil, nil, nil, pool.New(), 0)
	return d, &cur
}

func frameWithSyscall(no uint64, args ...uint64) *arch.TrapFrame {
	var f arch.TrapFrame
	f.GPR[regSyscallNo] = no
	for i, a := range args {
		f.GPR[regArg0+i] = a
	}
	return &f
}

// TestHandleTrapUnknownSyscallReturnsENOSYS is the documented
// fallback: a syscall number absent from the table never panics, it returns
// -ENOSYS in the return register.
func TestHandleTrapUnknownSyscallReturnsENOSYS(t *testing.T) {
	d, _ := newTestDispatcher(t)
	frame := frameWithSyscall(9999)

	d.handleSyscall(frame, 0)

	assert.Equal(t, uint64(int64(-defs.ENOSYS)), frame.GPR[regRet])
}

// TestHandleTrapGetpidReturnsCallerPid exercises the generic table dispatch
// path (as opposed to fork's special-cased bypass) end to end.
func TestHandleTrapGetpidReturnsCallerPid(t *testing.T) {
	d, cur := newTestDispatcher(t)
	frame := frameWithSyscall(sysGetpid)

	d.handleSyscall(frame, 0)

	assert.Equal(t, uint64(cur.Pid), frame.GPR[regRet])
}

// TestHandleTrapIllegalInstructionQueuesSigill is the illegal/
// alignment trap path: it queues SIGILL against the faulting task rather
// than crashing the kernel.
func TestHandleTrapIllegalInstructionQueuesSigill(t *testing.T) {
	d, cur := newTestDispatcher(t)
	d.HAL.(*fakeHAL).cause = arch.CauseAlignmentOrIllegal
	frame := &arch.TrapFrame{}

	d.handleIllegal(frame, 0)

	assert.True(t, cur.Pending.Has(4)) // SIGILL's value per signal.SIGILL
}

func TestDefaultSyscallTableForkEntryReturnsENOSYS(t *testing.T) {
	tbl := defaultSyscallTable()
	// sysFork is intercepted in handleSyscall before the table is consulted;
	// the table only carries a defensive ENOSYS-returning fallback.
	_, err := tbl[sysFork](nil, nil, SyscallArgs{})
	assert.Equal(t, -defs.ENOSYS, err)
}
