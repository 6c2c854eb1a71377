package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/arch"
	"riscvkern/kernel/defs"
	"riscvkern/proc/task"
)

// fakeHAL only implements the bits Schedule actually calls; every other
// method is a no-op since this scheduler test never takes a real trap.
type fakeHAL struct {
	switches int
}

func (f *fakeHAL) CPUID() int                              { return 0 }
func (f *fakeHAL) EnableMMU(uint64)                         {}
func (f *fakeHAL) DisableMMU()                              {}
func (f *fakeHAL) FlushTLBAll()                             {}
func (f *fakeHAL) FlushTLBVA(uint64, int)                   {}
func (f *fakeHAL) DataBarrier()                             {}
func (f *fakeHAL) InstructionBarrier()                      {}
func (f *fakeHAL) ContextSwitch(prev, next *arch.Context)   { f.switches++ }
func (f *fakeHAL) InstallTrapVector()                       {}
func (f *fakeHAL) SendIPI(int)                              {}
func (f *fakeHAL) MaskIRQ() arch.IRQToken                   { return 0 }
func (f *fakeHAL) RestoreIRQ(arch.IRQToken)                 {}
func (f *fakeHAL) TimerProgram(uint64)                      {}
func (f *fakeHAL) TimerAck()                                {}
func (f *fakeHAL) Classify(*arch.TrapFrame) arch.CauseClass { return arch.CauseSyscall }

func newIdle(pid defs.Pid_t) *task.Task {
	var t task.Task
	task.InitAt(&t, pid)
	return &t
}

func newRunnable(pid defs.Pid_t) *task.Task {
	t := newIdle(pid)
	t.SetState(task.Running)
	return t
}

// TestSchedulerTickSetsNeedReschedAtZero is the timer-driven
// preemption property: the tick handler only requests a reschedule once the
// current task's slice is exhausted.
func TestSchedulerTickSetsNeedReschedAtZero(t *testing.T) {
	hal := &fakeHAL{}
	idle := newIdle(0)
	s := New(hal, []*task.Task{idle})
	cur := newRunnable(1)
	s.RunQueue(0).Enqueue(cur)
	s.RunQueue(0).current = cur
	cur.TimeSlice = 1

	assert.False(t, s.NeedResched(0))
	s.SchedulerTick(0)
	assert.True(t, s.NeedResched(0))
	assert.Equal(t, int32(task.DefaultTimeSlice), cur.TimeSlice)
}

// TestScheduleRoundRobinsAcrossRunnableTasks is scenario 6's
// fairness property: with N runnable tasks of equal priority, Schedule
// cycles through all of them rather than starving any one.
func TestScheduleRoundRobinsAcrossRunnableTasks(t *testing.T) {
	hal := &fakeHAL{}
	idle := newIdle(0)
	s := New(hal, []*task.Task{idle})

	const n = 4
	tasks := make([]*task.Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = newRunnable(defs.Pid_t(i + 1))
		require.True(t, s.EnqueueTask(0, tasks[i]))
	}
	s.RunQueue(0).current = tasks[0]

	seen := map[defs.Pid_t]bool{}
	cur := tasks[0]
	for i := 0; i < n*2; i++ {
		s.Schedule(0)
		cur = s.RunQueue(0).Current()
		seen[cur.Pid] = true
	}
	for _, tk := range tasks {
		assert.True(t, seen[tk.Pid], "pid %d was never scheduled, round robin starved it", tk.Pid)
	}
}

func TestWakeUpProcessRequiresSleepingState(t *testing.T) {
	hal := &fakeHAL{}
	idle := newIdle(0)
	s := New(hal, []*task.Task{idle})
	running := newRunnable(1)

	assert.False(t, s.WakeUpProcess(running, 0), "waking an already-Running task must fail")

	sleeper := newIdle(2)
	sleeper.SetState(task.Interruptible)
	assert.True(t, s.WakeUpProcess(sleeper, 0))
	assert.Equal(t, task.Running, sleeper.State())
	assert.True(t, s.NeedResched(0))
}
