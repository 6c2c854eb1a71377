// Package smp brings up secondary harts: boot CPU 0 runs the single-threaded
// init sequence while every other logical CPU spins on a barrier until the
// boot CPU releases it, then enters the scheduler idle loop (/ "secondary harts spin on a barrier until woken"). Grounded on the
// pack's hanwen-go-fuse test harness use of golang.org/x/sync/errgroup for
// coordinating a fixed pool of concurrent workers with first-error
// propagation, applied here to hart bring-up instead of filesystem test
// goroutines; each simulated hart is a goroutine bound to a logical CPU id
// via the HAL's BindCPU (arch/riscv64's goroutine-token scheme), standing
// in for the real entry-point-per-hart a hardware boot ROM provides.
package smp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"riscvkern/arch"
)

// CPUBinder is implemented by HAL back ends that simulate multiple harts as
// goroutines (arch/riscv64.HAL); single-CPU back ends (arch/arm64.HAL) need
// not implement it, since BringUp with ncpus==1 never calls it.
type CPUBinder interface {
	BindCPU(id int) func()
}

// HartMain is the per-hart entry point run after the barrier releases:
// typically the scheduler's idle loop for that CPU.
type HartMain func(cpu int)

// Barrier gates every secondary hart until Release is called, modeling the
// boot CPU's "all harts may now proceed" signal.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

// NewBarrier returns a closed-until-released barrier.
func NewBarrier() *Barrier { return &Barrier{ch: make(chan struct{})} }

// Wait blocks until Release is called.
func (b *Barrier) Wait() { <-b.ch }

// Release opens the barrier for every waiter; safe to call more than once.
func (b *Barrier) Release() { b.once.Do(func() { close(b.ch) }) }

// BringUp starts ncpus-1 secondary-hart goroutines (CPU 0 is the caller,
// already running) bound to logical CPU ids via hal's CPUBinder, each
// blocking on barrier before calling main(cpu). It returns
// once every hart goroutine has been launched (not once they've all passed
// the barrier); callers release the barrier once boot-time global state
// (the scheduler's run queues, the page allocator) is ready for concurrent
// access.
//
// A launched hart goroutine that panics is recovered into the errgroup's
// error and reported by Wait, rather than crashing the whole process — a
// deliberate strengthening over the boot ROM model it stands in for, where
// a wedged secondary hart cannot be observed by the primary at all.
func BringUp(ctx context.Context, hal arch.HAL, ncpus int, barrier *Barrier, main HartMain) *errgroup.Group {
	g, gctx := errgroup.WithContext(ctx)
	binder, _ := hal.(CPUBinder)

	for cpu := 1; cpu < ncpus; cpu++ {
		cpu := cpu
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicErr{cpu: cpu, val: r}
				}
			}()
			var unbind func()
			if binder != nil {
				unbind = binder.BindCPU(cpu)
				defer unbind()
			}
			select {
			case <-barrier.ch:
			case <-gctx.Done():
				return gctx.Err()
			}
			main(cpu)
			return nil
		})
	}
	return g
}

type panicErr struct {
	cpu int
	val interface{}
}

func (p panicErr) Error() string {
	return fmt.Sprintf("smp: hart %d panicked: %v", p.cpu, p.val)
}
