// Package accnt accumulates per-task user/system CPU time, mirroring the
// rusage accounting Linux's wait4/getrusage expose. Adapted from the
// teacher kernel's accnt/accnt.go, generalized only to the RISC-V/AArch64
// time source (time.Now) used throughout this module in place of Biscuit's
// x86-64 TSC-backed clock.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"riscvkern/kernel/util"
)

// Accnt accumulates nanoseconds of user and system time for one task. The
// embedded mutex lets ToRusage take a consistent snapshot while Add merges a
// reaped child's usage into its parent.
type Accnt struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int64) { atomic.AddInt64(&a.Userns, delta) }

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int64 { return time.Now().UnixNano() }

// Finish adds the time elapsed since startns to system time, called when a
// task transitions from kernel back to user mode.
func (a *Accnt) Finish(startns int64) {
	a.Systadd(a.Now() - startns)
}

// Add merges n's usage into a, used when a zombie child is reaped so its
// CPU time is not lost (Linux's "ru_utime/ru_stime of terminated children").
func (a *Accnt) Add(n *Accnt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// ToRusage renders the accounting as a struct rusage-shaped byte buffer:
// two timeval pairs (user, then system), each {sec int64; usec int64}.
func (a *Accnt) ToRusage() []uint8 {
	a.mu.Lock()
	u, s := a.Userns, a.Sysns
	a.mu.Unlock()

	ret := make([]uint8, 4*8)
	totv := func(nano int64) (int, int) {
		return int(nano / 1e9), int((nano % 1e9) / 1000)
	}
	off := 0
	sec, usec := totv(u)
	util.Writen(ret, 8, off, sec)
	off += 8
	util.Writen(ret, 8, off, usec)
	off += 8
	sec, usec = totv(s)
	util.Writen(ret, 8, off, sec)
	off += 8
	util.Writen(ret, 8, off, usec)
	return ret
}
