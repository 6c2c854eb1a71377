// Package arch defines the hardware abstraction layer contract 
// requires every architecture back end to satisfy: MMU enable/disable, TLB
// flush, context switch, trap vector install, IPI send/receive, interrupt
// mask/restore, timer program/acknowledge, and CPU-id read. Concrete
// implementations live in arch/riscv64 (primary) and arch/arm64 (secondary
// and deliberately partial — see that package's doc comment).
//
// Grounded on the teacher kernel's split between mem.Physmem_t (arch-neutral
// physical memory bookkeeping) and the runtime-patched CSR/context-switch
// primitives it calls through runtime.* hooks (runtime.CPUHint,
// runtime.Get_phys, runtime.Condflush in vm/as.go) — this package is the
// Go-native seam that stands in for that patched-runtime boundary.
package arch

import "riscvkern/kernel/defs"

// IRQToken is returned by MaskIRQ and consumed by RestoreIRQ, so interrupt
// masking nests correctly around critical sections.
type IRQToken uint64

// Context is the architecture-specific saved CPU context for one task:
// callee-saved integer registers plus PC/SP. Arch back ends interpret the
// Regs slice according to their own ABI; everything above this package only
// ever copies Context values wholesale (construct-in-slot, clone, swap).
type Context struct {
	Regs [32]uint64
	PC   uint64
	SP   uint64
}

// TrapFrame is the fixed-layout register save area the trap vector builds on
// the current kernel stack. Arch back ends populate it from
// SPSR/ESR/ELR (AArch64) or scause/sstatus/sepc (RISC-V).
type TrapFrame struct {
	GPR    [32]uint64
	PC     uint64 // faulting/return instruction address
	Status uint64 // sstatus/SPSR
	Cause  uint64 // scause/ESR
	Tval   uint64 // stval/FAR: faulting address for synchronous causes
}

// CauseClass partitions trap causes the way the control-flow
// description and's dispatch do.
type CauseClass int

const (
	CauseSyscall CauseClass = iota
	CauseExternalIRQ
	CauseTimerIRQ
	CauseIPI
	CausePageFault
	CauseAlignmentOrIllegal
)

// HAL is implemented once per supported architecture.
type HAL interface {
	// CPUID returns the logical id of the calling CPU.
	CPUID() int

	// EnableMMU installs rootPA as the translation table base, performs the
	// required barriers, and flushes the TLB. The kernel image must already
	// be identity-mapped before this is called.
	EnableMMU(rootPA uint64)
	DisableMMU()

	// FlushTLBAll invalidates every TLB entry on the calling CPU.
	FlushTLBAll()
	// FlushTLBVA invalidates n pages starting at va on the calling CPU.
	FlushTLBVA(va uint64, n int)

	DataBarrier()
	InstructionBarrier()

	// ContextSwitch saves prev's context and loads next's, per the contract
	// in : safe with interrupts disabled, must not allocate, and
	// must publish the new "current" before returning.
	ContextSwitch(prev, next *Context)

	// InstallTrapVector registers the single re-entrant trap entry point.
	InstallTrapVector()

	SendIPI(cpu int)

	// MaskIRQ disables local interrupts and returns a token that restores
	// the prior state; RestoreIRQ(token) reverts it.
	MaskIRQ() IRQToken
	RestoreIRQ(tok IRQToken)

	// TimerProgram schedules the next timer interrupt deltaTicks from now;
	// TimerAck acknowledges the interrupt that just fired.
	TimerProgram(deltaTicks uint64)
	TimerAck()

	// Classify partitions a raw trap into the dispatcher's cause classes.
	Classify(frame *TrapFrame) CauseClass
}

// PageFaultInfo is what Classify's CausePageFault callers need to resolve
// the fault against a VMA list.
type PageFaultInfo struct {
	FaultVA  uint64
	Write    bool
	UserMode bool
}

// DecodePageFault extracts PageFaultInfo from a synchronous-fault TrapFrame.
// Arch back ends provide their own because the write/user bits live in
// different Cause encodings on RISC-V vs AArch64.
type PageFaultDecoder interface {
	DecodePageFault(frame *TrapFrame) (PageFaultInfo, defs.Err_t)
}
