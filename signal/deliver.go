// Delivery-on-user-return: the piece original_source/kernel/src/signal.rs
// leaves to its arch-specific trap handler (check_and_deliver_signals,
// called at the tail of aarch64/trap.rs's trap_handler). This file owns the
// disposition decision; the actual user-mode frame rewrite is arch-neutral
// too (the TrapFrame is already architecture-independent) and so
// lives here rather than being duplicated per arch back end.
package signal

import (
	"riscvkern/arch"
	"riscvkern/kernel/defs"
)

// SavedFrame snapshots the interrupted user TrapFrame and blocked-signal
// mask across a handler invocation, restored by rt_sigreturn (the design
//). Valid is false when no signal is currently being handled, letting
// rt_sigreturn reject a spurious call with EINVAL.
type SavedFrame struct {
	Frame arch.TrapFrame
	Mask  uint64
	Valid bool
}

// NextDeliverable pops the lowest-numbered pending, unblocked, non-ignored
// signal along with its action. Ignored signals are drained
// silently; SIGKILL/SIGSTOP always report DispositionDefault since
// Signals.SetAction refuses to change them.
func NextDeliverable(pend *Pending, disp *Signals, blocked uint64) (int, Action, bool) {
	for {
		sig := pend.First(blocked)
		if sig == 0 {
			return 0, Action{}, false
		}
		act, _ := disp.GetAction(sig)
		pend.Remove(sig)
		if act.Disposition == DispositionIgnore {
			continue
		}
		return sig, act, true
	}
}

// IsDefaultFatal reports whether sig's default disposition (no handler
// installed) terminates the process, per the POSIX default-action table.
// SIGCHLD/SIGURG/SIGWINCH default to ignore, SIGCONT to continue,
// SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU to stop the process; every other standard
// signal's default is termination.
func IsDefaultFatal(sig int) bool {
	switch sig {
	case SIGCHLD, SIGCONT, SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU, SIGURG, SIGWINCH:
		return false
	default:
		return true
	}
}

// IsStopSignal reports whether sig's default action is to stop the process
// (job control), used by the trap-exit dispatcher to route to Stopped
// state instead of Dead.
func IsStopSignal(sig int) bool {
	switch sig {
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return true
	default:
		return false
	}
}

// PushHandlerFrame rewrites frame in place so the trap-return path resumes
// execution at act.Handler instead of the interrupted PC, with restorerVA
// as the handler's return address (in GPR[1]) so the handler's own return
// instruction re-enters the kernel at rt_sigreturn. Nothing is written to
// the user stack: frame.SP is left as it was, and SA_ONSTACK and the
// alternate signal stack are not consulted. saved receives the pre-signal
// frame and mask for rt_sigreturn to restore later.
//
// Register conventions follow this module's own ABI rather than either
// RISC-V's or AArch64's calling convention directly: GPR[10] carries the
// first argument (the signal number, "handler receives the
// signal number"), GPR[1] carries the return address the handler's epilog
// jumps to, and frame.PC becomes the handler entry point. Arch back ends
// map these slots onto a0/x0 and ra/x30 respectively in their own
// ContextSwitch and trap-entry assembly.
func PushHandlerFrame(frame *arch.TrapFrame, sig int, act Action, restorerVA uint64, saved *SavedFrame, blocked uint64) {
	saved.Frame = *frame
	saved.Mask = blocked
	saved.Valid = true

	frame.GPR[10] = uint64(sig)
	frame.GPR[1] = restorerVA
	frame.PC = act.Handler
}

// RestoreFromSigreturn undoes PushHandlerFrame, called by the
// rt_sigreturn(2) handler once the user-mode restorer traps back into the
// kernel. It returns the mask in effect before the signal was delivered,
// which the caller installs back into the task's blocked-signal mask.
func RestoreFromSigreturn(frame *arch.TrapFrame, saved *SavedFrame) (uint64, defs.Err_t) {
	if !saved.Valid {
		return 0, -defs.EINVAL
	}
	*frame = saved.Frame
	saved.Valid = false
	return saved.Mask, 0
}
