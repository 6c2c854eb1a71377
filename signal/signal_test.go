package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/arch"
	"riscvkern/kernel/defs"
)

// TestSetActionRefusesKillAndStop is the invariant: SIGKILL and
// SIGSTOP's disposition can never be changed away from default.
func TestSetActionRefusesKillAndStop(t *testing.T) {
	s := New()
	assert.Equal(t, -defs.EINVAL, s.SetAction(SIGKILL, Action{Disposition: DispositionIgnore}))
	assert.Equal(t, -defs.EINVAL, s.SetAction(SIGSTOP, Action{Disposition: DispositionIgnore}))

	act, _ := s.GetAction(SIGKILL)
	assert.Equal(t, DispositionDefault, act.Disposition)
}

// TestApplyMaskNeverBlocksKillOrStop mirrors ApplyMask's documented
// contract: SIGKILL/SIGSTOP are silently dropped from any requested mask.
func TestApplyMaskNeverBlocksKillOrStop(t *testing.T) {
	set := bit(SIGKILL) | bit(SIGSTOP) | bit(SIGUSR1)
	mask, err := ApplyMask(0, SIG_BLOCK, set)
	require.Equal(t, defs.Err_t(0), err)
	assert.Zero(t, mask&bit(SIGKILL))
	assert.Zero(t, mask&bit(SIGSTOP))
	assert.NotZero(t, mask&bit(SIGUSR1))
}

func TestApplyMaskUnknownHowIsError(t *testing.T) {
	_, err := ApplyMask(0, 99, 0)
	assert.Equal(t, -defs.EINVAL, err)
}

// TestKillDropsIgnoredSignal is the delivery rule: a signal whose
// disposition is explicitly ignored is dropped rather than queued pending.
func TestKillDropsIgnoredSignal(t *testing.T) {
	disp := New()
	require.Equal(t, defs.Err_t(0), disp.SetAction(SIGUSR1, Action{Disposition: DispositionIgnore}))
	var pend Pending

	require.Equal(t, defs.Err_t(0), Kill(SIGUSR1, disp, &pend))
	assert.False(t, pend.Has(SIGUSR1))
}

// TestKillAlwaysQueuesSigkill is : SIGKILL bypasses disposition
// checks entirely and is always queued.
func TestKillAlwaysQueuesSigkill(t *testing.T) {
	disp := New()
	var pend Pending
	require.Equal(t, defs.Err_t(0), Kill(SIGKILL, disp, &pend))
	assert.True(t, pend.Has(SIGKILL))
}

func TestNextDeliverablePicksLowestUnblockedSignal(t *testing.T) {
	disp := New()
	var pend Pending
	pend.Add(SIGTERM)
	pend.Add(SIGUSR1)

	sig, _, ok := NextDeliverable(&pend, disp, bit(SIGUSR1))
	require.True(t, ok)
	assert.Equal(t, SIGTERM, sig)
	assert.False(t, pend.Has(SIGTERM), "delivered signal must be removed from pending")
}

func TestNextDeliverableSkipsIgnoredAndDrainsThem(t *testing.T) {
	disp := New()
	require.Equal(t, defs.Err_t(0), disp.SetAction(SIGUSR2, Action{Disposition: DispositionIgnore}))
	var pend Pending
	pend.Add(SIGUSR2)
	pend.Add(SIGUSR1)

	sig, _, ok := NextDeliverable(&pend, disp, 0)
	require.True(t, ok)
	assert.Equal(t, SIGUSR1, sig)
	assert.False(t, pend.Has(SIGUSR2), "ignored pending signal must be drained, not left queued")
}

// TestPushHandlerFrameThenSigreturnRoundTrip is the round trip:
// delivering a signal then returning from its handler restores the exact
// interrupted frame and blocked mask.
func TestPushHandlerFrameThenSigreturnRoundTrip(t *testing.T) {
	var frame arch.TrapFrame
	frame.PC = 0x1000
	frame.GPR[10] = 42

	var saved SavedFrame
	act := Action{Disposition: DispositionHandler, Handler: 0x8000}
	PushHandlerFrame(&frame, SIGUSR1, act, 0x9000, &saved, 0xff)

	assert.Equal(t, uint64(0x8000), frame.PC)
	assert.Equal(t, uint64(SIGUSR1), frame.GPR[10])

	mask, err := RestoreFromSigreturn(&frame, &saved)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, uint64(0xff), mask)
	assert.Equal(t, uint64(0x1000), frame.PC)
	assert.Equal(t, uint64(42), frame.GPR[10])
}

func TestSigreturnWithoutPendingHandlerIsEinval(t *testing.T) {
	var frame arch.TrapFrame
	var saved SavedFrame
	_, err := RestoreFromSigreturn(&frame, &saved)
	assert.Equal(t, -defs.EINVAL, err)
}
