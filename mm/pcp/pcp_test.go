package pcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
	"riscvkern/mm/buddy"
	"riscvkern/mm/page"
)

func newTestCache(t *testing.T, nrPages int, ncpus int) (*PerCPU, *buddy.Allocator) {
	t.Helper()
	mm := page.Init(0, nrPages, 0, 0)
	b := buddy.New(mm)
	for i := 0; i < nrPages; i++ {
		b.SeedFree(page.PFN(i))
	}
	return New(b, mm, ncpus), b
}

// TestAllocRefillsFromBuddy is the empty-list refill path: an
// Alloc against an empty per-CPU list pulls a batch from the buddy
// allocator and leaves the rest queued for subsequent allocations.
func TestAllocRefillsFromBuddy(t *testing.T) {
	pc, _ := newTestCache(t, 128, 1)

	pfn, err := pc.Alloc(0, Movable)
	require.Equal(t, defs.Err_t(0), err)
	_ = pfn

	// refill pulled `batch` pages in, one was handed out immediately.
	assert.Equal(t, batch-1, pc.Count(0, Movable))
}

func totalFreePages(b *buddy.Allocator) int {
	total := 0
	for o := 0; o <= buddy.MaxOrder; o++ {
		total += b.FreeCount(o) << uint(o)
	}
	return total
}

// TestAllocFreeRoundTrip is the PCP idempotence property: pages
// allocated and then freed back onto the same CPU/migrate-type list do not
// leak the buddy allocator's free pages.
func TestAllocFreeRoundTrip(t *testing.T) {
	pc, b := newTestCache(t, 128, 1)
	initial := totalFreePages(b)

	var pfns []page.PFN
	for i := 0; i < 8; i++ {
		pfn, err := pc.Alloc(0, Unmovable)
		require.Equal(t, defs.Err_t(0), err)
		pfns = append(pfns, pfn)
	}
	for _, pfn := range pfns {
		pc.Free(0, Unmovable, pfn)
	}

	// The freed pages sit on the PCP list, not yet drained back to buddy,
	// since the high watermark (64) was never crossed: the buddy allocator
	// gave up exactly one refill batch and got nothing back.
	assert.Equal(t, batch, pc.Count(0, Unmovable))
	assert.Equal(t, initial-batch, totalFreePages(b))
}

// TestFreeDrainsAtHighWatermark exercises the drain path: once a
// list exceeds HighWatermark, Free pushes one batch of pages back to the
// buddy allocator (65 queued pages drop to 33), leaving the list at or
// below HighWatermark.
func TestFreeDrainsAtHighWatermark(t *testing.T) {
	pc, b := newTestCache(t, 4096, 1)

	var pfns []page.PFN
	for i := 0; i < HighWatermark+1; i++ {
		pfn, err := b.Alloc(0)
		require.Equal(t, defs.Err_t(0), err)
		pfns = append(pfns, pfn)
	}
	beforeDrainFree := totalFreePages(b)

	for _, pfn := range pfns {
		pc.Free(0, Reclaimable, pfn)
	}

	assert.LessOrEqual(t, pc.Count(0, Reclaimable), HighWatermark)
	assert.Greater(t, totalFreePages(b), beforeDrainFree)
}

// TestAllocFallsThroughToBuddyOnPoolExhaustion covers the
// documented fallback: once both the PCP list and the refill batch are
// unavailable, Alloc falls through to the global buddy allocator directly
// rather than returning ENOMEM prematurely.
func TestAllocFallsThroughToBuddyOnPoolExhaustion(t *testing.T) {
	pc, b := newTestCache(t, 1, 1)

	pfn, err := pc.Alloc(0, Movable)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, page.PFN(0), pfn)
	assert.Equal(t, 0, b.FreeCount(0))

	_, err = pc.Alloc(0, Movable)
	assert.Equal(t, -defs.ENOMEM, err)
}

func TestCountIsZeroForFreshCache(t *testing.T) {
	pc, _ := newTestCache(t, 16, 2)
	assert.Equal(t, 0, pc.Count(0, Movable))
	assert.Equal(t, 0, pc.Count(1, Reclaimable))
}
