package buddy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
	"riscvkern/mm/page"
)

// newTestAllocator builds an allocator over nrPages contiguous frames with
// none reserved, seeding every frame through SeedFree, which coalesces the
// contiguous run into the largest possible blocks.
func newTestAllocator(t *testing.T, nrPages int) (*Allocator, *page.MemMap) {
	t.Helper()
	mm := page.Init(0, nrPages, 0, 0)
	a := New(mm)
	for i := 0; i < nrPages; i++ {
		a.SeedFree(page.PFN(i))
	}
	return a, mm
}

func TestAllocSplitsHigherOrder(t *testing.T) {
	a, _ := newTestAllocator(t, 8)
	require.Equal(t, 1, a.FreeCount(3)) // one order-3 block covers all 8 frames

	pfn, err := a.Alloc(0)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, page.PFN(0), pfn)

	// Splitting order 3 down to 0 must have queued exactly one free block
	// at each lower order (2, 1 and 0: frames 4-7, 2-3 and 1), plus
	// nothing left at order 3.
	assert.Equal(t, 0, a.FreeCount(3))
	assert.Equal(t, 1, a.FreeCount(2))
	assert.Equal(t, 1, a.FreeCount(1))
	assert.Equal(t, 1, a.FreeCount(0))
}

// TestAllocFreeRoundTrip is the buddy idempotence property:
// allocating N order-k blocks then freeing them in any order returns every
// order's free count to its initial value.
func TestAllocFreeRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t, 64)
	initial := make([]int, MaxOrder+1)
	for o := range initial {
		initial[o] = a.FreeCount(o)
	}

	const order = 2
	var pfns []page.PFN
	for i := 0; i < 4; i++ {
		pfn, err := a.Alloc(order)
		require.Equal(t, defs.Err_t(0), err)
		pfns = append(pfns, pfn)
	}

	// Free in reverse order, a different order than allocation.
	for i := len(pfns) - 1; i >= 0; i-- {
		a.Free(pfns[i], order)
	}

	for o := range initial {
		assert.Equal(t, initial[o], a.FreeCount(o), "order %d free count did not return to baseline", o)
	}
}

func TestAllocExhaustionReturnsNoMemory(t *testing.T) {
	a, _ := newTestAllocator(t, 1)
	_, err := a.Alloc(0)
	require.Equal(t, defs.Err_t(0), err)

	_, err = a.Alloc(0)
	assert.Equal(t, -defs.ENOMEM, err)
}

func TestFreeMergesBuddies(t *testing.T) {
	a, _ := newTestAllocator(t, 4)
	p0, _ := a.Alloc(0)
	p1, _ := a.Alloc(0)
	require.Equal(t, page.PFN(0), p0)
	require.Equal(t, page.PFN(1), p1)

	a.Free(p0, 0)
	a.Free(p1, 0)
	// p0 and p1 are buddies at order 0; freeing both must merge them back
	// up into the original order-2 block.
	assert.Equal(t, 1, a.FreeCount(2))
	assert.Equal(t, 0, a.FreeCount(1))
	assert.Equal(t, 0, a.FreeCount(0))
}

func TestReservedPagesNeverAllocated(t *testing.T) {
	mm := page.Init(0, 4, 2, 4) // frames 2,3 reserved
	a := New(mm)
	a.SeedFree(0)
	a.SeedFree(1)

	seen := map[page.PFN]bool{}
	for {
		pfn, err := a.Alloc(0)
		if err != 0 {
			break
		}
		seen[pfn] = true
	}
	assert.Len(t, seen, 2)
	assert.False(t, seen[2])
	assert.False(t, seen[3])
}
