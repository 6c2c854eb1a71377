package slab

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/mm/buddy"
	"riscvkern/mm/page"
	"riscvkern/mm/pcp"
)

func newTestAllocator(t *testing.T, nrPages int) *Allocator {
	t.Helper()
	mm := page.Init(0, nrPages, 0, 0)
	b := buddy.New(mm)
	for i := 0; i < nrPages; i++ {
		b.SeedFree(page.PFN(i))
	}
	pc := pcp.New(b, mm, 1)
	return New(pc, 0)
}

// TestKmallocBoundaries is the boundary-behavior scenario:
// kmalloc(0) and kmalloc(4097) return nil; kmalloc(4096) returns a
// 4096-aligned pointer.
func TestKmallocBoundaries(t *testing.T) {
	a := newTestAllocator(t, 16)

	assert.Nil(t, a.Kmalloc(0))
	assert.Nil(t, a.Kmalloc(4097))

	p := a.Kmalloc(4096)
	require.NotNil(t, p)
	assert.Zero(t, uintptr(p)%page.PGSIZE, "4096-byte allocation must be page-aligned")
}

// TestKmallocKfreeRoundTrip is the slab idempotence property: an
// alloc immediately followed by a free returns the owning cache's
// empty/partial list counts to their pre-alloc values. A cache keeps an
// emptied slab on its empty list, so the baseline is taken after one
// warm-up alloc/free has given the cache its slab.
func TestKmallocKfreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 16)
	idx := classFor(32)
	a.Kfree(a.Kmalloc(32))
	empty0, partial0, _ := a.Counts(idx)

	p := a.Kmalloc(32)
	require.NotNil(t, p)
	a.Kfree(p)

	empty1, partial1, _ := a.Counts(idx)
	assert.Equal(t, empty0, empty1)
	assert.Equal(t, partial0, partial1)
}

func TestKmallocDistinctObjectsDoNotOverlap(t *testing.T) {
	a := newTestAllocator(t, 16)
	const n = 64
	seen := make(map[unsafe.Pointer]bool, n)
	for i := 0; i < n; i++ {
		p := a.Kmalloc(16)
		require.NotNil(t, p)
		assert.False(t, seen[p], "slab handed out the same object twice")
		seen[p] = true
	}
}

func TestKfreeNilIsNoop(t *testing.T) {
	a := newTestAllocator(t, 16)
	assert.NotPanics(t, func() { a.Kfree(nil) })
}
