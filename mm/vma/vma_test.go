package vma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
)

// TestMmapMunmapRoundTrip is the address-space round-trip
// property: mapping then unmapping the exact same range restores the VMA
// list to empty.
func TestMmapMunmapRoundTrip(t *testing.T) {
	as := New()
	start, err := as.Mmap(0, PageSize*4, ProtRead|ProtWrite, MapPrivate, 0, nil, 0x1000, 0x100000)
	require.Equal(t, defs.Err_t(0), err)
	require.NotZero(t, start)
	require.Len(t, as.List(), 1)

	require.Equal(t, defs.Err_t(0), as.Munmap(start, PageSize*4))
	assert.Empty(t, as.List())
}

// TestMmapListStaysSortedAndNonOverlapping is the VMA-list
// invariant: the list is always kept sorted by start address with no two
// entries overlapping, even as mappings are added out of address order.
func TestMmapListStaysSortedAndNonOverlapping(t *testing.T) {
	as := New()
	_, err := as.Mmap(0x20000, PageSize, ProtRead, MapPrivate, 0, nil, 0x1000, 0x100000)
	require.Equal(t, defs.Err_t(0), err)
	_, err = as.Mmap(0x10000, PageSize, ProtRead, MapPrivate, 0, nil, 0x1000, 0x100000)
	require.Equal(t, defs.Err_t(0), err)

	list := as.List()
	require.Len(t, list, 2)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].End <= list[i].Start, "vma list is not sorted/non-overlapping")
	}
	assert.True(t, as.Validate())
}

func TestMmapFixedRejectsOverlap(t *testing.T) {
	as := New()
	start, err := as.Mmap(0x10000, PageSize*2, ProtRead, MapFixed, 0, nil, 0, 0)
	require.Equal(t, defs.Err_t(0), err)

	_, err = as.Mmap(start, PageSize, ProtRead, MapFixed, 0, nil, 0, 0)
	assert.Equal(t, -defs.EINVAL, err)
}

func TestMunmapSplitsMiddleOfVMA(t *testing.T) {
	as := New()
	start, err := as.Mmap(0, PageSize*4, ProtRead|ProtWrite, MapPrivate, 0, nil, 0x1000, 0x100000)
	require.Equal(t, defs.Err_t(0), err)

	// Punch a hole in the middle two pages, leaving two one-page VMAs.
	require.Equal(t, defs.Err_t(0), as.Munmap(start+PageSize, PageSize*2))

	list := as.List()
	require.Len(t, list, 2)
	assert.Equal(t, start, list[0].Start)
	assert.Equal(t, start+PageSize, list[0].End)
	assert.Equal(t, start+PageSize*3, list[1].Start)
	assert.Equal(t, start+PageSize*4, list[1].End)
}

func TestCloneProducesIndependentAddressSpace(t *testing.T) {
	as := New()
	start, err := as.Mmap(0, PageSize, ProtRead|ProtWrite, MapPrivate, 0, nil, 0x1000, 0x100000)
	require.Equal(t, defs.Err_t(0), err)

	child := as.Clone()
	require.Equal(t, defs.Err_t(0), child.Munmap(start, PageSize))

	assert.Empty(t, child.List())
	assert.Len(t, as.List(), 1, "munmap on the clone must not affect the parent")
}
