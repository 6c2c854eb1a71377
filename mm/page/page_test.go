package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMarksReservedRangeOnly(t *testing.T) {
	mm := Init(0, 8, 2, 4) // frames 2,3 reserved
	for i := 0; i < 8; i++ {
		pg := &mm.Pages[i]
		if i >= 2 && i < 4 {
			assert.True(t, pg.HasFlag(Reserved), "frame %d should be reserved", i)
			assert.Equal(t, int32(1), pg.Refcount)
		} else {
			assert.False(t, pg.HasFlag(Reserved), "frame %d should not be reserved", i)
			assert.Equal(t, int32(0), pg.Refcount)
		}
		assert.Equal(t, int32(-1), pg.Mapcount)
	}
}

func TestPFNToPageRoundTrip(t *testing.T) {
	mm := Init(100, 4, 0, 0)
	pg := mm.PFNToPage(PFN(102))
	require.NotNil(t, pg)
	assert.Equal(t, PFN(102), mm.PageToPFN(pg))

	assert.Nil(t, mm.PFNToPage(PFN(99)))
	assert.Nil(t, mm.PFNToPage(PFN(104)))
}

func TestPFNIndexRoundTrip(t *testing.T) {
	mm := Init(50, 4, 0, 0)
	idx := mm.PFNToIndex(PFN(52))
	assert.Equal(t, uint32(2), idx)
	assert.Equal(t, PFN(52), mm.IndexToPFN(idx))
}

func TestTryGetFailsOnZeroRefcount(t *testing.T) {
	var pg Page
	assert.False(t, pg.TryGet())

	pg.Get()
	assert.True(t, pg.TryGet())
	assert.Equal(t, int32(2), pg.Refcount)
}

func TestPutReportsZeroCrossing(t *testing.T) {
	var pg Page
	pg.Get()
	pg.Get()
	assert.False(t, pg.Put())
	assert.True(t, pg.Put())
}

func TestPutUnderflowPanics(t *testing.T) {
	var pg Page
	assert.Panics(t, func() { pg.Put() })
}

func TestSetClearHasFlag(t *testing.T) {
	var pg Page
	pg.SetFlag(Dirty)
	pg.SetFlag(Lru)
	assert.True(t, pg.HasFlag(Dirty))
	assert.True(t, pg.HasFlag(Lru))
	assert.False(t, pg.HasFlag(Cow))

	pg.ClearFlag(Dirty)
	assert.False(t, pg.HasFlag(Dirty))
	assert.True(t, pg.HasFlag(Lru))
}
