// Package page implements the physical page frame descriptor array
//. One Page exists per 4 KiB frame
// of managed physical RAM, held in a contiguous mem_map array indexed by
// PFN-base_PFN so PFN<->Page lookup is O(1). Grounded on the teacher
// kernel's mem/mem.go Physmem_t/Physpg_t, generalized from x86-64 PML4/dmap
// bookkeeping to a flag-bitset descriptor matching the data model.
package page

import (
	"sync/atomic"
	"unsafe"
)

// PGSHIFT/PGSIZE mirror the teacher kernel's mem package.
const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT
)

// PFN is a physical page frame number: PFN == physical address / PGSIZE.
type PFN uint64

// Flags is the atomic bitset carried by every Page.
type Flags uint32

const (
	Locked Flags = 1 << iota
	Dirty
	Uptodate
	Reserved
	Anonymous
	Cow
	Lru
	Writeback
)

// Page is the 64-byte-class descriptor for one physical frame. Refcount==0
// is equivalent to "on some free list"; Mapcount==-1 means unmapped. These
// two invariants are enforced by the buddy/pcp/slab layers that sit above
// this package, not by Page itself, matching the wording that the
// invariant holds across the allocator as a whole.
type Page struct {
	flags    uint32
	Refcount int32
	Mapcount int32
	Private  uintptr // buddy order, slab owner pointer, etc.
	Mapping  uintptr // opaque back-pointer to an address space / inode
	Index    int64
	NextFree uint32 // free-list link, index into the owning mem_map
}

// SetFlag/ClearFlag/HasFlag operate on the atomic flag bitset.
func (p *Page) SetFlag(f Flags) {
	for {
		old := atomic.LoadUint32(&p.flags)
		if atomic.CompareAndSwapUint32(&p.flags, old, old|uint32(f)) {
			return
		}
	}
}

func (p *Page) ClearFlag(f Flags) {
	for {
		old := atomic.LoadUint32(&p.flags)
		if atomic.CompareAndSwapUint32(&p.flags, old, old&^uint32(f)) {
			return
		}
	}
}

func (p *Page) HasFlag(f Flags) bool {
	return atomic.LoadUint32(&p.flags)&uint32(f) != 0
}

// Get increments the refcount unconditionally (the page is already known
// live, e.g. held by the allocator that is about to hand it out).
func (p *Page) Get() int32 {
	return atomic.AddInt32(&p.Refcount, 1)
}

// TryGet increments the refcount only if it is currently > 0, CAS-looping so
// a page mid-free is never resurrected.
func (p *Page) TryGet() bool {
	for {
		old := atomic.LoadInt32(&p.Refcount)
		if old <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.Refcount, old, old+1) {
			return true
		}
	}
}

// Put decrements the refcount and reports whether it reached zero.
func (p *Page) Put() bool {
	c := atomic.AddInt32(&p.Refcount, -1)
	if c < 0 {
		panic("page: refcount underflow")
	}
	return c == 0
}

// MemMap is the mem_map array: one Page per managed frame, indexed by
// PFN-BasePFN.
type MemMap struct {
	Pages   []Page
	BasePFN PFN
}

// Init allocates and initializes the descriptor array for [basePFN,
// basePFN+nrPages). Pages outside [reservedLo, reservedHi) start with
// refcount 0 and are not queued on any free list here (the buddy
// allocator's SeedFree does that); pages inside are marked Reserved with
// refcount 1, per the design.
func Init(basePFN PFN, nrPages int, reservedLo, reservedHi PFN) *MemMap {
	mm := &MemMap{
		Pages:   make([]Page, nrPages),
		BasePFN: basePFN,
	}
	for i := range mm.Pages {
		pfn := basePFN + PFN(i)
		pg := &mm.Pages[i]
		if pfn >= reservedLo && pfn < reservedHi {
			pg.SetFlag(Reserved)
			pg.Refcount = 1
			pg.Mapcount = -1
		} else {
			pg.Refcount = 0
			pg.Mapcount = -1
		}
	}
	return mm
}

// PFNToPage returns the descriptor for pfn, an O(1) array index.
func (mm *MemMap) PFNToPage(pfn PFN) *Page {
	idx := int(pfn - mm.BasePFN)
	if idx < 0 || idx >= len(mm.Pages) {
		return nil
	}
	return &mm.Pages[idx]
}

// PageToPFN is the inverse of PFNToPage, valid only for pages that are
// actually elements of mm.Pages. Go has no pointer arithmetic, so the index
// is recovered via unsafe.Pointer byte-offset division, the same idiom the
// teacher kernel's Physmem_t uses for its own slice-of-descriptors math.
func (mm *MemMap) PageToPFN(p *Page) PFN {
	idx := (uintptr(unsafe.Pointer(p)) - uintptr(unsafe.Pointer(&mm.Pages[0]))) / unsafe.Sizeof(Page{})
	return mm.BasePFN + PFN(idx)
}

// PFNToIndex returns the mem_map array index for pfn, used by the buddy
// allocator to manipulate NextFree links without re-deriving PFNs.
func (mm *MemMap) PFNToIndex(pfn PFN) uint32 {
	return uint32(pfn - mm.BasePFN)
}

// IndexToPFN is the inverse of PFNToIndex.
func (mm *MemMap) IndexToPFN(idx uint32) PFN {
	return mm.BasePFN + PFN(idx)
}
