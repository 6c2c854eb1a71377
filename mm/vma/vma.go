// Package vma implements the per-task address space: a sorted VMA list plus
// mmap/munmap/mprotect and fork's copy-on-write address-space duplication
//. Grounded on the teacher
// kernel's vm/as.go Vm_t (lock-guarded pmap + Vmregion_t), generalized from
// Biscuit's x86-64 PTE bits to the PTEFlags abstraction used by the arch
// packages so the same VMA list drives both Sv39 and AArch64 page tables.
package vma

import (
	"sort"
	"sync"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/util"
	"riscvkern/mm/page"
)

const PageSize = page.PGSIZE

// Prot is the permission bitset carried by a VMA (R/W/X) plus the
// kernel-internal Shared/Locked/IO modifiers names.
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
	FlagShared
	FlagLocked
	FlagIO
)

// Type is the VMA's backing kind.
type Type int

const (
	Anonymous Type = iota
	FileBacked
	Device
	SharedMemory
)

// Backing is implemented by whatever supplies file-backed page content; the
// ELF loader and pipe/regular-file VFS objects all satisfy it. Left as an
// interface per the design (the ELF loader's dynamic-link path is external;
// the static-executable path and this Backing seam are core).
type Backing interface {
	// ReadPage fills buf (one page) with the content at file offset off.
	ReadPage(off int64, buf []byte) defs.Err_t
}

// VMA is one [Start, End) region of an address space.
type VMA struct {
	Start, End int64 // page-aligned, half-open
	Prot       Prot
	Type       Type
	Backing    Backing
	FileOffset int64
}

func (v *VMA) len() int64 { return v.End - v.Start }

// mergeable reports whether a and b can be coalesced into one VMA: adjacent,
// identical flags and type, and (if file-backed) a contiguous offset range.
func mergeable(a, b *VMA) bool {
	if a.End != b.Start || a.Prot != b.Prot || a.Type != b.Type || a.Backing != b.Backing {
		return false
	}
	if a.Type == FileBacked && a.FileOffset+a.len() != b.FileOffset {
		return false
	}
	return true
}

// AddressSpace is one task's address space: the sorted VMA list plus the
// root page-table frame (opaque to this package; owned by the arch-specific
// MMU layer). The mutex in the teacher kernel's Vm_t also double-protects
// page-table manipulation; this package only owns the VMA list, and callers
// that also touch the page table must take the same lock around both.
type AddressSpace struct {
	mu   sync.Mutex
	vmas []*VMA
}

// New returns an empty address space.
func New() *AddressSpace {
	return &AddressSpace{}
}

// Lookup returns the VMA containing va, if any.
func (as *AddressSpace) Lookup(va int64) (*VMA, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.lookupLocked(va)
}

func (as *AddressSpace) lookupLocked(va int64) (*VMA, bool) {
	i := sort.Search(len(as.vmas), func(i int) bool { return as.vmas[i].End > va })
	if i < len(as.vmas) && as.vmas[i].Start <= va {
		return as.vmas[i], true
	}
	return nil, false
}

// findGap returns the lowest address >= hint where a region of length bytes
// fits without overlapping an existing VMA.
func (as *AddressSpace) findGap(hint int64, length int64, lo, hi int64) (int64, defs.Err_t) {
	cur := hint
	if cur < lo {
		cur = lo
	}
	for i := 0; i <= len(as.vmas); i++ {
		var gapEnd int64
		if i < len(as.vmas) {
			gapEnd = as.vmas[i].Start
		} else {
			gapEnd = hi
		}
		if cur+length <= gapEnd && cur+length <= hi {
			return cur, 0
		}
		if i < len(as.vmas) && as.vmas[i].End > cur {
			cur = as.vmas[i].End
		}
	}
	return 0, -defs.ENOMEM
}

// MmapFlags controls mmap's placement/backing semantics.
type MmapFlags uint32

const (
	MapFixed MmapFlags = 1 << iota
	MapPrivate
	MapShared
)

// Mmap finds (or uses, if MapFixed) a page-aligned gap of length bytes at or
// above addr, inserts a VMA, and returns its start address. Anonymous
// private mappings are never eagerly populated; the page
// fault handler in the trap package populates on first access.
func (as *AddressSpace) Mmap(addr int64, length int64, prot Prot, flags MmapFlags,
	offset int64, backing Backing, searchLo, searchHi int64) (int64, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	length = int64(util.Roundup(int(length), PageSize))
	addr = int64(util.Rounddown(int(addr), PageSize))

	as.mu.Lock()
	defer as.mu.Unlock()

	var start int64
	var err defs.Err_t
	if flags&MapFixed != 0 {
		if as.overlapsLocked(addr, addr+length) {
			return 0, -defs.EINVAL
		}
		start = addr
	} else {
		start, err = as.findGap(addr, length, searchLo, searchHi)
		if err != 0 {
			return 0, err
		}
	}

	typ := Anonymous
	if backing != nil {
		typ = FileBacked
	}
	v := &VMA{Start: start, End: start + length, Prot: prot, Type: typ, Backing: backing, FileOffset: offset}
	if flags&MapShared != 0 {
		v.Prot |= FlagShared
	}
	as.insertLocked(v)
	return start, 0
}

func (as *AddressSpace) overlapsLocked(start, end int64) bool {
	for _, v := range as.vmas {
		if start < v.End && v.Start < end {
			return true
		}
	}
	return false
}

func (as *AddressSpace) insertLocked(v *VMA) {
	i := sort.Search(len(as.vmas), func(i int) bool { return as.vmas[i].Start >= v.Start })
	as.vmas = append(as.vmas, nil)
	copy(as.vmas[i+1:], as.vmas[i:])
	as.vmas[i] = v
	as.coalesceAround(i)
}

func (as *AddressSpace) coalesceAround(i int) {
	if i+1 < len(as.vmas) && mergeable(as.vmas[i], as.vmas[i+1]) {
		as.vmas[i].End = as.vmas[i+1].End
		as.vmas = append(as.vmas[:i+1], as.vmas[i+2:]...)
	}
	if i > 0 && mergeable(as.vmas[i-1], as.vmas[i]) {
		as.vmas[i-1].End = as.vmas[i].End
		as.vmas = append(as.vmas[:i], as.vmas[i+1:]...)
	}
}

// split breaks the VMA at index i at address va (which must be strictly
// interior and page-aligned) into two VMAs, per the design.
func (as *AddressSpace) split(i int, va int64) {
	v := as.vmas[i]
	if va <= v.Start || va >= v.End {
		panic("vma: split point not interior")
	}
	right := &VMA{Start: va, End: v.End, Prot: v.Prot, Type: v.Type, Backing: v.Backing,
		FileOffset: v.FileOffset + (va - v.Start)}
	v.End = va
	as.vmas = append(as.vmas, nil)
	copy(as.vmas[i+2:], as.vmas[i+1:])
	as.vmas[i+1] = right
}

// Munmap removes [addr, addr+length) from the address space, splitting up
// to two VMAs at the low and high ends. It returns 0, or EINVAL for a
// non-positive length; it does not report which pages were removed, and it
// neither frees backing pages nor flushes the TLB.
func (as *AddressSpace) Munmap(addr, length int64) defs.Err_t {
	if length <= 0 {
		return -defs.EINVAL
	}
	addr = int64(util.Rounddown(int(addr), PageSize))
	length = int64(util.Roundup(int(length), PageSize))
	end := addr + length

	as.mu.Lock()
	defer as.mu.Unlock()

	for i := 0; i < len(as.vmas); i++ {
		v := as.vmas[i]
		if v.End <= addr || v.Start >= end {
			continue
		}
		if v.Start < addr {
			as.split(i, addr)
			continue // the left remainder stays at i; the next pass examines the right part at i+1
		}
		if v.End > end {
			as.split(i, end)
		}
		v = as.vmas[i]
		if v.Start >= addr && v.End <= end {
			as.vmas = append(as.vmas[:i], as.vmas[i+1:]...)
			i--
		}
	}
	return 0
}

// Mprotect rewrites the permission flags of every VMA intersecting
// [addr, addr+length), splitting at the boundaries as needed.
// Page-table updates for already-populated pages are the caller's
// responsibility (this package owns only the VMA list).
func (as *AddressSpace) Mprotect(addr, length int64, prot Prot) defs.Err_t {
	if length <= 0 {
		return -defs.EINVAL
	}
	addr = int64(util.Rounddown(int(addr), PageSize))
	length = int64(util.Roundup(int(length), PageSize))
	end := addr + length

	as.mu.Lock()
	defer as.mu.Unlock()

	for i := 0; i < len(as.vmas); i++ {
		v := as.vmas[i]
		if v.End <= addr || v.Start >= end {
			continue
		}
		if v.Start < addr {
			as.split(i, addr)
			continue
		}
		if v.End > end {
			as.split(i, end)
		}
		shared := as.vmas[i].Prot & FlagShared
		as.vmas[i].Prot = prot | shared
	}
	for i := 0; i < len(as.vmas); i++ {
		as.coalesceAround(i)
	}
	return 0
}

// Clone duplicates the VMA list for fork. It returns
// the new list; COW page-table setup (write-protecting shared writable
// anonymous pages and flipping the page.Cow flag) is driven by the arch
// layer walking both address spaces' page tables, keyed off this list.
func (as *AddressSpace) Clone() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()
	child := New()
	child.vmas = make([]*VMA, len(as.vmas))
	for i, v := range as.vmas {
		cp := *v
		child.vmas[i] = &cp
	}
	return child
}

// List returns a snapshot of the VMAs, sorted by Start, for callers (the
// page-fault handler, procfs's /proc/self/maps-shaped output) that need to
// walk the whole address space.
func (as *AddressSpace) List() []VMA {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := make([]VMA, len(as.vmas))
	for i, v := range as.vmas {
		out[i] = *v
	}
	return out
}

// Clear empties the VMA list (used by Uvmfree on task exit).
func (as *AddressSpace) Clear() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.vmas = nil
}

// Validate checks the universal VMA invariants from : each VMA is
// page-aligned and non-empty, and the list is sorted with no overlaps.
func (as *AddressSpace) Validate() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	for i, v := range as.vmas {
		if v.Start >= v.End {
			return false
		}
		if v.Start%PageSize != 0 || v.End%PageSize != 0 {
			return false
		}
		if i > 0 && as.vmas[i-1].End > v.Start {
			return false
		}
	}
	return true
}
