// Package buddy implements the order-0..MAX_ORDER physical page buddy
// allocator: one singly linked free list per order, living over
// Page.NextFree/Private, matching the teacher kernel's
// free-list-over-the-descriptor idiom in mem/mem.go, generalized from
// Biscuit's single free-list-of-pages to a full buddy-merge scheme.
package buddy

import (
	"sync"

	"riscvkern/kernel/defs"
	"riscvkern/mm/page"
)

// MaxOrder is the highest block order the allocator manages (2^20 pages).
const MaxOrder = 20

// Allocator is a single mutex-guarded buddy allocator over one
// MemMap. The PCP layer absorbs the common case so this lock stays
// uncontended in the steady state.
type Allocator struct {
	mu      sync.Mutex
	mm      *page.MemMap
	heads   [MaxOrder + 1]uint32 // index into mm.Pages, or sentinel
	freeLen [MaxOrder + 1]int
}

const noPage = ^uint32(0)

// New builds an allocator over mm with every free list empty; the caller
// then queues each free frame with SeedFree.
func New(mm *page.MemMap) *Allocator {
	a := &Allocator{mm: mm}
	for i := range a.heads {
		a.heads[i] = noPage
	}
	return a
}

// SeedFree pushes pfn (an order-0, currently-free frame) onto the free
// lists, merging with any already-seeded buddy exactly as Free does. Called
// once per unreserved frame during boot, in any order, so the mem_map ends
// up with the same maximally-coalesced free lists regardless of seeding
// order.
func (a *Allocator) SeedFree(pfn page.PFN) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(pfn, 0)
}

func (a *Allocator) pushLocked(order int, pfn page.PFN) {
	idx := a.mm.PFNToIndex(pfn)
	pg := &a.mm.Pages[idx]
	pg.Private = uintptr(order)
	pg.NextFree = a.heads[order]
	a.heads[order] = idx
	a.freeLen[order]++
}

func (a *Allocator) popLocked(order int) (page.PFN, bool) {
	idx := a.heads[order]
	if idx == noPage {
		return 0, false
	}
	pg := &a.mm.Pages[idx]
	a.heads[order] = pg.NextFree
	a.freeLen[order]--
	return a.mm.IndexToPFN(idx), true
}

// FreeCount returns the number of free blocks currently queued at order.
func (a *Allocator) FreeCount(order int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLen[order]
}

// Alloc allocates one order-k block, splitting a larger block down to k as
// needed. It returns ENOMEM if every order from k up is
// empty.
func (a *Allocator) Alloc(order int) (page.PFN, defs.Err_t) {
	if order < 0 || order > MaxOrder {
		return 0, -defs.EINVAL
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	src := order
	for src <= MaxOrder {
		if _, ok := a.peekLocked(src); ok {
			break
		}
		src++
	}
	if src > MaxOrder {
		return 0, -defs.ENOMEM
	}
	pfn, _ := a.popLocked(src)
	// Split [pfn, pfn+2^src) down to order k, queueing the upper half of
	// each split onto the next lower order's free list.
	for src > order {
		src--
		buddyPFN := pfn ^ page.PFN(1<<src)
		a.pushLocked(src, buddyPFN)
	}
	pg := a.mm.PFNToPage(pfn)
	pg.Private = uintptr(order)
	pg.Refcount = 0
	return pfn, 0
}

func (a *Allocator) peekLocked(order int) (page.PFN, bool) {
	idx := a.heads[order]
	if idx == noPage {
		return 0, false
	}
	return a.mm.IndexToPFN(idx), true
}

// inRange reports whether pfn is part of this allocator's managed region.
func (a *Allocator) inRange(pfn page.PFN) bool {
	idx := int64(pfn) - int64(a.mm.BasePFN)
	return idx >= 0 && idx < int64(len(a.mm.Pages))
}

// Free returns a previously allocated order-k block to the allocator,
// recursively merging with its buddy while the buddy is itself free and at
// the same order. A buddy outside the managed range, or one
// still marked Reserved, is treated as allocated and merging stops.
func (a *Allocator) Free(pfn page.PFN, order int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked(pfn, order)
}

func (a *Allocator) freeLocked(pfn page.PFN, order int) {
	for order < MaxOrder {
		buddyPFN := pfn ^ page.PFN(1<<order)
		if !a.inRange(buddyPFN) {
			break
		}
		bIdx := a.mm.PFNToIndex(buddyPFN)
		bpg := &a.mm.Pages[bIdx]
		if bpg.HasFlag(page.Reserved) {
			break
		}
		if !a.isOnFreeList(order, bIdx) {
			break
		}
		a.removeFromFreeList(order, bIdx)
		if buddyPFN < pfn {
			pfn = buddyPFN
		}
		order++
	}
	a.pushLocked(order, pfn)
}

func (a *Allocator) isOnFreeList(order int, idx uint32) bool {
	for ni := a.heads[order]; ni != noPage; ni = a.mm.Pages[ni].NextFree {
		if ni == idx {
			return true
		}
	}
	return false
}

func (a *Allocator) removeFromFreeList(order int, idx uint32) {
	if a.heads[order] == idx {
		a.heads[order] = a.mm.Pages[idx].NextFree
		a.freeLen[order]--
		return
	}
	prev := a.heads[order]
	for ni := a.mm.Pages[prev].NextFree; ni != noPage; ni = a.mm.Pages[prev].NextFree {
		if ni == idx {
			a.mm.Pages[prev].NextFree = a.mm.Pages[idx].NextFree
			a.freeLen[order]--
			return
		}
		prev = ni
	}
	panic("buddy: removeFromFreeList: not found")
}
