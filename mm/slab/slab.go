// Package slab implements kmalloc/kfree over ten fixed size classes. Each
// cache keeps empty/partial/full page lists; objects are carved
// contiguously within a 4 KiB slab page, with free objects holding a
// uint16 "next free index" at their base, and a freed pointer locates its
// owning slab page by masking the address down to a 4 KiB boundary. The
// per-page header Biscuit describes as living "at offset 0" is kept
// out-of-band here (in a page-address-keyed map) so the largest size class
// can still hand out a whole, 4096-aligned page as one object — grounded on
// the teacher kernel's raw unsafe.Pointer-over-a-physical-page idiom
// (mem/mem.go's Pg2bytes/Bytepg2pg), generalized to small-object
// sub-allocation, which the teacher kernel does not itself need since
// Biscuit's x86-64 port kmallocs whole pages.
package slab

import (
	"sync"
	"unsafe"

	"riscvkern/mm/page"
	"riscvkern/mm/pcp"
)

// sizeClasses are the ten object sizes kmalloc rounds up to.
var sizeClasses = [...]int{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

const pageSize = page.PGSIZE
const hdrReserve = 32 // per-page bookkeeping reserved ahead of carved objects

// slabHeader describes one slab page's carving state.
type slabHeader struct {
	owner    *Cache
	total    uint16
	free     uint16
	freeHead uint16 // index into the object array, or noFree
	next     *slabHeader
	prev     *slabHeader
	base     unsafe.Pointer // address of object 0
	pageAddr uintptr
}

const noFree = 0xffff

// Cache is one fixed-size-class allocator: empty/partial/full slab lists.
type Cache struct {
	mu      sync.Mutex
	objSize int
	empty   *slabHeader
	partial *slabHeader
	full    *slabHeader

	pcp *pcp.PerCPU
	cpu int
	// backing holds the Go-GC-visible storage for pages this cache has
	// carved; a freestanding build would instead carve the PCP page's
	// direct-mapped bytes in place.
	backing []*[pageSize]byte
}

// Allocator owns one Cache per size class plus a page-address-keyed index
// used by Kfree to recover the owning slab header from a bare pointer.
type Allocator struct {
	caches  [len(sizeClasses)]*Cache
	mu      sync.Mutex
	byPage  map[uintptr]*slabHeader
}

// New builds an allocator over the given per-CPU page cache, using cpu as
// the CPU whose list backs every cache's page requests.
func New(pc *pcp.PerCPU, cpu int) *Allocator {
	a := &Allocator{byPage: make(map[uintptr]*slabHeader)}
	for i, sz := range sizeClasses {
		a.caches[i] = &Cache{objSize: sz, pcp: pc, cpu: cpu}
	}
	return a
}

func classFor(n int) int {
	for i, sz := range sizeClasses {
		if sz >= n {
			return i
		}
	}
	return -1
}

// Kmalloc allocates n bytes from the smallest cache with objSize >= n. It
// rejects n <= 0 or n > 4096 by returning nil; a successful Kmalloc(4096)
// returns a 4096-aligned pointer.
func (a *Allocator) Kmalloc(n int) unsafe.Pointer {
	if n <= 0 || n > 4096 {
		return nil
	}
	idx := classFor(n)
	return a.caches[idx].alloc(a)
}

// Kfree releases a pointer previously returned by Kmalloc. It locates the
// owning slab by masking ptr down to a page boundary.
func (a *Allocator) Kfree(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	pageAddr := uintptr(ptr) &^ uintptr(pageSize-1)
	a.mu.Lock()
	hdr := a.byPage[pageAddr]
	a.mu.Unlock()
	if hdr == nil {
		panic("slab: Kfree of unknown page")
	}
	hdr.owner.free(ptr, hdr)
}

func (c *Cache) newSlab(a *Allocator) *slabHeader {
	buf := new([pageSize]byte)
	c.backing = append(c.backing, buf)
	pageAddr := uintptr(unsafe.Pointer(&buf[0]))

	hdr := &slabHeader{owner: c, pageAddr: pageAddr}
	if c.objSize >= pageSize {
		// The largest class hands out the whole, page-aligned page as a
		// single object; there is no room left for an in-page header.
		hdr.total = 1
		hdr.base = unsafe.Pointer(&buf[0])
	} else {
		hdr.total = uint16((pageSize - hdrReserve) / c.objSize)
		hdr.base = unsafe.Pointer(&buf[hdrReserve])
	}
	hdr.free = hdr.total
	for i := uint16(0); i < hdr.total; i++ {
		objPtr := unsafe.Add(hdr.base, int(i)*c.objSize)
		next := i + 1
		if next == hdr.total {
			next = noFree
		}
		if c.objSize >= 2 {
			*(*uint16)(objPtr) = next
		}
	}
	hdr.freeHead = 0

	a.mu.Lock()
	a.byPage[pageAddr] = hdr
	a.mu.Unlock()
	return hdr
}

func (c *Cache) alloc(a *Allocator) unsafe.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()

	hdr := c.partial
	if hdr == nil {
		if c.empty != nil {
			hdr = c.empty
			c.removeFrom(&c.empty, hdr)
		} else {
			// Request backing memory via the per-CPU page source, then carve
			// a fresh slab — pcp is the fast path in front of the buddy
			// allocator.
			if _, err := c.pcp.Alloc(c.cpu, pcp.Unmovable); err != 0 {
				return nil
			}
			hdr = c.newSlab(a)
		}
		c.pushFront(&c.partial, hdr)
	}

	if hdr.freeHead == noFree {
		panic("slab: partial/empty list head had no free objects")
	}
	objPtr := unsafe.Add(hdr.base, int(hdr.freeHead)*c.objSize)
	if c.objSize >= 2 {
		hdr.freeHead = *(*uint16)(objPtr)
	} else {
		hdr.freeHead++
	}
	hdr.free--

	if hdr.free == 0 {
		c.removeFrom(&c.partial, hdr)
		c.pushFront(&c.full, hdr)
	}
	return objPtr
}

func (c *Cache) free(ptr unsafe.Pointer, hdr *slabHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := uint16((uintptr(ptr) - uintptr(hdr.base)) / uintptr(c.objSize))
	wasFull := hdr.free == 0
	if c.objSize >= 2 {
		*(*uint16)(ptr) = hdr.freeHead
	}
	hdr.freeHead = idx
	hdr.free++

	if wasFull {
		c.removeFrom(&c.full, hdr)
		c.pushFront(&c.partial, hdr)
	}
	if hdr.free == hdr.total {
		c.removeFrom(&c.partial, hdr)
		c.pushFront(&c.empty, hdr)
	}
}

func (c *Cache) pushFront(list **slabHeader, hdr *slabHeader) {
	hdr.next = *list
	hdr.prev = nil
	if *list != nil {
		(*list).prev = hdr
	}
	*list = hdr
}

func (c *Cache) removeFrom(list **slabHeader, hdr *slabHeader) {
	if hdr.prev != nil {
		hdr.prev.next = hdr.next
	} else {
		*list = hdr.next
	}
	if hdr.next != nil {
		hdr.next.prev = hdr.prev
	}
	hdr.next, hdr.prev = nil, nil
}

// Counts returns (emptyPages, partialPages, fullPages) for cache index idx,
// used by round-trip tests to assert counters return to their initial state.
func (a *Allocator) Counts(idx int) (int, int, int) {
	c := a.caches[idx]
	c.mu.Lock()
	defer c.mu.Unlock()
	count := func(h *slabHeader) int {
		n := 0
		for ; h != nil; h = h.next {
			n++
		}
		return n
	}
	return count(c.empty), count(c.partial), count(c.full)
}
