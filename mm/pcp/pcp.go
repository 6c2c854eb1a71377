// Package pcp implements the per-CPU page cache that sits in front of the
// buddy allocator: three migrate-type lists per CPU, refilled and drained
// in batches against the buddy so the common kernel allocation path never
// touches the global buddy lock.
// Grounded on the teacher kernel's mem/mem.go pcpuphys_t per-CPU free lists,
// generalized from one untyped list to the three migrate-type lists this
// layer keeps.
package pcp

import (
	"sync"

	"riscvkern/kernel/defs"
	"riscvkern/mm/buddy"
	"riscvkern/mm/page"
)

// MigrateType partitions pages by how hard they are to relocate.
type MigrateType int

const (
	Unmovable MigrateType = iota
	Movable
	Reclaimable
	nMigrateTypes
)

const (
	// HighWatermark/LowWatermark are the per-list page counts that trigger
	// drain/refill against the buddy allocator (64/16 defaults).
	HighWatermark = 64
	LowWatermark  = 16
	batch         = 32
)

type cpuList struct {
	mu   sync.Mutex
	head uint32
	n    int
}

const noPage = ^uint32(0)

// Cache is the set of per-CPU lists for one logical CPU.
type Cache struct {
	lists [nMigrateTypes]cpuList
}

// PerCPU owns one Cache per CPU plus a reference to the backing buddy
// allocator and mem_map for splitting/merging.
type PerCPU struct {
	cpus  []Cache
	buddy *buddy.Allocator
	mm    *page.MemMap
}

// New builds a per-CPU page cache for ncpus logical CPUs.
func New(b *buddy.Allocator, mm *page.MemMap, ncpus int) *PerCPU {
	pc := &PerCPU{buddy: b, mm: mm, cpus: make([]Cache, ncpus)}
	for c := range pc.cpus {
		for t := range pc.cpus[c].lists {
			pc.cpus[c].lists[t].head = noPage
		}
	}
	return pc
}

func (pc *PerCPU) push(cpu int, mt MigrateType, pfn page.PFN) {
	l := &pc.cpus[cpu].lists[mt]
	l.mu.Lock()
	idx := pc.mm.PFNToIndex(pfn)
	pc.mm.Pages[idx].NextFree = l.head
	l.head = idx
	l.n++
	drain := l.n > HighWatermark
	l.mu.Unlock()
	if drain {
		pc.drain(cpu, mt)
	}
}

func (pc *PerCPU) pop(cpu int, mt MigrateType) (page.PFN, bool) {
	l := &pc.cpus[cpu].lists[mt]
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == noPage {
		return 0, false
	}
	idx := l.head
	l.head = pc.mm.Pages[idx].NextFree
	l.n--
	return pc.mm.IndexToPFN(idx), true
}

// refill pulls batch order-0 pages from the buddy allocator onto this CPU's
// list for mt, called while the list is empty.
func (pc *PerCPU) refill(cpu int, mt MigrateType) {
	for i := 0; i < batch; i++ {
		pfn, err := pc.buddy.Alloc(0)
		if err != 0 {
			return
		}
		l := &pc.cpus[cpu].lists[mt]
		l.mu.Lock()
		idx := pc.mm.PFNToIndex(pfn)
		pc.mm.Pages[idx].NextFree = l.head
		l.head = idx
		l.n++
		l.mu.Unlock()
	}
}

// drain pushes up to batch pages from this CPU's list for mt back to the
// buddy allocator, stopping early once the list is down to LowWatermark.
func (pc *PerCPU) drain(cpu int, mt MigrateType) {
	l := &pc.cpus[cpu].lists[mt]
	for i := 0; i < batch; i++ {
		l.mu.Lock()
		if l.n <= LowWatermark || l.head == noPage {
			l.mu.Unlock()
			return
		}
		idx := l.head
		l.head = pc.mm.Pages[idx].NextFree
		l.n--
		l.mu.Unlock()
		pc.buddy.Free(pc.mm.IndexToPFN(idx), 0)
	}
}

// Alloc returns one order-0 page from cpu's cache, refilling from the buddy
// allocator on an empty list. Pages returned here have
// Refcount==0 and are not on any buddy free list, per the PCP invariant in
// 
func (pc *PerCPU) Alloc(cpu int, mt MigrateType) (page.PFN, defs.Err_t) {
	if pfn, ok := pc.pop(cpu, mt); ok {
		return pfn, 0
	}
	pc.refill(cpu, mt)
	if pfn, ok := pc.pop(cpu, mt); ok {
		return pfn, 0
	}
	// Fast path exhausted; fall through to the global buddy allocator
	// directly. Callers must check the returned error rather than assume
	// success.
	return pc.buddy.Alloc(0)
}

// Free returns an order-0 page to cpu's cache, draining to the buddy
// allocator once the high watermark is crossed.
func (pc *PerCPU) Free(cpu int, mt MigrateType, pfn page.PFN) {
	pc.push(cpu, mt, pfn)
}

// Count reports the number of queued pages for cpu/mt, used by tests and by
// /proc/meminfo's gauge wiring.
func (pc *PerCPU) Count(cpu int, mt MigrateType) int {
	l := &pc.cpus[cpu].lists[mt]
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}
