package trap

import "riscvkern/mm/vma"

// PROT_* bits (mmap(2)); mmap/mprotect syscall arguments arrive as raw
// Linux-ABI bit patterns and are translated into vma.Prot here.
const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4
)

// MAP_* bits consulted by sysMmapImpl (MAP_FIXED/MAP_PRIVATE/MAP_SHARED);
// any other bit (MAP_ANONYMOUS included, since every mapping with a nil
// Backing is already anonymous by convention) is accepted but ignored.
const (
	mapShared = 0x01
	mapFixed  = 0x10
)

func vmaProtFromBits(bits uint64) vma.Prot {
	var p vma.Prot
	if bits&protRead != 0 {
		p |= vma.ProtRead
	}
	if bits&protWrite != 0 {
		p |= vma.ProtWrite
	}
	if bits&protExec != 0 {
		p |= vma.ProtExec
	}
	return p
}

func mmapFlagsFromBits(bits uint64) vma.MmapFlags {
	var f vma.MmapFlags
	if bits&mapShared != 0 {
		f |= vma.MapShared
	} else {
		f |= vma.MapPrivate
	}
	if bits&mapFixed != 0 {
		f |= vma.MapFixed
	}
	return f
}
