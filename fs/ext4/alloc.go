package ext4

import (
	"riscvkern/kernel/defs"
)

// findFreeBit scans bitmap starting at bit `start`, returning the first
// clear bit below max (directly following
// original_source/kernel/src/fs/ext4/allocator.rs's find_free_bit).
func findFreeBit(bitmap []byte, start, max uint32) (uint32, bool) {
	for byteIdx := start / 8; int(byteIdx) < len(bitmap); byteIdx++ {
		b := bitmap[byteIdx]
		if b == 0xFF {
			continue
		}
		base := byteIdx * 8
		for bit := uint32(0); bit < 8; bit++ {
			abs := base + bit
			if abs >= max {
				return 0, false
			}
			if abs < start {
				continue
			}
			if b&(1<<bit) == 0 {
				return abs, true
			}
		}
	}
	return 0, false
}

func setBit(bitmap []byte, bit uint32)   { bitmap[bit/8] |= 1 << (bit % 8) }
func clearBit(bitmap []byte, bit uint32) { bitmap[bit/8] &^= 1 << (bit % 8) }

// Allocator allocates blocks and inodes by scanning the group descriptor
// table for a group with free space, starting from a preferred group hint.
// original_source's allocator.rs always starts from group 0; this port
// adds the hint so related inodes/blocks can be placed in the same group,
// a standard ext4 locality optimization the original left unimplemented.
type Allocator struct {
	fs *FS
}

func NewAllocator(fs *FS) *Allocator { return &Allocator{fs: fs} }

// AllocBlock allocates a single free block, trying preferredGroup first.
func (a *Allocator) AllocBlock(preferredGroup uint32) (uint64, defs.Err_t) {
	a.fs.mu.Lock()
	defer a.fs.mu.Unlock()
	n := a.fs.sb.GroupCount()
	for off := uint32(0); off < n; off++ {
		g := (preferredGroup + off) % n
		gd := &a.fs.groups[g]
		if gd.FreeBlocksCount == 0 {
			continue
		}
		h, err := a.fs.cache.Bread(a.fs.dev, uint64(gd.BlockBitmap))
		if err != 0 {
			return 0, err
		}
		start := uint32(0)
		if g == 0 {
			start = a.fs.sb.FirstDataBlock
		}
		bit, ok := findFreeBit(h.Data(), start, a.fs.sb.BlocksPerGroup)
		if !ok {
			a.fs.cache.Release(h)
			continue
		}
		setBit(h.Data(), bit)
		h.SetDirty()
		a.fs.cache.Release(h)

		gd.FreeBlocksCount--
		a.fs.writeGroupDesc(g)
		a.fs.sb.FreeBlocksLo--
		a.fs.writeSuperblock()

		return uint64(g)*uint64(a.fs.sb.BlocksPerGroup) + uint64(bit), 0
	}
	return 0, -defs.ENOSPC
}

// FreeBlock clears blk's bitmap bit and restores the group/superblock free
// counts.
func (a *Allocator) FreeBlock(blk uint64) defs.Err_t {
	a.fs.mu.Lock()
	defer a.fs.mu.Unlock()
	bpg := uint64(a.fs.sb.BlocksPerGroup)
	g := uint32(blk / bpg)
	if g >= a.fs.sb.GroupCount() {
		return -defs.EINVAL
	}
	off := uint32(blk % bpg)
	gd := &a.fs.groups[g]

	h, err := a.fs.cache.Bread(a.fs.dev, uint64(gd.BlockBitmap))
	if err != 0 {
		return err
	}
	clearBit(h.Data(), off)
	h.SetDirty()
	a.fs.cache.Release(h)

	gd.FreeBlocksCount++
	a.fs.writeGroupDesc(g)
	a.fs.sb.FreeBlocksLo++
	a.fs.writeSuperblock()
	return 0
}

// AllocInode allocates a free inode number (1-indexed, 0 reserved), trying
// preferredGroup first.
func (a *Allocator) AllocInode(preferredGroup uint32) (uint32, defs.Err_t) {
	a.fs.mu.Lock()
	defer a.fs.mu.Unlock()
	n := a.fs.sb.GroupCount()
	for off := uint32(0); off < n; off++ {
		g := (preferredGroup + off) % n
		gd := &a.fs.groups[g]
		if gd.FreeInodesCount == 0 {
			continue
		}
		h, err := a.fs.cache.Bread(a.fs.dev, uint64(gd.InodeBitmap))
		if err != 0 {
			return 0, err
		}
		bit, ok := findFreeBit(h.Data(), 0, a.fs.sb.InodesPerGroup)
		if !ok {
			a.fs.cache.Release(h)
			continue
		}
		setBit(h.Data(), bit)
		h.SetDirty()
		a.fs.cache.Release(h)

		gd.FreeInodesCount--
		a.fs.writeGroupDesc(g)
		a.fs.sb.FreeInodesCount--
		a.fs.writeSuperblock()

		return g*a.fs.sb.InodesPerGroup + bit + 1, 0
	}
	return 0, -defs.ENOSPC
}

// FreeInode clears ino's bitmap bit.
func (a *Allocator) FreeInode(ino uint32) defs.Err_t {
	a.fs.mu.Lock()
	defer a.fs.mu.Unlock()
	ipg := a.fs.sb.InodesPerGroup
	g := (ino - 1) / ipg
	if g >= a.fs.sb.GroupCount() {
		return -defs.EINVAL
	}
	off := (ino - 1) % ipg
	gd := &a.fs.groups[g]

	h, err := a.fs.cache.Bread(a.fs.dev, uint64(gd.InodeBitmap))
	if err != 0 {
		return err
	}
	clearBit(h.Data(), off)
	h.SetDirty()
	a.fs.cache.Release(h)

	gd.FreeInodesCount++
	a.fs.writeGroupDesc(g)
	a.fs.sb.FreeInodesCount++
	a.fs.writeSuperblock()
	return 0
}
