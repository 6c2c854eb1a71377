// Package ext4 implements an ext4-compatible filesystem backend over the
// bio buffer cache. Grounded on
// original_source/kernel/src/fs/ext4/{allocator,indirect}.rs for on-disk
// layout and block-mapping arithmetic (itself following Linux's
// fs/ext4/{ialloc,mballoc,inode}.c), reworked into Go value types decoded
// via kernel/util's little-endian helpers in place of the original's
// pointer-cast reinterpretation.
package ext4

import (
	"riscvkern/kernel/defs"
	"riscvkern/kernel/util"
)

// Ext4Magic is the on-disk superblock magic (s_magic).
const Ext4Magic = 0xEF53

// BlockSize is fixed at 4096 throughout this implementation; variable
// block sizes are out of scope.
const BlockSize = 4096

// SuperblockSize is the on-disk superblock's fixed 1024-byte region,
// occupying bytes 1024..2047 of block 0 when BlockSize==4096.
const SuperblockSize = 1024

// Superblock is the decoded subset of ext4's on-disk superblock fields this
// implementation needs.
type Superblock struct {
	InodesCount      uint32
	BlocksCountLo    uint32
	FreeBlocksLo     uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	BlocksPerGroup   uint32
	InodesPerGroup   uint32
	Magic            uint16
	InodeSize        uint16
}

// DecodeSuperblock parses buf (one SuperblockSize-byte region) into a
// Superblock, field offsets following ext4's struct ext4_super_block.
func DecodeSuperblock(buf []byte) (Superblock, defs.Err_t) {
	if len(buf) < SuperblockSize {
		return Superblock{}, -defs.EINVAL
	}
	var sb Superblock
	sb.InodesCount = util.Le32(buf, 0)
	sb.BlocksCountLo = util.Le32(buf, 4)
	sb.FreeBlocksLo = util.Le32(buf, 12)
	sb.FreeInodesCount = util.Le32(buf, 16)
	sb.FirstDataBlock = util.Le32(buf, 20)
	sb.LogBlockSize = util.Le32(buf, 24)
	sb.BlocksPerGroup = util.Le32(buf, 32)
	sb.InodesPerGroup = util.Le32(buf, 40)
	sb.Magic = util.Le16(buf, 56)
	sb.InodeSize = util.Le16(buf, 88)
	if sb.Magic != Ext4Magic {
		return Superblock{}, -defs.EINVAL
	}
	return sb, 0
}

// Encode writes sb back into a SuperblockSize-byte buffer, used by cmd/mkfs
// and by free-count updates.
func (sb *Superblock) Encode(buf []byte) {
	util.PutLe32(buf, 0, sb.InodesCount)
	util.PutLe32(buf, 4, sb.BlocksCountLo)
	util.PutLe32(buf, 12, sb.FreeBlocksLo)
	util.PutLe32(buf, 16, sb.FreeInodesCount)
	util.PutLe32(buf, 20, sb.FirstDataBlock)
	util.PutLe32(buf, 24, sb.LogBlockSize)
	util.PutLe32(buf, 32, sb.BlocksPerGroup)
	util.PutLe32(buf, 40, sb.InodesPerGroup)
	util.PutLe16(buf, 56, sb.Magic)
	util.PutLe16(buf, 88, sb.InodeSize)
}

// GroupCount returns how many block groups the filesystem is divided into.
func (sb *Superblock) GroupCount() uint32 {
	if sb.BlocksPerGroup == 0 {
		return 0
	}
	return (sb.BlocksCountLo + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// GroupDescSize is sizeof(struct ext4_group_desc) for the 32-bit (non-64bit
// feature) layout this implementation targets.
const GroupDescSize = 32

// GroupDesc is the decoded subset of one block group descriptor.
type GroupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
}

func DecodeGroupDesc(buf []byte) GroupDesc {
	return GroupDesc{
		BlockBitmap:     util.Le32(buf, 0),
		InodeBitmap:     util.Le32(buf, 4),
		InodeTable:      util.Le32(buf, 8),
		FreeBlocksCount: util.Le16(buf, 12),
		FreeInodesCount: util.Le16(buf, 14),
	}
}

func (gd *GroupDesc) Encode(buf []byte) {
	util.PutLe32(buf, 0, gd.BlockBitmap)
	util.PutLe32(buf, 4, gd.InodeBitmap)
	util.PutLe32(buf, 8, gd.InodeTable)
	util.PutLe16(buf, 12, gd.FreeBlocksCount)
	util.PutLe16(buf, 14, gd.FreeInodesCount)
}

// GroupDescStartBlock returns the block where the group descriptor table
// starts, following the original_source convention (descriptor table
// starts right after the superblock's block); DescsPerBlock gives how many
// descriptors fit in each of its blocks.
func GroupDescStartBlock() uint64 { return 1 }

func DescsPerBlock() uint32 { return BlockSize / GroupDescSize }
