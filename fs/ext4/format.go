package ext4

import (
	"riscvkern/bio"
	"riscvkern/kernel/defs"
)

// formatLayout is the fixed single-block-group layout Format lays down:
// block 0 (superblock), block 1 (group descriptor table), block 2 (block
// bitmap), block 3 (inode bitmap), then the inode table, then the root
// directory's one data block. Everything from there on is free for the
// allocator; this mirrors the teacher's own mkfs/mkfs.go in spirit, laid
// out against this port's decoded Superblock/GroupDesc/RawInode types
// instead of the teacher's byte-level on-disk structs.
const (
	formatSbBlock          = 0
	formatGroupDescBlock   = 1
	formatBlockBitmapBlock = 2
	formatInodeBitmapBlock = 3
	formatInodeTableStart  = 4
)

// DefaultInodeCount is how many inodes Format reserves when the caller
// doesn't specify a count, sized generously relative to the small images
// this kernel boots from.
const DefaultInodeCount = 1024

// Format lays down a fresh, single-block-group ext4 image of totalBlocks
// BlockSize-byte blocks across dev through cache, with an empty root
// directory (ino 2, containing only "." and ".."), and returns it mounted
//. dev's
// backing BlockDevice must already be sized to at least totalBlocks blocks
// (cmd/mkfs truncates its output file up front so reads past any
// not-yet-written block return zeros).
func Format(cache *bio.Cache, dev uint32, totalBlocks uint32, inodeCount uint32) (*FS, defs.Err_t) {
	if inodeCount == 0 {
		inodeCount = DefaultInodeCount
	}
	inodesPerBlock := uint32(BlockSize / RawInodeSize)
	inodeTableBlocks := (inodeCount + inodesPerBlock - 1) / inodesPerBlock
	rootDirBlock := formatInodeTableStart + inodeTableBlocks
	firstDataBlock := rootDirBlock + 1
	if totalBlocks <= firstDataBlock {
		return nil, -defs.ENOSPC
	}

	sb := Superblock{
		InodesCount:     inodeCount,
		BlocksCountLo:   totalBlocks,
		FreeBlocksLo:    totalBlocks - firstDataBlock,
		FreeInodesCount: inodeCount - 2,
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    2, // 1024 << 2 == 4096 == BlockSize
		BlocksPerGroup:  totalBlocks,
		InodesPerGroup:  inodeCount,
		Magic:           Ext4Magic,
		InodeSize:       RawInodeSize,
	}
	gd := GroupDesc{
		BlockBitmap:     formatBlockBitmapBlock,
		InodeBitmap:     formatInodeBitmapBlock,
		InodeTable:      formatInodeTableStart,
		FreeBlocksCount: clampU16(totalBlocks - firstDataBlock),
		FreeInodesCount: clampU16(inodeCount - 2),
	}

	if err := writeZeroed(cache, dev, formatSbBlock); err != 0 {
		return nil, err
	}
	sb.Encode(mustData(cache, dev, formatSbBlock)[1024 : 1024+SuperblockSize])
	if err := syncBlock(cache, dev, formatSbBlock); err != 0 {
		return nil, err
	}

	if err := writeZeroed(cache, dev, formatGroupDescBlock); err != 0 {
		return nil, err
	}
	gd.Encode(mustData(cache, dev, formatGroupDescBlock)[0:GroupDescSize])
	if err := syncBlock(cache, dev, formatGroupDescBlock); err != 0 {
		return nil, err
	}

	blockBitmap := make([]byte, BlockSize)
	for bit := uint32(0); bit < firstDataBlock; bit++ {
		setBit(blockBitmap, bit)
	}
	if err := writeBlock(cache, dev, formatBlockBitmapBlock, blockBitmap); err != 0 {
		return nil, err
	}

	inodeBitmap := make([]byte, BlockSize)
	setBit(inodeBitmap, 0) // ino 1, conventionally reserved
	setBit(inodeBitmap, 1) // ino 2, root
	if err := writeBlock(cache, dev, formatInodeBitmapBlock, inodeBitmap); err != 0 {
		return nil, err
	}

	for b := uint32(0); b < inodeTableBlocks; b++ {
		if err := writeZeroed(cache, dev, uint64(formatInodeTableStart+b)); err != 0 {
			return nil, err
		}
	}

	rootDirData := make([]byte, BlockSize)
	dotLen := minDirentLen(1)
	encodeDirent(rootDirData, 0, RootIno, []byte("."), FtDir, dotLen)
	encodeDirent(rootDirData, int(dotLen), RootIno, []byte(".."), FtDir, uint16(BlockSize)-dotLen)
	if err := writeBlock(cache, dev, uint64(rootDirBlock), rootDirData); err != 0 {
		return nil, err
	}

	rootInode := RawInode{Mode: ModeDir | 0755, LinksCount: 2, SizeLo: BlockSize}
	rootInode.Block[0] = rootDirBlock
	if err := writeRawInodeAt(cache, dev, &sb, RootIno, &rootInode); err != 0 {
		return nil, err
	}

	return Mount(cache, dev)
}

func clampU16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func mustData(cache *bio.Cache, dev uint32, blockno uint64) []byte {
	h, err := cache.Bread(dev, blockno)
	if err != 0 {
		panic("format: block not already faulted in")
	}
	cache.Release(h)
	return h.Data()
}

func writeZeroed(cache *bio.Cache, dev uint32, blockno uint64) defs.Err_t {
	h, err := cache.Bread(dev, blockno)
	if err != 0 {
		return err
	}
	d := h.Data()
	for i := range d {
		d[i] = 0
	}
	h.SetDirty()
	cache.Release(h)
	return 0
}

func writeBlock(cache *bio.Cache, dev uint32, blockno uint64, buf []byte) defs.Err_t {
	h, err := cache.Bread(dev, blockno)
	if err != 0 {
		return err
	}
	copy(h.Data(), buf)
	h.SetDirty()
	cache.Release(h)
	return syncBlock(cache, dev, blockno)
}

func syncBlock(cache *bio.Cache, dev uint32, blockno uint64) defs.Err_t {
	h, err := cache.Bread(dev, blockno)
	if err != 0 {
		return err
	}
	err = cache.SyncBuffer(h)
	cache.Release(h)
	return err
}

// writeRawInodeAt stores ri at ino's table slot, computed directly from sb
// rather than through a mounted FS (Format runs before one exists).
func writeRawInodeAt(cache *bio.Cache, dev uint32, sb *Superblock, ino uint32, ri *RawInode) defs.Err_t {
	inodesPerBlock := uint32(BlockSize / RawInodeSize)
	inoInGroup := ino - 1 // single group
	blkInTable, off := InodeBlockOffset(inoInGroup, inodesPerBlock)
	block := uint64(formatInodeTableStart + blkInTable)
	h, err := cache.Bread(dev, block)
	if err != 0 {
		return err
	}
	ri.Encode(h.Data()[off : off+RawInodeSize])
	h.SetDirty()
	cache.Release(h)
	return syncBlock(cache, dev, block)
}
