package ext4

import (
	"sync"

	"riscvkern/bio"
	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

// FS is a mounted ext4 filesystem instance bound to one bio.Cache device.
type FS struct {
	mu     sync.Mutex
	cache  *bio.Cache
	dev    uint32
	sb     Superblock
	groups []GroupDesc
	alloc  *Allocator
}

// Mount reads the superblock and group descriptor table off dev through
// cache and returns a ready FS.
func Mount(cache *bio.Cache, dev uint32) (*FS, defs.Err_t) {
	h, err := cache.Bread(dev, 0)
	if err != 0 {
		return nil, err
	}
	sb, err := DecodeSuperblock(h.Data()[1024:1024+SuperblockSize])
	cache.Release(h)
	if err != 0 {
		return nil, err
	}

	fs := &FS{cache: cache, dev: dev, sb: sb}
	n := sb.GroupCount()
	fs.groups = make([]GroupDesc, n)
	descsPerBlock := DescsPerBlock()
	for g := uint32(0); g < n; g++ {
		blockIdx := GroupDescStartBlock() + uint64(g/descsPerBlock)
		off := int(g%descsPerBlock) * GroupDescSize
		bh, err := cache.Bread(dev, blockIdx)
		if err != 0 {
			return nil, err
		}
		fs.groups[g] = DecodeGroupDesc(bh.Data()[off : off+GroupDescSize])
		cache.Release(bh)
	}
	fs.alloc = NewAllocator(fs)
	return fs, 0
}

func (fs *FS) writeSuperblock() {
	h, err := fs.cache.Bread(fs.dev, 0)
	if err != 0 {
		return
	}
	fs.sb.Encode(h.Data()[1024 : 1024+SuperblockSize])
	h.SetDirty()
	fs.cache.Release(h)
}

func (fs *FS) writeGroupDesc(g uint32) {
	descsPerBlock := DescsPerBlock()
	blockIdx := GroupDescStartBlock() + uint64(g/descsPerBlock)
	off := int(g%descsPerBlock) * GroupDescSize
	h, err := fs.cache.Bread(fs.dev, blockIdx)
	if err != 0 {
		return
	}
	fs.groups[g].Encode(h.Data()[off : off+GroupDescSize])
	h.SetDirty()
	fs.cache.Release(h)
}

// ReadBlock satisfies the blockReader interface GetBlock/PutBlock use.
func (fs *FS) ReadBlock(blockno uint64) ([]byte, defs.Err_t) {
	h, err := fs.cache.Bread(fs.dev, blockno)
	if err != 0 {
		return nil, err
	}
	buf := make([]byte, BlockSize)
	copy(buf, h.Data())
	fs.cache.Release(h)
	return buf, 0
}

// WriteBlock satisfies blockWriter.
func (fs *FS) WriteBlock(blockno uint64, buf []byte) defs.Err_t {
	h, err := fs.cache.Bread(fs.dev, blockno)
	if err != 0 {
		return err
	}
	copy(h.Data(), buf)
	h.SetDirty()
	fs.cache.Release(h)
	return 0
}

// inodeLocation returns the block and byte offset holding ino's on-disk
// record, via group/index arithmetic.
func (fs *FS) inodeLocation(ino uint32) (groupIdx uint32, block uint64, byteOff uint32) {
	ipg := fs.sb.InodesPerGroup
	groupIdx = (ino - 1) / ipg
	inoInGroup := (ino - 1) % ipg
	inodesPerBlock := uint32(BlockSize / RawInodeSize)
	blkInTable, off := InodeBlockOffset(inoInGroup, inodesPerBlock)
	block = uint64(fs.groups[groupIdx].InodeTable) + uint64(blkInTable)
	return groupIdx, block, off
}

// ReadRawInode loads ino's on-disk record.
func (fs *FS) ReadRawInode(ino uint32) (RawInode, defs.Err_t) {
	if ino == 0 || (ino-1)/fs.sb.InodesPerGroup >= fs.sb.GroupCount() {
		return RawInode{}, -defs.EINVAL
	}
	_, block, off := fs.inodeLocation(ino)
	h, err := fs.cache.Bread(fs.dev, block)
	if err != 0 {
		return RawInode{}, err
	}
	ri := DecodeInode(h.Data()[off : off+RawInodeSize])
	fs.cache.Release(h)
	return ri, 0
}

// WriteRawInode stores ri back to disk at ino's location.
func (fs *FS) WriteRawInode(ino uint32, ri *RawInode) defs.Err_t {
	_, block, off := fs.inodeLocation(ino)
	h, err := fs.cache.Bread(fs.dev, block)
	if err != 0 {
		return err
	}
	ri.Encode(h.Data()[off : off+RawInodeSize])
	h.SetDirty()
	fs.cache.Release(h)
	return 0
}

// Node implements vfs.Inode over one ext4 on-disk inode.
type Node struct {
	fs  *FS
	ino uint32
	raw RawInode
}

var _ vfs.Inode = (*Node)(nil)

// OpenNode loads ino and wraps it as a vfs.Inode.
func (fs *FS) OpenNode(ino uint32) (*Node, defs.Err_t) {
	ri, err := fs.ReadRawInode(ino)
	if err != 0 {
		return nil, err
	}
	return &Node{fs: fs, ino: ino, raw: ri}, 0
}

// RootIno is ext4's conventional root directory inode number.
const RootIno = 2

func (fs *FS) Root() (*Node, defs.Err_t) { return fs.OpenNode(RootIno) }

func (n *Node) Attr() vfs.Attr {
	t := vfs.TypeRegular
	switch n.raw.Mode & ModeFmt {
	case ModeDir:
		t = vfs.TypeDirectory
	case ModeLnk:
		t = vfs.TypeSymlink
	case ModeChr, ModeBlk:
		t = vfs.TypeDevice
	case ModeFifo:
		t = vfs.TypeFIFO
	}
	return vfs.Attr{
		Type:  t,
		Mode:  uint32(n.raw.Mode),
		Size:  int64(n.raw.SizeLo),
		Ino:   uint64(n.ino),
		Dev:   uint64(n.fs.dev),
		Nlink: uint32(n.raw.LinksCount),
	}
}

func (n *Node) nblocks() uint64 {
	return (uint64(n.raw.SizeLo) + BlockSize - 1) / BlockSize
}

// Readdir walks directory blocks starting at file-block cookie, returning
// decoded entries up to one block at a time.
func (n *Node) Readdir(cookie int64) ([]vfs.Dirent, int64, defs.Err_t) {
	if n.raw.Mode&ModeFmt != ModeDir {
		return nil, 0, -defs.ENOTDIR
	}
	blk := uint64(cookie)
	if blk >= n.nblocks() {
		return nil, cookie, 0
	}
	phys, err := GetBlock(n.fs, &n.raw, blk)
	if err != 0 {
		return nil, 0, err
	}
	if phys == 0 {
		return nil, cookie + 1, 0
	}
	buf, err := n.fs.ReadBlock(phys)
	if err != 0 {
		return nil, 0, err
	}
	var out []vfs.Dirent
	off := 0
	for off < len(buf) {
		d, next := decodeDirentAt(buf, off)
		if d.Inode != 0 && len(d.Name) > 0 {
			typ := vfs.TypeRegular
			switch d.FileType {
			case FtDir:
				typ = vfs.TypeDirectory
			case FtSymlink:
				typ = vfs.TypeSymlink
			}
			out = append(out, vfs.Dirent{Ino: uint64(d.Inode), Name: ustr.Ustr(d.Name), Type: typ})
		}
		if next <= off {
			break
		}
		off = next
	}
	return out, cookie + 1, 0
}

func (n *Node) Lookup(name ustr.Ustr) (vfs.Inode, defs.Err_t) {
	if n.raw.Mode&ModeFmt != ModeDir {
		return nil, -defs.ENOTDIR
	}
	var cookie int64
	for {
		entries, next, err := n.Readdir(cookie)
		if err != 0 {
			return nil, err
		}
		if next == cookie {
			return nil, -defs.ENOENT
		}
		for _, e := range entries {
			if e.Name.Eq(name) {
				return n.fs.OpenNode(uint32(e.Ino))
			}
		}
		if uint64(next) >= n.nblocks() {
			return nil, -defs.ENOENT
		}
		cookie = next
	}
}

func (n *Node) Readlink() (ustr.Ustr, defs.Err_t) {
	if n.raw.Mode&ModeFmt != ModeLnk {
		return nil, -defs.EINVAL
	}
	buf := make([]byte, n.raw.SizeLo)
	rd, err := n.ReadPage(0, buf)
	if err != 0 {
		return nil, err
	}
	return ustr.Ustr(buf[:rd]), 0
}

func (n *Node) ReadPage(off int64, buf []byte) (int, defs.Err_t) {
	size := int64(n.raw.SizeLo)
	if off >= size {
		return 0, 0
	}
	total := 0
	for total < len(buf) && off+int64(total) < size {
		blk := uint64(off+int64(total)) / BlockSize
		blkOff := int(uint64(off+int64(total)) % BlockSize)
		phys, err := GetBlock(n.fs, &n.raw, blk)
		if err != 0 {
			return total, err
		}
		n2 := BlockSize - blkOff
		remaining := int(size - (off + int64(total)))
		if n2 > remaining {
			n2 = remaining
		}
		if n2 > len(buf)-total {
			n2 = len(buf) - total
		}
		if phys == 0 {
			// sparse hole reads as zero
			for i := 0; i < n2; i++ {
				buf[total+i] = 0
			}
		} else {
			data, err := n.fs.ReadBlock(phys)
			if err != 0 {
				return total, err
			}
			copy(buf[total:total+n2], data[blkOff:blkOff+n2])
		}
		total += n2
	}
	return total, 0
}

func (n *Node) WritePage(off int64, buf []byte) (int, defs.Err_t) {
	total := 0
	for total < len(buf) {
		blk := uint64(off+int64(total)) / BlockSize
		blkOff := int(uint64(off+int64(total)) % BlockSize)
		n2 := BlockSize - blkOff
		if n2 > len(buf)-total {
			n2 = len(buf) - total
		}

		phys, err := GetBlock(n.fs, &n.raw, blk)
		if err != 0 {
			return total, err
		}
		if phys == 0 {
			preferredGroup, _, _ := n.fs.inodeLocation(n.ino)
			nb, err := n.fs.alloc.AllocBlock(preferredGroup)
			if err != 0 {
				return total, err
			}
			if err := PutBlock(n.fs, n.fs, &n.raw, blk, nb, func() (uint64, defs.Err_t) {
				return n.fs.alloc.AllocBlock(preferredGroup)
			}); err != 0 {
				return total, err
			}
			phys = nb
		}

		data, err := n.fs.ReadBlock(phys)
		if err != 0 {
			return total, err
		}
		copy(data[blkOff:blkOff+n2], buf[total:total+n2])
		if err := n.fs.WriteBlock(phys, data); err != 0 {
			return total, err
		}
		total += n2
	}
	newEnd := off + int64(total)
	if newEnd > int64(n.raw.SizeLo) {
		n.raw.SizeLo = uint32(newEnd)
	}
	n.fs.WriteRawInode(n.ino, &n.raw)
	return total, 0
}

func (n *Node) Truncate(size int64) defs.Err_t {
	n.raw.SizeLo = uint32(size)
	return n.fs.WriteRawInode(n.ino, &n.raw)
}

// Create allocates a new inode of typ and links it into n (a directory)
// under name.
func (n *Node) Create(name ustr.Ustr, typ vfs.NodeType, mode uint32) (vfs.Inode, defs.Err_t) {
	if n.raw.Mode&ModeFmt != ModeDir {
		return nil, -defs.ENOTDIR
	}
	preferredGroup, _, _ := n.fs.inodeLocation(n.ino)
	ino, err := n.fs.alloc.AllocInode(preferredGroup)
	if err != 0 {
		return nil, err
	}
	var m uint16
	var ft uint8
	switch typ {
	case vfs.TypeDirectory:
		m, ft = ModeDir, FtDir
	case vfs.TypeSymlink:
		m, ft = ModeLnk, FtSymlink
	default:
		m, ft = ModeReg, FtRegular
	}
	ri := RawInode{Mode: m | uint16(mode&0xFFF), LinksCount: 1}
	if err := n.fs.WriteRawInode(ino, &ri); err != 0 {
		return nil, err
	}
	if err := n.linkInto(name, ino, ft); err != 0 {
		return nil, err
	}
	return &Node{fs: n.fs, ino: ino, raw: ri}, 0
}

// linkInto appends a directory entry for (ino, name) to n, growing n by one
// block if every existing block lacks room.
func (n *Node) linkInto(name ustr.Ustr, ino uint32, ft uint8) defs.Err_t {
	need := minDirentLen(len(name))
	nb := n.nblocks()
	for blk := uint64(0); blk < nb; blk++ {
		phys, err := GetBlock(n.fs, &n.raw, blk)
		if err != 0 {
			return err
		}
		if phys == 0 {
			continue
		}
		data, err := n.fs.ReadBlock(phys)
		if err != 0 {
			return err
		}
		off := 0
		for off < len(data) {
			d, next := decodeDirentAt(data, off)
			recLen := int(d.RecLen)
			if recLen == 0 {
				break
			}
			used := 0
			if d.Inode != 0 {
				used = int(minDirentLen(int(d.NameLen)))
			}
			free := recLen - used
			if free >= int(need) {
				if used > 0 {
					encodeDirent(data, off, d.Inode, data[off+DirentHeaderSize:off+DirentHeaderSize+int(d.NameLen)], d.FileType, uint16(used))
					encodeDirent(data, off+used, ino, name, ft, uint16(recLen-used))
				} else {
					encodeDirent(data, off, ino, name, ft, uint16(recLen))
				}
				return n.fs.WriteBlock(phys, data)
			}
			off = next
		}
	}

	preferredGroup, _, _ := n.fs.inodeLocation(n.ino)
	nblk, err := n.fs.alloc.AllocBlock(preferredGroup)
	if err != 0 {
		return err
	}
	if err := PutBlock(n.fs, n.fs, &n.raw, nb, nblk, func() (uint64, defs.Err_t) {
		return n.fs.alloc.AllocBlock(preferredGroup)
	}); err != 0 {
		return err
	}
	data := make([]byte, BlockSize)
	encodeDirent(data, 0, ino, name, ft, BlockSize)
	if err := n.fs.WriteBlock(nblk, data); err != 0 {
		return err
	}
	n.raw.SizeLo += BlockSize
	return n.fs.WriteRawInode(n.ino, &n.raw)
}

// Unlink removes name's directory entry and, if its link count drops to
// zero, frees its inode and blocks.
func (n *Node) Unlink(name ustr.Ustr) defs.Err_t {
	if n.raw.Mode&ModeFmt != ModeDir {
		return -defs.ENOTDIR
	}
	nb := n.nblocks()
	for blk := uint64(0); blk < nb; blk++ {
		phys, err := GetBlock(n.fs, &n.raw, blk)
		if err != 0 {
			return err
		}
		if phys == 0 {
			continue
		}
		data, err := n.fs.ReadBlock(phys)
		if err != 0 {
			return err
		}
		off := 0
		for off < len(data) {
			d, next := decodeDirentAt(data, off)
			if d.Inode != 0 && ustr.Ustr(d.Name).Eq(name) {
				target, err := n.fs.ReadRawInode(d.Inode)
				if err != 0 {
					return err
				}
				zeroDirentInode(data, off)
				if err := n.fs.WriteBlock(phys, data); err != 0 {
					return err
				}
				if target.LinksCount > 0 {
					target.LinksCount--
				}
				if target.LinksCount == 0 {
					n.fs.freeNodeBlocks(&target)
					n.fs.alloc.FreeInode(d.Inode)
				} else {
					n.fs.WriteRawInode(d.Inode, &target)
				}
				return 0
			}
			if next <= off {
				break
			}
			off = next
		}
	}
	return -defs.ENOENT
}

func zeroDirentInode(buf []byte, off int) {
	buf[off] = 0
	buf[off+1] = 0
	buf[off+2] = 0
	buf[off+3] = 0
}

// freeNodeBlocks releases every data block ri maps plus the three top-level
// indirect blocks (i_block[12..14]). The second- and third-level indirect
// blocks hanging off the double- and triple-indirect trees are not freed.
func (fs *FS) freeNodeBlocks(ri *RawInode) {
	nblocks := (uint64(ri.SizeLo) + BlockSize - 1) / BlockSize
	for blk := uint64(0); blk < nblocks; blk++ {
		phys, err := GetBlock(fs, ri, blk)
		if err == 0 && phys != 0 {
			fs.alloc.FreeBlock(phys)
		}
	}
	for _, ind := range []uint32{ri.Block[IndSingle], ri.Block[IndDouble], ri.Block[IndTriple]} {
		if ind != 0 {
			fs.alloc.FreeBlock(uint64(ind))
		}
	}
}
