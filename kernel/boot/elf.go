// Static ELF64 executable loading (the "load init's binary").
// Grounded on original_source/kernel/src/fs/elf.rs's Elf64Ehdr/Elf64Phdr
// layout and ElfLoader's PT_LOAD walk, restricted (as the original itself
// notes as a "future" item) to static ET_EXEC binaries: no PT_INTERP / ELF
// interpreter support.
package boot

import (
	"encoding/binary"

	"riscvkern/kernel/defs"
	"riscvkern/mm/vma"
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

const (
	etExec = 2
	ptLoad = 1

	pfExec  = 0x1
	pfWrite = 0x2
	pfRead  = 0x4
)

// Segment is one PT_LOAD program header, decoded into the fields the
// address-space builder needs.
type Segment struct {
	VAddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
	Flags  uint32
}

// Prot translates the segment's ELF PF_* flags into vma.Prot bits.
func (s Segment) Prot() vma.Prot {
	var p vma.Prot
	if s.Flags&pfRead != 0 {
		p |= vma.ProtRead
	}
	if s.Flags&pfWrite != 0 {
		p |= vma.ProtWrite
	}
	if s.Flags&pfExec != 0 {
		p |= vma.ProtExec
	}
	return p
}

// Image is a parsed static ELF64 executable: its entry point and PT_LOAD
// segment table.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// ParseELF validates data as a little-endian, 64-bit, ET_EXEC ELF image and
// returns its entry point and loadable segments ( non-goal:
// dynamic linking is out of scope, matching original_source's own
// "interpreter support: future" note).
func ParseELF(data []byte) (*Image, defs.Err_t) {
	if len(data) < 64 {
		return nil, -defs.ENOEXEC
	}
	if data[0] != elfMagic[0] || data[1] != elfMagic[1] || data[2] != elfMagic[2] || data[3] != elfMagic[3] {
		return nil, -defs.ENOEXEC
	}
	if data[4] != 2 { // EI_CLASS == ELFCLASS64
		return nil, -defs.ENOEXEC
	}
	if data[5] != 1 { // EI_DATA == ELFDATA2LSB
		return nil, -defs.ENOEXEC
	}

	le := binary.LittleEndian
	eType := le.Uint16(data[16:18])
	if eType != etExec {
		return nil, -defs.ENOEXEC
	}
	entry := le.Uint64(data[24:32])
	phoff := le.Uint64(data[32:40])
	phentsize := le.Uint16(data[54:56])
	phnum := le.Uint16(data[56:58])

	img := &Image{Entry: entry}
	for i := uint16(0); i < phnum; i++ {
		off := phoff + uint64(i)*uint64(phentsize)
		if off+56 > uint64(len(data)) {
			return nil, -defs.ENOEXEC
		}
		ph := data[off : off+56]
		pType := le.Uint32(ph[0:4])
		if pType != ptLoad {
			continue
		}
		img.Segments = append(img.Segments, Segment{
			Flags:  le.Uint32(ph[4:8]),
			Offset: le.Uint64(ph[8:16]),
			VAddr:  le.Uint64(ph[16:24]),
			Filesz: le.Uint64(ph[32:40]),
			Memsz:  le.Uint64(ph[40:48]),
		})
	}
	if len(img.Segments) == 0 {
		return nil, -defs.ENOEXEC
	}
	return img, 0
}

// SegmentBacking adapts one Segment's file-backed range into a
// vma.Backing, zero-filling past Filesz up to Memsz (the BSS tail), the
// same semantics original_source's load_segment applies (copy Filesz
// bytes, zero the rest).
type SegmentBacking struct {
	Data   []byte // the segment's file bytes, data[Offset:Offset+Filesz]
	Filesz uint64
}

func (sb SegmentBacking) ReadPage(off int64, buf []byte) defs.Err_t {
	for i := range buf {
		buf[i] = 0
	}
	if off < 0 || uint64(off) >= sb.Filesz {
		return 0
	}
	copy(buf, sb.Data[off:])
	return 0
}
