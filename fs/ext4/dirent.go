package ext4

import "riscvkern/kernel/util"

// DirentHeaderSize is the fixed portion of an on-disk ext4_dir_entry_2
// record preceding the variable-length name.
const DirentHeaderSize = 8

// rawDirent decodes one directory entry starting at buf[off], returning the
// decoded fields and the offset of the next entry.
type rawDirent struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint8
	FileType uint8
	Name    []byte
}

func decodeDirentAt(buf []byte, off int) (rawDirent, int) {
	if off+DirentHeaderSize > len(buf) {
		return rawDirent{}, len(buf)
	}
	var d rawDirent
	d.Inode = util.Le32(buf, off)
	d.RecLen = util.Le16(buf, off+4)
	d.NameLen = buf[off+6]
	d.FileType = buf[off+7]
	if d.RecLen == 0 {
		return rawDirent{}, len(buf)
	}
	nameEnd := off + DirentHeaderSize + int(d.NameLen)
	if nameEnd <= len(buf) {
		d.Name = buf[off+DirentHeaderSize : nameEnd]
	}
	return d, off + int(d.RecLen)
}

// encodeDirent writes one entry at buf[off:off+recLen], padding the name
// region with zero bytes out to recLen.
func encodeDirent(buf []byte, off int, ino uint32, name []byte, fileType uint8, recLen uint16) {
	util.PutLe32(buf, off, ino)
	util.PutLe16(buf, off+4, recLen)
	buf[off+6] = uint8(len(name))
	buf[off+7] = fileType
	copy(buf[off+DirentHeaderSize:], name)
}

// dirEntTypes mirrors ext4_dir_entry_2's file_type byte.
const (
	FtUnknown = 0
	FtRegular = 1
	FtDir     = 2
	FtSymlink = 7
)

// minDirentLen rounds a name's encoded record length up to a 4-byte
// boundary, the on-disk alignment ext4 directory blocks require.
func minDirentLen(nameLen int) uint16 {
	n := DirentHeaderSize + nameLen
	return uint16(util.Roundup(n, 4))
}
