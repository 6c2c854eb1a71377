// Open-file glue: wraps a resolved Inode in an fd.File so syscall handlers
// in trap/ can install it into a task's descriptor table.
// Grounded on the teacher kernel's fs.go Fs_open path, which built an
// Fd_t around a looked-up Inum_t the same way OpenFlags below mirrors
// Biscuit's O_* constant block (biscuit/src/fs/fs.go).
package vfs

import (
	"sync"
	"sync/atomic"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
)

// Open flag bits (subset of the POSIX open(2) surface names).
const (
	OpenRdonly = 0x0
	OpenWronly = 0x1
	OpenRdwr   = 0x2
	OpenAccmode = 0x3
	OpenCreat  = 0x40
	OpenExcl   = 0x80
	OpenTrunc  = 0x200
	OpenAppend = 0x400
	OpenDirectory = 0x10000
)

// OpenFile is the fd.File implementation backing every regular, directory,
// or symlink-following open (pipes and device nodes get their own File
// implementations elsewhere). It tracks a shared byte offset and a
// reference count so Dup/Dup2/Clone's Reopen contract holds without
// duplicating the underlying Inode.
type OpenFile struct {
	mu         sync.Mutex
	inode      Inode
	off        int64
	refs       int32
	appendMode bool
	dirCookie  int64 // getdents64 continuation position, directories only
}

// NewOpenFile wraps inode in a fresh OpenFile with refcount 1.
func NewOpenFile(inode Inode, flags int) *OpenFile {
	return &OpenFile{inode: inode, refs: 1, appendMode: flags&OpenAppend != 0}
}

func (f *OpenFile) Read(buf []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.inode.ReadPage(f.off, buf)
	if err != 0 {
		return 0, err
	}
	f.off += int64(n)
	return n, 0
}

func (f *OpenFile) Write(buf []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendMode {
		f.off = f.inode.Attr().Size
	}
	n, err := f.inode.WritePage(f.off, buf)
	if err != 0 {
		return 0, err
	}
	f.off += int64(n)
	return n, 0
}

// Seek whence values follow lseek(2): 0=SEEK_SET, 1=SEEK_CUR, 2=SEEK_END.
func (f *OpenFile) Seek(off int64, whence int) (int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.off
	case 2:
		base = f.inode.Attr().Size
	default:
		return 0, -defs.EINVAL
	}
	n := base + off
	if n < 0 {
		return 0, -defs.EINVAL
	}
	f.off = n
	return n, 0
}

func (f *OpenFile) Close() defs.Err_t {
	if atomic.AddInt32(&f.refs, -1) > 0 {
		return 0
	}
	return 0
}

func (f *OpenFile) Reopen() defs.Err_t {
	atomic.AddInt32(&f.refs, 1)
	return 0
}

// Readdir proxies to the backing inode, used by getdents64. The caller's
// cookie argument is advisory (getdents64(2) itself only hands a buffer
// size, not a position); this OpenFile remembers where the last call left
// off so repeated calls on the same fd walk the directory forward instead
// of re-reading from the start, the same shared-position contract Read and
// Write already give dup'd fds.
func (f *OpenFile) Readdir(cookie int64) ([]Dirent, int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, next, err := f.inode.Readdir(f.dirCookie)
	if err != 0 {
		return nil, 0, err
	}
	f.dirCookie = next
	return entries, next, 0
}

// Inode exposes the backing inode for fstat.
func (f *OpenFile) Inode() Inode { return f.inode }

// Open resolves path against root (the caller's cwd inode, or the
// registry root for absolute paths) and returns a ready-to-install
// OpenFile. OpenCreat creates a regular file in the parent directory when
// the leaf component is missing; OpenExcl with OpenCreat on an existing
// leaf fails with EEXIST.
func (w *Walker) Open(root Inode, path ustr.Ustr, flags int, mode uint32) (*OpenFile, defs.Err_t) {
	inode, err := w.Resolve(root, path)
	if err == 0 {
		if flags&OpenCreat != 0 && flags&OpenExcl != 0 {
			return nil, -defs.EEXIST
		}
		if flags&OpenTrunc != 0 && flags&OpenAccmode != OpenRdonly {
			if terr := inode.Truncate(0); terr != 0 {
				return nil, terr
			}
		}
		if flags&OpenDirectory != 0 && inode.Attr().Type != TypeDirectory {
			return nil, -defs.ENOTDIR
		}
		return NewOpenFile(inode, flags), 0
	}
	if err != -defs.ENOENT || flags&OpenCreat == 0 {
		return nil, err
	}

	dirPath, leaf := ustr.SplitParent(path)
	parent, perr := w.Resolve(root, dirPath)
	if perr != 0 {
		return nil, perr
	}
	child, cerr := parent.Create(leaf, TypeRegular, mode)
	if cerr != 0 {
		return nil, cerr
	}
	return NewOpenFile(child, flags), 0
}
