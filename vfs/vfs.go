// Package vfs implements the filesystem-independent layer: the inode
// interface every backend implements, the superblock registry, and the
// path walker. Grounded in structure on the teacher kernel's
// ustr-based path handling (kernel/ustr/ustr.go, itself adapted from
// biscuit/src/ustr) and on original_source/kernel/src/fs/path.rs's
// component-at-a-time walk and normalization rules, carried into Go's
// interface-based inode abstraction the way the teacher's fdops.Fdops_i
// abstracts file operations.
package vfs

import (
	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
)

// NodeType enumerates the kinds of inode a backend can vend.
type NodeType int

const (
	TypeRegular NodeType = iota
	TypeDirectory
	TypeSymlink
	TypeDevice
	TypeFIFO
)

// Attr is the subset of inode metadata the VFS layer itself needs; backends
// keep richer per-type state behind the Inode interface.
type Attr struct {
	Type  NodeType
	Mode  uint32
	Size  int64
	Ino   uint64
	Dev   uint64
	Nlink uint32
}

// Inode is implemented by every filesystem backend (ext4, ramfs, procfs).
// Directory-only and symlink-only methods are allowed to return -ENOTDIR /
// -EINVAL for nodes of the wrong type rather than needing separate
// interfaces, mirroring the teacher's single Fdops_i surface.
type Inode interface {
	Attr() Attr
	Lookup(name ustr.Ustr) (Inode, defs.Err_t)
	Readlink() (ustr.Ustr, defs.Err_t)
	ReadPage(off int64, buf []byte) (int, defs.Err_t)
	WritePage(off int64, buf []byte) (int, defs.Err_t)
	Readdir(cookie int64) (entries []Dirent, next int64, err defs.Err_t)
	Create(name ustr.Ustr, typ NodeType, mode uint32) (Inode, defs.Err_t)
	Unlink(name ustr.Ustr) defs.Err_t
	Truncate(size int64) defs.Err_t
}

// Dirent is one directory entry returned by Readdir / consumed by
// getdents64.
type Dirent struct {
	Ino  uint64
	Name ustr.Ustr
	Type NodeType
}

// Superblock binds a mounted filesystem's root inode to a mount point.
type Superblock struct {
	Root   Inode
	Device uint64
	FsName string
}

// Registry tracks every mounted Superblock, keyed by mount-point path. The
// root filesystem is always registered at "/".
type Registry struct {
	mounts map[string]*Superblock
}

func NewRegistry() *Registry {
	return &Registry{mounts: make(map[string]*Superblock)}
}

// Mount registers sb at path, which must already exist as a directory in a
// previously mounted filesystem (or be "/" for the first mount).
func (r *Registry) Mount(path string, sb *Superblock) {
	r.mounts[path] = sb
}

// Unmount removes the mount at path.
func (r *Registry) Unmount(path string) {
	delete(r.mounts, path)
}

// RootSB returns the filesystem mounted at "/", or nil before boot mounts
// it.
func (r *Registry) RootSB() *Superblock { return r.mounts["/"] }

// MaxSymlinkDepth bounds recursive symlink resolution; exceeding it returns
// ELOOP.
const MaxSymlinkDepth = 8

// Walker resolves ustr.Ustr paths against a Registry, component at a time,
// honoring "." / ".." / "//" normalization and following symlinks up to
// MaxSymlinkDepth; the component loop is grounded on original_source's
// PathComponents iterator, but symlink-depth bookkeeping is this module's
// own addition since the original left follow_link unimplemented.
type Walker struct {
	reg *Registry
}

func NewWalker(reg *Registry) *Walker { return &Walker{reg: reg} }

// Resolve walks path starting at root (the process cwd inode for relative
// paths, or the registry root for absolute ones), returning the final
// inode.
func (w *Walker) Resolve(root Inode, path ustr.Ustr) (Inode, defs.Err_t) {
	if path.IsAbsolute() {
		sb := w.reg.RootSB()
		if sb == nil {
			return nil, -defs.ENOENT
		}
		root = sb.Root
	}
	return w.resolve(root, path, 0)
}

func (w *Walker) resolve(cur Inode, path ustr.Ustr, depth int) (Inode, defs.Err_t) {
	rest := path
	for len(rest) > 0 {
		comp, tail := rest.Split()
		rest = tail
		if len(comp) == 0 {
			continue // collapse "//" or a trailing slash
		}
		if comp.Isdot() {
			continue
		}
		if comp.Isdotdot() {
			// ".." resolution is backend-specific (each Inode must expose its
			// own parent via Lookup("..")); ramfs/ext4/procfs all register a
			// ".." dirent for this purpose.
			next, err := cur.Lookup(comp)
			if err != 0 {
				return nil, err
			}
			cur = next
			continue
		}

		next, err := cur.Lookup(comp)
		if err != 0 {
			return nil, err
		}
		if next.Attr().Type == TypeSymlink {
			if depth+1 > MaxSymlinkDepth {
				return nil, -defs.ELOOP
			}
			target, err := next.Readlink()
			if err != 0 {
				return nil, err
			}
			resolved, err := w.resolve(cur, target, depth+1)
			if err != 0 {
				return nil, err
			}
			cur = resolved
			continue
		}
		cur = next
	}
	return cur, 0
}
