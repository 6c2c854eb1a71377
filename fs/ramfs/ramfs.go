// Package ramfs is an in-memory filesystem backend used to host the root
// mount before a real block device is available, and to back tmpfs-style
// mounts. Grounded on the teacher kernel's
// mem.Bytepg_t-backed page storage and on vfs.Inode's interface contract, which ramfs implements
// directly over Go slices rather than the bio/ext4 on-disk encoding.
package ramfs

import (
	"sync"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindSymlink
)

// Node is one ramfs inode: either a directory (children map), a regular
// file (byte slice), or a symlink (target path).
type Node struct {
	mu       sync.Mutex
	kind     nodeKind
	ino      uint64
	mode     uint32
	data     []byte
	target   ustr.Ustr
	children map[string]*Node
	parent   *Node
}

var _ vfs.Inode = (*Node)(nil)

// FS is a ramfs instance; inode numbers are assigned sequentially starting
// at 1 (root).
type FS struct {
	mu     sync.Mutex
	nextIno uint64
	root   *Node
}

// New returns a ramfs with an empty root directory.
func New() *FS {
	fs := &FS{nextIno: 2}
	fs.root = &Node{kind: kindDir, ino: 1, mode: 0755, children: make(map[string]*Node)}
	fs.root.children["."] = fs.root
	fs.root.children[".."] = fs.root
	return fs
}

func (fs *FS) Root() *Node { return fs.root }

func (fs *FS) allocIno() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

func (n *Node) Attr() vfs.Attr {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := vfs.TypeRegular
	switch n.kind {
	case kindDir:
		t = vfs.TypeDirectory
	case kindSymlink:
		t = vfs.TypeSymlink
	}
	return vfs.Attr{Type: t, Mode: n.mode, Size: int64(len(n.data)), Ino: n.ino}
}

func (n *Node) Lookup(name ustr.Ustr) (vfs.Inode, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	c, ok := n.children[name.String()]
	if !ok {
		return nil, -defs.ENOENT
	}
	return c, 0
}

func (n *Node) Readlink() (ustr.Ustr, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindSymlink {
		return nil, -defs.EINVAL
	}
	return n.target, 0
}

func (n *Node) ReadPage(off int64, buf []byte) (int, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindFile {
		return 0, -defs.EISDIR
	}
	if off >= int64(len(n.data)) {
		return 0, 0
	}
	return copy(buf, n.data[off:]), 0
}

func (n *Node) WritePage(off int64, buf []byte) (int, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindFile {
		return 0, -defs.EISDIR
	}
	end := off + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:end], buf)
	return len(buf), 0
}

func (n *Node) Readdir(cookie int64) ([]vfs.Dirent, int64, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return nil, 0, -defs.ENOTDIR
	}
	// Deterministic order isn't required by getdents64; a single pass
	// returning everything at cookie 0 keeps this backend simple since the
	// whole directory always fits in memory.
	if cookie != 0 {
		return nil, cookie, 0
	}
	var out []vfs.Dirent
	for name, c := range n.children {
		typ := vfs.TypeRegular
		switch c.kind {
		case kindDir:
			typ = vfs.TypeDirectory
		case kindSymlink:
			typ = vfs.TypeSymlink
		}
		out = append(out, vfs.Dirent{Ino: c.ino, Name: ustr.Ustr(name), Type: typ})
	}
	return out, 1, 0
}

// Create is the vfs.Inode-contract entry point and always returns ENOSYS:
// a Node holds no reference to its owning FS, where the inode-number
// allocator lives, so children are created with FS.CreateIn instead.
func (n *Node) Create(name ustr.Ustr, typ vfs.NodeType, mode uint32) (vfs.Inode, defs.Err_t) {
	return nil, -defs.ENOSYS
}

// CreateIn adds a new child of typ under dir, named name.
func (fs *FS) CreateIn(dir *Node, name ustr.Ustr, typ vfs.NodeType, mode uint32) (*Node, defs.Err_t) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.kind != kindDir {
		return nil, -defs.ENOTDIR
	}
	key := name.String()
	if _, exists := dir.children[key]; exists {
		return nil, -defs.EEXIST
	}
	kind := kindFile
	if typ == vfs.TypeDirectory {
		kind = kindDir
	} else if typ == vfs.TypeSymlink {
		kind = kindSymlink
	}
	child := &Node{kind: kind, ino: fs.allocIno(), mode: mode, parent: dir}
	if kind == kindDir {
		child.children = map[string]*Node{".": child, "..": dir}
	}
	dir.children[key] = child
	return child, 0
}

// CreateSymlink installs a symlink child pointing at target.
func (fs *FS) CreateSymlink(dir *Node, name ustr.Ustr, target ustr.Ustr) (*Node, defs.Err_t) {
	child, err := fs.CreateIn(dir, name, vfs.TypeSymlink, 0777)
	if err != 0 {
		return nil, err
	}
	child.target = target
	return child, 0
}

func (n *Node) Unlink(name ustr.Ustr) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindDir {
		return -defs.ENOTDIR
	}
	key := name.String()
	if _, ok := n.children[key]; !ok {
		return -defs.ENOENT
	}
	delete(n.children, key)
	return 0
}

func (n *Node) Truncate(size int64) defs.Err_t {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != kindFile {
		return -defs.EISDIR
	}
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	} else if size > int64(len(n.data)) {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	return 0
}
