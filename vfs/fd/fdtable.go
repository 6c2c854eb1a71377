// Package fd implements the per-task (or process-shared, under
// CLONE_FILES) file descriptor table: lowest-free-fd allocation, dup/dup2
// with shared file position, and close-on-exec. Grounded on
// the teacher kernel's fd/fd.go (Fd_t wrapping an Fdops_i interface,
// Copyfd's reopen-on-duplicate contract) generalized from Biscuit's
// single-slice-of-Fd_t scheme into a fixed-capacity table with an explicit
// EMFILE ceiling.
package fd

import (
	"sync"

	"riscvkern/kernel/defs"
)

// MaxFds is the per-table descriptor capacity; the MaxFds+1'th open call
// must fail with EMFILE.
const MaxFds = 1024

// Permission bits recorded alongside each open file (teacher's FD_READ /
// FD_WRITE / FD_CLOEXEC).
const (
	FdRead    = 0x1
	FdWrite   = 0x2
	FdCloexec = 0x4
)

// File is the operations every open file description must support; it
// plays the role of the teacher's fdops.Fdops_i. Concrete vfs/bio/pipe
// implementations satisfy this without fdtable needing to import them,
// avoiding an import cycle the same way proc/task's Signal/Fdtable
// placeholders do.
type File interface {
	Read(buf []byte) (int, defs.Err_t)
	Write(buf []byte) (int, defs.Err_t)
	Seek(off int64, whence int) (int64, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t // increments the underlying refcount for dup
}

// Entry is one occupied slot: the open file plus its descriptor flags.
type Entry struct {
	File  File
	Flags int
}

// Table is a fixed-capacity, lowest-free-slot file descriptor table.
type Table struct {
	mu      sync.Mutex
	entries [MaxFds]*Entry
	nr      int
}

// New returns an empty table.
func New() *Table { return &Table{} }

// Install places f in the lowest-numbered empty slot, failing with EMFILE
// once the table is full.
func (t *Table) Install(f File, flags int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == nil {
			t.entries[i] = &Entry{File: f, Flags: flags}
			t.nr++
			return i, 0
		}
	}
	return -1, -defs.EMFILE
}

// Get returns the entry at fd, or nil if fd is not open.
func (t *Table) Get(fdNum int) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fdNum < 0 || fdNum >= MaxFds {
		return nil
	}
	return t.entries[fdNum]
}

// Close closes and clears fd.
func (t *Table) Close(fdNum int) defs.Err_t {
	t.mu.Lock()
	e := t.entryLocked(fdNum)
	if e == nil {
		t.mu.Unlock()
		return -defs.EBADF
	}
	t.entries[fdNum] = nil
	t.nr--
	t.mu.Unlock()
	return e.File.Close()
}

func (t *Table) entryLocked(fdNum int) *Entry {
	if fdNum < 0 || fdNum >= MaxFds {
		return nil
	}
	return t.entries[fdNum]
}

// Dup duplicates oldfd into the lowest free slot, sharing the underlying
// File (and thus file position) rather than copying it ("dup
// shares the open file description").
func (t *Table) Dup(oldfd int) (int, defs.Err_t) {
	t.mu.Lock()
	e := t.entryLocked(oldfd)
	if e == nil {
		t.mu.Unlock()
		return -1, -defs.EBADF
	}
	for i, slot := range t.entries {
		if slot == nil {
			if err := e.File.Reopen(); err != 0 {
				t.mu.Unlock()
				return -1, err
			}
			t.entries[i] = &Entry{File: e.File, Flags: e.Flags &^ FdCloexec}
			t.nr++
			t.mu.Unlock()
			return i, 0
		}
	}
	t.mu.Unlock()
	return -1, -defs.EMFILE
}

// Dup2 makes newfd refer to the same open file description as oldfd,
// closing newfd first if it was already open. dup2(fd, fd)
// is a no-op success, matching dup2(2).
func (t *Table) Dup2(oldfd, newfd int) (int, defs.Err_t) {
	if oldfd == newfd {
		if t.Get(oldfd) == nil {
			return -1, -defs.EBADF
		}
		return newfd, 0
	}
	t.mu.Lock()
	oe := t.entryLocked(oldfd)
	if oe == nil || newfd < 0 || newfd >= MaxFds {
		t.mu.Unlock()
		return -1, -defs.EBADF
	}
	old := t.entries[newfd]
	if err := oe.File.Reopen(); err != 0 {
		t.mu.Unlock()
		return -1, err
	}
	t.entries[newfd] = &Entry{File: oe.File, Flags: oe.Flags &^ FdCloexec}
	if old == nil {
		t.nr++
	}
	t.mu.Unlock()
	if old != nil {
		old.File.Close()
	}
	return newfd, 0
}

// SetCloexec toggles FdCloexec on fd.
func (t *Table) SetCloexec(fdNum int, on bool) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(fdNum)
	if e == nil {
		return -defs.EBADF
	}
	if on {
		e.Flags |= FdCloexec
	} else {
		e.Flags &^= FdCloexec
	}
	return 0
}

// CloseOnExec closes every descriptor flagged FdCloexec, called by execve.
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	var toClose []File
	for i, e := range t.entries {
		if e != nil && e.Flags&FdCloexec != 0 {
			toClose = append(toClose, e.File)
			t.entries[i] = nil
			t.nr--
		}
	}
	t.mu.Unlock()
	for _, f := range toClose {
		f.Close()
	}
}

// Clone deep-copies the table for a non-CLONE_FILES fork, reopening every
// underlying File so refcounts stay correct.
func (t *Table) Clone() (*Table, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := New()
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		if err := e.File.Reopen(); err != 0 {
			return nil, err
		}
		nt.entries[i] = &Entry{File: e.File, Flags: e.Flags}
		nt.nr++
	}
	return nt, 0
}

// NrOpen reports how many descriptors are presently in use.
func (t *Table) NrOpen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nr
}
