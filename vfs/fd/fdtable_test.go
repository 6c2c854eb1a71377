package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
)

// fakeFile counts Reopen/Close calls so dup/clone reference-counting
// contracts are observable from the test.
type fakeFile struct {
	reopens int
	closed  bool
}

func (f *fakeFile) Read(buf []byte) (int, defs.Err_t)        { return 0, 0 }
func (f *fakeFile) Write(buf []byte) (int, defs.Err_t)       { return len(buf), 0 }
func (f *fakeFile) Seek(int64, int) (int64, defs.Err_t)      { return 0, 0 }
func (f *fakeFile) Close() defs.Err_t                        { f.closed = true; return 0 }
func (f *fakeFile) Reopen() defs.Err_t                       { f.reopens++; return 0 }

func TestInstallUsesLowestFreeSlot(t *testing.T) {
	tbl := New()
	fd0, err := tbl.Install(&fakeFile{}, FdRead)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, fd0)

	require.Equal(t, defs.Err_t(0), tbl.Close(fd0))

	fd1, err := tbl.Install(&fakeFile{}, FdRead)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, fd1, "closed fd must be reused before growing the table")
}

// TestInstallFailsAtCapacity is the EMFILE boundary: the
// (MaxFds+1)'th open must fail once every slot is occupied.
func TestInstallFailsAtCapacity(t *testing.T) {
	tbl := New()
	for i := 0; i < MaxFds; i++ {
		_, err := tbl.Install(&fakeFile{}, FdRead)
		require.Equal(t, defs.Err_t(0), err)
	}
	_, err := tbl.Install(&fakeFile{}, FdRead)
	assert.Equal(t, -defs.EMFILE, err)
}

// TestDupSharesUnderlyingFile is the dup contract: the
// duplicate fd refers to the same open file description, not a copy.
func TestDupSharesUnderlyingFile(t *testing.T) {
	tbl := New()
	f := &fakeFile{}
	fd0, err := tbl.Install(f, FdRead|FdCloexec)
	require.Equal(t, defs.Err_t(0), err)

	fd1, err := tbl.Dup(fd0)
	require.Equal(t, defs.Err_t(0), err)
	assert.Same(t, tbl.Get(fd0).File, tbl.Get(fd1).File)
	assert.Equal(t, 1, f.reopens)
	assert.Zero(t, tbl.Get(fd1).Flags&FdCloexec, "dup must clear FD_CLOEXEC on the new descriptor")
}

func TestDup2ClosesExistingTarget(t *testing.T) {
	tbl := New()
	src := &fakeFile{}
	dst := &fakeFile{}
	fdSrc, _ := tbl.Install(src, FdRead)
	fdDst, _ := tbl.Install(dst, FdWrite)

	newfd, err := tbl.Dup2(fdSrc, fdDst)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, fdDst, newfd)
	assert.True(t, dst.closed, "dup2 must close the previous occupant of newfd")
	assert.Same(t, src, tbl.Get(fdDst).File)
}

func TestDup2SameFdIsNoop(t *testing.T) {
	tbl := New()
	f := &fakeFile{}
	fdNum, _ := tbl.Install(f, FdRead)
	newfd, err := tbl.Dup2(fdNum, fdNum)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, fdNum, newfd)
	assert.Zero(t, f.reopens)
}

func TestCloseOnExecClosesOnlyFlaggedFds(t *testing.T) {
	tbl := New()
	keep := &fakeFile{}
	drop := &fakeFile{}
	fdKeep, _ := tbl.Install(keep, FdRead)
	fdDrop, _ := tbl.Install(drop, FdRead|FdCloexec)

	tbl.CloseOnExec()

	assert.NotNil(t, tbl.Get(fdKeep))
	assert.Nil(t, tbl.Get(fdDrop))
	assert.True(t, drop.closed)
	assert.False(t, keep.closed)
}

func TestCloneReopensEveryOpenFile(t *testing.T) {
	tbl := New()
	f := &fakeFile{}
	fdNum, _ := tbl.Install(f, FdRead)

	clone, err := tbl.Clone()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 1, f.reopens)
	assert.Same(t, f, clone.Get(fdNum).File)
	assert.Equal(t, tbl.NrOpen(), clone.NrOpen())
}
