package ramfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

// TestWriteCloseReopenReadRoundTrip is the write/reopen/read
// scenario: bytes written to a file are visible through a fresh Lookup of
// the same path, not just through the Node handle that wrote them.
func TestWriteCloseReopenReadRoundTrip(t *testing.T) {
	fs := New()
	f, err := fs.CreateIn(fs.Root(), ustr.Ustr("greeting"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)

	n, err := f.WritePage(0, []byte("hello ramfs"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 11, n)

	reopened, err := fs.Root().Lookup(ustr.Ustr("greeting"))
	require.Equal(t, defs.Err_t(0), err)

	buf := make([]byte, 32)
	n, err = reopened.(*Node).ReadPage(0, buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "hello ramfs", string(buf[:n]))
}

func TestCreateDuplicateNameReturnsEEXIST(t *testing.T) {
	fs := New()
	_, err := fs.CreateIn(fs.Root(), ustr.Ustr("dup"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)
	_, err = fs.CreateIn(fs.Root(), ustr.Ustr("dup"), vfs.TypeRegular, 0644)
	assert.Equal(t, -defs.EEXIST, err)
}

func TestLookupMissingReturnsENOENT(t *testing.T) {
	fs := New()
	_, err := fs.Root().Lookup(ustr.Ustr("nope"))
	assert.Equal(t, -defs.ENOENT, err)
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	fs := New()
	f, err := fs.CreateIn(fs.Root(), ustr.Ustr("f"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)
	_, err = f.WritePage(0, []byte("abcdef"))
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), f.Truncate(3))
	assert.Equal(t, int64(3), f.Attr().Size)

	require.Equal(t, defs.Err_t(0), f.Truncate(6))
	assert.Equal(t, int64(6), f.Attr().Size)
	buf := make([]byte, 6)
	n, err := f.ReadPage(0, buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "abc\x00\x00\x00", string(buf[:n]))
}

func TestSymlinkReadlinkRoundTrip(t *testing.T) {
	fs := New()
	link, err := fs.CreateSymlink(fs.Root(), ustr.Ustr("l"), ustr.Ustr("/target"))
	require.Equal(t, defs.Err_t(0), err)

	target, err := link.Readlink()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "/target", target.String())
}

func TestUnlinkRemovesChild(t *testing.T) {
	fs := New()
	_, err := fs.CreateIn(fs.Root(), ustr.Ustr("gone"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), fs.Root().Unlink(ustr.Ustr("gone")))
	_, err = fs.Root().Lookup(ustr.Ustr("gone"))
	assert.Equal(t, -defs.ENOENT, err)
}
