package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/bio"
	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

const testDev = 0

// memBlockDevice is a growable in-memory bio.BlockDevice standing in for a
// disk image during tests.
type memBlockDevice struct {
	blocks map[uint64][bio.BlockSize]byte
}

func newMemBlockDevice() *memBlockDevice {
	return &memBlockDevice{blocks: map[uint64][bio.BlockSize]byte{}}
}

func (d *memBlockDevice) ReadBlock(blockno uint64, buf []byte) defs.Err_t {
	b := d.blocks[blockno]
	copy(buf, b[:])
	return 0
}

func (d *memBlockDevice) WriteBlock(blockno uint64, buf []byte) defs.Err_t {
	var b [bio.BlockSize]byte
	copy(b[:], buf)
	d.blocks[blockno] = b
	return 0
}

func newTestFS(t *testing.T, totalBlocks uint32) *FS {
	t.Helper()
	cache := bio.New(256)
	cache.RegisterDevice(testDev, newMemBlockDevice())
	fs, err := Format(cache, testDev, totalBlocks, 0)
	require.Equal(t, defs.Err_t(0), err)
	return fs
}

// TestFormatProducesValidRootDirectory is the boot-time
// invariant: a freshly formatted image mounts with a readable root
// directory containing only "." and "..".
func TestFormatProducesValidRootDirectory(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, vfs.TypeDirectory, root.Attr().Type)

	entries, _, err := root.Readdir(0)
	require.Equal(t, defs.Err_t(0), err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name.String()] = true
	}
	assert.True(t, names["."])
	assert.True(t, names[".."])
}

// TestCreateWriteReopenReadRoundTrip is the write/close/reopen/
// read scenario for the on-disk filesystem: bytes written through one Node
// handle are visible through a fresh Lookup+ReadPage of the same path.
func TestCreateWriteReopenReadRoundTrip(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.Equal(t, defs.Err_t(0), err)

	child, err := root.Create(ustr.Ustr("hello.txt"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)

	payload := []byte("ext4 on riscvkern")
	n, err := child.WritePage(0, payload)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, len(payload), n)

	reopened, err := root.Lookup(ustr.Ustr("hello.txt"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, int64(len(payload)), reopened.Attr().Size)

	buf := make([]byte, 64)
	n, err = reopened.ReadPage(0, buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, string(payload), string(buf[:n]))
}

func TestMkdirThenLookupFindsDirectory(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.Equal(t, defs.Err_t(0), err)

	_, err = root.Create(ustr.Ustr("subdir"), vfs.TypeDirectory, 0755)
	require.Equal(t, defs.Err_t(0), err)

	sub, err := root.Lookup(ustr.Ustr("subdir"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, vfs.TypeDirectory, sub.Attr().Type)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fs := newTestFS(t, 4096)
	root, err := fs.Root()
	require.Equal(t, defs.Err_t(0), err)

	_, err = root.Create(ustr.Ustr("gone"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), root.Unlink(ustr.Ustr("gone")))

	_, err = root.Lookup(ustr.Ustr("gone"))
	assert.Equal(t, -defs.ENOENT, err)
}

// TestWriteAcrossSingleIndirectBoundary is the single-indirect
// block-mapping boundary: a write spanning the 12-direct-block limit must
// land correctly on both sides of the indirect-block switch.
func TestWriteAcrossSingleIndirectBoundary(t *testing.T) {
	fs := newTestFS(t, 8192)
	root, err := fs.Root()
	require.Equal(t, defs.Err_t(0), err)
	child, err := root.Create(ustr.Ustr("big"), vfs.TypeRegular, 0644)
	require.Equal(t, defs.Err_t(0), err)

	off := int64(12 * BlockSize) - 8
	payload := []byte("boundarycrossing")
	n, err := child.WritePage(off, payload)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = child.ReadPage(off, buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, payload, buf[:n])
}
