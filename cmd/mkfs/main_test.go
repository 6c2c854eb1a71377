package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/fs/ramfs"
	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/vfs"
)

func TestResolveDirWalksNestedPath(t *testing.T) {
	fs := ramfs.New()
	a, err := fs.CreateIn(fs.Root(), ustr.Ustr("a"), vfs.TypeDirectory, 0755)
	require.Equal(t, defs.Err_t(0), err)
	b, err := fs.CreateIn(a, ustr.Ustr("b"), vfs.TypeDirectory, 0755)
	require.Equal(t, defs.Err_t(0), err)

	got, rerr := resolveDir(fs.Root(), "a/b")
	require.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, b.Attr().Ino, got.Attr().Ino)
}

func TestResolveDirEmptyReturnsRoot(t *testing.T) {
	fs := ramfs.New()
	got, rerr := resolveDir(fs.Root(), "")
	require.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, fs.Root().Attr().Ino, got.Attr().Ino)
}

func TestResolveDirMissingComponentFails(t *testing.T) {
	fs := ramfs.New()
	_, rerr := resolveDir(fs.Root(), "nope")
	assert.Equal(t, -defs.ENOENT, rerr)
}
