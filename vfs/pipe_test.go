package vfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riscvkern/kernel/defs"
)

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	r, w := NewPipe()
	n, err := w.Write([]byte("hello"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = r.Read(buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "hello", string(buf[:n]))
}

// TestPipeReadBlocksThenUnblocksOnWrite is the blocking pipe
// semantics: a reader on an empty pipe blocks until a writer supplies data.
func TestPipeReadBlocksThenUnblocksOnWrite(t *testing.T) {
	r, w := NewPipe()
	done := make(chan struct{})
	var got int
	go func() {
		buf := make([]byte, 4)
		n, err := r.Read(buf)
		assert.Equal(t, defs.Err_t(0), err)
		got = n
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read returned before any data was written")
	case <-time.After(30 * time.Millisecond):
	}

	_, err := w.Write([]byte("hi"))
	require.Equal(t, defs.Err_t(0), err)

	select {
	case <-done:
		assert.Equal(t, 2, got)
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after write")
	}
}

// TestPipeReadReturnsEOFAfterWriterCloses is the EOF convention:
// once the write end closes with no data pending, Read returns (0, 0).
func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	r, w := NewPipe()
	require.Equal(t, defs.Err_t(0), w.Close())

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	assert.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 0, n)
}

// TestPipeWriteAfterReaderCloseReturnsEPIPE is the broken-pipe
// convention.
func TestPipeWriteAfterReaderCloseReturnsEPIPE(t *testing.T) {
	r, w := NewPipe()
	require.Equal(t, defs.Err_t(0), r.Close())

	_, err := w.Write([]byte("x"))
	assert.Equal(t, -defs.EPIPE, err)
}

func TestPipeSeekIsUnsupported(t *testing.T) {
	r, _ := NewPipe()
	_, err := r.Seek(0, 0)
	assert.Equal(t, -defs.ESPIPE, err)
}
