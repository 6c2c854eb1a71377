// Pipe file descriptors: an in-memory ring buffer shared by a read end and
// a write end, both satisfying fd.File so they install into a task's
// fdtable the same way a regular OpenFile does (the pipe
// syscall). Grounded on original_source/kernel/src/fs/pipe.rs's
// PipeBuffer (a fixed-capacity ring with atomic read_pos/write_pos) and
// its pipe_read/pipe_write EOF/EAGAIN conventions; read_closed/write_closed
// there become the two *PipeEnd.Close calls here, and the original's
// WaitQueueHead block-then-retry loop becomes a condition variable since
// this port has real OS threads standing in for CPUs, the same
// substitution proc/sched.Scheduler makes for context switching.
package vfs

import (
	"sync"

	"riscvkern/kernel/defs"
)

// PipeBufSize is the ring's capacity, matching original_source's
// PIPE_BUF_SIZE.
const PipeBufSize = 16384

type pipeBuffer struct {
	mu         sync.Mutex
	cond       *sync.Cond
	data       [PipeBufSize]byte
	readPos    int
	writePos   int
	len        int // bytes currently buffered
	readClosed bool
	writeClosed bool
}

func newPipeBuffer() *pipeBuffer {
	pb := &pipeBuffer{}
	pb.cond = sync.NewCond(&pb.mu)
	return pb
}

// PipeEnd is either end of a pipe; NewPipe returns the two ends, sharing
// one *pipeBuffer, as the two fd.File values pipe(2) installs.
type PipeEnd struct {
	buf   *pipeBuffer
	write bool
}

// NewPipe returns (read end, write end) sharing one buffer, per
// original_source's create_pipe.
func NewPipe() (*PipeEnd, *PipeEnd) {
	buf := newPipeBuffer()
	return &PipeEnd{buf: buf, write: false}, &PipeEnd{buf: buf, write: true}
}

// Read blocks until data is available or the write end closes (EOF),
// mirroring pipe_file_read's blocking-mode loop.
func (p *PipeEnd) Read(dst []byte) (int, defs.Err_t) {
	if p.write {
		return 0, -defs.EBADF
	}
	b := p.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.len == 0 && !b.writeClosed {
		b.cond.Wait()
	}
	if b.len == 0 {
		return 0, 0 // EOF
	}
	n := 0
	for n < len(dst) && b.len > 0 {
		dst[n] = b.data[b.readPos]
		b.readPos = (b.readPos + 1) % PipeBufSize
		b.len--
		n++
	}
	b.cond.Broadcast()
	return n, 0
}

// Write blocks until room is available, returning EPIPE if the read end
// has already closed (original_source's -EBADF case is renamed to the
// POSIX-standard EPIPE/SIGPIPE convention here since that's the errno
// the own table names for this condition).
func (p *PipeEnd) Write(src []byte) (int, defs.Err_t) {
	if !p.write {
		return 0, -defs.EBADF
	}
	b := p.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readClosed {
		return 0, -defs.EPIPE
	}
	n := 0
	for n < len(src) {
		for b.len == PipeBufSize && !b.readClosed {
			b.cond.Wait()
		}
		if b.readClosed {
			return n, -defs.EPIPE
		}
		for n < len(src) && b.len < PipeBufSize {
			b.data[b.writePos] = src[n]
			b.writePos = (b.writePos + 1) % PipeBufSize
			b.len++
			n++
		}
		b.cond.Broadcast()
	}
	return n, 0
}

// Seek is unsupported on a pipe (the design: a null op / unsupported op
// returns -EINVAL; ESPIPE is the POSIX-precise errno for this case).
func (p *PipeEnd) Seek(off int64, whence int) (int64, defs.Err_t) {
	return 0, -defs.ESPIPE
}

// Close marks this end closed and wakes the peer, per
// Pipe::close_read/close_write.
func (p *PipeEnd) Close() defs.Err_t {
	b := p.buf
	b.mu.Lock()
	if p.write {
		b.writeClosed = true
	} else {
		b.readClosed = true
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	return 0
}

// Reopen exists to satisfy fd.File; pipe ends are not refcounted the way
// OpenFile is since dup'ing a pipe fd shares the same *PipeEnd pointer
// rather than a reopen-able resource.
func (p *PipeEnd) Reopen() defs.Err_t { return 0 }
