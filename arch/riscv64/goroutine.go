package riscv64

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineToken derives a stable key for the calling goroutine, standing in
// for the hart id a real boot-time assembly stub would pin into a CSR
// (tp/scratch) once per hart. Used only by the simulated HAL backend to let
// BindCPU/CPUID work without real per-hart state.
func goroutineToken() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return id
}
