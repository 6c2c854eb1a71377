//go:build !linux

package smp

import "runtime"

// HostHartCount falls back to runtime.NumCPU on platforms where the
// golang.org/x/sys/unix sched_getaffinity query in hostcpu_linux.go isn't
// available.
func HostHartCount() int {
	return runtime.NumCPU()
}
