//go:build linux

package smp

import "golang.org/x/sys/unix"

// HostHartCount reports the number of logical CPUs the calling process is
// scheduled across, for callers that want BringUp's ncpus to track the host
// rather than a fixed simulated topology ( leaves hart count a
// boot-time parameter; this is the harness's source for it on Linux).
// Grounded on the pack's hanwen-go-fuse, which reaches for
// golang.org/x/sys/unix throughout internal/openat and fs/files.go for raw
// syscalls the standard library doesn't expose; sched_getaffinity is the
// same direct-syscall style applied to topology discovery instead of file
// I/O.
func HostHartCount() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 1
	}
	return set.Count()
}
