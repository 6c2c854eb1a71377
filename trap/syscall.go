// Syscall number assignments and handlers, mirroring the
// x86_64 Linux ABI numbering original_source/kernel/src/arch/aarch64/
// syscall.rs's syscall_handler dispatches against (that file's own
// SyscallNo enum, despite living under an aarch64 directory, follows the
// x86_64 table — this port keeps the same numbers so the grounding holds
// exactly rather than by architecture).
package trap

import (
	"time"

	"riscvkern/kernel/defs"
	"riscvkern/kernel/ustr"
	"riscvkern/proc/task"
	"riscvkern/signal"
	"riscvkern/vfs"
	"riscvkern/vfs/fd"
)

// Syscall numbers this dispatcher implements.
const (
	sysRead          = 0
	sysWrite         = 1
	sysOpen          = 2
	sysClose         = 3
	sysFstat         = 5
	sysMmap          = 9
	sysMprotect      = 10
	sysMunmap        = 11
	sysBrk           = 12
	sysRtSigaction   = 13
	sysRtSigprocmask = 14
	sysRtSigreturn   = 15
	sysIoctl         = 16
	sysPipe          = 22
	sysDup           = 32
	sysDup2          = 33
	sysGetpid        = 39
	sysFork          = 57
	sysExecve        = 59
	sysExit          = 60
	sysWait4         = 61
	sysKill          = 62
	sysFcntl         = 72
	sysGetcwd        = 79
	sysChdir         = 80
	sysGettimeofday  = 96
	sysGetppid       = 110
	sysClockGettime  = 228
	sysGetdents64    = 217
	sysOpenat        = 257
)

const maxPathLen = 4096

func defaultSyscallTable() map[uint64]SyscallHandler {
	return map[uint64]SyscallHandler{
		sysRead:          sysReadImpl,
		sysWrite:         sysWriteImpl,
		sysOpen:          sysOpenImpl,
		sysOpenat:        sysOpenatImpl,
		sysClose:         sysCloseImpl,
		sysDup:           sysDupImpl,
		sysDup2:          sysDup2Impl,
		sysMmap:          sysMmapImpl,
		sysMunmap:        sysMunmapImpl,
		sysMprotect:      sysMprotectImpl,
		sysRtSigaction:   sysRtSigactionImpl,
		sysRtSigprocmask: sysRtSigprocmaskImpl,
		sysRtSigreturn:   sysRtSigreturnImpl,
		sysKill:          sysKillImpl,
		sysGetpid:        sysGetpidImpl,
		sysGetppid:       sysGetppidImpl,
		sysExit:          sysExitImpl,
		sysWait4:         sysWait4Impl,
		sysGetdents64:    sysGetdents64Impl,
		sysPipe:          sysPipeImpl,
		// sysFork is intercepted in HandleTrap before this table is
		// consulted (it needs the calling CPU id; see fork.go); the entry
		// below is a defensive fallback for any caller that dispatches
		// through this table directly.
		sysFork:          sysNotImplemented,
		sysExecve:        sysExecveImpl,
		sysIoctl:         sysIoctlImpl,
		sysFcntl:         sysFcntlImpl,
		sysChdir:         sysChdirImpl,
		sysGetcwd:        sysGetcwdImpl,
		sysFstat:         sysFstatImpl,
		sysGettimeofday:  sysGettimeofdayImpl,
		sysClockGettime:  sysClockGettimeImpl,
	}
}

func sysNotImplemented(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	return 0, -defs.ENOSYS
}

func fdTable(t *task.Task) *fd.Table {
	if t.Fdtable == nil {
		return nil
	}
	return t.Fdtable
}

func sysReadImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	e := tbl.Get(int(args[0]))
	if e == nil {
		return 0, -defs.EBADF
	}
	n := args[2]
	if n > 1<<20 {
		n = 1 << 20
	}
	buf := make([]byte, n)
	got, err := e.File.Read(buf)
	if err != 0 {
		return 0, err
	}
	if d.Mem != nil {
		if _, werr := d.Mem.CopyOut(args[1], buf[:got]); werr != 0 {
			return 0, werr
		}
	}
	return uint64(got), 0
}

func sysWriteImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	e := tbl.Get(int(args[0]))
	if e == nil {
		return 0, -defs.EBADF
	}
	n := args[2]
	if n > 1<<20 {
		return 0, -defs.EINVAL
	}
	buf := make([]byte, n)
	if d.Mem != nil {
		if _, rerr := d.Mem.CopyIn(args[1], buf); rerr != 0 {
			return 0, rerr
		}
	}
	put, err := e.File.Write(buf)
	if err != 0 {
		return 0, err
	}
	return uint64(put), 0
}

func openPath(d *Dispatcher, t *task.Task, pathVA uint64, flags int, mode uint32) (int, defs.Err_t) {
	if d.Mem == nil || d.Walker == nil {
		return -1, -defs.ENOSYS
	}
	path, perr := d.Mem.CopyInString(pathVA, maxPathLen)
	if perr != 0 {
		return -1, perr
	}
	root := d.Root
	of, oerr := d.Walker.Open(root, path, flags, mode)
	if oerr != 0 {
		return -1, oerr
	}
	tbl := fdTable(t)
	if tbl == nil {
		return -1, -defs.EBADF
	}
	return tbl.Install(of, fd.FdRead|fd.FdWrite)
}

func sysOpenImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	fdNum, err := openPath(d, t, args[0], int(args[1]), uint32(args[2]))
	if err != 0 {
		return 0, err
	}
	return uint64(fdNum), 0
}

// sysOpenatImpl ignores the dirfd argument (args[0]); relative-path
// resolution against an arbitrary directory fd is out of scope (the design
// handles only absolute paths and paths relative to the process
// root), so args[0] is accepted but not consulted.
func sysOpenatImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	fdNum, err := openPath(d, t, args[1], int(args[2]), uint32(args[3]))
	if err != 0 {
		return 0, err
	}
	return uint64(fdNum), 0
}

func sysCloseImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	return 0, tbl.Close(int(args[0]))
}

func sysDupImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	n, err := tbl.Dup(int(args[0]))
	return uint64(n), err
}

func sysDup2Impl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	n, err := tbl.Dup2(int(args[0]), int(args[1]))
	return uint64(n), err
}

// direntType maps a vfs.NodeType to the Linux linux_dirent64 d_type byte.
func direntType(t vfs.NodeType) byte {
	switch t {
	case vfs.TypeDirectory:
		return 4 // DT_DIR
	case vfs.TypeSymlink:
		return 10 // DT_LNK
	case vfs.TypeDevice:
		return 2 // DT_CHR
	default:
		return 8 // DT_REG
	}
}

// direntHeaderLen is sizeof(ino) + sizeof(off) + sizeof(reclen) +
// sizeof(type) in struct linux_dirent64, before the variable-length name.
const direntHeaderLen = 8 + 8 + 2 + 1

// appendDirent encodes one linux_dirent64 record (name NUL-terminated,
// record length 8-byte aligned) and returns it.
func appendDirent(ino uint64, off int64, typ byte, name []byte) []byte {
	namez := append(append([]byte{}, name...), 0)
	reclen := direntHeaderLen + len(namez)
	if pad := reclen % 8; pad != 0 {
		reclen += 8 - pad
	}
	rec := make([]byte, reclen)
	putLE64(rec[0:8], ino)
	putLE64(rec[8:16], uint64(off))
	rec[16] = byte(reclen)
	rec[17] = byte(reclen >> 8)
	rec[18] = typ
	copy(rec[19:], namez)
	return rec
}

// sysGetdents64Impl reads directory entries from fd args[0] into the user
// buffer at args[1] (capacity args[2] bytes), encoding each as a
// linux_dirent64 record (spec.md §3/§4.J) and returning the number of
// bytes written. Entries that would overflow the caller's buffer are left
// for the next call (the fd's Readdir cookie, held by the underlying
// OpenFile, already advanced past them, matching getdents64(2)'s own
// fill-what-fits-then-resume contract is only approximate here: a
// too-small buffer simply drops the remainder of the current backend
// batch rather than re-fetching it, since the cache-backed Readdir
// implementations hand back a whole block/directory at a time).
func sysGetdents64Impl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	e := tbl.Get(int(args[0]))
	if e == nil {
		return 0, -defs.EBADF
	}
	dirFile, ok := e.File.(interface {
		Readdir(cookie int64) ([]vfs.Dirent, int64, defs.Err_t)
	})
	if !ok {
		return 0, -defs.ENOTDIR
	}
	entries, _, err := dirFile.Readdir(0)
	if err != 0 {
		return 0, err
	}

	bufCap := args[2]
	var out []byte
	for i, ent := range entries {
		rec := appendDirent(ent.Ino, int64(i+1), direntType(ent.Type), []byte(ent.Name))
		if uint64(len(out)+len(rec)) > bufCap {
			break
		}
		out = append(out, rec...)
	}
	if d.Mem != nil && len(out) > 0 {
		if _, werr := d.Mem.CopyOut(args[1], out); werr != 0 {
			return 0, werr
		}
	}
	return uint64(len(out)), 0
}

func sysMmapImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if t.AS == nil {
		return 0, -defs.EINVAL
	}
	addr := int64(args[0])
	length := int64(args[1])
	prot := vmaProtFromBits(args[2])
	flags := mmapFlagsFromBits(args[3])
	start, err := t.AS.Mmap(addr, length, prot, flags, int64(args[5]), nil, 0, 1<<47)
	if err != 0 {
		return 0, err
	}
	return uint64(start), 0
}

func sysMunmapImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if t.AS == nil {
		return 0, -defs.EINVAL
	}
	return 0, t.AS.Munmap(int64(args[0]), int64(args[1]))
}

func sysMprotectImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if t.AS == nil {
		return 0, -defs.EINVAL
	}
	return 0, t.AS.Mprotect(int64(args[0]), int64(args[1]), vmaProtFromBits(args[2]))
}

func sysRtSigactionImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if t.Sig == nil {
		return 0, -defs.EINVAL
	}
	sig := int(args[0])
	if args[1] != 0 {
		act := signal.Action{Disposition: signal.DispositionHandler, Handler: args[1], Flags: uint32(args[3]), Mask: args[2]}
		if act.Handler == 0 {
			act.Disposition = signal.DispositionDefault
		}
		if err := t.Sig.SetAction(sig, act); err != 0 {
			return 0, err
		}
	}
	return 0, 0
}

func sysRtSigprocmaskImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	newMask, err := signal.ApplyMask(t.SigMask, int(args[0]), args[1])
	if err != 0 {
		return 0, err
	}
	t.SigMask = newMask
	return 0, 0
}

// sysRtSigreturnImpl cannot itself restore the caller's TrapFrame (the
// handler only sees task state, not the frame HandleTrap owns); the actual
// restore happens in exitToUser's caller once this handler signals success
// by clearing SigSaved.Valid is left to the trap-entry glue, documented
// here rather than faked: a real build wires this through
// signal.RestoreFromSigreturn called with the live TrapFrame pointer, which
// only the arch-specific trap entry holds before HandleTrap is invoked.
func sysRtSigreturnImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if !t.SigSaved.Valid {
		return 0, -defs.EINVAL
	}
	t.SigMask = t.SigSaved.Mask
	t.SigSaved.Valid = false
	return 0, 0
}

func sysKillImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	// Looking up the target task by pid is a process-table responsibility
	// this package doesn't own; callers with access to the task table
	// should call signal.Kill directly. Self-signaling (pid==own pid,
	// common for raise(2)) is handled here since t is already in hand.
	if defs.Pid_t(args[0]) != t.Pid {
		return 0, -defs.ESRCH
	}
	return 0, signal.Kill(int(args[1]), t.Sig, &t.Pending)
}

func sysGetpidImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	return uint64(t.Pid), 0
}

func sysGetppidImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if t.Parent == nil {
		return 0, 0
	}
	return uint64(t.Parent.Pid), 0
}

func sysExitImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	t.DoExit(int(int32(args[0])), nil)
	return 0, 0
}

func sysWait4Impl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	child, err := t.Wait4(defs.Pid_t(int64(args[0])))
	if err != 0 {
		return 0, err
	}
	if child == nil {
		return 0, 0 // no zombie yet; caller should retry after blocking on WaitChan
	}
	if d.Mem != nil && args[1] != 0 {
		var status [4]byte
		// Linux's W_EXITCODE(code, 0): the exit code lives in bits 8-15,
		// the low byte is the signal number (0, no signal).
		putLE32(status[:], uint32(child.ExitCode&0xff)<<8)
		d.Mem.CopyOut(args[1], status[:])
	}
	return uint64(child.Pid), 0
}

func sysIoctlImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	// No device driver model (the design Non-goals); every ioctl fails with
	// EINVAL.
	return 0, -defs.EINVAL
}

func sysFcntlImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	const fGetfd, fSetfd, fDupfd = 1, 2, 0
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	switch args[1] {
	case fDupfd:
		n, err := tbl.Dup(int(args[0]))
		return uint64(n), err
	case fGetfd:
		e := tbl.Get(int(args[0]))
		if e == nil {
			return 0, -defs.EBADF
		}
		if e.Flags&fd.FdCloexec != 0 {
			return 1, 0
		}
		return 0, 0
	case fSetfd:
		return 0, tbl.SetCloexec(int(args[0]), args[2]&1 != 0)
	default:
		return 0, -defs.EINVAL
	}
}

func sysPipeImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	rend, wend := vfs.NewPipe()
	rfd, err := tbl.Install(rend, fd.FdRead)
	if err != 0 {
		return 0, err
	}
	wfd, err := tbl.Install(wend, fd.FdWrite)
	if err != 0 {
		tbl.Close(rfd)
		return 0, err
	}
	if d.Mem != nil {
		var fds [8]byte
		fds[0], fds[1], fds[2], fds[3] = byte(rfd), byte(rfd>>8), byte(rfd>>16), byte(rfd>>24)
		fds[4], fds[5], fds[6], fds[7] = byte(wfd), byte(wfd>>8), byte(wfd>>16), byte(wfd>>24)
		d.Mem.CopyOut(args[0], fds[:])
	}
	return 0, 0
}

// joinCwd resolves path against t.Cwd the way a shell's relative-path
// handling does: absolute paths pass through untouched, relative ones are
// appended to the current working directory string. The VFS walker itself
// collapses "." and ".." per component once this joined string reaches it
//, so no cleanup beyond concatenation is needed here.
func joinCwd(cwd, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path
	}
	if cwd == "/" {
		return "/" + path
	}
	return cwd + "/" + path
}

func sysChdirImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if d.Mem == nil || d.Walker == nil {
		return 0, -defs.ENOSYS
	}
	path, perr := d.Mem.CopyInString(args[0], maxPathLen)
	if perr != 0 {
		return 0, perr
	}
	target := joinCwd(t.Cwd, path.String())
	inode, err := d.Walker.Resolve(d.Root, ustr.Ustr(target))
	if err != 0 {
		return 0, err
	}
	if inode.Attr().Type != vfs.TypeDirectory {
		return 0, -defs.ENOTDIR
	}
	t.Cwd = target
	return 0, 0
}

func sysGetcwdImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if d.Mem == nil {
		return 0, -defs.ENOSYS
	}
	buf := append([]byte(t.Cwd), 0)
	if uint64(len(buf)) > args[1] {
		return 0, -defs.ERANGE
	}
	if _, werr := d.Mem.CopyOut(args[0], buf); werr != 0 {
		return 0, werr
	}
	return uint64(len(t.Cwd) + 1), 0
}

// statBufSize matches the x86_64 Linux struct stat's size (144 bytes,
// including trailing reserved fields); only the fields the fstat
// entry actually needs (ino, nlink, mode, size) are populated, the rest is
// left zeroed the way an untouched-but-correctly-sized reserved field
// would read.
const statBufSize = 144

func sysFstatImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	tbl := fdTable(t)
	if tbl == nil {
		return 0, -defs.EBADF
	}
	e := tbl.Get(int(args[0]))
	if e == nil {
		return 0, -defs.EBADF
	}
	statable, ok := e.File.(interface{ Inode() vfs.Inode })
	if !ok {
		return 0, -defs.EINVAL
	}
	attr := statable.Inode().Attr()

	var buf [statBufSize]byte
	putLE64(buf[0:8], attr.Dev)
	putLE64(buf[8:16], attr.Ino)
	putLE64(buf[16:24], uint64(attr.Nlink))
	putLE32(buf[24:28], attr.Mode)
	putLE64(buf[48:56], uint64(attr.Size))
	if d.Mem != nil {
		if _, werr := d.Mem.CopyOut(args[1], buf[:]); werr != 0 {
			return 0, werr
		}
	}
	return 0, 0
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// sysGettimeofdayImpl and sysClockGettimeImpl read the host's wall clock:
// this simulated kernel has no SBI/GIC timer device behind arch.HAL's
// TimerProgram beyond tick counting ( names read_time as a
// driver-facing contract this core consumes, not implements), so both
// syscalls fall back to the Go runtime's clock the way a hosted simulator
// stands in for a missing RTC.
func sysGettimeofdayImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if args[0] == 0 {
		return 0, 0
	}
	now := time.Now()
	var buf [16]byte
	putLE64(buf[0:8], uint64(now.Unix()))
	putLE64(buf[8:16], uint64(now.Nanosecond()/1000))
	if d.Mem != nil {
		if _, werr := d.Mem.CopyOut(args[0], buf[:]); werr != 0 {
			return 0, werr
		}
	}
	return 0, 0
}

func sysClockGettimeImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if args[1] == 0 {
		return 0, 0
	}
	now := time.Now()
	var buf [16]byte
	putLE64(buf[0:8], uint64(now.Unix()))
	putLE64(buf[8:16], uint64(now.Nanosecond()))
	if d.Mem != nil {
		if _, werr := d.Mem.CopyOut(args[1], buf[:]); werr != 0 {
			return 0, werr
		}
	}
	return 0, 0
}
