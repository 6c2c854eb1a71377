// sys_execve wiring: reads a static ELF64 executable through the VFS,
// replaces the calling task's address space with one built from its
// PT_LOAD segments, and rewrites the saved context to start at the new
// entry point. Split out of syscall.go because execve needs the whole
// file's contents read through d.Walker before kernel/boot's loader can
// run, unlike every other table-driven handler here.
package trap

import (
	"riscvkern/kernel/boot"
	"riscvkern/kernel/defs"
	"riscvkern/mm/vma"
	"riscvkern/proc/task"
)

// maxExecSize bounds how much of an executable this port will read into
// memory at once; static init/shell-sized images are well under this.
const maxExecSize = 16 << 20

func readWholeFile(of interface {
	Read(buf []byte) (int, defs.Err_t)
}) ([]byte, defs.Err_t) {
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := of.Read(buf)
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
		if len(out) > maxExecSize {
			return nil, -defs.ENOMEM
		}
	}
	return out, 0
}

// sysExecveImpl replaces t's address space in place: argv/envp are accepted
// (args[1], args[2]) but not copied onto the new stack beyond an empty
// argv/envp pair, matching kernel/boot.LoadInit's own "push an empty
// argv/envp" contract for PID 1 (spec.md §4.O) generalized to any caller of
// execve rather than only the boot path.
func sysExecveImpl(d *Dispatcher, t *task.Task, args SyscallArgs) (uint64, defs.Err_t) {
	if d.Mem == nil || d.Walker == nil {
		return 0, -defs.ENOSYS
	}
	path, perr := d.Mem.CopyInString(args[0], maxPathLen)
	if perr != 0 {
		return 0, perr
	}
	of, oerr := d.Walker.Open(d.Root, path, 0, 0)
	if oerr != 0 {
		return 0, oerr
	}
	data, rerr := readWholeFile(of)
	if rerr != 0 {
		return 0, rerr
	}
	img, ierr := boot.ParseELF(data)
	if ierr != 0 {
		return 0, ierr
	}

	newAS := vma.New()
	for _, seg := range img.Segments {
		segData := data[seg.Offset:]
		if uint64(len(segData)) > seg.Filesz {
			segData = segData[:seg.Filesz]
		}
		backing := boot.SegmentBacking{Data: segData, Filesz: seg.Filesz}
		addr := int64(seg.VAddr &^ uint64(vma.PageSize-1))
		length := int64(seg.VAddr-uint64(addr)) + int64(seg.Memsz)
		if _, err := newAS.Mmap(addr, length, seg.Prot(), vma.MapFixed|vma.MapPrivate, 0, backing, 0, 1<<47); err != 0 {
			return 0, err
		}
	}
	if _, err := newAS.Mmap(boot.InitStackTop-boot.InitStackSize, boot.InitStackSize,
		vma.ProtRead|vma.ProtWrite, vma.MapFixed|vma.MapPrivate, 0, nil, 0, 1<<47); err != 0 {
		return 0, err
	}

	// A successful execve discards the caller's old mappings and any
	// pending signal handlers revert to default (the handler code the old
	// image owned no longer exists), matching execve(2)'s semantics.
	t.AS = newAS
	if t.Sig != nil {
		t.Sig.ResetOnExec()
	}
	t.Context.PC = img.Entry
	t.Context.SP = boot.InitStackTop
	return 0, 0
}
