// PID-1 construction: maps a static ELF image's PT_LOAD segments into a
// fresh address space and constructs the first task in place (the design
//'s construct-in-slot idiom). Grounded on the teacher kernel's
// sys_exec-adjacent address-space setup in vm/as.go (Vm_t.mmapi's
// page-table population driven by a VMA list) generalized here to the
// portable vma.AddressSpace this port uses instead of a concrete pmap.
package boot

import (
	"riscvkern/kernel/defs"
	"riscvkern/mm/vma"
	"riscvkern/proc/task"
	"riscvkern/signal"
	"riscvkern/vfs/fd"
)

// InitStackTop is the fixed user stack address this loader sets up for
// PID 1, a page below the conventional top-of-address-space guard region.
// The stack grows down from there.
const InitStackTop = 0x7ffffffff000

// InitStackSize is the size of PID 1's initial stack mapping.
const InitStackSize = 8 * 1024 * 1024

// LoadInit constructs PID 1 in place at slot: it maps img's PT_LOAD
// segments as private, fixed-address VMAs backed by the corresponding
// ranges of data, maps an anonymous stack, and points the saved context at
// the entry point with the stack pointer at the top of the stack mapping.
// The caller (the scheduler's boot path) still owns enqueuing slot onto a
// run queue.
func LoadInit(slot *task.Task, pid defs.Pid_t, img *Image, data []byte) defs.Err_t {
	task.InitAt(slot, pid)
	slot.AS = vma.New()
	slot.Fdtable = fd.New()
	slot.Sig = signal.New()

	for _, seg := range img.Segments {
		segData := data[seg.Offset:]
		if uint64(len(segData)) > seg.Filesz {
			segData = segData[:seg.Filesz]
		}
		backing := SegmentBacking{Data: segData, Filesz: seg.Filesz}
		addr := int64(seg.VAddr &^ uint64(vma.PageSize-1))
		length := int64(seg.VAddr-uint64(addr)) + int64(seg.Memsz)
		_, err := slot.AS.Mmap(addr, length, seg.Prot(), vma.MapFixed|vma.MapPrivate, 0, backing, 0, 1<<47)
		if err != 0 {
			return err
		}
	}

	if _, err := slot.AS.Mmap(InitStackTop-InitStackSize, InitStackSize,
		vma.ProtRead|vma.ProtWrite, vma.MapFixed|vma.MapPrivate, 0, nil, 0, 1<<47); err != 0 {
		return err
	}

	slot.Context.PC = img.Entry
	slot.Context.SP = InitStackTop
	return 0
}
