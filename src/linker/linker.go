// Package linker implements two relocation passes over an already-
// placed process image: rebasing position-independent data references
// (R_X86_64_RELATIVE) and redirecting every __occlum_syscall PLT slot
// to the libOS syscall trampoline, translated from the raw
// pointer-arithmetic writes a native loader performs into writes
// against a procvm.VM's simulated address space.
package linker

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"libos/src/elfimg"
	"libos/src/errno"
	"libos/src/procvm"
)

var log = logrus.WithField("component", "linker")

// RelocateDyn applies every R_X86_64_RELATIVE entry in entries: for symbol index 0, writes base+addend as an unaligned
// 64-bit store at base+offset. Entries of any other type, or with a
// non-zero symbol index, are left untouched — honoring only
// R_X86_64_RELATIVE is a documented limitation, not a bug.
func RelocateDyn(vm *procvm.VM, baseAddr int, entries []elfimg.RelaEntry) error {
	for _, e := range entries {
		if e.Type != elfimg.R_X86_64_RELATIVE || e.SymIndex != 0 {
			continue
		}
		addr := baseAddr + int(e.Offset)
		val := uint64(int64(baseAddr) + e.Addend)
		dst, err := vm.Slice(addr, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(dst, val)
	}
	return nil
}

const trampolineSymbol = "__occlum_syscall"

// PatchResult reports which PLT slots were rewritten and, for each,
// whether a decoded PLT stub was found indirecting through it.
type PatchResult struct {
	PatchedSlots  []int // absolute addresses written
	StubConfirmed map[int]bool
}

// LinkSyscalls rewrites every .rela.plt entry whose dynsym name is
// __occlum_syscall to point at the syscall trampoline. A malformed
// (empty or out-of-range) dynsym reference fails ENOEXEC. Every other
// slot is left untouched.
//
// When the image carries a classic .plt section, each rewritten GOT
// slot is cross-checked against the PLT stub that indirects through
// it: the stub must decode (via x86asm) as an indirect jump targeting
// that slot. The check is best-effort and non-fatal — a statically
// linked test image that omits a conventional .plt section just logs
// an unconfirmed slot rather than failing the spawn over it.
func LinkSyscalls(img *elf.File, vm *procvm.VM, baseAddr int, pltRelas []elfimg.RelaEntry, dynsyms []elf.Symbol) (*PatchResult, error) {
	pltStubs := decodePltStubs(img)
	result := &PatchResult{StubConfirmed: map[int]bool{}}

	for _, e := range pltRelas {
		idx := int(e.SymIndex)
		if idx < 0 || idx >= len(dynsyms) {
			return nil, errno.New(errno.ENOEXEC, fmt.Sprintf("rela.plt entry references out-of-range dynsym %d", idx))
		}
		name := dynsyms[idx].Name
		if name == "" {
			return nil, errno.New(errno.ENOEXEC, "rela.plt entry has an empty dynsym name")
		}
		if name != trampolineSymbol {
			continue
		}

		slotAddr := baseAddr + int(e.Offset)
		if _, ok := pltStubs[int(e.Offset)]; ok {
			result.StubConfirmed[slotAddr] = true
		} else {
			log.WithField("slot", slotAddr).Debug("no PLT stub decoded for rewritten syscall slot")
		}

		dst, err := vm.Slice(slotAddr, 8)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(dst, TrampolineAddr)
		result.PatchedSlots = append(result.PatchedSlots, slotAddr)
	}
	return result, nil
}

// TrampolineAddr is the address of the libOS-provided syscall
// trampoline every __occlum_syscall PLT slot is redirected to. The
// trampoline's own calling convention, int64(i32, u64, u64, u64, u64,
// u64), is implemented by a syscall dispatcher this package only
// needs the address of, not the behavior.
var TrampolineAddr uint64 = 0xdeadc0de00000000

// decodePltStubs scans a .plt section (if present) for indirect-jump
// stubs of the form `jmp *disp32(%rip)` and returns a map from the
// link-time (not rebased) GOT slot address each stub targets to the
// stub's own link-time address.
func decodePltStubs(f *elf.File) map[int]int {
	out := map[int]int{}
	sec := f.Section(".plt")
	if sec == nil {
		return out
	}
	data, err := sec.Data()
	if err != nil {
		return out
	}
	for off := 0; off < len(data); {
		inst, err := x86asm.Decode(data[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		if inst.Op == x86asm.JMP {
			if mem, ok := inst.Args[0].(x86asm.Mem); ok && mem.Base == x86asm.RIP {
				instAddr := int(sec.Addr) + off
				target := instAddr + inst.Len + int(mem.Disp)
				out[target] = instAddr
			}
		}
		off += inst.Len
	}
	return out
}
