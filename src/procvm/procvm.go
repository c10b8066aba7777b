// Package procvm lays out one user process's virtual address space:
// five contiguous regions, code/data/heap/stack/mmap, back to back. A
// mutex-guarded address-space object exposing region lookups, in the
// shape of a traditional kernel's Vm_t, but with everything that
// belongs to a real page-table-backed kernel stripped out — no Pmap,
// no page faults, no demand paging. In their place, a VM here owns one
// contiguous []byte standing in for the hardware pages a real enclave
// would reserve; "base" is a synthetic, monotonically increasing
// identifier rather than a hardware pointer, since no two VMs in the
// same host process may overlap.
package procvm

import (
	"sync"
	"sync/atomic"

	"libos/src/errno"
)

const pageSize = 4096

func alignUp(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

func alignDown(n, align int) int {
	if align == 0 {
		align = 1
	}
	return n &^ (align - 1)
}

// AlignUp rounds n up to a multiple of align. Exported for callers
// (spawn) that must reproduce the same arithmetic used to compute the
// code/data boundary.
func AlignUp(n, align int) int {
	if align == 0 {
		align = 1
	}
	return (n + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to a multiple of align.
func AlignDown(n, align int) int {
	return alignDown(n, align)
}

// Region is one of the five contiguous, page-aligned, non-overlapping
// extents a ProcessVM owns.
type Region struct {
	Start, End int
}

// Contains reports whether addr lies in the region's half-open extent.
func (r Region) Contains(addr int) bool {
	return addr >= r.Start && addr < r.End
}

// VM is one user process's address space.
type VM struct {
	mu sync.Mutex

	base int
	mem  []byte

	code, data, heap, stack, mmap Region

	heapBrk  int
	mmapNext int
}

var nextBase int64 = 0x10000 // leave the zero page unmapped, like a real loader

// New reserves a single contiguous extent large enough for all five
// regions, each rounded up to a 4KiB page, and lays them out back to
// back in the order code, data, heap, stack, mmap, each sized from its
// argument. Relayout later recomputes the code/data boundary from the
// ELF data segment with this formula:
//
//	code_start = 0
//	code_end   = align_down(dataVaddr, dataAlign)
//	data_start = code_end
//	data_end   = align_up(dataVaddr+dataMemsz, 4096)
//	heap, stack, mmap follow, keeping their sizes.
//
// dataVaddr/dataAlign/dataMemsz come from the ELF data segment's
// p_vaddr/p_align/p_memsz.
func New(codeSize, dataSize, heapSize, stackSize, mmapSize int) (*VM, error) {
	total := alignUp(codeSize) + alignUp(dataSize) + alignUp(heapSize) + alignUp(stackSize) + alignUp(mmapSize)
	if total <= 0 {
		return nil, errno.New(errno.ENOMEM, "zero-sized address space")
	}
	base := int(atomic.AddInt64(&nextBase, int64(alignUp(total))) - int64(alignUp(total)))

	vm := &VM{base: base, mem: make([]byte, total)}
	off := 0
	vm.code = Region{off, off + alignUp(codeSize)}
	off = vm.code.End
	vm.data = Region{off, off + alignUp(dataSize)}
	off = vm.data.End
	vm.heap = Region{off, off + alignUp(heapSize)}
	off = vm.heap.End
	vm.stack = Region{off, off + alignUp(stackSize)}
	off = vm.stack.End
	vm.mmap = Region{off, off + alignUp(mmapSize)}

	vm.heapBrk = vm.heap.Start
	vm.mmapNext = vm.mmap.Start
	return vm, nil
}

// Relayout recomputes the code/data boundary from the ELF data
// segment's actual p_vaddr/p_align/p_memsz, using the formula in New's
// doc comment. Called once during spawn, after
// New has sized the backing buffer from code/data segment sizes but
// before any bytes are copied in.
func (vm *VM) Relayout(dataVaddr, dataAlign, dataMemsz int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	codeEnd := alignDown(dataVaddr, dataAlign)
	dataEnd := AlignUp(dataVaddr+dataMemsz, pageSize)

	codeSize := codeEnd
	dataSize := dataEnd - codeEnd
	heapSize := vm.heap.End - vm.heap.Start
	stackSize := vm.stack.End - vm.stack.Start
	mmapSize := vm.mmap.End - vm.mmap.Start

	off := 0
	vm.code = Region{off, off + codeSize}
	off = vm.code.End
	vm.data = Region{off, off + dataSize}
	off = vm.data.End
	vm.heap = Region{off, off + heapSize}
	off = vm.heap.End
	vm.stack = Region{off, off + stackSize}
	off = vm.stack.End
	vm.mmap = Region{off, off + mmapSize}

	vm.heapBrk = vm.heap.Start
	vm.mmapNext = vm.mmap.Start

	total := vm.mmap.End
	if total > len(vm.mem) {
		grown := make([]byte, total)
		copy(grown, vm.mem)
		vm.mem = grown
	}
}

// BaseAddr is the first address of the code region.
func (vm *VM) BaseAddr() int { return vm.base }

func absolute(r Region, base int) Region {
	return Region{r.Start + base, r.End + base}
}

// CodeRange, DataRange, HeapRange, StackRange, MmapRange return each
// region's absolute extent (its offset plus base_addr).
func (vm *VM) CodeRange() Region  { return absolute(vm.code, vm.base) }
func (vm *VM) DataRange() Region  { return absolute(vm.data, vm.base) }
func (vm *VM) HeapRange() Region  { return absolute(vm.heap, vm.base) }
func (vm *VM) StackRange() Region { return absolute(vm.stack, vm.base) }
func (vm *VM) MmapRange() Region  { return absolute(vm.mmap, vm.base) }

// StackTop is the highest address of the stack region; the initial
// stack pointer starts here and grows down.
func (vm *VM) StackTop() int { return vm.StackRange().End }

// Contains reports whether addr falls in any of the five regions.
func (vm *VM) Contains(addr int) bool {
	for _, r := range []Region{vm.CodeRange(), vm.DataRange(), vm.HeapRange(), vm.StackRange(), vm.MmapRange()} {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// Slice returns the backing bytes for the absolute range [addr,
// addr+size), growing the backing buffer if needed. It is the
// simulated-hardware stand-in for "writing to a mapped virtual
// address" used by the segment loader, relocator, and stack builder.
func (vm *VM) Slice(addr, size int) ([]byte, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	off := addr - vm.base
	if off < 0 || size < 0 {
		return nil, errno.New(errno.EFAULT, "address outside process VM")
	}
	need := off + size
	if need > len(vm.mem) {
		grown := make([]byte, need)
		copy(grown, vm.mem)
		vm.mem = grown
	}
	return vm.mem[off : off+size], nil
}
