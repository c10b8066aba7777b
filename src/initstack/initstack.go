// Package initstack builds the initial user stack image — argv, envp,
// and the auxiliary vector — that a freshly spawned process sees at
// its entry point, per the SysV AMD64 ABI (C7): a small, heavily
// invariant-commented leaf package in the style of a kernel's own
// user-buffer helpers.
package initstack

import (
	"encoding/binary"

	"libos/src/errno"
	"libos/src/procvm"
)

// AuxKey enumerates the AT_* auxv keys names.
type AuxKey int

const (
	AT_NULL AuxKey = 0
	AT_PAGESZ AuxKey = 6
	AT_PHDR   AuxKey = 3
	AT_PHENT  AuxKey = 4
	AT_PHNUM  AuxKey = 5
	AT_UID    AuxKey = 11
	AT_EUID   AuxKey = 12
	AT_GID    AuxKey = 13
	AT_EGID   AuxKey = 14
	AT_ENTRY  AuxKey = 9
	AT_SECURE AuxKey = 23
	AT_EXECFN AuxKey = 31
)

// AuxTable maps aux keys to values, emitted on the stack terminated by
// AT_NULL. Keys are unique; SetVal overwrites a prior
// value for the same key rather than duplicating entries.
type AuxTable struct {
	order []AuxKey
	vals  map[AuxKey]uint64
}

// NewAuxTable returns an empty table.
func NewAuxTable() *AuxTable {
	return &AuxTable{vals: map[AuxKey]uint64{}}
}

// SetVal records key=val, preserving first-seen order for a
// deterministic (if otherwise unspecified) on-stack layout.
func (t *AuxTable) SetVal(key AuxKey, val uint64) {
	if _, ok := t.vals[key]; !ok {
		t.order = append(t.order, key)
	}
	t.vals[key] = val
}

// Get returns the value stored for key.
func (t *AuxTable) Get(key AuxKey) (uint64, bool) {
	v, ok := t.vals[key]
	return v, ok
}

// Pairs returns the (key, value) pairs in insertion order, the terminal
// AT_NULL entry not included — BuildStack appends it.
func (t *AuxTable) Pairs() []struct {
	Key AuxKey
	Val uint64
} {
	out := make([]struct {
		Key AuxKey
		Val uint64
	}, len(t.order))
	for i, k := range t.order {
		out[i] = struct {
			Key AuxKey
			Val uint64
		}{k, t.vals[k]}
	}
	return out
}

// defaultStackBudget is the fixed budget reserved at the top of the
// stack for the argv/envp/auxv image.
const defaultStackBudget = 4096

// BuildStack writes, in order from lowest to highest address: argc,
// argv pointers then NULL, envp pointers then NULL, auxv (key,value)
// pairs then (AT_NULL,0), and the string pool the pointers reference.
// It returns the address to install as the process's initial stack
// pointer, 16-byte aligned per the SysV AMD64 ABI. Fails ENOMEM if the
// image does not fit within stackTop's reserved budget.
func BuildStack(vm *procvm.VM, stackTop int, argv, envp []string, aux *AuxTable) (int, error) {
	strPool := []byte{}
	strOffsets := make([]int, 0, len(argv)+len(envp))
	addString := func(s string) int {
		off := len(strPool)
		strPool = append(strPool, []byte(s)...)
		strPool = append(strPool, 0)
		return off
	}
	for _, s := range argv {
		strOffsets = append(strOffsets, addString(s))
	}
	envOffsetBase := len(argv)
	for _, s := range envp {
		strOffsets = append(strOffsets, addString(s))
	}

	pairs := aux.Pairs()

	ptrSlots := 1 /* argc */ + len(argv) + 1 /* NULL */ + len(envp) + 1 /* NULL */
	auxSlots := (len(pairs) + 1) * 2 // +1 for the terminal AT_NULL pair

	size := ptrSlots*8 + auxSlots*8 + len(strPool)
	// Round the whole image up to a multiple of 16 bytes, then align
	// its lowest address (the returned stack pointer) down to 16 bytes.
	size = (size + 15) &^ 15

	if size > defaultStackBudget {
		return 0, errno.New(errno.ENOMEM, "initial stack exceeds reserved budget")
	}

	base := stackTop - size
	if base&0xf != 0 {
		base &^= 0xf
	}

	buf, err := vm.Slice(base, stackTop-base)
	if err != nil {
		return 0, err
	}

	strPoolStart := len(buf) - len(strPool)
	copy(buf[strPoolStart:], strPool)
	strAbsBase := base + strPoolStart

	w := 0
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[w:w+8], v)
		w += 8
	}

	putU64(uint64(len(argv)))
	for i := 0; i < len(argv); i++ {
		putU64(uint64(strAbsBase + strOffsets[i]))
	}
	putU64(0)
	for i := 0; i < len(envp); i++ {
		putU64(uint64(strAbsBase + strOffsets[envOffsetBase+i]))
	}
	putU64(0)
	for _, p := range pairs {
		putU64(uint64(p.Key))
		putU64(p.Val)
	}
	putU64(uint64(AT_NULL))
	putU64(0)

	return base, nil
}
