package initstack

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"libos/src/procvm"
)

func TestAuxTablePreservesInsertionOrder(t *testing.T) {
	aux := NewAuxTable()
	aux.SetVal(AT_PAGESZ, 4096)
	aux.SetVal(AT_UID, 0)
	aux.SetVal(AT_PAGESZ, 8192) // overwrite, should not duplicate

	pairs := aux.Pairs()
	assert.Len(t, pairs, 2)
	assert.Equal(t, AT_PAGESZ, pairs[0].Key)
	assert.Equal(t, uint64(8192), pairs[0].Val)
	assert.Equal(t, AT_UID, pairs[1].Key)

	v, ok := aux.Get(AT_UID)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), v)
}

func TestBuildStackLayoutAndAlignment(t *testing.T) {
	vm, err := procvm.New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)

	aux := NewAuxTable()
	aux.SetVal(AT_PAGESZ, 4096)

	sp, err := BuildStack(vm, vm.StackTop(), []string{"prog", "arg1"}, []string{"HOME=/"}, aux)
	assert.NoError(t, err)
	assert.Zero(t, sp%16)
	assert.LessOrEqual(t, sp, vm.StackTop())

	buf, err := vm.Slice(sp, vm.StackTop()-sp)
	assert.NoError(t, err)

	argc := binary.LittleEndian.Uint64(buf[0:8])
	assert.Equal(t, uint64(2), argc)

	argv0Ptr := binary.LittleEndian.Uint64(buf[8:16])
	assert.True(t, int(argv0Ptr) >= sp && int(argv0Ptr) < vm.StackTop())
}

func TestBuildStackFailsWhenImageExceedsBudget(t *testing.T) {
	vm, err := procvm.New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)

	hugeArgv := make([]string, 2000)
	for i := range hugeArgv {
		hugeArgv[i] = "argument-takes-up-real-space"
	}

	aux := NewAuxTable()
	_, err = BuildStack(vm, vm.StackTop(), hugeArgv, nil, aux)
	assert.Error(t, err)
}
