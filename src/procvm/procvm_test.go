package procvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLaysOutRegionsInOrder(t *testing.T) {
	vm, err := New(4096, 4096, 8192, 4096, 8192)
	assert.NoError(t, err)

	assert.Equal(t, vm.CodeRange().End, vm.DataRange().Start)
	assert.Equal(t, vm.DataRange().End, vm.HeapRange().Start)
	assert.Equal(t, vm.HeapRange().End, vm.StackRange().Start)
	assert.Equal(t, vm.StackRange().End, vm.MmapRange().Start)
	assert.Equal(t, vm.StackRange().End, vm.StackTop())
}

func TestNewRejectsZeroSizedSpace(t *testing.T) {
	_, err := New(0, 0, 0, 0, 0)
	assert.Error(t, err)
}

func TestRelayoutRecomputesCodeDataBoundary(t *testing.T) {
	vm, err := New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)

	base := vm.BaseAddr()
	vm.Relayout(0x2000, 0x1000, 0x500)

	assert.Equal(t, base, vm.CodeRange().Start)
	assert.Equal(t, base+0x2000, vm.CodeRange().End)
	assert.Equal(t, base+0x2000, vm.DataRange().Start)
}

func TestContainsAndSliceGrowsBackingBuffer(t *testing.T) {
	vm, err := New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)

	assert.True(t, vm.Contains(vm.CodeRange().Start))
	assert.False(t, vm.Contains(vm.MmapRange().End))

	big := vm.MmapRange().End // past the backing buffer, forcing growth
	s, err := vm.Slice(big, 8)
	assert.NoError(t, err)
	assert.Len(t, s, 8)
}

func TestSliceRejectsOutOfRangeAddress(t *testing.T) {
	vm, err := New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)
	_, err = vm.Slice(vm.BaseAddr()-1, 8)
	assert.Error(t, err)
}

func TestAlignHelpers(t *testing.T) {
	assert.Equal(t, 0x2000, AlignUp(0x1001, 0x1000))
	assert.Equal(t, 0x1000, AlignDown(0x1fff, 0x1000))
}

func TestTwoVMsDoNotOverlap(t *testing.T) {
	a, err := New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)
	b, err := New(4096, 4096, 4096, 4096, 4096)
	assert.NoError(t, err)
	assert.NotEqual(t, a.BaseAddr(), b.BaseAddr())
}
