package hashtable

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDel(t *testing.T) {
	tbl := New[int, string](4, IntHash)

	_, ok := tbl.Get(1)
	assert.False(t, ok)

	inserted := tbl.Set(1, "one")
	assert.True(t, inserted)
	v, ok := tbl.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	replaced := tbl.Set(1, "uno")
	assert.False(t, replaced)
	v, _ = tbl.Get(1)
	assert.Equal(t, "uno", v)

	tbl.Del(1)
	_, ok = tbl.Get(1)
	assert.False(t, ok)
}

func TestSizeCountsAcrossBuckets(t *testing.T) {
	tbl := New[int, int](2, IntHash)
	for i := 0; i < 10; i++ {
		tbl.Set(i, i*i)
	}
	assert.Equal(t, 10, tbl.Size())
}

func TestNewClampsZeroSize(t *testing.T) {
	tbl := New[int, int](0, IntHash)
	tbl.Set(5, 25)
	v, ok := tbl.Get(5)
	assert.True(t, ok)
	assert.Equal(t, 25, v)
}

func TestConcurrentSetGet(t *testing.T) {
	tbl := New[int, int](16, IntHash)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl.Set(i, i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, tbl.Size())
}
