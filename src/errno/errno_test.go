package errno

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "EFAULT", EFAULT.String())
	assert.Equal(t, "Err(unknown)", Err(999).String())
}

func TestErrorMessage(t *testing.T) {
	e := New(EINVAL, "bad argument")
	assert.Equal(t, "EINVAL: bad argument", e.Error())

	bare := New(ENOENT, "")
	assert.Equal(t, "ENOENT", bare.Error())
}

func TestAsRoundTrips(t *testing.T) {
	err := New(EBADF, "closed fd")
	code, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, EBADF, code)

	_, ok = As(assert.AnError)
	assert.False(t, ok)
}
