package misc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnameReportsFixedIdentity(t *testing.T) {
	u := Uname()

	s, err := StringOf(u.Sysname)
	assert.NoError(t, err)
	assert.Equal(t, "Occlum", s)

	s, err = StringOf(u.Machine)
	assert.NoError(t, err)
	assert.Equal(t, "x86-64", s)

	s, err = StringOf(u.Domainname)
	assert.NoError(t, err)
	assert.Empty(t, s)
}

func TestStringOfRejectsUnterminatedField(t *testing.T) {
	var field [fieldSize]byte
	for i := range field {
		field[i] = 'x'
	}
	_, err := StringOf(field)
	assert.Error(t, err)
}

func TestCopyToFieldTruncatesAndTerminates(t *testing.T) {
	var field [fieldSize]byte
	long := make([]byte, fieldSize+10)
	for i := range long {
		long[i] = 'a'
	}
	copyToField(&field, string(long))

	s, err := StringOf(field)
	assert.NoError(t, err)
	assert.Len(t, s, fieldSize-1)
}
