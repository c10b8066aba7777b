// Package boundary mediates every address that crosses a trust
// boundary, the way a kernel's userbuf helper validates every address
// a syscall hands it. Two validators share an identical shape: one
// for pointers owned by the in-enclave user process, one for pointers
// owned by the untrusted world outside it; only the range predicate
// they check differs.
//
// There is no real enclave address space in a hosted Go process, so
// "pointer" here means an offset into a Region the caller supplies —
// the region stands in for the single contiguous extent the real
// trust-boundary check would validate against (the user VM's code+
// data+heap+stack+mmap span, or the untrusted host's argv/envp block).
package boundary

import (
	"golang.org/x/text/encoding/unicode"

	"libos/src/errno"
)

// Region is the addressable extent a Validator accepts pointers into.
// Start and End are offsets in an opaque, caller-defined address
// space (see libos/src/procvm for the real-world Start/End it is
// built from).
type Region struct {
	Start int
	End   int
}

func (r Region) contains(off, size int) bool {
	if size < 0 {
		return false
	}
	end := off + size
	return off >= r.Start && end <= r.End && end >= off
}

// Validator checks pointers crossing one side of a trust boundary. The
// zero value has an empty region and accepts no non-empty range;
// construct one via FromUser or FromUntrusted.
type Validator struct {
	region Region
}

// FromUser builds a validator for pointers owned by the untrusted
// in-enclave user process, addressed against region.
func FromUser(region Region) Validator {
	return Validator{region: region}
}

// FromUntrusted builds a validator for pointers owned by the world
// outside the enclave, addressed against region.
func FromUntrusted(region Region) Validator {
	return Validator{region: region}
}

// CheckPtr succeeds iff a value of size bytes at ptr lies entirely
// within the permitted region.
func (v Validator) CheckPtr(ptr, size int) error {
	if !v.region.contains(ptr, size) {
		return errno.New(errno.EFAULT, "pointer out of bounds")
	}
	return nil
}

// CheckMutPtr is CheckPtr's write-side twin. The predicate is
// identical today (the region carries no separate read/write
// permission bits); kept distinct because the two calls diverge the
// moment per-region write permissions are added.
func (v Validator) CheckMutPtr(ptr, size int) error {
	return v.CheckPtr(ptr, size)
}

// CheckArray succeeds iff an array of n elements of elemSize bytes
// starting at ptr lies entirely within the permitted region.
func (v Validator) CheckArray(ptr, elemSize, n int) error {
	if n < 0 {
		return errno.New(errno.EFAULT, "negative array length")
	}
	return v.CheckPtr(ptr, elemSize*n)
}

// CheckMutArray is CheckArray's write-side twin, see CheckMutPtr.
func (v Validator) CheckMutArray(ptr, elemSize, n int) error {
	return v.CheckArray(ptr, elemSize, n)
}

var utf8Decoder = unicode.UTF8.NewDecoder()

// CloneCString validates then copies bytes starting at off up to the
// first NUL out of the backing buffer, failing EFAULT on an invalid
// pointer and EINVAL when the result isn't valid UTF-8 — paths and
// argv entries are defined to be UTF-8.
func (v Validator) CloneCString(buf []byte, off int) (string, error) {
	if err := v.CheckPtr(off, 0); err != nil {
		return "", err
	}
	end := off
	for end < v.region.End && end < len(buf) {
		if buf[end] == 0 {
			break
		}
		end++
	}
	if end >= len(buf) || buf[end] != 0 {
		return "", errno.New(errno.EFAULT, "unterminated C string")
	}
	raw := buf[off:end]
	decoded, err := utf8Decoder.Bytes(raw)
	if err != nil || len(decoded) != len(raw) {
		return "", errno.New(errno.EINVAL, "string is not valid UTF-8")
	}
	return string(decoded), nil
}

// PtrArray abstracts access to a NULL-terminated array of string
// offsets (the Go stand-in for a `char**`): At returns the string
// offset of entry i, or isNull=true for the NULL terminator.
type PtrArray interface {
	At(i int) (off int, isNull bool, err error)
}

// CloneCStrings walks arr from index 0 until a NULL entry, cloning
// each inner string. A nil arr returns an empty list.
func (v Validator) CloneCStrings(buf []byte, arr PtrArray) ([]string, error) {
	if arr == nil {
		return []string{}, nil
	}
	out := []string{}
	for i := 0; ; i++ {
		off, isNull, err := arr.At(i)
		if err != nil {
			return nil, err
		}
		if isNull {
			break
		}
		s, err := v.CloneCString(buf, off)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
