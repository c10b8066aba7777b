// Package misc implements uname-style identity reporting (C12): six
// 65-byte NUL-terminated fields carrying fixed, hardcoded identity
// strings.
package misc

import "libos/src/errno"

const fieldSize = 65

const (
	sysname    = "Occlum"
	nodename   = "occlum-node"
	release    = "0.1"
	version    = "0.1"
	machine    = "x86-64"
	domainname = ""
)

// Utsname is the fixed-width, NUL-terminated identity record a uname
// call reports, mirroring struct utsname's six 65-byte fields.
type Utsname struct {
	Sysname    [fieldSize]byte
	Nodename   [fieldSize]byte
	Release    [fieldSize]byte
	Version    [fieldSize]byte
	Machine    [fieldSize]byte
	Domainname [fieldSize]byte
}

// Uname returns the identity record. Every caller sees the same fixed
// values — there is no notion of a configurable host name here.
func Uname() Utsname {
	var u Utsname
	copyToField(&u.Sysname, sysname)
	copyToField(&u.Nodename, nodename)
	copyToField(&u.Release, release)
	copyToField(&u.Version, version)
	copyToField(&u.Machine, machine)
	copyToField(&u.Domainname, domainname)
	return u
}

// copyToField truncates src to fit dst's capacity minus one byte and
// NUL-terminates it.
func copyToField(dst *[fieldSize]byte, src string) {
	n := fieldSize - 1
	if len(src) < n {
		n = len(src)
	}
	copy(dst[:n], src)
	dst[n] = 0
}

// StringOf returns the NUL-terminated prefix of a field as a Go
// string, for callers that want to log or compare it rather than
// crossing it back into a C-style buffer.
func StringOf(field [fieldSize]byte) (string, error) {
	for i, b := range field {
		if b == 0 {
			return string(field[:i]), nil
		}
	}
	return "", errno.New(errno.EINVAL, "utsname field is not NUL-terminated")
}
