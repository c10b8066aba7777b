// Package errno defines the error taxonomy shared by every libos
// subsystem: a small positive integer that doubles as a POSIX errno
// and a sentinel that can be compared directly, without allocating, on
// every hot path.
package errno

// Err is a POSIX-style error code. Zero means success. Values are the
// positive POSIX numbers; negating one (-errno.EFAULT, ...) gives the
// sign convention of a kernel syscall return.
type Err int

// The subset of errno values this libOS surfaces
const (
	EFAULT Err = 14
	EINVAL Err = 22
	ENOENT Err = 2
	ENOEXEC Err = 8
	EBADF   Err = 9
	EIO     Err = 5
	ENOMEM  Err = 12
)

var names = map[Err]string{
	EFAULT:  "EFAULT",
	EINVAL:  "EINVAL",
	ENOENT:  "ENOENT",
	ENOEXEC: "ENOEXEC",
	EBADF:   "EBADF",
	EIO:     "EIO",
	ENOMEM:  "ENOMEM",
}

// String renders the errno's symbolic name, or "Err(unknown)" for an
// unrecognized value.
func (e Err) String() string {
	if s, ok := names[e]; ok {
		return s
	}
	return "Err(unknown)"
}

// Error is an (errno, message) pair, the shape requires for
// every error surfaced upward. It implements the standard error
// interface so it composes with fmt.Errorf's %w wrapping.
type Error struct {
	Errno Err
	Msg   string
}

// New builds an Error, pairing an errno with descriptive text.
func New(e Err, msg string) *Error {
	return &Error{Errno: e, Msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Errno.String()
	}
	return e.Errno.String() + ": " + e.Msg
}

// As extracts the Err code from any error produced by this package,
// returning ok=false for errors that didn't originate here.
func As(err error) (Err, bool) {
	if e, ok := err.(*Error); ok {
		return e.Errno, true
	}
	return 0, false
}
