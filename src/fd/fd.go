// Package fd is the process file-descriptor table: a dense mapping
// from non-negative integer fd to an open file reference plus its
// close-on-spawn bit, in the shape of a traditional kernel's
// Fd_t/Cwd_t pair — generalized from a concrete Fops vtable to an
// explicit File interface, a polymorphic file capability any open
// file kind can satisfy.
package fd

import (
	"os"
	"sync"

	"libos/src/errno"
)

// File is the capability every fd slot holds: a read/write/flush/
// truncate surface any concrete file kind (protected-file handle,
// stdin line buffer, stdout byte sink) implements. Dispatch is through
// this interface, not inheritance.
type File interface {
	ReadAt(buf []byte, offset int) (int, error)
	WriteAt(buf []byte, offset int) (int, error)
	Flush() error
	SetLen(n int) error
	Close() error
}

// Entry is one occupied fd slot.
type Entry struct {
	File         File
	CloseOnSpawn bool
}

// Table is the dense fd -> Entry mapping, guarded by its own mutex,
// cloned by value on spawn.
type Table struct {
	mu    sync.Mutex
	slots map[int]*Entry
}

// NewTable returns an empty file-descriptor table.
func NewTable() *Table {
	return &Table{slots: map[int]*Entry{}}
}

// Put assigns the lowest free fd to f and returns it.
func (t *Table) Put(f File, closeOnSpawn bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := 0
	for {
		if _, occupied := t.slots[fd]; !occupied {
			break
		}
		fd++
	}
	t.slots[fd] = &Entry{File: f, CloseOnSpawn: closeOnSpawn}
	return fd
}

// PutAt forces f into slot fd, closing any prior occupant first.
func (t *Table) PutAt(fd int, f File, closeOnSpawn bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prior, ok := t.slots[fd]; ok {
		prior.File.Close()
	}
	t.slots[fd] = &Entry{File: f, CloseOnSpawn: closeOnSpawn}
	return nil
}

// Get returns the entry at fd.
func (t *Table) Get(fd int) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.slots[fd]
	if !ok {
		return nil, errno.New(errno.EBADF, "no such file descriptor")
	}
	return e, nil
}

// Del frees fd, failing EBADF if it was not occupied.
func (t *Table) Del(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.slots[fd]; !ok {
		return errno.New(errno.EBADF, "no such file descriptor")
	}
	delete(t.slots, fd)
	return nil
}

// CloseOnSpawnSweep deletes every entry whose CloseOnSpawn flag is set,
// closing the underlying file first.
func (t *Table) CloseOnSpawnSweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, e := range t.slots {
		if e.CloseOnSpawn {
			e.File.Close()
			delete(t.slots, fd)
		}
	}
}

// Clone returns a shallow copy: a new Table referencing the same File
// capabilities, the fork semantics a child inherits at spawn time —
// only the slot structure is duplicated, not the underlying files.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := NewTable()
	for fd, e := range t.slots {
		out.slots[fd] = &Entry{File: e.File, CloseOnSpawn: e.CloseOnSpawn}
	}
	return out
}

// Cwd tracks a process's current working directory. Path resolution
// proper belongs to the out-of-scope filesystem tree walker; this type only carries the string a child inherits from its
// parent at spawn time.
type Cwd struct {
	mu   sync.Mutex
	Path string
}

// NewRootCwd returns a Cwd rooted at "/".
func NewRootCwd() *Cwd {
	return &Cwd{Path: "/"}
}

// Get returns the current path.
func (c *Cwd) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Path
}

// Set replaces the current path.
func (c *Cwd) Set(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Path = p
}

// StdStream wraps one of the host's own stdin/stdout file objects as a
// File, the synthesized fd 0/1/2 a freshly spawned process's table
// starts with. It is sequential-only: offset is ignored, matching a
// terminal device rather than a seekable file.
type StdStream struct {
	f *os.File
}

// NewStdin wraps the host's stdin.
func NewStdin() *StdStream { return &StdStream{f: os.Stdin} }

// NewStdout wraps the host's stdout. fd 2 (stderr) is synthesized as a
// second StdStream over the same stdout descriptor rather than a real,
// independent stderr stream — a real stderr is a known gap.
func NewStdout() *StdStream { return &StdStream{f: os.Stdout} }

func (s *StdStream) ReadAt(buf []byte, offset int) (int, error)  { return s.f.Read(buf) }
func (s *StdStream) WriteAt(buf []byte, offset int) (int, error) { return s.f.Write(buf) }
func (s *StdStream) Flush() error                                { return s.f.Sync() }
func (s *StdStream) SetLen(int) error                            { return nil }

// Close is a no-op: the host's own stdio is never closed underneath it.
func (s *StdStream) Close() error { return nil }
