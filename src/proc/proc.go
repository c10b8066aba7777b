// Package proc holds the process table and pid allocator (C9): a
// monotonically increasing pid source starting at 1, pid 0 reserved
// for a singleton idle process, and a lock-guarded pid->Process map —
// a package-level registry guarded by one mutex rather than a
// passed-around context object.
package proc

import (
	"sync"
	"sync/atomic"

	"libos/src/errno"
	"libos/src/fd"
	"libos/src/procvm"
)

// Process is one libOS process record: pid, cwd, a non-owning back
// reference to its parent, its children's pids, its address space,
// file table, resource limits, and its task — mutated only under its
// own lock.
type Process struct {
	mu sync.Mutex

	Pid      int
	Ppid     int
	Exec     string
	Cwd      *fd.Cwd
	Files    *fd.Table
	VM       *procvm.VM
	Task     *Task
	Rlimits  *Rlimits
	Parent   *Process
	Children []int
	Status   Status
}

// AdoptChild appends childPid to p's children list under p's own lock —
// the parent side of installing a freshly spawned process under its
// parent's children list.
func (p *Process) AdoptChild(childPid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Children = append(p.Children, childPid)
}

func (p *Process) removeChild(childPid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.Children {
		if c == childPid {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}

// Task is the immutable-after-construction record the scheduler
// eventually context-switches into: the user entry point, the initial
// user stack pointer, and a kernel-side register snapshot. There is no
// real CPU context in a hosted process, so Registers stays zeroed until
// a host integration populates it.
type Task struct {
	UserEntryAddr int
	UserStackAddr int
	Registers     [8]uint64
}

// Rlimits holds the resource limits visible to one process, mutated
// only under its own lock per the documented lock-ordering discipline
// (process table -> per-process lock -> rlimits).
type Rlimits struct {
	mu           sync.Mutex
	MaxOpenFiles int
}

// NewRlimits returns the default resource limits a freshly spawned
// process starts with.
func NewRlimits() *Rlimits {
	return &Rlimits{MaxOpenFiles: 1024}
}

// MaxFiles returns the current open-file limit.
func (r *Rlimits) MaxFiles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MaxOpenFiles
}

// SetMaxFiles replaces the open-file limit.
func (r *Rlimits) SetMaxFiles(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MaxOpenFiles = n
}

// Status is a process's run state.
type Status int

const (
	Running Status = iota
	Exited
)

var nextPid int64 = 1

// AllocPid returns the next pid, starting at 1 (pid 0 is reserved for
// the idle process and is never handed out here).
func AllocPid() int {
	return int(atomic.AddInt64(&nextPid, 1) - 1)
}

var (
	tableMu sync.Mutex
	table   = map[int]*Process{}
	idleOnce sync.Once
	idle     *Process
)

// Put registers p under p.Pid, replacing any prior entry.
func Put(p *Process) {
	tableMu.Lock()
	defer tableMu.Unlock()
	table[p.Pid] = p
}

// Remove deletes pid from the table and detaches it from its parent's
// children list. Removing pid 0 (the idle process) is a no-op: pid 0 is
// reserved and never needs freeing.
func Remove(pid int) {
	if pid == 0 {
		return
	}
	tableMu.Lock()
	p, ok := table[pid]
	delete(table, pid)
	tableMu.Unlock()

	if ok && p.Parent != nil {
		p.Parent.removeChild(pid)
	}
}

// Get looks up pid, failing ENOENT if it is not a live process.
func Get(pid int) (*Process, error) {
	tableMu.Lock()
	defer tableMu.Unlock()
	p, ok := table[pid]
	if !ok {
		return nil, errno.New(errno.ENOENT, "process not found")
	}
	return p, nil
}

// Idle returns the singleton pid-0 idle process, creating it on first
// use. It has no parent, an empty file table, and is never removed.
func Idle() *Process {
	idleOnce.Do(func() {
		idle = &Process{
			Pid:     0,
			Ppid:    0,
			Exec:    "idle",
			Files:   fd.NewTable(),
			Cwd:     fd.NewRootCwd(),
			Rlimits: NewRlimits(),
			Status:  Running,
		}
		Put(idle)
	})
	return idle
}
