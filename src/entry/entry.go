// Package entry holds the three functions a host process calls to
// drive the libOS: Boot spawns the initial process, Run drains the
// scheduler until it exits, DummyEcall is a harmless no-op placeholder
// call. Boot and Run are each enforced to run at most once per
// process: calling Boot twice re-uses the first outcome rather than
// re-spawning, and calling Run before a successful Boot fails outright
// rather than silently doing nothing.
package entry

import (
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"libos/src/errno"
	"libos/src/proc"
	"libos/src/sched"
	"libos/src/spawn"
	"libos/src/storage"
)

// Executor drives a spawned process's task to completion and returns
// its exit status. A host integration supplies one to actually jump to
// p.Task.UserEntryAddr with p.Task.UserStackAddr; a nil Executor leaves
// the task a no-op, exiting 0 without touching p at all.
type Executor func(p *proc.Process) int

// ExitStatusInternalError is returned when the libOS itself fails to
// boot or run, as opposed to a user program exiting with this value on
// its own — 127 from a real user program is not to be confused with
// this sentinel.
const ExitStatusInternalError = 127

var log = logrus.WithField("component", "entry")

var (
	bootOnce   sync.Once
	booted     bool
	bootErr    error
	runAllowed bool
	mu         sync.Mutex
)

// ParseArguments resolves the executable path's basename into
// argv[0], prepended to the caller-supplied argv. An empty or
// non-UTF-8 basename fails EINVAL.
func ParseArguments(path string, argv []string) (string, []string, error) {
	if path == "" {
		return "", nil, errno.New(errno.EINVAL, "invalid path")
	}
	program := filepath.Base(path)
	if program == "." || program == string(filepath.Separator) || !utf8.ValidString(program) {
		return "", nil, errno.New(errno.EINVAL, "invalid path")
	}
	full := make([]string, 0, len(argv)+1)
	full = append(full, program)
	full = append(full, argv...)
	return path, full, nil
}

// Boot spawns the named ELF as the sole child of the idle process and
// enqueues it on the scheduler. elfBuf carries the image directly when
// non-nil; otherwise it is resolved from dev via path. exec, if
// non-nil, is invoked with the spawned process when the scheduler runs
// its task, and its return value becomes the task's exit status. Boot
// spawns only once; later calls return the first call's outcome
// without re-spawning anything.
func Boot(elfBuf []byte, path string, argv []string, dev *storage.Device, exec Executor) error {
	bootOnce.Do(func() {
		log.WithField("path", path).Info("booting")

		_, fullArgv, err := ParseArguments(path, argv)
		if err != nil {
			bootErr = err
			return
		}

		idle := proc.Idle()
		pid, err := spawn.DoSpawn(spawn.Request{
			ElfBuf:  elfBuf,
			ElfPath: path,
			Storage: dev,
			Argv:    fullArgv,
			Envp:    nil,
		}, idle)
		if err != nil {
			bootErr = err
			return
		}

		child, err := proc.Get(pid)
		if err != nil {
			bootErr = err
			return
		}

		sched.Enqueue(sched.Task{
			Pid: pid,
			Run: func() int {
				if exec == nil {
					return 0
				}
				return exec(child)
			},
		})

		mu.Lock()
		booted = true
		runAllowed = true
		mu.Unlock()
	})
	return bootErr
}

// Run drains one task off the scheduler and returns its exit status.
// Calling Run before a successful Boot, or a second time, fails ENOENT.
func Run() (int, error) {
	mu.Lock()
	ok := runAllowed
	runAllowed = false
	mu.Unlock()
	if !ok {
		return ExitStatusInternalError, errno.New(errno.ENOENT, "run called before a successful boot or more than once")
	}
	status, err := sched.RunTask()
	if err != nil {
		return ExitStatusInternalError, err
	}
	return status, nil
}

// DummyEcall is a harmless placeholder call with no effect, used to
// verify the host-to-libOS call path is wired up before doing anything
// that matters.
func DummyEcall() int { return 0 }
