// Package sched stands in for a full cooperative process scheduler,
// which is out of scope here: a single FIFO run queue, one task
// executed per RunTask call, its wall-clock span recorded as a pprof
// sample so the boot/run cycle leaves behind an inspectable task
// timeline. Kept tiny and explicit on purpose — no work-stealing, no
// priorities.
package sched

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"

	"libos/src/errno"
)

// Task is one unit of scheduled work: a pid plus the closure standing
// in for "jump to this process's entry point" in a hosted Go process
// that owns no real CPU context to switch into.
type Task struct {
	Pid int
	Run func() int
}

var (
	mu    sync.Mutex
	queue []Task
	prof  = newTimelineProfile()
)

// Enqueue appends t to the run queue.
func Enqueue(t Task) {
	mu.Lock()
	defer mu.Unlock()
	queue = append(queue, t)
}

// RunTask pops and executes the oldest queued task, recording its
// duration into the task timeline profile, and returns its exit
// status. ENOENT if the queue is empty.
func RunTask() (int, error) {
	mu.Lock()
	if len(queue) == 0 {
		mu.Unlock()
		return 0, errno.New(errno.ENOENT, "run queue is empty")
	}
	t := queue[0]
	queue = queue[1:]
	mu.Unlock()

	start := time.Now()
	status := t.Run()
	recordSample(prof, t.Pid, time.Since(start))

	return status, nil
}

// Pending reports how many tasks remain queued.
func Pending() int {
	mu.Lock()
	defer mu.Unlock()
	return len(queue)
}

// Profile returns the accumulated task timeline, one sample per
// completed RunTask call, labeled by pid and valued by wall-clock
// duration in nanoseconds.
func Profile() *profile.Profile {
	mu.Lock()
	defer mu.Unlock()
	return prof
}

func newTimelineProfile() *profile.Profile {
	return &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "task", Unit: "nanoseconds"}},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     1,
	}
}

func recordSample(p *profile.Profile, pid int, d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	p.Sample = append(p.Sample, &profile.Sample{
		Value: []int64{d.Nanoseconds()},
		Label: map[string][]string{"pid": {strconv.Itoa(pid)}},
	})
}
