package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunTaskEmptyQueueFails(t *testing.T) {
	for Pending() > 0 {
		_, _ = RunTask()
	}
	_, err := RunTask()
	assert.Error(t, err)
}

func TestEnqueueAndRunTaskFIFO(t *testing.T) {
	var order []int
	Enqueue(Task{Pid: 1, Run: func() int { order = append(order, 1); return 11 }})
	Enqueue(Task{Pid: 2, Run: func() int { order = append(order, 2); return 22 }})

	assert.Equal(t, 2, Pending())

	status, err := RunTask()
	assert.NoError(t, err)
	assert.Equal(t, 11, status)

	status, err = RunTask()
	assert.NoError(t, err)
	assert.Equal(t, 22, status)

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, Pending())
}

func TestProfileRecordsOneSamplePerTask(t *testing.T) {
	before := len(Profile().Sample)
	Enqueue(Task{Pid: 42, Run: func() int { return 0 }})
	_, err := RunTask()
	assert.NoError(t, err)

	after := Profile().Sample
	assert.Len(t, after, before+1)
	assert.Equal(t, []string{"42"}, after[len(after)-1].Label["pid"])
}
