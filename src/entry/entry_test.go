package entry

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"libos/src/errno"
	"libos/src/proc"
)

func minimalELF() []byte {
	const (
		ehdrSize   = 64
		phdrSize   = 56
		codeSegOff = ehdrSize + 2*phdrSize
		segFileLen = 16
		dataSegOff = codeSegOff + segFileLen
	)
	buf := make([]byte, dataSegOff+segFileLen)
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2
	buf[5] = 1
	buf[6] = 1
	binary.LittleEndian.PutUint16(buf[16:18], 2)
	binary.LittleEndian.PutUint16(buf[18:20], 62)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], 0x1000)
	binary.LittleEndian.PutUint64(buf[32:40], ehdrSize)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 2)

	writePhdr := func(off int, flags uint32, foff, vaddr uint64) {
		binary.LittleEndian.PutUint32(buf[off:off+4], 1)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], flags)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], foff)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], vaddr)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], vaddr)
		binary.LittleEndian.PutUint64(buf[off+32:off+40], segFileLen)
		binary.LittleEndian.PutUint64(buf[off+40:off+48], segFileLen)
		binary.LittleEndian.PutUint64(buf[off+48:off+56], 0x1000)
	}
	writePhdr(ehdrSize, 5, codeSegOff, 0x1000)
	writePhdr(ehdrSize+phdrSize, 6, dataSegOff, 0x2000)
	return buf
}

func TestParseArgumentsPrependsBasename(t *testing.T) {
	path, argv, err := ParseArguments("/bin/hello", []string{"a", "b"})
	assert.NoError(t, err)
	assert.Equal(t, "/bin/hello", path)
	assert.Equal(t, []string{"hello", "a", "b"}, argv)
}

func TestParseArgumentsRejectsEmptyPath(t *testing.T) {
	_, _, err := ParseArguments("", nil)
	code, ok := errno.As(err)
	assert.True(t, ok)
	assert.Equal(t, errno.EINVAL, code)
}

func TestDummyEcallIsHarmless(t *testing.T) {
	assert.Equal(t, 0, DummyEcall())
}

// TestBootRunLifecycle exercises the single package-level Boot/Run
// state machine end to end: Run fails before Boot, Boot spawns and
// enqueues the initial process, Run drains it by actually invoking the
// supplied Executor against the spawned process's task and VM, and a
// second Boot call re-uses the first outcome instead of spawning again.
func TestBootRunLifecycle(t *testing.T) {
	_, err := Run()
	code, ok := errno.As(err)
	assert.True(t, ok)
	assert.Equal(t, errno.ENOENT, code)

	var seen *proc.Process
	readArgc := func(p *proc.Process) int {
		seen = p
		buf, err := p.VM.Slice(p.Task.UserStackAddr, 8)
		if err != nil {
			return -1
		}
		return int(binary.LittleEndian.Uint64(buf))
	}

	err = Boot(minimalELF(), "/bin/hello", nil, nil, readArgc)
	assert.NoError(t, err)

	status, err := Run()
	assert.NoError(t, err)
	assert.Equal(t, 1, status) // argv = [basename "hello"], argc == 1

	assert.NotNil(t, seen)
	assert.NotZero(t, seen.Task.UserEntryAddr)
	assert.NotZero(t, seen.Task.UserStackAddr)
	assert.NotNil(t, seen.VM)

	err = Boot(minimalELF(), "/bin/other", nil, nil, readArgc)
	assert.NoError(t, err) // second call reuses the first outcome, does not re-spawn
}
