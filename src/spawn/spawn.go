// Package spawn is the single entry point that turns an ELF image plus
// argv/envp/file_actions into a running Process (C10): parse the ELF,
// build and relocate its address space, link its syscall trampoline,
// build its initial stack, derive its file table from the parent's,
// and register the result in the process table. What a native loader
// does with raw pointer writes into a freshly mapped address space is
// done here as writes into a procvm.VM.
package spawn

import (
	"strconv"
	"strings"

	"libos/src/elfimg"
	"libos/src/errno"
	"libos/src/fd"
	"libos/src/initstack"
	"libos/src/linker"
	"libos/src/proc"
	"libos/src/procvm"
	"libos/src/storage"
)

// Default region sizes for a freshly spawned process's address space.
const (
	DefaultStackSize = 1 << 20
	DefaultHeapSize  = 8 << 20
	DefaultMmapSize  = 8 << 20
)

// ActionKind distinguishes the three file actions a spawn request may
// carry (open/dup2/close), applied to the cloned parent file table
// before the child ever runs.
type ActionKind int

const (
	ActionOpen ActionKind = iota
	ActionDup2
	ActionClose
)

// FileAction mirrors one entry of the file_actions list a posix_spawn-
// style caller supplies: "open this path at this fd", "dup old fd onto
// new fd", or "close this fd" — applied in order to the cloned parent
// file table before the child ever runs.
type FileAction struct {
	Kind ActionKind

	// ActionOpen
	Path         string
	Mode         uint32
	Oflag        uint32
	Fd           int
	CloseOnSpawn bool
	Open         func(path string, oflag uint32, mode uint32) (fd.File, error)

	// ActionDup2
	OldFd, NewFd int

	// ActionClose
	CloseFd int
}

// Request bundles everything DoSpawn needs beyond the parent process.
// Either ElfBuf carries the image directly, or ElfPath+Storage resolve
// it from the protected-file storage device at spawn time.
type Request struct {
	ElfBuf      []byte
	ElfPath     string
	Storage     *storage.Device
	Argv        []string
	Envp        []string
	FileActions []FileAction
}

// loadELF resolves elfPath against dev's storage: a path is a leading
// "/" followed by the file_id storage addresses its sealed file by, so
// resolution is a strip-and-parse rather than a full tree walk. ENOENT
// if the id can't be parsed or the file doesn't exist, EIO if it can't
// be read.
func loadELF(dev *storage.Device, elfPath string) ([]byte, error) {
	rel := strings.TrimPrefix(elfPath, "/")
	fileID, err := strconv.Atoi(rel)
	if err != nil {
		return nil, errno.New(errno.ENOENT, "no such file")
	}
	h, err := dev.OpenExisting(fileID)
	if err != nil {
		return nil, err
	}
	return h.Bytes(), nil
}

// DoSpawn parses its ELF image, builds a fresh address space and file
// table for it, links its syscall trampoline, and registers the
// resulting Process under a freshly allocated pid, adopted as a child
// of parent: resolve the image -> parse -> build VM -> relocate -> link
// syscalls -> build aux table -> build stack -> construct task -> derive
// file table -> allocate pid -> register -> adopt.
func DoSpawn(req Request, parent *proc.Process) (int, error) {
	elfBuf := req.ElfBuf
	if elfBuf == nil && req.Storage != nil {
		buf, err := loadELF(req.Storage, req.ElfPath)
		if err != nil {
			return 0, err
		}
		elfBuf = buf
	}

	img, err := elfimg.Parse(elfBuf)
	if err != nil {
		return 0, err
	}

	codeSeg, err := img.CodeSegment()
	if err != nil {
		return 0, err
	}
	dataSeg, err := img.DataSegment()
	if err != nil {
		return 0, err
	}

	codeEnd := procvm.AlignDown(dataSeg.MemAddr, dataSeg.MemAlign)
	dataEnd := procvm.AlignUp(dataSeg.MemAddr+dataSeg.MemSize, 4096)

	vm, err := procvm.New(codeEnd, dataEnd-codeEnd, DefaultHeapSize, DefaultStackSize, DefaultMmapSize)
	if err != nil {
		return 0, err
	}
	vm.Relayout(dataSeg.MemAddr, dataSeg.MemAlign, dataSeg.MemSize)

	base := vm.BaseAddr()
	codeRange := vm.CodeRange()
	dataRange := vm.DataRange()
	codeSeg.SetRuntimeInfo(base, codeRange.Start, codeRange.End)
	dataSeg.SetRuntimeInfo(base, dataRange.Start, dataRange.End)

	if err := codeSeg.LoadFromFile(vm, elfBuf); err != nil {
		return 0, err
	}
	if err := dataSeg.LoadFromFile(vm, elfBuf); err != nil {
		return 0, err
	}

	relaDyn, err := img.RelaEntries(".rela.dyn")
	if err != nil {
		return 0, err
	}
	if err := linker.RelocateDyn(vm, base, relaDyn); err != nil {
		return 0, err
	}

	relaPlt, err := img.RelaEntries(".rela.plt")
	if err != nil {
		return 0, err
	}
	dynsyms, err := img.DynsymEntries()
	if err != nil {
		return 0, err
	}
	rawElf, err := img.RawELF()
	if err != nil {
		return 0, err
	}
	if _, err := linker.LinkSyscalls(rawElf, vm, base, relaPlt, dynsyms); err != nil {
		return 0, err
	}

	entryOff, err := img.StartAddress()
	if err != nil {
		return 0, err
	}
	programEntry := base + entryOff
	if !codeRange.Contains(programEntry) {
		return 0, errno.New(errno.EINVAL, "program entry outside code range")
	}

	aux := initAuxTbl(base, programEntry, img)

	stackSp, err := initstack.BuildStack(vm, vm.StackTop(), req.Argv, req.Envp, aux)
	if err != nil {
		return 0, err
	}

	files, err := initFiles(parent, req.FileActions)
	if err != nil {
		return 0, err
	}

	pid := proc.AllocPid()
	child := &proc.Process{
		Pid:   pid,
		Ppid:  parent.Pid,
		Exec:  req.ElfPath,
		Files: files,
		VM:    vm,
		Task: &proc.Task{
			UserEntryAddr: programEntry,
			UserStackAddr: stackSp,
		},
		Rlimits: proc.NewRlimits(),
		Cwd:     fd.NewRootCwd(),
		Status:  proc.Running,
	}
	child.Cwd.Set(parent.Cwd.Get())
	child.Parent = parent

	proc.Put(child)
	parent.AdoptChild(pid)

	return pid, nil
}

// initAuxTbl builds the auxiliary vector: fixed identity/page-size
// values plus the program-header location and the rebased entry point.
func initAuxTbl(baseAddr, programEntry int, img *elfimg.Image) *initstack.AuxTable {
	aux := initstack.NewAuxTable()
	aux.SetVal(initstack.AT_PAGESZ, 4096)
	aux.SetVal(initstack.AT_UID, 0)
	aux.SetVal(initstack.AT_GID, 0)
	aux.SetVal(initstack.AT_EUID, 0)
	aux.SetVal(initstack.AT_EGID, 0)
	aux.SetVal(initstack.AT_SECURE, 0)

	if ph, err := img.ProgramHeaderInfo(); err == nil {
		aux.SetVal(initstack.AT_PHDR, uint64(baseAddr+ph.Addr))
		aux.SetVal(initstack.AT_PHENT, uint64(ph.EntrySize))
		aux.SetVal(initstack.AT_PHNUM, uint64(ph.EntryNum))
	}
	aux.SetVal(initstack.AT_ENTRY, uint64(programEntry))
	return aux
}

// initFiles builds the child's file table: a non-idle parent's file
// table is cloned and the requested file actions applied, then
// close-on-spawn entries swept; the idle process (pid 0) instead gets a
// fresh table synthesized with fd 0/1/2 bound to the host's own
// stdin/stdout, fd 2 a second handle onto the same stdout stream rather
// than an independent stderr.
func initFiles(parent *proc.Process, actions []FileAction) (*fd.Table, error) {
	if parent.Pid == 0 {
		return synthesizeStdFiles(), nil
	}

	files := parent.Files.Clone()
	for _, a := range actions {
		switch a.Kind {
		case ActionOpen:
			f, err := a.Open(a.Path, a.Oflag, a.Mode)
			if err != nil {
				return nil, err
			}
			files.PutAt(a.Fd, f, a.CloseOnSpawn)
		case ActionDup2:
			e, err := files.Get(a.OldFd)
			if err != nil {
				return nil, err
			}
			if a.OldFd != a.NewFd {
				files.PutAt(a.NewFd, e.File, false)
			}
		case ActionClose:
			files.Del(a.CloseFd) // closing an already-closed fd is not an error here
		}
	}
	files.CloseOnSpawnSweep()
	return files, nil
}

// synthesizeStdFiles builds the {0: stdin, 1: stdout, 2: stdout} table
// a process spawned straight from the idle process starts with, since
// it has no parent file table to clone.
func synthesizeStdFiles() *fd.Table {
	files := fd.NewTable()
	files.PutAt(0, fd.NewStdin(), false)
	files.PutAt(1, fd.NewStdout(), false)
	files.PutAt(2, fd.NewStdout(), false)
	return files
}
