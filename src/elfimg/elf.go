// Package elfimg parses a statically linked ELF executable and copies
// its loadable segments into a process address space. It combines
// debug/elf for section/program-header/dynamic-symbol access with
// manual encoding/binary decoding of the handful of fields debug/elf
// doesn't expose (program header offset, raw .rela section entries),
// the same combination small Go ELF loaders reach for when the
// standard library's view of the format is incomplete.
package elfimg

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"libos/src/errno"
	"libos/src/procvm"
)

// R_X86_64_RELATIVE is the only relocation type this loader honors.
const R_X86_64_RELATIVE = 8

const elf64PhdrSize = 56

// Segment is a PT_LOAD segment, with the runtime placement fields
// filled in once a ProcessVM has been allocated for it.
type Segment struct {
	FileOffset int
	FileSize   int
	MemAddr    int // p_vaddr
	MemSize    int // p_memsz
	MemAlign   int
	Flags      elf.ProgFlag

	ProcessBase  int
	RuntimeStart int
	RuntimeEnd   int
}

// SetRuntimeInfo records where this segment ends up once the owning
// ProcessVM has reserved address space for it.
func (s *Segment) SetRuntimeInfo(base, start, end int) {
	s.ProcessBase = base
	s.RuntimeStart = start
	s.RuntimeEnd = end
}

// LoadFromFile copies [FileOffset, FileOffset+FileSize) of the raw ELF
// image into [RuntimeStart, RuntimeStart+FileSize) of vm, zero-filling
// the remainder up to RuntimeEnd (the BSS tail). Requires
// RuntimeEnd-RuntimeStart >= MemSize.
func (s *Segment) LoadFromFile(vm *procvm.VM, elfBuf []byte) error {
	size := s.RuntimeEnd - s.RuntimeStart
	if size < s.MemSize {
		return errno.New(errno.ENOEXEC, "segment runtime extent smaller than p_memsz")
	}
	dst, err := vm.Slice(s.RuntimeStart, size)
	if err != nil {
		return err
	}
	if s.FileOffset+s.FileSize > len(elfBuf) {
		return errno.New(errno.ENOEXEC, "segment file range exceeds image size")
	}
	n := copy(dst, elfBuf[s.FileOffset:s.FileOffset+s.FileSize])
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// RelaEntry is one decoded Elf64_Rela record.
type RelaEntry struct {
	Offset   uint64
	SymIndex uint32
	Type     uint32
	Addend   int64
}

// ProgramHeaderInfo mirrors AuxTable inputs: the address,
// entry size, and entry count of the program header table, used to
// build AT_PHDR/AT_PHENT/AT_PHNUM.
type ProgramHeaderInfo struct {
	Addr      int
	EntrySize int
	EntryNum  int
}

// Image is a parsed, sanity-checked statically linked ELF executable.
type Image struct {
	raw  []byte
	f    *elf.File
	ehdr rawEhdr
}

type rawEhdr struct {
	phoff     uint64
	phentsize uint16
	phnum     uint16
}

// Parse decodes raw as an ELF image and sanity-checks its magic,
// 64-bit class, x86-64 machine, and executable or
// position-independent-executable type. Any structural failure is
// reported as ENOEXEC.
func Parse(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errno.New(errno.ENOEXEC, fmt.Sprintf("malformed ELF: %v", err))
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, errno.New(errno.ENOEXEC, "not a 64-bit ELF")
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, errno.New(errno.ENOEXEC, "not an x86-64 ELF")
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, errno.New(errno.ENOEXEC, "not an executable or PIE ELF")
	}

	ehdr, err := parseRawEhdr(raw)
	if err != nil {
		return nil, err
	}

	return &Image{raw: raw, f: f, ehdr: ehdr}, nil
}

// parseRawEhdr decodes the three Elf64_Ehdr fields debug/elf does not
// expose on File: e_phoff, e_phentsize, e_phnum.
func parseRawEhdr(raw []byte) (rawEhdr, error) {
	const ehdrSize = 64
	if len(raw) < ehdrSize {
		return rawEhdr{}, errno.New(errno.ENOEXEC, "ELF header truncated")
	}
	if !bytes.Equal(raw[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return rawEhdr{}, errno.New(errno.ENOEXEC, "bad ELF magic")
	}
	return rawEhdr{
		phoff:     binary.LittleEndian.Uint64(raw[32:40]),
		phentsize: binary.LittleEndian.Uint16(raw[54:56]),
		phnum:     binary.LittleEndian.Uint16(raw[56:58]),
	}, nil
}

func (img *Image) loadSegments() []*elf.Prog {
	var loads []*elf.Prog
	for _, p := range img.f.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	return loads
}

// CodeSegment returns the lowest-address non-writable PT_LOAD segment.
func (img *Image) CodeSegment() (*Segment, error) {
	return img.findLoad(false)
}

// DataSegment returns the writable PT_LOAD segment.
func (img *Image) DataSegment() (*Segment, error) {
	return img.findLoad(true)
}

func (img *Image) findLoad(writable bool) (*Segment, error) {
	loads := img.loadSegments()
	if len(loads) != 2 {
		return nil, errno.New(errno.ENOEXEC, "expected exactly two PT_LOAD segments")
	}
	var best *elf.Prog
	for _, p := range loads {
		isW := p.Flags&elf.PF_W != 0
		if isW != writable {
			continue
		}
		if best == nil || p.Vaddr < best.Vaddr {
			best = p
		}
	}
	if best == nil {
		return nil, errno.New(errno.ENOEXEC, "missing expected PT_LOAD segment")
	}
	return &Segment{
		FileOffset: int(best.Off),
		FileSize:   int(best.Filesz),
		MemAddr:    int(best.Vaddr),
		MemSize:    int(best.Memsz),
		MemAlign:   int(best.Align),
		Flags:      best.Flags,
	}, nil
}

// StartAddress returns the ELF entry point (e_entry), not yet rebased
// by the process's base address.
func (img *Image) StartAddress() (int, error) {
	if img.f.Entry == 0 {
		return 0, errno.New(errno.ENOEXEC, "zero entry point")
	}
	return int(img.f.Entry), nil
}

// ProgramHeaderInfo returns the address, entry size, and entry count
// of the program header table.
func (img *Image) ProgramHeaderInfo() (ProgramHeaderInfo, error) {
	if img.ehdr.phentsize != elf64PhdrSize {
		return ProgramHeaderInfo{}, errno.New(errno.ENOEXEC, "unexpected program header entry size")
	}
	return ProgramHeaderInfo{
		Addr:      int(img.ehdr.phoff),
		EntrySize: int(img.ehdr.phentsize),
		EntryNum:  int(img.ehdr.phnum),
	}, nil
}

// RelaEntries decodes the Elf64_Rela array in the named section
// (".rela.dyn" or ".rela.plt"). A missing section yields an empty,
// non-error result — a statically linked binary may have no PLT
// relocations at all.
func (img *Image) RelaEntries(sectionName string) ([]RelaEntry, error) {
	sec := img.f.Section(sectionName)
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, errno.New(errno.ENOEXEC, fmt.Sprintf("failed to read %s", sectionName))
	}
	const relaSize = 24
	if len(data)%relaSize != 0 {
		return nil, errno.New(errno.ENOEXEC, fmt.Sprintf("%s has invalid size", sectionName))
	}
	n := len(data) / relaSize
	out := make([]RelaEntry, 0, n)
	for i := 0; i < n; i++ {
		rec := data[i*relaSize : (i+1)*relaSize]
		offset := binary.LittleEndian.Uint64(rec[0:8])
		info := binary.LittleEndian.Uint64(rec[8:16])
		addend := int64(binary.LittleEndian.Uint64(rec[16:24]))
		out = append(out, RelaEntry{
			Offset:   offset,
			SymIndex: uint32(info >> 32),
			Type:     uint32(info & 0xffffffff),
			Addend:   addend,
		})
	}
	return out, nil
}

// RawELF exposes the underlying debug/elf handle, for callers (linker)
// that need section-level access this package doesn't otherwise wrap.
func (img *Image) RawELF() (*elf.File, error) {
	return img.f, nil
}

// DynsymEntries returns the dynamic symbol table, indexed by ELF
// symbol index: entry 0 is the null symbol, so a RelaEntry's SymIndex
// selects its symbol directly.
func (img *Image) DynsymEntries() ([]elf.Symbol, error) {
	syms, err := img.f.DynamicSymbols()
	if err != nil {
		// No dynamic symbol table is a structural problem only if a
		// .rela.plt entry later tries to index into it; an empty table
		// is otherwise fine for a binary with no PLT relocations.
		return nil, nil
	}
	// debug/elf drops the null symbol at index 0; put it back.
	return append([]elf.Symbol{{}}, syms...), nil
}
