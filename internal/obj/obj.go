// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj parses x86-64 ELF64 relocatable and shared object files
// into the in-memory form the linker operates on.
package obj

import (
	"debug/elf"
	"fmt"

	"github.com/jiegec/cold/internal/arch"
)

// Binding is a symbol's linkage binding.
type Binding uint8

const (
	BindLocal Binding = iota
	BindGlobal
	BindWeak
)

// Kind classifies what a Sym refers to.
type Kind uint8

const (
	KindUndef Kind = iota
	KindDefined
	KindCommon
	KindAbsolute
)

func (k Kind) String() string {
	switch k {
	case KindUndef:
		return "undefined"
	case KindDefined:
		return "defined"
	case KindCommon:
		return "common"
	case KindAbsolute:
		return "absolute"
	}
	return "?"
}

// SymType is the ELF symbol type (STT_*) relevant to linking.
type SymType uint8

const (
	TypeNoType SymType = iota
	TypeObject
	TypeFunc
	TypeSection
)

// Sym is one entry from an object's symbol table, still expressed in
// terms of that object's own section indices.
type Sym struct {
	Name    string
	Binding Binding
	Kind    Kind
	Type    SymType
	Size    uint64
	// Section is the index into InputObject.Sections this symbol is
	// defined in, or -1 if Kind is not KindDefined.
	Section int
	// Value is the symbol's offset within Section (for KindDefined)
	// or its absolute value (for KindAbsolute).
	Value uint64
	Align uint64 // for KindCommon, required alignment
}

// RelocType is an x86-64 relocation type (R_X86_64_*).
type RelocType int

// Width reports the byte width of the fixup this relocation type
// writes, or -1 if the type is not one of the R_X86_64_* types this
// package lists. Dynamic-only types report the width of the word the
// loader patches (R_X86_64_COPY reports 0).
func (t RelocType) Width() int {
	w, ok := relocWidths[t]
	if !ok {
		return -1
	}
	return w
}

func (t RelocType) String() string {
	if s, ok := relocNames[t]; ok {
		return s
	}
	return fmt.Sprintf("R_X86_64_unknown(%d)", int(t))
}

const (
	R_X86_64_NONE      RelocType = 0
	R_X86_64_64        RelocType = 1
	R_X86_64_PC32      RelocType = 2
	R_X86_64_GOT32     RelocType = 3
	R_X86_64_PLT32     RelocType = 4
	R_X86_64_COPY      RelocType = 5
	R_X86_64_GLOB_DAT  RelocType = 6
	R_X86_64_JUMP_SLOT RelocType = 7
	R_X86_64_RELATIVE  RelocType = 8
	R_X86_64_GOTPCREL  RelocType = 9
	R_X86_64_32        RelocType = 10
	R_X86_64_32S       RelocType = 11
	R_X86_64_PC64      RelocType = 24
)

var relocWidths = map[RelocType]int{
	R_X86_64_NONE:      0,
	R_X86_64_64:        8,
	R_X86_64_PC32:      4,
	R_X86_64_GOT32:     4,
	R_X86_64_PLT32:     4,
	R_X86_64_COPY:      0,
	R_X86_64_GLOB_DAT:  8,
	R_X86_64_JUMP_SLOT: 8,
	R_X86_64_RELATIVE:  8,
	R_X86_64_GOTPCREL:  4,
	R_X86_64_32:        4,
	R_X86_64_32S:       4,
	R_X86_64_PC64:      8,
}

var relocNames = map[RelocType]string{
	R_X86_64_NONE:      "R_X86_64_NONE",
	R_X86_64_64:        "R_X86_64_64",
	R_X86_64_PC32:      "R_X86_64_PC32",
	R_X86_64_GOT32:     "R_X86_64_GOT32",
	R_X86_64_PLT32:     "R_X86_64_PLT32",
	R_X86_64_COPY:      "R_X86_64_COPY",
	R_X86_64_GLOB_DAT:  "R_X86_64_GLOB_DAT",
	R_X86_64_JUMP_SLOT: "R_X86_64_JUMP_SLOT",
	R_X86_64_RELATIVE:  "R_X86_64_RELATIVE",
	R_X86_64_GOTPCREL:  "R_X86_64_GOTPCREL",
	R_X86_64_32:        "R_X86_64_32",
	R_X86_64_32S:       "R_X86_64_32S",
	R_X86_64_PC64:      "R_X86_64_PC64",
}

// Reloc is one fixup recorded against an InputSection.
type Reloc struct {
	Offset uint64 // byte offset within the enclosing InputSection
	Type   RelocType
	Sym    int // index into the owning InputObject's Syms
	Addend int64
}

// InputSection is one section of one relocatable object.
type InputSection struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Align uint64
	Size  uint64
	// Data holds the section's file contents. It is nil for
	// SHT_NOBITS (.bss-like) sections, which occupy memory but
	// contribute no file bytes.
	Data   []byte
	Relocs []Reloc
}

func (s *InputSection) IsAlloc() bool  { return s.Flags&elf.SHF_ALLOC != 0 }
func (s *InputSection) IsExec() bool   { return s.Flags&elf.SHF_EXECINSTR != 0 }
func (s *InputSection) IsWrite() bool  { return s.Flags&elf.SHF_WRITE != 0 }
func (s *InputSection) IsNobits() bool { return s.Type == elf.SHT_NOBITS }

// InputObject is one parsed relocatable (ET_REL) ELF object.
type InputObject struct {
	Path     string
	Arch     *arch.Arch
	Sections []*InputSection
	Syms     []Sym
}

// ExportedSym is what the linker needs to know about one dynamic
// symbol a dependency exports: whether a direct (non-PLT) reference to
// it must become a copy relocation, and if so how large the copy is.
type ExportedSym struct {
	Size uint64
	Func bool
}

// InputSharedObject is one parsed ET_DYN dependency resolved via -l/-L
// or given positionally.
type InputSharedObject struct {
	Path   string
	SOName string
	// Exported maps every global/weak defined dynamic symbol name this
	// shared object exports to what the linker needs to know about it.
	Exported map[string]ExportedSym
}

// BadInput reports a malformed or unsupported input file, per
// spec.md §7.
type BadInput struct {
	Path string
	Err  error
}

func (e *BadInput) Error() string { return fmt.Sprintf("%s: %s", e.Path, e.Err) }
func (e *BadInput) Unwrap() error { return e.Err }
