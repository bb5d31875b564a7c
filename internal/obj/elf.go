// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jiegec/cold/internal/arch"
)

// ParseObject parses r as a relocatable (ET_REL) x86-64 ELF64 object,
// per spec.md §4.1. It rejects anything that disagrees with the class,
// data encoding, version, or machine the linker supports.
func ParseObject(path string, r io.ReaderAt) (*InputObject, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, &BadInput{path, err}
	}
	if err := checkHeader(ef); err != nil {
		return nil, &BadInput{path, err}
	}
	if ef.Type != elf.ET_REL {
		return nil, &BadInput{path, fmt.Errorf("not a relocatable object (e_type=%s)", ef.Type)}
	}

	o := &InputObject{Path: path, Arch: arch.AMD64}

	// Keep the section slice 1:1 with the file's own table (index 0 is
	// always SHN_UNDEF) so that sh_link/sh_info values from relocation
	// sections don't need translation.
	bySection := make([]*InputSection, len(ef.Sections))
	for i, s := range ef.Sections {
		if i == 0 {
			continue
		}
		is := &InputSection{
			Name:  s.Name,
			Type:  s.Type,
			Flags: s.Flags,
			Align: s.Addralign,
			Size:  s.Size,
		}
		if s.Type != elf.SHT_NOBITS && s.Type != elf.SHT_NULL &&
			s.Type != elf.SHT_RELA && s.Type != elf.SHT_REL {
			data, err := s.Data()
			if err != nil {
				return nil, &BadInput{path, fmt.Errorf("section %s: %w", s.Name, err)}
			}
			is.Data = data
		}
		bySection[i] = is
	}

	syms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, &BadInput{path, err}
	}
	o.Syms = make([]Sym, len(syms))
	for i, esym := range syms {
		o.Syms[i] = convertSym(esym)
	}

	// Decode relocation sections and attach them to the section they
	// apply to (sh_info).
	for _, s := range ef.Sections {
		if s.Type != elf.SHT_RELA {
			if s.Type == elf.SHT_REL {
				return nil, &BadInput{path, fmt.Errorf("section %s: SHT_REL is unsupported on x86-64 (expected SHT_RELA)", s.Name)}
			}
			continue
		}
		if int(s.Info) <= 0 || int(s.Info) >= len(bySection) || bySection[s.Info] == nil {
			return nil, &BadInput{path, fmt.Errorf("relocation section %s: malformed sh_info=%d", s.Name, s.Info)}
		}
		data, err := s.Data()
		if err != nil {
			return nil, &BadInput{path, fmt.Errorf("section %s: %w", s.Name, err)}
		}
		relocs, err := decodeRela(data, ef.ByteOrder)
		if err != nil {
			return nil, &BadInput{path, fmt.Errorf("section %s: %w", s.Name, err)}
		}
		target := bySection[s.Info]
		target.Relocs = append(target.Relocs, relocs...)
	}

	for i, s := range bySection {
		if i == 0 {
			continue
		}
		o.Sections = append(o.Sections, s)
	}

	// Symbol.Section values from convertSym are raw ELF section
	// indices; rewrite them to 0-based indices into o.Sections.
	for i := range o.Syms {
		if o.Syms[i].Kind == KindDefined {
			o.Syms[i].Section--
		}
	}

	return o, nil
}

func checkHeader(ef *elf.File) error {
	if ef.Class != elf.ELFCLASS64 {
		return fmt.Errorf("unsupported ELF class %s (only ELFCLASS64 is supported)", ef.Class)
	}
	if ef.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("unsupported ELF data encoding %s (only little-endian is supported)", ef.Data)
	}
	if ef.Version != elf.EV_CURRENT {
		return fmt.Errorf("unsupported ELF version %d", ef.Version)
	}
	if ef.Machine != elf.EM_X86_64 {
		return fmt.Errorf("unsupported machine %s (only x86-64 is supported)", ef.Machine)
	}
	return nil
}

func convertSym(esym elf.Symbol) Sym {
	s := Sym{
		Name:    esym.Name,
		Size:    esym.Size,
		Section: -1, // set below for KindDefined only
	}
	switch elf.ST_BIND(esym.Info) {
	case elf.STB_LOCAL:
		s.Binding = BindLocal
	case elf.STB_WEAK:
		s.Binding = BindWeak
	default:
		s.Binding = BindGlobal
	}
	switch elf.ST_TYPE(esym.Info) {
	case elf.STT_FUNC:
		s.Type = TypeFunc
	case elf.STT_OBJECT:
		s.Type = TypeObject
	case elf.STT_SECTION:
		s.Type = TypeSection
	default:
		s.Type = TypeNoType
	}
	switch esym.Section {
	case elf.SHN_UNDEF:
		s.Kind = KindUndef
	case elf.SHN_ABS:
		s.Kind = KindAbsolute
		s.Value = esym.Value
	case elf.SHN_COMMON:
		s.Kind = KindCommon
		s.Align = esym.Value // for SHN_COMMON, st_value holds the alignment
	default:
		s.Kind = KindDefined
		s.Section = int(esym.Section) // rewritten to 0-based by the caller
		s.Value = esym.Value
	}
	return s
}

// decodeRela decodes an SHT_RELA section's contents into Relocs whose
// Sym field indexes the same Syms slice that elf.File.Symbols()
// produces (i.e. shifted down by one from the raw symtab index, which
// always carries an implicit null entry at 0).
func decodeRela(data []byte, o binary.ByteOrder) ([]Reloc, error) {
	const entSize = 24 // sizeof(Elf64_Rela)
	if len(data)%entSize != 0 {
		return nil, fmt.Errorf("truncated relocation section (%d bytes)", len(data))
	}
	out := make([]Reloc, 0, len(data)/entSize)
	for len(data) >= entSize {
		off := o.Uint64(data)
		info := o.Uint64(data[8:])
		addend := int64(o.Uint64(data[16:]))
		data = data[entSize:]

		rawSym := uint32(info >> 32)
		typ := RelocType(uint32(info))
		symIdx := -1
		if rawSym != 0 {
			symIdx = int(rawSym) - 1
		}
		out = append(out, Reloc{Offset: off, Type: typ, Sym: symIdx, Addend: addend})
	}
	return out, nil
}
