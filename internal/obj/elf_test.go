// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"encoding/binary"
	"testing"
)

func TestRelocWidth(t *testing.T) {
	cases := []struct {
		typ  RelocType
		want int
	}{
		{R_X86_64_NONE, 0},
		{R_X86_64_64, 8},
		{R_X86_64_PC32, 4},
		{R_X86_64_PLT32, 4},
		{R_X86_64_GOTPCREL, 4},
		{R_X86_64_32, 4},
		{R_X86_64_32S, 4},
		{R_X86_64_PC64, 8},
		{RelocType(999), -1},
	}
	for _, c := range cases {
		if got := c.typ.Width(); got != c.want {
			t.Errorf("%v.Width() = %d, want %d", c.typ, got, c.want)
		}
	}
}

func TestRelocTypeString(t *testing.T) {
	if s := R_X86_64_PLT32.String(); s != "R_X86_64_PLT32" {
		t.Errorf("String() = %q", s)
	}
	if s := RelocType(999).String(); s == "" {
		t.Error("unknown RelocType must still stringify to something non-empty")
	}
}

func TestConvertSymUndef(t *testing.T) {
	esym := elf.Symbol{Name: "puts", Info: uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_FUNC), Section: elf.SHN_UNDEF}
	s := convertSym(esym)
	if s.Kind != KindUndef {
		t.Errorf("Kind = %v, want KindUndef", s.Kind)
	}
	if s.Binding != BindGlobal || s.Type != TypeFunc {
		t.Errorf("Binding=%v Type=%v", s.Binding, s.Type)
	}
}

func TestConvertSymCommon(t *testing.T) {
	esym := elf.Symbol{
		Name:    "counter",
		Info:    uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_OBJECT),
		Section: elf.SHN_COMMON,
		Value:   16, // alignment, per SHN_COMMON convention
		Size:    4,
	}
	s := convertSym(esym)
	if s.Kind != KindCommon {
		t.Fatalf("Kind = %v, want KindCommon", s.Kind)
	}
	if s.Align != 16 || s.Size != 4 {
		t.Errorf("Align=%d Size=%d, want Align=16 Size=4", s.Align, s.Size)
	}
}

func TestConvertSymAbsolute(t *testing.T) {
	esym := elf.Symbol{
		Name:    "__bss_start",
		Info:    uint8(elf.STB_GLOBAL)<<4 | uint8(elf.STT_NOTYPE),
		Section: elf.SHN_ABS,
		Value:   0x1234,
	}
	s := convertSym(esym)
	if s.Kind != KindAbsolute || s.Value != 0x1234 {
		t.Errorf("Kind=%v Value=%#x, want KindAbsolute Value=0x1234", s.Kind, s.Value)
	}
}

func TestConvertSymWeakDefined(t *testing.T) {
	esym := elf.Symbol{
		Name:    "weak_fn",
		Info:    uint8(elf.STB_WEAK)<<4 | uint8(elf.STT_FUNC),
		Section: 3,
		Value:   0x10,
	}
	s := convertSym(esym)
	if s.Kind != KindDefined || s.Binding != BindWeak {
		t.Errorf("Kind=%v Binding=%v, want KindDefined BindWeak", s.Kind, s.Binding)
	}
	if s.Section != 3 {
		t.Errorf("Section = %d, want the raw section index 3 (rewritten to 0-based later by ParseObject)", s.Section)
	}
}

func TestDecodeRela(t *testing.T) {
	// Two Elf64_Rela entries: one against symtab index 1 (sym field
	// shifted down by one to index 0 in the post-elf.Symbols() slice),
	// one R_X86_64_NONE against the null symbol.
	buf := make([]byte, 48)
	addend := int64(-4)
	binary.LittleEndian.PutUint64(buf[0:], 0x10)                                          // r_offset
	binary.LittleEndian.PutUint64(buf[8:], uint64(1)<<32|uint64(R_X86_64_PC32))           // r_info
	binary.LittleEndian.PutUint64(buf[16:], uint64(addend))                                // r_addend
	binary.LittleEndian.PutUint64(buf[24:], 0x20)                                          // r_offset
	binary.LittleEndian.PutUint64(buf[32:], uint64(0)<<32|uint64(R_X86_64_NONE))           // r_info
	binary.LittleEndian.PutUint64(buf[40:], 0)                                             // r_addend

	relocs, err := decodeRela(buf, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if len(relocs) != 2 {
		t.Fatalf("got %d relocs, want 2", len(relocs))
	}
	if relocs[0].Sym != 0 || relocs[0].Type != R_X86_64_PC32 || relocs[0].Addend != -4 {
		t.Errorf("relocs[0] = %+v", relocs[0])
	}
	if relocs[1].Sym != -1 {
		t.Errorf("relocs[1].Sym = %d, want -1 for the null symbol", relocs[1].Sym)
	}
}

func TestDecodeRelaTruncated(t *testing.T) {
	if _, err := decodeRela(make([]byte, 10), binary.LittleEndian); err == nil {
		t.Error("want an error for a relocation section whose length isn't a multiple of 24")
	}
}

func TestCheckHeaderRejectsWrongMachine(t *testing.T) {
	ef := &elf.File{
		FileHeader: elf.FileHeader{
			Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Version: elf.EV_CURRENT,
			Machine: elf.EM_ARM,
		},
	}
	if err := checkHeader(ef); err == nil {
		t.Error("want an error for a non-x86-64 machine")
	}
}

func TestCheckHeaderRejects32Bit(t *testing.T) {
	ef := &elf.File{
		FileHeader: elf.FileHeader{
			Class: elf.ELFCLASS32, Data: elf.ELFDATA2LSB, Version: elf.EV_CURRENT,
			Machine: elf.EM_X86_64,
		},
	}
	if err := checkHeader(ef); err == nil {
		t.Error("want an error for ELFCLASS32")
	}
}

func TestCheckHeaderAcceptsValid(t *testing.T) {
	ef := &elf.File{
		FileHeader: elf.FileHeader{
			Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, Version: elf.EV_CURRENT,
			Machine: elf.EM_X86_64,
		},
	}
	if err := checkHeader(ef); err != nil {
		t.Errorf("want a valid header to be accepted, got %v", err)
	}
}
