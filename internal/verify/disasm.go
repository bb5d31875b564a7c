// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package verify provides post-link inspection of a produced image,
// independent of the linker core: a disassembly dump used to sanity
// check that relocations landed where they were meant to.
package verify

import (
	"debug/elf"
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"
)

// Disasm decodes every instruction in [start, start+len(code)) (code's
// addresses, as loaded at runtime) and writes one GNU-syntax line per
// instruction to w, resolving branch/call targets against symtab.
func Disasm(w io.Writer, code []byte, start uint64, symname func(uint64) (string, uint64)) error {
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			// Resynchronize on the next byte rather than aborting the
			// whole dump: a single misdecoded instruction (e.g. the
			// decoder disagreeing with data embedded in .text) should
			// not hide everything after it.
			fmt.Fprintf(w, "%#x\t(bad)\n", start)
			code = code[1:]
			start++
			continue
		}
		line := x86asm.GNUSyntax(inst, start, x86asm.SymLookup(symname))
		fmt.Fprintf(w, "%#x:\t%s\n", start, line)
		code = code[inst.Len:]
		start += uint64(inst.Len)
	}
	return nil
}

// DumpSection reads name (".text" or ".plt") out of an already-written
// ELF image and disassembles it, for the -disasm debug flag.
func DumpSection(w io.Writer, path, name string) error {
	f, err := elfOpen(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sec := f.Section(name)
	if sec == nil {
		return fmt.Errorf("section %s not present", name)
	}
	data, err := sec.Data()
	if err != nil {
		return err
	}

	syms, _ := f.Symbols()
	symname := func(addr uint64) (string, uint64) {
		for _, s := range syms {
			if s.Value == addr && elf.ST_TYPE(s.Info) == elf.STT_FUNC {
				return s.Name, addr
			}
		}
		return "", 0
	}

	return Disasm(w, data, sec.Addr, symname)
}

func elfOpen(path string) (*elf.File, error) {
	return elf.Open(path)
}
