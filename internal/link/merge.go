// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"
	"sort"

	"github.com/jiegec/cold/internal/obj"
)

// outputSection is one section of the image being built: either the
// merged concatenation of same-named input sections (spec.md §4.3) or
// a section synthesized by the linker itself (.dynsym, .got, ...).
type outputSection struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Align uint64

	Addr   uint64 // assigned during layout
	Offset uint64 // assigned during layout
	Size   uint64

	// Data holds the final section bytes once mergeSections/layout have
	// run. Synthesized sections fill this in their own builder; it
	// stays nil for SHT_NOBITS.
	Data []byte

	synthesized bool
	entsize     uint64
	link        *outputSection // sh_link target, set by the writer pass
	info        uint32

	// Index is this section's 1-based index into the section header
	// table, assigned by layout in final section order (0 is reserved
	// for the implicit null section).
	Index int

	// nameOff is this section's byte offset into .shstrtab, assigned
	// by buildShstrtab.
	nameOff uint32
}

// classify maps an input section name to the output section it
// contributes to, per spec.md §4.3's name-prefix rule. Sections with
// no home in the output image (debug info, comments, build notes) are
// reported via ok=false and dropped; they carry no runtime semantics
// this linker is asked to preserve.
func classify(name string) (outName string, ok bool) {
	switch {
	case name == ".text" || hasPrefix(name, ".text."):
		return ".text", true
	case name == ".rodata" || hasPrefix(name, ".rodata."):
		return ".rodata", true
	case name == ".data.rel.ro" || hasPrefix(name, ".data.rel.ro."):
		return ".data.rel.ro", true
	case name == ".data" || hasPrefix(name, ".data."):
		return ".data", true
	case name == ".bss" || hasPrefix(name, ".bss."):
		return ".bss", true
	case name == ".init_array" || hasPrefix(name, ".init_array."):
		return ".init_array", true
	case name == ".fini_array" || hasPrefix(name, ".fini_array."):
		return ".fini_array", true
	default:
		return "", false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// sectionOrder fixes the order output sections appear in within their
// segment; anything not listed here (there is nothing else reachable
// through classify) is left out by orderedUserSections.
var sectionOrder = map[string]int{
	".text":        0,
	".rodata":      1,
	".init_array":  2,
	".fini_array":  3,
	".data.rel.ro": 4,
	".data":        5,
	".bss":         6,
}

// mergeSections implements spec.md §4.3: input sections are grouped by
// output name, in command-line order across objects and section-header
// order within an object, and each contribution's offset is the
// running cursor bumped up to the section's own alignment.
func (l *linker) mergeSections() error {
	for _, o := range l.objects {
		for _, is := range o.Sections {
			if !is.IsAlloc() {
				continue // debug info, .comment, etc.: no home, dropped
			}
			outName, ok := classify(is.Name)
			if !ok {
				continue
			}
			out := l.getOrMakeSection(outName, is)
			cursor := alignUp(out.Size, maxu64(is.Align, 1))
			l.contribOf[is] = &contribLoc{sec: out, offset: cursor}
			if is.IsNobits() {
				out.Size = cursor + is.Size
			} else {
				if n := cursor + is.Size; n > uint64(len(out.Data)) {
					grown := make([]byte, n)
					copy(grown, out.Data)
					out.Data = grown
				}
				copy(out.Data[cursor:], is.Data)
				out.Size = cursor + is.Size
			}
			if is.Align > out.Align {
				out.Align = is.Align
			}
		}
	}

	l.finalizeCommons()
	return nil
}

func (l *linker) getOrMakeSection(name string, proto *obj.InputSection) *outputSection {
	if s, ok := l.outSecByName[name]; ok {
		return s
	}
	typ := proto.Type
	if typ == elf.SHT_NOBITS && name != ".bss" {
		typ = elf.SHT_PROGBITS
	}
	s := &outputSection{Name: name, Type: typ, Flags: proto.Flags & (elf.SHF_ALLOC | elf.SHF_WRITE | elf.SHF_EXECINSTR), Align: 1}
	l.outSecByName[name] = s
	l.outSecs = append(l.outSecs, s)
	return s
}

// finalizeCommons appends one allocation per still-tentative COMMON
// symbol to .bss, in sorted-name order for determinism, recording each
// allocation's offset in l.commonOffset. Entries stay KindCommon in
// the global symbol table; every consumer that needs their final
// address (reloc.go, layout.go, dynamic_finalize.go) special-cases
// KindCommon and looks it up via l.commonOffset rather than treating
// it as an ordinary definition (spec.md §4.4's COMMON handling).
func (l *linker) finalizeCommons() {
	names := l.syms.Names()

	bss := l.outSecByName[".bss"]
	for _, n := range names {
		e, _ := l.syms.Lookup(n)
		if !e.IsCommon() {
			continue
		}
		if bss == nil {
			bss = &outputSection{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 1}
			l.outSecByName[".bss"] = bss
			l.outSecs = append(l.outSecs, bss)
		}
		align := e.Align
		if align == 0 {
			align = 1
		}
		off := alignUp(bss.Size, align)
		bss.Size = off + e.Size
		if align > bss.Align {
			bss.Align = align
		}
		l.commonOffset[n] = off
	}
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// orderedUserSections returns the merged user sections named in
// sectionOrder, sorted by that order. Synthesized dynamic-linking
// sections and any section not in sectionOrder are not included.
func (l *linker) orderedUserSections() []*outputSection {
	var out []*outputSection
	for _, s := range l.outSecs {
		if _, ok := sectionOrder[s.Name]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return sectionOrder[out[i].Name] < sectionOrder[out[j].Name] })
	return out
}
