// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"

	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

const (
	ehsize    = 64
	phentsize = 56
	shentsize = 64
)

// segment is one program header entry, covering a contiguous run of
// output sections.
type segment struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Addr  uint64
	Offset uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// rxOrder and rwOrder fix the within-segment order of recognized
// section names; a section not listed would not be placed at all, but
// every section reachable through classify/planDynamic appears in one
// of the two lists.
var rxOrder = []string{".interp", ".hash", ".gnu.hash", ".dynsym", ".dynstr", ".rela.dyn", ".rela.plt", ".plt", ".text", ".rodata"}
var rwOrder = []string{".init_array", ".fini_array", ".data.rel.ro", ".dynamic", ".got", ".got.plt", ".data", ".bss"}

// layout implements spec.md §4.5: it walks the fixed section order,
// assigning each a page-consistent (Addr, Offset) pair, then derives
// the PT_LOAD/PT_INTERP/PT_DYNAMIC/PT_PHDR segments that cover them.
func (l *linker) layout() error {
	if l.dyn != nil {
		l.sizeDynamicSections()
	}

	numPhdrs := 1 // PT_PHDR
	numPhdrs++     // PT_LOAD for the R-X segment
	hasRW := l.anyPresent(rwOrder)
	if hasRW {
		numPhdrs++ // PT_LOAD for the RW segment
	}
	if l.outSecByName[".interp"] != nil {
		numPhdrs++
	}
	if l.dyn != nil {
		numPhdrs++ // PT_DYNAMIC
	}

	headerSize := uint64(ehsize + numPhdrs*phentsize)
	cursor := headerSize

	rxStart := cursor
	for _, name := range rxOrder {
		sec, ok := l.outSecByName[name]
		if !ok {
			continue
		}
		cursor = l.placeSection(sec, cursor)
		l.appendSH(sec)
	}
	rxEnd := cursor

	var rwStart, rwFileEnd, rwMemEnd uint64
	if hasRW {
		cursor = alignUp(cursor, pageSize)
		rwStart = cursor
		for _, name := range rwOrder {
			sec, ok := l.outSecByName[name]
			if !ok || sec.Name == ".bss" {
				continue
			}
			cursor = l.placeSection(sec, cursor)
			l.appendSH(sec)
		}
		rwFileEnd = cursor
		rwMemEnd = rwFileEnd
		if bss, ok := l.outSecByName[".bss"]; ok {
			addr := alignUp(l.baseAddr+cursor, maxu64(bss.Align, 1)) - l.baseAddr
			bss.Offset = cursor // informational only; NOBITS carries no file bytes
			bss.Addr = l.baseAddr + addr
			rwMemEnd = addr + bss.Size
			l.appendSH(bss)
		}
	}

	// Non-alloc sections (symbol/string tables, then the section name
	// string table) follow, at their own file offsets with no VA.
	l.buildSymtab()
	cursor = alignUp(cursor, 1)
	for _, sec := range []*outputSection{l.outSecByName[".symtab"], l.outSecByName[".strtab"]} {
		if sec == nil {
			continue
		}
		cursor = alignUp(cursor, maxu64(sec.Align, 1))
		sec.Offset = cursor
		cursor += sec.Size
		l.appendSH(sec)
	}
	shstrtab := l.buildShstrtab()
	cursor = alignUp(cursor, maxu64(shstrtab.Align, 1))
	shstrtab.Offset = cursor
	cursor += shstrtab.Size
	l.appendSH(shstrtab)
	l.outSecByName[".shstrtab"] = shstrtab
	shoff := alignUp(cursor, 8)

	_ = rxStart
	l.segments = append(l.segments, segment{Type: elf.PT_PHDR, Flags: elf.PF_R, Addr: l.baseAddr + ehsize, Offset: ehsize, FileSize: uint64(numPhdrs) * phentsize, MemSize: uint64(numPhdrs) * phentsize, Align: 8})
	l.segments = append(l.segments, segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Addr: l.baseAddr, Offset: 0, FileSize: rxEnd, MemSize: rxEnd, Align: pageSize})
	if hasRW {
		l.segments = append(l.segments, segment{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Addr: l.baseAddr + rwStart, Offset: rwStart, FileSize: rwFileEnd - rwStart, MemSize: rwMemEnd - rwStart, Align: pageSize})
	}
	if interp, ok := l.outSecByName[".interp"]; ok {
		l.segments = append(l.segments, segment{Type: elf.PT_INTERP, Flags: elf.PF_R, Addr: interp.Addr, Offset: interp.Offset, FileSize: interp.Size, MemSize: interp.Size, Align: 1})
	}
	if l.dyn != nil {
		dynamicSec := l.outSecByName[".dynamic"]
		l.segments = append(l.segments, segment{Type: elf.PT_DYNAMIC, Flags: elf.PF_R | elf.PF_W, Addr: dynamicSec.Addr, Offset: dynamicSec.Offset, FileSize: dynamicSec.Size, MemSize: dynamicSec.Size, Align: 8})
	}

	l.shoff = shoff
	return nil
}

func (l *linker) anyPresent(names []string) bool {
	for _, n := range names {
		if _, ok := l.outSecByName[n]; ok && n != ".bss" {
			return true
		}
		if n == ".bss" {
			if _, ok := l.outSecByName[n]; ok {
				return true
			}
		}
	}
	return false
}

// appendSH records sec's position in the final section header table.
func (l *linker) appendSH(sec *outputSection) {
	l.shOrder = append(l.shOrder, sec)
	sec.Index = len(l.shOrder)
}

// buildShstrtab emits the section header string table covering every
// section name (plus itself), and returns it so the caller can place
// it like any other non-alloc section.
func (l *linker) buildShstrtab() *outputSection {
	str := newStrtabBuilder()
	for _, sec := range l.shOrder {
		sec.nameOff = str.add(sec.Name)
	}
	shstrtab := &outputSection{Name: ".shstrtab", Type: elf.SHT_STRTAB, Align: 1, synthesized: true}
	shstrtab.nameOff = str.add(shstrtab.Name)
	shstrtab.Data = str.bytes
	shstrtab.Size = uint64(len(shstrtab.Data))
	return shstrtab
}

// placeSection assigns sec its (Addr, Offset) at the next position
// satisfying sec.Align, then returns the advanced file cursor.
func (l *linker) placeSection(sec *outputSection, cursor uint64) uint64 {
	cursor = alignUp(cursor, maxu64(sec.Align, 1))
	sec.Offset = cursor
	sec.Addr = l.baseAddr + cursor
	return cursor + sec.Size
}

// buildSymtab emits a conventional .symtab/.strtab pair covering every
// global/weak definition the link settled on, for post-link inspection
// (nm/readelf/gdb), per spec.md §4.8.
func (l *linker) buildSymtab() {
	str := newStrtabBuilder()
	type entry struct {
		nameOff uint32
		info    uint8
		shndx   uint16
		value   uint64
		size    uint64
	}
	var entries []entry
	entries = append(entries, entry{}) // STN_UNDEF

	for _, name := range l.syms.Names() {
		e, _ := l.syms.Lookup(name)
		var shndx uint16
		var value uint64
		switch e.Kind {
		case symtab.KindExternal, symtab.KindUndef:
			continue
		case symtab.KindAbsolute:
			shndx = uint16(elf.SHN_ABS)
			value = l.objects[e.ObjIdx].Syms[e.SymIdx].Value
		case symtab.KindCommon:
			bss := l.outSecByName[".bss"]
			if bss == nil {
				continue
			}
			shndx = uint16(bss.Index)
			value = bss.Addr + l.commonOffset[name]
		default:
			asym := l.objects[e.ObjIdx].Syms[e.SymIdx]
			sec := l.objects[e.ObjIdx].Sections[asym.Section]
			loc := l.contribOf[sec]
			if loc == nil {
				continue
			}
			shndx = uint16(loc.sec.Index)
			value = loc.sec.Addr + loc.offset + asym.Value
		}
		bind := elf.STB_GLOBAL
		if e.Binding == obj.BindWeak {
			bind = elf.STB_WEAK
		}
		entries = append(entries, entry{
			nameOff: str.add(name),
			info:    uint8(bind)<<4 | uint8(elf.STT_NOTYPE),
			shndx:   shndx,
			value:   value,
			size:    e.Size,
		})
	}

	symtabSec := &outputSection{Name: ".symtab", Type: elf.SHT_SYMTAB, Align: 8, entsize: 24, synthesized: true}
	symtabSec.Data = make([]byte, len(entries)*24)
	for i, e := range entries {
		b := symtabSec.Data[i*24:]
		putU32(b[0:], e.nameOff)
		b[4] = e.info
		b[5] = 0
		putU16(b[6:], e.shndx)
		putU64(b[8:], e.value)
		putU64(b[16:], e.size)
	}
	symtabSec.Size = uint64(len(symtabSec.Data))
	l.addSynth(symtabSec)

	strtabSec := &outputSection{Name: ".strtab", Type: elf.SHT_STRTAB, Align: 1, Data: str.bytes, synthesized: true}
	strtabSec.Size = uint64(len(strtabSec.Data))
	l.addSynth(strtabSec)

	symtabSec.link = strtabSec
	symtabSec.info = 1 // index of the first non-local entry; no STB_LOCAL symbols precede it
}
