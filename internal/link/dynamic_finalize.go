// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"

	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

// finalize builds the byte contents of every dynamic-linking section
// that depends on the final layout: .dynsym, .rela.dyn, .rela.plt and
// .dynamic. It runs after layout (addresses are final) and after
// applyRelocations (relaDyn/relaPlt are populated).
func (d *dynSections) finalize(l *linker) {
	d.buildDynsym(l)
	d.buildRelaSections(l)
	d.buildDynamicSection(l)
}

func (d *dynSections) buildDynsym(l *linker) {
	sec := l.outSecByName[".dynsym"]
	sec.Data = make([]byte, sec.Size)
	sec.link = l.outSecByName[".dynstr"]
	sec.info = 1 // one greater than the last local symbol index (none are local)

	for i, name := range d.dynsymNames {
		b := sec.Data[(i+1)*24:]
		putU32(b[0:], d.dynstr.nameOffset[name])

		bind, typ, shndx, value, size := d.dynsymAttrs(l, name)
		b[4] = uint8(bind)<<4 | uint8(typ)
		b[5] = 0
		putU16(b[6:], shndx)
		putU64(b[8:], value)
		putU64(b[16:], size)
	}
}

// dynsymAttrs reports one dynamic symbol's binding/type/section/value/
// size, distinguishing an import (left undefined; the runtime loader
// resolves it against a dependency) from a local definition exported
// for a -shared output (other images may bind against it).
func (d *dynSections) dynsymAttrs(l *linker, name string) (bind elf.SymBind, typ elf.SymType, shndx uint16, value, size uint64) {
	e, ok := l.syms.Lookup(name)
	if !ok || e.Kind == symtab.KindExternal || e.Kind == symtab.KindUndef {
		bind = elf.STB_GLOBAL
		shndx = uint16(elf.SHN_UNDEF)
		switch {
		case contains(d.pltNames, name):
			typ = elf.STT_FUNC
		case d.copySize[name] > 0:
			typ = elf.STT_OBJECT
			size = d.copySize[name]
		default:
			typ = elf.STT_NOTYPE
		}
		return
	}

	if e.Binding == obj.BindWeak {
		bind = elf.STB_WEAK
	} else {
		bind = elf.STB_GLOBAL
	}
	size = e.Size
	switch e.Kind {
	case symtab.KindAbsolute:
		shndx = uint16(elf.SHN_ABS)
		value = l.objects[e.ObjIdx].Syms[e.SymIdx].Value
		typ = elfSymType(l.objects[e.ObjIdx].Syms[e.SymIdx].Type)
	case symtab.KindCommon:
		bss := l.outSecByName[".bss"]
		shndx = uint16(bss.Index)
		value = bss.Addr + l.commonOffset[name]
		typ = elf.STT_OBJECT
	default:
		asym := l.objects[e.ObjIdx].Syms[e.SymIdx]
		sec := l.objects[e.ObjIdx].Sections[asym.Section]
		loc := l.contribOf[sec]
		shndx = uint16(loc.sec.Index)
		value = loc.sec.Addr + loc.offset + asym.Value
		typ = elfSymType(asym.Type)
	}
	return
}

func elfSymType(t obj.SymType) elf.SymType {
	switch t {
	case obj.TypeFunc:
		return elf.STT_FUNC
	case obj.TypeObject:
		return elf.STT_OBJECT
	default:
		return elf.STT_NOTYPE
	}
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func (d *dynSections) buildRelaSections(l *linker) {
	dynsym := l.outSecByName[".dynsym"]

	relaDyn := l.outSecByName[".rela.dyn"]
	relaDyn.Data = make([]byte, len(d.relaDyn)*24)
	for i, r := range d.relaDyn {
		writeRela(relaDyn.Data[i*24:], r)
	}
	relaDyn.Size = uint64(len(relaDyn.Data))
	relaDyn.link = dynsym

	if relaPlt, ok := l.outSecByName[".rela.plt"]; ok {
		relaPlt.Data = make([]byte, len(d.relaPlt)*24)
		for i, r := range d.relaPlt {
			writeRela(relaPlt.Data[i*24:], r)
		}
		relaPlt.Size = uint64(len(relaPlt.Data))
		relaPlt.link = dynsym
		if gotplt, ok := l.outSecByName[".got.plt"]; ok {
			relaPlt.info = uint32(gotplt.Index)
		}
	}
}

func writeRela(b []byte, r dynReloc) {
	var typ uint32
	var sym uint32
	switch r.Kind {
	case relRelative:
		typ = uint32(obj.R_X86_64_RELATIVE)
	case relGlobDat:
		typ = uint32(obj.R_X86_64_GLOB_DAT)
		sym = uint32(r.SymIdx)
	case relJumpSlot:
		typ = uint32(obj.R_X86_64_JUMP_SLOT)
		sym = uint32(r.SymIdx)
	case relCopy:
		typ = uint32(obj.R_X86_64_COPY)
		sym = uint32(r.SymIdx)
	}
	putU64(b[0:], r.Offset)
	putU64(b[8:], uint64(sym)<<32|uint64(typ))
	putU64(b[16:], uint64(r.Addend))
}

const (
	dtNull     = 0
	dtNeeded   = 1
	dtPltRelSz = 2
	dtPltGot   = 3
	dtHash     = 4
	dtStrtab   = 5
	dtSymtab   = 6
	dtRela     = 7
	dtRelaSz   = 8
	dtRelaEnt  = 9
	dtStrSz    = 10
	dtSymEnt   = 11
	dtDebug    = 21
	dtPltRel   = 20
	dtJmpRel   = 23
	dtFlags    = 30
	dtSoname   = 14
	dtGnuHash  = 0x6ffffef5
	dtFlags1   = 0x6ffffffb

	dfBindNow = 0x8
	df1Now    = 0x1
)

func (d *dynSections) buildDynamicSection(l *linker) {
	var entries [][2]uint64

	add := func(tag, val uint64) { entries = append(entries, [2]uint64{tag, val}) }

	for _, n := range d.needed {
		add(dtNeeded, uint64(d.dynstr.neededOff[n]))
	}
	if l.opts.SOName != "" {
		add(dtSoname, uint64(d.dynstr.sonameOff))
	}
	if hash, ok := l.outSecByName[".hash"]; ok {
		add(dtHash, hash.Addr)
	}
	if gnuHash, ok := l.outSecByName[".gnu.hash"]; ok {
		add(dtGnuHash, gnuHash.Addr)
	}
	add(dtStrtab, l.outSecByName[".dynstr"].Addr)
	add(dtSymtab, l.outSecByName[".dynsym"].Addr)
	add(dtStrSz, l.outSecByName[".dynstr"].Size)
	add(dtSymEnt, 24)

	if gotplt, ok := l.outSecByName[".got.plt"]; ok {
		add(dtPltGot, gotplt.Addr)
	}
	if relaPlt, ok := l.outSecByName[".rela.plt"]; ok {
		add(dtPltRelSz, relaPlt.Size)
		add(dtPltRel, dtRela)
		add(dtJmpRel, relaPlt.Addr)
	}

	relaDyn := l.outSecByName[".rela.dyn"]
	add(dtRela, relaDyn.Addr)
	add(dtRelaSz, relaDyn.Size)
	add(dtRelaEnt, 24)

	add(dtFlags, dfBindNow)
	add(dtFlags1, df1Now)
	if l.etype == elf.ET_EXEC {
		add(dtDebug, 0)
	}
	add(dtNull, 0)

	sec := l.outSecByName[".dynamic"]
	sec.Data = make([]byte, len(entries)*16)
	for i, e := range entries {
		putU64(sec.Data[i*16:], e[0])
		putU64(sec.Data[i*16+8:], e[1])
	}
	sec.Size = uint64(len(sec.Data))
	sec.link = l.outSecByName[".dynstr"]
}
