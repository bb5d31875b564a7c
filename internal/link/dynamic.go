// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"

	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

// pltStubSize is the length in bytes of one x86-64 PLT entry emitted
// by this linker: a single indirect jump through its .got.plt slot.
// Lazy binding's push/jmp-to-resolver trampoline is not implemented;
// instead the dynamic section requests eager (BIND_NOW) resolution,
// so a plain "jmp *got.plt[n](%rip)" is all a call site ever needs.
// See DESIGN.md for the rationale.
const pltStubSize = 6

// gotReservedSlots is the number of .got.plt entries reserved for the
// dynamic linker's own bookkeeping (link_map pointer and resolver
// pointer), kept for layout compatibility with readelf/gdb even
// though this linker never populates slot 2 with a resolver.
const gotReservedSlots = 3

// dynRelKind distinguishes the dynamic relocation records collected
// into .rela.dyn/.rela.plt.
type dynRelKind int

const (
	relRelative dynRelKind = iota
	relGlobDat
	relJumpSlot
	relCopy
)

type dynReloc struct {
	Offset uint64
	Kind   dynRelKind
	SymIdx int // index into dyn.dynsymNames (+1 for the null entry), only for GlobDat/JumpSlot/Copy
	Addend int64
}

// dynSections holds every piece of state the dynamic-linking phases
// (planDynamic, applyRelocations, (*dynSections).finalize) need to
// share, plus the synthesized section bytes once finalize has run.
type dynSections struct {
	needed []string // DT_NEEDED SONAMEs, first-use order, deduped

	dynsymNames []string       // dynsym order, excluding the implicit null entry
	dynsymIndex map[string]int // name -> 1-based dynsym index

	pltNames []string // subset of dynsymNames needing a PLT stub, in PLT order
	pltIndex map[string]int

	gotExternal map[string]bool // dynsymNames entries that also got a plain .got slot
	gotOrder    []string        // .got slot order (externals and locals interleaved by first use)
	gotIsLocal  map[string]bool
	gotLocalAddr map[string]uint64 // resolved VA for local GOT entries (filled during applyRelocations)
	gotIndex    map[string]int

	copyNames []string // dynsymNames entries needing a copy relocation
	copySize  map[string]uint64

	relaDyn []dynReloc
	relaPlt []dynReloc

	// relaDynCount is computed during planDynamic's single pass over
	// every relocation, before layout needs .rela.dyn's size; it must
	// stay in exact lockstep with how many entries applyRelocations
	// actually appends to relaDyn (planDynamic's relocation switch and
	// gotOrder loop count the cases that applyOne, applyCopyRef and
	// writeGOTSlots in reloc.go append).
	relaDynCount int

	dynstr *dynstrTable

	// gnuSymOffset is the dynsym index (excluding the null entry) of
	// the first locally-defined, hash-covered symbol; see buildGnuHash.
	gnuSymOffset int

	hashStyle HashStyle
}

// planDynamic decides, from every relocation in every input object,
// which external symbols need a PLT stub, a GOT slot, or a copy
// relocation, and sizes the synthesized sections accordingly (spec.md
// §4.7). It is a no-op when the output needs no dynamic linking at
// all.
func (l *linker) planDynamic() {
	if !l.needsDynamic() {
		return
	}
	d := &dynSections{
		dynsymIndex:  make(map[string]int),
		pltIndex:     make(map[string]int),
		gotExternal:  make(map[string]bool),
		gotIsLocal:   make(map[string]bool),
		gotLocalAddr: make(map[string]uint64),
		gotIndex:     make(map[string]int),
		copySize:     make(map[string]uint64),
		hashStyle:    l.opts.HashStyle,
	}
	l.dyn = d

	for _, so := range l.sos {
		d.needed = append(d.needed, so.SOName)
	}

	addDynsym := func(name string) int {
		if idx, ok := d.dynsymIndex[name]; ok {
			return idx
		}
		d.dynsymNames = append(d.dynsymNames, name)
		idx := len(d.dynsymNames)
		d.dynsymIndex[name] = idx
		return idx
	}
	addPLT := func(name string) {
		addDynsym(name)
		if _, ok := d.pltIndex[name]; ok {
			return
		}
		d.pltIndex[name] = len(d.pltNames)
		d.pltNames = append(d.pltNames, name)
	}
	addGOTExternal := func(name string) {
		addDynsym(name)
		if d.gotExternal[name] {
			return
		}
		d.gotExternal[name] = true
		d.gotIndex[name] = len(d.gotOrder)
		d.gotOrder = append(d.gotOrder, name)
	}
	addGOTLocal := func(key string) {
		if _, ok := d.gotIndex[key]; ok {
			return
		}
		d.gotIsLocal[key] = true
		d.gotIndex[key] = len(d.gotOrder)
		d.gotOrder = append(d.gotOrder, key)
	}
	addCopy := func(name string, size uint64) {
		idx := addDynsym(name)
		_ = idx
		if _, ok := d.copySize[name]; ok {
			if size > d.copySize[name] {
				d.copySize[name] = size
			}
			return
		}
		d.copySize[name] = size
		d.copyNames = append(d.copyNames, name)
	}

	for _, o := range l.objects {
		for _, is := range o.Sections {
			for _, r := range is.Relocs {
				info, err := l.resolveSymForPlan(o, r.Sym)
				if err != nil {
					continue // reported properly during applyRelocations
				}
				switch r.Type {
				case obj.R_X86_64_PLT32:
					if info.External {
						addPLT(info.Name)
					}
				case obj.R_X86_64_GOTPCREL, obj.R_X86_64_GOT32:
					if info.External {
						addGOTExternal(info.Name)
					} else {
						addGOTLocal(info.Name)
					}
				case obj.R_X86_64_64:
					if info.External && !info.WeakUndef {
						so := l.sos[info.SOIdx]
						addCopy(info.Name, so.Exported[info.Name].Size)
					} else if l.etype == elf.ET_DYN {
						d.relaDynCount++
					}
				case obj.R_X86_64_32, obj.R_X86_64_32S:
					if info.External && !info.WeakUndef {
						so := l.sos[info.SOIdx]
						addCopy(info.Name, so.Exported[info.Name].Size)
					}
				}
			}
		}
	}

	d.gnuSymOffset = len(d.dynsymNames)

	// Exported globals of a -shared output also need a dynsym entry so
	// other images can bind against them, even if nothing in this link
	// unit references them via the PLT/GOT.
	if l.opts.Shared {
		for _, name := range l.syms.Names() {
			e, _ := l.syms.Lookup(name)
			if e.Binding == obj.BindLocal {
				continue
			}
			switch e.Kind {
			case symtab.KindDefined, symtab.KindAbsolute, symtab.KindCommon:
				addDynsym(name)
			}
		}
	}

	for _, key := range d.gotOrder {
		if d.gotIsLocal[key] {
			if l.etype == elf.ET_DYN {
				d.relaDynCount++
			}
		} else {
			d.relaDynCount++ // GLOB_DAT, needed regardless of output type
		}
	}
	if l.etype != elf.ET_DYN {
		d.relaDynCount += len(d.copyNames)
	}

	d.needed = dedup(d.needed)
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// symPlanInfo is the subset of symbol-resolution information the
// planning pass needs; see resolveSym in reloc.go for the full
// resolution used while actually writing fixups.
type symPlanInfo struct {
	Name      string
	External  bool
	SOIdx     int
	WeakUndef bool
}

func (l *linker) resolveSymForPlan(o *obj.InputObject, symIdx int) (symPlanInfo, error) {
	info, err := l.resolveSym(o, symIdx)
	if err != nil {
		return symPlanInfo{}, err
	}
	return symPlanInfo{Name: info.Name, External: info.External, SOIdx: info.SOIdx, WeakUndef: info.WeakUndef}, nil
}

// sizeDynamicSections computes the byte size of every synthesized
// section now that planDynamic has decided membership; called from
// layout before addresses are assigned.
func (l *linker) sizeDynamicSections() {
	d := l.dyn
	if d == nil {
		return
	}

	interp := l.opts.Interp
	if interp == "" {
		interp = "/lib64/ld-linux-x86-64.so.2"
	}
	interpSec := &outputSection{Name: ".interp", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Align: 1,
		Data: append([]byte(interp), 0), synthesized: true}
	interpSec.Size = uint64(len(interpSec.Data))
	l.addSynth(interpSec)

	dynstr := buildDynstr(d, l.opts.SOName)
	dynstrSec := &outputSection{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Align: 1,
		Data: dynstr.bytes, synthesized: true}
	dynstrSec.Size = uint64(len(dynstrSec.Data))
	l.addSynth(dynstrSec)
	d.dynstr = dynstr

	dynsymSec := &outputSection{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Align: 8,
		entsize: 24, synthesized: true}
	dynsymSec.Size = uint64(len(d.dynsymNames)+1) * 24
	l.addSynth(dynsymSec)

	if d.hashStyle != HashGNU {
		data := buildSysvHash(d.dynsymNames)
		hashSec := &outputSection{Name: ".hash", Type: elf.SHT_HASH, Flags: elf.SHF_ALLOC, Align: 8, entsize: 4,
			Data: data, synthesized: true, link: dynsymSec}
		hashSec.Size = uint64(len(data))
		l.addSynth(hashSec)
	}
	if d.hashStyle != HashSysV {
		data := buildGnuHash(d.dynsymNames, d.gnuSymOffset)
		hashSec := &outputSection{Name: ".gnu.hash", Type: elf.SHT_GNU_HASH, Flags: elf.SHF_ALLOC, Align: 8,
			Data: data, synthesized: true, link: dynsymSec}
		hashSec.Size = uint64(len(data))
		l.addSynth(hashSec)
	}

	if len(d.pltNames) > 0 {
		pltSec := &outputSection{Name: ".plt", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Align: 16, entsize: pltStubSize, synthesized: true}
		pltSec.Size = uint64(len(d.pltNames)) * pltStubSize
		l.addSynth(pltSec)

		gotpltSec := &outputSection{Name: ".got.plt", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 8, entsize: 8, synthesized: true}
		gotpltSec.Size = uint64(gotReservedSlots+len(d.pltNames)) * 8
		l.addSynth(gotpltSec)
	}

	if len(d.gotOrder) > 0 {
		gotSec := &outputSection{Name: ".got", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 8, entsize: 8, synthesized: true}
		gotSec.Size = uint64(len(d.gotOrder)) * 8
		l.addSynth(gotSec)
	}

	if len(d.copyNames) > 0 {
		bss := l.outSecByName[".bss"]
		if bss == nil {
			bss = &outputSection{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 1}
			l.outSecByName[".bss"] = bss
			l.outSecs = append(l.outSecs, bss)
		}
		for _, name := range d.copyNames {
			size := d.copySize[name]
			if size == 0 {
				size = 8
			}
			off := alignUp(bss.Size, 8)
			bss.Size = off + size
			l.commonOffset["copy:"+name] = off
		}
	}

	// .rela.dyn's entry count was already computed by planDynamic's
	// single relocation-scanning pass (relaDynCount); its bytes are
	// filled in by (*dynSections).finalize once applyRelocations has
	// actually produced the entries, but the size must be final now so
	// layout can place the sections after it.
	relaDynSec := &outputSection{Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC, Align: 8, entsize: 24, synthesized: true}
	relaDynSec.Size = uint64(d.relaDynCount) * 24
	l.addSynth(relaDynSec)
	if len(d.pltNames) > 0 {
		relaPltSec := &outputSection{Name: ".rela.plt", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC, Align: 8, entsize: 24, synthesized: true}
		relaPltSec.Size = uint64(len(d.pltNames)) * 24
		l.addSynth(relaPltSec)
	}

	dynamicSec := &outputSection{Name: ".dynamic", Type: elf.SHT_DYNAMIC, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 8, entsize: 16, synthesized: true}
	dynamicSec.Size = l.dynamicEntryCount() * 16
	l.addSynth(dynamicSec)
}

// dynamicEntryCount must stay in exact lockstep with the tags
// buildDynamicSection (dynamic_finalize.go) emits.
func (l *linker) dynamicEntryCount() uint64 {
	d := l.dyn
	n := uint64(len(d.needed))
	if l.opts.SOName != "" {
		n++
	}
	if d.hashStyle != HashGNU {
		n++
	}
	if d.hashStyle != HashSysV {
		n++
	}
	n += 4 // strtab, symtab, strsz, syment
	if len(d.pltNames) > 0 {
		n += 4 // pltgot, pltrelsz, pltrel, jmprel
	}
	n += 3 // rela, relasz, relaent
	n += 2 // flags, flags1
	if l.etype == elf.ET_EXEC {
		n++ // debug
	}
	n++ // null terminator
	return n
}

func (l *linker) addSynth(s *outputSection) {
	l.outSecByName[s.Name] = s
	l.outSecs = append(l.outSecs, s)
}
