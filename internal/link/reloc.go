// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"
	"encoding/binary"

	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

// symInfo is the fully resolved meaning of one input symbol reference,
// enough to compute any relocation's fixup value.
type symInfo struct {
	Name      string
	Addr      uint64 // valid when !External
	External  bool
	SOIdx     int
	WeakUndef bool
}

// resolveSym resolves o.Syms[symIdx] to its final linked meaning: a
// concrete address (local symbol, or a global/weak symbol the global
// table settled on a definition for) or an external reference to a
// shared-object export.
func (l *linker) resolveSym(o *obj.InputObject, symIdx int) (symInfo, error) {
	s := o.Syms[symIdx]

	if s.Binding == obj.BindLocal {
		switch s.Kind {
		case obj.KindAbsolute:
			return symInfo{Name: s.Name, Addr: s.Value}, nil
		case obj.KindDefined:
			sec := o.Sections[s.Section]
			loc := l.contribOf[sec]
			return symInfo{Name: s.Name, Addr: loc.sec.Addr + loc.offset + s.Value}, nil
		default:
			return symInfo{}, errf(InternalLayoutError, "local symbol %q in %s has no definition", s.Name, o.Path)
		}
	}

	e, ok := l.syms.Lookup(s.Name)
	if !ok {
		return symInfo{}, errf(InternalLayoutError, "symbol %q missing from global table", s.Name)
	}
	switch e.Kind {
	case symtab.KindExternal:
		return symInfo{Name: s.Name, External: true, SOIdx: e.SOIdx}, nil
	case symtab.KindUndef:
		return symInfo{Name: s.Name, WeakUndef: true}, nil
	case symtab.KindAbsolute:
		asym := l.objects[e.ObjIdx].Syms[e.SymIdx]
		return symInfo{Name: s.Name, Addr: asym.Value}, nil
	case symtab.KindCommon:
		bss := l.outSecByName[".bss"]
		return symInfo{Name: s.Name, Addr: bss.Addr + l.commonOffset[s.Name]}, nil
	default: // KindDefined
		asym := l.objects[e.ObjIdx].Syms[e.SymIdx]
		sec := l.objects[e.ObjIdx].Sections[asym.Section]
		loc := l.contribOf[sec]
		return symInfo{Name: s.Name, Addr: loc.sec.Addr + loc.offset + asym.Value}, nil
	}
}

// applyRelocations implements spec.md §4.6: every static relocation in
// every input section is resolved against the now-finalized layout
// and written into the merged output bytes; references that need
// runtime fixups accumulate into .rela.dyn/.rela.plt entries and PLT
// stub / GOT slot contents.
func (l *linker) applyRelocations() error {
	if l.dyn != nil {
		l.buildPLT()
	}

	for _, o := range l.objects {
		for _, is := range o.Sections {
			if len(is.Relocs) == 0 || is.IsNobits() {
				continue
			}
			loc := l.contribOf[is]
			for _, r := range is.Relocs {
				if err := l.applyOne(o, is, loc, r); err != nil {
					return err
				}
			}
		}
	}

	if l.dyn != nil {
		l.writeGOTSlots()
	}
	return nil
}

func (l *linker) applyOne(o *obj.InputObject, is *obj.InputSection, loc *contribLoc, r obj.Reloc) error {
	buf := loc.sec.Data[loc.offset+r.Offset:]
	P := loc.sec.Addr + loc.offset + r.Offset

	var info symInfo
	var err error
	if r.Sym >= 0 {
		info, err = l.resolveSym(o, r.Sym)
		if err != nil {
			return err
		}
	}

	switch r.Type {
	case obj.R_X86_64_NONE:
		return nil

	case obj.R_X86_64_64:
		if info.External {
			return l.applyCopyRef(buf, info, r.Addend, 8)
		}
		val := info.Addr + uint64(r.Addend)
		binary.LittleEndian.PutUint64(buf, val)
		if l.etype == elf.ET_DYN {
			l.dyn.relaDyn = append(l.dyn.relaDyn, dynReloc{Offset: P, Kind: relRelative, Addend: int64(val)})
		}
		return nil

	case obj.R_X86_64_PC64:
		val := int64(info.Addr) + r.Addend - int64(P)
		binary.LittleEndian.PutUint64(buf, uint64(val))
		return nil

	case obj.R_X86_64_PC32:
		val := int64(info.Addr) + r.Addend - int64(P)
		if !fitsInt32(val) {
			return errf(RelocationOverflow, "R_X86_64_PC32 against %q in %s: value %d does not fit in 32 bits", info.Name, o.Path, val)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(val)))
		return nil

	case obj.R_X86_64_32:
		val := info.Addr + uint64(r.Addend)
		if val > 0xffffffff {
			return errf(RelocationOverflow, "R_X86_64_32 against %q in %s: value %#x does not fit in 32 bits", info.Name, o.Path, val)
		}
		if info.External {
			return l.applyCopyRef(buf, info, r.Addend, 4)
		}
		if l.etype == elf.ET_DYN {
			return errf(UnsupportedRelocation, "R_X86_64_32 against %q in %s: absolute 32-bit relocation is not position-independent, unsupported when building a shared object or PIE", info.Name, o.Path)
		}
		binary.LittleEndian.PutUint32(buf, uint32(val))
		return nil

	case obj.R_X86_64_32S:
		val := int64(info.Addr) + r.Addend
		if !fitsInt32(val) {
			return errf(RelocationOverflow, "R_X86_64_32S against %q in %s: value %d does not fit in a signed 32 bits", info.Name, o.Path, val)
		}
		if info.External {
			return l.applyCopyRef(buf, info, r.Addend, 4)
		}
		if l.etype == elf.ET_DYN {
			return errf(UnsupportedRelocation, "R_X86_64_32S against %q in %s: absolute 32-bit relocation is not position-independent, unsupported when building a shared object or PIE", info.Name, o.Path)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(val)))
		return nil

	case obj.R_X86_64_PLT32:
		target := info.Addr
		if info.External {
			target = l.pltStubAddr(info.Name)
		}
		val := int64(target) + r.Addend - int64(P)
		if !fitsInt32(val) {
			return errf(RelocationOverflow, "R_X86_64_PLT32 against %q in %s: value %d does not fit in 32 bits", info.Name, o.Path, val)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(val)))
		return nil

	case obj.R_X86_64_GOTPCREL, obj.R_X86_64_GOT32:
		slot := l.gotSlotAddr(info)
		if r.Type == obj.R_X86_64_GOT32 {
			val := slot + uint64(r.Addend)
			binary.LittleEndian.PutUint32(buf, uint32(val))
			return nil
		}
		val := int64(slot) + r.Addend - int64(P)
		if !fitsInt32(val) {
			return errf(RelocationOverflow, "R_X86_64_GOTPCREL against %q in %s: value %d does not fit in 32 bits", info.Name, o.Path, val)
		}
		binary.LittleEndian.PutUint32(buf, uint32(int32(val)))
		return nil

	default:
		return errf(UnsupportedRelocation, "%s against %q in %s", r.Type, info.Name, o.Path)
	}
}

// applyCopyRef resolves a direct (non-PLT, non-GOT) reference to an
// external symbol into the address of this image's own copy of that
// data, per spec.md §4.6's COPY handling. Copy relocations are only
// meaningful in a fixed-base executable: a PIE or shared object that
// needs one has a data dependency this linker cannot satisfy without
// position-independent code generation it never emits.
func (l *linker) applyCopyRef(buf []byte, info symInfo, addend int64, width int) error {
	if l.etype == elf.ET_DYN {
		return errf(UnsupportedRelocation, "direct reference to external data symbol %q requires a copy relocation, unsupported when building a shared object or PIE", info.Name)
	}
	bss := l.outSecByName[".bss"]
	addr := bss.Addr + l.commonOffset["copy:"+info.Name]
	val := addr + uint64(addend)
	switch width {
	case 8:
		binary.LittleEndian.PutUint64(buf, val)
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(val))
	}
	l.recordCopyReloc(info.Name, addr)
	return nil
}

func (l *linker) recordCopyReloc(name string, addr uint64) {
	for _, rr := range l.dyn.relaDyn {
		if rr.Kind == relCopy && rr.Offset == addr {
			return
		}
	}
	idx := l.dyn.dynsymIndex[name]
	l.dyn.relaDyn = append(l.dyn.relaDyn, dynReloc{Offset: addr, Kind: relCopy, SymIdx: idx})
}

func (l *linker) gotSlotAddr(info symInfo) uint64 {
	got := l.outSecByName[".got"]
	d := l.dyn
	key := info.Name
	idx := d.gotIndex[key]
	return got.Addr + uint64(idx)*8
}

func (l *linker) pltStubAddr(name string) uint64 {
	plt := l.outSecByName[".plt"]
	idx := l.dyn.pltIndex[name]
	return plt.Addr + uint64(idx)*pltStubSize
}

// buildPLT emits the "jmp *slot(%rip)" stub bytes for every PLT entry.
// Lazy binding's resolver trampoline is intentionally not implemented;
// see the pltStubSize doc comment in dynamic.go.
func (l *linker) buildPLT() {
	d := l.dyn
	if len(d.pltNames) == 0 {
		return
	}
	plt := l.outSecByName[".plt"]
	gotplt := l.outSecByName[".got.plt"]
	plt.Data = make([]byte, plt.Size)
	for i, name := range d.pltNames {
		entryAddr := plt.Addr + uint64(i)*pltStubSize
		slotAddr := gotplt.Addr + uint64(gotReservedSlots+i)*8
		disp := int32(int64(slotAddr) - int64(entryAddr+pltStubSize))
		b := plt.Data[i*pltStubSize:]
		b[0], b[1] = 0xff, 0x25
		binary.LittleEndian.PutUint32(b[2:], uint32(disp))

		idx := d.dynsymIndex[name]
		d.relaPlt = append(d.relaPlt, dynReloc{Offset: slotAddr, Kind: relJumpSlot, SymIdx: idx})
	}
}

// writeGOTSlots fills in .got's contents: zero for externals (resolved
// at load time via GLOB_DAT), the link-time address for locals (with
// a RELATIVE relocation added when the output is position-independent
// so the dynamic linker can apply its load bias).
func (l *linker) writeGOTSlots() {
	d := l.dyn
	if len(d.gotOrder) == 0 {
		return
	}
	got := l.outSecByName[".got"]
	got.Data = make([]byte, got.Size)
	for i, key := range d.gotOrder {
		off := i * 8
		if d.gotIsLocal[key] {
			addr, ok := l.gotLocalAddrFor(key)
			if !ok {
				continue
			}
			binary.LittleEndian.PutUint64(got.Data[off:], addr)
			if l.etype == elf.ET_DYN {
				d.relaDyn = append(d.relaDyn, dynReloc{Offset: got.Addr + uint64(off), Kind: relRelative, Addend: int64(addr)})
			}
			continue
		}
		idx := d.dynsymIndex[key]
		d.relaDyn = append(d.relaDyn, dynReloc{Offset: got.Addr + uint64(off), Kind: relGlobDat, SymIdx: idx})
	}
}

// gotLocalAddrFor resolves a local-symbol GOT key (the symbol's name,
// since GOTPCREL is only emitted against named globals/weaks in
// practice) back to its final address via the global symbol table.
func (l *linker) gotLocalAddrFor(name string) (uint64, bool) {
	e, ok := l.syms.Lookup(name)
	if !ok {
		return 0, false
	}
	switch e.Kind {
	case symtab.KindAbsolute:
		return l.objects[e.ObjIdx].Syms[e.SymIdx].Value, true
	case symtab.KindCommon:
		bss := l.outSecByName[".bss"]
		return bss.Addr + l.commonOffset[name], true
	case symtab.KindDefined:
		asym := l.objects[e.ObjIdx].Syms[e.SymIdx]
		sec := l.objects[e.ObjIdx].Sections[asym.Section]
		loc := l.contribOf[sec]
		return loc.sec.Addr + loc.offset + asym.Value, true
	}
	return 0, false
}

func fitsInt32(v int64) bool { return v >= -(1<<31) && v < (1<<31) }
