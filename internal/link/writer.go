// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"
	"os"
	"sort"

	"github.com/jiegec/cold/internal/symtab"
)

// write implements spec.md §4.8: it serializes the ELF header,
// program headers, every section's bytes, and the section header
// table into a single image and installs it at opts.Output.
//
// The image is built as a byte-exact relative to o.Offset, written to
// a temporary file and renamed into place, so a crash mid-write never
// leaves a partially-written file at the final path (spec.md §5's
// atomic-output requirement).
func (l *linker) write() error {
	if err := l.checkLayout(); err != nil {
		return err
	}

	shCount := len(l.shOrder) + 1 // + the implicit null section
	fileSize := l.shoff + uint64(shCount)*shentsize
	for _, sec := range l.shOrder {
		if sec.Type == elf.SHT_NOBITS {
			continue
		}
		if end := sec.Offset + sec.Size; end > fileSize {
			fileSize = end
		}
	}

	buf := make([]byte, fileSize)
	l.writeEhdr(buf)
	l.writePhdrs(buf)
	for _, sec := range l.shOrder {
		if sec.Type == elf.SHT_NOBITS || sec.Data == nil {
			continue
		}
		copy(buf[sec.Offset:], sec.Data)
	}
	l.writeShdrs(buf)

	tmp := l.opts.Output + ".tmp"
	if err := os.WriteFile(tmp, buf, 0755); err != nil {
		return errf(IoError, "%v", err)
	}
	if err := os.Rename(tmp, l.opts.Output); err != nil {
		os.Remove(tmp)
		return errf(IoError, "%v", err)
	}
	return nil
}

// checkLayout validates that every section's recorded [Offset,
// Offset+Size) file range is internally consistent and that no two
// sections with actual file bytes overlap, per spec.md §4.8's
// requirement that mismatches between recorded and actual byte
// positions are fatal internal errors.
func (l *linker) checkLayout() error {
	type span struct {
		sec        *outputSection
		start, end uint64
	}
	var spans []span
	for _, sec := range l.shOrder {
		if sec.Type == elf.SHT_NOBITS {
			continue
		}
		spans = append(spans, span{sec, sec.Offset, sec.Offset + sec.Size})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start < prev.end {
			return errf(InternalLayoutError, "section %q [%#x,%#x) overlaps section %q [%#x,%#x)",
				cur.sec.Name, cur.start, cur.end, prev.sec.Name, prev.start, prev.end)
		}
	}
	return nil
}

func (l *linker) writeEhdr(buf []byte) {
	copy(buf[0:4], "\x7fELF")
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	buf[7] = 0 // ELFOSABI_SYSV
	// buf[8:16] EI_ABIVERSION + padding, left zero

	putU16(buf[16:], uint16(l.etype))
	putU16(buf[18:], uint16(elf.EM_X86_64))
	putU32(buf[20:], uint32(elf.EV_CURRENT))
	putU64(buf[24:], l.entryAddr())
	putU64(buf[32:], ehsize) // e_phoff
	putU64(buf[40:], l.shoff)
	putU32(buf[48:], 0) // e_flags
	putU16(buf[52:], ehsize)
	putU16(buf[54:], phentsize)
	putU16(buf[56:], uint16(len(l.segments)))
	putU16(buf[58:], shentsize)
	putU16(buf[60:], uint16(len(l.shOrder)+1))
	putU16(buf[62:], uint16(l.shstrndx()))
}

func (l *linker) entryAddr() uint64 {
	if l.opts.Shared {
		return 0
	}
	e, ok := l.syms.Lookup(l.entryName)
	if !ok || e.Kind == symtab.KindUndef || e.Kind == symtab.KindExternal {
		return 0
	}
	info, _ := l.resolveSym(l.objects[e.ObjIdx], e.SymIdx)
	return info.Addr
}

func (l *linker) shstrndx() int {
	if shstrtab, ok := l.outSecByName[".shstrtab"]; ok {
		return shstrtab.Index
	}
	return 0
}

func (l *linker) writePhdrs(buf []byte) {
	off := ehsize
	for _, seg := range l.segments {
		b := buf[off:]
		putU32(b[0:], uint32(seg.Type))
		putU32(b[4:], uint32(seg.Flags))
		putU64(b[8:], seg.Offset)
		putU64(b[16:], seg.Addr)
		putU64(b[24:], seg.Addr) // p_paddr mirrors p_vaddr
		putU64(b[32:], seg.FileSize)
		putU64(b[40:], seg.MemSize)
		putU64(b[48:], seg.Align)
		off += phentsize
	}
}

func (l *linker) writeShdrs(buf []byte) {
	off := l.shoff // index 0, the null section header, stays all-zero
	off += shentsize
	for _, sec := range l.shOrder {
		b := buf[off:]
		putU32(b[0:], sec.nameOff)
		putU32(b[4:], uint32(sec.Type))
		putU64(b[8:], uint64(sec.Flags))
		putU64(b[16:], sec.Addr)
		putU64(b[24:], sec.Offset)
		putU64(b[32:], sec.Size)
		if sec.link != nil {
			putU32(b[40:], uint32(sec.link.Index))
		}
		putU32(b[44:], sec.info)
		putU64(b[48:], maxu64(sec.Align, 1))
		putU64(b[56:], sec.entsize)
		off += shentsize
	}
}
