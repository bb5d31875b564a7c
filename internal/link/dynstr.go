// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

// strtabBuilder accumulates a standard ELF string table: a leading
// NUL byte, then each distinct string NUL-terminated in first-use
// order, returning the byte offset to reuse for repeats.
type strtabBuilder struct {
	bytes  []byte
	offset map[string]uint32
}

func newStrtabBuilder() *strtabBuilder {
	return &strtabBuilder{bytes: []byte{0}, offset: map[string]uint32{"": 0}}
}

func (b *strtabBuilder) add(s string) uint32 {
	if off, ok := b.offset[s]; ok {
		return off
	}
	off := uint32(len(b.bytes))
	b.bytes = append(b.bytes, []byte(s)...)
	b.bytes = append(b.bytes, 0)
	b.offset[s] = off
	return off
}

// dynstrTable is .dynstr's contents plus the offsets finalize needs to
// fill in .dynsym, DT_SONAME and DT_NEEDED entries.
type dynstrTable struct {
	bytes      []byte
	nameOffset map[string]uint32 // dynsym name -> offset
	sonameOff  uint32
	neededOff  map[string]uint32 // SONAME -> offset
}

func buildDynstr(d *dynSections, soname string) *dynstrTable {
	b := newStrtabBuilder()
	t := &dynstrTable{nameOffset: make(map[string]uint32), neededOff: make(map[string]uint32)}
	for _, name := range d.dynsymNames {
		t.nameOffset[name] = b.add(name)
	}
	for _, n := range d.needed {
		t.neededOff[n] = b.add(n)
	}
	if soname != "" {
		t.sonameOff = b.add(soname)
	}
	t.bytes = b.bytes
	return t
}
