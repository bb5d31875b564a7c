// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"debug/elf"
	"testing"

	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		in      string
		outName string
		ok      bool
	}{
		{".text", ".text", true},
		{".text.hot", ".text", true},
		{".rodata.str1.1", ".rodata", true},
		{".data.rel.ro.local", ".data.rel.ro", true},
		{".data", ".data", true},
		{".bss", ".bss", true},
		{".init_array", ".init_array", true},
		{".fini_array.00099", ".fini_array", true},
		{".comment", "", false},
		{".debug_info", "", false},
		{".note.GNU-stack", "", false},
	}
	for _, c := range cases {
		name, ok := classify(c.in)
		if ok != c.ok || name != c.outName {
			t.Errorf("classify(%q) = (%q, %v), want (%q, %v)", c.in, name, ok, c.outName, c.ok)
		}
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ v, align, want uint64 }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{5, 1, 5},
		{5, 0, 5},
	}
	for _, c := range cases {
		if got := alignUp(c.v, c.align); got != c.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", c.v, c.align, got, c.want)
		}
	}
}

func newTestLinker() *linker {
	return &linker{
		outSecByName: make(map[string]*outputSection),
		contribOf:    make(map[*obj.InputSection]*contribLoc),
		commonOffset: make(map[string]uint64),
		syms:         symtab.New(),
	}
}

func TestMergeSectionsConcatenatesAcrossObjects(t *testing.T) {
	l := newTestLinker()

	is1 := &obj.InputSection{Name: ".text", Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Align: 4, Size: 4, Data: []byte{1, 2, 3, 4}}
	o1 := &obj.InputObject{Path: "a.o", Sections: []*obj.InputSection{is1}}

	is2 := &obj.InputSection{Name: ".text", Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Align: 4, Size: 4, Data: []byte{5, 6, 7, 8}}
	o2 := &obj.InputObject{Path: "b.o", Sections: []*obj.InputSection{is2}}

	l.objects = []*obj.InputObject{o1, o2}

	if err := l.mergeSections(); err != nil {
		t.Fatal(err)
	}

	text := l.outSecByName[".text"]
	if text == nil {
		t.Fatal(".text was not created")
	}
	if text.Size != 8 {
		t.Errorf("Size = %d, want 8", text.Size)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	for i, b := range want {
		if text.Data[i] != b {
			t.Errorf("Data[%d] = %d, want %d", i, text.Data[i], b)
		}
	}

	loc1 := l.contribOf[is1]
	loc2 := l.contribOf[is2]
	if loc1.offset != 0 || loc2.offset != 4 {
		t.Errorf("contribution offsets = %d, %d, want 0, 4", loc1.offset, loc2.offset)
	}
}

func TestMergeSectionsRespectsAlignment(t *testing.T) {
	l := newTestLinker()

	is1 := &obj.InputSection{Name: ".data", Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 1, Size: 1, Data: []byte{0xff}}
	is2 := &obj.InputSection{Name: ".data", Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 8, Size: 8, Data: make([]byte, 8)}
	o := &obj.InputObject{Path: "a.o", Sections: []*obj.InputSection{is1, is2}}
	l.objects = []*obj.InputObject{o}

	if err := l.mergeSections(); err != nil {
		t.Fatal(err)
	}

	loc2 := l.contribOf[is2]
	if loc2.offset != 8 {
		t.Errorf("second contribution offset = %d, want 8 (aligned up from 1)", loc2.offset)
	}
	data := l.outSecByName[".data"]
	if data.Align != 8 {
		t.Errorf("output section Align = %d, want 8 (max of its contributions)", data.Align)
	}
}

func TestMergeSectionsDropsUnallocated(t *testing.T) {
	l := newTestLinker()
	is := &obj.InputSection{Name: ".comment", Flags: 0, Size: 10, Data: make([]byte, 10)}
	o := &obj.InputObject{Path: "a.o", Sections: []*obj.InputSection{is}}
	l.objects = []*obj.InputObject{o}

	if err := l.mergeSections(); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.outSecByName[".comment"]; ok {
		t.Error(".comment has no home in the output and must be dropped")
	}
}

func TestMergeSectionsNobitsLeavesDataNil(t *testing.T) {
	l := newTestLinker()
	is := &obj.InputSection{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Align: 8, Size: 32}
	o := &obj.InputObject{Path: "a.o", Sections: []*obj.InputSection{is}}
	l.objects = []*obj.InputObject{o}

	if err := l.mergeSections(); err != nil {
		t.Fatal(err)
	}
	bss := l.outSecByName[".bss"]
	if bss.Data != nil {
		t.Error(".bss contributions must not allocate file bytes")
	}
	if bss.Size != 32 {
		t.Errorf("Size = %d, want 32", bss.Size)
	}
}

func TestFinalizeCommonsAllocatesIntoBss(t *testing.T) {
	l := newTestLinker()
	o := &obj.InputObject{Path: "a.o", Syms: []obj.Sym{
		{Name: "g1", Binding: obj.BindGlobal, Kind: obj.KindCommon, Size: 4, Align: 4},
		{Name: "g2", Binding: obj.BindGlobal, Kind: obj.KindCommon, Size: 8, Align: 8},
	}}
	if err := l.syms.AddObject(0, o); err != nil {
		t.Fatal(err)
	}
	l.objects = []*obj.InputObject{o}

	if err := l.mergeSections(); err != nil {
		t.Fatal(err)
	}

	bss := l.outSecByName[".bss"]
	if bss == nil {
		t.Fatal(".bss must be synthesized to host the commons")
	}
	if l.commonOffset["g1"] != 0 {
		t.Errorf("g1 offset = %d, want 0", l.commonOffset["g1"])
	}
	if l.commonOffset["g2"] != 8 {
		t.Errorf("g2 offset = %d, want 8 (aligned up to the 8-byte symbol)", l.commonOffset["g2"])
	}
	if bss.Size != 16 {
		t.Errorf("bss.Size = %d, want 16", bss.Size)
	}
}
