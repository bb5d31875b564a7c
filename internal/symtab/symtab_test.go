// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symtab

import (
	"testing"

	"github.com/jiegec/cold/internal/obj"
)

func objWith(syms ...obj.Sym) *obj.InputObject {
	return &obj.InputObject{Path: "test.o", Syms: syms}
}

func TestMergeStrongBeatsWeak(t *testing.T) {
	tab := New()
	weak := objWith(obj.Sym{Name: "f", Binding: obj.BindWeak, Kind: obj.KindDefined, Section: 0})
	strong := objWith(obj.Sym{Name: "f", Binding: obj.BindGlobal, Kind: obj.KindDefined, Section: 0})

	if err := tab.AddObject(0, weak); err != nil {
		t.Fatal(err)
	}
	if err := tab.AddObject(1, strong); err != nil {
		t.Fatal(err)
	}

	e, ok := tab.Lookup("f")
	if !ok {
		t.Fatal("f not found")
	}
	if e.ObjIdx != 1 || e.Binding != obj.BindGlobal {
		t.Errorf("want strong definition from object 1, got ObjIdx=%d Binding=%v", e.ObjIdx, e.Binding)
	}
}

func TestMergeWeakNeverOverridesStrong(t *testing.T) {
	tab := New()
	strong := objWith(obj.Sym{Name: "f", Binding: obj.BindGlobal, Kind: obj.KindDefined, Section: 0})
	weak := objWith(obj.Sym{Name: "f", Binding: obj.BindWeak, Kind: obj.KindDefined, Section: 0})

	tab.AddObject(0, strong)
	tab.AddObject(1, weak)

	e, _ := tab.Lookup("f")
	if e.ObjIdx != 0 {
		t.Errorf("strong definition was overridden: ObjIdx=%d", e.ObjIdx)
	}
}

func TestMergeFirstWeakWins(t *testing.T) {
	tab := New()
	first := objWith(obj.Sym{Name: "f", Binding: obj.BindWeak, Kind: obj.KindDefined, Section: 0, Value: 1})
	second := objWith(obj.Sym{Name: "f", Binding: obj.BindWeak, Kind: obj.KindDefined, Section: 0, Value: 2})

	tab.AddObject(0, first)
	tab.AddObject(1, second)

	e, _ := tab.Lookup("f")
	if e.ObjIdx != 0 {
		t.Errorf("want the first weak definition to win, got ObjIdx=%d", e.ObjIdx)
	}
}

func TestMergeCommonsTakeLargestSize(t *testing.T) {
	tab := New()
	small := objWith(obj.Sym{Name: "g", Binding: obj.BindGlobal, Kind: obj.KindCommon, Size: 4, Align: 4})
	big := objWith(obj.Sym{Name: "g", Binding: obj.BindGlobal, Kind: obj.KindCommon, Size: 16, Align: 8})

	tab.AddObject(0, small)
	tab.AddObject(1, big)

	e, _ := tab.Lookup("g")
	if !e.IsCommon() {
		t.Fatal("want g to still be tentative (common)")
	}
	if e.Size != 16 || e.Align != 8 {
		t.Errorf("want merged size=16 align=8, got size=%d align=%d", e.Size, e.Align)
	}
}

func TestMergeStrongOverridesCommon(t *testing.T) {
	tab := New()
	common := objWith(obj.Sym{Name: "g", Binding: obj.BindGlobal, Kind: obj.KindCommon, Size: 4, Align: 4})
	strong := objWith(obj.Sym{Name: "g", Binding: obj.BindGlobal, Kind: obj.KindDefined, Section: 0})

	tab.AddObject(0, common)
	tab.AddObject(1, strong)

	e, _ := tab.Lookup("g")
	if e.IsCommon() {
		t.Error("want the strong definition to replace the tentative common")
	}
	if e.ObjIdx != 1 {
		t.Errorf("want ObjIdx=1, got %d", e.ObjIdx)
	}
}

func TestMergeMultipleDefinitionError(t *testing.T) {
	tab := New()
	a := objWith(obj.Sym{Name: "f", Binding: obj.BindGlobal, Kind: obj.KindDefined, Section: 0})
	b := objWith(obj.Sym{Name: "f", Binding: obj.BindGlobal, Kind: obj.KindDefined, Section: 0})

	tab.AddObject(0, a)
	err := tab.AddObject(1, b)
	if err == nil {
		t.Fatal("want a MultipleDefinitionError")
	}
	if _, ok := err.(*MultipleDefinitionError); !ok {
		t.Errorf("want *MultipleDefinitionError, got %T", err)
	}
}

func TestMergeLocalsNeverParticipate(t *testing.T) {
	tab := New()
	a := objWith(obj.Sym{Name: "f", Binding: obj.BindLocal, Kind: obj.KindDefined, Section: 0})
	b := objWith(obj.Sym{Name: "f", Binding: obj.BindLocal, Kind: obj.KindDefined, Section: 0})

	if err := tab.AddObject(0, a); err != nil {
		t.Fatal(err)
	}
	if err := tab.AddObject(1, b); err != nil {
		t.Fatalf("local symbols of the same name in different objects must never collide: %v", err)
	}
	if _, ok := tab.Lookup("f"); ok {
		t.Error("local symbols must not appear in the global table")
	}
}

func TestResolveExternals(t *testing.T) {
	tab := New()
	undef := objWith(
		obj.Sym{Name: "strong_undef", Binding: obj.BindGlobal, Kind: obj.KindUndef},
		obj.Sym{Name: "weak_undef", Binding: obj.BindWeak, Kind: obj.KindUndef},
		obj.Sym{Name: "never_satisfied", Binding: obj.BindGlobal, Kind: obj.KindUndef},
	)
	tab.AddObject(0, undef)

	sos := []*obj.InputSharedObject{
		{SOName: "libc.so.6", Exported: map[string]obj.ExportedSym{"strong_undef": {Func: true}}},
	}
	stillUndef := tab.ResolveExternals(sos)

	if len(stillUndef) != 2 {
		t.Fatalf("want 2 still-undefined names, got %v", stillUndef)
	}
	e, _ := tab.Lookup("strong_undef")
	if e.Kind != KindExternal || e.SOIdx != 0 {
		t.Errorf("want strong_undef resolved to external SOIdx=0, got Kind=%v SOIdx=%d", e.Kind, e.SOIdx)
	}
}

func TestNamesSorted(t *testing.T) {
	tab := New()
	tab.AddObject(0, objWith(
		obj.Sym{Name: "zebra", Binding: obj.BindGlobal, Kind: obj.KindUndef},
		obj.Sym{Name: "apple", Binding: obj.BindGlobal, Kind: obj.KindUndef},
	))
	names := tab.Names()
	if len(names) != 2 || names[0] != "apple" || names[1] != "zebra" {
		t.Errorf("want sorted [apple zebra], got %v", names)
	}
}
