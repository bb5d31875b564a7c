// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dso resolves -l/-L shared-library references and extracts
// the dynamic symbol table and SONAME the linker needs from each
// dependency, per spec.md §4.2.
package dso

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jiegec/cold/internal/obj"
)

// Find locates lib<name>.so along searchDirs, in order. archive (.a)
// members are out of scope (spec.md Non-goals).
func Find(name string, searchDirs []string) (string, error) {
	filename := "lib" + name + ".so"
	for _, dir := range searchDirs {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &NotFoundError{name}
}

// NotFoundError is spec.md §7's LibraryNotFound.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find -l%s", e.Name)
}

// Open parses path as a shared object (ET_DYN) dependency, collecting
// its exported dynamic symbols and SONAME.
func Open(path string) (*obj.InputSharedObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, &obj.BadInput{Path: path, Err: err}
	}
	if ef.Type != elf.ET_DYN {
		return nil, &obj.BadInput{Path: path, Err: fmt.Errorf("not a shared object (e_type=%s)", ef.Type)}
	}
	if ef.Machine != elf.EM_X86_64 {
		return nil, &obj.BadInput{Path: path, Err: fmt.Errorf("unsupported machine %s", ef.Machine)}
	}

	syms, err := ef.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, &obj.BadInput{Path: path, Err: err}
	}
	exported := make(map[string]obj.ExportedSym, len(syms))
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		if elf.ST_BIND(s.Info) == elf.STB_LOCAL {
			continue
		}
		exported[s.Name] = obj.ExportedSym{Size: s.Size, Func: elf.ST_TYPE(s.Info) == elf.STT_FUNC}
	}

	soname := filepath.Base(path)
	if names, err := ef.DynString(elf.DT_SONAME); err == nil && len(names) > 0 {
		soname = names[0]
	}

	return &obj.InputSharedObject{Path: path, SOName: soname, Exported: exported}, nil
}
