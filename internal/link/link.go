// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link implements the linker pipeline of spec.md §2: it
// merges parsed relocatable objects and shared-library dependencies
// into a single ELF64 x86-64 executable or shared object image.
//
// The driver (Link) owns the whole in-memory object graph and calls
// each phase in turn, matching the single-threaded, no-shared-mutable-
// state model of spec.md §5: there are no goroutines and no
// suspension points anywhere in this package.
package link

import (
	"debug/elf"
	"fmt"
	"log"
	"os"

	"github.com/jiegec/cold/internal/dso"
	"github.com/jiegec/cold/internal/obj"
	"github.com/jiegec/cold/internal/symtab"
)

const pageSize = 0x1000

// HashStyle selects which dynamic symbol hash table(s) to emit.
type HashStyle int

const (
	HashBoth HashStyle = iota
	HashSysV
	HashGNU
)

// Options is the CLI frontend's input to the core, per spec.md §6.1.
// Flag parsing and normalization live in cmd/cold; this struct is the
// entire surface the core depends on.
type Options struct {
	Inputs    []string // positional .o/.so arguments, in command-line order
	Output    string
	Shared    bool
	PIE       bool
	Interp    string // -dynamic-linker; empty means use the default
	LibDirs   []string
	Libs      []string // -l NAME, in command-line order; loaded after every Inputs entry
	SOName    string
	HashStyle HashStyle
	Verbose   bool
}

// ErrorKind enumerates spec.md §7's fatal error categories.
type ErrorKind int

const (
	BadInput ErrorKind = iota
	UnsupportedRelocation
	RelocationOverflow
	MultipleDefinition
	UndefinedSymbol
	LibraryNotFound
	IoError
	InternalLayoutError
)

func (k ErrorKind) String() string {
	switch k {
	case BadInput:
		return "bad input"
	case UnsupportedRelocation:
		return "unsupported relocation"
	case RelocationOverflow:
		return "relocation overflow"
	case MultipleDefinition:
		return "multiple definition"
	case UndefinedSymbol:
		return "undefined symbol"
	case LibraryNotFound:
		return "library not found"
	case IoError:
		return "I/O error"
	case InternalLayoutError:
		return "internal layout error"
	}
	return "error"
}

// Error is the single-diagnostic-line fatal error spec.md §7
// describes. There is no recovery: the first Error aborts the link.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func errf(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{kind, fmt.Sprintf(format, args...)}
}

// linker carries the whole object graph through the pipeline phases.
// It is the single owner the design notes (spec.md §9) call for:
// inputs own their sections, and the symbol table stores handles
// (object index + local index) back into this struct rather than
// back-pointers.
type linker struct {
	opts Options

	objects []*obj.InputObject
	sos     []*obj.InputSharedObject

	syms *symtab.Table

	outSecs    []*outputSection
	outSecByName map[string]*outputSection

	// contribution lookup: where did an InputSection end up?
	contribOf map[*obj.InputSection]*contribLoc

	// per-name tentative (COMMON) allocation inside .bss
	commonOffset map[string]uint64

	segments []segment

	dyn *dynSections // nil unless dynamic linking applies

	baseAddr uint64
	etype    elf.Type
	shoff    uint64

	// shOrder is every output section in final section-header order
	// (index i+1), assigned by layout.
	shOrder []*outputSection

	entryName string
}

type contribLoc struct {
	sec    *outputSection
	offset uint64
}

// Link runs the full pipeline described in spec.md §2 and writes the
// resulting image to opts.Output. On any fatal error, a partial output
// file is removed.
func Link(opts Options) error {
	l := &linker{opts: opts, outSecByName: make(map[string]*outputSection),
		contribOf: make(map[*obj.InputSection]*contribLoc), commonOffset: make(map[string]uint64)}

	if err := l.run(); err != nil {
		os.Remove(opts.Output)
		return err
	}
	return nil
}

func (l *linker) run() error {
	if err := l.loadInputs(); err != nil {
		return err
	}
	if err := l.resolveSymbols(); err != nil {
		return err
	}
	l.decideOutputType()
	if err := l.mergeSections(); err != nil {
		return err
	}
	l.planDynamic()
	if err := l.layout(); err != nil {
		return err
	}
	if err := l.applyRelocations(); err != nil {
		return err
	}
	if l.dyn != nil {
		l.dyn.finalize(l)
	}
	return l.write()
}

func (l *linker) logf(format string, args ...interface{}) {
	if l.opts.Verbose {
		log.Printf(format, args...)
	}
}

// loadInputs implements spec.md §4.1/§4.2: every positional argument
// is identified as a relocatable object or a shared object by its ELF
// header, in command-line order; -l names are resolved via -L search
// paths.
func (l *linker) loadInputs() error {
	for _, path := range l.opts.Inputs {
		f, err := os.Open(path)
		if err != nil {
			return errf(IoError, "%s: %v", path, err)
		}
		et, err := peekType(f)
		if err != nil {
			f.Close()
			return errf(BadInput, "%s: %v", path, err)
		}
		switch et {
		case elf.ET_REL:
			o, err := obj.ParseObject(path, f)
			f.Close()
			if err != nil {
				return wrapBadInput(err)
			}
			l.logf("loaded relocatable object %s (%d sections, %d symbols)", path, len(o.Sections), len(o.Syms))
			l.objects = append(l.objects, o)
		case elf.ET_DYN:
			f.Close()
			so, err := dso.Open(path)
			if err != nil {
				return wrapBadInput(err)
			}
			l.logf("loaded shared object %s (SONAME=%s, %d exports)", path, so.SOName, len(so.Exported))
			l.sos = append(l.sos, so)
		default:
			f.Close()
			return errf(BadInput, "%s: unsupported e_type %s", path, et)
		}
	}
	for _, name := range l.opts.Libs {
		path, err := dso.Find(name, l.opts.LibDirs)
		if err != nil {
			return errf(LibraryNotFound, "%v", err)
		}
		so, err := dso.Open(path)
		if err != nil {
			return wrapBadInput(err)
		}
		l.logf("loaded -l%s -> %s (SONAME=%s, %d exports)", name, path, so.SOName, len(so.Exported))
		l.sos = append(l.sos, so)
	}
	return nil
}

func wrapBadInput(err error) error {
	return &Error{BadInput, err.Error()}
}

func peekType(f *os.File) (elf.Type, error) {
	ef, err := elf.NewFile(f)
	if err != nil {
		return 0, err
	}
	defer func() { f.Seek(0, os.SEEK_SET) }()
	return ef.Type, nil
}

// resolveSymbols implements spec.md §4.4.
func (l *linker) resolveSymbols() error {
	l.syms = symtab.New()
	for i, o := range l.objects {
		if err := l.syms.AddObject(i, o); err != nil {
			if mde, ok := err.(*symtab.MultipleDefinitionError); ok {
				return errf(MultipleDefinition, "%s", mde.Name)
			}
			return err
		}
	}

	stillUndef := l.syms.ResolveExternals(l.sos)
	for _, name := range stillUndef {
		e, _ := l.syms.Lookup(name)
		if e.Binding == obj.BindWeak {
			continue // weak undefined resolves to address 0
		}
		if l.opts.Shared {
			continue // undefined references are allowed (reported as external) under -shared
		}
		return errf(UndefinedSymbol, "%s", name)
	}
	return nil
}

func (l *linker) decideOutputType() {
	switch {
	case l.opts.Shared:
		l.etype = elf.ET_DYN
		l.baseAddr = 0
	case l.opts.PIE:
		l.etype = elf.ET_DYN
		l.baseAddr = 0
		l.entryName = "_start"
	default:
		l.etype = elf.ET_EXEC
		l.baseAddr = 0x400000
		l.entryName = "_start"
	}
}

func (l *linker) needsDynamic() bool {
	return len(l.sos) > 0 || l.opts.Shared || l.opts.Interp != ""
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
