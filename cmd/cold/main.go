// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cold links x86-64 ELF64 relocatable objects and shared
// objects into an executable, a shared object, or a position-
// independent executable.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jiegec/cold/internal/link"
	"github.com/jiegec/cold/internal/verify"
)

// stringList accumulates repeated occurrences of a flag (-L, -l) in
// command-line order, since flag.Value's default types only keep the
// last one.
type stringList struct {
	values *[]string
}

func (s stringList) String() string {
	if s.values == nil {
		return ""
	}
	return fmt.Sprint(*s.values)
}

func (s stringList) Set(v string) error {
	*s.values = append(*s.values, v)
	return nil
}

func main() {
	var opts link.Options
	var hashStyle string

	flag.StringVar(&opts.Output, "o", "a.out", "write output to `file`")
	flag.BoolVar(&opts.Shared, "shared", false, "build a shared object instead of an executable")
	flag.BoolVar(&opts.PIE, "pie", false, "build a position-independent executable")
	flag.StringVar(&opts.Interp, "dynamic-linker", "", "set the ELF interpreter `path`")
	flag.StringVar(&opts.SOName, "soname", "", "set the shared object's DT_SONAME to `name`")
	flag.StringVar(&hashStyle, "hash-style", "both", "dynamic symbol hash table style: sysv, gnu, or both")
	var rpathLinkDirs []string
	flag.Var(stringList{&rpathLinkDirs}, "rpath-link", "accepted and ignored: `dir` is not searched and nothing is recorded in the output")
	flag.BoolVar(&opts.Verbose, "v", false, "log each input as it is loaded")
	disasm := flag.Bool("disasm", false, "after linking, dump a disassembly of .text and .plt to stderr")
	flag.Var(stringList{&opts.LibDirs}, "L", "add `dir` to the library search path")
	flag.Var(stringList{&opts.Libs}, "l", "link against lib`name`.so")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] input...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	opts.Inputs = flag.Args()
	if len(opts.Inputs) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch hashStyle {
	case "sysv":
		opts.HashStyle = link.HashSysV
	case "gnu":
		opts.HashStyle = link.HashGNU
	case "both", "":
		opts.HashStyle = link.HashBoth
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown -hash-style %q (want sysv, gnu, or both)\n", os.Args[0], hashStyle)
		os.Exit(1)
	}

	log.SetFlags(0)
	if err := link.Link(opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", os.Args[0], err)
		os.Exit(1)
	}

	if *disasm {
		for _, name := range []string{".text", ".plt"} {
			if err := verify.DumpSection(os.Stderr, opts.Output, name); err != nil {
				continue // section absent (e.g. no externals needed a .plt): nothing to show
			}
		}
	}
}
