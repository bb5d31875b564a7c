// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch describes the target machine architecture. The linker
// only supports x86-64 (spec.md Non-goals excludes other
// architectures), but keeping the descriptor as a value rather than a
// build tag matches how input objects are validated against it.
package arch

type Arch struct {
	// GoArch is the GOARCH-style name for this architecture.
	GoArch string

	// PtrSize is the number of bytes in a pointer.
	PtrSize int

	// PageSize is the minimum segment alignment granularity the
	// kernel honors for PT_LOAD.
	PageSize uint64
}

var AMD64 = &Arch{"amd64", 8, 0x1000}

func (a *Arch) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.GoArch
}
