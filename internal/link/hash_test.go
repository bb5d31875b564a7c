// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"encoding/binary"
	"testing"
)

func TestElfHashKnownValues(t *testing.T) {
	// Hand-computed against the gABI's definition of elf_hash: no byte
	// in these short names ever sets the top nibble, so the g/h^=/h&^=
	// folding steps are all no-ops and the result is just the repeated
	// h = h<<4 + c accumulation.
	cases := map[string]uint32{
		"":    0x0,
		"a":   0x61,
		"ab":  0x672,
		"abc": 0x6783,
	}
	for name, want := range cases {
		if got := elfHash(name); got != want {
			t.Errorf("elfHash(%q) = %#x, want %#x", name, got, want)
		}
	}
}

func TestGnuHashDiffersFromSysv(t *testing.T) {
	if gnuHash("main") == elfHash("main") {
		t.Error("the GNU and SysV hash functions should not coincide on an ordinary name")
	}
}

func TestBuildSysvHashLayout(t *testing.T) {
	names := []string{"foo", "bar"}
	b := buildSysvHash(names)
	if uint64(len(b)) != sysvHashSize(len(names)+1) {
		t.Fatalf("len = %d, want %d", len(b), sysvHashSize(len(names)+1))
	}
	nbucket := binary.LittleEndian.Uint32(b[0:])
	nchain := binary.LittleEndian.Uint32(b[4:])
	if nbucket != 3 { // one bucket per dynsym entry, including the null at index 0
		t.Errorf("nbucket = %d, want 3", nbucket)
	}
	if nchain != 3 {
		t.Errorf("nchain = %d, want 3", nchain)
	}
	// Every symIdx in [1, len(names)] must be reachable by walking its
	// bucket's chain.
	buckets := b[8 : 8+nbucket*4]
	chains := b[8+nbucket*4:]
	for symIdx := 1; symIdx <= len(names); symIdx++ {
		h := elfHash(names[symIdx-1]) % nbucket
		cur := binary.LittleEndian.Uint32(buckets[h*4:])
		found := false
		for cur != 0 {
			if int(cur) == symIdx {
				found = true
				break
			}
			cur = binary.LittleEndian.Uint32(chains[cur*4:])
		}
		if !found {
			t.Errorf("symbol %d (%s) unreachable from its bucket", symIdx, names[symIdx-1])
		}
	}
}

func TestBuildGnuHashLayout(t *testing.T) {
	names := []string{"alpha", "beta", "gamma"}
	b := buildGnuHash(names, 0)
	if uint64(len(b)) != gnuHashSize(len(names)) {
		t.Fatalf("len = %d, want %d", len(b), gnuHashSize(len(names)))
	}
	nbuckets := binary.LittleEndian.Uint32(b[0:])
	symOffset := binary.LittleEndian.Uint32(b[4:])
	bloomSize := binary.LittleEndian.Uint32(b[8:])
	if nbuckets != 1 {
		t.Errorf("nbuckets = %d, want 1", nbuckets)
	}
	if symOffset != 1 {
		t.Errorf("symoffset = %d, want 1 (the null dynsym entry)", symOffset)
	}
	if bloomSize != 1 {
		t.Errorf("bloom_size = %d, want 1", bloomSize)
	}
	// The last chain entry must have its low bit set (end-of-bucket
	// marker); earlier ones must not.
	chainOff := 28
	for i := range names {
		v := binary.LittleEndian.Uint32(b[chainOff+i*4:])
		wantLSB := i == len(names)-1
		if (v&1 == 1) != wantLSB {
			t.Errorf("chain[%d] low bit = %v, want %v", i, v&1 == 1, wantLSB)
		}
	}
}

func TestBuildGnuHashEmpty(t *testing.T) {
	b := buildGnuHash(nil, 0)
	if uint64(len(b)) != gnuHashSize(0) {
		t.Errorf("len = %d, want %d", len(b), gnuHashSize(0))
	}
}
