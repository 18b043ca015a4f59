// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file exercises the path from a resolved dynamic symbol's Index
// through to its version name, which only white-box access to the
// intermediate Object state can assemble without a full ELF image.
package pfelf

import (
	"debug/elf"
	"testing"
)

func putSym64Internal(buf []byte, name uint32, info, other uint8, shndx uint16, value, size uint64) []byte {
	buf = leU32(buf, name)
	buf = append(buf, info, other)
	buf = leU16(buf, shndx)
	buf = leU64(buf, value)
	buf = leU64(buf, size)
	return buf
}

func leU64(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// TestLookupDynamicSymbolIndexFeedsSymbolVersion builds a dynamic symbol
// table, a .gnu.version table, and a .gnu.version_r chain entirely by hand,
// then confirms that the Index LookupDynamicSymbol returns is exactly the
// index SymbolVersion expects.
func TestLookupDynamicSymbolIndexFeedsSymbolVersion(t *testing.T) {
	dynstr := []byte{0}
	nameFoo := uint32(len(dynstr))
	dynstr = append(dynstr, []byte("foo\x00")...)
	dynstrSec := newTestSection(dynstr, elf.SHT_STRTAB, 0)

	var syms []byte
	syms = putSym64Internal(syms, 0, 0, 0, 0, 0, 0) // STN_UNDEF, index 0
	syms = putSym64Internal(syms, nameFoo, 0x12 /* GLOBAL|FUNC */, 0, 0, 0x1000, 0x10)
	dynsymSec := newTestSection(syms, elf.SHT_DYNSYM, 0)

	versym := leU16(nil, 0) // index 0: STN_UNDEF, unused
	versym = leU16(versym, 5)
	versymSec := newTestSection(versym, elf.SHT_GNU_VERSYM, 0)

	verStrtab := []byte{0}
	verNameOff := uint32(len(verStrtab))
	verStrtab = append(verStrtab, []byte("GLIBC_2.2.5\x00")...)
	verStrtabSec := newTestSection(verStrtab, elf.SHT_STRTAB, 0)

	var verneed []byte
	verneed = leU16(verneed, 1)
	verneed = leU16(verneed, 1)
	verneed = leU32(verneed, 0)
	verneed = leU32(verneed, 16)
	verneed = leU32(verneed, 0)
	verneed = leU32(verneed, 0)
	verneed = leU16(verneed, 0)
	verneed = leU16(verneed, 5)
	verneed = leU32(verneed, verNameOff)
	verneed = leU32(verneed, 0)
	verneedSec := newTestSection(verneed, elf.SHT_GNU_VERNEED, 0)

	obj := &Object{sections: []*Section{{Type: elf.SHT_NULL}}}
	add := func(sec *Section, name string) int {
		sec.obj = obj
		idx := len(obj.sections)
		sec.index = idx
		sec.Name = name
		obj.sections = append(obj.sections, sec)
		return idx
	}
	dynstrIdx := add(dynstrSec, ".dynstr")
	dynsymSec.Link = uint32(dynstrIdx)
	add(dynsymSec, ".dynsym")
	add(versymSec, ".gnu.version")
	verStrIdx := add(verStrtabSec, ".gnu.version_r.str")
	verneedSec.Link = uint32(verStrIdx)
	add(verneedSec, ".gnu.version_r")

	obj.sectionsByName = map[string]int{}
	for i, sec := range obj.sections {
		if sec.Name != "" {
			obj.sectionsByName[sec.Name] = i
		}
	}
	obj.versym = versymSec
	obj.dynamic = map[elf.DynTag][]uint64{elf.DT_VERNEEDNUM: {1}}

	sym, err := obj.LookupDynamicSymbol("foo")
	if err != nil {
		t.Fatalf("LookupDynamicSymbol: %v", err)
	}
	if sym.Index != 1 {
		t.Fatalf("sym.Index = %d, want 1", sym.Index)
	}

	version, err := obj.SymbolVersion(sym.Index)
	if err != nil {
		t.Fatalf("SymbolVersion: %v", err)
	}
	if version != "GLIBC_2.2.5" {
		t.Errorf("SymbolVersion(sym.Index) = %q, want GLIBC_2.2.5", version)
	}
}
