// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// package pfelf implements an independent ELF object model for a symbolic stack
// unwinder. This file holds the raw wire-format structures that are not already
// exported by the standard library debug/elf package: note headers, symbol
// version records, compressed-section headers and the dynamic hash accelerators.
package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

// Nhdr is the ELF note header (Figure 2-3 of the ELF specification). It precedes
// every (name, desc) pair inside a PT_NOTE segment, for both 32 and 64-bit ELF.
type Nhdr struct {
	Namesz uint32
	Descsz uint32
	Type   uint32
}

// Chdr64 is the ELF64 compressed-section header (ch_type/ch_size/ch_addralign),
// present at the start of a SHF_COMPRESSED section's data.
type Chdr64 struct {
	Type      uint32
	Reserved  uint32
	Size      uint64
	Addralign uint64
}

// Verneed is one record of the .gnu.version_r table (ElfNN_Verneed).
type Verneed struct {
	Version uint16
	Cnt     uint16
	File    uint32
	Aux     uint32
	Next    uint32
}

// Vernaux is one auxiliary record chained off a Verneed (ElfNN_Vernaux).
type Vernaux struct {
	Hash  uint32
	Flags uint16
	Other uint16
	Name  uint32
	Next  uint32
}

// Verdef is one record of the .gnu.version_d table (ElfNN_Verdef).
type Verdef struct {
	Version uint16
	Flags   uint16
	Ndx     uint16
	Cnt     uint16
	Hash    uint32
	Aux     uint32
	Next    uint32
}

// Verdaux is one auxiliary record chained off a Verdef (ElfNN_Verdaux).
type Verdaux struct {
	Name uint32
	Next uint32
}

// sysvHashHeader is the header of a .hash (DT_HASH / SysV hash) section.
type sysvHashHeader struct {
	NBucket uint32
	NChain  uint32
}

// gnuHashHeader is the header of a .gnu.hash (DT_GNU_HASH) section.
type gnuHashHeader struct {
	NBuckets   uint32
	SymOffset  uint32
	BloomSize  uint32
	BloomShift uint32
}

// versionIdxHiddenBit marks a version index as belonging to a hidden, non-default
// symbol definition. The low 15 bits of the same value are the version table index.
const versionIdxHiddenBit = uint16(0x8000)

// VersionIdx is the 16-bit value read from .gnu.version for one symbol index.
type VersionIdx uint16

// Index returns the low 15 bits: the index into the version table.
func (v VersionIdx) Index() uint16 { return uint16(v) &^ versionIdxHiddenBit }

// Hidden reports whether bit 15 (the hidden/non-default flag) is set.
func (v VersionIdx) Hidden() bool { return uint16(v)&versionIdxHiddenBit != 0 }

// versionIdxLocal and versionIdxGlobal are the two reserved indices that never
// have an associated name (VER_NDX_LOCAL and VER_NDX_GLOBAL).
const (
	versionIdxLocal  = 0
	versionIdxGlobal = 1
)
