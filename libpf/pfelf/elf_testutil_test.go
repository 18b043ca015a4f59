// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf_test

import "encoding/binary"

// elfBuilder assembles a minimal, well-formed little-endian ELF64 image byte
// by byte, independently of the package under test, so tests exercise the
// real wire format rather than round-tripping through pfelf's own encoder.
type elfBuilder struct {
	etype, machine uint16
	entry          uint64

	phdrs      []progHdr
	segPayload [][]byte

	shdrs      []secHdr
	secName    []string
	secPayload [][]byte
}

type progHdr struct {
	typ, flags           uint32
	vaddr, paddr, memsz  uint64
	align                uint64
}

type secHdr struct {
	typ        uint32
	flags      uint64
	addr       uint64
	link, info uint32
	entsize    uint64
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

func newELFBuilder() *elfBuilder {
	return &elfBuilder{etype: 2 /* ET_EXEC */, machine: 0x3e /* EM_X86_64 */}
}

// addSegment registers a program header whose file contents are payload,
// mapped at vaddr with the given flags (a combination of PF_R=4, PF_W=2,
// PF_X=1) and total memory size memsz (>= len(payload)).
func (b *elfBuilder) addSegment(typ, flags uint32, vaddr uint64, payload []byte, memsz uint64) {
	b.phdrs = append(b.phdrs, progHdr{typ: typ, flags: flags, vaddr: vaddr, memsz: memsz, align: 1})
	b.segPayload = append(b.segPayload, payload)
}

// addSection registers a section header named name, with the given type,
// flags (SHF_*), load address, sh_link/sh_info and sh_entsize, backed by
// payload.
func (b *elfBuilder) addSection(name string, typ uint32, flags uint64, addr uint64,
	link, info uint32, entsize uint64, payload []byte) {
	b.shdrs = append(b.shdrs, secHdr{typ: typ, flags: flags, addr: addr, link: link, info: info, entsize: entsize})
	b.secName = append(b.secName, name)
	b.secPayload = append(b.secPayload, payload)
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

func align4(n int) int { return (n + 3) &^ 3 }

// build lays out the ELF header, program header table, section header
// table, a synthesized .shstrtab, and every registered segment/section
// payload, and returns the complete file image.
func (b *elfBuilder) build() []byte {
	phnum := len(b.phdrs)
	phoff := uint64(ehdrSize)
	shOffAfterPhdrs := phoff + uint64(phnum)*phdrSize

	// Section 0 is the SHT_NULL sentinel; every registered section follows,
	// then a synthesized .shstrtab last.
	shnum := len(b.shdrs) + 2
	shoff := shOffAfterPhdrs
	dataStart := shoff + uint64(shnum)*shdrSize

	// Build .shstrtab contents up front so every section's sh_name is known
	// before the section header table itself is serialized.
	shstrtab := []byte{0}
	nameOff := make([]uint32, len(b.secName))
	for i, n := range b.secName {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, []byte(n)...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab")...)
	shstrtab = append(shstrtab, 0)

	// Lay out payload data: segments first, then sections, then .shstrtab.
	cursor := dataStart
	segOff := make([]uint64, len(b.segPayload))
	for i, p := range b.segPayload {
		segOff[i] = cursor
		cursor += uint64(align4(len(p)))
	}
	secOff := make([]uint64, len(b.secPayload))
	for i, p := range b.secPayload {
		secOff[i] = cursor
		cursor += uint64(align4(len(p)))
	}
	shstrtabOff := cursor
	cursor += uint64(align4(len(shstrtab)))

	out := make([]byte, 0, cursor)

	// e_ident + rest of Ehdr.
	out = append(out, 0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1, /* ELFDATA2LSB */
		1 /* EV_CURRENT */, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	out = append(out, u16(b.etype)...)
	out = append(out, u16(b.machine)...)
	out = append(out, u32(1)...) // e_version
	out = append(out, u64(b.entry)...)
	out = append(out, u64(phoff)...)
	out = append(out, u64(shoff)...)
	out = append(out, u32(0)...) // e_flags
	out = append(out, u16(ehdrSize)...)
	out = append(out, u16(phdrSize)...)
	out = append(out, u16(uint16(phnum))...)
	out = append(out, u16(shdrSize)...)
	out = append(out, u16(uint16(shnum))...)
	out = append(out, u16(uint16(len(b.shdrs)+1))...) // e_shstrndx: last registered section + 1

	// Program header table.
	for i, p := range b.phdrs {
		out = append(out, u32(p.typ)...)
		out = append(out, u32(p.flags)...)
		out = append(out, u64(segOff[i])...)
		out = append(out, u64(p.vaddr)...)
		out = append(out, u64(p.paddr)...)
		out = append(out, u64(uint64(len(b.segPayload[i])))...)
		out = append(out, u64(p.memsz)...)
		out = append(out, u64(p.align)...)
	}

	// Section header table: NULL sentinel, registered sections, .shstrtab.
	out = append(out, make([]byte, shdrSize)...)
	for i, s := range b.shdrs {
		out = append(out, u32(nameOff[i])...)
		out = append(out, u32(s.typ)...)
		out = append(out, u64(s.flags)...)
		out = append(out, u64(s.addr)...)
		out = append(out, u64(secOff[i])...)
		out = append(out, u64(uint64(len(b.secPayload[i])))...)
		out = append(out, u32(s.link)...)
		out = append(out, u32(s.info)...)
		out = append(out, u64(1)...) // addralign
		out = append(out, u64(s.entsize)...)
	}
	out = append(out, u32(shstrtabNameOff)...)
	out = append(out, u32(3)...) // SHT_STRTAB
	out = append(out, u64(0)...) // flags
	out = append(out, u64(0)...) // addr
	out = append(out, u64(shstrtabOff)...)
	out = append(out, u64(uint64(len(shstrtab)))...)
	out = append(out, u32(0)...) // link
	out = append(out, u32(0)...) // info
	out = append(out, u64(1)...) // addralign
	out = append(out, u64(0)...) // entsize

	// Payload data, each region padded to a 4-byte boundary.
	for _, p := range b.segPayload {
		out = append(out, p...)
		out = append(out, make([]byte, align4(len(p))-len(p))...)
	}
	for _, p := range b.secPayload {
		out = append(out, p...)
		out = append(out, make([]byte, align4(len(p))-len(p))...)
	}
	out = append(out, shstrtab...)
	out = append(out, make([]byte, align4(len(shstrtab))-len(shstrtab))...)

	return out
}

// putNote appends one ELF note record (Nhdr + name + desc), each field
// padded to a 4-byte boundary, matching the PT_NOTE/SHT_NOTE wire format.
func putNote(buf []byte, name string, typ uint32, desc []byte) []byte {
	nameBytes := append([]byte(name), 0)
	buf = append(buf, u32(uint32(len(nameBytes)))...)
	buf = append(buf, u32(uint32(len(desc)))...)
	buf = append(buf, u32(typ)...)
	buf = append(buf, nameBytes...)
	buf = append(buf, make([]byte, align4(len(nameBytes))-len(nameBytes))...)
	buf = append(buf, desc...)
	buf = append(buf, make([]byte, align4(len(desc))-len(desc))...)
	return buf
}
