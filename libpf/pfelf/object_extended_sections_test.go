// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracepath/elfimage/libpf/pfelf"
)

// buildExtendedSectionCountELF assembles a raw ELF64 image that sets
// e_shnum and e_shstrndx to their extended-numbering sentinels (0 and
// SHN_XINDEX respectively) and carries the real values instead in the
// NULL section's sh_size and sh_link fields, the escape hatch the format
// reserves for images with more than 0xff00 sections or a string table
// index that doesn't fit in 16 bits. It is built independently of
// elfBuilder since that helper always writes a concrete e_shnum/e_shstrndx.
func buildExtendedSectionCountELF() []byte {
	const (
		ehdrSize = 64
		shdrSize = 64
	)
	shoff := uint64(ehdrSize)
	dataStart := shoff + 3*shdrSize

	fooPayload := []byte{0xde, 0xad, 0xbe, 0xef}
	shstrtab := []byte{0}
	fooNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".foo\x00")...)
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, []byte(".shstrtab\x00")...)

	fooOff := dataStart
	shstrtabOff := fooOff + uint64(align4(len(fooPayload)))

	out := make([]byte, 0, int(shstrtabOff)+align4(len(shstrtab)))
	out = append(out, 0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	out = append(out, u16(2)...)    // e_type ET_EXEC
	out = append(out, u16(0x3e)...) // e_machine EM_X86_64
	out = append(out, u32(1)...)    // e_version
	out = append(out, u64(0)...)    // e_entry
	out = append(out, u64(0)...)    // e_phoff
	out = append(out, u64(shoff)...)
	out = append(out, u32(0)...)        // e_flags
	out = append(out, u16(ehdrSize)...) // e_ehsize
	out = append(out, u16(0)...)        // e_phentsize
	out = append(out, u16(0)...)        // e_phnum
	out = append(out, u16(shdrSize)...)
	out = append(out, u16(0)...)      // e_shnum == 0: defer to shdr[0].sh_size
	out = append(out, u16(0xffff)...) // e_shstrndx == SHN_XINDEX: defer to shdr[0].sh_link

	// shdr[0]: the NULL sentinel, repurposed to carry the real counts.
	out = append(out, u32(0)...) // sh_name
	out = append(out, u32(0)...) // sh_type SHT_NULL
	out = append(out, u64(0)...) // sh_flags
	out = append(out, u64(0)...) // sh_addr
	out = append(out, u64(0)...) // sh_offset
	out = append(out, u64(3)...) // sh_size: real section count
	out = append(out, u32(2)...) // sh_link: real shstrndx
	out = append(out, u32(0)...) // sh_info
	out = append(out, u64(1)...) // sh_addralign
	out = append(out, u64(0)...) // sh_entsize

	// shdr[1]: .foo
	out = append(out, u32(fooNameOff)...)
	out = append(out, u32(1)...) // SHT_PROGBITS
	out = append(out, u64(0)...) // sh_flags
	out = append(out, u64(0)...) // sh_addr
	out = append(out, u64(fooOff)...)
	out = append(out, u64(uint64(len(fooPayload)))...)
	out = append(out, u32(0)...) // sh_link
	out = append(out, u32(0)...) // sh_info
	out = append(out, u64(1)...) // sh_addralign
	out = append(out, u64(0)...) // sh_entsize

	// shdr[2]: .shstrtab
	out = append(out, u32(shstrtabNameOff)...)
	out = append(out, u32(3)...) // SHT_STRTAB
	out = append(out, u64(0)...) // sh_flags
	out = append(out, u64(0)...) // sh_addr
	out = append(out, u64(shstrtabOff)...)
	out = append(out, u64(uint64(len(shstrtab)))...)
	out = append(out, u32(0)...) // sh_link
	out = append(out, u32(0)...) // sh_info
	out = append(out, u64(1)...) // sh_addralign
	out = append(out, u64(0)...) // sh_entsize

	out = append(out, fooPayload...)
	out = append(out, make([]byte, align4(len(fooPayload))-len(fooPayload))...)
	out = append(out, shstrtab...)
	out = append(out, make([]byte, align4(len(shstrtab))-len(shstrtab))...)

	return out
}

// TestReadSectionHeadersExtendedCountAndStrndx exercises both extended
// section-numbering escape hatches together: e_shnum==0 deferring to
// shdr[0].sh_size, and e_shstrndx==SHN_XINDEX deferring to shdr[0].sh_link.
func TestReadSectionHeadersExtendedCountAndStrndx(t *testing.T) {
	img := buildExtendedSectionCountELF()

	obj, err := pfelf.NewObject(nil, bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	defer obj.Close()

	foo := obj.Section(".foo")
	require.NotNil(t, foo)
	data, err := foo.Data(1024)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)

	assert.NotNil(t, obj.Section(".shstrtab"))
}
