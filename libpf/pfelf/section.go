// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// Section represents one section header along with lazily materialized,
// cached access to its (possibly compressed) contents.
type Section struct {
	obj   *Object
	index int

	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64

	// bytes caches the decompressed contents once Data has been called.
	bytes      []byte
	bytesBuilt bool
}

// ReadAt implements io.ReaderAt over the section's raw, on-disk bytes (i.e.
// still compressed, if the section carries SHF_COMPRESSED or a .zdebug_
// prefix). Most callers want Data instead.
func (s *Section) ReadAt(b []byte, off int64) (int, error) {
	if s.Type == elf.SHT_NOBITS {
		return 0, io.EOF
	}
	if uint64(off) >= s.Size {
		return 0, io.EOF
	}
	end := min(int64(len(b)), int64(s.Size)-off)
	n, err := s.obj.r.ReadAt(b[:end], int64(s.Offset)+off)
	if err == io.EOF && int64(n) == end {
		err = nil
	}
	return n, err
}

// Data returns the section's decompressed contents, transparently handling
// SHF_COMPRESSED (Chdr64 + zlib) and the legacy GNU .zdebug_ convention
// (a "ZLIB" magic followed by an 8-byte big-endian uncompressed size). The
// result is cached: repeated calls do not redo the decompression. maxSize
// bounds the decompressed size, guarding against a hostile or corrupt size
// field triggering unbounded allocation. A compression type other than zlib
// yields empty contents and a warning logged once per Object.
func (s *Section) Data(maxSize uint) ([]byte, error) {
	if s.bytesBuilt {
		return s.bytes, nil
	}
	if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
		s.bytes, s.bytesBuilt = nil, true
		return s.bytes, nil
	}

	raw := make([]byte, s.Size)
	if _, err := s.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("section %q: %w", s.Name, err)
	}

	var decoded []byte
	var err error
	switch {
	case s.Flags&elf.SHF_COMPRESSED != 0:
		decoded, err = decompressChdr(raw, maxSize)
	case strings.HasPrefix(s.Name, ".zdebug_"):
		decoded, err = decompressLegacyZlib(raw, maxSize)
	default:
		decoded = raw
	}
	if err != nil {
		if errors.Is(err, ErrUnsupportedCompression) && s.obj != nil {
			if !s.obj.warnedCompression {
				s.obj.warnedCompression = true
				s.obj.ctx.log().Warn("unsupported section compression",
					"section", s.Name, "error", err)
			}
			s.bytes, s.bytesBuilt = nil, true
			return s.bytes, nil
		}
		return nil, fmt.Errorf("section %q: %w", s.Name, err)
	}

	s.bytes, s.bytesBuilt = decoded, true
	return s.bytes, nil
}

// decompressChdr decompresses a section carrying SHF_COMPRESSED: an ELF64
// compression header (Chdr64) followed by a zlib stream.
func decompressChdr(raw []byte, maxSize uint) ([]byte, error) {
	if len(raw) < int(chdr64Size) {
		return nil, fmt.Errorf("%w: compression header truncated", ErrMalformedELF)
	}
	var ch Chdr64
	copy(sliceFrom(&ch), raw[:chdr64Size])
	if elf.CompressionType(ch.Type) != elf.COMPRESS_ZLIB {
		return nil, fmt.Errorf("%w: compression type %d", ErrUnsupportedCompression, ch.Type)
	}
	if ch.Size > uint64(maxSize) {
		return nil, fmt.Errorf("decompressed size %d exceeds limit %d", ch.Size, maxSize)
	}
	return inflate(raw[chdr64Size:], ch.Size)
}

// decompressLegacyZlib decompresses the pre-SHF_COMPRESSED GNU convention:
// 4 bytes "ZLIB", 8 bytes big-endian uncompressed size, then a zlib stream.
func decompressLegacyZlib(raw []byte, maxSize uint) ([]byte, error) {
	const hdrLen = 12
	if len(raw) < hdrLen || !bytes.Equal(raw[:4], []byte("ZLIB")) {
		return nil, fmt.Errorf("%w: missing ZLIB magic", ErrMalformedELF)
	}
	size := binary.BigEndian.Uint64(raw[4:12])
	if size > uint64(maxSize) {
		return nil, fmt.Errorf("decompressed size %d exceeds limit %d", size, maxSize)
	}
	return inflate(raw[hdrLen:], size)
}

func inflate(compressed []byte, size uint64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer zr.Close()
	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return out, nil
}

var chdr64Size = uint64(len(sliceFrom(&Chdr64{})))

// getSection resolves a section by name, verifying its type matches want
// (want == elf.SHT_NULL accepts any type). If
// name starts with ".debug_" and no such section exists, it retries with the
// legacy ".zdebug_" prefix, so callers never need to know which convention a
// given image used to store its compressed debug sections. A missing section
// is not an error: it returns (nil, nil), matching how most sections here
// are genuinely optional depending on how the image was built and stripped.
func (o *Object) getSection(name string, want elf.SectionType) (*Section, error) {
	idx, ok := o.sectionsByName[name]
	if !ok {
		if rest, found := strings.CutPrefix(name, ".debug_"); found {
			return o.getSection(".zdebug_"+rest, want)
		}
		return nil, nil
	}
	sec := o.sections[idx]
	if want != elf.SHT_NULL && sec.Type != want {
		return nil, fmt.Errorf("%w: section %q has type %v, want %v",
			ErrMalformedELF, name, sec.Type, want)
	}
	return sec, nil
}

// Section returns the section with the given name, or nil if the image has
// no such section.
func (o *Object) Section(name string) *Section {
	idx, ok := o.sectionsByName[name]
	if !ok {
		return nil
	}
	return o.sections[idx]
}

// SectionByIndex returns the section at the given ELF section header index,
// or nil if idx is out of range. Index 0 always resolves to the SHT_NULL
// sentinel (invariant I2).
func (o *Object) SectionByIndex(idx int) *Section {
	if idx < 0 || idx >= len(o.sections) {
		return nil
	}
	return o.sections[idx]
}

// getLinkedSection resolves the section referenced by another section's
// sh_link field, most commonly a symbol table's associated string table.
func (o *Object) getLinkedSection(link uint32) (*Section, error) {
	sec := o.SectionByIndex(int(link))
	if sec == nil {
		return nil, fmt.Errorf("%w: sh_link index %d out of range", ErrMalformedELF, link)
	}
	return sec, nil
}
