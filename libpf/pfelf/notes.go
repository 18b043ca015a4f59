// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements iteration over PT_NOTE segments and SHT_NOTE
// sections: a sequence of (name, type, descriptor) records, each padded to
// a 4-byte boundary independently of the other two fields.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"debug/elf"
	"fmt"
	"io"
)

// Note is one decoded PT_NOTE / SHT_NOTE record.
type Note struct {
	Name string
	Type uint32
	Desc []byte
}

// NoteReader iterates the notes in a byte buffer already extracted from a
// PT_NOTE segment or SHT_NOTE section.
type NoteReader struct {
	data []byte
	off  int
}

// NewNoteReader returns an iterator over data, the raw bytes of one PT_NOTE
// segment or SHT_NOTE section.
func NewNoteReader(data []byte) *NoteReader {
	return &NoteReader{data: data}
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int { return (n + 3) &^ 3 }

// Next returns the next note, or io.EOF once the buffer is exhausted.
func (nr *NoteReader) Next() (Note, error) {
	const hdrSize = 12 // Nhdr: 3x uint32
	if nr.off >= len(nr.data) {
		return Note{}, io.EOF
	}
	if nr.off+hdrSize > len(nr.data) {
		return Note{}, fmt.Errorf("%w: note header truncated", ErrMalformedELF)
	}

	var hdr Nhdr
	copy(sliceFrom(&hdr), nr.data[nr.off:nr.off+hdrSize])
	pos := nr.off + hdrSize

	nameEnd := pos + int(hdr.Namesz)
	if nameEnd > len(nr.data) {
		return Note{}, fmt.Errorf("%w: note name truncated", ErrMalformedELF)
	}
	name := nr.data[pos:nameEnd]
	// Namesz includes the trailing NUL for a well-formed note; trim it if present.
	if len(name) > 0 && name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}
	pos = nr.off + hdrSize + align4(int(hdr.Namesz))

	descEnd := pos + int(hdr.Descsz)
	if descEnd > len(nr.data) {
		return Note{}, fmt.Errorf("%w: note descriptor truncated", ErrMalformedELF)
	}
	desc := nr.data[pos:descEnd]
	pos += align4(int(hdr.Descsz))

	nr.off = pos
	return Note{Name: string(name), Type: hdr.Type, Desc: desc}, nil
}

// Notes returns every note in the given PT_NOTE segment.
func (p *ProgramHeader) Notes() ([]Note, error) {
	data, err := p.Data(maxBytesSmallSection)
	if err != nil {
		return nil, err
	}
	return readAllNotes(data)
}

// Notes returns every note in the given SHT_NOTE section.
func (s *Section) Notes() ([]Note, error) {
	data, err := s.Data(maxBytesSmallSection)
	if err != nil {
		return nil, err
	}
	return readAllNotes(data)
}

func readAllNotes(data []byte) ([]Note, error) {
	nr := NewNoteReader(data)
	var notes []Note
	for {
		n, err := nr.Next()
		if err == io.EOF {
			return notes, nil
		}
		if err != nil {
			return notes, err
		}
		notes = append(notes, n)
	}
}

// BuildID returns the hex-encoded GNU build-id, if the image has a
// NT_GNU_BUILD_ID note in any PT_NOTE segment.
func (o *Object) BuildID() (string, error) {
	const noteGNU = "GNU"
	const ntGNUBuildID = 3

	for _, seg := range o.segments[elf.PT_NOTE] {
		notes, err := seg.Notes()
		if err != nil {
			continue
		}
		for _, n := range notes {
			if n.Name == noteGNU && n.Type == ntGNUBuildID {
				return fmt.Sprintf("%x", n.Desc), nil
			}
		}
	}
	return "", ErrNoBuildID
}
