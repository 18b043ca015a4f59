// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// package pfelf implements an independent ELF object model for a symbolic stack
// unwinder: it decodes program and section headers, the dynamic table, symbol
// tables and their hash accelerators, and locates external debug companions,
// without depending on the standard library's debug/elf parser. Only portions
// of the image that a query actually touches are read, and every lazily built
// table is cached for the lifetime of the Object.
//
// The Executable and Linking Format (ELF) specification is available at:
//
//	https://refspecs.linuxfoundation.org/elf/elf.pdf
package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"sort"

	"github.com/tracepath/elfimage/libpf/pfelf/internal/mmap"
	"github.com/tracepath/elfimage/libpf/readatbuf"
)

// Object is an opened ELF image: an executable, shared object, core file, or
// separate debug companion. It owns the underlying Reader and every table
// parsed from it. An Object is not safe for concurrent use: its accessors fill
// lazily built caches, so it must be used by a single owner at a time.
type Object struct {
	ctx    *Context
	r      io.ReaderAt
	size   int64
	closer io.Closer

	// isDebug suppresses recursive companion discovery for Objects that are
	// themselves already a debug companion.
	isDebug bool
	path    string

	Type    elf.Type
	Machine elf.Machine
	Entry   uint64

	// segments groups program headers by p_type, each group sorted ascending
	// by p_vaddr (invariant I1).
	segments map[elf.ProgType][]*ProgramHeader

	// loadSegments is segments[elf.PT_LOAD], kept as its own slice since
	// address lookups are the hottest path through an Object.
	loadSegments []*ProgramHeader

	// sections holds every section header, index 0 always the SHT_NULL
	// sentinel (invariant I2), so sh_link and st_shndx can index directly.
	sections       []*Section
	sectionsByName map[string]int

	dynamic map[elf.DynTag][]uint64

	// versym is the .gnu.version section, or nil if absent.
	versym *Section

	// lazily built, cached tables; see symtab.go, hash.go, version.go, debug.go
	symtab             *symbolTable
	dynsym             *symbolTable
	hash               *hashAccelerator
	hashBuilt          bool
	versions           *versionSet
	debugSymIndex      map[string]int
	debugSymIndexBuilt bool
	gnuDebugData       *Object
	gnuDebugDataLoaded bool
	debugObject        *Object
	debugLoaded        bool

	// lastLoadSegment caches the last PT_LOAD hit for GetSegmentForAddress.
	lastLoadSegment *ProgramHeader

	warnedCompression bool
}

// maxBytesSmallSection bounds in-memory reads of notes and debug links.
const maxBytesSmallSection = 4 * 1024

// maxBytesLargeSection bounds in-memory reads of symbol/string tables and
// decompressed section bodies.
const maxBytesLargeSection = 64 * 1024 * 1024

// Open memory-maps the named file and parses it as an ELF image.
func Open(ctx *Context, path string) (*Object, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	obj, err := newObject(ctx, m, int64(m.Len()), m, false)
	if err != nil {
		m.Close()
		return nil, err
	}
	obj.path = path
	return obj, nil
}

// OpenReader parses r as an ELF image without memory-mapping it, wrapping it
// in a small page cache first, for images that are not available as a local
// file to map. Companion discovery does not use it: debug companions,
// including those fetched through debuginfod, are opened by path through the
// Context's ELFOpener (memory-mapped by default).
func OpenReader(ctx *Context, r io.ReaderAt, size int64) (*Object, error) {
	buffered, err := readatbuf.New(r, 4096, 64)
	if err != nil {
		return nil, err
	}
	return newObject(ctx, buffered, size, nil, false)
}

// NewObject builds an Object over a Reader the caller already owns; the
// Object does not take ownership of r, and Close does not close it.
func NewObject(ctx *Context, r io.ReaderAt, size int64) (*Object, error) {
	return newObject(ctx, r, size, nil, false)
}

// Close releases resources owned by the Object, including any debug
// companion and .gnu_debugdata sub-Object it loaded.
func (o *Object) Close() error {
	if o.debugObject != nil {
		_ = o.debugObject.Close()
		o.debugObject = nil
	}
	if o.gnuDebugData != nil {
		_ = o.gnuDebugData.Close()
		o.gnuDebugData = nil
	}
	if o.closer != nil {
		err := o.closer.Close()
		o.closer = nil
		return err
	}
	return nil
}

// Path returns the path the Object was opened from, or "" if it was built
// over a caller-supplied Reader.
func (o *Object) Path() string { return o.path }

func newObject(ctx *Context, r io.ReaderAt, size int64, closer io.Closer, isDebug bool) (
	*Object, error) {
	o := &Object{
		ctx:      ctx,
		r:        r,
		size:     size,
		closer:   closer,
		isDebug:  isDebug,
		segments: make(map[elf.ProgType][]*ProgramHeader),
		dynamic:  make(map[elf.DynTag][]uint64),
	}

	var hdr elf.Header64
	if err := readFull(r, 0, sliceFrom(&hdr)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if !bytes.Equal(hdr.Ident[0:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, ErrNotELF
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 ||
		elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, ErrUnsupportedClass
	}
	if elf.Version(hdr.Ident[elf.EI_VERSION]) != elf.EV_CURRENT {
		return nil, fmt.Errorf("%w: bad EI_VERSION", ErrMalformedELF)
	}

	o.Type = elf.Type(hdr.Type)
	o.Machine = elf.Machine(hdr.Machine)
	o.Entry = hdr.Entry

	if err := o.readProgramHeaders(&hdr); err != nil {
		return nil, err
	}
	if err := o.readSectionHeaders(&hdr); err != nil {
		return nil, err
	}
	if err := o.readDynamic(); err != nil {
		return nil, err
	}
	o.versym, _ = o.getSection(".gnu.version", elf.SHT_GNU_VERSYM)

	return o, nil
}

// readProgramHeaders reads e_phnum program headers, groups them by p_type and
// sorts each group ascending by p_vaddr (invariant I1).
func (o *Object) readProgramHeaders(hdr *elf.Header64) error {
	if hdr.Phnum == 0 {
		return nil
	}
	raw := make([]elf.Prog64, hdr.Phnum)
	if err := readFull(o.r, int64(hdr.Phoff), sliceFrom(raw)); err != nil {
		return fmt.Errorf("%w: program headers: %v", ErrMalformedELF, err)
	}

	for i := range raw {
		p := &ProgramHeader{
			obj:    o,
			Type:   elf.ProgType(raw[i].Type),
			Flags:  elf.ProgFlag(raw[i].Flags),
			Off:    raw[i].Off,
			Vaddr:  raw[i].Vaddr,
			Paddr:  raw[i].Paddr,
			Filesz: raw[i].Filesz,
			Memsz:  raw[i].Memsz,
			Align:  raw[i].Align,
		}
		o.segments[p.Type] = append(o.segments[p.Type], p)
	}
	for t, group := range o.segments {
		sort.Slice(group, func(i, j int) bool { return group[i].Vaddr < group[j].Vaddr })
		o.segments[t] = group
	}
	o.loadSegments = o.segments[elf.PT_LOAD]
	return nil
}

// readSectionHeaders reads the section header table, honoring the extended
// numbering escape hatches (e_shnum==0 and e_shstrndx==SHN_XINDEX), and
// resolves every section's name.
func (o *Object) readSectionHeaders(hdr *elf.Header64) error {
	o.sections = []*Section{{obj: o, Type: elf.SHT_NULL}}
	o.sectionsByName = map[string]int{}

	if hdr.Shoff == 0 || hdr.Shoff >= uint64(o.size) {
		return nil
	}

	var first elf.Section64
	if err := readFull(o.r, int64(hdr.Shoff), sliceFrom(&first)); err != nil {
		return fmt.Errorf("%w: section headers: %v", ErrMalformedELF, err)
	}

	shnum := uint64(hdr.Shnum)
	if hdr.Shnum == 0 && hdr.Shentsize != 0 {
		shnum = first.Size
	}
	if shnum == 0 {
		return nil
	}

	shstrndx := uint64(hdr.Shstrndx)
	if hdr.Shstrndx == uint16(elf.SHN_XINDEX) {
		shstrndx = uint64(first.Link)
	}

	raw := make([]elf.Section64, shnum)
	if err := readFull(o.r, int64(hdr.Shoff), sliceFrom(raw)); err != nil {
		return fmt.Errorf("%w: section headers: %v", ErrMalformedELF, err)
	}

	o.sections = make([]*Section, shnum)
	for i := range raw {
		o.sections[i] = &Section{
			obj:       o,
			index:     i,
			Type:      elf.SectionType(raw[i].Type),
			Flags:     elf.SectionFlag(raw[i].Flags),
			Addr:      raw[i].Addr,
			Offset:    raw[i].Off,
			Size:      raw[i].Size,
			Link:      raw[i].Link,
			Info:      raw[i].Info,
			Addralign: raw[i].Addralign,
			Entsize:   raw[i].Entsize,
		}
	}

	if shstrndx >= uint64(len(o.sections)) {
		return fmt.Errorf("%w: section string table index %d out of range", ErrMalformedELF, shstrndx)
	}
	strtab, err := o.sections[shstrndx].Data(maxBytesLargeSection)
	if err != nil {
		return fmt.Errorf("section string table: %w", err)
	}
	for i := range raw {
		name, ok := getString(strtab, int(raw[i].Name))
		if !ok {
			continue
		}
		o.sections[i].Name = name
		// First match wins; duplicate names are vanishingly rare and the
		// first occurrence is always what getSection's linear fallback would
		// have found too.
		if _, exists := o.sectionsByName[name]; !exists {
			o.sectionsByName[name] = i
		}
	}
	return nil
}

// readDynamic reads the .dynamic table, if present, grouping entries by tag.
func (o *Object) readDynamic() error {
	dyn, _ := o.getSection(".dynamic", elf.SHT_DYNAMIC)
	if dyn == nil {
		return nil
	}
	data, err := dyn.Data(maxBytesLargeSection)
	if err != nil {
		return fmt.Errorf("dynamic section: %w", err)
	}
	entSz := int(sizeOfDyn64)
	for off := 0; off+entSz <= len(data); off += entSz {
		var d elf.Dyn64
		copy(sliceFrom(&d), data[off:off+entSz])
		tag := elf.DynTag(d.Tag)
		if tag == elf.DT_NULL {
			break
		}
		o.dynamic[tag] = append(o.dynamic[tag], d.Val)
	}
	return nil
}

// dynTag returns the first entry for tag, or (0, false) if absent.
func (o *Object) dynTag(tag elf.DynTag) (uint64, bool) {
	v, ok := o.dynamic[tag]
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// getString extracts a null terminated string from an ELF string table.
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	end := bytes.IndexByte(section[start:], 0)
	if end < 0 {
		return "", false
	}
	return string(section[start : start+end]), true
}

// ProgramHeaders returns the program headers of the given type, sorted
// ascending by virtual address (invariant I1). The returned slice must not be
// modified.
func (o *Object) ProgramHeaders(t elf.ProgType) []*ProgramHeader {
	return o.segments[t]
}

// Interpreter returns the PT_INTERP string, or "" if the image has none.
func (o *Object) Interpreter() (string, error) {
	interp := o.segments[elf.PT_INTERP]
	if len(interp) == 0 {
		return "", nil
	}
	data, err := interp[0].Data(maxBytesSmallSection)
	if err != nil {
		return "", err
	}
	s, _ := getString(append(data, 0), 0)
	return s, nil
}

// GetSegmentForAddress returns the PT_LOAD segment covering virtual address a,
// or nil if a is not covered by any loaded segment. A one-slot cache remembers
// the last hit, since consecutive unwinder queries typically land in the same
// segment.
func (o *Object) GetSegmentForAddress(a uint64) *ProgramHeader {
	if last := o.lastLoadSegment; last != nil && a >= last.Vaddr && a < last.Vaddr+last.Memsz {
		return last
	}

	segs := o.loadSegments
	i := sort.Search(len(segs), func(i int) bool {
		return a < segs[i].Vaddr+segs[i].Memsz
	})
	if i == len(segs) || a < segs[i].Vaddr {
		return nil
	}
	o.lastLoadSegment = segs[i]
	return segs[i]
}

// EndVA returns the virtual address immediately past the last PT_LOAD
// segment, or 0 if the image has none.
func (o *Object) EndVA() uint64 {
	if len(o.loadSegments) == 0 {
		return 0
	}
	last := o.loadSegments[len(o.loadSegments)-1]
	return last.Vaddr + last.Memsz
}

// ProgramHeader represents one program header (segment descriptor) along with
// the file bytes it covers.
type ProgramHeader struct {
	obj *Object

	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// ReadAt implements io.ReaderAt over the segment's logical (memory) image:
// bytes within Filesz come from the file, the remainder up to Memsz reads as
// zero, matching how the dynamic loader maps the gap between them.
func (p *ProgramHeader) ReadAt(b []byte, off int64) (n int, err error) {
	if uint64(off) < p.Filesz {
		end := int(min(int64(len(b)), int64(p.Filesz)-off))
		n, err = p.obj.r.ReadAt(b[0:end], int64(p.Off)+off)
		if n != end || err != nil {
			return n, err
		}
		off += int64(n)
	}
	if n < len(b) && uint64(off) < p.Memsz {
		end := int(min(int64(len(b)-n), int64(p.Memsz)-off))
		clear(b[n : n+end])
		n += end
	}
	if n != len(b) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// Data reads the segment's Filesz bytes from the file and returns them as a
// slice, bounded by maxSize. The zero-filled tail up to Memsz that ReadAt
// serves is not included.
func (p *ProgramHeader) Data(maxSize uint) ([]byte, error) {
	if p.Filesz > uint64(maxSize) {
		return nil, fmt.Errorf("segment size %d exceeds limit %d", p.Filesz, maxSize)
	}
	buf := make([]byte, p.Filesz)
	_, err := p.ReadAt(buf, 0)
	return buf, err
}

var sizeOfDyn64 = uint64(len(sliceFrom(&elf.Dyn64{})))
