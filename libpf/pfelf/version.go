// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file resolves symbol versioning: the per-symbol version index stored
// in .gnu.version, and the version name it refers to, found by walking the
// .gnu.version_r (Verneed/Vernaux) and .gnu.version_d (Verdef/Verdaux)
// chains rooted at DT_VERNEEDNUM/DT_VERDEFNUM.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"debug/elf"
	"fmt"
)

// versionSet maps a .gnu.version index to the version name it names, built
// once from .gnu.version_r and .gnu.version_d. predecessors holds, for a
// Verdef index with more than one Verdaux entry, the name of the version it
// supersedes. files groups the Verneed indices contributed by each needed
// shared object, keyed by its vn_file string.
type versionSet struct {
	names        map[uint16]string
	predecessors map[uint16]string
	files        map[string][]uint16
}

// versionIdxForSymbol reads the .gnu.version entry for dynamic symbol index
// idx, or (0, false) if the image carries no version table.
func (o *Object) versionIdxForSymbol(idx int) (VersionIdx, bool) {
	if o.versym == nil {
		return 0, false
	}
	data, err := o.versym.Data(maxBytesLargeSection)
	if err != nil {
		return 0, false
	}
	off := idx * 2
	if off+2 > len(data) {
		return 0, false
	}
	return VersionIdx(leUint16(data[off:])), true
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// buildVersionSet walks .gnu.version_r and .gnu.version_d, collecting every
// version index's name. It is built once and cached on the Object.
func (o *Object) buildVersionSet() (*versionSet, error) {
	if o.versions != nil {
		return o.versions, nil
	}
	vs := &versionSet{
		names:        make(map[uint16]string),
		predecessors: make(map[uint16]string),
		files:        make(map[string][]uint16),
	}

	if err := o.walkVerneed(vs); err != nil {
		return nil, err
	}
	if err := o.walkVerdef(vs); err != nil {
		return nil, err
	}

	o.versions = vs
	return vs, nil
}

func (o *Object) walkVerneed(vs *versionSet) error {
	sec, err := o.getSection(".gnu.version_r", elf.SHT_GNU_VERNEED)
	if err != nil {
		return err
	}
	if sec == nil {
		return nil
	}
	data, err := sec.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	strs, err := o.getLinkedSection(sec.Link)
	if err != nil {
		return err
	}
	strdata, err := strs.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}

	n, _ := o.dynTag(elf.DT_VERNEEDNUM)
	needSz := uint64(len(sliceFrom(&Verneed{})))
	auxSz := uint64(len(sliceFrom(&Vernaux{})))

	off := uint64(0)
	for i := uint64(0); i < n && off+needSz <= uint64(len(data)); i++ {
		var vn Verneed
		copy(sliceFrom(&vn), data[off:off+needSz])
		file, _ := getString(strdata, int(vn.File))

		auxOff := off + uint64(vn.Aux)
		for j := uint16(0); j < vn.Cnt && auxOff+auxSz <= uint64(len(data)); j++ {
			var va Vernaux
			copy(sliceFrom(&va), data[auxOff:auxOff+auxSz])
			idx := va.Other &^ versionIdxHiddenBit
			if name, ok := getString(strdata, int(va.Name)); ok {
				vs.names[idx] = name
			}
			vs.files[file] = append(vs.files[file], idx)
			if va.Next == 0 {
				break
			}
			auxOff += uint64(va.Next)
		}

		if vn.Next == 0 {
			break
		}
		off += uint64(vn.Next)
	}
	return nil
}

func (o *Object) walkVerdef(vs *versionSet) error {
	sec, err := o.getSection(".gnu.version_d", elf.SHT_GNU_VERDEF)
	if err != nil {
		return err
	}
	if sec == nil {
		return nil
	}
	data, err := sec.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	strs, err := o.getLinkedSection(sec.Link)
	if err != nil {
		return err
	}
	strdata, err := strs.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}

	n, _ := o.dynTag(elf.DT_VERDEFNUM)
	defSz := uint64(len(sliceFrom(&Verdef{})))
	auxSz := uint64(len(sliceFrom(&Verdaux{})))

	off := uint64(0)
	for i := uint64(0); i < n && off+defSz <= uint64(len(data)); i++ {
		var vd Verdef
		copy(sliceFrom(&vd), data[off:off+defSz])

		auxOff := off + uint64(vd.Aux)
		idx := vd.Ndx &^ versionIdxHiddenBit
		if vd.Cnt >= 1 && auxOff+auxSz <= uint64(len(data)) {
			var va Verdaux
			copy(sliceFrom(&va), data[auxOff:auxOff+auxSz])
			if name, ok := getString(strdata, int(va.Name)); ok {
				vs.names[idx] = name
			}
			auxOff += uint64(va.Next)
		}
		if vd.Cnt >= 2 && auxOff+auxSz <= uint64(len(data)) {
			var va Verdaux
			copy(sliceFrom(&va), data[auxOff:auxOff+auxSz])
			if name, ok := getString(strdata, int(va.Name)); ok {
				vs.predecessors[idx] = name
			}
		}

		if vd.Next == 0 {
			break
		}
		off += uint64(vd.Next)
	}
	return nil
}

// SymbolVersion returns the version name bound to the .gnu.version entry for
// dynamic symbol index idx (a Symbol's Index field, as returned by
// LookupDynamicSymbol), or "" if the symbol is unversioned or the image
// carries no version tables.
func (o *Object) SymbolVersion(idx int) (string, error) {
	vidx, ok := o.versionIdxForSymbol(idx)
	if !ok {
		return "", nil
	}
	base := vidx.Index()
	if base == versionIdxLocal || base == versionIdxGlobal {
		return "", nil
	}
	vs, err := o.buildVersionSet()
	if err != nil {
		return "", fmt.Errorf("symbol version: %w", err)
	}
	return vs.names[base], nil
}

// SymbolVersionPredecessor returns the name of the version a Verdef entry
// supersedes, i.e. its second Verdaux entry, or "" if the index has none
// (the common case: most defined versions have exactly one Verdaux).
func (o *Object) SymbolVersionPredecessor(idx int) (string, error) {
	vidx, ok := o.versionIdxForSymbol(idx)
	if !ok {
		return "", nil
	}
	base := vidx.Index()
	if base == versionIdxLocal || base == versionIdxGlobal {
		return "", nil
	}
	vs, err := o.buildVersionSet()
	if err != nil {
		return "", fmt.Errorf("symbol version predecessor: %w", err)
	}
	return vs.predecessors[base], nil
}

// NeededVersions returns the version indices a needed shared object (as
// named in .gnu.version_r's vn_file) requires from this image.
func (o *Object) NeededVersions(file string) ([]uint16, error) {
	vs, err := o.buildVersionSet()
	if err != nil {
		return nil, fmt.Errorf("needed versions: %w", err)
	}
	return vs.files[file], nil
}
