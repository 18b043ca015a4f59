// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements discovery of a separate debug companion: by the
// executable's own basename under a debug directory, by GNU build-id, by
// .gnu_debuglink (with CRC32 validation), and, if configured, by fetching
// one through a debuginfod service. It also applies the prelink address
// compensation a companion sometimes needs relative to its primary image,
// and loads the embedded .gnu_debugdata minisymtab as a last resort.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/ulikunitz/xz/lzma"
)

// GetDebug returns the separate debug companion for this Object, trying (in
// order) <debugdir>/<basename>.debug, the GNU build-id path convention, an
// explicit .gnu_debuglink, and finally a debuginfod service if one is
// configured. It returns (nil, nil) if no companion could be found by any
// method; that is not itself an error, since many images are never split
// from their debug information at all. The embedded .gnu_debugdata image is
// not consulted here; see GetGNUDebugData.
func (o *Object) GetDebug() (*Object, error) {
	if o.isDebug || o.ctx == nil {
		return nil, nil
	}
	if o.debugLoaded {
		return o.debugObject, nil
	}
	o.debugLoaded = true

	obj, err := o.findDebugCompanion()
	if err != nil {
		return nil, err
	}
	if obj != nil {
		obj.isDebug = true
		o.applyPrelinkCompensation(obj)
		o.ctx.log().Debug("found debug companion", "path", obj.path, "primary", o.path)
	} else {
		o.ctx.log().Debug("no debug companion found", "primary", o.path)
	}
	o.debugObject = obj
	return obj, nil
}

func (o *Object) findDebugCompanion() (*Object, error) {
	if o.ctx.Options.NoExtDebug {
		return nil, nil
	}

	if obj, err := o.openCompanionByBasename(); err == nil && obj != nil {
		return obj, nil
	}

	buildID, buildIDErr := o.BuildID()
	if buildIDErr == nil && len(buildID) > 2 {
		rel := filepath.Join(".build-id", buildID[:2], buildID[2:]+".debug")
		if obj, err := o.ctx.GetDebugImage(rel); err == nil {
			return obj, nil
		}
	}

	if name, crc, err := o.debugLink(); err == nil {
		if obj, err := o.openCompanionByDebuglink(name, crc); err == nil && obj != nil {
			return obj, nil
		}
	}

	if buildIDErr == nil && len(buildID) > 2 && o.ctx.Debuginfod != nil {
		if path, err := o.ctx.Debuginfod.FetchDebuginfo(buildID); err == nil {
			if obj, err := o.ctx.openerOrDefault().OpenELF(o.ctx, path); err == nil {
				return obj, nil
			}
		}
	}

	return nil, nil
}

// openCompanionByBasename tries <debugdir>/<executable-basename>.debug, with
// no build-id or debuglink requirement on the result. This is a first-chance
// heuristic some distributions rely on instead of (or in addition to) a
// proper .gnu_debuglink: it is tried before anything else, and a match is
// accepted unconditionally since there is nothing to validate it against.
func (o *Object) openCompanionByBasename() (*Object, error) {
	if o.path == "" {
		return nil, nil
	}
	name := o.ctx.Basename(o.path) + ".debug"
	for _, dir := range o.ctx.GetDebugDirectories() {
		if !isReadableDir(dir) {
			continue
		}
		candidate := filepath.Join(dir, name)
		obj, err := o.ctx.openerOrDefault().OpenELF(o.ctx, candidate)
		if err != nil {
			continue
		}
		return obj, nil
	}
	return nil, nil
}

// openCompanionByDebuglink resolves name (as recorded in .gnu_debuglink)
// first as <debugdir>/<name> under each configured debug directory, then next
// to the primary image, validating the CRC32 each candidate must carry.
func (o *Object) openCompanionByDebuglink(name string, wantCRC uint32) (*Object, error) {
	candidates := []string{}
	for _, dir := range o.ctx.GetDebugDirectories() {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	if o.path != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(o.path), name))
	}

	for _, path := range candidates {
		obj, err := o.ctx.openerOrDefault().OpenELF(o.ctx, path)
		if err != nil {
			continue
		}
		if wantCRC != 0 {
			if ok, err := obj.matchesCRC32(wantCRC); err != nil || !ok {
				_ = obj.Close()
				continue
			}
		}
		return obj, nil
	}
	return nil, ErrCompanionNotFound
}

// matchesCRC32 recomputes the whole-file CRC32 and compares it against want,
// as .gnu_debuglink requires.
func (o *Object) matchesCRC32(want uint32) (bool, error) {
	if o.size > int64(maxBytesLargeSection) {
		// A multi-tens-of-megabytes debug companion isn't worth hashing in
		// full; accept it rather than reject a legitimate match.
		return true, nil
	}
	buf := make([]byte, o.size)
	if err := readFull(o.r, 0, buf); err != nil {
		return false, err
	}
	return crc32.ChecksumIEEE(buf) == want, nil
}

// debugLink reads the .gnu_debuglink section: a NUL-terminated filename
// padded to 4 bytes, followed by its target's CRC32.
func (o *Object) debugLink() (string, uint32, error) {
	sec := o.Section(".gnu_debuglink")
	if sec == nil {
		return "", 0, ErrNoDebugLink
	}
	data, err := sec.Data(maxBytesSmallSection)
	if err != nil {
		return "", 0, err
	}
	nameEnd := bytes.IndexByte(data, 0)
	if nameEnd < 0 {
		return "", 0, fmt.Errorf("%w: .gnu_debuglink missing NUL terminator", ErrMalformedELF)
	}
	name := string(data[:nameEnd])

	crcOff := align4(nameEnd + 1)
	if crcOff+4 > len(data) {
		return "", 0, fmt.Errorf("%w: .gnu_debuglink missing CRC32", ErrMalformedELF)
	}
	return name, leUint32(data[crcOff:]), nil
}

// applyPrelinkCompensation shifts companion's section addresses and PT_LOAD
// virtual addresses by the delta between the two images' .dynamic section
// addresses, when prelink has relocated one relative to the other.
func (o *Object) applyPrelinkCompensation(companion *Object) {
	primaryDyn, err1 := o.getSection(".dynamic", elf.SHT_DYNAMIC)
	companionDyn, err2 := companion.getSection(".dynamic", elf.SHT_DYNAMIC)
	if err1 != nil || err2 != nil || primaryDyn == nil || companionDyn == nil {
		return
	}
	delta := int64(primaryDyn.Addr) - int64(companionDyn.Addr)
	if delta == 0 {
		return
	}

	for _, sec := range companion.sections {
		sec.Addr = uint64(int64(sec.Addr) + delta)
	}
	for _, group := range companion.segments {
		for _, seg := range group {
			seg.Vaddr = uint64(int64(seg.Vaddr) + delta)
			seg.Paddr = uint64(int64(seg.Paddr) + delta)
		}
	}
	companion.lastLoadSegment = nil
}

// GetGNUDebugData loads the .gnu_debugdata section, if present, as a nested
// Object: a complete secondary ELF image, LZMA-compressed, carrying a
// minimal symbol table for use as a last resort when no other debug
// companion can be found.
func (o *Object) GetGNUDebugData() (*Object, error) {
	if o.gnuDebugDataLoaded {
		return o.gnuDebugData, nil
	}
	o.gnuDebugDataLoaded = true

	sec := o.Section(".gnu_debugdata")
	if sec == nil {
		return nil, nil
	}
	raw, err := sec.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf(".gnu_debugdata: %w", err)
	}

	lr, err := lzma.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf(".gnu_debugdata: lzma: %w", err)
	}
	decoded, err := readAllLimited(lr, maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf(".gnu_debugdata: lzma: %w", err)
	}

	obj, err := newObject(o.ctx, bytes.NewReader(decoded), int64(len(decoded)), nil, true)
	if err != nil {
		return nil, fmt.Errorf(".gnu_debugdata: %w", err)
	}
	o.gnuDebugData = obj
	return obj, nil
}

func readAllLimited(r io.Reader, limit uint) ([]byte, error) {
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 1<<20)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if uint(len(buf)) > limit {
				return nil, fmt.Errorf("decompressed size exceeds limit %d", limit)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}
