// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements the SysV and GNU dynamic symbol hash tables
// (DT_HASH / .hash and DT_GNU_HASH / .gnu.hash), used to resolve a symbol
// by name against the dynamic symbol table without a linear scan.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"debug/elf"
	"fmt"
)

// elfHash is the SysV symbol hash function (Figure 2-6 of the ELF
// specification, "elf_hash").
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*16 + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &= ^g
		}
	}
	return h
}

// gnuHash is the GNU symbol hash function used by .gnu.hash and the Bloom
// filter it embeds.
func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// hashAccelerator wraps whichever of DT_GNU_HASH / DT_HASH an image provides,
// so that LookupDynamicSymbol can try the (much faster) GNU hash first and fall
// back to the SysV hash only when a binary was built without it.
type hashAccelerator struct {
	gnuHeader  gnuHashHeader
	gnuBuckets []uint32
	gnuChain   []uint32
	gnuBloom   []uint64

	sysvHeader  sysvHashHeader
	sysvBuckets []uint32
	sysvChain   []uint32
}

// buildHashAccelerator reads and decodes whichever hash sections are present.
// It never errors outright: a missing or malformed hash section just leaves
// that half of the accelerator empty, so LookupDynamicSymbol can still fall
// back to a linear scan of the dynamic symbol table.
func (o *Object) buildHashAccelerator() *hashAccelerator {
	if o.hashBuilt {
		return o.hash
	}
	o.hashBuilt = true

	h := &hashAccelerator{}
	if sec, _ := o.getSection(".gnu.hash", elf.SHT_GNU_HASH); sec != nil {
		_ = h.loadGNUHash(sec)
	}
	if sec, _ := o.getSection(".hash", elf.SHT_HASH); sec != nil {
		_ = h.loadSysvHash(sec)
	}
	o.hash = h
	return h
}

func (h *hashAccelerator) loadGNUHash(sec *Section) error {
	data, err := sec.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	if len(data) < 16 {
		return fmt.Errorf("%w: .gnu.hash truncated", ErrMalformedELF)
	}
	copy(sliceFrom(&h.gnuHeader), data[:16])
	hdr := h.gnuHeader

	off := 16
	bloomWords := int(hdr.BloomSize)
	if need := off + bloomWords*8; need > len(data) {
		return fmt.Errorf("%w: .gnu.hash bloom filter truncated", ErrMalformedELF)
	}
	h.gnuBloom = make([]uint64, bloomWords)
	for i := range h.gnuBloom {
		h.gnuBloom[i] = leUint64(data[off+i*8:])
	}
	off += bloomWords * 8

	if need := off + int(hdr.NBuckets)*4; need > len(data) {
		return fmt.Errorf("%w: .gnu.hash buckets truncated", ErrMalformedELF)
	}
	h.gnuBuckets = make([]uint32, hdr.NBuckets)
	for i := range h.gnuBuckets {
		h.gnuBuckets[i] = leUint32(data[off+i*4:])
	}
	off += int(hdr.NBuckets) * 4

	// The chain runs from SymOffset to the end of the dynamic symbol table;
	// we don't know that count here, so read however much is left.
	n := (len(data) - off) / 4
	h.gnuChain = make([]uint32, n)
	for i := range h.gnuChain {
		h.gnuChain[i] = leUint32(data[off+i*4:])
	}
	return nil
}

func (h *hashAccelerator) loadSysvHash(sec *Section) error {
	data, err := sec.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	if len(data) < 8 {
		return fmt.Errorf("%w: .hash truncated", ErrMalformedELF)
	}
	copy(sliceFrom(&h.sysvHeader), data[:8])
	hdr := h.sysvHeader

	off := 8
	if need := off + int(hdr.NBucket)*4; need > len(data) {
		return fmt.Errorf("%w: .hash buckets truncated", ErrMalformedELF)
	}
	h.sysvBuckets = make([]uint32, hdr.NBucket)
	for i := range h.sysvBuckets {
		h.sysvBuckets[i] = leUint32(data[off+i*4:])
	}
	off += int(hdr.NBucket) * 4

	if need := off + int(hdr.NChain)*4; need > len(data) {
		return fmt.Errorf("%w: .hash chain truncated", ErrMalformedELF)
	}
	h.sysvChain = make([]uint32, hdr.NChain)
	for i := range h.sysvChain {
		h.sysvChain[i] = leUint32(data[off+i*4:])
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}

// lookupGNU searches the GNU hash table for name, returning the dynamic
// symbol index or (0, false) if the Bloom filter or bucket chain rules it
// out. getName is used to fetch a candidate symbol's name for the final
// string comparison.
func (h *hashAccelerator) lookupGNU(name string, getName func(idx uint32) (string, bool)) (uint32, bool) {
	if len(h.gnuBuckets) == 0 {
		return 0, false
	}
	hash := gnuHash(name)

	wordBits := uint32(64)
	word := h.gnuBloom[(hash/wordBits)%h.gnuHeader.BloomSize]
	mask := uint64(1)<<(hash%wordBits) | uint64(1)<<((hash>>h.gnuHeader.BloomShift)%wordBits)
	if word&mask != mask {
		return 0, false
	}

	idx := h.gnuBuckets[hash%h.gnuHeader.NBuckets]
	if idx < h.gnuHeader.SymOffset {
		return 0, false
	}

	for {
		chainIdx := idx - h.gnuHeader.SymOffset
		if int(chainIdx) >= len(h.gnuChain) {
			return 0, false
		}
		chainHash := h.gnuChain[chainIdx]
		if chainHash|1 == hash|1 {
			if got, ok := getName(idx); ok && got == name {
				return idx, true
			}
		}
		if chainHash&1 != 0 {
			// Low bit of the chain entry marks the last symbol in the bucket.
			return 0, false
		}
		idx++
	}
}

// lookupSysv searches the legacy SysV hash table for name.
func (h *hashAccelerator) lookupSysv(name string, getName func(idx uint32) (string, bool)) (uint32, bool) {
	if len(h.sysvBuckets) == 0 {
		return 0, false
	}
	hash := elfHash(name)
	idx := h.sysvBuckets[hash%h.sysvHeader.NBucket]
	for idx != 0 {
		if got, ok := getName(idx); ok && got == name {
			return idx, true
		}
		if int(idx) >= len(h.sysvChain) {
			return 0, false
		}
		idx = h.sysvChain[idx]
	}
	return 0, false
}
