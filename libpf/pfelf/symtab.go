// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// This file implements symbol table access: resolving a symbol by name
// (preferring the hash accelerators in hash.go, falling back to a linear
// scan) and resolving a symbol by address for the unwinder's stack-walk.

package pfelf // import "github.com/tracepath/elfimage/libpf/pfelf"

import (
	"debug/elf"

	"github.com/ianlancetaylor/demangle"
)

// Symbol is a resolved ELF symbol table entry.
type Symbol struct {
	Name    string
	Value   uint64
	Size    uint64
	Info    elf.SymType
	Bind    elf.SymBind
	Shndx   elf.SectionIndex
	Section *Section

	// Index is the symbol's entry index in whichever table (.dynsym or
	// .symtab) produced it. For a dynamic symbol, this is the index
	// SymbolVersion/SymbolVersionPredecessor expect.
	Index int
}

// DemangledName returns the symbol's name run through the Itanium C++ (and
// Rust/Go, where recognizable) demangler, unchanged if it isn't a mangled
// name demangle recognizes.
func (s Symbol) DemangledName() string {
	return demangle.Filter(s.Name)
}

// symbolTable wraps a SHT_SYMTAB or SHT_DYNSYM section with lazily parsed,
// cached symbol records.
type symbolTable struct {
	sec     *Section
	strtab  *Section
	entries []elf.Sym64
	built   bool

	// nameIndex and nameIndexBuilt are not populated by this package: the
	// name index over the debug (SHT_SYMTAB) table that LookupDebugSymbol
	// uses is kept in Object.debugSymIndex instead.
	nameIndex      map[string]int
	nameIndexBuilt bool
}

func newSymbolTable(sec, strtab *Section) *symbolTable {
	return &symbolTable{sec: sec, strtab: strtab}
}

func (t *symbolTable) load() error {
	if t.built {
		return nil
	}
	t.built = true
	if t.sec == nil {
		return nil
	}
	data, err := t.sec.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	entSz := int(sizeOfSym64)
	n := len(data) / entSz
	t.entries = make([]elf.Sym64, n)
	copy(sliceFrom(t.entries), data[:n*entSz])
	return nil
}

// symbolName resolves entry idx's name via the linked string table.
func (t *symbolTable) symbolName(idx int) (string, bool) {
	if idx < 0 || idx >= len(t.entries) || t.strtab == nil {
		return "", false
	}
	strs, err := t.strtab.Data(maxBytesLargeSection)
	if err != nil {
		return "", false
	}
	return getString(strs, int(t.entries[idx].Name))
}

func (t *symbolTable) symbol(idx int) (Symbol, bool) {
	if idx < 0 || idx >= len(t.entries) {
		return Symbol{}, false
	}
	raw := t.entries[idx]
	name, _ := t.symbolName(idx)
	return Symbol{
		Name:  name,
		Value: raw.Value,
		Size:  raw.Size,
		Info:  elf.ST_TYPE(raw.Info),
		Bind:  elf.ST_BIND(raw.Info),
		Shndx: elf.SectionIndex(raw.Shndx),
		Index: idx,
	}, true
}

var sizeOfSym64 = uint64(len(sliceFrom(&elf.Sym64{})))

// dynamicSymbols lazily loads and returns the .dynsym table.
func (o *Object) dynamicSymbols() (*symbolTable, error) {
	if o.dynsym == nil {
		sec, err := o.getSection(".dynsym", elf.SHT_DYNSYM)
		if err != nil {
			return nil, err
		}
		var strtab *Section
		if sec != nil {
			strtab, err = o.getLinkedSection(sec.Link)
			if err != nil {
				return nil, err
			}
		}
		o.dynsym = newSymbolTable(sec, strtab)
	}
	if err := o.dynsym.load(); err != nil {
		return nil, err
	}
	return o.dynsym, nil
}

// debugSymbols lazily loads and returns the full (non-dynamic) .symtab
// table, present only in unstripped images.
func (o *Object) debugSymbols() (*symbolTable, error) {
	if o.symtab == nil {
		sec, err := o.getSection(".symtab", elf.SHT_SYMTAB)
		if err != nil {
			return nil, err
		}
		var strtab *Section
		if sec != nil {
			strtab, err = o.getLinkedSection(sec.Link)
			if err != nil {
				return nil, err
			}
		}
		o.symtab = newSymbolTable(sec, strtab)
	}
	if err := o.symtab.load(); err != nil {
		return nil, err
	}
	return o.symtab, nil
}

// LookupDynamicSymbol resolves name against the dynamic symbol table,
// preferring the GNU hash accelerator, falling back to the SysV hash, and
// finally to a linear scan if the image has neither (invariant I4). Returns
// ErrSymbolNotFound if no symbol by that name exists.
func (o *Object) LookupDynamicSymbol(name string) (Symbol, error) {
	dynsym, err := o.dynamicSymbols()
	if err != nil {
		return Symbol{}, err
	}
	if dynsym.sec == nil {
		return Symbol{}, ErrSymbolNotFound
	}

	h := o.buildHashAccelerator()
	getName := func(idx uint32) (string, bool) { return dynsym.symbolName(int(idx)) }

	if idx, ok := h.lookupGNU(name, getName); ok {
		sym, _ := dynsym.symbol(int(idx))
		sym.Section = o.SectionByIndex(int(sym.Shndx))
		return sym, nil
	}
	if idx, ok := h.lookupSysv(name, getName); ok {
		sym, _ := dynsym.symbol(int(idx))
		sym.Section = o.SectionByIndex(int(sym.Shndx))
		return sym, nil
	}
	if len(h.gnuBuckets) == 0 && len(h.sysvBuckets) == 0 {
		for i := range dynsym.entries {
			if n, _ := dynsym.symbolName(i); n == name {
				sym, _ := dynsym.symbol(i)
				sym.Section = o.SectionByIndex(int(sym.Shndx))
				return sym, nil
			}
		}
	}
	return Symbol{}, ErrSymbolNotFound
}

// LookupDebugSymbol resolves name against the full (debug) symbol table,
// building and caching a name index on first use (invariant I3: the cache is
// built at most once, lazily).
func (o *Object) LookupDebugSymbol(name string) (Symbol, error) {
	symtab, err := o.debugSymbols()
	if err != nil {
		return Symbol{}, err
	}
	if symtab.sec == nil {
		return Symbol{}, ErrSymbolNotFound
	}
	if !o.debugSymIndexBuilt {
		o.debugSymIndexBuilt = true
		o.debugSymIndex = make(map[string]int, len(symtab.entries))
		for i := range symtab.entries {
			n, ok := symtab.symbolName(i)
			if !ok || n == "" {
				continue
			}
			if _, exists := o.debugSymIndex[n]; !exists {
				o.debugSymIndex[n] = i
			}
		}
	}
	idx, ok := o.debugSymIndex[name]
	if !ok {
		return Symbol{}, ErrSymbolNotFound
	}
	sym, _ := symtab.symbol(idx)
	sym.Section = o.SectionByIndex(int(sym.Shndx))
	return sym, nil
}

// LookupSymbolByAddress finds the symbol covering addr: scans .symtab, then
// .dynsym, in file order, returning the first covering match immediately.
// A candidate whose st_shndx is out of bounds, whose type filter does not
// match, whose Value exceeds addr, or whose [Value, Value+Size) range ends
// at or before addr is skipped — except that a zero-size symbol located
// exactly at addr is remembered as a fallback and the scan continues, since
// a later entry might still produce a genuine covering match. A covering
// match additionally requires its section to carry SHF_ALLOC; the zero-size
// fallback does not (preserving the asymmetry of the original algorithm,
// which only checks SHF_ALLOC on the covering-match path). If neither table
// yields anything, the embedded .gnu_debugdata mini-image, if present, is
// loaded and consulted as a last resort. typ restricts matches to a single
// elf.SymType, or pass elf.STT_NOTYPE to accept symbols of any type
// (STT_SECTION and STT_FILE entries included). The debug companion returned
// by GetDebug is not consulted.
func (o *Object) LookupSymbolByAddress(addr uint64, typ elf.SymType) (Symbol, error) {
	var fallback *Symbol

	for _, loadTable := range []func() (*symbolTable, error){o.debugSymbols, o.dynamicSymbols} {
		t, err := loadTable()
		if err != nil || t.sec == nil {
			continue
		}
		for i, raw := range t.entries {
			st := elf.ST_TYPE(raw.Info)
			if typ != elf.STT_NOTYPE && st != typ {
				continue
			}
			if raw.Shndx != 0 && o.SectionByIndex(int(raw.Shndx)) == nil {
				continue
			}
			if raw.Value > addr {
				continue
			}
			if raw.Value+raw.Size <= addr {
				if raw.Size == 0 && raw.Value == addr && fallback == nil {
					sym, _ := t.symbol(i)
					fallback = &sym
				}
				continue
			}
			sec := o.SectionByIndex(int(raw.Shndx))
			if sec == nil || sec.Flags&elf.SHF_ALLOC == 0 {
				continue
			}
			sym, _ := t.symbol(i)
			sym.Section = sec
			return sym, nil
		}
	}

	if dd, err := o.GetGNUDebugData(); err == nil && dd != nil {
		if sym, err := dd.LookupSymbolByAddress(addr, typ); err == nil {
			return sym, nil
		}
	}

	if fallback != nil {
		return *fallback, nil
	}
	return Symbol{}, ErrSymbolNotFound
}
