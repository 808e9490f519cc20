/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package natives wraps a shared object's ELF structure for the symbol
// and byte-pattern lookups the analysis façade runs over an APK's
// lib/<abi>/*.so entries.
package natives

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// Binary is a lazily parsed native shared object. Parsing defers to
// first access since an APK can carry native libraries for every ABI it
// supports and a given analysis run typically only touches one.
type Binary struct {
	name string
	data []byte
	f    *elf.File
}

// New wraps raw .so bytes; the ELF header is not read until the first
// Find* call.
func New(name string, data []byte) *Binary {
	return &Binary{name: name, data: data}
}

// Name returns the archive-relative path this binary was loaded from.
func (b *Binary) Name() string { return b.name }

func (b *Binary) ensureParsed() error {
	if b.f != nil {
		return nil
	}
	f, err := elf.NewFile(bytes.NewReader(b.data))
	if err != nil {
		return fmt.Errorf("natives: parsing %q: %w", b.name, err)
	}
	b.f = f
	return nil
}

// ImportedLibraries returns the shared object names this binary's
// dynamic section lists as dependencies (DT_NEEDED), mirroring the
// original analyzer's elf.libraries field.
func (b *Binary) ImportedLibraries() ([]string, error) {
	if err := b.ensureParsed(); err != nil {
		return nil, err
	}
	libs, err := b.f.ImportedLibraries()
	if err != nil {
		return nil, fmt.Errorf("natives: reading imported libraries of %q: %w", b.name, err)
	}
	return libs, nil
}

// Symbol is one entry out of .dynsym: a name and its resolved virtual
// address, with the architecture-appropriate Thumb-bit mask already
// applied.
type Symbol struct {
	Name    string
	Address uint64
}

// thumbBitMask clears the Thumb tag ARM toolchains set on a function's
// low address bit; every other architecture's addresses pass through
// unmodified.
func thumbBitMask(machine elf.Machine, addr uint64) uint64 {
	if machine == elf.EM_ARM {
		return addr &^ 1
	}
	return addr
}

// FindExportedFunctions returns every defined (non-import) function
// symbol in .dynsym.
func (b *Binary) FindExportedFunctions() ([]Symbol, error) {
	if err := b.ensureParsed(); err != nil {
		return nil, err
	}
	syms, err := b.f.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("natives: reading dynamic symbols of %q: %w", b.name, err)
	}
	var out []Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section == elf.SHN_UNDEF {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Address: thumbBitMask(b.f.Machine, s.Value)})
	}
	return out, nil
}

// FindImportedFunctions returns every undefined function symbol in
// .dynsym -- the binary's external dependencies.
func (b *Binary) FindImportedFunctions() ([]Symbol, error) {
	if err := b.ensureParsed(); err != nil {
		return nil, err
	}
	syms, err := b.f.DynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("natives: reading dynamic symbols of %q: %w", b.name, err)
	}
	var out []Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Section != elf.SHN_UNDEF {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Address: thumbBitMask(b.f.Machine, s.Value)})
	}
	return out, nil
}

// StringMatch is one null-terminated C string found in .rodata, with
// the section-relative byte offset it starts at.
type StringMatch struct {
	Offset uint64
	Text   string
}

// FindStrings scans .rodata for null-terminated ASCII runs at least
// minLen bytes long.
func (b *Binary) FindStrings(minLen int) ([]StringMatch, error) {
	if err := b.ensureParsed(); err != nil {
		return nil, err
	}
	sec := b.f.Section(".rodata")
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("natives: reading .rodata of %q: %w", b.name, err)
	}

	var out []StringMatch
	start := -1
	for i := 0; i <= len(data); i++ {
		isPrintable := i < len(data) && data[i] >= 0x20 && data[i] < 0x7f
		if isPrintable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if i-start >= minLen && i < len(data) && data[i] == 0 {
				out = append(out, StringMatch{Offset: uint64(start), Text: string(data[start:i])})
			}
			start = -1
		}
	}
	return out, nil
}

// BytePattern is a wildcard-bearing byte sequence (positions flagged in
// Wildcard match anything) searched over a section's raw bytes.
type BytePattern struct {
	Bytes    []byte
	Wildcard []bool // true at index i means Bytes[i] matches any byte
}

// FindBytePattern searches sectionName (".rodata" or ".text" are the
// two spec names) for every offset pat matches, wildcards included.
func (b *Binary) FindBytePattern(sectionName string, pat BytePattern) ([]uint64, error) {
	if err := b.ensureParsed(); err != nil {
		return nil, err
	}
	sec := b.f.Section(sectionName)
	if sec == nil {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("natives: reading %q of %q: %w", sectionName, b.name, err)
	}

	var matches []uint64
	for off := 0; off+len(pat.Bytes) <= len(data); off++ {
		if matchesAt(data, off, pat) {
			matches = append(matches, uint64(off))
		}
	}
	return matches, nil
}

func matchesAt(data []byte, off int, pat BytePattern) bool {
	for i, want := range pat.Bytes {
		if i < len(pat.Wildcard) && pat.Wildcard[i] {
			continue
		}
		if data[off+i] != want {
			return false
		}
	}
	return true
}
