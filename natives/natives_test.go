/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package natives

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildEmptyELF assembles a minimal valid 64-bit little-endian ELF
// header with zero sections -- enough for debug/elf.NewFile to accept,
// the same construction LineageOS-android_build_soong's elf_test.go
// uses to exercise its own ELF reader against a file with no sections.
func buildEmptyELF(t *testing.T, machine elf.Machine) []byte {
	t.Helper()
	var ident [elf.EI_NIDENT]byte
	identBuf := bytes.NewBuffer(ident[0:0:elf.EI_NIDENT])
	binary.Write(identBuf, binary.LittleEndian, []byte("\x7fELF"))
	binary.Write(identBuf, binary.LittleEndian, byte(elf.ELFCLASS64))
	binary.Write(identBuf, binary.LittleEndian, byte(elf.ELFDATA2LSB))
	binary.Write(identBuf, binary.LittleEndian, byte(elf.EV_CURRENT))
	binary.Write(identBuf, binary.LittleEndian, byte(elf.ELFOSABI_LINUX))
	binary.Write(identBuf, binary.LittleEndian, make([]byte, 8))
	copy(ident[:], identBuf.Bytes())

	header := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     uint64(binary.Size(elf.Header64{})),
		Shoff:     0,
		Ehsize:    uint16(binary.Size(elf.Header64{})),
		Phentsize: 0x38,
		Shentsize: 0x40,
	}
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, header)
	return buf.Bytes()
}

func TestFindExportedFunctions_ErrorsWithoutDynsym(t *testing.T) {
	b := New("libfoo.so", buildEmptyELF(t, elf.EM_ARM))
	if _, err := b.FindExportedFunctions(); err == nil {
		t.Fatalf("expected an error reading dynamic symbols from a section-less ELF")
	}
}

func TestFindStrings_NilWithoutRodata(t *testing.T) {
	b := New("libfoo.so", buildEmptyELF(t, elf.EM_AARCH64))
	matches, err := b.FindStrings(4)
	if err != nil {
		t.Fatalf("FindStrings: %v", err)
	}
	if matches != nil {
		t.Fatalf("expected nil matches for an ELF with no .rodata, got %v", matches)
	}
}

func TestThumbBitMask_ClearsLSBOnlyForARM(t *testing.T) {
	if got := thumbBitMask(elf.EM_ARM, 0x1001); got != 0x1000 {
		t.Fatalf("thumbBitMask(ARM, 0x1001) = 0x%x, want 0x1000", got)
	}
	if got := thumbBitMask(elf.EM_AARCH64, 0x1001); got != 0x1001 {
		t.Fatalf("thumbBitMask(AARCH64, 0x1001) = 0x%x, want unchanged 0x1001", got)
	}
}

func TestMatchesAt_HonorsWildcards(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	pat := BytePattern{Bytes: []byte{0xAA, 0x00, 0xCC}, Wildcard: []bool{false, true, false}}
	if !matchesAt(data, 0, pat) {
		t.Fatalf("expected pattern with wildcard at index 1 to match")
	}
	pat2 := BytePattern{Bytes: []byte{0xAA, 0x99, 0xCC}, Wildcard: []bool{false, false, false}}
	if matchesAt(data, 0, pat2) {
		t.Fatalf("expected a literal mismatch at index 1 to fail")
	}
}
