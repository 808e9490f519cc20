/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildEmptyDex assembles the smallest buffer Parse will accept: a
// 112-byte header with every section empty, followed by a zero-length
// map_list.
func buildEmptyDex(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("dex\n035\x00")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum
	buf.Write(make([]byte, 20))                         // signature

	const headerSize = 112
	const mapOff = headerSize

	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write32(uint32(headerSize + 4)) // file_size
	write32(headerSize)             // header_size
	write32(0x12345678)             // endian_tag
	write32(0)                      // link_size
	write32(0)                      // link_off
	write32(mapOff)                 // map_off
	write32(0)                      // string_ids_size
	write32(0)                      // string_ids_off
	write32(0)                      // type_ids_size
	write32(0)                      // type_ids_off
	write32(0)                      // proto_ids_size
	write32(0)                      // proto_ids_off
	write32(0)                      // field_ids_size
	write32(0)                      // field_ids_off
	write32(0)                      // method_ids_size
	write32(0)                      // method_ids_off
	write32(0)                      // class_defs_size
	write32(0)                      // class_defs_off
	write32(0)                      // data_size
	write32(0)                      // data_off

	write32(0) // map_list item count

	if buf.Len() != headerSize+4 {
		t.Fatalf("built buffer of length %d, want %d", buf.Len(), headerSize+4)
	}
	return buf.Bytes()
}

func TestParse_EmptyDex(t *testing.T) {
	data := buildEmptyDex(t)
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Strings) != 0 || len(f.Classes) != 0 {
		t.Errorf("expected empty sections, got %d strings, %d classes", len(f.Strings), len(f.Classes))
	}
	if f.Header.HeaderSize != 112 {
		t.Errorf("header_size = %d, want 112", f.Header.HeaderSize)
	}
}

func TestParse_BadMagic(t *testing.T) {
	data := buildEmptyDex(t)
	data[0] = 'X'
	if _, err := Parse(data); err != ErrBadMagic {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}

func TestParse_TruncatedHeader(t *testing.T) {
	data := buildEmptyDex(t)
	if _, err := Parse(data[:20]); err == nil {
		t.Errorf("expected error for truncated header, got none")
	}
}

func TestParse_DexNameUsesChecksum(t *testing.T) {
	data := buildEmptyDex(t)
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.DexName(); got == "" {
		t.Errorf("DexName() returned empty string")
	}
}
