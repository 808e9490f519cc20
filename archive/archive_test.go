/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"
)

// buildEmptyDex assembles the smallest buffer dex.Parse will accept: a
// 112-byte header with every section empty, followed by a zero-length
// map_list. Mirrors dex.buildEmptyDex, duplicated here since that
// helper is unexported in its own package.
func buildEmptyDex(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("dex\n035\x00")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.Write(make([]byte, 20))

	const headerSize = 112
	const mapOff = headerSize
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write32(uint32(headerSize + 4)) // file_size
	write32(headerSize)             // header_size
	write32(0x12345678)             // endian_tag
	write32(0)                      // link_size
	write32(0)                      // link_off
	write32(mapOff)                 // map_off
	for i := 0; i < 14; i++ {
		write32(0) // string/type/proto/field/method ids, class_defs, data (size+off pairs)
	}
	write32(0) // map_list item count
	return buf.Bytes()
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func TestOpen_GroupsClassesAndClasses2(t *testing.T) {
	data := buildZip(t, map[string][]byte{
		"classes.dex":  buildEmptyDex(t),
		"classes2.dex": buildEmptyDex(t),
		"lib/x86/libfoo.so": {0x7f, 'E', 'L', 'F'},
	})
	files, err := Open(bytes.NewReader(data), int64(len(data)), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(files.MultiDex) != 1 {
		t.Fatalf("MultiDex groups = %d, want 1", len(files.MultiDex))
	}
	g := files.MultiDex[0]
	if g.Primary == nil || len(g.Secondary) != 1 {
		t.Fatalf("expected one primary + one secondary DEX, got primary=%v secondary=%d", g.Primary, len(g.Secondary))
	}
	if _, ok := files.Binaries["lib/x86/libfoo.so"]; !ok {
		t.Fatalf("expected libfoo.so kept as a raw binary")
	}
}

func TestOpen_RecursesIntoNestedZip(t *testing.T) {
	inner := buildZip(t, map[string][]byte{"classes.dex": buildEmptyDex(t)})
	outer := buildZip(t, map[string][]byte{"base.apk": inner})

	files, err := Open(bytes.NewReader(outer), int64(len(outer)), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(files.MultiDex) != 1 {
		t.Fatalf("MultiDex groups = %d, want 1 (from the nested archive)", len(files.MultiDex))
	}
}

func TestOpen_MaxDepthStopsRecursion(t *testing.T) {
	inner := buildZip(t, map[string][]byte{"classes.dex": buildEmptyDex(t)})
	outer := buildZip(t, map[string][]byte{"base.apk": inner})

	files, err := Open(bytes.NewReader(outer), int64(len(outer)), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(files.MultiDex) != 0 {
		t.Fatalf("MultiDex groups = %d, want 0 (nested archive should be kept raw at depth 1)", len(files.MultiDex))
	}
	if _, ok := files.Binaries["base.apk"]; !ok {
		t.Fatalf("expected base.apk kept as a raw binary once max depth was reached")
	}
}
