/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package android

import (
	"encoding/binary"
	"testing"
)

// axmlBuilder assembles a minimal well-formed AXML byte stream: a
// string pool followed by a flat sequence of tag-start/tag-end chunks,
// enough to exercise DecodeManifest without a real-world sample.
type axmlBuilder struct {
	strings []string
	index   map[string]uint32
	chunks  [][]byte
}

func newAXMLBuilder() *axmlBuilder {
	return &axmlBuilder{index: map[string]uint32{}}
}

func (b *axmlBuilder) str(s string) uint32 {
	if idx, ok := b.index[s]; ok {
		return idx
	}
	idx := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.index[s] = idx
	return idx
}

func le16(v uint16) []byte { out := make([]byte, 2); binary.LittleEndian.PutUint16(out, v); return out }
func le32(v uint32) []byte { out := make([]byte, 4); binary.LittleEndian.PutUint32(out, v); return out }

func (b *axmlBuilder) tagStart(name string, attrs map[string]string) {
	nameIdx := b.str(name)
	var body []byte
	body = append(body, le32(0xFFFFFFFF)...) // namespace
	body = append(body, le32(nameIdx)...)
	body = append(body, le16(0)...)                    // attrStart
	body = append(body, le16(20)...)                    // attrSize
	body = append(body, le16(uint16(len(attrs)))...)   // attrCount
	body = append(body, le16(0)...)                    // idIndex
	body = append(body, le16(0)...)                    // classIndex
	body = append(body, le16(0)...)                    // styleIndex
	for attrName, attrVal := range attrs {
		nsIdx := uint32(0xFFFFFFFF)
		body = append(body, le32(nsIdx)...)
		body = append(body, le32(b.str(attrName))...)
		body = append(body, le32(b.str(attrVal))...) // rawValue
		body = append(body, le16(8)...)              // typed_value.size
		body = append(body, byte(0))                 // res0
		body = append(body, byte(typeString))         // dataType
		body = append(body, le32(0)...)               // data (unused, string resolved via rawValue)
	}
	b.chunks = append(b.chunks, chunk(chunkXMLTagStart, body))
}

func (b *axmlBuilder) tagEnd(name string) {
	var body []byte
	body = append(body, le32(0xFFFFFFFF)...)
	body = append(body, le32(b.str(name))...)
	b.chunks = append(b.chunks, chunk(chunkXMLTagEnd, body))
}

func chunk(typ uint16, body []byte) []byte {
	var out []byte
	out = append(out, le16(typ)...)
	out = append(out, le16(8)...)
	out = append(out, le32(uint32(8+len(body)))...)
	out = append(out, body...)
	return out
}

func (b *axmlBuilder) build() []byte {
	var poolBody []byte
	poolBody = append(poolBody, le32(uint32(len(b.strings)))...) // stringCount
	poolBody = append(poolBody, le32(0)...)                      // styleCount
	poolBody = append(poolBody, le32(0)...)                      // flags (UTF-16)
	poolBody = append(poolBody, le32(0)...)                      // stringsStart placeholder
	poolBody = append(poolBody, le32(0)...)                      // stylesStart

	var entries [][]byte
	for _, s := range b.strings {
		units := []uint16{}
		for _, r := range s {
			units = append(units, uint16(r))
		}
		var e []byte
		e = append(e, le16(uint16(len(units)))...)
		for _, u := range units {
			e = append(e, le16(u)...)
		}
		e = append(e, le16(0)...) // null terminator
		entries = append(entries, e)
	}

	offsets := make([]byte, 0, 4*len(entries))
	var off uint32
	var flat []byte
	for _, e := range entries {
		offsets = append(offsets, le32(off)...)
		flat = append(flat, e...)
		off += uint32(len(e))
	}

	stringsStart := uint32(20 + len(offsets))
	binary.LittleEndian.PutUint32(poolBody[12:16], stringsStart)
	poolBody = append(poolBody, offsets...)
	poolBody = append(poolBody, flat...)

	var out []byte
	out = append(out, chunk(chunkStringPool, poolBody)...)
	for _, c := range b.chunks {
		out = append(out, c...)
	}

	top := chunk(chunkXMLResource, out)
	return top
}

func TestDecodeManifest_BuildsPackageAndPermission(t *testing.T) {
	b := newAXMLBuilder()
	b.tagStart("manifest", map[string]string{"package": "com.example.app"})
	b.tagStart("uses-permission", map[string]string{"name": "android.permission.INTERNET"})
	b.tagEnd("uses-permission")
	b.tagEnd("manifest")

	m, err := DecodeManifest(b.build(), nil, nil)
	if err != nil {
		t.Fatalf("DecodeManifest: %v", err)
	}
	if m.Package != "com.example.app" {
		t.Fatalf("Package = %q, want %q", m.Package, "com.example.app")
	}
	found := false
	for _, u := range m.Content {
		if p, ok := u.(Permission); ok && p.Name == "android.permission.INTERNET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a Permission(android.permission.INTERNET) in %+v", m.Content)
	}
}

func TestDecodeManifest_FailsGracefullyOnGarbage(t *testing.T) {
	m, err := DecodeManifest([]byte{1, 2, 3}, nil, nil)
	if err != nil {
		t.Fatalf("DecodeManifest should never return an error, got %v", err)
	}
	if m.Package != "" {
		t.Fatalf("expected a zero-value manifest for garbage input, got %+v", m)
	}
}
