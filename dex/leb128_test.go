/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

import "testing"

func TestDecodeULEB128_SingleByte(t *testing.T) {
	v, n, err := decodeULEB128([]byte{0x05}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 || n != 1 {
		t.Errorf("got v=%d n=%d, want v=5 n=1", v, n)
	}
}

func TestDecodeULEB128_MultiByte(t *testing.T) {
	// 300 = 0b1_0010_1100 -> 0xAC, 0x02
	v, n, err := decodeULEB128([]byte{0xAC, 0x02}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 300 || n != 2 {
		t.Errorf("got v=%d n=%d, want v=300 n=2", v, n)
	}
}

func TestDecodeULEB128_TruncatedInput(t *testing.T) {
	_, _, err := decodeULEB128([]byte{0x80}, 0)
	if err == nil {
		t.Errorf("expected error for truncated LEB128, got none")
	}
}

func TestDecodeULEB128p1_MinusOne(t *testing.T) {
	v, _, err := decodeULEB128p1([]byte{0x00}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -1 {
		t.Errorf("got %d, want -1", v)
	}
}

func TestDecodeSLEB128_Negative(t *testing.T) {
	// -2 encodes as 0x7e
	v, n, err := decodeSLEB128([]byte{0x7e}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -2 || n != 1 {
		t.Errorf("got v=%d n=%d, want v=-2 n=1", v, n)
	}
}

func TestDecodeSLEB128_Positive(t *testing.T) {
	v, _, err := decodeSLEB128([]byte{0x02}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Errorf("got %d, want 2", v)
	}
}

func TestDecodeULEB128_OffsetIntoBuffer(t *testing.T) {
	data := []byte{0xff, 0xff, 0x05}
	v, n, err := decodeULEB128(data, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5 || n != 1 {
		t.Errorf("got v=%d n=%d, want v=5 n=1", v, n)
	}
}
