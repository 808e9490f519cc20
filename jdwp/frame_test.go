/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jdwp

import (
	"testing"

	"dexkit/dex"
)

func TestIsInstructionBoundary(t *testing.T) {
	code := &dex.CodeItem{
		RegistersSize: 2,
		InsnsSize:     3,
		Insns:         []uint16{0x0013, 0x0005, 0x020f}, // const/16 v0,5 ; return v2
	}
	if !isInstructionBoundary(code, 0) {
		t.Fatalf("offset 0 should be an instruction boundary")
	}
	if isInstructionBoundary(code, 1) {
		t.Fatalf("offset 1 falls inside the first instruction, should not be a boundary")
	}
}

func TestGetValues_RejectsNonBoundaryCodeIndex(t *testing.T) {
	code := &dex.CodeItem{
		RegistersSize: 2,
		InsnsSize:     3,
		Insns:         []uint16{0x0013, 0x0005, 0x020f},
	}
	f := StackFrame{Location: Location{CodeIndex: 1}}
	if _, err := f.GetValues(code); err == nil {
		t.Fatalf("expected an error for a non-boundary code index")
	}
}
