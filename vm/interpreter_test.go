/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import (
	"testing"

	"dexkit/dex"
	"dexkit/multidex"
)

// buildArithmeticCode assembles: const/4 v0,5; const/4 v1,3;
// add-int v2,v0,v1; return v2.
func buildArithmeticCode() *dex.CodeItem {
	insns := []uint16{
		0x12 | (0x50 << 8), // const/4 v0, 5
		0x12 | (0x31 << 8), // const/4 v1, 3
		0x90 | (0x02 << 8), // add-int v2, v0, v1
		0x0100,
		0x0f | (0x02 << 8), // return v2
	}
	return &dex.CodeItem{RegistersSize: 3, InsSize: 0, OutsSize: 0, InsnsSize: uint32(len(insns)), Insns: insns}
}

func newTestVM() *VM {
	group := &multidex.MultiDexFile{Primary: &dex.File{}}
	return NewVM(group, nil)
}

func TestStart_RunsArithmeticToCompletion(t *testing.T) {
	m := newTestVM()
	code := buildArithmeticCode()
	exc := m.Start(0, code, nil)
	if exc != nil {
		t.Fatalf("Start returned %v, want nil", exc)
	}
	if m.State != StateFinished {
		t.Fatalf("State = %v, want StateFinished", m.State)
	}
	ret, ok := m.ReturnReg.(RegisterLiteral)
	if !ok {
		t.Fatalf("ReturnReg = %#v, want RegisterLiteral", m.ReturnReg)
	}
	if int32(ret) != 8 {
		t.Fatalf("return value = %d, want 8", int32(ret))
	}
}

func TestStart_BranchSkipsDeadStore(t *testing.T) {
	// const/4 v0, 0; if-eqz v0, +3 (to return-void); const/4 v1, 9; return-void
	insns := []uint16{
		0x12,  // const/4 v0, 0
		0x38, // if-eqz v0, +3
		3,
		0x12 | (0x91 << 8), // const/4 v1, 9 (should be skipped, v0 == 0)
		0x0e,               // return-void
	}
	code := &dex.CodeItem{RegistersSize: 2, InsnsSize: uint32(len(insns)), Insns: insns}
	m := newTestVM()
	exc := m.Start(0, code, nil)
	if exc != nil {
		t.Fatalf("Start returned %v, want nil", exc)
	}
	if m.State != StateFinished {
		t.Fatalf("State = %v, want StateFinished", m.State)
	}
}

func TestStart_IgnoresBreakpointThatNeverFires(t *testing.T) {
	code := buildArithmeticCode()
	m := newTestVM()
	m.Breakpoints = []Breakpoint{
		{MethodIdx: 0, InstructionOffset: 2, Ctx: FieldSet{}},
	}
	// FieldSet never matches this method (no field ops), so this run
	// should simply complete; this exercises that an installed
	// breakpoint with no matching firing site never spuriously pauses.
	exc := m.Start(0, code, nil)
	if exc != nil {
		t.Fatalf("Start returned %v, want nil", exc)
	}
	if m.State != StateFinished {
		t.Fatalf("State = %v, want StateFinished", m.State)
	}
}

func TestRun_NoInstructionAtAddressWhenFrameEmpty(t *testing.T) {
	code := &dex.CodeItem{RegistersSize: 1, InsnsSize: 0, Insns: []uint16{}}
	m := newTestVM()
	exc := m.Start(0, code, nil)
	if exc == nil {
		t.Fatalf("Start returned nil, want ExcNoInstructionAtAddress")
	}
	if exc.Kind != ExcNoInstructionAtAddress {
		t.Fatalf("Kind = %v, want ExcNoInstructionAtAddress", exc.Kind)
	}
}
