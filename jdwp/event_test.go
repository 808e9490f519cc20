/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jdwp

import "testing"

func TestDecodeComposite_LeadingBreakpoint(t *testing.T) {
	w := &writer{}
	w.u8(suspendPolicyAll)
	w.u32(1) // one event
	w.u8(eventKindBreakpoint)
	w.u32(42) // requestID
	w.u64(7)  // threadID
	loc := Location{RefTypeTag: 1, ClassID: 9, MethodID: 3, CodeIndex: 4}
	loc.writeTo(w)

	comp, err := decodeComposite(w.bytes())
	if err != nil {
		t.Fatalf("decodeComposite: %v", err)
	}
	bp, err := comp.LeadingBreakpoint()
	if err != nil {
		t.Fatalf("LeadingBreakpoint: %v", err)
	}
	if bp.RequestID != 42 || bp.Thread != 7 || bp.Location != loc {
		t.Fatalf("decoded breakpoint = %+v, want RequestID 42, Thread 7, Location %+v", bp, loc)
	}
}

func TestLeadingBreakpoint_FailsOnOtherEvent(t *testing.T) {
	comp := &Composite{Events: []Event{OtherEvent{EventKind: 99, RequestID: 1}}}
	if _, err := comp.LeadingBreakpoint(); err == nil {
		t.Fatalf("expected an error for a non-Breakpoint leading event")
	}
}

func TestLeadingBreakpoint_FailsOnEmptyComposite(t *testing.T) {
	comp := &Composite{}
	if _, err := comp.LeadingBreakpoint(); err == nil {
		t.Fatalf("expected an error for a composite with no events")
	}
}
