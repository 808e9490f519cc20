/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package jdwp

import (
	"fmt"

	"dexkit/dex"
)

// JDWP tag bytes identifying a slot value's kind on the wire.
const (
	tagObject byte = 'L'
	tagInt    byte = 'I'
	tagLong   byte = 'J'
	tagFloat  byte = 'F'
	tagDouble byte = 'D'
)

// StackFrame is one frame of a suspended thread, as returned by
// Client.GetTopFrame.
type StackFrame struct {
	client   *Client
	FrameID  uint64
	Location Location
}

// SlotValue is one local variable or parameter register read out of a
// suspended frame: its register slot, its JDWP value tag, and the raw
// value (int64 for tagLong/tagDouble, ObjectID for tagObject, int32 for
// every other tag).
type SlotValue struct {
	Slot  uint32
	Tag   byte
	Value interface{}
}

// GetValues correlates codeItem's instruction offsets against the
// frame's suspended code index to confirm it is paused at a genuine
// instruction boundary, then reads back one SlotValue per register in
// the method's register window.
func (f StackFrame) GetValues(codeItem *dex.CodeItem) ([]SlotValue, error) {
	if !isInstructionBoundary(codeItem, uint32(f.Location.CodeIndex)) {
		return nil, fmt.Errorf("jdwp: code index %d is not an instruction boundary", f.Location.CodeIndex)
	}
	regSize := int(codeItem.RegistersSize)
	if regSize == 0 {
		return nil, nil
	}

	w := &writer{}
	w.u64(f.FrameID)
	w.u32(uint32(regSize))
	for slot := 0; slot < regSize; slot++ {
		w.u32(uint32(slot))
		w.u8(tagObject)
	}

	reply, err := f.client.request(csStackFrame, cmdGetValues, w.bytes())
	if err != nil {
		return nil, err
	}
	r := &reader{b: reply.data}
	count := r.u32()
	values := make([]SlotValue, 0, count)
	for i := uint32(0); i < count && r.remaining() > 0; i++ {
		tag := r.u8()
		var v interface{}
		switch tag {
		case tagObject:
			v = ObjectID(r.u64())
		case tagLong, tagDouble:
			v = int64(r.u64())
		default:
			v = int32(r.u32())
		}
		values = append(values, SlotValue{Slot: i, Tag: tag, Value: v})
	}
	return values, nil
}

// isInstructionBoundary reports whether offset names an actual
// instruction start in codeItem, rather than the middle of a
// multi-code-unit instruction -- the correlation step GetValues needs
// before trusting a JDWP code index.
func isInstructionBoundary(codeItem *dex.CodeItem, offset uint32) bool {
	for _, off := range codeItem.InstructionOffsets() {
		if off == offset {
			return true
		}
	}
	return false
}
