/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import "dexkit/dex"

// Frame is one activation record on the interpreter's call stack:
// which method is running, in which DEX, its register file, and the pc
// to resume the caller at once this frame returns.
type Frame struct {
	Dex       *dex.File
	MethodIdx uint32
	Code      *dex.CodeItem
	Registers []Register
	CallerPC  uint32 // instruction offset in the caller to resume at
}

// newFrame allocates a frame with registers_size registers, all
// RegisterEmpty, per the code_item's declared register count.
func newFrame(d *dex.File, methodIdx uint32, code *dex.CodeItem, callerPC uint32) *Frame {
	regs := make([]Register, code.RegistersSize)
	for i := range regs {
		regs[i] = RegisterEmpty{}
	}
	return &Frame{Dex: d, MethodIdx: methodIdx, Code: code, Registers: regs, CallerPC: callerPC}
}

// placeArgs copies args into the conventional parameter-register range:
// the last ins_size registers of the frame, in order.
func (f *Frame) placeArgs(args []Register) {
	start := int(f.Code.RegistersSize) - int(f.Code.InsSize)
	if start < 0 {
		start = 0
	}
	for i, a := range args {
		if start+i >= len(f.Registers) {
			break
		}
		f.Registers[start+i] = a
	}
}

func (f *Frame) get(reg uint16) (Register, *VMException) {
	if int(reg) >= len(f.Registers) {
		return nil, newFatal(ExcRegisterNotFound, 0, f.MethodIdx, "register out of range")
	}
	return f.Registers[reg], nil
}

func (f *Frame) set(reg uint16, v Register) *VMException {
	if int(reg) >= len(f.Registers) {
		return newFatal(ExcRegisterNotFound, 0, f.MethodIdx, "register out of range")
	}
	f.Registers[reg] = v
	return nil
}
