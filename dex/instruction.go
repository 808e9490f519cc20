/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

import "fmt"

// Instruction is one decoded Dalvik instruction: its opcode, the
// registers and literal/pool-index/branch operands its format carries,
// and its offset and length within the enclosing code_item's Insns
// array (both measured in 16-bit code units).
type Instruction struct {
	Opcode Opcode
	Offset uint32
	Length int

	Regs         []uint16 // in encoding order; for invoke-* this is the argument list
	RegisterRange bool     // true for /range forms: Regs holds [first, first+count-1]
	Literal      int64
	Index        uint32 // string/type/field/method/call-site pool index, where applicable
	BranchTarget int32  // signed code-unit delta from Offset, for branch/switch opcodes
}

// DecodeInstruction decodes the instruction beginning at code-unit
// offset off within insns.
func DecodeInstruction(insns []uint16, off uint32) (Instruction, error) {
	if int(off) >= len(insns) {
		return Instruction{}, fmt.Errorf("dex: instruction offset %d out of range (insns length %d)", off, len(insns))
	}
	unit0 := insns[off]
	op := Opcode(unit0 & 0xff)
	hi := byte(unit0 >> 8)
	format := op.format()
	length := formatUnitLength(format)
	if int(off)+length > len(insns) {
		return Instruction{}, fmt.Errorf("dex: instruction at offset %d (format needs %d units) overruns insns", off, length)
	}

	inst := Instruction{Opcode: op, Offset: off, Length: length}

	unitAt := func(i int) uint16 { return insns[int(off)+i] }

	switch format {
	case Fmt10x:
		// no operands

	case Fmt12x:
		inst.Regs = []uint16{uint16(hi & 0x0f), uint16(hi >> 4)}

	case Fmt11n:
		inst.Regs = []uint16{uint16(hi & 0x0f)}
		lit := int8(hi) >> 4
		inst.Literal = int64(lit)

	case Fmt11x:
		inst.Regs = []uint16{uint16(hi)}

	case Fmt10t:
		inst.BranchTarget = int32(int8(hi))

	case Fmt20t:
		inst.BranchTarget = int32(int16(unitAt(1)))

	case Fmt22x:
		inst.Regs = []uint16{uint16(hi), unitAt(1)}

	case Fmt21t:
		inst.Regs = []uint16{uint16(hi)}
		inst.BranchTarget = int32(int16(unitAt(1)))

	case Fmt21s:
		inst.Regs = []uint16{uint16(hi)}
		inst.Literal = int64(int16(unitAt(1)))

	case Fmt21h:
		inst.Regs = []uint16{uint16(hi)}
		// high16 forms place the literal's significant bits in the high
		// half of a 32- or 64-bit value; callers needing the true
		// literal should shift appropriately for const/high16 (<<16) vs
		// const-wide/high16 (<<48). We store the raw code unit and let
		// the interpreter apply the shift, since the width differs.
		inst.Literal = int64(int16(unitAt(1)))

	case Fmt21c:
		inst.Regs = []uint16{uint16(hi)}
		inst.Index = uint32(unitAt(1))

	case Fmt23x:
		inst.Regs = []uint16{uint16(hi), uint16(unitAt(1) & 0xff), uint16(unitAt(1) >> 8)}

	case Fmt22b:
		inst.Regs = []uint16{uint16(hi), uint16(unitAt(1) & 0xff)}
		inst.Literal = int64(int8(unitAt(1) >> 8))

	case Fmt22t:
		inst.Regs = []uint16{uint16(hi & 0x0f), uint16(hi >> 4)}
		inst.BranchTarget = int32(int16(unitAt(1)))

	case Fmt22s:
		inst.Regs = []uint16{uint16(hi & 0x0f), uint16(hi >> 4)}
		inst.Literal = int64(int16(unitAt(1)))

	case Fmt22c:
		inst.Regs = []uint16{uint16(hi & 0x0f), uint16(hi >> 4)}
		inst.Index = uint32(unitAt(1))

	case Fmt32x:
		inst.Regs = []uint16{unitAt(1), unitAt(2)}

	case Fmt30t:
		inst.BranchTarget = int32(unitAt(1)) | int32(unitAt(2))<<16

	case fmt31t:
		inst.Regs = []uint16{uint16(hi)}
		inst.BranchTarget = int32(unitAt(1)) | int32(unitAt(2))<<16

	case Fmt3rc:
		count := hi
		inst.Index = uint32(unitAt(1))
		first := unitAt(2)
		inst.RegisterRange = true
		if count > 0 {
			inst.Regs = []uint16{first, first + uint16(count) - 1}
		}

	case Fmt35c:
		count := hi >> 4
		inst.Index = uint32(unitAt(1))
		g := hi & 0x0f
		regUnit := unitAt(2)
		c := regUnit & 0xf
		d := (regUnit >> 4) & 0xf
		e := (regUnit >> 8) & 0xf
		f := (regUnit >> 12) & 0xf
		all := []uint16{c, d, e, f, g}
		if int(count) <= len(all) {
			inst.Regs = all[:count]
		} else {
			inst.Regs = all
		}

	case Fmt45cc:
		count := hi >> 4
		inst.Index = uint32(unitAt(1))
		g := hi & 0x0f
		regUnit := unitAt(2)
		c := regUnit & 0xf
		d := (regUnit >> 4) & 0xf
		e := (regUnit >> 8) & 0xf
		f := (regUnit >> 12) & 0xf
		all := []uint16{c, d, e, f, g}
		if int(count) <= len(all) {
			inst.Regs = all[:count]
		} else {
			inst.Regs = all
		}
		// unitAt(3) is the proto pool index for the polymorphic call site;
		// callers that need it can re-derive it from Offset+3.

	case Fmt4rcc:
		count := hi
		inst.Index = uint32(unitAt(1))
		first := unitAt(2)
		inst.RegisterRange = true
		if count > 0 {
			inst.Regs = []uint16{first, first + uint16(count) - 1}
		}

	case Fmt51l:
		inst.Regs = []uint16{uint16(hi)}
		lit := uint64(unitAt(1)) | uint64(unitAt(2))<<16 | uint64(unitAt(3))<<32 | uint64(unitAt(4))<<48
		inst.Literal = int64(lit)

	default:
		return Instruction{}, fmt.Errorf("dex: unhandled instruction format for opcode 0x%02x", byte(op))
	}

	return inst, nil
}
