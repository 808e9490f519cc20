/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package dex's opcode table mirrors the role jacobin/opcodes plays for
// JVM bytecode: a flat table of names and instruction-format widths,
// referenced by the instruction decoder and by the vm package's
// interpreter dispatch.
package dex

// Opcode is a single Dalvik instruction opcode byte.
type Opcode uint8

// Format identifies the instruction's operand layout, which determines
// its length in 16-bit code units.
type Format uint8

const (
	Fmt10x Format = iota // no operands, 1 code unit
	Fmt12x               // 1 code unit, two 4-bit registers
	Fmt11n               // 1 code unit, register + signed 4-bit literal
	Fmt11x               // 1 code unit, single register
	Fmt10t               // 1 code unit, signed 8-bit branch offset
	Fmt20t               // 2 code units, signed 16-bit branch offset
	Fmt22x               // 2 code units, 8-bit reg + 16-bit reg
	Fmt21t               // 2 code units, reg + 16-bit branch offset
	Fmt21s               // 2 code units, reg + signed 16-bit literal
	Fmt21h               // 2 code units, reg + high 16 bits of literal
	Fmt21c               // 2 code units, reg + 16-bit pool index
	Fmt23x               // 2 code units, three 8-bit registers
	Fmt22b               // 2 code units, two 8-bit regs + signed 8-bit literal
	Fmt22t               // 2 code units, two 4-bit regs + 16-bit branch offset
	Fmt22s               // 2 code units, two 4-bit regs + signed 16-bit literal
	Fmt22c               // 2 code units, two 4-bit regs + 16-bit pool index
	Fmt32x               // 3 code units, two 16-bit registers
	Fmt30t               // 3 code units, signed 32-bit branch offset
	Fmt3rc               // 3 code units, 8-bit count + pool index + range base
	Fmt35c               // 3 code units, up-to-5 4-bit register list + pool index
	Fmt51l               // 5 code units, register + signed 64-bit literal
	Fmt45cc              // 4 code units, invoke-polymorphic
	Fmt4rcc              // 4 code units, invoke-polymorphic/range
)

// opInfo describes one opcode's mnemonic and instruction format.
type opInfo struct {
	name   string
	format Format
}

// opcodeTable covers the common subset of Dalvik opcodes this toolkit
// interprets and indexes; unlisted opcodes still decode (format 10x,
// length 1) so that every byte offset in a method is accounted for; the
// vm interpreter logs one at FINE level and steps over it as a no-op.
var opcodeTable = map[Opcode]opInfo{
	0x00: {"nop", Fmt10x},
	0x01: {"move", Fmt12x},
	0x02: {"move/from16", Fmt22x},
	0x04: {"move-wide", Fmt12x},
	0x07: {"move-object", Fmt12x},
	0x0a: {"move-result", Fmt11x},
	0x0b: {"move-result-wide", Fmt11x},
	0x0c: {"move-result-object", Fmt11x},
	0x0d: {"move-exception", Fmt11x},
	0x0e: {"return-void", Fmt10x},
	0x0f: {"return", Fmt11x},
	0x10: {"return-wide", Fmt11x},
	0x11: {"return-object", Fmt11x},
	0x12: {"const/4", Fmt11n},
	0x13: {"const/16", Fmt21s},
	0x14: {"const", Fmt21c}, // actually 31i, treated as a 32-bit literal pool below
	0x15: {"const/high16", Fmt21h},
	0x16: {"const-wide/16", Fmt21s},
	0x18: {"const-wide", Fmt51l},
	0x19: {"const-wide/high16", Fmt21h},
	0x1a: {"const-string", Fmt21c},
	0x1b: {"const-string/jumbo", Fmt32x},
	0x1c: {"const-class", Fmt21c},
	0x1d: {"monitor-enter", Fmt11x},
	0x1e: {"monitor-exit", Fmt11x},
	0x1f: {"check-cast", Fmt21c},
	0x20: {"instance-of", Fmt22c},
	0x21: {"array-length", Fmt12x},
	0x22: {"new-instance", Fmt21c},
	0x23: {"new-array", Fmt22c},
	0x24: {"filled-new-array", Fmt35c},
	0x25: {"filled-new-array/range", Fmt3rc},
	0x26: {"fill-array-data", Fmt31t()},
	0x27: {"throw", Fmt11x},
	0x28: {"goto", Fmt10t},
	0x29: {"goto/16", Fmt20t},
	0x2a: {"goto/32", Fmt30t},
	0x2b: {"packed-switch", Fmt31t()},
	0x2c: {"sparse-switch", Fmt31t()},
	0x2d: {"cmpl-float", Fmt23x},
	0x2e: {"cmpg-float", Fmt23x},
	0x2f: {"cmpl-double", Fmt23x},
	0x30: {"cmpg-double", Fmt23x},
	0x31: {"cmp-long", Fmt23x},
	0x32: {"if-eq", Fmt22t},
	0x33: {"if-ne", Fmt22t},
	0x34: {"if-lt", Fmt22t},
	0x35: {"if-ge", Fmt22t},
	0x36: {"if-gt", Fmt22t},
	0x37: {"if-le", Fmt22t},
	0x38: {"if-eqz", Fmt21t},
	0x39: {"if-nez", Fmt21t},
	0x3a: {"if-ltz", Fmt21t},
	0x3b: {"if-gez", Fmt21t},
	0x3c: {"if-gtz", Fmt21t},
	0x3d: {"if-lez", Fmt21t},
	0x44: {"aget", Fmt23x},
	0x45: {"aget-wide", Fmt23x},
	0x46: {"aget-object", Fmt23x},
	0x47: {"aget-boolean", Fmt23x},
	0x48: {"aget-byte", Fmt23x},
	0x49: {"aget-char", Fmt23x},
	0x4a: {"aget-short", Fmt23x},
	0x4b: {"aput", Fmt23x},
	0x4c: {"aput-wide", Fmt23x},
	0x4d: {"aput-object", Fmt23x},
	0x4e: {"aput-boolean", Fmt23x},
	0x4f: {"aput-byte", Fmt23x},
	0x50: {"aput-char", Fmt23x},
	0x51: {"aput-short", Fmt23x},
	0x52: {"iget", Fmt22c},
	0x53: {"iget-wide", Fmt22c},
	0x54: {"iget-object", Fmt22c},
	0x55: {"iget-boolean", Fmt22c},
	0x56: {"iget-byte", Fmt22c},
	0x57: {"iget-char", Fmt22c},
	0x58: {"iget-short", Fmt22c},
	0x59: {"iput", Fmt22c},
	0x5a: {"iput-wide", Fmt22c},
	0x5b: {"iput-object", Fmt22c},
	0x5c: {"iput-boolean", Fmt22c},
	0x5d: {"iput-byte", Fmt22c},
	0x5e: {"iput-char", Fmt22c},
	0x5f: {"iput-short", Fmt22c},
	0x60: {"sget", Fmt21c},
	0x61: {"sget-wide", Fmt21c},
	0x62: {"sget-object", Fmt21c},
	0x63: {"sget-boolean", Fmt21c},
	0x64: {"sget-byte", Fmt21c},
	0x65: {"sget-char", Fmt21c},
	0x66: {"sget-short", Fmt21c},
	0x67: {"sput", Fmt21c},
	0x68: {"sput-wide", Fmt21c},
	0x69: {"sput-object", Fmt21c},
	0x6a: {"sput-boolean", Fmt21c},
	0x6b: {"sput-byte", Fmt21c},
	0x6c: {"sput-char", Fmt21c},
	0x6d: {"sput-short", Fmt21c},
	0x6e: {"invoke-virtual", Fmt35c},
	0x6f: {"invoke-super", Fmt35c},
	0x70: {"invoke-direct", Fmt35c},
	0x71: {"invoke-static", Fmt35c},
	0x72: {"invoke-interface", Fmt35c},
	0x74: {"invoke-virtual/range", Fmt3rc},
	0x75: {"invoke-super/range", Fmt3rc},
	0x76: {"invoke-direct/range", Fmt3rc},
	0x77: {"invoke-static/range", Fmt3rc},
	0x78: {"invoke-interface/range", Fmt3rc},
	0x7b: {"neg-int", Fmt12x},
	0x7c: {"not-int", Fmt12x},
	0x7d: {"neg-long", Fmt12x},
	0x7e: {"not-long", Fmt12x},
	0x7f: {"neg-float", Fmt12x},
	0x80: {"neg-double", Fmt12x},
	0x81: {"int-to-long", Fmt12x},
	0x82: {"int-to-float", Fmt12x},
	0x83: {"int-to-double", Fmt12x},
	0x84: {"long-to-int", Fmt12x},
	0x85: {"long-to-float", Fmt12x},
	0x86: {"long-to-double", Fmt12x},
	0x87: {"float-to-int", Fmt12x},
	0x88: {"float-to-long", Fmt12x},
	0x89: {"float-to-double", Fmt12x},
	0x8a: {"double-to-int", Fmt12x},
	0x8b: {"double-to-long", Fmt12x},
	0x8c: {"double-to-float", Fmt12x},
	0x8d: {"int-to-byte", Fmt12x},
	0x8e: {"int-to-char", Fmt12x},
	0x8f: {"int-to-short", Fmt12x},
	0x90: {"add-int", Fmt23x},
	0x91: {"sub-int", Fmt23x},
	0x92: {"mul-int", Fmt23x},
	0x93: {"div-int", Fmt23x},
	0x94: {"rem-int", Fmt23x},
	0x95: {"and-int", Fmt23x},
	0x96: {"or-int", Fmt23x},
	0x97: {"xor-int", Fmt23x},
	0x98: {"shl-int", Fmt23x},
	0x99: {"shr-int", Fmt23x},
	0x9a: {"ushr-int", Fmt23x},
	0xb0: {"add-int/2addr", Fmt12x},
	0xb1: {"sub-int/2addr", Fmt12x},
	0xb2: {"mul-int/2addr", Fmt12x},
	0xb3: {"div-int/2addr", Fmt12x},
	0xb4: {"rem-int/2addr", Fmt12x},
	0xb5: {"and-int/2addr", Fmt12x},
	0xb6: {"or-int/2addr", Fmt12x},
	0xb7: {"xor-int/2addr", Fmt12x},
	0xb8: {"shl-int/2addr", Fmt12x},
	0xb9: {"shr-int/2addr", Fmt12x},
	0xba: {"ushr-int/2addr", Fmt12x},
	0xd0: {"add-int/lit16", Fmt22s},
	0xd1: {"rsub-int", Fmt22s},
	0xd2: {"mul-int/lit16", Fmt22s},
	0xd3: {"div-int/lit16", Fmt22s},
	0xd4: {"rem-int/lit16", Fmt22s},
	0xd8: {"add-int/lit8", Fmt22b},
	0xd9: {"rsub-int/lit8", Fmt22b},
	0xda: {"mul-int/lit8", Fmt22b},
	0xdb: {"div-int/lit8", Fmt22b},
	0xdc: {"rem-int/lit8", Fmt22b},
	0xfa: {"invoke-polymorphic", Fmt45cc},
	0xfb: {"invoke-polymorphic/range", Fmt4rcc},
	0xfc: {"invoke-custom", Fmt35c},
	0xfd: {"invoke-custom/range", Fmt3rc},
}

// Fmt31t is its own format constant split out as a function to keep the
// iota block above free of the one format (31t: reg + 32-bit payload
// offset, used by fill-array-data/packed-switch/sparse-switch) that
// doesn't appear anywhere else and would otherwise need its own iota
// entry purely for three opcodes.
func Fmt31t() Format { return fmt31t }

const fmt31t Format = 100

// formatUnitLength returns the instruction's length in 16-bit code units.
func formatUnitLength(f Format) int {
	switch f {
	case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
		return 1
	case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
		return 2
	case Fmt32x, Fmt30t, Fmt3rc, Fmt35c, fmt31t:
		return 3
	case Fmt45cc:
		return 4
	case Fmt4rcc:
		return 4
	case Fmt51l:
		return 5
	default:
		return 1
	}
}

// Name returns the opcode's mnemonic, or "unknown" if it isn't in the
// table -- an unrecognized opcode still has a definite length (1 code
// unit, format 10x) so offset accounting never breaks.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return "unknown"
}

func (op Opcode) format() Format {
	if info, ok := opcodeTable[op]; ok {
		return info.format
	}
	return Fmt10x
}

// Format exposes an opcode's instruction format to other packages --
// the vm package's breakpoint checks need to tell a 35c/3rc invoke
// apart from everything else without re-deriving it from the mnemonic.
func (op Opcode) Format() Format {
	return op.format()
}
