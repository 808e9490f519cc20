/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

// TypeID is one entry in the type_ids section: an index into the string
// table naming a type descriptor ("Lcom/foo/Bar;", "[I", "I", ...).
type TypeID struct {
	DescriptorIdx uint32
}

// ProtoID is one entry in the proto_ids section: a method signature.
type ProtoID struct {
	ShortyIdx    uint32
	ReturnTypeIdx uint32
	ParametersOff uint32 // offset of a type_list, or 0 if no parameters
	Parameters    []uint32 // resolved type indices, populated at load time
}

// FieldID is one entry in the field_ids section.
type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

// MethodID is one entry in the method_ids section.
type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// TryItem describes one exception-handling range within a CodeItem.
type TryItem struct {
	StartAddr  uint32
	InsnCount  uint16
	HandlerOff uint16
}

// EncodedCatchHandler pairs an exception type with the code-unit offset
// of its handler. Catch-all handlers are not listed here;
// CatchHandlerList records them in CatchAllAddr/HasCatchAll.
type EncodedCatchHandler struct {
	TypeIdx   uint32
	Addr      uint32
}

// CatchHandlerList is the decoded handler list referenced by one or more
// TryItems via their (shared) HandlerOff.
type CatchHandlerList struct {
	Handlers  []EncodedCatchHandler
	CatchAllAddr uint32 // 0 if no catch-all
	HasCatchAll  bool
}

// CodeItem is a method's executable body: register/parameter counts,
// instructions, and exception handling metadata.
type CodeItem struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	TriesSize     uint16
	DebugInfoOff  uint32
	InsnsSize     uint32 // count of 16-bit code units
	Insns         []uint16
	Tries         []TryItem
	Handlers      map[uint32]CatchHandlerList // keyed by handler-list offset
}

// InstructionOffsets returns the code-unit offset of every instruction
// boundary in Insns, in ascending order -- a convenience used by
// breakpoint placement and by the graph builder's static walk, which
// both need to iterate instructions rather than raw code units.
func (c *CodeItem) InstructionOffsets() []uint32 {
	var offsets []uint32
	var off uint32
	for off < uint32(len(c.Insns)) {
		offsets = append(offsets, off)
		insn, err := DecodeInstruction(c.Insns, off)
		if err != nil {
			break
		}
		off += uint32(insn.Length)
	}
	return offsets
}

// EncodedField is one field declared by a class, after decoding the
// class_data_item's diff-encoded field_idx deltas and access flags.
type EncodedField struct {
	FieldIdx    uint32
	AccessFlags uint32
}

// EncodedMethod is one method declared by a class.
type EncodedMethod struct {
	MethodIdx   uint32
	AccessFlags uint32
	CodeOff     uint32 // 0 if abstract/native (no code_item)
	Code        *CodeItem
}

// ClassData is the decoded class_data_item: a class's field and method
// lists, split into static/instance and direct/virtual groups the way
// DEX itself partitions them.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

// ClassDef is one entry in the class_defs section: a class's identity,
// superclass, interfaces, and a pointer to its ClassData.
type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32 // InvalidIndex if none (java.lang.Object itself)
	InterfacesOff   uint32
	Interfaces      []uint32
	SourceFileIdx   uint32 // InvalidIndex if absent
	AnnotationsOff  uint32
	ClassDataOff    uint32
	Data            *ClassData // nil for a marker class_def with no class_data_item
	StaticValuesOff uint32
}
