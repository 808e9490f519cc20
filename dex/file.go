/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

import (
	"fmt"
	"strings"

	"dexkit/internal/types"
)

// Header is the fixed 112-byte DEX file header.
type Header struct {
	Magic        [8]byte
	Checksum     uint32
	Signature    [20]byte
	FileSize     uint32
	HeaderSize   uint32
	EndianTag    uint32
	LinkSize     uint32
	LinkOff      uint32
	MapOff       uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// File is one parsed DEX file: its header, every index section, and
// every class_def's resolved declarations. A File stands alone; multi-
// DEX aggregation across a classes.dex/classes2.dex/... set is the
// multidex package's concern, not this one's.
type File struct {
	Header Header

	Strings []string // string_data_item contents, indexed by string_id
	Types   []TypeID
	Protos  []ProtoID
	Fields  []FieldID
	Methods []MethodID
	Classes []ClassDef
	MapList []MapItem

	// classByDescriptor indexes Classes by their type descriptor
	// ("Lcom/foo/Bar;") for O(1) lookup, populated at load time.
	classByDescriptor map[string]int

	// virtualTable maps an interface's type descriptor to every class in
	// this file that declares it among its interfaces, populated at load
	// time. Mirrors the loader contract's "virtual_table: name ->
	// Class[]" quick interface-implementor index.
	virtualTable map[string][]*ClassDef
}

// StringAt returns the string at idx, or an error if idx is out of range.
func (f *File) StringAt(idx uint32) (string, error) {
	if idx == types.InvalidIndex || int(idx) >= len(f.Strings) {
		return "", fmt.Errorf("dex: string index %d out of range", idx)
	}
	return f.Strings[idx], nil
}

// TypeDescriptor returns the type descriptor string for a type index.
func (f *File) TypeDescriptor(idx uint32) (string, error) {
	if idx == types.InvalidIndex || int(idx) >= len(f.Types) {
		return "", fmt.Errorf("dex: type index %d out of range", idx)
	}
	return f.StringAt(f.Types[idx].DescriptorIdx)
}

// MethodName returns a method's simple name (not its full signature).
func (f *File) MethodName(idx uint32) (string, error) {
	if int(idx) >= len(f.Methods) {
		return "", fmt.Errorf("dex: method index %d out of range", idx)
	}
	return f.StringAt(f.Methods[idx].NameIdx)
}

// FieldName returns a field's simple name.
func (f *File) FieldName(idx uint32) (string, error) {
	if int(idx) >= len(f.Fields) {
		return "", fmt.Errorf("dex: field index %d out of range", idx)
	}
	return f.StringAt(f.Fields[idx].NameIdx)
}

// ClassByName returns the ClassDef whose type descriptor exactly matches
// descriptor ("Lcom/foo/Bar;"), or nil if this file declares no such
// class.
func (f *File) ClassByName(descriptor string) *ClassDef {
	if i, ok := f.classByDescriptor[descriptor]; ok {
		return &f.Classes[i]
	}
	// classByDescriptor is populated by Parse; a File assembled by hand
	// (tests, synthetic fixtures) falls back to a linear scan instead of
	// requiring callers to reach into an unexported field.
	for i := range f.Classes {
		desc, err := f.TypeDescriptor(f.Classes[i].ClassIdx)
		if err == nil && desc == descriptor {
			return &f.Classes[i]
		}
	}
	return nil
}

// DexName returns a human-readable label for this parsed file, derived
// from its checksum since DEX files carry no intrinsic file name of
// their own.
func (f *File) DexName() string {
	return fmt.Sprintf("classes-%08x.dex", f.Header.Checksum)
}

// FindClassContaining returns the first class in this file whose
// descriptor contains substr, or nil if none match.
func (f *File) FindClassContaining(substr string) *ClassDef {
	for i := range f.Classes {
		desc, err := f.TypeDescriptor(f.Classes[i].ClassIdx)
		if err != nil {
			continue
		}
		if strings.Contains(desc, substr) {
			return &f.Classes[i]
		}
	}
	return nil
}

// FindAllClassesContaining returns every class in this file whose
// descriptor contains substr.
func (f *File) FindAllClassesContaining(substr string) []*ClassDef {
	var out []*ClassDef
	for i := range f.Classes {
		desc, err := f.TypeDescriptor(f.Classes[i].ClassIdx)
		if err != nil {
			continue
		}
		if strings.Contains(desc, substr) {
			out = append(out, &f.Classes[i])
		}
	}
	return out
}

// MethodSignature renders a method_id's full descriptor-style signature
// ("(Ljava/lang/String;I)V") by resolving its proto's parameter and
// return types.
func (f *File) MethodSignature(idx uint32) (string, error) {
	if int(idx) >= len(f.Methods) {
		return "", fmt.Errorf("dex: method index %d out of range", idx)
	}
	m := f.Methods[idx]
	if int(m.ProtoIdx) >= len(f.Protos) {
		return "", fmt.Errorf("dex: proto index %d out of range", m.ProtoIdx)
	}
	proto := f.Protos[m.ProtoIdx]
	var b strings.Builder
	b.WriteByte('(')
	for _, pt := range proto.Parameters {
		desc, err := f.TypeDescriptor(pt)
		if err != nil {
			return "", err
		}
		b.WriteString(desc)
	}
	b.WriteByte(')')
	ret, err := f.TypeDescriptor(proto.ReturnTypeIdx)
	if err != nil {
		return "", err
	}
	b.WriteString(ret)
	return b.String(), nil
}

// GetClassByType returns the ClassDef declared under the given type
// index (a class_def's own class_idx, not a position in Classes), or an
// error if no class_def declares that type.
func (f *File) GetClassByType(typeIdx uint32) (*ClassDef, error) {
	for i := range f.Classes {
		if f.Classes[i].ClassIdx == typeIdx {
			return &f.Classes[i], nil
		}
	}
	return nil, fmt.Errorf("dex: no class_def declares type index %d", typeIdx)
}

// GetMethodByIdx returns the EncodedMethod (declaration, access flags,
// and code_item if any) for a method_id index, searching every class's
// direct and virtual method lists.
func (f *File) GetMethodByIdx(methodIdx uint32) (*EncodedMethod, error) {
	for ci := range f.Classes {
		data := f.Classes[ci].Data
		if data == nil {
			continue
		}
		for mi := range data.DirectMethods {
			if data.DirectMethods[mi].MethodIdx == methodIdx {
				return &data.DirectMethods[mi], nil
			}
		}
		for mi := range data.VirtualMethods {
			if data.VirtualMethods[mi].MethodIdx == methodIdx {
				return &data.VirtualMethods[mi], nil
			}
		}
	}
	return nil, fmt.Errorf("dex: no class_def declares method index %d", methodIdx)
}

// GetMethodByNameAndPrototype finds the method named methodName with
// signature protoDescriptor (e.g. "(Ljava/lang/String;I)V") declared on
// className, considering only methods that carry a code_item (abstract
// and native declarations, which have none, never match).
func (f *File) GetMethodByNameAndPrototype(className, methodName, protoDescriptor string) (*EncodedMethod, error) {
	class := f.ClassByName(className)
	if class == nil || class.Data == nil {
		return nil, fmt.Errorf("dex: no class named %q", className)
	}
	groups := [][]EncodedMethod{class.Data.DirectMethods, class.Data.VirtualMethods}
	for _, methods := range groups {
		for i := range methods {
			m := &methods[i]
			if m.Code == nil {
				continue
			}
			name, err := f.MethodName(m.MethodIdx)
			if err != nil || name != methodName {
				continue
			}
			sig, err := f.MethodSignature(m.MethodIdx)
			if err != nil || sig != protoDescriptor {
				continue
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("dex: no method %s.%s%s", className, methodName, protoDescriptor)
}

// GetMethodsForType returns the method_ids index of every method
// declared against the given type index.
func (f *File) GetMethodsForType(typeIdx uint32) []uint32 {
	var out []uint32
	for i, m := range f.Methods {
		if uint32(m.ClassIdx) == typeIdx {
			out = append(out, uint32(i))
		}
	}
	return out
}

// GetImplementationsFor returns every class in this file that declares
// iface among its interfaces, using the virtual_table index populated
// at load time.
func (f *File) GetImplementationsFor(iface *ClassDef) []*ClassDef {
	if iface == nil {
		return nil
	}
	desc, err := f.TypeDescriptor(iface.ClassIdx)
	if err != nil {
		return nil
	}
	return f.virtualTable[desc]
}

// GetImplementationsForInterface is GetImplementationsFor keyed directly
// by interface descriptor, for callers that don't already hold a
// ClassDef (e.g. the search package's cross-reference scan, which holds
// only the matched interface's descriptor).
func (f *File) GetImplementationsForInterface(descriptor string) []*ClassDef {
	return f.virtualTable[descriptor]
}
