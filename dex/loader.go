/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package dex

import (
	"errors"
	"fmt"

	"dexkit/internal/trace"
	"dexkit/internal/types"
)

// ErrBadMagic is returned when the leading 4 bytes aren't the "dex\n"
// magic prefix; the version digits that follow are not checked.
var ErrBadMagic = errors.New("dex: bad magic")

var dexMagicPrefix = [4]byte{'d', 'e', 'x', '\n'}

// Parse decodes a complete DEX file from data, returning a fully
// resolved *File. Parse never panics; every malformed section produces
// a wrapped error identifying where the parse failed, and callers
// (notably the multidex and archive packages) treat one bad DEX as a
// recoverable per-item failure rather than aborting an entire scan.
func Parse(data []byte) (*File, error) {
	r := newByteReader(data)

	var h Header
	magic, err := r.bytes(8)
	if err != nil {
		return nil, fmt.Errorf("dex: reading magic: %w", err)
	}
	copy(h.Magic[:], magic)
	if h.Magic[0] != dexMagicPrefix[0] || h.Magic[1] != dexMagicPrefix[1] ||
		h.Magic[2] != dexMagicPrefix[2] || h.Magic[3] != dexMagicPrefix[3] {
		return nil, ErrBadMagic
	}

	if h.Checksum, err = r.u32(); err != nil {
		return nil, fmt.Errorf("dex: reading checksum: %w", err)
	}
	sig, err := r.bytes(20)
	if err != nil {
		return nil, fmt.Errorf("dex: reading signature: %w", err)
	}
	copy(h.Signature[:], sig)

	fields := []*uint32{
		&h.FileSize, &h.HeaderSize, &h.EndianTag, &h.LinkSize, &h.LinkOff,
		&h.MapOff, &h.StringIDsSize, &h.StringIDsOff, &h.TypeIDsSize, &h.TypeIDsOff,
		&h.ProtoIDsSize, &h.ProtoIDsOff, &h.FieldIDsSize, &h.FieldIDsOff,
		&h.MethodIDsSize, &h.MethodIDsOff, &h.ClassDefsSize, &h.ClassDefsOff,
		&h.DataSize, &h.DataOff,
	}
	for _, f := range fields {
		v, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("dex: reading header: %w", err)
		}
		*f = v
	}

	f := &File{Header: h}

	if f.MapList, err = parseMapList(r, h.MapOff); err != nil {
		return nil, fmt.Errorf("dex: map_list: %w", err)
	}

	if f.Strings, err = parseStrings(r, h.StringIDsOff, h.StringIDsSize); err != nil {
		return nil, fmt.Errorf("dex: string_ids: %w", err)
	}

	if f.Types, err = parseTypeIDs(r, h.TypeIDsOff, h.TypeIDsSize); err != nil {
		return nil, fmt.Errorf("dex: type_ids: %w", err)
	}

	if f.Fields, err = parseFieldIDs(r, h.FieldIDsOff, h.FieldIDsSize); err != nil {
		return nil, fmt.Errorf("dex: field_ids: %w", err)
	}

	if f.Methods, err = parseMethodIDs(r, h.MethodIDsOff, h.MethodIDsSize); err != nil {
		return nil, fmt.Errorf("dex: method_ids: %w", err)
	}

	if f.Protos, err = parseProtoIDs(r, h.ProtoIDsOff, h.ProtoIDsSize); err != nil {
		return nil, fmt.Errorf("dex: proto_ids: %w", err)
	}

	if f.Classes, err = parseClassDefs(r, h.ClassDefsOff, h.ClassDefsSize); err != nil {
		return nil, fmt.Errorf("dex: class_defs: %w", err)
	}

	f.classByDescriptor = make(map[string]int, len(f.Classes))
	for i := range f.Classes {
		desc, err := f.TypeDescriptor(f.Classes[i].ClassIdx)
		if err != nil {
			trace.Warning(fmt.Sprintf("dex: class_def %d has unresolvable descriptor: %v", i, err))
			continue
		}
		f.classByDescriptor[desc] = i
	}

	f.virtualTable = make(map[string][]*ClassDef)
	for i := range f.Classes {
		for _, ifaceTypeIdx := range f.Classes[i].Interfaces {
			desc, err := f.TypeDescriptor(ifaceTypeIdx)
			if err != nil {
				trace.Warning(fmt.Sprintf("dex: class_def %d has unresolvable interface type %d: %v", i, ifaceTypeIdx, err))
				continue
			}
			f.virtualTable[desc] = append(f.virtualTable[desc], &f.Classes[i])
		}
	}

	return f, nil
}

func parseStrings(r *byteReader, off, size uint32) ([]string, error) {
	out := make([]string, size)
	r.seek(int(off))
	dataOffs := make([]uint32, size)
	for i := uint32(0); i < size; i++ {
		o, err := r.u32()
		if err != nil {
			return nil, err
		}
		dataOffs[i] = o
	}
	for i, o := range dataOffs {
		r.seek(int(o))
		utf16Len, err := r.uleb128()
		if err != nil {
			return nil, fmt.Errorf("string_data_item %d: %w", i, err)
		}
		_, decoded, err := r.mutf8String(utf16Len)
		if err != nil {
			return nil, fmt.Errorf("string_data_item %d: %w", i, err)
		}
		out[i] = decoded
	}
	return out, nil
}

func parseTypeIDs(r *byteReader, off, size uint32) ([]TypeID, error) {
	out := make([]TypeID, size)
	r.seek(int(off))
	for i := uint32(0); i < size; i++ {
		idx, err := r.u32()
		if err != nil {
			return nil, err
		}
		out[i] = TypeID{DescriptorIdx: idx}
	}
	return out, nil
}

func parseFieldIDs(r *byteReader, off, size uint32) ([]FieldID, error) {
	out := make([]FieldID, size)
	r.seek(int(off))
	for i := uint32(0); i < size; i++ {
		classIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		typeIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		out[i] = FieldID{ClassIdx: classIdx, TypeIdx: typeIdx, NameIdx: nameIdx}
	}
	return out, nil
}

func parseMethodIDs(r *byteReader, off, size uint32) ([]MethodID, error) {
	out := make([]MethodID, size)
	r.seek(int(off))
	for i := uint32(0); i < size; i++ {
		classIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		protoIdx, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		out[i] = MethodID{ClassIdx: classIdx, ProtoIdx: protoIdx, NameIdx: nameIdx}
	}
	return out, nil
}

func parseProtoIDs(r *byteReader, off, size uint32) ([]ProtoID, error) {
	out := make([]ProtoID, size)
	r.seek(int(off))
	for i := uint32(0); i < size; i++ {
		shortyIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		returnIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		paramsOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		out[i] = ProtoID{ShortyIdx: shortyIdx, ReturnTypeIdx: returnIdx, ParametersOff: paramsOff}
	}
	// Resolving type_list offsets moves the cursor around, so it happens
	// in a second pass after every proto_id fixed record has been read.
	for i := range out {
		if out[i].ParametersOff == 0 {
			continue
		}
		params, err := parseTypeList(r, out[i].ParametersOff)
		if err != nil {
			return nil, fmt.Errorf("proto_id %d parameters: %w", i, err)
		}
		out[i].Parameters = params
	}
	return out, nil
}

// parseTypeList reads a type_list: a uint32 count followed by that many
// uint16 type indices (padded to a 4-byte boundary, which the caller
// doesn't need to account for since nothing is read past the list).
func parseTypeList(r *byteReader, off uint32) ([]uint32, error) {
	r.seek(int(off))
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, size)
	for i := uint32(0); i < size; i++ {
		v, err := r.u16()
		if err != nil {
			return nil, err
		}
		out[i] = uint32(v)
	}
	return out, nil
}

func parseClassDefs(r *byteReader, off, size uint32) ([]ClassDef, error) {
	out := make([]ClassDef, size)
	r.seek(int(off))
	for i := uint32(0); i < size; i++ {
		classIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		accessFlags, err := r.u32()
		if err != nil {
			return nil, err
		}
		superclassIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		interfacesOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		sourceFileIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		annotationsOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		classDataOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		staticValuesOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		cd := ClassDef{
			ClassIdx:        classIdx,
			AccessFlags:     accessFlags,
			SuperclassIdx:   superclassIdx,
			InterfacesOff:   interfacesOff,
			SourceFileIdx:   sourceFileIdx,
			AnnotationsOff:  annotationsOff,
			ClassDataOff:    classDataOff,
			StaticValuesOff: staticValuesOff,
		}
		if cd.SuperclassIdx == 0 {
			cd.SuperclassIdx = types.InvalidIndex
		}
		if cd.SourceFileIdx == 0 {
			cd.SourceFileIdx = types.InvalidIndex
		}
		out[i] = cd
	}

	// class_data_item and interface list offsets move the cursor, so
	// they're resolved in a second pass.
	for i := range out {
		if out[i].InterfacesOff != 0 {
			ifaces, err := parseTypeList(r, out[i].InterfacesOff)
			if err != nil {
				return nil, fmt.Errorf("class_def %d interfaces: %w", i, err)
			}
			out[i].Interfaces = ifaces
		}
		if out[i].ClassDataOff != 0 {
			data, err := parseClassData(r, out[i].ClassDataOff)
			if err != nil {
				return nil, fmt.Errorf("class_def %d class_data: %w", i, err)
			}
			out[i].Data = data
		}
	}
	return out, nil
}

// parseClassData decodes a class_data_item: four ULEB128 counts
// followed by diff-encoded field/method lists. Each encoded_field and
// encoded_method stores its field/method index as a delta from the
// previous entry in the same list, not an absolute index.
func parseClassData(r *byteReader, off uint32) (*ClassData, error) {
	r.seek(int(off))
	staticFieldsSize, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	instanceFieldsSize, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	directMethodsSize, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	virtualMethodsSize, err := r.uleb128()
	if err != nil {
		return nil, err
	}

	cd := &ClassData{}

	cd.StaticFields, err = parseEncodedFields(r, staticFieldsSize)
	if err != nil {
		return nil, fmt.Errorf("static_fields: %w", err)
	}
	cd.InstanceFields, err = parseEncodedFields(r, instanceFieldsSize)
	if err != nil {
		return nil, fmt.Errorf("instance_fields: %w", err)
	}
	cd.DirectMethods, err = parseEncodedMethods(r, directMethodsSize)
	if err != nil {
		return nil, fmt.Errorf("direct_methods: %w", err)
	}
	cd.VirtualMethods, err = parseEncodedMethods(r, virtualMethodsSize)
	if err != nil {
		return nil, fmt.Errorf("virtual_methods: %w", err)
	}
	return cd, nil
}

func parseEncodedFields(r *byteReader, count uint32) ([]EncodedField, error) {
	out := make([]EncodedField, 0, count)
	var fieldIdx uint32
	for i := uint32(0); i < count; i++ {
		delta, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		fieldIdx += delta
		accessFlags, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		out = append(out, EncodedField{FieldIdx: fieldIdx, AccessFlags: accessFlags})
	}
	return out, nil
}

func parseEncodedMethods(r *byteReader, count uint32) ([]EncodedMethod, error) {
	out := make([]EncodedMethod, 0, count)
	var methodIdx uint32
	for i := uint32(0); i < count; i++ {
		delta, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		methodIdx += delta
		accessFlags, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		codeOff, err := r.uleb128()
		if err != nil {
			return nil, err
		}
		em := EncodedMethod{MethodIdx: methodIdx, AccessFlags: accessFlags, CodeOff: codeOff}
		if codeOff != 0 {
			code, err := parseCodeItem(r, codeOff)
			if err != nil {
				return nil, fmt.Errorf("method %d code_item: %w", methodIdx, err)
			}
			em.Code = code
		}
		out = append(out, em)
	}
	return out, nil
}

// parseCodeItem decodes a code_item at off. The cursor is saved and
// restored around the call since code_item offsets are visited in the
// middle of walking class_data_item's own sequential stream.
func parseCodeItem(r *byteReader, off uint32) (*CodeItem, error) {
	saved := r.offset()
	defer r.seek(saved)

	r.seek(int(off))
	registersSize, err := r.u16()
	if err != nil {
		return nil, err
	}
	insSize, err := r.u16()
	if err != nil {
		return nil, err
	}
	outsSize, err := r.u16()
	if err != nil {
		return nil, err
	}
	triesSize, err := r.u16()
	if err != nil {
		return nil, err
	}
	debugInfoOff, err := r.u32()
	if err != nil {
		return nil, err
	}
	insnsSize, err := r.u32()
	if err != nil {
		return nil, err
	}

	insns := make([]uint16, insnsSize)
	for i := uint32(0); i < insnsSize; i++ {
		u, err := r.u16()
		if err != nil {
			return nil, fmt.Errorf("insns[%d]: %w", i, err)
		}
		insns[i] = u
	}

	c := &CodeItem{
		RegistersSize: registersSize,
		InsSize:       insSize,
		OutsSize:      outsSize,
		TriesSize:     triesSize,
		DebugInfoOff:  debugInfoOff,
		InsnsSize:     insnsSize,
		Insns:         insns,
	}

	if triesSize == 0 {
		return c, nil
	}

	if insnsSize%2 != 0 {
		if _, err := r.u16(); err != nil { // 2-byte padding before tries[]
			return nil, err
		}
	}

	tries := make([]TryItem, triesSize)
	for i := uint16(0); i < triesSize; i++ {
		startAddr, err := r.u32()
		if err != nil {
			return nil, err
		}
		insnCount, err := r.u16()
		if err != nil {
			return nil, err
		}
		handlerOff, err := r.u16()
		if err != nil {
			return nil, err
		}
		tries[i] = TryItem{StartAddr: startAddr, InsnCount: insnCount, HandlerOff: handlerOff}
	}
	c.Tries = tries

	handlersListBase := r.offset()
	handlersCount, err := r.uleb128()
	if err != nil {
		return nil, err
	}
	c.Handlers = make(map[uint32]CatchHandlerList, handlersCount)
	for i := uint32(0); i < handlersCount; i++ {
		listStart := uint32(r.offset() - handlersListBase)
		size, err := r.sleb128()
		if err != nil {
			return nil, err
		}
		abs := size
		if abs < 0 {
			abs = -abs
		}
		var chl CatchHandlerList
		for j := int32(0); j < abs; j++ {
			typeIdx, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			addr, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			chl.Handlers = append(chl.Handlers, EncodedCatchHandler{TypeIdx: typeIdx, Addr: addr})
		}
		if size <= 0 {
			catchAllAddr, err := r.uleb128()
			if err != nil {
				return nil, err
			}
			chl.HasCatchAll = true
			chl.CatchAllAddr = catchAllAddr
		}
		c.Handlers[listStart] = chl
	}

	return c, nil
}
