/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package search

import (
	"fmt"

	"dexkit/dex"
	"dexkit/multidex"
)

// dexNameOf extracts the DexName carried by a Location, for the
// variants that refer into a loaded DEX at all (native-binary
// locations don't).
func dexNameOf(loc Location) (string, bool) {
	switch l := loc.(type) {
	case LocationDexString:
		return l.DexName, true
	case LocationClassDef:
		return l.DexName, true
	case LocationType:
		return l.DexName, true
	case LocationMethod:
		return l.DexName, true
	case LocationField:
		return l.DexName, true
	case LocationProto:
		return l.DexName, true
	case LocationStaticData:
		return l.DexName, true
	default:
		return "", false
	}
}

// ResolveDexFile returns the dex.File a Location's DexName refers to
// within files. The original's Location::get_dex_file simply returns
// the Arc<DexFile> embedded in the variant; this port stores a DexName
// string instead for serialization-friendliness, so resolving back to
// a live *dex.File means searching the loaded groups by that name.
func ResolveDexFile(files *multidex.Files, loc Location) (*dex.File, error) {
	name, ok := dexNameOf(loc)
	if !ok {
		return nil, fmt.Errorf("search: location %T carries no DEX reference", loc)
	}
	for _, m := range files.MultiDex {
		if f := m.FileByName(name); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("search: no loaded DEX named %q", name)
}

// ResolveClass returns the class a Location refers to, mirroring
// Location::get_class's per-variant dispatch: a class_def location
// resolves directly by type index, a type location resolves its own
// descriptor to the class declaring it, a method or field location
// resolves through the method_id/field_id's declaring class, and a
// static-data location resolves through its declaring class_def.
func ResolveClass(files *multidex.Files, loc Location) (*dex.File, *dex.ClassDef, error) {
	f, err := ResolveDexFile(files, loc)
	if err != nil {
		return nil, nil, err
	}

	switch l := loc.(type) {
	case LocationClassDef:
		cd, err := f.GetClassByType(l.ClassIdx)
		return f, cd, err

	case LocationType:
		desc, err := f.TypeDescriptor(l.TypeIdx)
		if err != nil {
			return nil, nil, err
		}
		if cd := f.ClassByName(desc); cd != nil {
			return f, cd, nil
		}
		return nil, nil, fmt.Errorf("search: no class_def declares type %q", desc)

	case LocationMethod:
		if int(l.MethodIdx) >= len(f.Methods) {
			return nil, nil, fmt.Errorf("search: method index %d out of range in %q", l.MethodIdx, f.DexName())
		}
		cd, err := f.GetClassByType(uint32(f.Methods[l.MethodIdx].ClassIdx))
		return f, cd, err

	case LocationField:
		if int(l.FieldIdx) >= len(f.Fields) {
			return nil, nil, fmt.Errorf("search: field index %d out of range in %q", l.FieldIdx, f.DexName())
		}
		cd, err := f.GetClassByType(uint32(f.Fields[l.FieldIdx].ClassIdx))
		return f, cd, err

	case LocationStaticData:
		cd, err := f.GetClassByType(l.ClassIdx)
		return f, cd, err

	default:
		return f, nil, fmt.Errorf("search: location %T does not resolve to a class", loc)
	}
}
