/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package graph

import "dexkit/dex"

// classKey returns the dedup key a ClassNode uses for cd: its own type
// descriptor.
func classKey(d *dex.File, cd *dex.ClassDef) string {
	desc, err := d.TypeDescriptor(cd.ClassIdx)
	if err != nil {
		return ""
	}
	return desc
}

// methodKey returns the dedup key a MethodNode uses for methodIdx:
// "classDescriptor->name_protoShorty", the "..->name_proto" shape the
// dynamic phase's intermediate-node rule matches against.
func methodKey(d *dex.File, classDesc string, methodIdx uint32) string {
	if int(methodIdx) >= len(d.Methods) {
		return ""
	}
	mid := d.Methods[methodIdx]
	name, err := d.StringAt(mid.NameIdx)
	if err != nil {
		return ""
	}
	shorty := ""
	if int(mid.ProtoIdx) < len(d.Protos) {
		if s, err := d.StringAt(d.Protos[mid.ProtoIdx].ShortyIdx); err == nil {
			shorty = s
		}
	}
	return classDesc + "->" + name + "_" + shorty
}

// fieldKey returns the dedup key a FieldNode uses for fieldIdx:
// "classDescriptor->fieldName".
func fieldKey(d *dex.File, classDesc string, fieldIdx uint32) string {
	if int(fieldIdx) >= len(d.Fields) {
		return ""
	}
	name, err := d.StringAt(d.Fields[fieldIdx].NameIdx)
	if err != nil {
		return ""
	}
	return classDesc + "->" + name
}
