/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package graph

import (
	"dexkit/dex"
	"dexkit/internal/trace"
	"dexkit/multidex"
)

// StaticPhase walks every class and method in group, adding ClassNode/
// MethodNode/StringNode/FieldNode entries and the edges instructions
// reveal without running anything: method->class, method->StringNode
// for const-string, method<->FieldNode for sget/sput/iget/iput, and
// method->method for invoke-*. Edges are unweighted, so repeated
// instructions to the same target simply add repeated multigraph
// edges rather than being coalesced.
func StaticPhase(g *Graph, group *multidex.MultiDexFile) {
	for _, entry := range group.Classes() {
		d, cd := entry.Dex, entry.Item
		ckey := classKey(d, cd)
		if ckey == "" {
			continue
		}
		classIdx := ChangeSet{AddNode{ClassNode{ClassKey: ckey}}}.Apply(g)[0]

		if cd.Data == nil {
			continue
		}
		for _, em := range append(append([]dex.EncodedMethod{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...) {
			walkMethod(g, d, ckey, classIdx, em)
		}
	}
}

func walkMethod(g *Graph, d *dex.File, classDesc string, classIdx NodeIndex, em dex.EncodedMethod) {
	mkey := methodKey(d, classDesc, em.MethodIdx)
	if mkey == "" {
		return
	}
	methodIdx := ChangeSet{AddNodeTo{Node: MethodNode{MethodKey: mkey}, To: classIdx}}.Apply(g)[0]

	if em.Code == nil {
		return
	}
	for _, off := range em.Code.InstructionOffsets() {
		inst, err := dex.DecodeInstruction(em.Code.Insns, off)
		if err != nil {
			trace.Fine("graph: static phase skipped undecodable instruction: " + err.Error())
			continue
		}
		walkInstruction(g, d, methodIdx, inst)
	}
}

func walkInstruction(g *Graph, d *dex.File, methodIdx NodeIndex, inst dex.Instruction) {
	switch inst.Opcode.Name() {
	case "const-string", "const-string/jumbo":
		s, err := d.StringAt(inst.Index)
		if err != nil {
			return
		}
		ChangeSet{AddNodeFrom{Node: StringNode{Text: s}, From: methodIdx}}.Apply(g)

	case "sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short":
		fkey := fieldDescKey(d, inst.Index)
		if fkey == "" {
			return
		}
		ChangeSet{AddNodeFrom{Node: FieldNode{FieldKey: fkey}, From: methodIdx}}.Apply(g)

	case "sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short":
		fkey := fieldDescKey(d, inst.Index)
		if fkey == "" {
			return
		}
		ChangeSet{AddNodeTo{Node: FieldNode{FieldKey: fkey}, To: methodIdx}}.Apply(g)

	case "invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface",
		"invoke-virtual/range", "invoke-super/range", "invoke-direct/range", "invoke-static/range", "invoke-interface/range":
		if int(inst.Index) >= len(d.Methods) {
			return
		}
		mid := d.Methods[inst.Index]
		calleeClassDesc, err := d.TypeDescriptor(uint32(mid.ClassIdx))
		if err != nil {
			return
		}
		calleeKey := methodKey(d, calleeClassDesc, inst.Index)
		if calleeKey == "" {
			return
		}
		calleeIdx := ChangeSet{AddNode{MethodNode{MethodKey: calleeKey}}}.Apply(g)[0]
		ChangeSet{AddEdge{From: methodIdx, To: calleeIdx}}.Apply(g)
	}
}

// fieldDescKey resolves a field_id to its owning class's descriptor,
// combined with its field name.
func fieldDescKey(d *dex.File, fieldIdx uint32) string {
	if int(fieldIdx) >= len(d.Fields) {
		return ""
	}
	fid := d.Fields[fieldIdx]
	classDesc, err := d.TypeDescriptor(uint32(fid.ClassIdx))
	if err != nil {
		return ""
	}
	return fieldKey(d, classDesc, fieldIdx)
}
