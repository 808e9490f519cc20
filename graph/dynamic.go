/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package graph

import (
	"dexkit/dex"
	"dexkit/internal/trace"
	"dexkit/multidex"
	"dexkit/vm"
)

// sentinelArray is the neutral byte-array argument every dynamic-phase
// method run is seeded with; ArrayReg handling below filters it back
// out so a method that merely forwards its own argument array doesn't
// produce a spurious ArrayNode.
var sentinelArray = []byte{0, 1, 2, 3, 4}

// maxBreakpointFirings bounds one method's dynamic run, guarding
// against a runaway loop that would otherwise fire breakpoints forever.
const maxBreakpointFirings = 10000

// DynamicPhase runs every method in group with neutral arguments,
// a breakpoint installed at every instruction offset for all four
// BreakpointContext kinds, and folds each firing into g.
func DynamicPhase(g *Graph, group *multidex.MultiDexFile) {
	for _, entry := range group.Classes() {
		d, cd := entry.Dex, entry.Item
		ckey := classKey(d, cd)
		if ckey == "" || cd.Data == nil {
			continue
		}
		for _, em := range append(append([]dex.EncodedMethod{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...) {
			if em.Code == nil {
				continue
			}
			runMethodDynamic(g, group, d, ckey, em)
		}
	}
}

func runMethodDynamic(g *Graph, group *multidex.MultiDexFile, d *dex.File, classDesc string, em dex.EncodedMethod) {
	mkey := methodKey(d, classDesc, em.MethodIdx)
	if mkey == "" {
		return
	}
	methodIdx, ok := g.Lookup(MethodNode{MethodKey: mkey})
	if !ok {
		methodIdx = ChangeSet{AddNode{MethodNode{MethodKey: mkey}}}.Apply(g)[0]
	}

	m := vm.NewVM(group, nil)
	m.CurrentDexFile = d
	args := neutralArgs(m, d, em.MethodIdx)
	m.Breakpoints = breakpointsForEveryOffset(em)

	exc := m.Start(em.MethodIdx, em.Code, args)
	for steps := 0; exc != nil && exc.Kind == vm.ExcBreakpoint; steps++ {
		if steps > maxBreakpointFirings {
			trace.Warning("graph: dynamic phase aborted a runaway method after too many breakpoint firings")
			break
		}
		handleBreakpoint(g, m, methodIdx, exc)
		removeBreakpointsAt(m, exc.MethodRef, exc.PC)
		exc = m.ContinueExecution(exc.PC + uint32(m.CurrentInstructionSize))
	}
	if exc != nil && exc.Kind != vm.ExcBreakpoint {
		trace.Fine("graph: dynamic phase stopped on " + exc.Error())
	}
}

// breakpointsForEveryOffset installs all four context kinds at every
// instruction offset in em's code, the Go rendering of "set a
// breakpoint at every instruction."
func breakpointsForEveryOffset(em dex.EncodedMethod) []vm.Breakpoint {
	offsets := em.Code.InstructionOffsets()
	bps := make([]vm.Breakpoint, 0, len(offsets)*4)
	for _, off := range offsets {
		bps = append(bps,
			vm.Breakpoint{MethodIdx: em.MethodIdx, InstructionOffset: off, Ctx: vm.ResultObjectRegister{}},
			vm.Breakpoint{MethodIdx: em.MethodIdx, InstructionOffset: off, Ctx: vm.FieldSet{}},
			vm.Breakpoint{MethodIdx: em.MethodIdx, InstructionOffset: off, Ctx: vm.ArrayReg{}},
			vm.Breakpoint{MethodIdx: em.MethodIdx, InstructionOffset: off, Ctx: vm.StringReg{}},
		)
	}
	return bps
}

// removeBreakpointsAt drops every installed breakpoint at (methodIdx,
// offset) once it has fired once, so a loop body visited again later
// in the same run doesn't refire the same observation forever.
func removeBreakpointsAt(m *vm.VM, methodIdx, offset uint32) {
	kept := m.Breakpoints[:0]
	for _, bp := range m.Breakpoints {
		if bp.MethodIdx == methodIdx && bp.InstructionOffset == offset {
			continue
		}
		kept = append(kept, bp)
	}
	m.Breakpoints = kept
}

// neutralArgs builds the "neutral" parameter list the dynamic phase
// runs every method with: empty strings for java.lang.String
// parameters, the sentinel array for [B parameters, zero otherwise.
func neutralArgs(m *vm.VM, d *dex.File, methodIdx uint32) []vm.Register {
	if int(methodIdx) >= len(d.Methods) {
		return nil
	}
	mid := d.Methods[methodIdx]
	if int(mid.ProtoIdx) >= len(d.Protos) {
		return nil
	}
	proto := d.Protos[mid.ProtoIdx]
	args := make([]vm.Register, 0, len(proto.Parameters))
	for _, pt := range proto.Parameters {
		desc, err := d.TypeDescriptor(pt)
		if err != nil {
			args = append(args, vm.RegisterLiteral(0))
			continue
		}
		switch desc {
		case "Ljava/lang/String;":
			args = append(args, m.NewInstance(desc, vm.ValueObject{Instance: &vm.ClassInstance{
				ClassDescriptor: desc,
				BackingValue:    "",
			}}))
		case "[B":
			args = append(args, m.NewInstance(desc, vm.ValueArray(append([]byte{}, sentinelArray...))))
		default:
			args = append(args, vm.RegisterLiteral(0))
		}
	}
	return args
}

// handleBreakpoint folds one firing into g, per the rule for its
// BreakpointContext variant.
func handleBreakpoint(g *Graph, m *vm.VM, methodIdx NodeIndex, exc *vm.VMException) {
	switch ctx := exc.Ctx.(type) {
	case vm.ResultObjectRegister:
		handleResultObject(g, m, methodIdx)
	case vm.FieldSet:
		handleFieldSet(g, m, methodIdx, ctx)
	case vm.ArrayReg:
		handleArrayOrString(g, m, methodIdx, ctx.Reg, true)
	case vm.StringReg:
		handleArrayOrString(g, m, methodIdx, ctx.Reg, false)
	}
}

func handleResultObject(g *Graph, m *vm.VM, methodIdx NodeIndex) {
	v, ok := m.GetReturnObject()
	if !ok {
		return
	}
	text := v.Printable()
	if text == "" || text == "NEW INSTANCE" || text == "test" {
		return
	}
	ChangeSet{AddNodeFrom{Node: DynamicReturnNode{Text: text}, From: methodIdx}}.Apply(g)
}

func handleFieldSet(g *Graph, m *vm.VM, methodIdx NodeIndex, ctx vm.FieldSet) {
	regs := m.GetRegisters()
	if int(ctx.Reg) >= len(regs) {
		return
	}
	ref, ok := regs[ctx.Reg].(vm.RegisterReference)
	if !ok {
		return
	}
	obj, ok := m.Heap[ref.Address].(vm.ValueObject)
	if !ok || obj.Instance == nil {
		return
	}
	text, ok := obj.Instance.BackingValue.(string)
	if !ok {
		return
	}
	fkey := fieldDescKey(m.CurrentDexFile, ctx.FieldIdx)
	if fkey == "" {
		return
	}
	fieldIdx, ok := g.Lookup(FieldNode{FieldKey: fkey})
	if !ok {
		fieldIdx = ChangeSet{AddNode{FieldNode{FieldKey: fkey}}}.Apply(g)[0]
	}
	ChangeSet{AddNodeFrom{Node: DynamicArgumentNode{Text: text}, From: fieldIdx}}.Apply(g)
}

func handleArrayOrString(g *Graph, m *vm.VM, methodIdx NodeIndex, reg uint16, isArray bool) {
	regs := m.GetRegisters()
	if int(reg) >= len(regs) {
		return
	}
	ref, ok := regs[reg].(vm.RegisterReference)
	if !ok {
		return
	}
	v, ok := m.Heap[ref.Address]
	if !ok {
		return
	}
	intermediate, hasIntermediate := intermediateMethodFor(g, m)

	if isArray {
		arr, ok := v.(vm.ValueArray)
		if !ok || isSentinelArray([]byte(arr)) {
			return
		}
		routeNode(g, NewArrayNode([]byte(arr)), methodIdx, intermediate, hasIntermediate)
		return
	}

	obj, ok := v.(vm.ValueObject)
	if !ok || obj.Instance == nil {
		return
	}
	text, ok := obj.Instance.BackingValue.(string)
	if !ok || text == "" {
		return
	}
	routeNode(g, DynamicArgumentNode{Text: text}, methodIdx, intermediate, hasIntermediate)
}

func isSentinelArray(b []byte) bool {
	if len(b) != len(sentinelArray) {
		return false
	}
	for i, v := range sentinelArray {
		if b[i] != v {
			return false
		}
	}
	return true
}

// intermediateMethodFor reports an already-mapped "..->name_proto"
// method node to route a value through (callee->intermediate->caller)
// instead of a direct edge. It finds none for any call site: it always
// returns false, so routeNode links every array/argument node directly
// from the running method. handleResultObject does not consult it.
func intermediateMethodFor(g *Graph, m *vm.VM) (NodeIndex, bool) {
	return 0, false
}

func routeNode(g *Graph, n Node, methodIdx NodeIndex, intermediate NodeIndex, hasIntermediate bool) {
	if hasIntermediate {
		ChangeSet{AddNodeFromTo{Node: n, From: methodIdx, To: intermediate}}.Apply(g)
		return
	}
	ChangeSet{AddNodeFrom{Node: n, From: methodIdx}}.Apply(g)
}
