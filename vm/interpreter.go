/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import (
	"fmt"

	"dexkit/dex"
	"dexkit/internal/trace"
)

// Start creates a fresh root frame for methodIdx/code with args placed
// in the conventional parameter-register range, sets pc to 0, and runs
// the interpreter loop until it pauses, finishes, or fails.
func (m *VM) Start(methodIdx uint32, code *dex.CodeItem, args []Register) *VMException {
	f := newFrame(m.CurrentDexFile, methodIdx, code, 0)
	f.placeArgs(args)
	m.pushFrame(f)
	m.PC = 0
	m.State = StateRunning
	return m.run()
}

// ContinueExecution resumes a paused VM from pc -- typically pc or
// pc+CurrentInstructionSize, the latter skipping past an instruction
// whose breakpoint already observed what it needed.
func (m *VM) ContinueExecution(pc uint32) *VMException {
	m.PC = pc
	m.State = StateRunning
	return m.run()
}

// run drives the interpreter loop: decode, optionally pause for a
// breakpoint, execute, advance. It returns on Breakpoint (paused),
// normal completion (nil), or any fatal VMException.
func (m *VM) run() *VMException {
	for {
		f := m.currentFrame()
		if f == nil {
			m.State = StateFinished
			return nil
		}

		insns := f.Code.Insns
		if int(m.PC) >= len(insns) {
			m.State = StateError
			return newFatal(ExcNoInstructionAtAddress, m.PC, f.MethodIdx, "")
		}

		inst, err := dex.DecodeInstruction(insns, m.PC)
		if err != nil {
			m.State = StateError
			return newFatal(ExcNoInstructionAtAddress, m.PC, f.MethodIdx, err.Error())
		}
		m.CurrentInstructionSize = inst.Length

		if exc := m.checkPreBreakpoints(f, inst); exc != nil {
			m.State = StatePaused
			return exc
		}

		advance, exc := m.execOne(f, inst)
		if exc != nil {
			if exc.Kind == ExcBreakpoint {
				m.State = StatePaused
			} else {
				m.State = StateError
			}
			return exc
		}

		if advance {
			m.PC += uint32(inst.Length)
		}
	}
}

// checkPreBreakpoints fires ArrayReg/StringReg breakpoints: these
// observe a register about to be passed to a call, so they must fire
// before the invoke executes.
func (m *VM) checkPreBreakpoints(f *Frame, inst dex.Instruction) *VMException {
	if inst.Opcode.Format() != dex.Fmt35c && inst.Opcode.Format() != dex.Fmt3rc {
		return nil
	}
	wantArray, wantString := false, false
	for _, bp := range m.Breakpoints {
		if bp.MethodIdx != f.MethodIdx || bp.InstructionOffset != m.PC {
			continue
		}
		switch bp.Ctx.(type) {
		case ArrayReg:
			wantArray = true
		case StringReg:
			wantString = true
		}
	}
	if !wantArray && !wantString {
		return nil
	}
	// A 35c/3rc call can carry several argument registers; the first one
	// actually holding the watched kind of value is what fires, since the
	// installed breakpoint names a context kind, not a fixed register.
	args, exc := m.resolveArgs(f, inst)
	if exc != nil {
		return nil
	}
	for i, v := range args {
		ref, ok := v.(RegisterReference)
		if !ok {
			continue
		}
		reg := instructionRegisterAt(inst, i)
		if wantArray {
			if _, isArr := m.Heap[ref.Address].(ValueArray); isArr {
				return &VMException{Kind: ExcBreakpoint, PC: m.PC, MethodRef: f.MethodIdx, Ctx: ArrayReg{Reg: reg, MethodRef: inst.Index}}
			}
		}
		if wantString {
			if obj, isObj := m.Heap[ref.Address].(ValueObject); isObj {
				if _, isStr := obj.Instance.BackingValue.(string); isStr {
					return &VMException{Kind: ExcBreakpoint, PC: m.PC, MethodRef: f.MethodIdx, Ctx: StringReg{Reg: reg, MethodRef: inst.Index}}
				}
			}
		}
	}
	return nil
}

// instructionRegisterAt returns the ith argument register named by
// inst, accounting for both explicit register lists and /range forms.
func instructionRegisterAt(inst dex.Instruction, i int) uint16 {
	if inst.RegisterRange {
		if len(inst.Regs) != 2 {
			return 0
		}
		return inst.Regs[0] + uint16(i)
	}
	if i < len(inst.Regs) {
		return inst.Regs[i]
	}
	return 0
}

// checkPostBreakpoint fires ResultObjectRegister/FieldSet breakpoints,
// which observe a value after it has been committed.
func (m *VM) checkPostBreakpoint(f *Frame, want BreakpointContext) *VMException {
	for _, bp := range m.Breakpoints {
		if bp.MethodIdx != f.MethodIdx || bp.InstructionOffset != m.PC {
			continue
		}
		if bp.matchesKind(want) {
			return &VMException{Kind: ExcBreakpoint, PC: m.PC, MethodRef: f.MethodIdx, Ctx: want}
		}
	}
	return nil
}

// execOne executes one instruction against frame f. It returns
// advance=true when the caller should step the pc forward by the
// instruction's own length (most instructions); taken branches, returns
// and invokes that push a callee frame set pc themselves and return
// advance=false.
func (m *VM) execOne(f *Frame, inst dex.Instruction) (bool, *VMException) {
	name := inst.Opcode.Name()
	switch name {
	case "nop":
		return true, nil

	case "move", "move/from16", "move-object", "move-wide":
		v, exc := f.get(inst.Regs[1])
		if exc != nil {
			return false, exc
		}
		if exc := f.set(inst.Regs[0], v); exc != nil {
			return false, exc
		}
		return true, nil

	case "move-result", "move-result-wide", "move-result-object":
		if exc := f.set(inst.Regs[0], m.ReturnReg); exc != nil {
			return false, exc
		}
		return true, nil

	case "const/4", "const/16", "const":
		if exc := f.set(inst.Regs[0], RegisterLiteral(int32(inst.Literal))); exc != nil {
			return false, exc
		}
		return true, nil

	case "const/high16":
		if exc := f.set(inst.Regs[0], RegisterLiteral(int32(inst.Literal)<<16)); exc != nil {
			return false, exc
		}
		return true, nil

	case "const-wide/high16":
		if exc := f.set(inst.Regs[0], RegisterLiteralWide(inst.Literal<<48)); exc != nil {
			return false, exc
		}
		return true, nil

	case "const-wide/16", "const-wide":
		if exc := f.set(inst.Regs[0], RegisterLiteralWide(inst.Literal)); exc != nil {
			return false, exc
		}
		return true, nil

	case "const-string", "const-string/jumbo":
		s, err := f.Dex.StringAt(inst.Index)
		if err != nil {
			return false, newFatal(ExcLinkerError, m.PC, f.MethodIdx, err.Error())
		}
		ref := m.NewInstance(stringDescriptorFor(f.Dex), ValueObject{Instance: &ClassInstance{BackingValue: s}})
		if exc := f.set(inst.Regs[0], ref); exc != nil {
			return false, exc
		}
		return true, nil

	case "new-instance":
		desc, err := f.Dex.TypeDescriptor(inst.Index)
		if err != nil {
			return false, newFatal(ExcClassNotFound, m.PC, f.MethodIdx, err.Error())
		}
		ref := m.NewInstance(desc, ValueObject{Instance: &ClassInstance{ClassDescriptor: desc}})
		if exc := f.set(inst.Regs[0], ref); exc != nil {
			return false, exc
		}
		return true, nil

	case "return-void":
		m.ReturnReg = RegisterEmpty{}
		return m.doReturn(f)

	case "return", "return-wide", "return-object":
		v, exc := f.get(inst.Regs[0])
		if exc != nil {
			return false, exc
		}
		m.ReturnReg = v
		return m.doReturn(f)

	case "goto", "goto/16", "goto/32":
		m.PC = uint32(int32(m.PC) + inst.BranchTarget)
		return false, nil

	case "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le":
		return m.execIfCompare(f, inst, name)

	case "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez":
		return m.execIfZero(f, inst, name)

	case "add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int":
		return m.execBinaryInt(f, inst, name)

	case "add-int/2addr", "sub-int/2addr", "mul-int/2addr", "div-int/2addr", "rem-int/2addr":
		return m.execBinaryInt2Addr(f, inst, name)

	case "invoke-virtual", "invoke-direct", "invoke-static", "invoke-super", "invoke-interface",
		"invoke-virtual/range", "invoke-direct/range", "invoke-static/range", "invoke-super/range", "invoke-interface/range":
		return m.execInvoke(f, inst)

	case "iget", "iget-object", "iget-wide", "iget-boolean", "iget-byte", "iget-char", "iget-short":
		return m.execIGet(f, inst)

	case "iput", "iput-object", "iput-wide", "iput-boolean", "iput-byte", "iput-char", "iput-short":
		return m.execIPut(f, inst)

	case "sget", "sget-object", "sget-wide", "sget-boolean", "sget-byte", "sget-char", "sget-short":
		return m.execSGet(f, inst)

	case "sput", "sput-object", "sput-wide", "sput-boolean", "sput-byte", "sput-char", "sput-short":
		return m.execSPut(f, inst)

	default:
		trace.Fine("vm: unhandled opcode " + name + ", treated as nop")
		return true, nil
	}
}

// doReturn pops the current frame. If a caller frame remains, control
// resumes there at the instruction following the call; otherwise the
// run is finished.
func (m *VM) doReturn(f *Frame) (bool, *VMException) {
	m.popFrame()
	caller := m.currentFrame()
	if caller == nil {
		m.State = StateFinished
		return false, nil
	}
	m.CurrentDexFile = caller.Dex
	m.PC = f.CallerPC
	return false, nil
}

func stringDescriptorFor(d *dex.File) string {
	return "Ljava/lang/String;"
}

func (m *VM) execIfCompare(f *Frame, inst dex.Instruction, name string) (bool, *VMException) {
	a, exc := f.get(inst.Regs[0])
	if exc != nil {
		return false, exc
	}
	b, exc := f.get(inst.Regs[1])
	if exc != nil {
		return false, exc
	}
	av, aok := a.(RegisterLiteral)
	bv, bok := b.(RegisterLiteral)
	if !aok || !bok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, "if-* on non-literal register")
	}
	taken := compareTaken(name, int32(av), int32(bv))
	if taken {
		m.PC = uint32(int32(m.PC) + inst.BranchTarget)
		return false, nil
	}
	return true, nil
}

func (m *VM) execIfZero(f *Frame, inst dex.Instruction, name string) (bool, *VMException) {
	a, exc := f.get(inst.Regs[0])
	if exc != nil {
		return false, exc
	}
	av, ok := a.(RegisterLiteral)
	if !ok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, "if-*z on non-literal register")
	}
	zeroName := map[string]string{
		"if-eqz": "if-eq", "if-nez": "if-ne", "if-ltz": "if-lt",
		"if-gez": "if-ge", "if-gtz": "if-gt", "if-lez": "if-le",
	}[name]
	taken := compareTaken(zeroName, int32(av), 0)
	if taken {
		m.PC = uint32(int32(m.PC) + inst.BranchTarget)
		return false, nil
	}
	return true, nil
}

func compareTaken(name string, a, b int32) bool {
	switch name {
	case "if-eq":
		return a == b
	case "if-ne":
		return a != b
	case "if-lt":
		return a < b
	case "if-ge":
		return a >= b
	case "if-gt":
		return a > b
	case "if-le":
		return a <= b
	}
	return false
}

func (m *VM) execBinaryInt(f *Frame, inst dex.Instruction, name string) (bool, *VMException) {
	b, exc := f.get(inst.Regs[1])
	if exc != nil {
		return false, exc
	}
	c, exc := f.get(inst.Regs[2])
	if exc != nil {
		return false, exc
	}
	bv, bok := b.(RegisterLiteral)
	cv, cok := c.(RegisterLiteral)
	if !bok || !cok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, name+" on non-literal register")
	}
	result, exc2 := applyIntOp(name, int32(bv), int32(cv), m, f.MethodIdx)
	if exc2 != nil {
		return false, exc2
	}
	if exc := f.set(inst.Regs[0], RegisterLiteral(result)); exc != nil {
		return false, exc
	}
	return true, nil
}

func (m *VM) execBinaryInt2Addr(f *Frame, inst dex.Instruction, name string) (bool, *VMException) {
	base := name[:len(name)-len("/2addr")]
	a, exc := f.get(inst.Regs[0])
	if exc != nil {
		return false, exc
	}
	b, exc := f.get(inst.Regs[1])
	if exc != nil {
		return false, exc
	}
	av, aok := a.(RegisterLiteral)
	bv, bok := b.(RegisterLiteral)
	if !aok || !bok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, name+" on non-literal register")
	}
	result, exc2 := applyIntOp(base, int32(av), int32(bv), m, f.MethodIdx)
	if exc2 != nil {
		return false, exc2
	}
	if exc := f.set(inst.Regs[0], RegisterLiteral(result)); exc != nil {
		return false, exc
	}
	return true, nil
}

func applyIntOp(name string, a, b int32, m *VM, methodIdx uint32) (int32, *VMException) {
	switch name {
	case "add-int":
		return a + b, nil
	case "sub-int":
		return a - b, nil
	case "mul-int":
		return a * b, nil
	case "div-int":
		if b == 0 {
			return 0, newFatal(ExcLinkerError, m.PC, methodIdx, "division by zero")
		}
		return a / b, nil
	case "rem-int":
		if b == 0 {
			return 0, newFatal(ExcLinkerError, m.PC, methodIdx, "division by zero")
		}
		return a % b, nil
	case "and-int":
		return a & b, nil
	case "or-int":
		return a | b, nil
	case "xor-int":
		return a ^ b, nil
	}
	return 0, newFatal(ExcLinkerError, m.PC, methodIdx, "unsupported int op "+name)
}

func (m *VM) execInvoke(f *Frame, inst dex.Instruction) (bool, *VMException) {
	if exc := m.invoke(f, inst); exc != nil {
		return false, exc
	}
	// invoke may have pushed a new frame (in-DEX dispatch); in that case
	// pc was already reset to 0 in the callee and must not be advanced
	// again by the caller's instruction length, and the result isn't
	// observable until the callee returns and a move-result* runs.
	if m.currentFrame() != f {
		return false, nil
	}
	if exc := m.checkPostBreakpoint(f, ResultObjectRegister{}); exc != nil {
		return false, exc
	}
	return true, nil
}

func (m *VM) execIGet(f *Frame, inst dex.Instruction) (bool, *VMException) {
	objReg, exc := f.get(inst.Regs[1])
	if exc != nil {
		return false, exc
	}
	ref, ok := objReg.(RegisterReference)
	if !ok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, "iget on non-reference register")
	}
	obj, ok := m.Heap[ref.Address].(ValueObject)
	if !ok || obj.Instance == nil {
		return false, newFatal(ExcRegisterNotFound, m.PC, f.MethodIdx, "iget on missing instance")
	}
	fieldName, err := f.Dex.FieldName(inst.Index)
	if err != nil {
		return false, newFatal(ExcLinkerError, m.PC, f.MethodIdx, err.Error())
	}
	addr, ok := obj.Instance.Fields[fieldName]
	if !ok {
		return true, nil // unset fields read as the zero register, matching field-absent lookups
	}
	v, ok := m.Heap[addr]
	if !ok {
		return true, nil
	}
	reg := valueToRegister(v)
	if exc := f.set(inst.Regs[0], reg); exc != nil {
		return false, exc
	}
	return true, nil
}

func (m *VM) execIPut(f *Frame, inst dex.Instruction) (bool, *VMException) {
	valReg, exc := f.get(inst.Regs[0])
	if exc != nil {
		return false, exc
	}
	objReg, exc := f.get(inst.Regs[1])
	if exc != nil {
		return false, exc
	}
	ref, ok := objReg.(RegisterReference)
	if !ok {
		return false, newFatal(ExcInvalidRegisterType, m.PC, f.MethodIdx, "iput on non-reference register")
	}
	obj, ok := m.Heap[ref.Address].(ValueObject)
	if !ok || obj.Instance == nil {
		return false, newFatal(ExcRegisterNotFound, m.PC, f.MethodIdx, "iput on missing instance")
	}
	fieldName, err := f.Dex.FieldName(inst.Index)
	if err != nil {
		return false, newFatal(ExcLinkerError, m.PC, f.MethodIdx, err.Error())
	}
	addr := m.alloc()
	m.Heap[addr] = registerToValue(valReg)
	if obj.Instance.Fields == nil {
		obj.Instance.Fields = make(map[string]uint64)
	}
	obj.Instance.Fields[fieldName] = addr

	if exc := m.checkPostBreakpoint(f, FieldSet{Reg: inst.Regs[0], FieldIdx: inst.Index}); exc != nil {
		return false, exc
	}
	return true, nil
}

func staticKey(f *Frame, fieldIdx uint32) string {
	return fmt.Sprintf("%s#%d", f.Dex.DexName(), fieldIdx)
}

func (m *VM) execSGet(f *Frame, inst dex.Instruction) (bool, *VMException) {
	addr, ok := m.StaticFields[staticKey(f, inst.Index)]
	if !ok {
		return true, nil
	}
	v, ok := m.Heap[addr]
	if !ok {
		return true, nil
	}
	if exc := f.set(inst.Regs[0], valueToRegister(v)); exc != nil {
		return false, exc
	}
	return true, nil
}

func (m *VM) execSPut(f *Frame, inst dex.Instruction) (bool, *VMException) {
	valReg, exc := f.get(inst.Regs[0])
	if exc != nil {
		return false, exc
	}
	addr := m.alloc()
	m.Heap[addr] = registerToValue(valReg)
	m.StaticFields[staticKey(f, inst.Index)] = addr

	if exc := m.checkPostBreakpoint(f, FieldSet{Reg: inst.Regs[0], FieldIdx: inst.Index}); exc != nil {
		return false, exc
	}
	return true, nil
}

func valueToRegister(v Value) Register {
	switch vv := v.(type) {
	case ValueInt:
		return RegisterLiteral(int32(vv))
	case ValueShort:
		return RegisterLiteral(int32(vv))
	case ValueByte:
		return RegisterLiteral(int32(vv))
	default:
		return RegisterEmpty{}
	}
}

func registerToValue(r Register) Value {
	switch rv := r.(type) {
	case RegisterLiteral:
		return ValueInt(int32(rv))
	default:
		return ValueInt(0)
	}
}
