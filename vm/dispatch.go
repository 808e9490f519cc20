/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import (
	"dexkit/dex"
)

// resolveArgs gathers the argument registers named by inst.Regs from
// the current frame, in encoding order.
func (m *VM) resolveArgs(f *Frame, inst dex.Instruction) ([]Register, *VMException) {
	if inst.RegisterRange {
		if len(inst.Regs) != 2 {
			return nil, nil
		}
		first, last := inst.Regs[0], inst.Regs[1]
		args := make([]Register, 0, int(last)-int(first)+1)
		for r := first; r <= last; r++ {
			v, exc := f.get(r)
			if exc != nil {
				return nil, exc
			}
			args = append(args, v)
		}
		return args, nil
	}
	args := make([]Register, 0, len(inst.Regs))
	for _, r := range inst.Regs {
		v, exc := f.get(r)
		if exc != nil {
			return nil, exc
		}
		args = append(args, v)
	}
	return args, nil
}

// invoke resolves and dispatches one invoke-* instruction per the
// precedence order: (a) resolve the method_id, (b) a process-wide
// registry entry for the target class wins if present, (c) otherwise an
// in-DEX CodeItem is pushed as a new frame, (d) otherwise MethodNotFound
// -- the registry in this implementation already carries the built-in
// synthetic runtime classes (string, byte array), registered at package
// init the same way a host would register its own, so (b) and the
// spec's separately-named "built-in runtime" step are the same lookup.
func (m *VM) invoke(f *Frame, inst dex.Instruction) *VMException {
	d := f.Dex
	if int(inst.Index) >= len(d.Methods) {
		return newFatal(ExcMethodNotFound, m.PC, inst.Index, "method index out of range")
	}
	mid := d.Methods[inst.Index]
	classDesc, err := d.TypeDescriptor(uint32(mid.ClassIdx))
	if err != nil {
		return newFatal(ExcClassNotFound, m.PC, inst.Index, err.Error())
	}
	methodName, err := d.StringAt(mid.NameIdx)
	if err != nil {
		return newFatal(ExcMethodNotFound, m.PC, inst.Index, err.Error())
	}

	args, exc := m.resolveArgs(f, inst)
	if exc != nil {
		return exc
	}

	if inv, ok := LookupInvokable(classDesc); ok {
		result, vexc := inv.Call(methodName, m, args)
		if vexc != nil {
			return vexc
		}
		m.ReturnReg = result
		return nil
	}

	if m.Group != nil {
		if owningDex, classDef, err := m.Group.GetClassForMethod(d, inst.Index); err == nil && classDef != nil && classDef.Data != nil {
			if em := findMethodByNameInClass(classDef, owningDex, methodName); em != nil && em.Code != nil {
				newF := newFrame(owningDex, em.MethodIdx, em.Code, m.PC+uint32(inst.Length))
				newF.placeArgs(args)
				m.pushFrame(newF)
				m.CurrentDexFile = owningDex
				m.PC = 0
				return nil
			}
		}
	}

	return newFatal(ExcMethodNotFound, m.PC, inst.Index, classDesc+"->"+methodName)
}

// findMethodByNameInClass scans a class's direct and virtual methods
// for one named name, resolving via the owning DEX's method table since
// EncodedMethod only stores a method_idx.
func findMethodByNameInClass(cd *dex.ClassDef, d *dex.File, name string) *dex.EncodedMethod {
	if cd.Data == nil {
		return nil
	}
	check := func(list []dex.EncodedMethod) *dex.EncodedMethod {
		for i := range list {
			if int(list[i].MethodIdx) >= len(d.Methods) {
				continue
			}
			n, err := d.StringAt(d.Methods[list[i].MethodIdx].NameIdx)
			if err == nil && n == name {
				return &list[i]
			}
		}
		return nil
	}
	if em := check(cd.Data.DirectMethods); em != nil {
		return em
	}
	return check(cd.Data.VirtualMethods)
}
