/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import "dexkit/internal/errnames"

// byteArrayClass is the built-in runtime implementation of `[B`:
// allocation and length queries. Element access is not emulated: the
// interpreter has no aget/aput case, so those instructions fall through
// to its no-op default.
type byteArrayClass struct{}

func (byteArrayClass) Call(methodName string, machine *VM, args []Register) (Register, *VMException) {
	switch methodName {
	case "<init>":
		size := int32(0)
		if len(args) > 0 {
			if lit, ok := args[0].(RegisterLiteral); ok {
				size = int32(lit)
			}
		}
		if size < 0 {
			return nil, newFatal(ExcInvalidRegisterType, machine.PC, 0, "negative array size")
		}
		ref := machine.NewInstance(errnames.ByteArrayClassName, ValueArray(make([]byte, size)))
		return ref, nil
	case "length":
		if len(args) == 0 {
			return nil, newFatal(ExcInvalidRegisterType, machine.PC, 0, "length call with no receiver")
		}
		ref, ok := args[0].(RegisterReference)
		if !ok {
			return nil, newFatal(ExcInvalidRegisterType, machine.PC, 0, "length receiver is not a reference")
		}
		v, ok := machine.Heap[ref.Address]
		if !ok {
			return nil, newFatal(ExcRegisterNotFound, machine.PC, 0, "array not found in heap")
		}
		arr, ok := v.(ValueArray)
		if !ok {
			return nil, newFatal(ExcInvalidRegisterType, machine.PC, 0, "receiver is not a byte array")
		}
		return RegisterLiteral(int32(len(arr))), nil
	default:
		return nil, newFatal(ExcMethodNotFound, machine.PC, 0, "[B has no method "+methodName)
	}
}

func init() {
	RegisterInvokable(errnames.ByteArrayClassName, byteArrayClass{})
}
