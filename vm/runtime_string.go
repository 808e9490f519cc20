/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import "dexkit/internal/errnames"

// stringClass is the built-in runtime implementation of
// java.lang.String: a Value::Object whose BackingValue is the Go
// string itself, with a handful of the methods bytecode most commonly
// calls against string constants.
type stringClass struct{}

func (stringClass) Call(methodName string, machine *VM, args []Register) (Register, *VMException) {
	self, rest, exc := stringReceiver(machine, args)
	if exc != nil {
		return nil, exc
	}
	switch methodName {
	case "concat", "<init>":
		var tail string
		if len(rest) > 0 {
			tail = registerText(machine, rest[0])
		}
		ref := machine.NewInstance(errnames.StringClassName, ValueObject{Instance: &ClassInstance{
			ClassDescriptor: errnames.StringClassName,
			BackingValue:    self + tail,
		}})
		return ref, nil
	case "length":
		return RegisterLiteral(int32(len(self))), nil
	case "toString":
		ref := machine.NewInstance(errnames.StringClassName, ValueObject{Instance: &ClassInstance{
			ClassDescriptor: errnames.StringClassName,
			BackingValue:    self,
		}})
		return ref, nil
	default:
		return nil, newFatal(ExcMethodNotFound, machine.PC, 0, "java.lang.String has no method "+methodName)
	}
}

// stringReceiver resolves args[0] (the receiver, by the usual invoke-*
// convention of argument 0 being `this`) to its backing Go string, and
// returns the remaining arguments.
func stringReceiver(machine *VM, args []Register) (string, []Register, *VMException) {
	if len(args) == 0 {
		return "", nil, newFatal(ExcInvalidRegisterType, machine.PC, 0, "string call with no receiver")
	}
	return registerText(machine, args[0]), args[1:], nil
}

// registerText renders whatever reg holds as text: a string object's
// backing value if it is one, or a numeric literal's decimal form
// otherwise.
func registerText(machine *VM, reg Register) string {
	switch r := reg.(type) {
	case RegisterReference:
		if v, ok := machine.Heap[r.Address]; ok {
			return v.Printable()
		}
		return ""
	case RegisterLiteral:
		return r.String()
	case RegisterLiteralWide:
		return r.String()
	default:
		return ""
	}
}

func init() {
	RegisterInvokable(errnames.StringClassName, stringClass{})
}
