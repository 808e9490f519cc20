/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

// Package vm is the Dalvik bytecode emulator: a register machine with a
// heap of class instances, a frame stack, dynamic dispatch into
// host-provided classes, and a breakpoint protocol that lets a caller
// observe intermediate values without halting the machine.
package vm

import "fmt"

// Register is a tagged union over what a Dalvik register currently
// holds. Like the search package's Evidence/Location/Context, this is a
// closed set of variants matched with type switches, never an
// inheritance hierarchy.
type Register interface {
	isRegister()
	String() string
}

type RegisterLiteral int32

func (RegisterLiteral) isRegister()        {}
func (r RegisterLiteral) String() string   { return fmt.Sprintf("%d", int32(r)) }

type RegisterLiteralWide int64

func (RegisterLiteralWide) isRegister()      {}
func (r RegisterLiteralWide) String() string { return fmt.Sprintf("%d", int64(r)) }

// RegisterReference holds the type descriptor and heap address of an
// object register. The address is a monotone counter, never reclaimed
// during a run, so breakpoint state stays trivially serializable.
type RegisterReference struct {
	TypeDescriptor string
	Address        uint64
}

func (RegisterReference) isRegister() {}
func (r RegisterReference) String() string {
	return fmt.Sprintf("%s@%d", r.TypeDescriptor, r.Address)
}

// RegisterEmpty is the zero value of an uninitialized register.
type RegisterEmpty struct{}

func (RegisterEmpty) isRegister()      {}
func (RegisterEmpty) String() string   { return "<empty>" }

// Value is a tagged union over what a heap slot or field holds.
type Value interface {
	isValue()
	Printable() string
}

type ValueInt int32

func (ValueInt) isValue()            {}
func (v ValueInt) Printable() string { return fmt.Sprintf("%d", int32(v)) }

type ValueShort int16

func (ValueShort) isValue()            {}
func (v ValueShort) Printable() string { return fmt.Sprintf("%d", int16(v)) }

type ValueByte int8

func (ValueByte) isValue()            {}
func (v ValueByte) Printable() string { return fmt.Sprintf("%d", int8(v)) }

type ValueArray []byte

func (ValueArray) isValue() {}
func (v ValueArray) Printable() string {
	return fmt.Sprintf("byte[%d]", len(v))
}

// ValueObject wraps a ClassInstance (including the built-in string and
// byte-array synthetic classes).
type ValueObject struct {
	Instance *ClassInstance
}

func (ValueObject) isValue() {}
func (v ValueObject) Printable() string {
	if v.Instance == nil {
		return "<null>"
	}
	return v.Instance.Printable()
}

// ClassInstance is a heap object: the class it's an instance of, plus
// its instance fields by name mapped to the heap address holding each
// field's value. The synthetic string/byte-array runtime types store
// their payload directly in BackingValue instead of going through a
// field map, since they have no class_data_item of their own.
type ClassInstance struct {
	ClassDescriptor string
	Fields          map[string]uint64 // field name -> heap address

	// BackingValue holds the payload for built-in synthetic types
	// (string, byte array) that the dynamic dispatch/runtime fallback
	// allocates directly rather than through class_data fields.
	BackingValue interface{}
}

// Printable renders a ClassInstance the way the interpreter's
// get_return_object equivalent does: strings render their text
// directly, everything else renders a generic "<Descriptor>" label.
func (c *ClassInstance) Printable() string {
	if s, ok := c.BackingValue.(string); ok {
		return s
	}
	if c.ClassDescriptor == "" {
		return "NEW INSTANCE"
	}
	return c.ClassDescriptor
}
