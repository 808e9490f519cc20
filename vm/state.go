/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package vm

import (
	"container/list"

	"dexkit/dex"
	"dexkit/internal/errnames"
	"dexkit/multidex"
)

// RunState is the emulator's overall run status.
type RunState int

const (
	StateRunning RunState = iota
	StatePaused
	StateStopped
	StateFinished
	StateError
)

// instanceRef records where one heap instance lives, keyed by a
// process-assigned name used by Instances.
type instanceRef struct {
	Descriptor string
	Address    uint64
}

// VM is one emulator run over a multi-DEX group: a register machine
// with a heap, an instance table, and a frame stack implemented over
// container/list, the same structure the teacher's frame stack uses.
type VM struct {
	CurrentDex      *dex.File
	SecondaryDexes  []*dex.File
	NativeBinaries  map[string][]byte
	Group           *multidex.MultiDexFile

	Heap            map[uint64]Value
	Instances       map[string]instanceRef
	StaticFields    map[string]uint64 // "dexName#fieldIdx" -> heap address
	Frames          *list.List
	ReturnReg       Register
	State           RunState
	Breakpoints     []Breakpoint
	PC              uint32
	CurrentInstructionSize int
	CurrentDexFile  *dex.File

	nextAddr     uint64
	errorCounts  map[uint32]int // per-method interpretation error count
}

// NewVM constructs an emulator over one multi-DEX group, using primary
// as the initially current DEX.
func NewVM(group *multidex.MultiDexFile, natives map[string][]byte) *VM {
	return &VM{
		CurrentDex:     group.Primary,
		SecondaryDexes: group.Secondary,
		NativeBinaries: natives,
		Group:          group,
		Heap:           make(map[uint64]Value),
		Instances:      make(map[string]instanceRef),
		StaticFields:   make(map[string]uint64),
		Frames:         list.New(),
		ReturnReg:      RegisterEmpty{},
		State:          StateStopped,
		CurrentDexFile: group.Primary,
		errorCounts:    make(map[uint32]int),
	}
}

// alloc returns a fresh monotone heap address. Addresses are never
// reused during a run, so a Breakpoint's captured register state never
// goes stale mid-pause.
func (m *VM) alloc() uint64 {
	m.nextAddr++
	return m.nextAddr
}

// NewInstance allocates a heap slot for value under descriptor, inserts
// it into Instances keyed by descriptor, and returns a RegisterReference
// pointing at it.
func (m *VM) NewInstance(descriptor string, value Value) RegisterReference {
	addr := m.alloc()
	m.Heap[addr] = value
	m.Instances[descriptor] = instanceRef{Descriptor: descriptor, Address: addr}
	return RegisterReference{TypeDescriptor: descriptor, Address: addr}
}

// currentFrame returns the top-of-stack frame, or nil if the stack is
// empty.
func (m *VM) currentFrame() *Frame {
	if m.Frames.Len() == 0 {
		return nil
	}
	return m.Frames.Back().Value.(*Frame)
}

// pushFrame pushes f onto the call stack.
func (m *VM) pushFrame(f *Frame) {
	m.Frames.PushBack(f)
}

// popFrame removes and returns the top frame.
func (m *VM) popFrame() *Frame {
	e := m.Frames.Back()
	if e == nil {
		return nil
	}
	m.Frames.Remove(e)
	return e.Value.(*Frame)
}

// GetRegisters returns a snapshot of the current frame's register file,
// for a paused caller to inspect after a Breakpoint exception.
func (m *VM) GetRegisters() []Register {
	f := m.currentFrame()
	if f == nil {
		return nil
	}
	out := make([]Register, len(f.Registers))
	copy(out, f.Registers)
	return out
}

// GetReturnObject extracts the Value behind ReturnReg, if it names a
// heap object; used by callers rendering a method's printable result.
func (m *VM) GetReturnObject() (Value, bool) {
	ref, ok := m.ReturnReg.(RegisterReference)
	if !ok {
		return nil, false
	}
	v, ok := m.Heap[ref.Address]
	return v, ok
}

// tooManyErrors counts one more interpretation error against methodIdx
// and reports whether its count now exceeds 10. Nothing in this module
// calls it; the graph builder's dynamic phase stops a method's run at
// its first non-breakpoint exception.
func (m *VM) tooManyErrors(methodIdx uint32) bool {
	m.errorCounts[methodIdx]++
	return m.errorCounts[methodIdx] > 10
}

// classNotFoundMessage renders a uniform message for an unresolvable
// class descriptor, used by both the static and dynamic dispatch paths.
func classNotFoundMessage(descriptor string) string {
	return errnames.ClassNotFoundException + ": " + descriptor
}
