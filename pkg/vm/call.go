package vm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ReservedSlot indexes the dispatch metadata a frame carries next to the
// user-visible arguments.
type ReservedSlot int

const (
	ReservedGeneric  ReservedSlot = iota // .Generic: generic name
	ReservedMethod                       // .Method: qualified name of the target
	ReservedClass                        // .Class: classes left for continuation
	ReservedFirst                        // .First: reached by primary dispatch at position 0
	ReservedPosition                     // .Position: offset in the primary chain
	ReservedDepth                        // .Depth: continuation depth
	numReservedSlots
)

var reservedNames = [numReservedSlots]string{
	ReservedGeneric:  ".Generic",
	ReservedMethod:   ".Method",
	ReservedClass:    ".Class",
	ReservedFirst:    ".First",
	ReservedPosition: ".Position",
	ReservedDepth:    ".Depth",
}

func (r ReservedSlot) String() string {
	if r >= 0 && r < numReservedSlots {
		return reservedNames[r]
	}
	return fmt.Sprintf("<reserved %d>", int(r))
}

// Frame is the invocation context handed to the invocation collaborator.
// Its layout is fixed once built.
type Frame struct {
	CallID   uuid.UUID
	Function *Function

	args     []Value
	states   []SlotState
	varargs  *Bundle
	reserved [numReservedSlots]Value

	state    *DispatchState // nil for plain calls
	supplied []Arg          // as passed by the caller, before flattening
}

// BuildFrame assembles a frame from matched arguments and, for dispatched
// calls, the dispatch state. It does no resolution.
func BuildFrame(callID uuid.UUID, fn *Function, m *MatchedArguments, st *DispatchState, supplied []Arg) *Frame {
	f := &Frame{
		CallID:   callID,
		Function: fn,
		args:     make([]Value, len(m.Values)),
		states:   make([]SlotState, len(m.States)),
		varargs:  m.Varargs,
		state:    st,
		supplied: make([]Arg, len(supplied)),
	}
	copy(f.args, m.Values)
	copy(f.states, m.States)
	copy(f.supplied, supplied)
	for i := range f.reserved {
		f.reserved[i] = Undefined
	}
	if st != nil {
		f.reserved[ReservedGeneric] = NewString(st.Generic)
		f.reserved[ReservedMethod] = NewString(st.Method)
		f.reserved[ReservedClass] = NewCharacter(st.Remaining...)
		f.reserved[ReservedFirst] = LogicalValue(st.IsFirstMatch)
		f.reserved[ReservedPosition] = IntegerValue(int64(st.Offset))
		f.reserved[ReservedDepth] = IntegerValue(int64(st.Depth))
	}
	return f
}

// Len returns the number of formal slots.
func (f *Frame) Len() int { return len(f.args) }

// Arg returns the value in formal slot i.
func (f *Frame) Arg(i int) Value { return f.args[i] }

// State returns how formal slot i was filled.
func (f *Frame) State(i int) SlotState { return f.states[i] }

// Args returns a copy of the positional argument array.
func (f *Frame) Args() []Value {
	out := make([]Value, len(f.args))
	copy(out, f.args)
	return out
}

// Lookup returns the slot bound to a formal name.
func (f *Frame) Lookup(name string) (Value, SlotState, bool) {
	if f.Function == nil {
		return Undefined, SlotDefault, false
	}
	for i, fm := range f.Function.Formals {
		if fm.Name == name {
			return f.args[i], f.states[i], true
		}
	}
	return Undefined, SlotDefault, false
}

// Varargs returns the captured variadic bundle, nil without a marker.
func (f *Frame) Varargs() *Bundle { return f.varargs }

// Reserved returns a metadata slot. Undefined for plain calls.
func (f *Frame) Reserved(slot ReservedSlot) Value { return f.reserved[slot] }

// ReservedByName looks a metadata slot up by its dotted name.
func (f *Frame) ReservedByName(name string) (Value, bool) {
	for i, n := range reservedNames {
		if n == name {
			return f.reserved[i], true
		}
	}
	return Undefined, false
}

// DispatchState returns the state that produced this frame, nil for plain
// calls.
func (f *Frame) DispatchState() *DispatchState { return f.state }

// Supplied returns the arguments as the caller passed them.
func (f *Frame) Supplied() []Arg {
	out := make([]Arg, len(f.supplied))
	copy(out, f.supplied)
	return out
}

// Invoker is the invocation collaborator.
type Invoker interface {
	Invoke(ctx context.Context, frame *Frame) (Value, error)
}

// NativeInvoker runs a frame's function body in process.
type NativeInvoker struct{}

func (NativeInvoker) Invoke(ctx context.Context, frame *Frame) (Value, error) {
	if frame.Function == nil || frame.Function.Fn == nil {
		return Undefined, fmt.Errorf("function has no body")
	}
	return frame.Function.Fn(ctx, frame)
}
