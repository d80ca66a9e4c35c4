package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

type ValueType uint8

const (
	TypeUndefined ValueType = iota // absent attribute / no value
	TypeMissing                    // elided argument sentinel
	TypeNull

	TypeLogical
	TypeInteger
	TypeDouble
	TypeString
	TypeCharacter // character vector

	TypeObject
	TypeFunction
	TypeBundle
)

// String returns a human-readable string representation of the ValueType
func (vt ValueType) String() string {
	switch vt {
	case TypeUndefined:
		return "undefined"
	case TypeMissing:
		return "missing"
	case TypeNull:
		return "NULL"
	case TypeLogical:
		return "logical"
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeString, TypeCharacter:
		return "character"
	case TypeObject:
		return "list"
	case TypeFunction:
		return "function"
	case TypeBundle:
		return "..."
	default:
		return fmt.Sprintf("<unknown type: %d>", vt)
	}
}

// Value is a tagged value. Scalars live in payload, reference kinds in obj.
type Value struct {
	typ     ValueType
	payload uint64
	obj     unsafe.Pointer
}

var (
	Undefined = Value{typ: TypeUndefined}
	Missing   = Value{typ: TypeMissing}
	Null      = Value{typ: TypeNull}
	True      = Value{typ: TypeLogical, payload: 1}
	False     = Value{typ: TypeLogical, payload: 0}
)

func IntegerValue(value int64) Value {
	return Value{typ: TypeInteger, payload: uint64(value)}
}

func DoubleValue(value float64) Value {
	return Value{typ: TypeDouble, payload: math.Float64bits(value)}
}

func LogicalValue(value bool) Value {
	if value {
		return True
	}
	return False
}

func NewString(value string) Value {
	s := value
	return Value{typ: TypeString, obj: unsafe.Pointer(&s)}
}

// NewCharacter builds a character vector. The slice is copied.
func NewCharacter(values ...string) Value {
	cp := make([]string, len(values))
	copy(cp, values)
	return Value{typ: TypeCharacter, obj: unsafe.Pointer(&cp)}
}

func NewObjectValue(o *Object) Value {
	return Value{typ: TypeObject, obj: unsafe.Pointer(o)}
}

func NewFunctionValue(fn *Function) Value {
	return Value{typ: TypeFunction, obj: unsafe.Pointer(fn)}
}

func NewBundleValue(b *Bundle) Value {
	return Value{typ: TypeBundle, obj: unsafe.Pointer(b)}
}

func (v Value) Type() ValueType { return v.typ }

// TypeName is the intrinsic type name used as the implicit class of a value.
func (v Value) TypeName() string { return v.typ.String() }

func (v Value) IsUndefined() bool { return v.typ == TypeUndefined }
func (v Value) IsMissing() bool   { return v.typ == TypeMissing }
func (v Value) IsObject() bool    { return v.typ == TypeObject }
func (v Value) IsFunction() bool  { return v.typ == TypeFunction }
func (v Value) IsBundle() bool    { return v.typ == TypeBundle }

func (v Value) AsInteger() int64 {
	if v.typ != TypeInteger {
		panic("value is not an integer")
	}
	return int64(v.payload)
}

func (v Value) AsDouble() float64 {
	if v.typ != TypeDouble {
		panic("value is not a double")
	}
	return math.Float64frombits(v.payload)
}

func (v Value) AsLogical() bool {
	if v.typ != TypeLogical {
		panic("value is not a logical")
	}
	return v.payload != 0
}

func (v Value) AsString() string {
	switch v.typ {
	case TypeString:
		return *(*string)(v.obj)
	case TypeCharacter:
		cv := *(*[]string)(v.obj)
		if len(cv) == 1 {
			return cv[0]
		}
	}
	panic("value is not a string")
}

// AsCharacter returns the elements of a character vector. A scalar string is
// treated as a vector of length one. The result must not be modified.
func (v Value) AsCharacter() []string {
	switch v.typ {
	case TypeCharacter:
		return *(*[]string)(v.obj)
	case TypeString:
		return []string{*(*string)(v.obj)}
	}
	panic("value is not a character vector")
}

func (v Value) AsObject() *Object {
	if v.typ != TypeObject {
		panic("value is not an object")
	}
	return (*Object)(v.obj)
}

func (v Value) AsFunction() *Function {
	if v.typ != TypeFunction {
		panic("value is not a function")
	}
	return (*Function)(v.obj)
}

func (v Value) AsBundle() *Bundle {
	if v.typ != TypeBundle {
		panic("value is not a bundle")
	}
	return (*Bundle)(v.obj)
}

// Equals compares scalars and character vectors by value and reference kinds
// by identity.
func (v Value) Equals(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeUndefined, TypeMissing, TypeNull:
		return true
	case TypeLogical, TypeInteger:
		return v.payload == o.payload
	case TypeDouble:
		return v.AsDouble() == o.AsDouble()
	case TypeString:
		return v.AsString() == o.AsString()
	case TypeCharacter:
		a, b := v.AsCharacter(), o.AsCharacter()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	default:
		return v.obj == o.obj
	}
}

func (v Value) Inspect() string {
	switch v.typ {
	case TypeUndefined:
		return "<undefined>"
	case TypeMissing:
		return "<missing>"
	case TypeNull:
		return "NULL"
	case TypeLogical:
		if v.AsLogical() {
			return "TRUE"
		}
		return "FALSE"
	case TypeInteger:
		return strconv.FormatInt(v.AsInteger(), 10) + "L"
	case TypeDouble:
		return strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.AsString())
	case TypeCharacter:
		cv := v.AsCharacter()
		parts := make([]string, len(cv))
		for i, s := range cv {
			parts[i] = strconv.Quote(s)
		}
		return "c(" + strings.Join(parts, ", ") + ")"
	case TypeObject:
		return fmt.Sprintf("<object %p>", v.obj)
	case TypeFunction:
		fn := v.AsFunction()
		if fn.Name != "" {
			return fmt.Sprintf("[Function: %s]", fn.Name)
		}
		return "[Function (anonymous)]"
	case TypeBundle:
		return v.AsBundle().Inspect()
	default:
		return fmt.Sprintf("<unknown value type: %d>", v.typ)
	}
}

func (v Value) String() string { return v.Inspect() }

// Arg is one supplied argument. An empty Name means positional.
type Arg struct {
	Name  string
	Value Value
}

func Positional(v Value) Arg { return Arg{Value: v} }

func Named(name string, v Value) Arg { return Arg{Name: name, Value: v} }

// Bundle is a variadic bundle of arguments, flattened into the argument list
// of the call it is passed to.
type Bundle struct {
	Args []Arg
}

func NewBundle(args ...Arg) *Bundle {
	cp := make([]Arg, len(args))
	copy(cp, args)
	return &Bundle{Args: cp}
}

func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Args)
}

// PositionalValues returns the unnamed entries in order.
func (b *Bundle) PositionalValues() []Value {
	if b == nil {
		return nil
	}
	var out []Value
	for _, a := range b.Args {
		if a.Name == "" {
			out = append(out, a.Value)
		}
	}
	return out
}

// Lookup returns the first entry named name.
func (b *Bundle) Lookup(name string) (Value, bool) {
	if b == nil {
		return Undefined, false
	}
	for _, a := range b.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return Undefined, false
}

func (b *Bundle) Inspect() string {
	parts := make([]string, 0, b.Len())
	if b != nil {
		for _, a := range b.Args {
			if a.Name != "" {
				parts = append(parts, a.Name+"="+a.Value.Inspect())
			} else {
				parts = append(parts, a.Value.Inspect())
			}
		}
	}
	return "...(" + strings.Join(parts, ", ") + ")"
}
