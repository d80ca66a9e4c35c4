package vm

import (
	"strings"

	"gendispatch/pkg/errors"
)

// SlotState tells the callee how a formal was filled.
type SlotState uint8

const (
	SlotDefault  SlotState = iota // not supplied: the callee evaluates its default
	SlotSupplied                  // caller-supplied value
	SlotMissing                   // caller passed an elided argument
)

func (s SlotState) String() string {
	switch s {
	case SlotSupplied:
		return "supplied"
	case SlotMissing:
		return "missing"
	default:
		return "default"
	}
}

// MatchedArguments is the result of matching supplied arguments onto a
// formal list. Values and States are aligned with Formals. The variadic
// marker's slot holds the captured bundle, also available as Varargs.
type MatchedArguments struct {
	Formals Formals
	Values  []Value
	States  []SlotState
	Varargs *Bundle // nil when the formal list has no marker
}

// Lookup returns the value bound to a formal by exact name.
func (m *MatchedArguments) Lookup(name string) (Value, SlotState, bool) {
	for i, f := range m.Formals {
		if f.Name == name {
			return m.Values[i], m.States[i], true
		}
	}
	return Undefined, SlotDefault, false
}

// FlattenArgs expands bundle arguments in place, one level deep. Entries keep
// their own names; Missing entries are kept as they are.
func FlattenArgs(args []Arg) []Arg {
	n := 0
	for _, a := range args {
		if a.Value.IsBundle() {
			n += a.Value.AsBundle().Len()
		} else {
			n++
		}
	}
	out := make([]Arg, 0, n)
	for _, a := range args {
		if a.Value.IsBundle() {
			out = append(out, a.Value.AsBundle().Args...)
			continue
		}
		out = append(out, a)
	}
	return out
}

// MatchArguments binds supplied arguments to formals: bundles are flattened,
// then exact names, unique partial names and finally positions are matched.
// Formals left over are marked SlotDefault. Once the variadic bundle starts
// capturing, later positional arguments join it in supplied order.
// Positions in errors refer to the flattened argument list.
func MatchArguments(formals Formals, supplied []Arg) (*MatchedArguments, error) {
	args := FlattenArgs(supplied)
	n := len(formals)
	vi := formals.VariadicIndex()

	m := &MatchedArguments{
		Formals: formals,
		Values:  make([]Value, n),
		States:  make([]SlotState, n),
	}
	for i := range m.Values {
		m.Values[i] = Undefined
	}
	filled := make([]bool, n)
	used := make([]bool, len(args))
	bind := func(fi, ai int) {
		v := args[ai].Value
		m.Values[fi] = v
		if v.IsMissing() {
			m.States[fi] = SlotMissing
		} else {
			m.States[fi] = SlotSupplied
		}
		filled[fi] = true
		used[ai] = true
	}

	// Exact names.
	for ai, a := range args {
		if a.Name == "" {
			continue
		}
		for fi, f := range formals {
			if f.IsVariadic() || f.Name != a.Name {
				continue
			}
			if filled[fi] {
				return nil, &errors.FormalMatchedMultipleError{Formal: f.Name, Position: ai}
			}
			bind(fi, ai)
			break
		}
	}

	// Unique partial names.
	for ai, a := range args {
		if used[ai] || a.Name == "" {
			continue
		}
		match := -1
		var candidates []string
		for fi, f := range formals {
			if filled[fi] || f.IsVariadic() || !strings.HasPrefix(f.Name, a.Name) {
				continue
			}
			match = fi
			candidates = append(candidates, f.Name)
		}
		switch len(candidates) {
		case 0:
		case 1:
			bind(match, ai)
		default:
			return nil, &errors.AmbiguousArgumentNameError{Name: a.Name, Position: ai, Candidates: candidates}
		}
	}

	// Positions, in supplied order.
	var rest []Arg
	capturing := false
	fi := 0
	for ai, a := range args {
		if used[ai] {
			continue
		}
		if a.Name != "" {
			if vi < 0 {
				return nil, &errors.UnusedArgumentError{Name: a.Name, Position: ai}
			}
			rest = append(rest, a)
			capturing = true
			continue
		}
		if !capturing {
			for fi < n && !formals[fi].IsVariadic() && filled[fi] {
				fi++
			}
			if fi < n && !formals[fi].IsVariadic() {
				bind(fi, ai)
				fi++
				continue
			}
			if vi < 0 {
				return nil, &errors.TooManyArgumentsError{Position: ai, Supplied: len(args), Formals: n}
			}
			capturing = true
		}
		rest = append(rest, a)
	}

	if vi >= 0 {
		m.Varargs = &Bundle{Args: rest}
		m.Values[vi] = NewBundleValue(m.Varargs)
		if len(rest) > 0 {
			m.States[vi] = SlotSupplied
		}
	}
	return m, nil
}
