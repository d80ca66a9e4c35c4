package vm

import (
	"context"
	"fmt"
	"strings"
)

// VariadicMarker is the formal name that captures surplus arguments.
const VariadicMarker = "..."

// Formal is one entry of a formal parameter list.
type Formal struct {
	Name       string
	HasDefault bool
}

// IsVariadic reports whether this formal is the variadic marker.
func (f Formal) IsVariadic() bool { return f.Name == VariadicMarker }

// Formals is an ordered formal parameter list with at most one variadic
// marker, which need not be last.
type Formals []Formal

// ParseFormals builds a formal list from names; a trailing "=" marks a
// default, e.g. ParseFormals("x", "y=", "...", "z").
func ParseFormals(names ...string) Formals {
	out := make(Formals, len(names))
	for i, n := range names {
		if strings.HasSuffix(n, "=") {
			out[i] = Formal{Name: strings.TrimSuffix(n, "="), HasDefault: true}
		} else {
			out[i] = Formal{Name: n}
		}
	}
	return out
}

// VariadicIndex returns the position of the marker, or -1.
func (fs Formals) VariadicIndex() int {
	for i, f := range fs {
		if f.IsVariadic() {
			return i
		}
	}
	return -1
}

// Validate checks the at-most-one-marker and unique-name rules.
func (fs Formals) Validate() error {
	seen := make(map[string]bool, len(fs))
	markers := 0
	for _, f := range fs {
		if f.Name == "" {
			return fmt.Errorf("formal parameter with empty name")
		}
		if f.IsVariadic() {
			markers++
			if markers > 1 {
				return fmt.Errorf("more than one %s in formal parameter list", VariadicMarker)
			}
			continue
		}
		if seen[f.Name] {
			return fmt.Errorf("repeated formal argument '%s'", f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

func (fs Formals) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.Name
		if f.HasDefault {
			parts[i] += "="
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// NativeFunc is an in-process function body. It receives the frame built for
// the call.
type NativeFunc func(ctx context.Context, frame *Frame) (Value, error)

// Function is a callable known to the name-resolution collaborator.
type Function struct {
	Name    string
	Formals Formals
	Fn      NativeFunc
}

func NewFunction(name string, formals Formals, fn NativeFunc) *Function {
	return &Function{Name: name, Formals: formals, Fn: fn}
}

func (f *Function) String() string {
	return fmt.Sprintf("[Function: %s%s]", f.Name, f.Formals)
}
