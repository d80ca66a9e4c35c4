package vm

import (
	"testing"

	"gendispatch/pkg/errors"
)

func ints(vals ...int64) []Value {
	out := make([]Value, len(vals))
	for i, v := range vals {
		out[i] = IntegerValue(v)
	}
	return out
}

func TestMatchArgumentsVariadicBeforeFixedFormal(t *testing.T) {
	formals := ParseFormals("x", "y=", "...", "z")
	m, err := MatchArguments(formals, []Arg{
		Positional(IntegerValue(1)),
		Named("k", IntegerValue(5)),
		Positional(IntegerValue(2)),
		Named("z", IntegerValue(9)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, st, _ := m.Lookup("x"); st != SlotSupplied || v.AsInteger() != 1 {
		t.Errorf("expected x=1 supplied, got %v (%s)", v, st)
	}
	if _, st, _ := m.Lookup("y"); st != SlotDefault {
		t.Errorf("expected y to fall back to its default, got %s", st)
	}
	if v, st, _ := m.Lookup("z"); st != SlotSupplied || v.AsInteger() != 9 {
		t.Errorf("expected z=9 supplied, got %v (%s)", v, st)
	}
	pos := m.Varargs.PositionalValues()
	if len(pos) != 1 || pos[0].AsInteger() != 2 {
		t.Errorf("expected variadic positional values [2], got %v", pos)
	}
	if v, ok := m.Varargs.Lookup("k"); !ok || v.AsInteger() != 5 {
		t.Errorf("expected k=5 captured by the variadic bundle, got %v (ok=%v)", v, ok)
	}
	if v, st, _ := m.Lookup(VariadicMarker); st != SlotSupplied || !v.IsBundle() {
		t.Errorf("expected marker slot to hold the bundle, got %v (%s)", v, st)
	}
}

func TestMatchArgumentsErrors(t *testing.T) {
	tests := []struct {
		name    string
		formals Formals
		args    []Arg
		kind    string
	}{
		{
			name:    "ambiguous partial name",
			formals: ParseFormals("alpha", "alter"),
			args:    []Arg{Named("al", IntegerValue(1))},
			kind:    errors.KindAmbiguousArgumentName,
		},
		{
			name:    "too many positional",
			formals: ParseFormals("a", "b"),
			args:    []Arg{Positional(IntegerValue(1)), Positional(IntegerValue(2)), Positional(IntegerValue(3))},
			kind:    errors.KindTooManyArguments,
		},
		{
			name:    "unused named",
			formals: ParseFormals("a", "b"),
			args:    []Arg{Named("c", IntegerValue(1))},
			kind:    errors.KindUnusedArgument,
		},
		{
			name:    "formal matched twice",
			formals: ParseFormals("a", "b"),
			args:    []Arg{Named("a", IntegerValue(1)), Named("a", IntegerValue(2))},
			kind:    errors.KindFormalMatchedMultiple,
		},
		{
			name:    "overflow through a flattened bundle",
			formals: ParseFormals("a"),
			args: []Arg{Positional(NewBundleValue(NewBundle(
				Positional(IntegerValue(1)), Positional(IntegerValue(2)))))},
			kind: errors.KindTooManyArguments,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := MatchArguments(tt.formals, tt.args)
			if err == nil {
				t.Fatalf("expected %s, got match %v", tt.kind, m.Values)
			}
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("expected %s, got %s (%v)", tt.kind, got, err)
			}
			if !errors.IsArgumentError(err) {
				t.Errorf("expected IsArgumentError(%v) to be true", err)
			}
		})
	}
}

func TestMatchArguments(t *testing.T) {
	tests := []struct {
		name     string
		formals  Formals
		args     []Arg
		expected []Value
		states   []SlotState
	}{
		{
			name:     "positional",
			formals:  ParseFormals("a", "b"),
			args:     []Arg{Positional(IntegerValue(1)), Positional(IntegerValue(2))},
			expected: ints(1, 2),
			states:   []SlotState{SlotSupplied, SlotSupplied},
		},
		{
			name:     "exact name before positions",
			formals:  ParseFormals("a", "b"),
			args:     []Arg{Positional(IntegerValue(1)), Named("a", IntegerValue(2))},
			expected: ints(2, 1),
			states:   []SlotState{SlotSupplied, SlotSupplied},
		},
		{
			name:     "unique partial name",
			formals:  ParseFormals("alpha", "beta"),
			args:     []Arg{Named("be", IntegerValue(7)), Positional(IntegerValue(1))},
			expected: ints(1, 7),
			states:   []SlotState{SlotSupplied, SlotSupplied},
		},
		{
			name:     "exact match wins over prefix",
			formals:  ParseFormals("al", "alpha"),
			args:     []Arg{Named("al", IntegerValue(1)), Named("alp", IntegerValue(2))},
			expected: ints(1, 2),
			states:   []SlotState{SlotSupplied, SlotSupplied},
		},
		{
			name:     "missing placeholder",
			formals:  ParseFormals("a", "b"),
			args:     []Arg{Positional(Missing), Positional(IntegerValue(2))},
			expected: []Value{Missing, IntegerValue(2)},
			states:   []SlotState{SlotMissing, SlotSupplied},
		},
		{
			name:     "unfilled formals default",
			formals:  ParseFormals("a", "b="),
			args:     []Arg{Positional(IntegerValue(1))},
			expected: []Value{IntegerValue(1), Undefined},
			states:   []SlotState{SlotSupplied, SlotDefault},
		},
		{
			name:    "bundle flattened in place",
			formals: ParseFormals("a", "b", "c"),
			args: []Arg{
				Positional(IntegerValue(1)),
				Positional(NewBundleValue(NewBundle(Named("c", IntegerValue(3)), Positional(IntegerValue(2))))),
			},
			expected: ints(1, 2, 3),
			states:   []SlotState{SlotSupplied, SlotSupplied, SlotSupplied},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := MatchArguments(tt.formals, tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.expected {
				if !m.Values[i].Equals(tt.expected[i]) {
					t.Errorf("slot %d (%s): expected %v, got %v", i, tt.formals[i].Name, tt.expected[i], m.Values[i])
				}
				if m.States[i] != tt.states[i] {
					t.Errorf("slot %d (%s): expected state %s, got %s", i, tt.formals[i].Name, tt.states[i], m.States[i])
				}
			}
			if m.Varargs != nil {
				t.Errorf("expected no variadic bundle without a marker, got %s", m.Varargs.Inspect())
			}
		})
	}
}

func TestMatchArgumentsVariadic(t *testing.T) {
	formals := ParseFormals("x", "...")

	m, err := MatchArguments(formals, []Arg{Positional(IntegerValue(1))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Varargs == nil || m.Varargs.Len() != 0 {
		t.Errorf("expected empty bundle, got %v", m.Varargs)
	}
	if m.States[1] != SlotDefault {
		t.Errorf("expected empty marker slot to be %s, got %s", SlotDefault, m.States[1])
	}

	// Surplus positional and unknown named arguments go to the bundle in order.
	m, err = MatchArguments(formals, []Arg{
		Positional(IntegerValue(1)),
		Positional(IntegerValue(2)),
		Named("extra", IntegerValue(3)),
		Positional(Missing),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Varargs.Len() != 3 {
		t.Fatalf("expected 3 captured arguments, got %s", m.Varargs.Inspect())
	}
	if got := m.Varargs.Args[1]; got.Name != "extra" {
		t.Errorf("expected supplied order to be kept, got %s", m.Varargs.Inspect())
	}
	if !m.Varargs.Args[2].Value.IsMissing() {
		t.Errorf("expected missing placeholder to be captured as is")
	}

	// Partial names never match the marker.
	m, err = MatchArguments(ParseFormals("...", "verbose"), []Arg{Named("v", True), Named(".", False)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, st, _ := m.Lookup("verbose"); st != SlotSupplied || !v.Equals(True) {
		t.Errorf("expected verbose=TRUE through a partial name, got %v (%s)", v, st)
	}
	if m.Varargs.Len() != 1 {
		t.Errorf("expected '.' to be captured, got %s", m.Varargs.Inspect())
	}
}

func TestFlattenArgsOneLevel(t *testing.T) {
	inner := NewBundleValue(NewBundle(Positional(IntegerValue(3))))
	args := []Arg{
		Positional(IntegerValue(1)),
		Named("ignored", NewBundleValue(NewBundle(Named("a", IntegerValue(2)), Positional(inner)))),
	}
	flat := FlattenArgs(args)
	if len(flat) != 3 {
		t.Fatalf("expected 3 arguments, got %d", len(flat))
	}
	if flat[1].Name != "a" {
		t.Errorf("expected bundle entries to keep their own names, got %q", flat[1].Name)
	}
	if !flat[2].Value.IsBundle() {
		t.Errorf("expected nested bundle to stay packed, got %v", flat[2].Value)
	}
}

func TestFormalsValidate(t *testing.T) {
	tests := []struct {
		formals Formals
		ok      bool
	}{
		{ParseFormals("x", "...", "z"), true},
		{ParseFormals("x", "...", "..."), false},
		{ParseFormals("x", "x"), false},
		{Formals{{Name: ""}}, false},
	}
	for _, tt := range tests {
		err := tt.formals.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate%s: got err=%v, expected ok=%v", tt.formals, err, tt.ok)
		}
	}
	if got := ParseFormals("x", "y=", "...").String(); got != "(x, y=, ...)" {
		t.Errorf("unexpected String() %q", got)
	}
}
