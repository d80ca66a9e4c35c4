// Package scenario loads YAML scenario files that define methods and objects
// and replay attribute and dispatch steps against a driver.Runtime.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gendispatch/pkg/config"
	"gendispatch/pkg/vm"
)

// Body kinds of scenario functions.
const (
	BodyConst = "const" // returns Value
	BodyEcho  = "echo"  // returns the function's own name
	BodyNext  = "next"  // own name, ">", then whatever NextMethod returns
	BodyArgs  = "args"  // renders the matched arguments
)

// Step operations.
const (
	OpGet      = "get"
	OpSet      = "set"
	OpRemove   = "remove"
	OpCompact  = "compact"
	OpDispatch = "dispatch"
	OpCall     = "call"
)

type Scenario struct {
	Name      string         `yaml:"name"`
	Config    yaml.Node      `yaml:"config"`
	Functions []FunctionSpec `yaml:"functions"`
	Aliases   []AliasSpec    `yaml:"aliases"`
	Objects   []ObjectSpec   `yaml:"objects"`
	Threads   int            `yaml:"threads"`
	Steps     []Step         `yaml:"steps"`

	path string
}

type FunctionSpec struct {
	Name    string   `yaml:"name"`
	Formals []string `yaml:"formals"` // "y=" marks a default
	Body    string   `yaml:"body"`
	Value   any      `yaml:"value"`
}

// AliasSpec binds an already defined function under a second method name,
// e.g. print.integer -> print.numeric. A repeated alias keeps the last one.
type AliasSpec struct {
	Name     string `yaml:"name"`
	Function string `yaml:"function"`
}

// ObjectSpec builds a fresh object per thread from named pairs; a repeated
// name keeps the last value.
type ObjectSpec struct {
	Name  string    `yaml:"name"`
	Attrs []ArgSpec `yaml:"attrs"`
}

// ArgSpec is one supplied argument. Exactly one of Value, Object, Missing
// and Bundle is meaningful.
type ArgSpec struct {
	Name    string    `yaml:"name"`
	Value   any       `yaml:"value"`
	Object  string    `yaml:"object"`
	Missing bool      `yaml:"missing"`
	Bundle  []ArgSpec `yaml:"bundle"`
}

type Step struct {
	Op       string    `yaml:"op"`
	Site     *int      `yaml:"site"`
	Object   string    `yaml:"object"`
	Attr     string    `yaml:"attr"`
	Value    any       `yaml:"value"`
	Generic  string    `yaml:"generic"`
	Chain    []string  `yaml:"chain"`
	Receiver *ArgSpec  `yaml:"receiver"`
	Args     []ArgSpec `yaml:"args"`

	Expect         any    `yaml:"expect"`
	ExpectAbsent   bool   `yaml:"expect_absent"`
	ExpectMethod   string `yaml:"expect_method"`
	ExpectPosition *int   `yaml:"expect_position"`
	ExpectFirst    *bool  `yaml:"expect_first"`
	ExpectTier     string `yaml:"expect_tier"`
	ExpectError    string `yaml:"expect_error"` // error kind
	ErrorMatch     string `yaml:"error_match"`  // regexp over the message

	errorRe *regexp2.Regexp
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading scenario %s", path)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	sc.path = path
	return sc, nil
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Threads < 0 {
		return errors.Errorf("threads must not be negative, got %d", sc.Threads)
	}
	seen := make(map[string]bool, len(sc.Functions))
	for i, fn := range sc.Functions {
		if fn.Name == "" {
			return errors.Errorf("functions[%d]: name is required", i)
		}
		if seen[fn.Name] {
			return errors.Errorf("functions[%d]: %s defined twice", i, fn.Name)
		}
		seen[fn.Name] = true
		switch fn.Body {
		case BodyConst, BodyEcho, BodyNext, BodyArgs:
		case "":
			sc.Functions[i].Body = BodyEcho
		default:
			return errors.Errorf("functions[%d]: unknown body %q", i, fn.Body)
		}
		if err := vm.ParseFormals(fn.Formals...).Validate(); err != nil {
			return errors.Wrapf(err, "functions[%d]", i)
		}
	}
	for i, a := range sc.Aliases {
		if !seen[a.Function] {
			return errors.Errorf("aliases[%d]: unknown function %q", i, a.Function)
		}
	}
	objects := make(map[string]bool, len(sc.Objects))
	for i, o := range sc.Objects {
		if o.Name == "" {
			return errors.Errorf("objects[%d]: name is required", i)
		}
		objects[o.Name] = true
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(objects); err != nil {
			return errors.Wrapf(err, "steps[%d]", i)
		}
	}
	return nil
}

func (s *Step) validate(objects map[string]bool) error {
	needObject := func() error {
		if !objects[s.Object] {
			return errors.Errorf("%s: unknown object %q", s.Op, s.Object)
		}
		return nil
	}
	switch s.Op {
	case OpGet, OpRemove:
		if err := needObject(); err != nil {
			return err
		}
		if s.Attr == "" {
			return errors.Errorf("%s: attr is required", s.Op)
		}
	case OpSet:
		if err := needObject(); err != nil {
			return err
		}
		if s.Attr == "" {
			return errors.Errorf("set: attr is required")
		}
	case OpCompact:
		if err := needObject(); err != nil {
			return err
		}
	case OpDispatch:
		if s.Generic == "" {
			return errors.Errorf("dispatch: generic is required")
		}
	case OpCall:
		if s.Generic == "" || s.Receiver == nil {
			return errors.Errorf("call: generic and receiver are required")
		}
	default:
		return errors.Errorf("unknown op %q", s.Op)
	}
	if s.ErrorMatch != "" {
		re, err := regexp2.Compile(s.ErrorMatch, regexp2.None)
		if err != nil {
			return errors.Wrap(err, "error_match")
		}
		s.errorRe = re
	}
	return nil
}

// RuntimeConfig applies the scenario's config section on top of base.
func (sc *Scenario) RuntimeConfig(base config.Config) (config.Config, error) {
	cfg := base
	if sc.Config.Kind != 0 {
		if err := sc.Config.Decode(&cfg); err != nil {
			return config.Config{}, errors.Wrap(err, "config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "config")
	}
	return cfg, nil
}

// ThreadCount is the number of concurrent replays, at least one.
func (sc *Scenario) ThreadCount() int {
	if sc.Threads < 1 {
		return 1
	}
	return sc.Threads
}

// --- YAML values ---

// toValue maps decoded YAML onto runtime values: integers, floats, booleans,
// strings, null, and string lists as character vectors.
func toValue(raw any) (vm.Value, error) {
	switch v := raw.(type) {
	case nil:
		return vm.Null, nil
	case bool:
		return vm.LogicalValue(v), nil
	case int:
		return vm.IntegerValue(int64(v)), nil
	case int64:
		return vm.IntegerValue(v), nil
	case uint64:
		if v > 1<<63-1 {
			return vm.Undefined, errors.Errorf("integer %d out of range", v)
		}
		return vm.IntegerValue(int64(v)), nil
	case float64:
		return vm.DoubleValue(v), nil
	case string:
		return vm.NewString(v), nil
	case []any:
		elems := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return vm.Undefined, errors.Errorf("only string lists are supported, element %d is %T", i, e)
			}
			elems[i] = s
		}
		return vm.NewCharacter(elems...), nil
	default:
		return vm.Undefined, errors.Errorf("unsupported value %T", raw)
	}
}

func (a ArgSpec) toArg(objects map[string]*vm.Object) (vm.Arg, error) {
	switch {
	case a.Missing:
		return vm.Named(a.Name, vm.Missing), nil
	case a.Object != "":
		o, ok := objects[a.Object]
		if !ok {
			return vm.Arg{}, errors.Errorf("unknown object %q", a.Object)
		}
		return vm.Named(a.Name, vm.NewObjectValue(o)), nil
	case a.Bundle != nil:
		inner, err := toArgs(a.Bundle, objects)
		if err != nil {
			return vm.Arg{}, err
		}
		return vm.Named(a.Name, vm.NewBundleValue(vm.NewBundle(inner...))), nil
	default:
		v, err := toValue(a.Value)
		if err != nil {
			return vm.Arg{}, err
		}
		return vm.Named(a.Name, v), nil
	}
}

func toArgs(specs []ArgSpec, objects map[string]*vm.Object) ([]vm.Arg, error) {
	out := make([]vm.Arg, len(specs))
	for i, s := range specs {
		a, err := s.toArg(objects)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
		out[i] = a
	}
	return out, nil
}

// renderArgs is the result of an "args" body: one formal per entry, in order.
func renderArgs(f *vm.Frame) string {
	parts := make([]string, f.Len())
	for i, formal := range f.Function.Formals {
		switch f.State(i) {
		case vm.SlotDefault:
			if formal.IsVariadic() {
				parts[i] = formal.Name + "=" + f.Varargs().Inspect()
			} else {
				parts[i] = formal.Name + "=<default>"
			}
		default:
			parts[i] = fmt.Sprintf("%s=%s", formal.Name, f.Arg(i).Inspect())
		}
	}
	return strings.Join(parts, ", ")
}
