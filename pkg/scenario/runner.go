package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"gendispatch/pkg/config"
	"gendispatch/pkg/driver"
	dispatcherrors "gendispatch/pkg/errors"
	"gendispatch/pkg/vm"
)

// Failure is one step whose outcome did not meet its expectations.
type Failure struct {
	Thread int
	Step   int
	Op     string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("thread %d, step %d (%s): %v", f.Thread, f.Step, f.Op, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result summarizes a run.
type Result struct {
	Name     string
	Threads  int
	Steps    int
	Methods  []string
	Failures []Failure
	Stats    driver.Stats
}

// Passed reports whether every step met its expectations.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Run builds a runtime from base plus the scenario's config, defines the
// scenario's functions and replays the steps on ThreadCount goroutines. Each
// goroutine gets its own objects; sites and shapes are shared. The returned
// error is reserved for setup problems and cancellation.
func Run(ctx context.Context, sc *Scenario, base config.Config, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg, err := sc.RuntimeConfig(base)
	if err != nil {
		return nil, err
	}
	rt, err := driver.New(cfg, driver.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	fns := make(map[string]*vm.Function, len(sc.Functions))
	for _, fs := range sc.Functions {
		fn, err := fs.build()
		if err != nil {
			return nil, errors.Wrap(err, fs.Name)
		}
		if err := rt.Define(fn); err != nil {
			return nil, err
		}
		fns[fn.Name] = fn
	}
	if len(sc.Aliases) > 0 {
		pairs := make([]vm.Arg, len(sc.Aliases))
		for i, a := range sc.Aliases {
			pairs[i] = vm.Named(a.Name, vm.NewFunctionValue(fns[a.Function]))
		}
		if err := rt.Bind(pairs); err != nil {
			return nil, errors.Wrap(err, "aliases")
		}
	}

	threads := sc.ThreadCount()
	var (
		mu       sync.Mutex
		failures []Failure
	)
	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		g.Go(func() error {
			objects, err := sc.buildObjects(rt)
			if err != nil {
				return errors.Wrapf(err, "thread %d", t)
			}
			for i := range sc.Steps {
				if err := gctx.Err(); err != nil {
					return err
				}
				step := &sc.Steps[i]
				if err := runStep(gctx, rt, step, objects); err != nil {
					mu.Lock()
					failures = append(failures, Failure{Thread: t, Step: i, Op: step.Op, Err: err})
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Thread != failures[j].Thread {
			return failures[i].Thread < failures[j].Thread
		}
		return failures[i].Step < failures[j].Step
	})
	logger.Debug("scenario finished",
		slog.String("name", sc.Name),
		slog.Int("threads", threads),
		slog.Int("failures", len(failures)))
	return &Result{
		Name:     sc.Name,
		Threads:  threads,
		Steps:    len(sc.Steps),
		Methods:  rt.Methods(),
		Failures: failures,
		Stats:    rt.CacheStats(),
	}, nil
}

func (fs FunctionSpec) build() (*vm.Function, error) {
	formals := vm.ParseFormals(fs.Formals...)
	name := fs.Name
	var body vm.NativeFunc
	switch fs.Body {
	case BodyConst:
		v, err := toValue(fs.Value)
		if err != nil {
			return nil, err
		}
		body = func(ctx context.Context, f *vm.Frame) (vm.Value, error) { return v, nil }
	case BodyNext:
		body = func(ctx context.Context, f *vm.Frame) (vm.Value, error) {
			rt, ok := driver.FromContext(ctx)
			if !ok {
				return vm.Undefined, fmt.Errorf("%s: not running under a runtime", name)
			}
			next, err := rt.NextMethod(ctx, f)
			if err != nil {
				return vm.Undefined, err
			}
			return vm.NewString(name + ">" + next.AsString()), nil
		}
	case BodyArgs:
		body = func(ctx context.Context, f *vm.Frame) (vm.Value, error) {
			return vm.NewString(renderArgs(f)), nil
		}
	default:
		body = func(ctx context.Context, f *vm.Frame) (vm.Value, error) { return vm.NewString(name), nil }
	}
	return vm.NewFunction(name, formals, body), nil
}

func (sc *Scenario) buildObjects(rt *driver.Runtime) (map[string]*vm.Object, error) {
	objects := make(map[string]*vm.Object, len(sc.Objects))
	for _, spec := range sc.Objects {
		// Attributes may refer to objects defined earlier.
		pairs, err := toArgs(spec.Attrs, objects)
		if err != nil {
			return nil, errors.Wrap(err, spec.Name)
		}
		o, err := rt.Store().FromPairs(pairs, false)
		if err != nil {
			return nil, errors.Wrap(err, spec.Name)
		}
		objects[spec.Name] = o
	}
	return objects, nil
}

func site(s *Step) int {
	if s.Site == nil {
		return -1
	}
	return *s.Site
}

func runStep(ctx context.Context, rt *driver.Runtime, s *Step, objects map[string]*vm.Object) error {
	switch s.Op {
	case OpGet:
		o := objects[s.Object]
		v, ok := rt.GetAttributeAt(site(s), o, s.Attr)
		if s.ExpectTier != "" && s.Site != nil {
			if tier := rt.Sites().Site(*s.Site).Tier().String(); tier != s.ExpectTier {
				return errors.Errorf("expected site %d to be %s, got %s", *s.Site, s.ExpectTier, tier)
			}
		}
		if s.ExpectAbsent {
			if ok {
				return errors.Errorf("expected %s to be absent, got %s", s.Attr, v.Inspect())
			}
			return nil
		}
		if !ok {
			if s.Expect != nil {
				return errors.Errorf("expected %s to be present", s.Attr)
			}
			return nil
		}
		return expectValue(s.Expect, v)
	case OpSet:
		v, err := toValue(s.Value)
		if err != nil {
			return err
		}
		rt.SetAttribute(objects[s.Object], s.Attr, v)
		return nil
	case OpRemove:
		removed := rt.RemoveAttribute(objects[s.Object], s.Attr)
		if s.ExpectAbsent && removed {
			return errors.Errorf("expected %s to be absent before removal", s.Attr)
		}
		return nil
	case OpCompact:
		rt.Compact(objects[s.Object])
		return nil
	case OpDispatch:
		args, err := toArgs(s.Args, objects)
		if err != nil {
			return err
		}
		f, err := rt.Dispatch(s.Generic, s.Chain, args)
		if err != nil {
			return expectError(s, err)
		}
		if err := expectNoError(s); err != nil {
			return err
		}
		return expectFrame(s, f)
	case OpCall:
		recv, err := s.Receiver.toArg(objects)
		if err != nil {
			return err
		}
		args, err := toArgs(s.Args, objects)
		if err != nil {
			return err
		}
		v, err := rt.Call(ctx, site(s), s.Generic, recv.Value, args)
		if err != nil {
			return expectError(s, err)
		}
		if err := expectNoError(s); err != nil {
			return err
		}
		if s.Expect == nil {
			return nil
		}
		return expectValue(s.Expect, v)
	}
	return errors.Errorf("unknown op %q", s.Op)
}

func expectValue(raw any, got vm.Value) error {
	if raw == nil {
		return nil
	}
	want, err := toValue(raw)
	if err != nil {
		return errors.Wrap(err, "expect")
	}
	if !want.Equals(got) {
		return errors.Errorf("expected %s, got %s", want.Inspect(), got.Inspect())
	}
	return nil
}

func expectFrame(s *Step, f *vm.Frame) error {
	st := f.DispatchState()
	if s.ExpectMethod != "" && st.Method != s.ExpectMethod {
		return errors.Errorf("expected method %s, got %s", s.ExpectMethod, st.Method)
	}
	if s.ExpectPosition != nil && st.Offset != *s.ExpectPosition {
		return errors.Errorf("expected position %d, got %d", *s.ExpectPosition, st.Offset)
	}
	if s.ExpectFirst != nil && st.IsFirstMatch != *s.ExpectFirst {
		return errors.Errorf("expected first match %v, got %v", *s.ExpectFirst, st.IsFirstMatch)
	}
	return nil
}

func expectNoError(s *Step) error {
	if s.ExpectError != "" || s.errorRe != nil {
		return errors.Errorf("expected error %s, got none", s.ExpectError)
	}
	return nil
}

func expectError(s *Step, err error) error {
	if s.ExpectError == "" && s.errorRe == nil {
		return err
	}
	if s.ExpectError != "" {
		if kind := dispatcherrors.KindOf(err); kind != s.ExpectError {
			return errors.Errorf("expected %s error, got %v", s.ExpectError, err)
		}
	}
	if s.errorRe != nil {
		ok, mErr := s.errorRe.MatchString(err.Error())
		if mErr != nil {
			return errors.Wrap(mErr, "error_match")
		}
		if !ok {
			return errors.Errorf("error %q does not match %q", err.Error(), s.ErrorMatch)
		}
	}
	return nil
}
