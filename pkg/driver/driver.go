package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"gendispatch/pkg/config"
	"gendispatch/pkg/vm"
)

// Runtime ties the attribute store, the per-site inline caches and the
// class-chain resolver together. It is safe for concurrent use; objects and
// frames are owned by whichever goroutine created them.
type Runtime struct {
	cfg      config.Config
	arena    *vm.ShapeArena
	store    *vm.Store
	sites    *vm.SiteTable
	heap     *vm.Heap
	resolver *vm.ClassChainResolver
	invoker  vm.Invoker
	logger   *slog.Logger

	dispatches    atomic.Uint64
	continuations atomic.Uint64
	failures      atomic.Uint64
}

// Option customizes a Runtime.
type Option func(*runtimeOptions)

type runtimeOptions struct {
	logger  *slog.Logger
	names   vm.Resolver
	invoker vm.Invoker
}

// WithLogger routes runtime events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *runtimeOptions) { o.logger = logger }
}

// WithResolver replaces the built-in binding heap as the source of methods.
// Define still writes to the heap, which is then ignored for dispatch.
func WithResolver(names vm.Resolver) Option {
	return func(o *runtimeOptions) { o.names = names }
}

// WithInvoker replaces the in-process invoker.
func WithInvoker(inv vm.Invoker) Option {
	return func(o *runtimeOptions) { o.invoker = inv }
}

// New creates a runtime configured by cfg.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := runtimeOptions{invoker: vm.NativeInvoker{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	arena := vm.NewShapeArena(cfg.Shapes.CompactThreshold, o.logger)
	store := vm.NewStore(arena, o.logger)
	heap := vm.NewHeap(64)
	names := o.names
	if names == nil {
		names = heap
	}
	return &Runtime{
		cfg:      cfg,
		arena:    arena,
		store:    store,
		sites:    vm.NewSiteTable(store, cfg.Cache.MonomorphicLimit, cfg.Cache.PolymorphicLimit, o.logger),
		heap:     heap,
		resolver: vm.NewClassChainResolver(names, o.logger),
		invoker:  o.invoker,
		logger:   o.logger,
	}, nil
}

func (r *Runtime) Config() config.Config { return r.cfg }
func (r *Runtime) Store() *vm.Store { return r.store }
func (r *Runtime) Sites() *vm.SiteTable { return r.sites }
func (r *Runtime) Logger() *slog.Logger { return r.logger }
func (r *Runtime) NewObject() *vm.Object { return r.store.NewObject() }
func (r *Runtime) NewSite() *vm.InlineCache { return r.sites.NewSite() }

// Define binds fn under its name, e.g. "print.default".
func (r *Runtime) Define(fn *vm.Function) error {
	if err := fn.Formals.Validate(); err != nil {
		return fmt.Errorf("defining %s: %w", fn.Name, err)
	}
	r.heap.DefineFunction(fn)
	r.logger.Debug("function defined", slog.String("name", fn.Name), slog.String("formals", fn.Formals.String()))
	return nil
}

// Bind installs named bindings in the heap, the last of a repeated name
// winning. Function values become dispatchable under their binding name, so
// one body can serve several methods.
func (r *Runtime) Bind(pairs []vm.Arg) error {
	if err := r.heap.DefinePairs(pairs, false); err != nil {
		return err
	}
	for _, p := range pairs {
		r.logger.Debug("name bound", slog.String("name", p.Name), slog.String("value", p.Value.Inspect()))
	}
	return nil
}

// Methods lists the names that resolve to a function in the heap, sorted.
func (r *Runtime) Methods() []string {
	var methods []string
	for _, name := range r.heap.Names() {
		if _, ok := r.heap.Resolve(name); ok {
			methods = append(methods, name)
		}
	}
	return methods
}

// --- Attributes ---

// GetAttribute reads an attribute without going through a cache.
func (r *Runtime) GetAttribute(o *vm.Object, name string) (vm.Value, bool) {
	return r.store.Get(o, name)
}

// GetAttributeAt reads an attribute through the inline cache of site.
func (r *Runtime) GetAttributeAt(site int, o *vm.Object, name string) (vm.Value, bool) {
	return r.sites.Site(site).Get(o, name)
}

func (r *Runtime) SetAttribute(o *vm.Object, name string, v vm.Value) {
	r.store.Set(o, name, v)
}

func (r *Runtime) RemoveAttribute(o *vm.Object, name string) bool {
	return r.store.Remove(o, name)
}

// Compact moves o to a shape without unused slots, retiring its old shape.
func (r *Runtime) Compact(o *vm.Object) bool {
	return r.store.Compact(o)
}

// ClassChainOf returns the receiver's class chain as read at site.
func (r *Runtime) ClassChainOf(site int, receiver vm.Value) []string {
	return r.sites.Site(site).ClassChain(receiver)
}

// --- Dispatch ---

// Dispatch resolves generic along chain and builds the frame for the target
// with args matched onto its formals. The frame starts a new call chain.
func (r *Runtime) Dispatch(generic string, chain []string, args []vm.Arg) (*vm.Frame, error) {
	st, err := r.resolver.Begin(generic, chain)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}
	r.dispatches.Add(1)
	return r.frame(uuid.New(), st, args)
}

// DispatchOn dispatches on receiver's class chain, read through site's
// cache. The receiver is passed as the first positional argument.
func (r *Runtime) DispatchOn(site int, generic string, receiver vm.Value, args []vm.Arg) (*vm.Frame, error) {
	full := make([]vm.Arg, 0, len(args)+1)
	full = append(full, vm.Positional(receiver))
	full = append(full, args...)
	return r.Dispatch(generic, r.ClassChainOf(site, receiver), full)
}

// ContinueDispatch delegates from a dispatched frame to the next applicable
// method. Nil args re-use the arguments the frame was called with. The new
// frame shares the call id of prev.
func (r *Runtime) ContinueDispatch(prev *vm.Frame, args []vm.Arg) (*vm.Frame, error) {
	ps := prev.DispatchState()
	if ps == nil {
		return nil, fmt.Errorf("%s was not reached by dispatch", prev.Function)
	}
	if args == nil {
		args = prev.Supplied()
	}
	return r.ContinueFrom(ps, prev.CallID, args)
}

// ContinueFrom resolves the method after prev and matches args onto it. It
// serves callers that keep only the dispatch state; callID ties the new frame
// to its chain and may be uuid.Nil to start a fresh one.
func (r *Runtime) ContinueFrom(prev *vm.DispatchState, callID uuid.UUID, args []vm.Arg) (*vm.Frame, error) {
	if prev == nil {
		return nil, fmt.Errorf("continuing dispatch needs a previous dispatch state")
	}
	st, err := r.resolver.Continue(prev)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}
	r.continuations.Add(1)
	if callID == uuid.Nil {
		callID = uuid.New()
	}
	return r.frame(callID, st, args)
}

func (r *Runtime) frame(callID uuid.UUID, st *vm.DispatchState, args []vm.Arg) (*vm.Frame, error) {
	m, err := vm.MatchArguments(st.Target.Formals, args)
	if err != nil {
		r.failures.Add(1)
		return nil, err
	}
	return vm.BuildFrame(callID, st.Target, m, st, args), nil
}

// --- Invocation ---

// Invoke runs a frame through the invocation collaborator.
func (r *Runtime) Invoke(ctx context.Context, frame *vm.Frame) (vm.Value, error) {
	if err := ctx.Err(); err != nil {
		return vm.Undefined, err
	}
	return r.invoker.Invoke(withRuntime(ctx, r), frame)
}

// Apply calls fn directly, without dispatch metadata.
func (r *Runtime) Apply(ctx context.Context, fn *vm.Function, args []vm.Arg) (vm.Value, error) {
	m, err := vm.MatchArguments(fn.Formals, args)
	if err != nil {
		return vm.Undefined, err
	}
	return r.Invoke(ctx, vm.BuildFrame(uuid.New(), fn, m, nil, args))
}

// Call dispatches generic on receiver and invokes the selected method.
func (r *Runtime) Call(ctx context.Context, site int, generic string, receiver vm.Value, args []vm.Arg) (vm.Value, error) {
	frame, err := r.DispatchOn(site, generic, receiver, args)
	if err != nil {
		return vm.Undefined, err
	}
	return r.Invoke(ctx, frame)
}

// NextMethod continues dispatch from frame with its own arguments and invokes
// the next method.
func (r *Runtime) NextMethod(ctx context.Context, frame *vm.Frame) (vm.Value, error) {
	next, err := r.ContinueDispatch(frame, nil)
	if err != nil {
		return vm.Undefined, err
	}
	return r.Invoke(ctx, next)
}

type runtimeKey struct{}

func withRuntime(ctx context.Context, r *Runtime) context.Context {
	if cur, _ := ctx.Value(runtimeKey{}).(*Runtime); cur == r {
		return ctx
	}
	return context.WithValue(ctx, runtimeKey{}, r)
}

// FromContext returns the runtime invoking the current function body, so
// bodies can delegate with NextMethod.
func FromContext(ctx context.Context) (*Runtime, bool) {
	r, ok := ctx.Value(runtimeKey{}).(*Runtime)
	return r, ok
}

// --- Statistics ---

// Stats extends the inline cache counters with dispatch counters.
type Stats struct {
	vm.ICacheStats `msgpack:",inline"`
	Dispatches     uint64 `msgpack:"dispatches"`
	Continuations  uint64 `msgpack:"continuations"`
	Failures       uint64 `msgpack:"failures"`
}

// CacheStats snapshots the runtime's counters.
func (r *Runtime) CacheStats() Stats {
	return Stats{
		ICacheStats:   r.sites.Stats(),
		Dispatches:    r.dispatches.Load(),
		Continuations: r.continuations.Load(),
		Failures:      r.failures.Load(),
	}
}
