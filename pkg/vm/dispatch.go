package vm

import (
	"log/slog"

	"gendispatch/pkg/errors"
)

// DefaultClass is the universal fallback consulted after the class chain.
const DefaultClass = "default"

// Resolver is the name-resolution collaborator: it maps a qualified name such
// as "print.data.frame" to a callable. Implementations may cache.
type Resolver interface {
	Resolve(qualifiedName string) (*Function, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(qualifiedName string) (*Function, bool)

func (f ResolverFunc) Resolve(qualifiedName string) (*Function, bool) { return f(qualifiedName) }

// QualifiedName joins a generic and a class name.
func QualifiedName(generic, class string) string {
	return generic + "." + class
}

// Resolution is the outcome of one resolver walk.
type Resolution struct {
	Target    *Function
	Method    string   // qualified name that resolved
	Position  int      // index in the searched chain; len(chain) for the default
	Remaining []string // chain[Position+1:]
	IsDefault bool
}

// ClassChainResolver finds the implementation of a generic for a class chain.
// It keeps no state between calls.
type ClassChainResolver struct {
	names  Resolver
	logger *slog.Logger
}

func NewClassChainResolver(names Resolver, logger *slog.Logger) *ClassChainResolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ClassChainResolver{names: names, logger: logger}
}

// Resolve returns the first position i >= start whose "generic.chain[i]"
// resolves, falling back to "generic.default".
func (r *ClassChainResolver) Resolve(generic string, chain []string, start int) (Resolution, error) {
	if start < 0 {
		start = 0
	}
	for i := start; i < len(chain); i++ {
		name := QualifiedName(generic, chain[i])
		if fn, ok := r.names.Resolve(name); ok {
			remaining := make([]string, len(chain)-i-1)
			copy(remaining, chain[i+1:])
			return Resolution{Target: fn, Method: name, Position: i, Remaining: remaining}, nil
		}
	}
	name := QualifiedName(generic, DefaultClass)
	if fn, ok := r.names.Resolve(name); ok {
		return Resolution{Target: fn, Method: name, Position: len(chain), IsDefault: true}, nil
	}
	return Resolution{}, &errors.NoApplicableMethodError{Generic: generic, Chain: chain}
}

// DispatchState describes one active dispatch step. Offset only grows along
// a chain of continuations.
type DispatchState struct {
	Generic      string
	Chain        []string // chain searched by this step
	Position     int      // match index within Chain
	Offset       int      // match index within the primary dispatch's chain
	Target       *Function
	Method       string
	Remaining    []string
	IsFirstMatch bool
	IsDefault    bool
	Depth        int // 0 for the primary dispatch, +1 per continuation
}

// Begin starts a primary dispatch.
func (r *ClassChainResolver) Begin(generic string, chain []string) (*DispatchState, error) {
	res, err := r.Resolve(generic, chain, 0)
	if err != nil {
		return nil, err
	}
	st := &DispatchState{
		Generic:      generic,
		Chain:        chain,
		Position:     res.Position,
		Offset:       res.Position,
		Target:       res.Target,
		Method:       res.Method,
		Remaining:    res.Remaining,
		IsFirstMatch: res.Position == 0 && !res.IsDefault,
		IsDefault:    res.IsDefault,
	}
	r.logger.Debug("dispatch resolved",
		slog.String("generic", generic),
		slog.String("method", res.Method),
		slog.Int("position", res.Position),
		slog.Bool("first", st.IsFirstMatch))
	return st, nil
}

// Continue resumes after prev, searching only the classes prev had not yet
// reached. Once the default has run there is nothing left to delegate to.
func (r *ClassChainResolver) Continue(prev *DispatchState) (*DispatchState, error) {
	if prev.IsDefault {
		return nil, &errors.NoApplicableMethodError{Generic: prev.Generic, Chain: prev.Remaining}
	}
	res, err := r.Resolve(prev.Generic, prev.Remaining, 0)
	if err != nil {
		return nil, err
	}
	st := &DispatchState{
		Generic:   prev.Generic,
		Chain:     prev.Remaining,
		Position:  res.Position,
		Offset:    prev.Offset + 1 + res.Position,
		Target:    res.Target,
		Method:    res.Method,
		Remaining: res.Remaining,
		IsDefault: res.IsDefault,
		Depth:     prev.Depth + 1,
	}
	r.logger.Debug("dispatch continued",
		slog.String("generic", prev.Generic),
		slog.String("from", prev.Method),
		slog.String("method", res.Method),
		slog.Int("offset", st.Offset))
	return st, nil
}

// ClassChain returns the receiver's class chain, read through the cache. A
// receiver without one gets its intrinsic type name.
func (ic *InlineCache) ClassChain(receiver Value) []string {
	if receiver.IsObject() {
		v, ok := ic.Get(receiver.AsObject(), ClassAttr)
		return classChainFrom(v, ok, receiver)
	}
	return []string{receiver.TypeName()}
}

// ClassChain is the uncached form of InlineCache.ClassChain.
func (st *Store) ClassChain(receiver Value) []string {
	if receiver.IsObject() {
		v, ok := st.Get(receiver.AsObject(), ClassAttr)
		return classChainFrom(v, ok, receiver)
	}
	return []string{receiver.TypeName()}
}

func classChainFrom(v Value, ok bool, receiver Value) []string {
	if ok && (v.Type() == TypeCharacter || v.Type() == TypeString) {
		if chain := v.AsCharacter(); len(chain) > 0 {
			return chain
		}
	}
	return []string{receiver.TypeName()}
}
