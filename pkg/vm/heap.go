package vm

import (
	"sort"
	"sync"

	"gendispatch/pkg/errors"
)

// Heap is slot-addressed binding storage with a name->slot map. It is the
// in-process name-resolution collaborator: methods are bound under their
// qualified names ("print.default") and found through Resolve.
// Bindings are defined up front and read from many threads.
type Heap struct {
	mu          sync.RWMutex
	values      []Value // The actual bound values, one per slot
	nameToIndex map[string]int
}

// NewHeap creates a new heap with room for initialCapacity bindings.
func NewHeap(initialCapacity int) *Heap {
	return &Heap{
		values:      make([]Value, 0, initialCapacity),
		nameToIndex: make(map[string]int, initialCapacity),
	}
}

// Len returns the number of bindings.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.values)
}

// Define binds name to value, reusing the name's slot if it has one.
// Returns the slot index.
func (h *Heap) Define(name string, value Value) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.define(name, value)
}

func (h *Heap) define(name string, value Value) int {
	if idx, ok := h.nameToIndex[name]; ok {
		h.values[idx] = value
		return idx
	}
	idx := len(h.values)
	h.values = append(h.values, value)
	h.nameToIndex[name] = idx
	return idx
}

// DefineFunction binds fn under its own name.
func (h *Heap) DefineFunction(fn *Function) int {
	return h.Define(fn.Name, NewFunctionValue(fn))
}

// DefinePairs binds every named pair. When a name repeats, the last element
// wins. An empty name is an error, and nothing is bound, unless
// ignoreMissingNames is set.
func (h *Heap) DefinePairs(pairs []Arg, ignoreMissingNames bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !ignoreMissingNames {
		for i, p := range pairs {
			if p.Name == "" {
				return &errors.ZeroLengthNameError{Index: i}
			}
		}
	}
	seen := make(map[string]bool, len(pairs))
	for i := len(pairs) - 1; i >= 0; i-- {
		name := pairs[i].Name
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		h.define(name, pairs[i].Value)
	}
	return nil
}

// Lookup returns the value bound to name.
func (h *Heap) Lookup(name string) (Value, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	idx, ok := h.nameToIndex[name]
	if !ok {
		return Undefined, false
	}
	return h.values[idx], true
}

// Resolve implements Resolver: only function bindings resolve.
func (h *Heap) Resolve(qualifiedName string) (*Function, bool) {
	v, ok := h.Lookup(qualifiedName)
	if !ok || !v.IsFunction() {
		return nil, false
	}
	return v.AsFunction(), true
}

// Names returns the bound names, sorted.
func (h *Heap) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.nameToIndex))
	for n := range h.nameToIndex {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
