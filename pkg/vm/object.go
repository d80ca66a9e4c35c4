package vm

import (
	"log/slog"

	"gendispatch/pkg/errors"
)

// ClassAttr is the reserved attribute holding an object's class chain.
const ClassAttr = "class"

// Object is an attribute record: a shape handle shared with every object of
// the same layout, plus storage owned by this object alone.
// len(slots) >= shape.NextSlot() at all times.
type Object struct {
	shape ShapeID
	slots []Value
}

// Store implements attribute get/set/remove on top of a shape arena.
type Store struct {
	arena  *ShapeArena
	logger *slog.Logger
}

func NewStore(arena *ShapeArena, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{arena: arena, logger: logger}
}

func (st *Store) Arena() *ShapeArena { return st.arena }

// NewObject returns an object with no attributes.
func (st *Store) NewObject() *Object {
	return &Object{shape: RootShapeID}
}

// ShapeOf returns the object's current shape.
func (st *Store) ShapeOf(o *Object) *Shape {
	return st.arena.Shape(o.shape)
}

// Get looks up an attribute. Returns (value, true) if present.
func (st *Store) Get(o *Object, name string) (Value, bool) {
	// A retired shape still describes this object's storage correctly, so
	// reads never need to migrate.
	s := st.arena.Shape(o.shape)
	if slot, ok := s.Lookup(name); ok {
		return o.slots[slot], true
	}
	return Undefined, false
}

// Has reports whether the attribute is present.
func (st *Store) Has(o *Object, name string) bool {
	_, ok := st.Get(o, name)
	return ok
}

// Set overwrites an existing attribute in place or transitions the object to
// the shape with name appended.
func (st *Store) Set(o *Object, name string, v Value) {
	st.migrate(o)
	s := st.arena.Shape(o.shape)
	if slot, ok := s.Lookup(name); ok {
		o.slots[slot] = v
		return
	}
	next := st.arena.Add(o.shape, name)
	st.moveTo(o, next)
	slot, _ := st.arena.Shape(next).Lookup(name)
	o.slots[slot] = v
}

// Remove drops an attribute. Remaining slots keep their indices. Returns
// false if the attribute was absent.
func (st *Store) Remove(o *Object, name string) bool {
	st.migrate(o)
	s := st.arena.Shape(o.shape)
	if _, ok := s.Lookup(name); !ok {
		return false
	}
	st.moveTo(o, st.arena.Remove(o.shape, name))
	return true
}

// Compact retires the object's shape in favour of its waste-free equivalent.
// Every other object on the retired shape migrates on its next write.
func (st *Store) Compact(o *Object) bool {
	st.migrate(o)
	s := st.arena.Shape(o.shape)
	if s.Waste() == 0 {
		return false
	}
	repl, _ := st.arena.Retire(o.shape)
	st.moveTo(o, repl)
	return true
}

// Names returns the object's attribute names in insertion order.
func (st *Store) Names(o *Object) []string {
	return st.arena.Shape(o.shape).Names()
}

// Len returns the number of attributes.
func (st *Store) Len(o *Object) int {
	return st.arena.Shape(o.shape).Len()
}

// SetClass stores the class chain attribute.
func (st *Store) SetClass(o *Object, chain ...string) {
	st.Set(o, ClassAttr, NewCharacter(chain...))
}

// FromPairs builds an object from named values. When a name repeats, the last
// element wins. An empty name is an error unless ignoreMissingNames is set, in
// which case the element is skipped.
func (st *Store) FromPairs(pairs []Arg, ignoreMissingNames bool) (*Object, error) {
	for i := len(pairs) - 1; i >= 0; i-- {
		if pairs[i].Name == "" && !ignoreMissingNames {
			return nil, &errors.ZeroLengthNameError{Index: i}
		}
	}
	o := st.NewObject()
	for _, p := range pairs {
		if p.Name == "" {
			continue
		}
		st.Set(o, p.Name, p.Value)
	}
	return o, nil
}

// migrate moves an object off a retired shape.
func (st *Store) migrate(o *Object) {
	if !st.arena.Shape(o.shape).Retired() {
		return
	}
	from := o.shape
	st.moveTo(o, st.arena.Resolve(o.shape))
	st.logger.Debug("object migrated", slog.Int("from", int(from)), slog.Int("to", int(o.shape)))
}

// moveTo switches the object to shape `to`, relaying storage when the slot
// assignment differs.
func (st *Store) moveTo(o *Object, to ShapeID) {
	if to == o.shape {
		return
	}
	from := st.arena.Shape(o.shape)
	t := st.arena.Shape(to)
	if t.parent == from.id {
		// Direct child: every kept field sits in the same slot.
		for len(o.slots) < t.nextSlot {
			o.slots = append(o.slots, Undefined)
		}
		if t.Len() < from.Len() {
			for _, f := range from.fields {
				if _, ok := t.Lookup(f.Name); !ok {
					o.slots[f.Slot] = Undefined
				}
			}
		}
		o.shape = to
		return
	}
	slots := make([]Value, t.nextSlot)
	for i := range slots {
		slots[i] = Undefined
	}
	for _, f := range t.fields {
		if old, ok := from.Lookup(f.Name); ok {
			slots[f.Slot] = o.slots[old]
		}
	}
	o.slots = slots
	o.shape = to
}
