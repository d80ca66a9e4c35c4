package vm

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"
)

// ShapeID is a handle into a ShapeArena. Objects hold handles, never pointers,
// so shapes can refer to their parents without ownership cycles.
type ShapeID uint32

// RootShapeID is the empty shape every object starts from.
const RootShapeID ShapeID = 0

// shapeIndexThreshold is the field count above which a shape keeps a
// name->field map instead of scanning.
const shapeIndexThreshold = 8

// Field is an AttributeSlot: an attribute name and the storage slot holding it.
type Field struct {
	Name string
	Slot int
}

type transitionOp uint8

const (
	opAdd transitionOp = iota
	opRemove
)

func (op transitionOp) String() string {
	if op == opAdd {
		return "add"
	}
	return "remove"
}

type transitionKey struct {
	op   transitionOp
	name string
}

// transitionTable is never mutated once published; writers copy it.
type transitionTable map[transitionKey]ShapeID

// Shape describes which attributes an object has and where each one lives.
// Everything but the generation, the replacement and the transition table is
// fixed at creation.
type Shape struct {
	id       ShapeID
	parent   ShapeID
	fields   []Field
	index    map[string]int // field position by name; nil for small shapes
	nextSlot int            // high-water mark; removed slots are never reused

	generation  atomic.Uint32 // bumped when the shape is retired
	replacement atomic.Uint32 // replacement ShapeID+1, 0 while valid
	transitions atomic.Pointer[transitionTable]
}

func (s *Shape) ID() ShapeID { return s.id }
func (s *Shape) Parent() ShapeID { return s.parent }
func (s *Shape) Len() int { return len(s.fields) }
func (s *Shape) NextSlot() int { return s.nextSlot }
func (s *Shape) Waste() int { return s.nextSlot - len(s.fields) }
func (s *Shape) Generation() uint32 { return s.generation.Load() }

// Valid reports whether a cache entry built against generation gen may still
// be used with this shape.
func (s *Shape) Valid(gen uint32) bool {
	return s.replacement.Load() == 0 && s.generation.Load() == gen
}

// Retired reports whether the shape has been replaced.
func (s *Shape) Retired() bool { return s.replacement.Load() != 0 }

// Lookup returns the storage slot of name.
func (s *Shape) Lookup(name string) (int, bool) {
	if s.index != nil {
		if i, ok := s.index[name]; ok {
			return s.fields[i].Slot, true
		}
		return -1, false
	}
	for _, f := range s.fields {
		if f.Name == name {
			return f.Slot, true
		}
	}
	return -1, false
}

// Fields returns a copy of the shape's fields in insertion order.
func (s *Shape) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the attribute names in insertion order.
func (s *Shape) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Equivalent reports whether both shapes hold the same names in the same
// order, regardless of slot assignment.
func (s *Shape) Equivalent(o *Shape) bool {
	if len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i].Name != o.fields[i].Name {
			return false
		}
	}
	return true
}

func (s *Shape) String() string {
	return fmt.Sprintf("Shape#%d%v", s.id, s.Names())
}

// ShapeArena owns every shape. Reads are lock-free; appends and retirements
// serialize on mu.
type ShapeArena struct {
	mu    sync.Mutex
	table atomic.Pointer[[]*Shape]

	compactThreshold int

	conflicts atomic.Uint64 // lost transition installs
	retired   atomic.Uint64

	logger *slog.Logger
}

// NewShapeArena creates an arena holding only the root shape. A positive
// compactThreshold makes remove transitions that would leave that many
// unused slots land on the compact shape instead.
func NewShapeArena(compactThreshold int, logger *slog.Logger) *ShapeArena {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &ShapeArena{compactThreshold: compactThreshold, logger: logger}
	root := &Shape{id: RootShapeID, parent: RootShapeID}
	table := make([]*Shape, 1, 64)
	table[0] = root
	a.table.Store(&table)
	return a
}

// Shape returns the shape for id. It panics on a handle from another arena.
func (a *ShapeArena) Shape(id ShapeID) *Shape {
	t := *a.table.Load()
	return t[id]
}

// Len returns the number of shapes ever created.
func (a *ShapeArena) Len() int {
	return len(*a.table.Load())
}

// Conflicts returns how many transition installs lost a race.
func (a *ShapeArena) Conflicts() uint64 { return a.conflicts.Load() }

// RetiredCount returns how many shapes have been retired.
func (a *ShapeArena) RetiredCount() uint64 { return a.retired.Load() }

func (a *ShapeArena) alloc(parent ShapeID, fields []Field, nextSlot int) *Shape {
	var index map[string]int
	if len(fields) > shapeIndexThreshold {
		index = make(map[string]int, len(fields))
		for i, f := range fields {
			index[f.Name] = i
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := *a.table.Load()
	raw, err := safecast.Conv[uint32](len(cur))
	if err != nil {
		panic(fmt.Sprintf("shape arena exhausted: %v", err))
	}
	s := &Shape{id: ShapeID(raw), parent: parent, fields: fields, index: index, nextSlot: nextSlot}
	// Readers only index below their own snapshot length, so writing into
	// spare capacity is invisible to them until the new header is published.
	next := append(cur, s)
	a.table.Store(&next)
	return s
}

// Resolve follows the replacement of a retired shape.
func (a *ShapeArena) Resolve(id ShapeID) ShapeID {
	for {
		r := a.Shape(id).replacement.Load()
		if r == 0 {
			return id
		}
		id = ShapeID(r - 1)
	}
}

// Add returns the shape reached from `from` by appending name.
func (a *ShapeArena) Add(from ShapeID, name string) ShapeID {
	return a.transition(from, transitionKey{op: opAdd, name: name})
}

// Remove returns the shape reached from `from` by dropping name.
func (a *ShapeArena) Remove(from ShapeID, name string) ShapeID {
	return a.transition(from, transitionKey{op: opRemove, name: name})
}

// transition looks the target up in the origin's table and installs a new
// shape if absent. Installs are compare-and-swap; a loser re-reads and adopts
// the winner's shape when the winner installed the same key.
func (a *ShapeArena) transition(from ShapeID, key transitionKey) ShapeID {
	s := a.Shape(from)
	var built ShapeID
	haveBuilt := false
	for {
		tbl := s.transitions.Load()
		if tbl != nil {
			if id, ok := (*tbl)[key]; ok {
				return id
			}
		}
		if !haveBuilt {
			built = a.build(s, key)
			haveBuilt = true
		}
		next := make(transitionTable, 1)
		if tbl != nil {
			next = make(transitionTable, len(*tbl)+1)
			for k, v := range *tbl {
				next[k] = v
			}
		}
		next[key] = built
		if s.transitions.CompareAndSwap(tbl, &next) {
			return built
		}
		a.conflicts.Add(1)
		a.logger.Debug("shape transition conflict",
			slog.Int("shape", int(from)),
			slog.String("op", key.op.String()),
			slog.String("name", key.name))
	}
}

func (a *ShapeArena) build(s *Shape, key transitionKey) ShapeID {
	switch key.op {
	case opAdd:
		if _, ok := s.Lookup(key.name); ok {
			return s.id
		}
		fields := make([]Field, len(s.fields), len(s.fields)+1)
		copy(fields, s.fields)
		fields = append(fields, Field{Name: key.name, Slot: s.nextSlot})
		return a.alloc(s.id, fields, s.nextSlot+1).id
	default:
		if _, ok := s.Lookup(key.name); !ok {
			return s.id
		}
		fields := make([]Field, 0, len(s.fields))
		for _, f := range s.fields {
			if f.Name != key.name {
				fields = append(fields, f)
			}
		}
		if a.compactThreshold > 0 && s.nextSlot-len(fields) >= a.compactThreshold {
			names := make([]string, len(fields))
			for i, f := range fields {
				names[i] = f.Name
			}
			return a.Canonical(names)
		}
		return a.alloc(s.id, fields, s.nextSlot).id
	}
}

// Canonical returns the waste-free shape holding names in order, i.e. the one
// reached by adding them one by one to the root.
func (a *ShapeArena) Canonical(names []string) ShapeID {
	id := RootShapeID
	for _, n := range names {
		id = a.Add(id, n)
	}
	return id
}

// Retire replaces a shape that has unused slots by its compact equivalent.
// The retired shape's generation is bumped so every cache built against it
// goes stale, and its parent's transition is re-pointed so new objects take
// the compact route. Returns the replacement and whether this call retired it.
func (a *ShapeArena) Retire(id ShapeID) (ShapeID, bool) {
	s := a.Shape(id)
	if r := s.replacement.Load(); r != 0 {
		return ShapeID(r - 1), false
	}
	if id == RootShapeID || s.Waste() == 0 {
		return id, false
	}
	repl := a.Canonical(s.Names())
	raw, err := safecast.Conv[uint32](uint64(repl) + 1)
	if err != nil {
		panic(fmt.Sprintf("shape id overflow: %v", err))
	}
	if !s.replacement.CompareAndSwap(0, raw) {
		return ShapeID(s.replacement.Load() - 1), false
	}
	s.generation.Add(1)
	a.retired.Add(1)
	a.repoint(s.parent, id, repl)
	a.logger.Debug("shape retired",
		slog.Int("shape", int(id)),
		slog.Int("replacement", int(repl)),
		slog.Int("waste", s.Waste()))
	return repl, true
}

// repoint swaps every transition of parent that targets old over to repl.
func (a *ShapeArena) repoint(parent, old, repl ShapeID) {
	p := a.Shape(parent)
	for {
		tbl := p.transitions.Load()
		if tbl == nil {
			return
		}
		next := make(transitionTable, len(*tbl))
		changed := false
		for k, v := range *tbl {
			if v == old {
				v = repl
				changed = true
			}
			next[k] = v
		}
		if !changed || p.transitions.CompareAndSwap(tbl, &next) {
			return
		}
		a.conflicts.Add(1)
	}
}
