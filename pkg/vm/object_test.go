package vm

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"gendispatch/pkg/errors"
)

func newTestStore(compactThreshold int) *Store {
	return NewStore(NewShapeArena(compactThreshold, nil), nil)
}

func TestObjectBasic(t *testing.T) {
	st := newTestStore(0)
	o := st.NewObject()
	if st.Has(o, "foo") {
		t.Errorf("expected Has(\"foo\") to be false on new object")
	}
	if v, ok := st.Get(o, "foo"); ok {
		t.Errorf("expected Get(\"foo\") ok=false, got ok=true, v=%v", v)
	}
	st.Set(o, "foo", IntegerValue(42))
	v, ok := st.Get(o, "foo")
	if !ok {
		t.Fatalf("expected Get(\"foo\") ok=true after Set")
	}
	if v.AsInteger() != 42 {
		t.Errorf("expected Get to return 42, got %d", v.AsInteger())
	}
	st.Set(o, "foo", IntegerValue(7))
	if v2, ok2 := st.Get(o, "foo"); !ok2 || v2.AsInteger() != 7 {
		t.Errorf("expected overwritten value 7, got %v (ok=%v)", v2, ok2)
	}
	if names := st.Names(o); len(names) != 1 || names[0] != "foo" {
		t.Errorf("Names mismatch, expected [foo], got %v", names)
	}
}

func TestObjectShapeTransitions(t *testing.T) {
	st := newTestStore(0)
	o := st.NewObject()
	root := st.ShapeOf(o).ID()
	st.Set(o, "a", IntegerValue(1))
	s1 := st.ShapeOf(o).ID()
	if s1 == root {
		t.Errorf("expected new shape after first attribute, got same shape")
	}
	st.Set(o, "a", IntegerValue(2))
	if s2 := st.ShapeOf(o).ID(); s2 != s1 {
		t.Errorf("expected same shape on overwrite, got %d and %d", s1, s2)
	}
	st.Set(o, "b", IntegerValue(3))
	if st.ShapeOf(o).ID() == s1 {
		t.Errorf("expected new shape after adding second attribute, got same shape")
	}
	if names := st.Names(o); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names order mismatch, expected [a b], got %v", names)
	}
}

func TestStructuralSharing(t *testing.T) {
	st := newTestStore(0)
	o1, o2 := st.NewObject(), st.NewObject()
	for _, name := range []string{"x", "y", "z"} {
		st.Set(o1, name, Null)
		st.Set(o2, name, True)
	}
	if st.ShapeOf(o1) != st.ShapeOf(o2) {
		t.Errorf("expected identical add sequences to share a shape, got %s and %s", st.ShapeOf(o1), st.ShapeOf(o2))
	}
	before := st.Arena().Len()
	o3 := st.NewObject()
	st.Set(o3, "x", Null)
	st.Set(o3, "y", Null)
	st.Set(o3, "z", Null)
	if st.Arena().Len() != before {
		t.Errorf("expected no new shapes for a known sequence, arena grew from %d to %d", before, st.Arena().Len())
	}
	// A different order is a different layout.
	o4 := st.NewObject()
	st.Set(o4, "y", Null)
	st.Set(o4, "x", Null)
	if st.ShapeOf(o4) == st.ShapeOf(o1) {
		t.Errorf("expected different insertion order to give a different shape")
	}
}

func TestRemoveKeepsSlotsAndNeverReuses(t *testing.T) {
	st := newTestStore(0)
	o := st.NewObject()
	st.Set(o, "a", IntegerValue(1))
	st.Set(o, "b", IntegerValue(2))

	if !st.Remove(o, "a") {
		t.Fatalf("expected Remove(\"a\") to return true")
	}
	if st.Remove(o, "a") {
		t.Errorf("expected Remove of absent attribute to return false")
	}
	if _, ok := st.Get(o, "a"); ok {
		t.Errorf("expected a to be absent after Remove")
	}
	s := st.ShapeOf(o)
	if slot, _ := s.Lookup("b"); slot != 1 {
		t.Errorf("expected b to keep slot 1, got %d", slot)
	}
	if s.NextSlot() != 2 || s.Waste() != 1 {
		t.Errorf("expected nextSlot=2 waste=1, got nextSlot=%d waste=%d", s.NextSlot(), s.Waste())
	}

	st.Set(o, "c", IntegerValue(3))
	if slot, _ := st.ShapeOf(o).Lookup("c"); slot != 2 {
		t.Errorf("expected c in fresh slot 2, got %d", slot)
	}
	// Re-adding a removed name also takes a fresh slot.
	st.Set(o, "a", IntegerValue(4))
	if slot, _ := st.ShapeOf(o).Lookup("a"); slot != 3 {
		t.Errorf("expected re-added a in slot 3, got %d", slot)
	}
	if v, _ := st.Get(o, "b"); v.AsInteger() != 2 {
		t.Errorf("expected b=2 to survive, got %v", v)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	st := newTestStore(0)
	o := st.NewObject()
	values := map[string]Value{
		"n":     IntegerValue(1),
		"d":     DoubleValue(2.5),
		"s":     NewString("x"),
		"class": NewCharacter("a", "b"),
		"nil":   Null,
	}
	for name, v := range values {
		st.Set(o, name, v)
	}
	for name, v := range values {
		got, ok := st.Get(o, name)
		if !ok || !got.Equals(v) {
			t.Errorf("Get(%q) = %v (ok=%v), expected %v", name, got, ok, v)
		}
	}
}

func TestShapeIndexForWideShapes(t *testing.T) {
	st := newTestStore(0)
	o := st.NewObject()
	for i := 0; i < 12; i++ {
		st.Set(o, fmt.Sprintf("f%d", i), IntegerValue(int64(i)))
	}
	for i := 0; i < 12; i++ {
		v, ok := st.Get(o, fmt.Sprintf("f%d", i))
		if !ok || v.AsInteger() != int64(i) {
			t.Errorf("f%d: got %v (ok=%v)", i, v, ok)
		}
	}
	if _, ok := st.Get(o, "f12"); ok {
		t.Errorf("expected f12 to be absent")
	}
}

func TestCompactRetiresShape(t *testing.T) {
	st := newTestStore(0)
	o1, o2 := st.NewObject(), st.NewObject()
	for _, o := range []*Object{o1, o2} {
		st.Set(o, "a", IntegerValue(1))
		st.Set(o, "b", IntegerValue(2))
		st.Set(o, "c", IntegerValue(3))
		st.Remove(o, "a")
	}
	old := st.ShapeOf(o1)
	if st.ShapeOf(o2) != old {
		t.Fatalf("expected both objects on the same shape")
	}

	if !st.Compact(o1) {
		t.Fatalf("expected Compact to move o1")
	}
	if st.Compact(o1) {
		t.Errorf("expected second Compact to be a no-op")
	}
	if !old.Retired() {
		t.Errorf("expected %s to be retired", old)
	}
	s := st.ShapeOf(o1)
	if s.Waste() != 0 || !s.Equivalent(old) {
		t.Errorf("expected waste-free equivalent of %s, got %s (waste %d)", old, s, s.Waste())
	}
	if v, _ := st.Get(o1, "c"); v.AsInteger() != 3 {
		t.Errorf("expected c=3 after compaction, got %v", v)
	}

	// o2 still reads through the retired shape, then migrates on write.
	if v, _ := st.Get(o2, "b"); v.AsInteger() != 2 {
		t.Errorf("expected o2.b=2 before migration, got %v", v)
	}
	st.Set(o2, "b", IntegerValue(20))
	if st.ShapeOf(o2) != s {
		t.Errorf("expected o2 to migrate to %s, got %s", s, st.ShapeOf(o2))
	}
	if v, _ := st.Get(o2, "c"); v.AsInteger() != 3 {
		t.Errorf("expected o2.c=3 after migration, got %v", v)
	}

	// New objects following the same route land on the compact shape.
	o3 := st.NewObject()
	st.Set(o3, "a", Null)
	st.Set(o3, "b", Null)
	st.Set(o3, "c", Null)
	st.Remove(o3, "a")
	if st.ShapeOf(o3) != s {
		t.Errorf("expected re-pointed transition to reach %s, got %s", s, st.ShapeOf(o3))
	}
	if st.Arena().RetiredCount() != 1 {
		t.Errorf("expected 1 retired shape, got %d", st.Arena().RetiredCount())
	}
}

// Automatic compaction is opt-in: only a positive threshold lets a remove
// renumber the remaining slots.
func TestRemoveCompactsAtOptInThreshold(t *testing.T) {
	st := newTestStore(2)
	o := st.NewObject()
	st.Set(o, "a", IntegerValue(1))
	st.Set(o, "b", IntegerValue(2))
	st.Set(o, "c", IntegerValue(3))
	st.Remove(o, "a")
	if w := st.ShapeOf(o).Waste(); w != 1 {
		t.Fatalf("expected waste 1 below threshold, got %d", w)
	}
	st.Remove(o, "b")
	s := st.ShapeOf(o)
	if s.Waste() != 0 || s.NextSlot() != 1 {
		t.Errorf("expected compact shape with one slot, got %s nextSlot=%d", s, s.NextSlot())
	}
	if v, ok := st.Get(o, "c"); !ok || v.AsInteger() != 3 {
		t.Errorf("expected c=3 after compaction, got %v (ok=%v)", v, ok)
	}
}

func TestFromPairs(t *testing.T) {
	st := newTestStore(0)
	o, err := st.FromPairs([]Arg{
		Named("a", IntegerValue(1)),
		Named("b", IntegerValue(2)),
		Named("a", IntegerValue(3)),
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := st.Get(o, "a"); v.AsInteger() != 3 {
		t.Errorf("expected last pair to win for a, got %v", v)
	}
	if names := st.Names(o); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected names [a b], got %v", names)
	}

	_, err = st.FromPairs([]Arg{Named("a", Null), Positional(Null)}, false)
	if errors.KindOf(err) != errors.KindZeroLengthName {
		t.Errorf("expected %s, got %v", errors.KindZeroLengthName, err)
	}
	o2, err := st.FromPairs([]Arg{Named("a", Null), Positional(Null)}, true)
	if err != nil || st.Len(o2) != 1 {
		t.Errorf("expected unnamed pair to be skipped, got len=%d err=%v", st.Len(o2), err)
	}
}

func TestConcurrentTransitionsConverge(t *testing.T) {
	st := newTestStore(0)
	const workers = 16
	shapes := make([]ShapeID, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			o := st.NewObject()
			for _, name := range []string{"x", "y", "z", "w"} {
				st.Set(o, name, IntegerValue(int64(i)))
			}
			st.Remove(o, "y")
			if v, _ := st.Get(o, "w"); v.AsInteger() != int64(i) {
				return fmt.Errorf("worker %d: w=%v", i, v)
			}
			shapes[i] = st.ShapeOf(o).ID()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < workers; i++ {
		if shapes[i] != shapes[0] {
			t.Errorf("worker %d ended on shape %d, worker 0 on %d", i, shapes[i], shapes[0])
		}
	}
}
