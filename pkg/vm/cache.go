package vm

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// CacheTier is the specialization state of an attribute access site.
// A site only ever moves down this list.
type CacheTier uint8

const (
	TierUninitialized  CacheTier = iota
	TierConstantLayout           // exact (name, shape) pairs, absent answers included
	TierValidatedShape           // (name, shape) pairs guarded by shape validity, present answers only
	TierMegamorphic              // too many shapes, uncached store lookup
)

func (t CacheTier) String() string {
	switch t {
	case TierUninitialized:
		return "UNINITIALIZED"
	case TierConstantLayout:
		return "CONSTANT_LAYOUT"
	case TierValidatedShape:
		return "VALIDATED_SHAPE"
	case TierMegamorphic:
		return "MEGAMORPHIC"
	default:
		return fmt.Sprintf("TIER(%d)", uint8(t))
	}
}

// cacheEntry is valid while its shape is still at generation gen.
type cacheEntry struct {
	name  string
	shape ShapeID
	gen   uint32
	slot  int // -1 when the attribute is absent
}

// cacheState is published whole and never modified afterwards.
type cacheState struct {
	tier    CacheTier
	entries []cacheEntry
}

var uninitializedState = &cacheState{tier: TierUninitialized}

// InlineCache memoizes shape => slot for one attribute access site. It is
// shared between threads: lookups are lock-free and installs are
// compare-and-swap of a fresh state.
type InlineCache struct {
	site      int
	store     *Store
	monoLimit int
	polyLimit int
	state     atomic.Pointer[cacheState]

	constantHits  atomic.Uint64
	validatedHits atomic.Uint64
	megaLookups   atomic.Uint64
	misses        atomic.Uint64
	stale         atomic.Uint64

	logger *slog.Logger
}

func newInlineCache(site int, store *Store, monoLimit, polyLimit int, logger *slog.Logger) *InlineCache {
	ic := &InlineCache{site: site, store: store, monoLimit: monoLimit, polyLimit: polyLimit, logger: logger}
	ic.state.Store(uninitializedState)
	return ic
}

// Site returns the call-site id this cache belongs to.
func (ic *InlineCache) Site() int { return ic.site }

// Tier returns the current specialization tier.
func (ic *InlineCache) Tier() CacheTier { return ic.state.Load().tier }

// EntryCount returns the number of entries in the current tier.
func (ic *InlineCache) EntryCount() int { return len(ic.state.Load().entries) }

// Get reads attribute name of o through the cache. The answer is always the
// one Store.Get would give.
func (ic *InlineCache) Get(o *Object, name string) (Value, bool) {
	st := ic.state.Load()
	switch st.tier {
	case TierConstantLayout, TierValidatedShape:
		for _, e := range st.entries {
			if e.shape != o.shape || e.name != name {
				continue
			}
			if !ic.store.arena.Shape(e.shape).Valid(e.gen) {
				ic.stale.Add(1)
				ic.logger.Debug("stale inline cache entry",
					slog.Int("site", ic.site),
					slog.String("name", name),
					slog.Int("shape", int(e.shape)))
				return ic.respecialize(st, o, name)
			}
			if st.tier == TierConstantLayout {
				ic.constantHits.Add(1)
			} else {
				ic.validatedHits.Add(1)
			}
			if e.slot < 0 {
				return Undefined, false
			}
			return o.slots[e.slot], true
		}
	case TierMegamorphic:
		ic.megaLookups.Add(1)
		return ic.store.Get(o, name)
	}
	ic.misses.Add(1)
	return ic.respecialize(st, o, name)
}

// respecialize answers through the store and installs what it learned. A
// lost install is re-derived from the winner's state and retried once.
func (ic *InlineCache) respecialize(prev *cacheState, o *Object, name string) (Value, bool) {
	v, ok := ic.store.Get(o, name)
	s := ic.store.arena.Shape(o.shape)
	if s.Retired() {
		// The object has not migrated yet; nothing cacheable, but stale
		// entries can still go.
		if next := ic.prune(prev); next != prev {
			ic.state.CompareAndSwap(prev, next)
		}
		return v, ok
	}
	e := cacheEntry{name: name, shape: s.id, gen: s.Generation(), slot: -1}
	if ok {
		e.slot, _ = s.Lookup(name)
	}
	for attempt := 0; attempt < 2; attempt++ {
		next := ic.advance(prev, e)
		if next == prev {
			break
		}
		if ic.state.CompareAndSwap(prev, next) {
			if next.tier != prev.tier {
				ic.logger.Debug("inline cache tier change",
					slog.Int("site", ic.site),
					slog.String("from", prev.tier.String()),
					slog.String("to", next.tier.String()))
			}
			break
		}
		prev = ic.state.Load()
	}
	return v, ok
}

// advance computes the state after observing e. It drops entries whose shape
// went stale and never moves to a hotter tier.
func (ic *InlineCache) advance(prev *cacheState, e cacheEntry) *cacheState {
	if prev.tier == TierMegamorphic {
		return prev
	}
	kept := make([]cacheEntry, 0, len(prev.entries)+1)
	for _, old := range prev.entries {
		if old.name == e.name && old.shape == e.shape {
			continue
		}
		if !ic.store.arena.Shape(old.shape).Valid(old.gen) {
			continue
		}
		kept = append(kept, old)
	}
	switch prev.tier {
	case TierUninitialized, TierConstantLayout:
		if len(kept) < ic.monoLimit {
			return &cacheState{tier: TierConstantLayout, entries: append(kept, e)}
		}
		return ic.promote(e)
	default:
		if e.slot < 0 {
			if len(kept) == len(prev.entries) {
				return prev
			}
			return &cacheState{tier: TierValidatedShape, entries: kept}
		}
		if len(kept) < ic.polyLimit {
			return &cacheState{tier: TierValidatedShape, entries: append(kept, e)}
		}
		return &cacheState{tier: TierMegamorphic}
	}
}

// prune drops stale entries without changing tier.
func (ic *InlineCache) prune(prev *cacheState) *cacheState {
	kept := make([]cacheEntry, 0, len(prev.entries))
	for _, old := range prev.entries {
		if ic.store.arena.Shape(old.shape).Valid(old.gen) {
			kept = append(kept, old)
		}
	}
	if len(kept) == len(prev.entries) {
		return prev
	}
	return &cacheState{tier: prev.tier, entries: kept}
}

// promote leaves the constant-layout tier. The validated tier starts over
// with only the entry that overflowed.
func (ic *InlineCache) promote(e cacheEntry) *cacheState {
	if ic.polyLimit <= 0 {
		return &cacheState{tier: TierMegamorphic}
	}
	if e.slot < 0 {
		return &cacheState{tier: TierValidatedShape}
	}
	return &cacheState{tier: TierValidatedShape, entries: []cacheEntry{e}}
}

// SiteStats holds the counters of one access site.
type SiteStats struct {
	Site          int    `msgpack:"site"`
	Tier          string `msgpack:"tier"`
	Entries       int    `msgpack:"entries"`
	ConstantHits  uint64 `msgpack:"constant_hits"`
	ValidatedHits uint64 `msgpack:"validated_hits"`
	MegaLookups   uint64 `msgpack:"mega_lookups"`
	Misses        uint64 `msgpack:"misses"`
	Stale         uint64 `msgpack:"stale"`
}

func (ic *InlineCache) Stats() SiteStats {
	st := ic.state.Load()
	return SiteStats{
		Site:          ic.site,
		Tier:          st.tier.String(),
		Entries:       len(st.entries),
		ConstantHits:  ic.constantHits.Load(),
		ValidatedHits: ic.validatedHits.Load(),
		MegaLookups:   ic.megaLookups.Load(),
		Misses:        ic.misses.Load(),
		Stale:         ic.stale.Load(),
	}
}

// ICacheStats aggregates every site of a table.
type ICacheStats struct {
	TotalHits     uint64      `msgpack:"total_hits"`
	TotalMisses   uint64      `msgpack:"total_misses"`
	ConstantHits  uint64      `msgpack:"constant_hits"`
	ValidatedHits uint64      `msgpack:"validated_hits"`
	MegaLookups   uint64      `msgpack:"mega_lookups"`
	Stale         uint64      `msgpack:"stale"`
	Shapes        int         `msgpack:"shapes"`
	RetiredShapes uint64      `msgpack:"retired_shapes"`
	Conflicts     uint64      `msgpack:"transition_conflicts"`
	Sites         []SiteStats `msgpack:"sites"`
}

// HitRate returns hits over all cached-path lookups, in percent.
func (s ICacheStats) HitRate() float64 {
	total := s.TotalHits + s.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(s.TotalHits) / float64(total) * 100.0
}
