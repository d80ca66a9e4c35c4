package vm

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// MaxDenseSiteID bounds the ids kept in the dense site slice. Larger ids are
// held in a map so a stray id cannot force a huge allocation.
const MaxDenseSiteID = 1 << 16

// SiteTable hands out one inline cache per attribute access site. Sites are
// identified by small integers chosen by the host (e.g. an instruction
// offset). Lookups of existing dense sites are lock-free.
type SiteTable struct {
	store     *Store
	monoLimit int
	polyLimit int

	mu     sync.Mutex
	sites  atomic.Pointer[[]*InlineCache]
	sparse map[int]*InlineCache // ids >= MaxDenseSiteID, guarded by mu

	logger *slog.Logger
}

func NewSiteTable(store *Store, monoLimit, polyLimit int, logger *slog.Logger) *SiteTable {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &SiteTable{
		store:     store,
		monoLimit: monoLimit,
		polyLimit: polyLimit,
		sparse:    make(map[int]*InlineCache),
		logger:    logger,
	}
	empty := make([]*InlineCache, 0)
	t.sites.Store(&empty)
	return t
}

// Site returns the inline cache for a specific access site, creating it on
// first use.
func (t *SiteTable) Site(id int) *InlineCache {
	if id < 0 {
		// No stable location: a throwaway cache.
		return newInlineCache(id, t.store, t.monoLimit, t.polyLimit, t.logger)
	}
	if sites := *t.sites.Load(); id < len(sites) && sites[id] != nil {
		return sites[id]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.sites.Load()
	if id < len(cur) && cur[id] != nil {
		return cur[id]
	}
	if id >= len(cur) && id >= MaxDenseSiteID {
		ic, ok := t.sparse[id]
		if !ok {
			ic = newInlineCache(id, t.store, t.monoLimit, t.polyLimit, t.logger)
			t.sparse[id] = ic
		}
		return ic
	}
	// Copy rather than write in place: readers may hold the old slice.
	n := len(cur)
	if id >= n {
		n = id + 1
	}
	next := make([]*InlineCache, n)
	copy(next, cur)
	next[id] = newInlineCache(id, t.store, t.monoLimit, t.polyLimit, t.logger)
	t.sites.Store(&next)
	return next[id]
}

// NewSite allocates a fresh site id and returns its cache.
func (t *SiteTable) NewSite() *InlineCache {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.sites.Load()
	next := make([]*InlineCache, len(cur)+1)
	copy(next, cur)
	ic, ok := t.sparse[len(cur)]
	if ok {
		delete(t.sparse, len(cur))
	} else {
		ic = newInlineCache(len(cur), t.store, t.monoLimit, t.polyLimit, t.logger)
	}
	next[len(cur)] = ic
	t.sites.Store(&next)
	return ic
}

// Len returns the number of dense site slots allocated plus the number of
// sparse sites.
func (t *SiteTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(*t.sites.Load()) + len(t.sparse)
}

// all returns every allocated cache ordered by site id.
func (t *SiteTable) all() []*InlineCache {
	t.mu.Lock()
	defer t.mu.Unlock()
	dense := *t.sites.Load()
	out := make([]*InlineCache, 0, len(dense)+len(t.sparse))
	for _, ic := range dense {
		if ic != nil {
			out = append(out, ic)
		}
	}
	ids := make([]int, 0, len(t.sparse))
	for id := range t.sparse {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, t.sparse[id])
	}
	return out
}

// Stats aggregates the counters of every site plus arena counters.
func (t *SiteTable) Stats() ICacheStats {
	var out ICacheStats
	for _, ic := range t.all() {
		s := ic.Stats()
		out.ConstantHits += s.ConstantHits
		out.ValidatedHits += s.ValidatedHits
		out.MegaLookups += s.MegaLookups
		out.TotalMisses += s.Misses
		out.Stale += s.Stale
		out.Sites = append(out.Sites, s)
	}
	out.TotalHits = out.ConstantHits + out.ValidatedHits
	arena := t.store.Arena()
	out.Shapes = arena.Len()
	out.RetiredShapes = arena.RetiredCount()
	out.Conflicts = arena.Conflicts()
	return out
}
