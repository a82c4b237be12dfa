package subsystems

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-service-thread/core"
)

// WeakTableStats is a snapshot of a WeakTable.
type WeakTableStats struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Dead     int    `json:"dead"`
	Pending  bool   `json:"pending"`
	Unlinked uint64 `json:"unlinked"`
}

type weakEntry struct {
	ref  core.Ref
	dead bool
}

// WeakTable maps keys to references without keeping the referents alive. It
// backs the resolved-method table and the protection-domain cache: a collector
// sweep reports dead referents and the service thread unlinks them.
type WeakTable struct {
	notifyHook

	name string

	mu      sync.RWMutex
	entries map[string]*weakEntry
	dead    int

	pending  atomic.Bool
	unlinked atomic.Uint64
}

func NewWeakTable(name string) *WeakTable {
	return &WeakTable{name: name, entries: make(map[string]*weakEntry)}
}

// Name returns the table name.
func (t *WeakTable) Name() string { return t.name }

// Put associates key with ref, replacing any previous entry.
func (t *WeakTable) Put(key string, ref core.Ref) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[key]; ok && old.dead {
		t.dead--
	}
	t.entries[key] = &weakEntry{ref: ref}
}

// Get returns the reference for key unless it is absent or dead.
func (t *WeakTable) Get(key string) (core.Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok || e.dead {
		return 0, false
	}
	return e.ref, true
}

// Len returns the number of entries, dead ones included.
func (t *WeakTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Sweep marks entries whose referent is no longer live. Any dead entry makes
// unlinking pending. It returns the number of newly dead entries.
func (t *WeakTable) Sweep(isLive LivenessFunc) int {
	t.mu.Lock()
	n := 0
	for _, e := range t.entries {
		if !e.dead && !isLive(e.ref) {
			e.dead = true
			n++
		}
	}
	t.dead += n
	wake := n > 0 && !t.pending.Swap(true)
	t.mu.Unlock()

	if wake {
		t.notify()
	}
	return n
}

func (t *WeakTable) HasWork() bool {
	return t.pending.Load()
}

// DoWork unlinks every dead entry.
func (t *WeakTable) DoWork(ctx context.Context) error {
	t.pending.Store(false)

	t.mu.Lock()
	removed := 0
	for key, e := range t.entries {
		if e.dead {
			delete(t.entries, key)
			removed++
		}
	}
	t.dead -= removed
	t.mu.Unlock()

	t.unlinked.Add(uint64(removed))
	return nil
}

// Stats returns a snapshot of the table.
func (t *WeakTable) Stats() WeakTableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return WeakTableStats{
		Name:     t.name,
		Entries:  len(t.entries),
		Dead:     t.dead,
		Pending:  t.pending.Load(),
		Unlinked: t.unlinked.Load(),
	}
}
