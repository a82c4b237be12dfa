package subsystems

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/Swind/go-service-thread/core"
)

const (
	defaultInitialBuckets = 64
	defaultMaxBucketLen   = 2
	defaultDeadRatio      = 0.5
	defaultMinDead        = 16
	cleanupChunk          = 32
)

// InternTableConfig tunes when an InternTable requests concurrent work.
type InternTableConfig struct {
	// InitialBuckets is rounded up to a power of two.
	InitialBuckets int

	// MaxBucketLen is the average bucket length above which the table grows.
	MaxBucketLen float64

	// DeadRatio is the dead/total ratio above which cleanup is requested.
	DeadRatio float64

	// MinDead is the minimum dead count before cleanup is requested.
	MinDead int
}

// DefaultInternTableConfig returns the default thresholds.
func DefaultInternTableConfig() InternTableConfig {
	return InternTableConfig{
		InitialBuckets: defaultInitialBuckets,
		MaxBucketLen:   defaultMaxBucketLen,
		DeadRatio:      defaultDeadRatio,
		MinDead:        defaultMinDead,
	}
}

type internEntry struct {
	value string
	hash  uint64
	ref   core.Ref
	dead  bool
}

// InternStats is a snapshot of an InternTable.
type InternStats struct {
	Name     string  `json:"name"`
	Buckets  int     `json:"buckets"`
	Entries  int     `json:"entries"`
	Dead     int     `json:"dead"`
	Load     float64 `json:"load"`
	Pending  bool    `json:"pending"`
	Cleaned  uint64  `json:"cleaned"`
	Rehashes uint64  `json:"rehashes"`
	Cleanups uint64  `json:"cleanups"`
}

// InternTable canonicalizes strings to references. Entries are weak: once a
// collector sweep finds an entry's reference unreachable the entry is dead, and
// the service thread later removes dead entries and grows the table.
type InternTable struct {
	notifyHook

	name  string
	alloc RefAllocator
	cfg   InternTableConfig

	mu      sync.Mutex
	buckets [][]*internEntry
	entries int
	dead    int

	pending  atomic.Bool
	cleaned  atomic.Uint64
	rehashes atomic.Uint64
	cleanups atomic.Uint64
}

// NewInternTable creates an empty table named name (e.g. "string_table").
func NewInternTable(name string, alloc RefAllocator, cfg InternTableConfig) *InternTable {
	def := DefaultInternTableConfig()
	if cfg.InitialBuckets <= 0 {
		cfg.InitialBuckets = def.InitialBuckets
	}
	if cfg.MaxBucketLen <= 0 {
		cfg.MaxBucketLen = def.MaxBucketLen
	}
	if cfg.DeadRatio <= 0 {
		cfg.DeadRatio = def.DeadRatio
	}
	if cfg.MinDead <= 0 {
		cfg.MinDead = def.MinDead
	}

	size := 1
	for size < cfg.InitialBuckets {
		size <<= 1
	}

	return &InternTable{
		name:    name,
		alloc:   alloc,
		cfg:     cfg,
		buckets: make([][]*internEntry, size),
	}
}

// Name returns the table name.
func (t *InternTable) Name() string { return t.name }

// Intern returns the reference for s, allocating a new one if s is not present
// or only present as a dead entry.
func (t *InternTable) Intern(s string) core.Ref {
	h := xxhash.Sum64String(s)

	t.mu.Lock()
	idx := h & uint64(len(t.buckets)-1)
	for _, e := range t.buckets[idx] {
		if !e.dead && e.hash == h && e.value == s {
			t.mu.Unlock()
			return e.ref
		}
	}
	ref := t.alloc.Allocate()
	t.buckets[idx] = append(t.buckets[idx], &internEntry{value: s, hash: h, ref: ref})
	t.entries++
	wake := t.checkLocked()
	t.mu.Unlock()

	if wake {
		t.notify()
	}
	return ref
}

// Lookup returns the live reference for s, if any.
func (t *InternTable) Lookup(s string) (core.Ref, bool) {
	h := xxhash.Sum64String(s)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.buckets[h&uint64(len(t.buckets)-1)] {
		if !e.dead && e.hash == h && e.value == s {
			return e.ref, true
		}
	}
	return 0, false
}

// Sweep marks entries whose references are no longer live as dead. It is
// called by the collector, normally inside a pause. It returns the number of
// newly dead entries.
func (t *InternTable) Sweep(isLive LivenessFunc) int {
	t.mu.Lock()
	n := 0
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			if !e.dead && !isLive(e.ref) {
				e.dead = true
				n++
			}
		}
	}
	t.dead += n
	wake := t.checkLocked()
	t.mu.Unlock()

	if wake {
		t.notify()
	}
	return n
}

// checkLocked requests concurrent work when the table is too dirty or too
// loaded. It reports whether the request is new.
func (t *InternTable) checkLocked() bool {
	if t.pending.Load() {
		return false
	}
	if !t.needsCleanupLocked() && !t.needsGrowLocked() {
		return false
	}
	t.pending.Store(true)
	return true
}

func (t *InternTable) needsCleanupLocked() bool {
	if t.dead < t.cfg.MinDead || t.entries == 0 {
		return false
	}
	return float64(t.dead)/float64(t.entries) > t.cfg.DeadRatio
}

func (t *InternTable) needsGrowLocked() bool {
	return float64(t.entries)/float64(len(t.buckets)) > t.cfg.MaxBucketLen
}

// HasWork reports whether cleanup or growth was requested.
func (t *InternTable) HasWork() bool {
	return t.pending.Load()
}

// DoWork removes dead entries, polling for safepoints between chunks of
// buckets, and then grows the table if it is still overloaded.
func (t *InternTable) DoWork(ctx context.Context) error {
	t.pending.Store(false)
	t.cleanups.Add(1)

	for start := 0; ; start += cleanupChunk {
		t.mu.Lock()
		if start >= len(t.buckets) {
			t.mu.Unlock()
			break
		}
		end := min(start+cleanupChunk, len(t.buckets))
		removed := 0
		for i := start; i < end; i++ {
			removed += t.cleanBucketLocked(i)
		}
		t.entries -= removed
		t.dead -= removed
		t.mu.Unlock()

		t.cleaned.Add(uint64(removed))
		core.PollSafepoint(ctx)
	}

	t.mu.Lock()
	if t.needsGrowLocked() {
		t.growLocked()
	}
	wake := t.checkLocked()
	t.mu.Unlock()

	if wake {
		t.notify()
	}
	return nil
}

func (t *InternTable) cleanBucketLocked(i int) int {
	bucket := t.buckets[i]
	kept := bucket[:0]
	for _, e := range bucket {
		if !e.dead {
			kept = append(kept, e)
		}
	}
	for j := len(kept); j < len(bucket); j++ {
		bucket[j] = nil
	}
	t.buckets[i] = kept
	return len(bucket) - len(kept)
}

func (t *InternTable) growLocked() {
	size := len(t.buckets)
	for float64(t.entries)/float64(size) > t.cfg.MaxBucketLen {
		size <<= 1
	}

	buckets := make([][]*internEntry, size)
	mask := uint64(size - 1)
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			buckets[e.hash&mask] = append(buckets[e.hash&mask], e)
		}
	}
	t.buckets = buckets
	t.rehashes.Add(1)
}

// Stats returns a snapshot of the table.
func (t *InternTable) Stats() InternStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return InternStats{
		Name:     t.name,
		Buckets:  len(t.buckets),
		Entries:  t.entries,
		Dead:     t.dead,
		Load:     float64(t.entries) / float64(len(t.buckets)),
		Pending:  t.pending.Load(),
		Cleaned:  t.cleaned.Load(),
		Rehashes: t.rehashes.Load(),
		Cleanups: t.cleanups.Load(),
	}
}
