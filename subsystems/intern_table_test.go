package subsystems

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-service-thread/core"
)

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

func TestInternTable_InternCanonicalizes(t *testing.T) {
	heap := NewHeap()
	table := NewInternTable("string_table", heap, InternTableConfig{})

	a := table.Intern("java/lang/Object")
	b := table.Intern("java/lang/Object")
	c := table.Intern("java/lang/String")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsNull())

	ref, ok := table.Lookup("java/lang/String")
	require.True(t, ok)
	assert.Equal(t, c, ref)

	_, ok = table.Lookup("missing")
	assert.False(t, ok)
}

func TestInternTable_SweepRequestsCleanup(t *testing.T) {
	heap := NewHeap()
	table := NewInternTable("symbol_table", heap, InternTableConfig{InitialBuckets: 256, MinDead: 4, DeadRatio: 0.5})
	notifier := &countingNotifier{}
	table.Bind(notifier)

	refs := make([]core.Ref, 10)
	for i := range refs {
		refs[i] = table.Intern(fmt.Sprintf("sym-%d", i))
	}
	require.False(t, table.HasWork())

	// Release 6 of 10: above the ratio and the minimum
	roots := map[core.Ref]struct{}{}
	for _, r := range refs[6:] {
		roots[r] = struct{}{}
	}
	released := heap.Release(roots, func(core.Ref) bool { return true })
	require.Equal(t, 6, released)

	assert.Equal(t, 6, table.Sweep(heap.IsLive))
	assert.True(t, table.HasWork())
	assert.Equal(t, 1, notifier.n)

	// Sweeping again finds nothing new and does not re-notify
	assert.Equal(t, 0, table.Sweep(heap.IsLive))
	assert.Equal(t, 1, notifier.n)

	require.NoError(t, table.DoWork(context.Background()))
	stats := table.Stats()
	assert.False(t, stats.Pending)
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 0, stats.Dead)
	assert.Equal(t, uint64(6), stats.Cleaned)

	_, ok := table.Lookup("sym-0")
	assert.False(t, ok, "dead entry still visible")
	ref, ok := table.Lookup("sym-7")
	require.True(t, ok)
	assert.Equal(t, refs[7], ref)
}

func TestInternTable_DeadEntryIsReinterned(t *testing.T) {
	heap := NewHeap()
	table := NewInternTable("string_table", heap, InternTableConfig{})

	old := table.Intern("transient")
	heap.Release(nil, func(core.Ref) bool { return true })
	table.Sweep(heap.IsLive)

	fresh := table.Intern("transient")
	assert.NotEqual(t, old, fresh)
	assert.True(t, heap.IsLive(fresh))
}

func TestInternTable_GrowsWhenOverloaded(t *testing.T) {
	heap := NewHeap()
	table := NewInternTable("string_table", heap, InternTableConfig{InitialBuckets: 4, MaxBucketLen: 2})
	notifier := &countingNotifier{}
	table.Bind(notifier)

	for i := range 9 {
		table.Intern(fmt.Sprintf("s%d", i))
	}
	require.True(t, table.HasWork())
	assert.Equal(t, 1, notifier.n)

	require.NoError(t, table.DoWork(context.Background()))
	stats := table.Stats()
	assert.Equal(t, 8, stats.Buckets)
	assert.Equal(t, uint64(1), stats.Rehashes)
	assert.LessOrEqual(t, stats.Load, 2.0)

	for i := range 9 {
		_, ok := table.Lookup(fmt.Sprintf("s%d", i))
		assert.True(t, ok, "s%d lost by rehash", i)
	}
}

// TestSubsystems_ProbesAreIdempotent verifies HasWork has no side effects
func TestSubsystems_ProbesAreIdempotent(t *testing.T) {
	heap := NewHeap()
	table := NewInternTable("string_table", heap, InternTableConfig{InitialBuckets: 1, MaxBucketLen: 1})
	table.Intern("a")
	table.Intern("b")

	gc := NewGCNotifier(0)
	gc.Push(GCNotification{GCName: "young"})

	weak := NewWeakTable("resolved_method_table")
	lowMem := NewLowMemoryDetector()
	dcmd := NewDCmdNotifier()

	sources := []core.WorkSource{table, gc, weak, lowMem, dcmd}
	want := []bool{true, true, false, false, false}
	for round := range 3 {
		for i, src := range sources {
			assert.Equal(t, want[i], src.HasWork(), "round %d source %d", round, i)
		}
	}
	assert.Equal(t, 1, gc.Stats().Pending)
}
