package subsystems

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowMemoryDetector_TriggerAndClear(t *testing.T) {
	d := NewLowMemoryDetector()
	notifier := &countingNotifier{}
	d.Bind(notifier)
	d.AddPool("heap", 100)

	var got []SensorEvent
	d.AddListener(func(ctx context.Context, ev SensorEvent) error {
		got = append(got, ev)
		return nil
	})

	require.NoError(t, d.RecordUsage("heap", 50))
	assert.False(t, d.HasWork())

	require.NoError(t, d.RecordUsage("heap", 150))
	assert.True(t, d.HasWork())
	assert.Equal(t, 1, notifier.n)

	// Still above: no new crossing
	require.NoError(t, d.RecordUsage("heap", 160))

	require.NoError(t, d.DoWork(context.Background()))
	require.Len(t, got, 1)
	assert.True(t, got[0].Triggered)
	assert.Equal(t, uint64(1), got[0].Count)
	assert.Equal(t, uint64(160), got[0].Usage)
	assert.False(t, d.HasWork())

	require.NoError(t, d.RecordUsage("heap", 10))
	require.NoError(t, d.DoWork(context.Background()))
	require.Len(t, got, 2)
	assert.False(t, got[1].Triggered)
	assert.Equal(t, uint64(1), got[1].Count)

	pools := d.Pools()
	require.Len(t, pools, 1)
	assert.False(t, pools[0].Triggered)
}

func TestLowMemoryDetector_CrossingsBetweenRunsAreCounted(t *testing.T) {
	d := NewLowMemoryDetector()
	d.AddPool("old", 100)

	require.NoError(t, d.RecordUsage("old", 200))
	require.NoError(t, d.RecordUsage("old", 50))
	require.NoError(t, d.RecordUsage("old", 200))

	require.NoError(t, d.DoWork(context.Background()))
	pools := d.Pools()
	require.Len(t, pools, 1)
	assert.True(t, pools[0].Triggered)
	assert.Equal(t, uint64(2), pools[0].Count)
}

func TestLowMemoryDetector_Errors(t *testing.T) {
	d := NewLowMemoryDetector()
	assert.Error(t, d.RecordUsage("missing", 1))
	assert.Error(t, d.SetThreshold("missing", 1))

	d.AddPool("heap", 0)
	require.NoError(t, d.RecordUsage("heap", 1<<40))
	assert.False(t, d.HasWork(), "zero threshold must disable the sensor")

	errListener := errors.New("listener failed")
	require.NoError(t, d.SetThreshold("heap", 10))
	d.AddListener(func(context.Context, SensorEvent) error { return errListener })
	require.NoError(t, d.RecordUsage("heap", 20))
	assert.ErrorIs(t, d.DoWork(context.Background()), errListener)
}
