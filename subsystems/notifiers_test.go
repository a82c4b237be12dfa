package subsystems

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-service-thread/core"
)

func TestGCNotifier_SendsAllPending(t *testing.T) {
	g := NewGCNotifier(0)
	notifier := &countingNotifier{}
	g.Bind(notifier)

	var got []GCNotification
	g.AddListener(func(ctx context.Context, n GCNotification) error {
		got = append(got, n)
		return nil
	})

	first := g.Push(GCNotification{GCName: "young", Cause: "allocation failure"})
	g.Push(GCNotification{GCName: "old", Cause: "system gc"})
	assert.Equal(t, 1, notifier.n, "only the first push wakes the thread")
	assert.NotEqual(t, uuid.Nil, first.ID)

	require.True(t, g.HasWork())
	require.NoError(t, g.DoWork(context.Background()))
	assert.False(t, g.HasWork())

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Sequence)
	assert.Equal(t, "old", got[1].GCName)
	assert.Equal(t, GCNotifierStats{Pushed: 2, Sent: 2}, g.Stats())
}

func TestGCNotifier_DropsOldestWhenFull(t *testing.T) {
	g := NewGCNotifier(2)
	for range 3 {
		g.Push(GCNotification{GCName: "young"})
	}

	var seqs []uint64
	g.AddListener(func(ctx context.Context, n GCNotification) error {
		seqs = append(seqs, n.Sequence)
		return nil
	})
	require.NoError(t, g.DoWork(context.Background()))
	assert.Equal(t, []uint64{2, 3}, seqs)
	assert.Equal(t, uint64(1), g.Stats().Dropped)
}

func TestDCmdNotifier_CoalescesCommands(t *testing.T) {
	d := NewDCmdNotifier()
	var got []string
	d.AddListener(func(ctx context.Context, cmd string) error {
		got = append(got, cmd)
		return nil
	})

	d.Post("GC.run")
	d.Post("Thread.print")
	d.Post("GC.run")
	assert.Equal(t, 2, d.Pending())

	require.NoError(t, d.DoWork(context.Background()))
	assert.Equal(t, []string{"GC.run", "Thread.print"}, got)
	assert.Equal(t, uint64(2), d.Sent())
	assert.False(t, d.HasWork())

	errFail := errors.New("listener failed")
	d.AddListener(func(context.Context, string) error { return errFail })
	d.Post("VM.info")
	assert.ErrorIs(t, d.DoWork(context.Background()), errFail)
}

func TestAgentDispatcher_FansOutByKind(t *testing.T) {
	d := NewAgentDispatcher()
	var calls []string
	d.Register(Agent{
		Name: "profiler",
		CompiledMethodLoad: func(ctx context.Context, ev core.CompiledMethodLoad) error {
			calls = append(calls, "profiler:"+ev.Name)
			return nil
		},
	})
	d.Register(Agent{
		Name: "debugger",
		CompiledMethodLoad: func(ctx context.Context, ev core.CompiledMethodLoad) error {
			calls = append(calls, "debugger:"+ev.Name)
			return nil
		},
		DynamicCodeGenerated: func(ctx context.Context, ev core.DynamicCodeGenerated) error {
			calls = append(calls, "debugger:"+ev.Name)
			return nil
		},
	})

	ctx := context.Background()
	load := core.NewCompiledMethodLoadEvent(core.CompiledMethodLoad{Method: 1, Name: "foo"})
	stub := core.NewDynamicCodeGeneratedEvent(core.DynamicCodeGenerated{Name: "stub"})
	unload := core.NewCompiledMethodUnloadEvent(core.CompiledMethodUnload{MethodID: 1})
	require.NoError(t, load.Post(ctx, d))
	require.NoError(t, stub.Post(ctx, d))
	require.NoError(t, unload.Post(ctx, d))

	assert.Equal(t, []string{"profiler:foo", "debugger:foo", "debugger:stub"}, calls)
	assert.Equal(t, AgentStats{Agents: 2, CompiledMethodLoad: 1, CompiledMethodUnload: 1, DynamicCodeGenerated: 1}, d.Stats())
}

func TestAgentDispatcher_ErrorNamesAgent(t *testing.T) {
	d := NewAgentDispatcher()
	errAgent := errors.New("buffer full")
	d.Register(Agent{
		Name: "tracer",
		CompiledMethodUnload: func(context.Context, core.CompiledMethodUnload) error {
			return errAgent
		},
	})

	err := d.PostCompiledMethodUnload(context.Background(), core.CompiledMethodUnload{MethodID: 9})
	require.ErrorIs(t, err, errAgent)
	assert.Contains(t, err.Error(), "tracer")
	assert.Equal(t, uint64(0), d.Stats().CompiledMethodUnload)
}
