package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/go-service-thread/core"
)

type threadStub struct {
	stats core.ServiceThreadStats
}

func (s threadStub) Stats() core.ServiceThreadStats { return s.stats }

type safepointStub struct {
	stats core.SafepointStats
}

func (s safepointStub) Stats() core.SafepointStats { return s.stats }

func TestSnapshotPoller_CollectsThreadAndSafepointStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("servicethread", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddThread("thread-a", threadStub{stats: core.ServiceThreadStats{
		Running:    true,
		Waiting:    true,
		Pending:    3,
		Iterations: 12,
		Delivered:  9,
	}})
	poller.SetSafepoint(safepointStub{stats: core.SafepointStats{
		Participants: 4,
		Parked:       1,
		Pauses:       6,
	}})
	poller.AddBacklog("gc_notification", func() int { return 5 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.threadPending.WithLabelValues("thread-a"))
		participants := testutil.ToFloat64(poller.safepointParticipants)
		return pending == 3 && participants == 4
	})

	if got := testutil.ToFloat64(poller.threadRunning.WithLabelValues("thread-a")); got != 1 {
		t.Fatalf("thread running gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.threadDelivering.WithLabelValues("thread-a")); got != 0 {
		t.Fatalf("thread delivering gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.safepointInProgress); got != 0 {
		t.Fatalf("safepoint in progress gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.subsystemBacklog.WithLabelValues("gc_notification")); got != 5 {
		t.Fatalf("backlog gauge = %v, want 5", got)
	}
}

func TestSnapshotPoller_RealServiceThread(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("", reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	thread := core.NewServiceThread(nil)
	thread.Start()
	poller.AddThread(thread.Name(), thread)
	poller.SetSafepoint(thread.Safepoint())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(poller.threadWaiting.WithLabelValues(thread.Name())) == 1 &&
			testutil.ToFloat64(poller.safepointParked) == 1
	})
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller("servicethread", reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
