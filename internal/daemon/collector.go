package daemon

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/Swind/go-service-thread/core"
	"github.com/Swind/go-service-thread/subsystems"
)

const (
	defaultCollectorInterval = 2 * time.Second
	defaultPauseTimeout      = time.Second
)

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Interval       time.Duration
	PauseTimeout   time.Duration
	ReleasePercent int
	GCName         string
}

// CycleResult describes one collection.
type CycleResult struct {
	Sequence    uint64        `json:"sequence"`
	Cause       string        `json:"cause"`
	Roots       int           `json:"roots"`
	Released    int           `json:"released"`
	DeadEntries int           `json:"dead_entries"`
	LiveBefore  int           `json:"live_before"`
	LiveAfter   int           `json:"live_after"`
	Pause       time.Duration `json:"pause"`
}

// Collector stands in for the garbage collector: it stops all participants,
// treats the service thread's references as roots, releases a share of the
// other objects, and sweeps the weak tables. After the pause it feeds memory
// usage to the low-memory detector and posts a GC notification.
type Collector struct {
	rt   *Runtime
	opts CollectorOptions

	// serializes cycles from the ticker and the admin server
	mu sync.Mutex
}

func NewCollector(rt *Runtime, opts CollectorOptions) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = defaultCollectorInterval
	}
	if opts.PauseTimeout <= 0 {
		opts.PauseTimeout = defaultPauseTimeout
	}
	if opts.GCName == "" {
		opts.GCName = "synthetic"
	}
	return &Collector{rt: rt, opts: opts}
}

// Run collects every interval until ctx is done. A pause that cannot be
// reached within the timeout is logged and skipped.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Collect(ctx, "periodic"); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.rt.logger.Warn("collection skipped", core.F("error", err))
			}
		}
	}
}

// Collect runs one collection.
func (c *Collector) Collect(ctx context.Context, cause string) (CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt := c.rt
	res := CycleResult{Cause: cause, LiveBefore: rt.Heap.Live()}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	pctx, cancel := context.WithTimeout(ctx, c.opts.PauseTimeout)
	defer cancel()

	started := time.Now()
	err := rt.Safepoint.Do(pctx, func() {
		roots := make(map[core.Ref]struct{})
		rt.Thread.ScanRefs(core.RefVisitorFunc(func(ref *core.Ref) {
			roots[*ref] = struct{}{}
		}))
		res.Roots = len(roots)
		res.Released = rt.Heap.Release(roots, c.shouldRelease)

		res.DeadEntries += rt.StringTable.Sweep(rt.Heap.IsLive)
		res.DeadEntries += rt.SymbolTable.Sweep(rt.Heap.IsLive)
		res.DeadEntries += rt.ResolvedMethodTable.Sweep(rt.Heap.IsLive)
		res.DeadEntries += rt.ProtectionDomainTable.Sweep(rt.Heap.IsLive)
	})
	if err != nil {
		return res, fmt.Errorf("collect: %w", err)
	}
	res.Pause = time.Since(started)
	res.LiveAfter = rt.Heap.Live()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	if err := rt.LowMemory.RecordUsage(PoolHeap, after.HeapInuse); err != nil {
		return res, err
	}
	if err := rt.LowMemory.RecordUsage(PoolStack, after.StackInuse); err != nil {
		return res, err
	}

	n := rt.GCNotifier.Push(subsystems.GCNotification{
		GCName:      c.opts.GCName,
		Cause:       cause,
		StartedAt:   started,
		Duration:    res.Pause,
		UsageBefore: before.HeapAlloc,
		UsageAfter:  after.HeapAlloc,
	})
	res.Sequence = n.Sequence

	rt.logger.Debug("collection finished",
		core.F("sequence", res.Sequence),
		core.F("cause", cause),
		core.F("roots", res.Roots),
		core.F("released", res.Released),
		core.F("dead_entries", res.DeadEntries),
		core.F("pause", res.Pause))
	return res, nil
}

func (c *Collector) shouldRelease(core.Ref) bool {
	switch {
	case c.opts.ReleasePercent <= 0:
		return false
	case c.opts.ReleasePercent >= 100:
		return true
	default:
		return rand.IntN(100) < c.opts.ReleasePercent
	}
}
