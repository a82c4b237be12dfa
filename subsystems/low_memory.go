package subsystems

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// SensorEvent reports a threshold crossing of a memory pool.
type SensorEvent struct {
	Pool      string `json:"pool"`
	Triggered bool   `json:"triggered"`
	Usage     uint64 `json:"usage"`
	Threshold uint64 `json:"threshold"`

	// Count is the number of times the pool has crossed its threshold.
	Count uint64 `json:"count"`
}

// SensorListener receives sensor changes on the service thread.
type SensorListener func(ctx context.Context, ev SensorEvent) error

// PoolStats is a snapshot of one memory pool.
type PoolStats struct {
	Name      string `json:"name"`
	Usage     uint64 `json:"usage"`
	Threshold uint64 `json:"threshold"`
	Triggered bool   `json:"triggered"`
	Count     uint64 `json:"count"`
}

// memoryPool tracks the usage threshold sensor of one pool.
type memoryPool struct {
	name      string
	threshold uint64
	usage     uint64

	// sensor state as last processed by the service thread
	triggered bool
	count     uint64

	// crossings recorded since the last DoWork
	pendingTrigger int
	pendingClear   int
}

func (p *memoryPool) hasPending() bool {
	return p.pendingTrigger > 0 || p.pendingClear > 0
}

// LowMemoryDetector watches memory pool usage against thresholds. Usage is
// recorded by the collector after each pause; sensor changes are processed and
// listeners invoked on the service thread.
type LowMemoryDetector struct {
	notifyHook

	mu        sync.Mutex
	pools     map[string]*memoryPool
	listeners []SensorListener

	pending atomic.Bool
}

func NewLowMemoryDetector() *LowMemoryDetector {
	return &LowMemoryDetector{pools: make(map[string]*memoryPool)}
}

// AddPool registers a pool with a usage threshold. A zero threshold disables
// the pool's sensor.
func (d *LowMemoryDetector) AddPool(name string, threshold uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pools[name] = &memoryPool{name: name, threshold: threshold}
}

// SetThreshold changes the threshold of a registered pool.
func (d *LowMemoryDetector) SetThreshold(name string, threshold uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pools[name]
	if !ok {
		return fmt.Errorf("unknown memory pool %q", name)
	}
	p.threshold = threshold
	return nil
}

// AddListener registers a listener for sensor changes.
func (d *LowMemoryDetector) AddListener(l SensorListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// RecordUsage updates a pool's usage and records a crossing if the usage moved
// across the threshold relative to the sensor state.
func (d *LowMemoryDetector) RecordUsage(name string, usage uint64) error {
	d.mu.Lock()
	p, ok := d.pools[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown memory pool %q", name)
	}
	p.usage = usage

	above := p.threshold > 0 && usage >= p.threshold
	// effective state includes crossings not yet processed
	state := p.triggered
	if p.pendingTrigger > p.pendingClear {
		state = true
	} else if p.pendingClear > p.pendingTrigger {
		state = false
	}

	changed := false
	switch {
	case above && !state:
		p.pendingTrigger++
		changed = true
	case !above && state:
		p.pendingClear++
		changed = true
	}
	wake := changed && !d.pending.Swap(true)
	d.mu.Unlock()

	if wake {
		d.notify()
	}
	return nil
}

func (d *LowMemoryDetector) HasWork() bool {
	return d.pending.Load()
}

// DoWork applies recorded crossings to the sensors, in pool name order, and
// invokes the listeners with the final state of each changed pool.
func (d *LowMemoryDetector) DoWork(ctx context.Context) error {
	d.pending.Store(false)

	d.mu.Lock()
	var events []SensorEvent
	for _, p := range d.pools {
		if !p.hasPending() {
			continue
		}
		p.count += uint64(p.pendingTrigger)
		if p.pendingTrigger > p.pendingClear {
			p.triggered = true
		} else if p.pendingClear > p.pendingTrigger {
			p.triggered = false
		}
		p.pendingTrigger, p.pendingClear = 0, 0
		events = append(events, SensorEvent{
			Pool:      p.name,
			Triggered: p.triggered,
			Usage:     p.usage,
			Threshold: p.threshold,
			Count:     p.count,
		})
	}
	listeners := append([]SensorListener(nil), d.listeners...)
	d.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Pool < events[j].Pool })

	for _, ev := range events {
		for _, l := range listeners {
			if err := l(ctx, ev); err != nil {
				return fmt.Errorf("low memory listener for pool %s: %w", ev.Pool, err)
			}
		}
	}
	return nil
}

// Pools returns a snapshot of every pool, sorted by name.
func (d *LowMemoryDetector) Pools() []PoolStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PoolStats, 0, len(d.pools))
	for _, p := range d.pools {
		out = append(out, PoolStats{
			Name:      p.name,
			Usage:     p.usage,
			Threshold: p.threshold,
			Triggered: p.triggered,
			Count:     p.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
