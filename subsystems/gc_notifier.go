package subsystems

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultGCNotificationCapacity = 1024

// GCNotification describes one completed collection.
type GCNotification struct {
	ID          uuid.UUID     `json:"id"`
	Sequence    uint64        `json:"sequence"`
	GCName      string        `json:"gc_name"`
	Cause       string        `json:"cause"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	UsageBefore uint64        `json:"usage_before"`
	UsageAfter  uint64        `json:"usage_after"`
}

// GCListener receives GC notifications on the service thread.
type GCListener func(ctx context.Context, n GCNotification) error

// GCNotifierStats is a snapshot of a GCNotifier.
type GCNotifierStats struct {
	Pending int    `json:"pending"`
	Pushed  uint64 `json:"pushed"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// GCNotifier queues GC notifications pushed by the collector and sends them to
// listeners from the service thread. When the queue is full the oldest pending
// notification is dropped.
type GCNotifier struct {
	notifyHook

	capacity int

	mu        sync.Mutex
	queue     []GCNotification
	listeners []GCListener
	sequence  uint64

	pushed  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
	pending atomic.Bool
}

// NewGCNotifier creates a notifier holding at most capacity pending
// notifications. capacity <= 0 selects the default.
func NewGCNotifier(capacity int) *GCNotifier {
	if capacity <= 0 {
		capacity = defaultGCNotificationCapacity
	}
	return &GCNotifier{capacity: capacity}
}

// AddListener registers a listener.
func (g *GCNotifier) AddListener(l GCListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// Push queues n, assigning its ID and Sequence, and returns the stored value.
func (g *GCNotifier) Push(n GCNotification) GCNotification {
	g.mu.Lock()
	g.sequence++
	n.ID = uuid.New()
	n.Sequence = g.sequence
	if len(g.queue) == g.capacity {
		g.queue[0] = GCNotification{}
		g.queue = g.queue[1:]
		g.dropped.Add(1)
	}
	g.queue = append(g.queue, n)
	g.pushed.Add(1)
	wake := !g.pending.Swap(true)
	g.mu.Unlock()

	if wake {
		g.notify()
	}
	return n
}

func (g *GCNotifier) HasWork() bool {
	return g.pending.Load()
}

// DoWork sends every pending notification, oldest first.
func (g *GCNotifier) DoWork(ctx context.Context) error {
	g.mu.Lock()
	batch := g.queue
	g.queue = nil
	g.pending.Store(false)
	listeners := append([]GCListener(nil), g.listeners...)
	g.mu.Unlock()

	for _, n := range batch {
		for _, l := range listeners {
			if err := l(ctx, n); err != nil {
				return fmt.Errorf("gc notification %d: %w", n.Sequence, err)
			}
		}
		g.sent.Add(1)
	}
	return nil
}

// Stats returns a snapshot of the notifier.
func (g *GCNotifier) Stats() GCNotifierStats {
	g.mu.Lock()
	pending := len(g.queue)
	g.mu.Unlock()
	return GCNotifierStats{
		Pending: pending,
		Pushed:  g.pushed.Load(),
		Sent:    g.sent.Load(),
		Dropped: g.dropped.Load(),
	}
}
