package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotStarted is the panic value of EnqueueDeferredEvent before Start.
// Nothing would ever drain the event, so this is a startup-ordering bug.
var ErrNotStarted = errors.New("cannot enqueue deferred events before the service thread runs")

// ErrStopped is returned for events enqueued after the run loop exited.
var ErrStopped = errors.New("cannot enqueue deferred events after the service thread stopped")

// DispatchError reports a failed dispatch step. It is always fatal.
type DispatchError struct {
	Source  SourceKind
	EventID string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("service thread: %s (event %s): %v", e.Source, e.EventID, e.Err)
	}
	return fmt.Sprintf("service thread: %s: %v", e.Source, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ServiceThread binds a dedicated goroutine, locked to its own OS thread, that
// serializes low-priority runtime maintenance work.
//
// Each iteration:
//  1. parks itself for safepoint purposes, takes the coordination lock, and
//     waits until any source has work;
//  2. evaluates every source once, in SourceKind order, and dequeues at most one
//     deferred event;
//  3. releases the lock, leaves the parked region, and performs the work of every
//     source that fired, in SourceKind order.
//
// The coordination lock guards the deferred event queue, the in-flight event
// slot and the wait condition. There is no shutdown: the loop runs until the
// process exits, or until a dispatch failure is handed to the FatalHandler.
type ServiceThread struct {
	name    string
	sources Sources
	poster  EventPoster

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *DeferredEventQueue
	inFlight *DeferredEvent
	stopped  bool

	safepoint   *Safepoint
	participant *Participant

	startOnce sync.Once
	started   atomic.Bool
	running   atomic.Bool
	waiting   atomic.Bool
	done      chan struct{}

	iterations atomic.Uint64
	wakeups    atomic.Uint64
	delivered  atomic.Uint64

	logger       Logger
	metrics      Metrics
	fatalHandler FatalHandler
	history      *dispatchHistory
}

// NewServiceThread creates a service thread. It does not start it.
func NewServiceThread(config *ServiceThreadConfig) *ServiceThread {
	if config == nil {
		config = DefaultServiceThreadConfig()
	}

	t := &ServiceThread{
		name:         config.Name,
		sources:      config.Sources,
		poster:       config.Poster,
		queue:        NewDeferredEventQueue(),
		safepoint:    config.Safepoint,
		done:         make(chan struct{}),
		logger:       config.Logger,
		metrics:      config.Metrics,
		fatalHandler: config.FatalHandler,
		history:      newDispatchHistory(config.HistoryCapacity),
	}
	t.cond = sync.NewCond(&t.mu)

	// Use defaults if not provided
	if t.name == "" {
		t.name = defaultServiceThreadName
	}
	if t.metrics == nil {
		t.metrics = &NilMetrics{}
	}
	if t.safepoint == nil {
		t.safepoint = NewSafepoint(t.metrics)
	}
	if t.logger == nil {
		t.logger = NewNoOpLogger()
	}
	if t.fatalHandler == nil {
		t.fatalHandler = &DefaultFatalHandler{}
	}

	return t
}

// Start registers the thread with its Safepoint and spawns the run loop.
// It returns once the loop is running. Repeated calls are no-ops.
func (t *ServiceThread) Start() {
	t.startOnce.Do(func() {
		t.participant = t.safepoint.Register(t.name)
		ready := make(chan struct{})
		go t.run(ready)
		<-ready
	})
}

// Name returns the thread name.
func (t *ServiceThread) Name() string { return t.name }

// Safepoint returns the pause coordinator the thread cooperates with.
func (t *ServiceThread) Safepoint() *Safepoint { return t.safepoint }

// IsStarted reports whether Start has completed.
func (t *ServiceThread) IsStarted() bool { return t.started.Load() }

// IsRunning reports whether the run loop is alive.
func (t *ServiceThread) IsRunning() bool { return t.running.Load() }

// IsWaiting reports whether the loop is blocked waiting for work.
func (t *ServiceThread) IsWaiting() bool { return t.waiting.Load() }

// Done is closed when the run loop exits after a fatal failure.
func (t *ServiceThread) Done() <-chan struct{} { return t.done }

// QueueLen returns the number of queued deferred events. Lock-free hint.
func (t *ServiceThread) QueueLen() int { return t.queue.Len() }

// EnqueueDeferredEvent hands ev to the service thread for delivery.
// Callable from any goroutine. It panics with ErrNotStarted before Start and
// with ErrStopped once the run loop has exited.
func (t *ServiceThread) EnqueueDeferredEvent(ev DeferredEvent) {
	if err := t.TryEnqueueDeferredEvent(ev); err != nil {
		panic(err)
	}
}

// TryEnqueueDeferredEvent is EnqueueDeferredEvent for callers that outlive
// the thread. It returns ErrNotStarted or ErrStopped instead of panicking; the
// event is not queued in either case.
func (t *ServiceThread) TryEnqueueDeferredEvent(ev DeferredEvent) error {
	t.mu.Lock()
	if !t.started.Load() {
		t.mu.Unlock()
		return ErrNotStarted
	}
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	t.queue.Enqueue(ev)
	depth := t.queue.Len()
	t.cond.Broadcast()
	t.mu.Unlock()

	t.metrics.RecordQueueDepth(t.name, depth)
	return nil
}

// Notify wakes the service thread so it re-evaluates every source.
// Subsystems call it after making work pending.
func (t *ServiceThread) Notify() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// ScanRefs visits every reference owned by the event being delivered, if any,
// and by every queued event. It takes the coordination lock.
func (t *ServiceThread) ScanRefs(v RefVisitor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight != nil {
		t.inFlight.ScanRefs(v)
	}
	t.queue.ScanRefs(v)
}

// Stats returns a snapshot of the thread state.
func (t *ServiceThread) Stats() ServiceThreadStats {
	t.mu.Lock()
	pending := t.queue.Len()
	delivering := t.inFlight != nil
	enqueued := t.queue.Enqueued()
	t.mu.Unlock()

	stats := ServiceThreadStats{
		Name:       t.name,
		Started:    t.started.Load(),
		Running:    t.running.Load(),
		Waiting:    t.waiting.Load(),
		Pending:    pending,
		Delivering: delivering,
		Iterations: t.iterations.Load(),
		Wakeups:    t.wakeups.Load(),
		Enqueued:   enqueued,
		Delivered:  t.delivered.Load(),
	}
	if last, ok := t.history.Last(); ok {
		stats.LastSource = last.Source.String()
		stats.LastWorkAt = last.FinishedAt
	}
	return stats
}

// RecentDispatches returns up to limit dispatch records, newest first.
func (t *ServiceThread) RecentDispatches(limit int) []DispatchRecord {
	return t.history.Recent(limit)
}

// run is the core of this thread, it occupies a dedicated goroutine
func (t *ServiceThread) run(ready chan<- struct{}) {
	// Never unlocked: the OS thread exits with the goroutine.
	runtime.LockOSThread()

	defer close(t.done)
	defer t.running.Store(false)
	defer t.participant.Unregister()
	defer t.markStopped()

	ctx := context.WithValue(context.Background(), serviceThreadKey, t)
	ctx = WithParticipant(ctx, t.participant)

	t.running.Store(true)
	t.started.Store(true)
	close(ready)

	t.logger.Info("service thread started", F("thread", t.name))

	for {
		if err := t.iterate(ctx); err != nil {
			t.logger.Error("service thread dispatch failed", F("thread", t.name), F("error", err))
			t.fatalHandler.HandleFatal(t.name, err)
			return
		}
	}
}

func (t *ServiceThread) markStopped() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// iterate runs one WAITING, SNAPSHOTTING, DISPATCHING cycle.
func (t *ServiceThread) iterate(ctx context.Context) error {
	pending, event, depth := t.awaitWork()
	if event != nil {
		t.metrics.RecordQueueDepth(t.name, depth)
	}
	iteration := t.iterations.Add(1)
	t.metrics.RecordIteration(t.name, len(pending.kinds()))
	return t.dispatch(ctx, iteration, &pending, event)
}

// awaitWork blocks until a source has work and returns the snapshot, plus the
// dequeued event and the remaining queue depth if the deferred event source
// fired. No lock other than the coordination lock is taken while parked.
func (t *ServiceThread) awaitWork() (pending pendingSet, event *DeferredEvent, depth int) {
	// Deferred in this order, the lock is released before the parked region is
	// left; leaving it may block on a pause, which must not happen under the lock.
	region := t.participant.Park()
	defer region.Exit()

	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		pending = t.probeLocked()
		if pending.any() {
			break
		}
		t.waiting.Store(true)
		t.cond.Wait()
		t.waiting.Store(false)
		t.wakeups.Add(1)
	}

	if pending[SourceDeferredEvents] {
		ev := t.queue.Dequeue()
		event = &ev
		t.inFlight = event
		depth = t.queue.Len()
	}
	return pending, event, depth
}

// probeLocked evaluates every source exactly once, in SourceKind order.
func (t *ServiceThread) probeLocked() pendingSet {
	var p pendingSet
	for k := range numSources {
		if k == SourceDeferredEvents {
			p[k] = t.queue.HasEvents()
			continue
		}
		if src := t.sources.lookup(k); src != nil {
			p[k] = src.HasWork()
		}
	}
	return p
}

func (t *ServiceThread) dispatch(ctx context.Context, iteration uint64, pending *pendingSet, event *DeferredEvent) error {
	for k := range numSources {
		if !pending[k] {
			continue
		}

		t.participant.Poll()

		rec := DispatchRecord{Iteration: iteration, Source: k, StartedAt: time.Now()}
		var err error
		if k == SourceDeferredEvents {
			rec.EventID = event.ID().String()
			rec.EventKind = event.Kind()
			err = t.deliver(ctx, event)
		} else {
			err = t.sources.lookup(k).DoWork(ctx)
		}
		rec.FinishedAt = time.Now()
		rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)

		if err != nil {
			rec.Err = err.Error()
			t.history.Add(rec)
			t.metrics.RecordDispatchFailure(t.name, k)
			return &DispatchError{Source: k, EventID: rec.EventID, Err: err}
		}

		t.history.Add(rec)
		t.metrics.RecordDispatch(t.name, k, rec.Duration)
		t.logger.Debug("service thread dispatched",
			F("thread", t.name),
			F("iteration", iteration),
			F("source", k.String()),
			F("duration", rec.Duration))
	}
	return nil
}

// deliver posts ev and then clears the in-flight slot.
func (t *ServiceThread) deliver(ctx context.Context, ev *DeferredEvent) error {
	defer t.clearInFlight()

	if t.poster == nil {
		return fmt.Errorf("no event poster for %s event", ev.Kind())
	}
	if err := ev.Post(ctx, t.poster); err != nil {
		return err
	}
	t.delivered.Add(1)
	t.metrics.RecordEventLatency(t.name, ev.Kind(), time.Since(ev.EnqueuedAt()))
	return nil
}

func (t *ServiceThread) clearInFlight() {
	t.mu.Lock()
	t.inFlight = nil
	t.mu.Unlock()
}

// =============================================================================
// Context Helper
// =============================================================================

type serviceThreadKeyType struct{}

var serviceThreadKey serviceThreadKeyType

// GetCurrentServiceThread returns the service thread running the current work,
// or nil when called outside of it.
func GetCurrentServiceThread(ctx context.Context) *ServiceThread {
	if v := ctx.Value(serviceThreadKey); v != nil {
		return v.(*ServiceThread)
	}
	return nil
}
