// Package subsystems provides the maintenance subsystems served by a
// core.ServiceThread.
//
// Each subsystem is a core.WorkSource. Producers (application goroutines or the
// collector) make work pending and then wake the service thread through the
// core.Notifier bound with Bind. HasWork only reads atomic state, so it is safe to
// call with the service thread's coordination lock held.
//
// Subsystems:
//   - InternTable: string and symbol interning with weak entries and concurrent cleanup
//   - WeakTable: resolved-method table and protection-domain cache
//   - LowMemoryDetector: memory pool usage thresholds and sensors
//   - GCNotifier: GC notifications for management listeners
//   - DCmdNotifier: diagnostic-command notifications
//   - AgentDispatcher: core.EventPoster delivering deferred events to agents
package subsystems

import (
	"sync/atomic"

	"github.com/Swind/go-service-thread/core"
)

// notifyHook holds the notifier a subsystem wakes after making work pending.
type notifyHook struct {
	notifier atomic.Pointer[core.Notifier]
}

// Bind sets the notifier woken when work becomes pending. Usually the
// service thread serving this subsystem.
func (h *notifyHook) Bind(n core.Notifier) {
	h.notifier.Store(&n)
}

func (h *notifyHook) notify() {
	if n := h.notifier.Load(); n != nil && *n != nil {
		(*n).Notify()
	}
}

// RefAllocator hands out references for newly created objects.
type RefAllocator interface {
	Allocate() core.Ref
}

// LivenessFunc reports whether the object behind a reference is still reachable.
type LivenessFunc func(ref core.Ref) bool
