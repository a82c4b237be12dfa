// Package servicethread provides a runtime service thread for Go.
//
// A service thread is one dedicated, long-lived goroutine, locked to its own OS
// thread, that performs low-priority runtime maintenance away from application
// goroutines: deferred event delivery, GC and diagnostic-command notifications,
// low-memory sensor processing, and concurrent cleanup of interning and weak
// tables. It cooperates with global pauses (safepoints): while it waits for work
// it is parked and never delays a pause, and the references held by undelivered
// events are visible to a pause-time scan.
//
// # Quick Start
//
// Initialize the process-wide service thread at startup:
//
//	servicethread.InitGlobalServiceThread(&core.ServiceThreadConfig{
//		Poster:  agents,
//		Sources: core.Sources{GCNotification: gcNotifier},
//	})
//
// Hand events to it from any goroutine:
//
//	servicethread.EnqueueDeferredEvent(servicethread.NewCompiledMethodLoadEvent(load))
//
// # Key Concepts
//
// ServiceThread: the coordinator. Each iteration it waits until some source has
// work, evaluates every source once in a fixed order, dequeues at most one
// deferred event, and then performs the work of every source that fired, in the
// same order, outside its lock.
//
// WorkSource: a maintenance subsystem with a cheap HasWork probe and a DoWork
// step. The subsystems package provides the standard ones.
//
// Safepoint: the pause coordinator. Goroutines that must stop during a pause
// register as participants, poll between units of work, and park while blocked.
//
// DeferredEvent: an event produced on a latency-sensitive path and delivered to
// agents later by the service thread, in FIFO order.
//
// # Failures
//
// The service thread has no supervisor. A failing subsystem or event delivery is
// handed to the configured FatalHandler and the loop exits. The default handler
// panics.
//
// For more details, see https://github.com/Swind/go-service-thread
package servicethread
