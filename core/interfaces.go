package core

import (
	"fmt"
	"os"
	"time"
)

// =============================================================================
// FatalHandler: Interface for handling unrecoverable service thread failures
// =============================================================================

// FatalHandler is called when a subsystem or event delivery fails on the
// service thread. The service thread has no supervisor and is not restarted:
// after HandleFatal returns, the run loop exits.
type FatalHandler interface {
	// HandleFatal is called once, on the service thread.
	//
	// Parameters:
	// - threadName: The name of the service thread
	// - err: The failure, usually a *DispatchError
	HandleFatal(threadName string, err error)
}

// DefaultFatalHandler prints the failure and panics, terminating the process.
type DefaultFatalHandler struct{}

// HandleFatal prints err to stderr and panics with it.
func (h *DefaultFatalHandler) HandleFatal(threadName string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] fatal: %v\n", threadName, err)
	panic(err)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting service thread metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called on the service thread or the pause requester and should be
// non-blocking and fast.
type Metrics interface {
	// RecordIteration records one wake-up that found work, with the number of
	// sources that fired.
	RecordIteration(threadName string, fired int)

	// RecordDispatch records how long one source's work took.
	RecordDispatch(threadName string, source SourceKind, duration time.Duration)

	// RecordDispatchFailure records a fatal dispatch failure.
	RecordDispatchFailure(threadName string, source SourceKind)

	// RecordQueueDepth records the deferred event queue depth after a dequeue or
	// enqueue.
	RecordQueueDepth(threadName string, depth int)

	// RecordEventLatency records the time from enqueue to delivery of an event.
	RecordEventLatency(threadName string, kind EventKind, latency time.Duration)

	// RecordPause records the duration of a completed global pause.
	RecordPause(duration time.Duration)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordIteration(threadName string, fired int) {}
func (m *NilMetrics) RecordDispatch(threadName string, source SourceKind, duration time.Duration) {
}
func (m *NilMetrics) RecordDispatchFailure(threadName string, source SourceKind) {}
func (m *NilMetrics) RecordQueueDepth(threadName string, depth int)              {}
func (m *NilMetrics) RecordEventLatency(threadName string, kind EventKind, latency time.Duration) {
}
func (m *NilMetrics) RecordPause(duration time.Duration) {}

// =============================================================================
// ServiceThreadConfig: Configuration for ServiceThread
// =============================================================================

const defaultServiceThreadName = "Service Thread"

// ServiceThreadConfig holds configuration options for ServiceThread.
// All handlers are optional; if not provided, default implementations will be used.
type ServiceThreadConfig struct {
	// Name identifies the thread in logs, stats and metrics. Defaults to "Service Thread".
	Name string

	// Sources are the subsystems served besides the deferred event queue.
	Sources Sources

	// Poster delivers deferred events. Required if events are enqueued.
	Poster EventPoster

	// Safepoint is the pause coordinator the thread registers with. Defaults to a
	// private Safepoint.
	Safepoint *Safepoint

	// Logger defaults to NoOpLogger.
	Logger Logger

	// Metrics defaults to NilMetrics.
	Metrics Metrics

	// FatalHandler defaults to DefaultFatalHandler.
	FatalHandler FatalHandler

	// HistoryCapacity bounds RecentDispatches. Defaults to 100.
	HistoryCapacity int
}

// DefaultServiceThreadConfig returns a config with default handlers.
func DefaultServiceThreadConfig() *ServiceThreadConfig {
	return &ServiceThreadConfig{
		Name:            defaultServiceThreadName,
		Logger:          NewNoOpLogger(),
		Metrics:         &NilMetrics{},
		FatalHandler:    &DefaultFatalHandler{},
		HistoryCapacity: defaultDispatchHistoryCapacity,
	}
}
