package prometheus

import (
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-service-thread/core"
)

const defaultNamespace = "servicethread"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	LatencyBuckets  []float64
	PauseBuckets    []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	iterationsTotal         *prom.CounterVec
	sourcesFired            *prom.HistogramVec
	dispatchDurationSeconds *prom.HistogramVec
	dispatchFailuresTotal   *prom.CounterVec
	queueDepth              *prom.GaugeVec
	eventLatencySeconds     *prom.HistogramVec
	pauseDurationSeconds    prom.Histogram
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	durationBuckets := opts.DurationBuckets
	if len(durationBuckets) == 0 {
		durationBuckets = prom.DefBuckets
	}
	latencyBuckets := opts.LatencyBuckets
	if len(latencyBuckets) == 0 {
		latencyBuckets = prom.DefBuckets
	}
	pauseBuckets := opts.PauseBuckets
	if len(pauseBuckets) == 0 {
		pauseBuckets = prom.ExponentialBuckets(0.0001, 4, 8)
	}

	iterationsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "iterations_total",
		Help:      "Total number of service thread iterations that found work.",
	}, []string{"thread"})
	firedVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "sources_fired",
		Help:      "Number of sources with work per iteration.",
		Buckets:   prom.LinearBuckets(1, 1, 8),
	}, []string{"thread"})
	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of one source's work in seconds.",
		Buckets:   durationBuckets,
	}, []string{"thread", "source"})
	failuresVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Total number of fatal dispatch failures.",
	}, []string{"thread", "source"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "deferred_queue_depth",
		Help:      "Current deferred event queue depth.",
	}, []string{"thread"})
	latencyVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "event_latency_seconds",
		Help:      "Time from enqueue to delivery of a deferred event in seconds.",
		Buckets:   latencyBuckets,
	}, []string{"thread", "kind"})
	pauseHist := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "safepoint_pause_seconds",
		Help:      "Duration of global pauses in seconds.",
		Buckets:   pauseBuckets,
	})

	var err error
	if iterationsVec, err = registerCollector(reg, iterationsVec); err != nil {
		return nil, err
	}
	if firedVec, err = registerCollector(reg, firedVec); err != nil {
		return nil, err
	}
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failuresVec, err = registerCollector(reg, failuresVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if latencyVec, err = registerCollector(reg, latencyVec); err != nil {
		return nil, err
	}
	if pauseHist, err = registerCollector(reg, pauseHist); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		iterationsTotal:         iterationsVec,
		sourcesFired:            firedVec,
		dispatchDurationSeconds: durationVec,
		dispatchFailuresTotal:   failuresVec,
		queueDepth:              queueDepthVec,
		eventLatencySeconds:     latencyVec,
		pauseDurationSeconds:    pauseHist,
	}, nil
}

// RecordIteration records one iteration and the number of sources that fired.
func (m *MetricsExporter) RecordIteration(threadName string, fired int) {
	if m == nil {
		return
	}
	thread := normalizeLabel(threadName, "unknown")
	m.iterationsTotal.WithLabelValues(thread).Inc()
	m.sourcesFired.WithLabelValues(thread).Observe(float64(fired))
}

// RecordDispatch records one source's work duration.
func (m *MetricsExporter) RecordDispatch(threadName string, source core.SourceKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDurationSeconds.WithLabelValues(normalizeLabel(threadName, "unknown"), source.String()).Observe(duration.Seconds())
}

// RecordDispatchFailure records a fatal dispatch failure.
func (m *MetricsExporter) RecordDispatchFailure(threadName string, source core.SourceKind) {
	if m == nil {
		return
	}
	m.dispatchFailuresTotal.WithLabelValues(normalizeLabel(threadName, "unknown"), source.String()).Inc()
}

// RecordQueueDepth records the deferred event queue depth.
func (m *MetricsExporter) RecordQueueDepth(threadName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(threadName, "unknown")).Set(float64(depth))
}

// RecordEventLatency records enqueue-to-delivery latency.
func (m *MetricsExporter) RecordEventLatency(threadName string, kind core.EventKind, latency time.Duration) {
	if m == nil {
		return
	}
	m.eventLatencySeconds.WithLabelValues(normalizeLabel(threadName, "unknown"), kind.String()).Observe(latency.Seconds())
}

// RecordPause records a completed global pause.
func (m *MetricsExporter) RecordPause(duration time.Duration) {
	if m == nil {
		return
	}
	m.pauseDurationSeconds.Observe(duration.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
