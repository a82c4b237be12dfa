package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-service-thread/core"
)

// ThreadSnapshotProvider provides current service thread stats snapshots.
type ThreadSnapshotProvider interface {
	Stats() core.ServiceThreadStats
}

// SafepointSnapshotProvider provides current safepoint stats snapshots.
type SafepointSnapshotProvider interface {
	Stats() core.SafepointStats
}

// BacklogFunc reports how much work a subsystem holds.
type BacklogFunc func() int

// SnapshotPoller periodically exports service thread, safepoint and subsystem
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	threadsMu sync.RWMutex
	threads   map[string]ThreadSnapshotProvider

	safepointMu sync.RWMutex
	safepoint   SafepointSnapshotProvider

	backlogsMu sync.RWMutex
	backlogs   map[string]BacklogFunc

	threadRunning    *prom.GaugeVec
	threadWaiting    *prom.GaugeVec
	threadPending    *prom.GaugeVec
	threadDelivering *prom.GaugeVec
	threadIterations *prom.GaugeVec
	threadWakeups    *prom.GaugeVec
	threadDelivered  *prom.GaugeVec

	safepointParticipants prom.Gauge
	safepointParked       prom.Gauge
	safepointInProgress   prom.Gauge
	safepointPauses       prom.Gauge

	subsystemBacklog *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	threadGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"thread"})
	}
	safepointGauge := func(name, help string) prom.Gauge {
		return prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	p := &SnapshotPoller{
		interval: interval,
		threads:  make(map[string]ThreadSnapshotProvider),
		backlogs: make(map[string]BacklogFunc),

		threadRunning:    threadGauge("thread_running", "Service thread run loop state (1=running, 0=exited)."),
		threadWaiting:    threadGauge("thread_waiting", "Service thread waiting for work (1=waiting)."),
		threadPending:    threadGauge("thread_pending_events", "Deferred events queued per thread."),
		threadDelivering: threadGauge("thread_delivering", "Deferred event delivery in progress (1=delivering)."),
		threadIterations: threadGauge("thread_iterations", "Service thread iteration count snapshot."),
		threadWakeups:    threadGauge("thread_wakeups", "Service thread wake-up count snapshot."),
		threadDelivered:  threadGauge("thread_delivered_events", "Delivered deferred event count snapshot."),

		safepointParticipants: safepointGauge("safepoint_participants", "Registered safepoint participants."),
		safepointParked:       safepointGauge("safepoint_parked", "Participants in a parked region."),
		safepointInProgress:   safepointGauge("safepoint_in_progress", "Pause state (1=paused, 0=running)."),
		safepointPauses:       safepointGauge("safepoint_pauses", "Completed pause count snapshot."),

		subsystemBacklog: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "subsystem_backlog",
			Help:      "Work held by each maintenance subsystem.",
		}, []string{"subsystem"}),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.threadRunning, &p.threadWaiting, &p.threadPending, &p.threadDelivering,
		&p.threadIterations, &p.threadWakeups, &p.threadDelivered, &p.subsystemBacklog,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	for _, g := range []*prom.Gauge{
		&p.safepointParticipants, &p.safepointParked, &p.safepointInProgress, &p.safepointPauses,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// AddThread adds or replaces a service thread snapshot provider by name.
func (p *SnapshotPoller) AddThread(name string, provider ThreadSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "thread")
	p.threadsMu.Lock()
	p.threads[name] = provider
	p.threadsMu.Unlock()
}

// SetSafepoint sets the safepoint snapshot provider.
func (p *SnapshotPoller) SetSafepoint(provider SafepointSnapshotProvider) {
	if p == nil {
		return
	}
	p.safepointMu.Lock()
	p.safepoint = provider
	p.safepointMu.Unlock()
}

// AddBacklog adds or replaces a subsystem backlog provider by name.
func (p *SnapshotPoller) AddBacklog(name string, fn BacklogFunc) {
	if p == nil || fn == nil {
		return
	}
	name = normalizeLabel(name, "subsystem")
	p.backlogsMu.Lock()
	p.backlogs[name] = fn
	p.backlogsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (p *SnapshotPoller) collectOnce() {
	p.threadsMu.RLock()
	for name, provider := range p.threads {
		stats := provider.Stats()
		p.threadRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
		p.threadWaiting.WithLabelValues(name).Set(boolGauge(stats.Waiting))
		p.threadPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.threadDelivering.WithLabelValues(name).Set(boolGauge(stats.Delivering))
		p.threadIterations.WithLabelValues(name).Set(float64(stats.Iterations))
		p.threadWakeups.WithLabelValues(name).Set(float64(stats.Wakeups))
		p.threadDelivered.WithLabelValues(name).Set(float64(stats.Delivered))
	}
	p.threadsMu.RUnlock()

	p.safepointMu.RLock()
	if p.safepoint != nil {
		stats := p.safepoint.Stats()
		p.safepointParticipants.Set(float64(stats.Participants))
		p.safepointParked.Set(float64(stats.Parked))
		p.safepointInProgress.Set(boolGauge(stats.InProgress))
		p.safepointPauses.Set(float64(stats.Pauses))
	}
	p.safepointMu.RUnlock()

	p.backlogsMu.RLock()
	for name, fn := range p.backlogs {
		p.subsystemBacklog.WithLabelValues(name).Set(float64(fn()))
	}
	p.backlogsMu.RUnlock()
}
