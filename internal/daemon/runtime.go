// Package daemon hosts a service thread together with its subsystems, a
// synthetic collector that drives pauses, synthetic producers, and an admin
// HTTP server.
package daemon

import (
	"context"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-service-thread/config"
	"github.com/Swind/go-service-thread/core"
	promexp "github.com/Swind/go-service-thread/observability/prometheus"
	"github.com/Swind/go-service-thread/subsystems"
)

// Memory pool names fed by the collector.
const (
	PoolHeap  = "heap"
	PoolStack = "stack"
)

// Runtime is the wired set of components a daemon runs.
type Runtime struct {
	cfg    *config.Config
	logger core.Logger

	Registry  *prom.Registry
	Exporter  *promexp.MetricsExporter
	Poller    *promexp.SnapshotPoller
	Heap      *subsystems.Heap
	Safepoint *core.Safepoint
	Thread    *core.ServiceThread

	StringTable           *subsystems.InternTable
	SymbolTable           *subsystems.InternTable
	ResolvedMethodTable   *subsystems.WeakTable
	ProtectionDomainTable *subsystems.WeakTable
	LowMemory             *subsystems.LowMemoryDetector
	GCNotifier            *subsystems.GCNotifier
	DCmdNotifier          *subsystems.DCmdNotifier
	Agents                *subsystems.AgentDispatcher

	Collector *Collector
	Events    *EventLog

	fatal chan error
}

// New wires a Runtime from cfg. Nothing runs until Run.
func New(cfg *config.Config, logger core.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		Registry: prom.NewRegistry(),
		Heap:     subsystems.NewHeap(),
		Events:   NewEventLog(256),
		fatal:    make(chan error, 1),
	}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var metrics core.Metrics = &core.NilMetrics{}
	if cfg.Metrics.Enabled {
		exporter, err := promexp.NewMetricsExporter(cfg.Metrics.Namespace, rt.Registry, promexp.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		poller, err := promexp.NewSnapshotPoller(cfg.Metrics.Namespace, rt.Registry,
			time.Duration(cfg.Metrics.PollIntervalMs)*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("snapshot poller: %w", err)
		}
		rt.Exporter, rt.Poller = exporter, poller
		metrics = exporter
	}

	rt.Safepoint = core.NewSafepoint(metrics)

	tables := subsystems.InternTableConfig{
		InitialBuckets: cfg.Tables.InitialBuckets,
		MaxBucketLen:   cfg.Tables.MaxBucketLen,
		DeadRatio:      cfg.Tables.DeadRatio,
		MinDead:        cfg.Tables.MinDead,
	}
	rt.StringTable = subsystems.NewInternTable(core.SourceStringTable.String(), rt.Heap, tables)
	rt.SymbolTable = subsystems.NewInternTable(core.SourceSymbolTable.String(), rt.Heap, tables)
	rt.ResolvedMethodTable = subsystems.NewWeakTable(core.SourceResolvedMethodTable.String())
	rt.ProtectionDomainTable = subsystems.NewWeakTable(core.SourceProtectionDomainTable.String())
	rt.LowMemory = subsystems.NewLowMemoryDetector()
	rt.LowMemory.AddPool(PoolHeap, cfg.LowMemory.HeapThresholdBytes)
	rt.LowMemory.AddPool(PoolStack, cfg.LowMemory.StackThresholdBytes)
	rt.GCNotifier = subsystems.NewGCNotifier(cfg.Collector.NotificationCapacity)
	rt.DCmdNotifier = subsystems.NewDCmdNotifier()
	rt.Agents = subsystems.NewAgentDispatcher()

	rt.installListeners()

	threadCfg := core.DefaultServiceThreadConfig()
	threadCfg.Name = cfg.ServiceThread.Name
	threadCfg.HistoryCapacity = cfg.ServiceThread.HistoryCapacity
	threadCfg.Safepoint = rt.Safepoint
	threadCfg.Logger = logger
	threadCfg.Metrics = metrics
	threadCfg.FatalHandler = &fatalRelay{logger: logger, ch: rt.fatal}
	threadCfg.Poster = rt.Agents
	threadCfg.Sources = core.Sources{
		StringTable:           rt.StringTable,
		SymbolTable:           rt.SymbolTable,
		LowMemory:             rt.LowMemory,
		GCNotification:        rt.GCNotifier,
		DCmdNotification:      rt.DCmdNotifier,
		ResolvedMethodTable:   rt.ResolvedMethodTable,
		ProtectionDomainTable: rt.ProtectionDomainTable,
	}
	rt.Thread = core.NewServiceThread(threadCfg)

	rt.StringTable.Bind(rt.Thread)
	rt.SymbolTable.Bind(rt.Thread)
	rt.ResolvedMethodTable.Bind(rt.Thread)
	rt.ProtectionDomainTable.Bind(rt.Thread)
	rt.LowMemory.Bind(rt.Thread)
	rt.GCNotifier.Bind(rt.Thread)
	rt.DCmdNotifier.Bind(rt.Thread)

	rt.Collector = NewCollector(rt, CollectorOptions{
		Interval:       time.Duration(cfg.Collector.IntervalMs) * time.Millisecond,
		PauseTimeout:   time.Duration(cfg.Collector.PauseTimeoutMs) * time.Millisecond,
		ReleasePercent: cfg.Collector.ReleasePercent,
		GCName:         cfg.Collector.GCName,
	})

	if rt.Poller != nil {
		rt.Poller.AddThread(rt.Thread.Name(), rt.Thread)
		rt.Poller.SetSafepoint(rt.Safepoint)
		rt.Poller.AddBacklog(core.SourceStringTable.String(), func() int { return rt.StringTable.Stats().Dead })
		rt.Poller.AddBacklog(core.SourceSymbolTable.String(), func() int { return rt.SymbolTable.Stats().Dead })
		rt.Poller.AddBacklog(core.SourceResolvedMethodTable.String(), func() int { return rt.ResolvedMethodTable.Stats().Dead })
		rt.Poller.AddBacklog(core.SourceProtectionDomainTable.String(), func() int { return rt.ProtectionDomainTable.Stats().Dead })
		rt.Poller.AddBacklog(core.SourceGCNotification.String(), func() int { return rt.GCNotifier.Stats().Pending })
		rt.Poller.AddBacklog(core.SourceDCmdNotification.String(), rt.DCmdNotifier.Pending)
	}

	return rt, nil
}

// installListeners records subsystem output in the event log.
func (rt *Runtime) installListeners() {
	rt.GCNotifier.AddListener(func(ctx context.Context, n subsystems.GCNotification) error {
		rt.Events.Add("gc", fmt.Sprintf("#%d %s (%s) %s", n.Sequence, n.GCName, n.Cause, n.Duration))
		return nil
	})
	rt.DCmdNotifier.AddListener(func(ctx context.Context, command string) error {
		rt.Events.Add("dcmd", command)
		return nil
	})
	rt.LowMemory.AddListener(func(ctx context.Context, ev subsystems.SensorEvent) error {
		state := "cleared"
		if ev.Triggered {
			state = "triggered"
			rt.logger.Warn("memory pool above threshold",
				core.F("pool", ev.Pool), core.F("usage", ev.Usage), core.F("threshold", ev.Threshold))
		}
		rt.Events.Add("low_memory", fmt.Sprintf("%s %s count=%d", ev.Pool, state, ev.Count))
		return nil
	})
	rt.Agents.Register(subsystems.Agent{
		Name: "event-log",
		CompiledMethodLoad: func(ctx context.Context, ev core.CompiledMethodLoad) error {
			rt.Events.Add("compiled_method_load", ev.Name)
			return nil
		},
		CompiledMethodUnload: func(ctx context.Context, ev core.CompiledMethodUnload) error {
			rt.Events.Add("compiled_method_unload", fmt.Sprintf("method %d", ev.MethodID))
			return nil
		},
		DynamicCodeGenerated: func(ctx context.Context, ev core.DynamicCodeGenerated) error {
			rt.Events.Add("dynamic_code_generated", ev.Name)
			return nil
		},
	})
}

// Config returns the configuration the runtime was built with.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Run starts the service thread and runs the enabled components until ctx is
// canceled or the service thread fails. A service thread failure is returned.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.Thread.Start()
	rt.logger.Info("runtime started",
		core.F("thread", rt.Thread.Name()),
		core.F("collector", rt.cfg.Collector.Enabled),
		core.F("producers", rt.cfg.Producers.Count))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-rt.fatal:
			return fmt.Errorf("service thread failed: %w", err)
		}
	})

	if rt.Poller != nil {
		rt.Poller.Start(gctx)
		defer rt.Poller.Stop()
	}

	if rt.cfg.Collector.Enabled {
		g.Go(func() error { return rt.Collector.Run(gctx) })
	}

	if rt.cfg.Producers.Enabled {
		for i := range rt.cfg.Producers.Count {
			p := NewProducer(rt, i, ProducerOptions{
				Interval: time.Duration(rt.cfg.Producers.IntervalMs) * time.Millisecond,
				Batch:    rt.cfg.Producers.Batch,
			})
			g.Go(func() error { return p.Run(gctx) })
		}
	}

	if rt.cfg.Admin.Enabled {
		admin := NewAdminServer(rt, rt.cfg.Admin.Addr)
		g.Go(func() error { return admin.Serve(gctx) })
	}

	err := g.Wait()
	rt.logger.Info("runtime stopped", core.F("error", err))
	return err
}

// fatalRelay hands the service thread's fatal failure to Run instead of
// crashing the process.
type fatalRelay struct {
	logger core.Logger
	ch     chan error
}

func (f *fatalRelay) HandleFatal(threadName string, err error) {
	f.logger.Error("service thread fatal failure", core.F("thread", threadName), core.F("error", err))
	select {
	case f.ch <- err:
	default:
	}
}
