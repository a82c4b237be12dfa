package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// callLog records names in call order across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// fakeSource is a WorkSource whose pending flag is set by the test.
// DoWork clears the flag before running.
type fakeSource struct {
	name    string
	log     *callLog
	err     error
	onWork  func(ctx context.Context)
	pending atomic.Bool
	probes  atomic.Int32
	calls   atomic.Int32
}

func newFakeSource(name string, log *callLog) *fakeSource {
	return &fakeSource{name: name, log: log}
}

func (s *fakeSource) HasWork() bool {
	s.probes.Add(1)
	return s.pending.Load()
}

func (s *fakeSource) DoWork(ctx context.Context) error {
	s.pending.Store(false)
	s.calls.Add(1)
	if s.log != nil {
		s.log.add(s.name)
	}
	if s.onWork != nil {
		s.onWork(ctx)
	}
	return s.err
}

// recordingPoster records delivered compiled-method-load names.
type recordingPoster struct {
	log    *callLog
	onLoad func(ctx context.Context, ev CompiledMethodLoad)
	err    error
	count  atomic.Int32
}

func (p *recordingPoster) PostCompiledMethodLoad(ctx context.Context, ev CompiledMethodLoad) error {
	if p.onLoad != nil {
		p.onLoad(ctx, ev)
	}
	if p.log != nil {
		p.log.add(ev.Name)
	}
	p.count.Add(1)
	return p.err
}

func (p *recordingPoster) PostCompiledMethodUnload(ctx context.Context, ev CompiledMethodUnload) error {
	if p.log != nil {
		p.log.add("unload")
	}
	p.count.Add(1)
	return p.err
}

func (p *recordingPoster) PostDynamicCodeGenerated(ctx context.Context, ev DynamicCodeGenerated) error {
	if p.log != nil {
		p.log.add(ev.Name)
	}
	p.count.Add(1)
	return p.err
}

// recordingFatalHandler captures the fatal error instead of panicking.
type recordingFatalHandler struct {
	mu     sync.Mutex
	err    error
	thread string
	called chan struct{}
}

func newRecordingFatalHandler() *recordingFatalHandler {
	return &recordingFatalHandler{called: make(chan struct{})}
}

func (h *recordingFatalHandler) HandleFatal(threadName string, err error) {
	h.mu.Lock()
	h.err = err
	h.thread = threadName
	h.mu.Unlock()
	close(h.called)
}

func (h *recordingFatalHandler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func loadEvent(name string, method Ref) DeferredEvent {
	return NewCompiledMethodLoadEvent(CompiledMethodLoad{Method: method, Name: name})
}

func newTestConfig(sources Sources, poster EventPoster) *ServiceThreadConfig {
	cfg := DefaultServiceThreadConfig()
	cfg.Name = "test-service-thread"
	cfg.Sources = sources
	cfg.Poster = poster
	cfg.FatalHandler = newRecordingFatalHandler()
	return cfg
}

// newSteppedThread returns a thread that accepts events but has no run loop;
// the test drives it with iterate.
func newSteppedThread(cfg *ServiceThreadConfig) (*ServiceThread, context.Context) {
	thread := NewServiceThread(cfg)
	thread.participant = thread.safepoint.Register(thread.name)
	thread.started.Store(true)
	ctx := context.WithValue(context.Background(), serviceThreadKey, thread)
	return thread, WithParticipant(ctx, thread.participant)
}
