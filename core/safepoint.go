package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ThreadState is a participant's state as seen by a pause requester.
type ThreadState int32

const (
	// ThreadRunning: the participant may touch shared runtime state.
	ThreadRunning ThreadState = iota

	// ThreadParked: the participant announced it is blocked and can be treated as
	// stopped. It holds no runtime locks and will not touch runtime state until
	// it leaves the parked region, which waits for any pause to end.
	ThreadParked

	// ThreadStopped: the participant reached a poll point during a pause and is
	// waiting for the pause to end.
	ThreadStopped
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadParked:
		return "parked"
	case ThreadStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// =============================================================================
// Safepoint: Global pause coordination
// =============================================================================

// Safepoint brings every registered participant to a quiescent state so that a
// whole-runtime operation (typically a collector scanning roots) can run.
//
// A pause is in effect between a successful Begin and the matching End. During a
// pause every participant is either parked or stopped at a poll point. Only one
// pause runs at a time. The goroutine requesting the pause must not itself be a
// running participant.
type Safepoint struct {
	mu   sync.Mutex
	cond *sync.Cond

	participants map[*Participant]struct{}

	// requested is set from the start of Begin to End; polls read it lock-free.
	requested atomic.Bool
	active    bool
	beganAt   time.Time

	pauses     uint64
	totalPause time.Duration
	lastPause  time.Duration

	metrics Metrics
}

// NewSafepoint creates a pause coordinator. metrics may be nil.
func NewSafepoint(metrics Metrics) *Safepoint {
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	s := &Safepoint{
		participants: make(map[*Participant]struct{}),
		metrics:      metrics,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Register adds a running participant. If a pause is in progress, Register
// blocks until it ends so that no new thread starts running inside a pause.
func (s *Safepoint) Register(name string) *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.requested.Load() {
		s.cond.Wait()
	}

	p := &Participant{sp: s, name: name, state: ThreadRunning}
	s.participants[p] = struct{}{}
	return p
}

// Begin requests a pause and blocks until every participant is parked or
// stopped. If ctx ends first the request is withdrawn and ctx's error returned.
func (s *Safepoint) Begin(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.requested.Load() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("safepoint: waiting for previous pause: %w", err)
		}
		s.cond.Wait()
	}

	s.requested.Store(true)
	startedAt := time.Now()

	for !s.quiescentLocked() {
		if err := ctx.Err(); err != nil {
			s.requested.Store(false)
			s.cond.Broadcast()
			return fmt.Errorf("safepoint: synchronizing: %w", err)
		}
		s.cond.Wait()
	}

	s.active = true
	s.beganAt = startedAt
	return nil
}

// End releases the pause started by Begin. Calling End without an active pause
// is a no-op.
func (s *Safepoint) End() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	d := time.Since(s.beganAt)
	s.active = false
	s.requested.Store(false)
	s.pauses++
	s.totalPause += d
	s.lastPause = d
	s.cond.Broadcast()
	s.mu.Unlock()

	s.metrics.RecordPause(d)
}

// Do runs fn inside a pause.
func (s *Safepoint) Do(ctx context.Context, fn func()) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	defer s.End()
	fn()
	return nil
}

// InProgress reports whether a pause has been requested and not yet ended.
func (s *Safepoint) InProgress() bool {
	return s.requested.Load()
}

// Stats returns a snapshot of the pause coordinator.
func (s *Safepoint) Stats() SafepointStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SafepointStats{
		Participants: len(s.participants),
		InProgress:   s.requested.Load(),
		Pauses:       s.pauses,
		TotalPause:   s.totalPause,
		LastPause:    s.lastPause,
	}
	for p := range s.participants {
		switch p.state {
		case ThreadParked:
			stats.Parked++
		case ThreadStopped:
			stats.Stopped++
		}
	}
	return stats
}

func (s *Safepoint) quiescentLocked() bool {
	for p := range s.participants {
		if p.state == ThreadRunning {
			return false
		}
	}
	return true
}

// =============================================================================
// Participant
// =============================================================================

// Participant is a thread known to the Safepoint. All methods must be called
// from the participant's own goroutine, except State.
type Participant struct {
	sp    *Safepoint
	name  string
	state ThreadState // guarded by sp.mu
}

// Name returns the name given at registration.
func (p *Participant) Name() string { return p.name }

// State returns the participant's current state.
func (p *Participant) State() ThreadState {
	p.sp.mu.Lock()
	defer p.sp.mu.Unlock()
	return p.state
}

// Park publishes the parked marker and returns the region guard. The caller must
// call Exit on every path out of the blocking section, normally with defer.
func (p *Participant) Park() *ParkedRegion {
	s := p.sp
	s.mu.Lock()
	p.state = ThreadParked
	s.cond.Broadcast()
	s.mu.Unlock()
	return &ParkedRegion{p: p}
}

// Poll stops at the current point if a pause is requested and returns when it
// has ended. Without a pending request Poll is a single atomic load.
func (p *Participant) Poll() {
	s := p.sp
	if !s.requested.Load() {
		return
	}

	s.mu.Lock()
	prev := p.state
	p.state = ThreadStopped
	s.cond.Broadcast()
	for s.requested.Load() {
		s.cond.Wait()
	}
	p.state = prev
	s.mu.Unlock()
}

// Unregister removes the participant. A pause waiting on it can then complete.
func (p *Participant) Unregister() {
	s := p.sp
	s.mu.Lock()
	delete(s.participants, p)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// ParkedRegion is the scope guard returned by Participant.Park.
type ParkedRegion struct {
	p      *Participant
	exited bool
}

// Exit clears the parked marker. If a pause is in progress it first waits for
// the pause to end. Exit is idempotent.
func (r *ParkedRegion) Exit() {
	if r.exited {
		return
	}
	r.exited = true

	s := r.p.sp
	s.mu.Lock()
	for s.requested.Load() {
		s.cond.Wait()
	}
	r.p.state = ThreadRunning
	s.mu.Unlock()
}

// =============================================================================
// Context Helper
// =============================================================================

type participantKeyType struct{}

var participantKey participantKeyType

// WithParticipant returns a context carrying p for PollSafepoint.
func WithParticipant(ctx context.Context, p *Participant) context.Context {
	return context.WithValue(ctx, participantKey, p)
}

// ParticipantFromContext returns the participant stored by WithParticipant, or nil.
func ParticipantFromContext(ctx context.Context) *Participant {
	if v := ctx.Value(participantKey); v != nil {
		return v.(*Participant)
	}
	return nil
}

// PollSafepoint polls the participant carried by ctx, if any. Long-running work
// executed on the service thread calls this to avoid delaying a pause.
func PollSafepoint(ctx context.Context) {
	if p := ParticipantFromContext(ctx); p != nil {
		p.Poll()
	}
}
