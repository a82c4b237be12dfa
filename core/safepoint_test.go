package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestSafepoint_ParkedParticipantCountsAsStopped verifies a parked thread never blocks a pause
// Given: A registered participant inside a parked region
// When: A pause is requested
// Then: Begin completes without the participant polling, and leaving the
// parked region waits for End
func TestSafepoint_ParkedParticipantCountsAsStopped(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("parked")
	region := p.Park()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sp.Begin(ctx); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if stats := sp.Stats(); stats.Parked != 1 || !stats.InProgress {
		t.Fatalf("stats = %+v, want 1 parked and in progress", stats)
	}

	exited := make(chan struct{})
	go func() {
		region.Exit()
		close(exited)
	}()

	select {
	case <-exited:
		t.Fatal("parked region exited during pause")
	case <-time.After(30 * time.Millisecond):
	}

	sp.End()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("parked region did not exit after End")
	}

	if p.State() != ThreadRunning {
		t.Errorf("State() = %v, want running", p.State())
	}
}

// TestSafepoint_RunningParticipantStopsAtPoll verifies Begin waits for a poll
func TestSafepoint_RunningParticipantStopsAtPoll(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("mutator")

	began := make(chan error, 1)
	go func() {
		began <- sp.Begin(context.Background())
	}()

	select {
	case <-began:
		t.Fatal("Begin returned while a participant was running")
	case <-time.After(30 * time.Millisecond):
	}

	polled := make(chan struct{})
	go func() {
		for !sp.InProgress() {
			time.Sleep(time.Millisecond)
		}
		p.Poll()
		close(polled)
	}()

	select {
	case err := <-began:
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Begin did not complete after poll")
	}

	if stats := sp.Stats(); stats.Stopped != 1 {
		t.Fatalf("Stopped = %d, want 1", stats.Stopped)
	}

	sp.End()
	select {
	case <-polled:
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after End")
	}

	if stats := sp.Stats(); stats.Pauses != 1 || stats.InProgress {
		t.Errorf("stats = %+v, want 1 pause and not in progress", stats)
	}
}

// TestSafepoint_BeginCanceled verifies a canceled request is withdrawn
func TestSafepoint_BeginCanceled(t *testing.T) {
	sp := NewSafepoint(nil)
	sp.Register("never-polls")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := sp.Begin(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Begin() error = %v, want DeadlineExceeded", err)
	}
	if sp.InProgress() {
		t.Error("InProgress() = true after withdrawn request")
	}

	// End without an active pause is a no-op
	sp.End()
	if stats := sp.Stats(); stats.Pauses != 0 {
		t.Errorf("Pauses = %d, want 0", stats.Pauses)
	}
}

// TestSafepoint_UnregisterReleasesPause verifies a departing thread unblocks Begin
func TestSafepoint_UnregisterReleasesPause(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("leaving")

	began := make(chan error, 1)
	go func() {
		began <- sp.Begin(context.Background())
	}()

	waitForCondition(t, time.Second, sp.InProgress)
	p.Unregister()

	select {
	case err := <-began:
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Begin did not complete after Unregister")
	}
	sp.End()
}

// TestSafepoint_DoRunsInsidePause verifies Do brackets fn with Begin/End
func TestSafepoint_DoRunsInsidePause(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("idle")
	region := p.Park()
	defer region.Exit()

	var inside bool
	err := sp.Do(context.Background(), func() {
		inside = sp.InProgress()
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !inside {
		t.Error("fn did not observe the pause")
	}
	if sp.InProgress() {
		t.Error("pause still in progress after Do")
	}
}

// TestSafepoint_PollWithoutPause verifies Poll is a no-op when nothing is requested
func TestSafepoint_PollWithoutPause(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("mutator")

	done := make(chan struct{})
	go func() {
		p.Poll()
		PollSafepoint(WithParticipant(context.Background(), p))
		PollSafepoint(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll blocked without a pause")
	}
}

// TestSafepoint_ParkedRegionExitIdempotent verifies a double Exit is harmless
func TestSafepoint_ParkedRegionExitIdempotent(t *testing.T) {
	sp := NewSafepoint(nil)
	p := sp.Register("twice")

	region := p.Park()
	region.Exit()
	region.Exit()

	if p.State() != ThreadRunning {
		t.Fatalf("State() = %v, want running", p.State())
	}
	if stats := sp.Stats(); stats.Parked != 0 {
		t.Fatalf("Parked = %d, want 0", stats.Parked)
	}
}
