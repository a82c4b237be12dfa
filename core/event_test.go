package core

import (
	"context"
	"testing"
)

// TestDeferredEvent_PostRoutesByKind verifies each kind reaches its poster method
func TestDeferredEvent_PostRoutesByKind(t *testing.T) {
	log := &callLog{}
	poster := &recordingPoster{log: log}
	ctx := context.Background()

	events := []DeferredEvent{
		loadEvent("load", 1),
		NewCompiledMethodUnloadEvent(CompiledMethodUnload{MethodID: 1, Holder: 2}),
		NewDynamicCodeGeneratedEvent(DynamicCodeGenerated{Name: "stub"}),
	}
	for i := range events {
		if err := events[i].Post(ctx, poster); err != nil {
			t.Fatalf("Post(%v) error = %v", events[i].Kind(), err)
		}
	}

	got := log.snapshot()
	want := []string{"load", "unload", "stub"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestDeferredEvent_ZeroValueRejected verifies the zero event cannot be posted
func TestDeferredEvent_ZeroValueRejected(t *testing.T) {
	var ev DeferredEvent
	if err := ev.Post(context.Background(), &recordingPoster{}); err == nil {
		t.Fatal("Post of zero event returned nil error")
	}
	if ev.Kind().String() != "unknown" {
		t.Errorf("Kind().String() = %q, want unknown", ev.Kind().String())
	}
}

// TestDeferredEvent_PayloadAccessors verifies accessors only report the active variant
func TestDeferredEvent_PayloadAccessors(t *testing.T) {
	ev := NewDynamicCodeGeneratedEvent(DynamicCodeGenerated{Name: "adapter", CodeBegin: 0x1000, CodeEnd: 0x1400})

	if _, ok := ev.CompiledMethodLoad(); ok {
		t.Error("CompiledMethodLoad() ok = true for dynamic code event")
	}
	if _, ok := ev.CompiledMethodUnload(); ok {
		t.Error("CompiledMethodUnload() ok = true for dynamic code event")
	}
	p, ok := ev.DynamicCodeGenerated()
	if !ok || p.Name != "adapter" || p.CodeEnd-p.CodeBegin != 0x400 {
		t.Errorf("DynamicCodeGenerated() = %+v, %v", p, ok)
	}

	other := NewDynamicCodeGeneratedEvent(DynamicCodeGenerated{Name: "adapter"})
	if ev.ID() == other.ID() {
		t.Error("two events share an id")
	}
}
