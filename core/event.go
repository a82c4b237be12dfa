package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EventKind: The closed set of deferred event kinds
// =============================================================================

type EventKind uint8

const (
	// EventCompiledMethodLoad is posted after a method has been compiled and installed.
	EventCompiledMethodLoad EventKind = iota + 1

	// EventCompiledMethodUnload is posted after compiled code has been discarded.
	EventCompiledMethodUnload

	// EventDynamicCodeGenerated is posted for stubs and other generated code.
	EventDynamicCodeGenerated
)

func (k EventKind) String() string {
	switch k {
	case EventCompiledMethodLoad:
		return "compiled_method_load"
	case EventCompiledMethodUnload:
		return "compiled_method_unload"
	case EventDynamicCodeGenerated:
		return "dynamic_code_generated"
	default:
		return "unknown"
	}
}

// =============================================================================
// Payloads
// =============================================================================

// CompiledMethodLoad describes newly installed compiled code.
// Method is kept alive until the event has been delivered.
type CompiledMethodLoad struct {
	Method    Ref
	Name      string
	CodeBegin uintptr
	CodeSize  int
}

// CompiledMethodUnload describes discarded compiled code.
// Holder is the owning class, kept alive until the event has been delivered.
type CompiledMethodUnload struct {
	MethodID  uint64
	Holder    Ref
	CodeBegin uintptr
}

// DynamicCodeGenerated describes a generated code blob. It owns no references.
type DynamicCodeGenerated struct {
	Name      string
	CodeBegin uintptr
	CodeEnd   uintptr
}

// EventPoster delivers deferred events. The service thread calls exactly one
// method per delivered event, on the service thread, without the coordination lock.
type EventPoster interface {
	PostCompiledMethodLoad(ctx context.Context, ev CompiledMethodLoad) error
	PostCompiledMethodUnload(ctx context.Context, ev CompiledMethodUnload) error
	PostDynamicCodeGenerated(ctx context.Context, ev DynamicCodeGenerated) error
}

// =============================================================================
// DeferredEvent: Tagged union over EventKind
// =============================================================================

// DeferredEvent is one unit of deferred work. It is built by one of the New*Event
// constructors and is not modified afterwards, except that a collector may
// relocate its references during a pause.
//
// Ownership moves from the producer to the queue on enqueue, and from the queue
// to the service thread on dequeue.
type DeferredEvent struct {
	id         uuid.UUID
	kind       EventKind
	enqueuedAt time.Time

	load    CompiledMethodLoad
	unload  CompiledMethodUnload
	dynamic DynamicCodeGenerated
}

// NewCompiledMethodLoadEvent creates a compiled-method-load event.
func NewCompiledMethodLoadEvent(p CompiledMethodLoad) DeferredEvent {
	return DeferredEvent{id: uuid.New(), kind: EventCompiledMethodLoad, load: p}
}

// NewCompiledMethodUnloadEvent creates a compiled-method-unload event.
func NewCompiledMethodUnloadEvent(p CompiledMethodUnload) DeferredEvent {
	return DeferredEvent{id: uuid.New(), kind: EventCompiledMethodUnload, unload: p}
}

// NewDynamicCodeGeneratedEvent creates a dynamic-code-generated event.
func NewDynamicCodeGeneratedEvent(p DynamicCodeGenerated) DeferredEvent {
	return DeferredEvent{id: uuid.New(), kind: EventDynamicCodeGenerated, dynamic: p}
}

// ID returns the unique id assigned at construction.
func (e *DeferredEvent) ID() uuid.UUID { return e.id }

// Kind returns the event kind. The zero DeferredEvent has no valid kind.
func (e *DeferredEvent) Kind() EventKind { return e.kind }

// EnqueuedAt returns when the event entered the queue (zero before that).
func (e *DeferredEvent) EnqueuedAt() time.Time { return e.enqueuedAt }

// CompiledMethodLoad returns the payload if Kind is EventCompiledMethodLoad.
func (e *DeferredEvent) CompiledMethodLoad() (CompiledMethodLoad, bool) {
	return e.load, e.kind == EventCompiledMethodLoad
}

// CompiledMethodUnload returns the payload if Kind is EventCompiledMethodUnload.
func (e *DeferredEvent) CompiledMethodUnload() (CompiledMethodUnload, bool) {
	return e.unload, e.kind == EventCompiledMethodUnload
}

// DynamicCodeGenerated returns the payload if Kind is EventDynamicCodeGenerated.
func (e *DeferredEvent) DynamicCodeGenerated() (DynamicCodeGenerated, bool) {
	return e.dynamic, e.kind == EventDynamicCodeGenerated
}

// ScanRefs visits every non-null reference the event keeps alive.
func (e *DeferredEvent) ScanRefs(v RefVisitor) {
	switch e.kind {
	case EventCompiledMethodLoad:
		if !e.load.Method.IsNull() {
			v.VisitRef(&e.load.Method)
		}
	case EventCompiledMethodUnload:
		if !e.unload.Holder.IsNull() {
			v.VisitRef(&e.unload.Holder)
		}
	case EventDynamicCodeGenerated:
		// owns no references
	}
}

// Post delivers the event to p according to its kind.
func (e *DeferredEvent) Post(ctx context.Context, p EventPoster) error {
	switch e.kind {
	case EventCompiledMethodLoad:
		return p.PostCompiledMethodLoad(ctx, e.load)
	case EventCompiledMethodUnload:
		return p.PostCompiledMethodUnload(ctx, e.unload)
	case EventDynamicCodeGenerated:
		return p.PostDynamicCodeGenerated(ctx, e.dynamic)
	default:
		return fmt.Errorf("deferred event %s has invalid kind %d", e.id, e.kind)
	}
}
