package servicethread

import "github.com/Swind/go-service-thread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the servicethread package for most use cases.

// ServiceThread is the maintenance coordinator
type ServiceThread = core.ServiceThread

// ServiceThreadConfig holds configuration options for a ServiceThread
type ServiceThreadConfig = core.ServiceThreadConfig

// Sources is the fixed set of subsystems a ServiceThread serves
type Sources = core.Sources

// WorkSource is a maintenance subsystem polled by the service thread
type WorkSource = core.WorkSource

// SourceKind identifies a pending-work source, in dispatch order
type SourceKind = core.SourceKind

// DeferredEvent is an event delivered later by the service thread
type DeferredEvent = core.DeferredEvent

// EventPoster delivers deferred events
type EventPoster = core.EventPoster

// Ref is an opaque object reference
type Ref = core.Ref

// RefVisitorFunc adapts a function to the visitor taken by ScanRefs
type RefVisitorFunc = core.RefVisitorFunc

// Safepoint coordinates global pauses
type Safepoint = core.Safepoint

// Participant is a goroutine that stops during pauses
type Participant = core.Participant

// Event payloads
type (
	CompiledMethodLoad   = core.CompiledMethodLoad
	CompiledMethodUnload = core.CompiledMethodUnload
	DynamicCodeGenerated = core.DynamicCodeGenerated
)

// Constructors
var (
	NewServiceThread             = core.NewServiceThread
	DefaultServiceThreadConfig   = core.DefaultServiceThreadConfig
	NewSafepoint                 = core.NewSafepoint
	NewCompiledMethodLoadEvent   = core.NewCompiledMethodLoadEvent
	NewCompiledMethodUnloadEvent = core.NewCompiledMethodUnloadEvent
	NewDynamicCodeGeneratedEvent = core.NewDynamicCodeGeneratedEvent
)

// GetCurrentServiceThread retrieves the service thread running the current work from context
var GetCurrentServiceThread = core.GetCurrentServiceThread

// PollSafepoint stops the calling participant if a pause is requested
var PollSafepoint = core.PollSafepoint
