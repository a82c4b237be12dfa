package core

import (
	"context"
	"strings"
)

// WorkSource is a maintenance subsystem polled by the service thread.
//
// HasWork must be cheap, free of side effects, and safe to call concurrently with
// producers. It is called with the service thread's coordination lock held and
// while the service thread is parked, so it must not block on a safepoint.
//
// DoWork performs all currently pending work. It runs on the service thread
// without the coordination lock and must be safe against concurrent producers.
// A returned error is fatal to the service thread.
type WorkSource interface {
	HasWork() bool
	DoWork(ctx context.Context) error
}

// Notifier is the wake-up primitive subsystems call after making work pending.
type Notifier interface {
	Notify()
}

// =============================================================================
// SourceKind: Fixed evaluation and dispatch order
// =============================================================================

// SourceKind identifies a pending-work source. The numeric order is the order in
// which sources are probed and dispatched on every iteration.
type SourceKind int

const (
	SourceStringTable SourceKind = iota
	SourceSymbolTable
	SourceDeferredEvents
	SourceLowMemory
	SourceGCNotification
	SourceDCmdNotification
	SourceResolvedMethodTable
	SourceProtectionDomainTable

	numSources
)

var sourceNames = [numSources]string{
	SourceStringTable:           "string_table",
	SourceSymbolTable:           "symbol_table",
	SourceDeferredEvents:        "deferred_events",
	SourceLowMemory:             "low_memory",
	SourceGCNotification:        "gc_notification",
	SourceDCmdNotification:      "dcmd_notification",
	SourceResolvedMethodTable:   "resolved_method_table",
	SourceProtectionDomainTable: "protection_domain_table",
}

func (k SourceKind) String() string {
	if k < 0 || k >= numSources {
		return "unknown"
	}
	return sourceNames[k]
}

// AllSourceKinds returns every source in dispatch order.
func AllSourceKinds() []SourceKind {
	out := make([]SourceKind, 0, numSources)
	for k := range numSources {
		out = append(out, k)
	}
	return out
}

// Sources is the fixed set of subsystems a service thread serves.
// A nil field means the subsystem is absent and never has work.
// Deferred events are served by the service thread's own queue.
type Sources struct {
	StringTable           WorkSource
	SymbolTable           WorkSource
	LowMemory             WorkSource
	GCNotification        WorkSource
	DCmdNotification      WorkSource
	ResolvedMethodTable   WorkSource
	ProtectionDomainTable WorkSource
}

// lookup returns the subsystem for k, or nil for absent subsystems and for
// SourceDeferredEvents.
func (s *Sources) lookup(k SourceKind) WorkSource {
	switch k {
	case SourceStringTable:
		return s.StringTable
	case SourceSymbolTable:
		return s.SymbolTable
	case SourceLowMemory:
		return s.LowMemory
	case SourceGCNotification:
		return s.GCNotification
	case SourceDCmdNotification:
		return s.DCmdNotification
	case SourceResolvedMethodTable:
		return s.ResolvedMethodTable
	case SourceProtectionDomainTable:
		return s.ProtectionDomainTable
	default:
		return nil
	}
}

// =============================================================================
// pendingSet: Per-iteration probe snapshot
// =============================================================================

type pendingSet [numSources]bool

func (p *pendingSet) any() bool {
	for _, v := range p {
		if v {
			return true
		}
	}
	return false
}

func (p *pendingSet) kinds() []SourceKind {
	var out []SourceKind
	for k, v := range p {
		if v {
			out = append(out, SourceKind(k))
		}
	}
	return out
}

func (p *pendingSet) String() string {
	names := make([]string, 0, numSources)
	for _, k := range p.kinds() {
		names = append(names, k.String())
	}
	return strings.Join(names, ",")
}
