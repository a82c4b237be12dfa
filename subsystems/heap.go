package subsystems

import (
	"sync"

	"github.com/Swind/go-service-thread/core"
)

// Heap is a registry of live object references. It stands in for the managed
// heap: tables allocate references from it and a collector releases the ones it
// finds unreachable.
type Heap struct {
	mu   sync.RWMutex
	next core.Ref
	live map[core.Ref]struct{}
}

func NewHeap() *Heap {
	return &Heap{live: make(map[core.Ref]struct{})}
}

// Allocate returns a fresh, live, non-null reference.
func (h *Heap) Allocate() core.Ref {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.live[h.next] = struct{}{}
	return h.next
}

// IsLive reports whether ref has been allocated and not yet released.
func (h *Heap) IsLive(ref core.Ref) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.live[ref]
	return ok
}

// Release marks every reference selected by release as unreachable, except
// those in roots. It returns the number released.
func (h *Heap) Release(roots map[core.Ref]struct{}, release func(ref core.Ref) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for ref := range h.live {
		if _, rooted := roots[ref]; rooted {
			continue
		}
		if release(ref) {
			delete(h.live, ref)
			n++
		}
	}
	return n
}

// Live returns the number of live references.
func (h *Heap) Live() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}
