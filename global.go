package servicethread

import (
	"sync"

	"github.com/Swind/go-service-thread/core"
)

// =============================================================================
// Global Service Thread Helper (Singleton)
// =============================================================================

var (
	globalServiceThread *core.ServiceThread
	globalMu            sync.Mutex
)

// InitGlobalServiceThread creates and starts the process-wide service thread.
// Later calls return the existing thread and ignore config.
func InitGlobalServiceThread(config *core.ServiceThreadConfig) *core.ServiceThread {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalServiceThread != nil {
		return globalServiceThread // Already initialized
	}

	globalServiceThread = core.NewServiceThread(config)
	globalServiceThread.Start()
	return globalServiceThread
}

// GetGlobalServiceThread returns the process-wide service thread.
// It panics if InitGlobalServiceThread has not been called.
func GetGlobalServiceThread() *core.ServiceThread {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalServiceThread == nil {
		panic("GlobalServiceThread not initialized. Call InitGlobalServiceThread() first.")
	}
	return globalServiceThread
}

// EnqueueDeferredEvent hands ev to the process-wide service thread.
// It panics if InitGlobalServiceThread has not been called.
func EnqueueDeferredEvent(ev core.DeferredEvent) {
	GetGlobalServiceThread().EnqueueDeferredEvent(ev)
}
