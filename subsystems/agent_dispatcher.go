package subsystems

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Swind/go-service-thread/core"
)

// Agent receives deferred events. Nil callbacks mean the agent is not
// interested in that kind.
type Agent struct {
	Name                 string
	CompiledMethodLoad   func(ctx context.Context, ev core.CompiledMethodLoad) error
	CompiledMethodUnload func(ctx context.Context, ev core.CompiledMethodUnload) error
	DynamicCodeGenerated func(ctx context.Context, ev core.DynamicCodeGenerated) error
}

// AgentStats counts deliveries per event kind.
type AgentStats struct {
	Agents               int    `json:"agents"`
	CompiledMethodLoad   uint64 `json:"compiled_method_load"`
	CompiledMethodUnload uint64 `json:"compiled_method_unload"`
	DynamicCodeGenerated uint64 `json:"dynamic_code_generated"`
}

// AgentDispatcher is the core.EventPoster that fans deferred events out to the
// registered agents, in registration order. The first agent error aborts the
// delivery and is returned.
type AgentDispatcher struct {
	mu     sync.RWMutex
	agents []Agent

	loads    atomic.Uint64
	unloads  atomic.Uint64
	dynamics atomic.Uint64
}

var _ core.EventPoster = (*AgentDispatcher)(nil)

func NewAgentDispatcher() *AgentDispatcher {
	return &AgentDispatcher{}
}

// Register adds an agent.
func (d *AgentDispatcher) Register(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents = append(d.agents, a)
}

func (d *AgentDispatcher) snapshot() []Agent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Agent(nil), d.agents...)
}

func (d *AgentDispatcher) PostCompiledMethodLoad(ctx context.Context, ev core.CompiledMethodLoad) error {
	for _, a := range d.snapshot() {
		if a.CompiledMethodLoad == nil {
			continue
		}
		if err := a.CompiledMethodLoad(ctx, ev); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	d.loads.Add(1)
	return nil
}

func (d *AgentDispatcher) PostCompiledMethodUnload(ctx context.Context, ev core.CompiledMethodUnload) error {
	for _, a := range d.snapshot() {
		if a.CompiledMethodUnload == nil {
			continue
		}
		if err := a.CompiledMethodUnload(ctx, ev); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	d.unloads.Add(1)
	return nil
}

func (d *AgentDispatcher) PostDynamicCodeGenerated(ctx context.Context, ev core.DynamicCodeGenerated) error {
	for _, a := range d.snapshot() {
		if a.DynamicCodeGenerated == nil {
			continue
		}
		if err := a.DynamicCodeGenerated(ctx, ev); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	d.dynamics.Add(1)
	return nil
}

// Stats returns delivery counts.
func (d *AgentDispatcher) Stats() AgentStats {
	d.mu.RLock()
	n := len(d.agents)
	d.mu.RUnlock()
	return AgentStats{
		Agents:               n,
		CompiledMethodLoad:   d.loads.Load(),
		CompiledMethodUnload: d.unloads.Load(),
		DynamicCodeGenerated: d.dynamics.Load(),
	}
}
