package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-service-thread/core"
)

const defaultProducerInterval = 100 * time.Millisecond

// ProducerOptions configures a Producer.
type ProducerOptions struct {
	Interval time.Duration
	Batch    int
}

// Producer is a synthetic application goroutine. It is a safepoint
// participant: it parks while idle and polls between units of work. Each unit
// interns strings and symbols, registers a resolved method and a protection
// domain, and enqueues the deferred events a compiler would.
type Producer struct {
	rt   *Runtime
	id   int
	opts ProducerOptions
	seq  uint64
}

func NewProducer(rt *Runtime, id int, opts ProducerOptions) *Producer {
	if opts.Interval <= 0 {
		opts.Interval = defaultProducerInterval
	}
	if opts.Batch < 1 {
		opts.Batch = 1
	}
	return &Producer{rt: rt, id: id, opts: opts}
}

// Run produces a batch every interval until ctx is done or the service
// thread stops. A stopped thread is reported by Runtime.Run, not here.
func (p *Producer) Run(ctx context.Context) error {
	participant := p.rt.Safepoint.Register(fmt.Sprintf("producer-%d", p.id))
	defer participant.Unregister()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		region := participant.Park()
		select {
		case <-ctx.Done():
			region.Exit()
			return nil
		case <-ticker.C:
		}
		region.Exit()

		for range p.opts.Batch {
			err := p.Step()
			participant.Poll()
			if errors.Is(err, core.ErrStopped) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// Step performs one unit of work. The caller must be a running participant or
// otherwise excluded from pauses.
func (p *Producer) Step() error {
	p.seq++
	rt := p.rt
	name := fmt.Sprintf("p%d.m%d", p.id, p.seq)

	rt.StringTable.Intern(fmt.Sprintf("str-%d-%d", p.id, p.seq%512))
	rt.SymbolTable.Intern(name)

	method := rt.Heap.Allocate()
	rt.ResolvedMethodTable.Put(name, method)
	rt.ProtectionDomainTable.Put(fmt.Sprintf("domain-%d", p.seq%16), rt.Heap.Allocate())

	codeBegin := uintptr(0x10000 + p.seq*0x100)
	err := rt.Thread.TryEnqueueDeferredEvent(core.NewCompiledMethodLoadEvent(core.CompiledMethodLoad{
		Method:    method,
		Name:      name,
		CodeBegin: codeBegin,
		CodeSize:  0x100,
	}))
	if err != nil {
		return err
	}

	switch {
	case p.seq%8 == 0:
		err = rt.Thread.TryEnqueueDeferredEvent(core.NewCompiledMethodUnloadEvent(core.CompiledMethodUnload{
			MethodID:  p.seq,
			Holder:    rt.Heap.Allocate(),
			CodeBegin: codeBegin,
		}))
	case p.seq%5 == 0:
		err = rt.Thread.TryEnqueueDeferredEvent(core.NewDynamicCodeGeneratedEvent(core.DynamicCodeGenerated{
			Name:      fmt.Sprintf("adapter-%d-%d", p.id, p.seq),
			CodeBegin: codeBegin,
			CodeEnd:   codeBegin + 0x40,
		}))
	}
	return err
}
