package subsystems

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// DCmdListener is told about a diagnostic command that was registered or
// changed, so management clients can refresh their view.
type DCmdListener func(ctx context.Context, command string) error

// DCmdNotifier collects diagnostic-command notifications. Commands posted
// before the service thread runs are coalesced; each distinct command is sent
// once per DoWork, in posting order.
type DCmdNotifier struct {
	notifyHook

	mu        sync.Mutex
	commands  []string
	queued    map[string]struct{}
	listeners []DCmdListener

	pending atomic.Bool
	sent    atomic.Uint64
}

func NewDCmdNotifier() *DCmdNotifier {
	return &DCmdNotifier{queued: make(map[string]struct{})}
}

// AddListener registers a listener.
func (d *DCmdNotifier) AddListener(l DCmdListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Post marks a notification for command as pending.
func (d *DCmdNotifier) Post(command string) {
	d.mu.Lock()
	if _, ok := d.queued[command]; !ok {
		d.queued[command] = struct{}{}
		d.commands = append(d.commands, command)
	}
	wake := !d.pending.Swap(true)
	d.mu.Unlock()

	if wake {
		d.notify()
	}
}

func (d *DCmdNotifier) HasWork() bool {
	return d.pending.Load()
}

// DoWork sends one notification per pending command.
func (d *DCmdNotifier) DoWork(ctx context.Context) error {
	d.mu.Lock()
	commands := d.commands
	d.commands = nil
	clear(d.queued)
	d.pending.Store(false)
	listeners := append([]DCmdListener(nil), d.listeners...)
	d.mu.Unlock()

	for _, cmd := range commands {
		for _, l := range listeners {
			if err := l(ctx, cmd); err != nil {
				return fmt.Errorf("dcmd notification %s: %w", cmd, err)
			}
		}
		d.sent.Add(1)
	}
	return nil
}

// Sent returns the number of notifications sent.
func (d *DCmdNotifier) Sent() uint64 { return d.sent.Load() }

// Pending returns the number of commands waiting to be sent.
func (d *DCmdNotifier) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}
