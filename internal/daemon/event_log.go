package daemon

import (
	"sync"
	"time"
)

// LogEntry is one delivered notification or event, as seen by a listener.
type LogEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// EventLog keeps the most recent listener output for the admin server.
type EventLog struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int
	count   int
	total   map[string]uint64
}

func NewEventLog(capacity int) *EventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &EventLog{entries: make([]LogEntry, capacity), total: make(map[string]uint64)}
}

func (l *EventLog) Add(kind, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.head] = LogEntry{At: time.Now(), Kind: kind, Detail: detail}
	l.head = (l.head + 1) % len(l.entries)
	if l.count < len(l.entries) {
		l.count++
	}
	l.total[kind]++
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (l *EventLog) Recent(limit int) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]LogEntry, 0, limit)
	for i := range limit {
		out = append(out, l.entries[(l.head-1-i+len(l.entries))%len(l.entries)])
	}
	return out
}

// Count returns how many entries of kind were ever added.
func (l *EventLog) Count(kind string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total[kind]
}
