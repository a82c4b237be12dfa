package core

import "time"

// DispatchRecord captures one completed dispatch step.
type DispatchRecord struct {
	Iteration  uint64
	Source     SourceKind
	EventID    string
	EventKind  EventKind
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Err        string
}

// ServiceThreadStats represents runtime observability state for a service thread.
type ServiceThreadStats struct {
	Name       string    `json:"name"`
	Started    bool      `json:"started"`
	Running    bool      `json:"running"`
	Waiting    bool      `json:"waiting"`
	Pending    int       `json:"pending"`
	Delivering bool      `json:"delivering"`
	Iterations uint64    `json:"iterations"`
	Wakeups    uint64    `json:"wakeups"`
	Enqueued   uint64    `json:"enqueued"`
	Delivered  uint64    `json:"delivered"`
	LastSource string    `json:"last_source,omitempty"`
	LastWorkAt time.Time `json:"last_work_at"`
}

// SafepointStats represents runtime observability state for a Safepoint.
type SafepointStats struct {
	Participants int           `json:"participants"`
	Parked       int           `json:"parked"`
	Stopped      int           `json:"stopped"`
	InProgress   bool          `json:"in_progress"`
	Pauses       uint64        `json:"pauses"`
	TotalPause   time.Duration `json:"total_pause_ns"`
	LastPause    time.Duration `json:"last_pause_ns"`
}
