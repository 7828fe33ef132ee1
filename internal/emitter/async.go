package emitter

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Async decouples event producers from slow publishers. Publish never
// blocks; when the buffer is full the event is dropped and counted.
type Async struct {
	next   Publisher
	events chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsync starts the forwarding goroutine
func NewAsync(next Publisher, buffer int) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	a := &Async{
		next:   next,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.events {
		if err := a.next.Publish(ev); err != nil {
			a.failed.Add(1)
			slog.Debug("event publish failed", "type", ev.Type, "error", err)
			continue
		}
		a.sent.Add(1)
	}
}

// Publish enqueues ev. It reports no error for drops, including events
// published after Close.
func (a *Async) Publish(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
		slog.Warn("event buffer full, dropping event", "type", ev.Type)
	}
	return nil
}

// Close stops accepting events and waits up to timeout for the backlog
// to drain.
func (a *Async) Close(timeout time.Duration) {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(timeout):
		slog.Warn("event backlog not drained before timeout", "pending", len(a.events))
	}
}

// AsyncStats counts forwarded events
type AsyncStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Stats returns the counters
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Sent:    a.sent.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
	}
}
