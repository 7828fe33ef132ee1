// Package framebus hands the most recent captured frame to the main loop.
// Capture runs at its own pace; frames the loop never picked up are
// overwritten, never queued.
package framebus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/care/drishti/internal/types"
)

var (
	// ErrNoFrame is returned when no new frame arrived within the timeout
	ErrNoFrame = errors.New("framebus: no new frame")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("framebus: closed")
)

// Stats counts holder traffic
type Stats struct {
	Published   uint64 `json:"published"`
	Acquired    uint64 `json:"acquired"`
	Overwritten uint64 `json:"overwritten"`
}

// Holder keeps only the latest frame (drop-old policy)
type Holder struct {
	mu      sync.Mutex
	frame   *types.Frame
	seq     uint64
	taken   uint64
	closed  bool
	updated chan struct{}
	stats   Stats
}

// New creates an empty holder
func New() *Holder {
	return &Holder{updated: make(chan struct{})}
}

// Set replaces the held frame and wakes any waiter
func (h *Holder) Set(frame types.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.seq > h.taken {
		h.stats.Overwritten++
	}

	h.frame = &frame
	h.seq++
	h.stats.Published++
	close(h.updated)
	h.updated = make(chan struct{})
	return nil
}

// Acquire returns the latest frame not yet returned by Acquire, waiting up
// to timeout for one to arrive.
func (h *Holder) Acquire(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return types.Frame{}, ErrClosed
		}
		if h.seq > h.taken {
			h.taken = h.seq
			h.stats.Acquired++
			f := *h.frame
			h.mu.Unlock()
			return f, nil
		}
		wait := h.updated
		h.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return types.Frame{}, ErrNoFrame
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		}
	}
}

// Latest returns the most recent frame without marking it taken
func (h *Holder) Latest() (types.Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frame == nil {
		return types.Frame{}, false
	}
	return *h.frame, true
}

// Close wakes waiters and rejects further frames
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.updated)
}

// Stats returns a copy of the counters
func (h *Holder) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
