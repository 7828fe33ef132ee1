package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/care/drishti/internal/metrics"
	"github.com/care/drishti/internal/types"
)

// Handler executes one command against the frame snapshot taken at dispatch
type Handler func(ctx context.Context, cmd Command, frame types.Frame) error

// Dispatcher spawns one goroutine per command. With a pool size of 0 every
// command starts immediately; otherwise at most poolSize handlers run at
// once and the rest wait for a slot. Dispatch itself never blocks.
type Dispatcher struct {
	handle  Handler
	sem     *semaphore.Weighted
	metrics *metrics.Metrics

	wg         sync.WaitGroup
	inflight   atomic.Int64
	dispatched atomic.Uint64
	failed     atomic.Uint64
}

// NewDispatcher creates a dispatcher. poolSize 0 means unbounded fan-out.
func NewDispatcher(handle Handler, poolSize int, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		handle:  handle,
		metrics: m,
	}
	if poolSize > 0 {
		d.sem = semaphore.NewWeighted(int64(poolSize))
	}
	return d
}

// Dispatch starts a worker for cmd with its own copy of frame. Workers are
// not cancelled when ctx is: they run to completion once started.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, frame types.Frame) {
	snapshot := frame.Snapshot()
	workerCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	d.dispatched.Add(1)
	d.metrics.CommandDispatched(cmd.Text)

	go func() {
		defer d.wg.Done()

		if d.sem != nil {
			// background ctx: a queued command is never dropped
			if err := d.sem.Acquire(context.Background(), 1); err != nil {
				slog.Error("worker slot acquire failed", "command", cmd.Text, "command_id", cmd.ID, "error", err)
				return
			}
			defer d.sem.Release(1)
		}

		d.run(workerCtx, cmd, snapshot)
	}()
}

func (d *Dispatcher) run(ctx context.Context, cmd Command, frame types.Frame) {
	d.inflight.Add(1)
	d.metrics.WorkerStarted()
	start := time.Now()

	defer func() {
		d.inflight.Add(-1)
		d.metrics.WorkerFinished()

		if r := recover(); r != nil {
			d.failed.Add(1)
			d.metrics.WorkerFailed(cmd.Text)
			slog.Error("command worker panicked",
				"command", cmd.Text,
				"command_id", cmd.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	slog.Debug("command worker started",
		"command", cmd.Text,
		"command_id", cmd.ID,
		"trace_id", frame.TraceID,
	)

	if err := d.handle(ctx, cmd, frame); err != nil {
		d.failed.Add(1)
		d.metrics.WorkerFailed(cmd.Text)
		slog.Warn("command worker failed",
			"command", cmd.Text,
			"command_id", cmd.ID,
			"trace_id", frame.TraceID,
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	slog.Debug("command worker finished",
		"command", cmd.Text,
		"command_id", cmd.ID,
		"duration", time.Since(start),
	)
}

// Wait blocks until every dispatched worker has returned or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d command workers: %w", d.inflight.Load(), ctx.Err())
	}
}

// DispatcherStats is a snapshot of dispatcher counters
type DispatcherStats struct {
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Inflight   int64  `json:"inflight"`
}

// Stats returns current counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
		Inflight:   d.inflight.Load(),
	}
}
