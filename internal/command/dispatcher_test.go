package command

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/care/drishti/internal/types"
)

func testFrame() types.Frame {
	return types.Frame{Seq: 1, Image: image.NewNRGBA(image.Rect(0, 0, 4, 4)), TraceID: "t-1"}
}

func TestDispatchDoesNotWait(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		<-release
		return nil
	}, 0, nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Dispatch(context.Background(), Command{Text: "object"}, testFrame())
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Dispatch blocked for %v", elapsed)
	}

	deadline := time.After(2 * time.Second)
	for d.Stats().Inflight != 10 {
		select {
		case <-deadline:
			t.Fatalf("inflight = %d, want 10 with unbounded fan-out", d.Stats().Inflight)
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestDispatchSnapshotIsIsolated(t *testing.T) {
	frame := testFrame()
	got := make(chan types.Frame, 1)
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		got <- f
		return nil
	}, 0, nil)

	d.Dispatch(context.Background(), Command{Text: "read"}, frame)
	// mutate the live frame after dispatch
	frame.Image.Pix[0] = 0xff

	select {
	case f := <-got:
		if f.Image.Pix[0] != 0 {
			t.Error("worker observed a mutation made after dispatch")
		}
		if f.Image == frame.Image {
			t.Error("worker received the live image, not a snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never ran")
	}
}

func TestFailingWorkerDoesNotAffectOthers(t *testing.T) {
	var ok atomic.Int32
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		switch cmd.Text {
		case "object":
			return errors.New("detector exploded")
		case "who":
			panic("recognizer panicked")
		default:
			ok.Add(1)
			return nil
		}
	}, 0, nil)

	d.Dispatch(context.Background(), Command{Text: "object"}, testFrame())
	d.Dispatch(context.Background(), Command{Text: "who"}, testFrame())
	d.Dispatch(context.Background(), Command{Text: "read"}, testFrame())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if ok.Load() != 1 {
		t.Errorf("successful workers = %d, want 1", ok.Load())
	}
	stats := d.Stats()
	if stats.Dispatched != 3 || stats.Failed != 2 || stats.Inflight != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBoundedPoolLimitsConcurrency(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}, 2, nil)

	for i := 0; i < 8; i++ {
		d.Dispatch(context.Background(), Command{Text: "object"}, testFrame())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if d.Stats().Dispatched != 8 {
		t.Errorf("dispatched = %d, want 8", d.Stats().Dispatched)
	}
}

func TestWorkerOutlivesDispatchContext(t *testing.T) {
	done := make(chan error, 1)
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		time.Sleep(20 * time.Millisecond)
		done <- ctx.Err()
		return nil
	}, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, Command{Text: "read"}, testFrame())
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("worker context was cancelled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never finished")
	}
}

func TestWaitTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	d := NewDispatcher(func(ctx context.Context, cmd Command, f types.Frame) error {
		<-block
		return nil
	}, 0, nil)
	d.Dispatch(context.Background(), Command{Text: "object"}, testFrame())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}
