package framebus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/care/drishti/internal/types"
)

func TestAcquireTimesOutWhenEmpty(t *testing.T) {
	h := New()
	_, err := h.Acquire(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrNoFrame) {
		t.Fatalf("Acquire() error = %v, want ErrNoFrame", err)
	}
}

func TestAcquireReturnsEachFrameOnce(t *testing.T) {
	h := New()
	h.Set(types.Frame{Seq: 1})

	f, err := h.Acquire(context.Background(), 10*time.Millisecond)
	if err != nil || f.Seq != 1 {
		t.Fatalf("Acquire() = %v, %v", f.Seq, err)
	}
	if _, err := h.Acquire(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrNoFrame) {
		t.Errorf("second Acquire() error = %v, want ErrNoFrame", err)
	}
}

func TestDropOldKeepsLatest(t *testing.T) {
	h := New()
	for i := uint64(1); i <= 5; i++ {
		h.Set(types.Frame{Seq: i})
	}

	f, err := h.Acquire(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if f.Seq != 5 {
		t.Errorf("Seq = %d, want 5", f.Seq)
	}

	stats := h.Stats()
	if stats.Published != 5 || stats.Overwritten != 4 || stats.Acquired != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAcquireWakesOnSet(t *testing.T) {
	h := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Set(types.Frame{Seq: 7})
	}()

	f, err := h.Acquire(context.Background(), 2*time.Second)
	if err != nil || f.Seq != 7 {
		t.Fatalf("Acquire() = %d, %v", f.Seq, err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	h := New()
	errCh := make(chan error, 1)
	go func() {
		_, err := h.Acquire(context.Background(), 5*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	h.Close()
	h.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Acquire() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}

	if err := h.Set(types.Frame{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v", err)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Acquire(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestLatestDoesNotConsume(t *testing.T) {
	h := New()
	if _, ok := h.Latest(); ok {
		t.Fatal("Latest() on empty holder")
	}
	h.Set(types.Frame{Seq: 3})
	if f, ok := h.Latest(); !ok || f.Seq != 3 {
		t.Fatalf("Latest() = %v, %v", f.Seq, ok)
	}
	if _, err := h.Acquire(context.Background(), 10*time.Millisecond); err != nil {
		t.Errorf("Acquire() after Latest() error = %v", err)
	}
}
