package core

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/care/drishti/internal/types"
)

func TestContinuousDebounce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Continuous.Markers = true
	cfg.Continuous.Speech = true
	cfg.Continuous.MarkerDebounceS = 1.5
	cfg.Continuous.ObjectDebounceS = 2.0

	h := newHarness(t, cfg)
	h.detector.fn = func() ([]types.Detection, error) {
		return []types.Detection{
			{Label: "cup", BBox: types.BBox{X1: 0, Y1: 0, X2: 4, Y2: 4}},
			{Label: "person", BBox: types.BBox{X1: 5, Y1: 5, X2: 9, Y2: 9}},
			{Label: "cup", BBox: types.BBox{X1: 10, Y1: 0, X2: 14, Y2: 4}},
		}, nil
	}

	t0 := time.Unix(1000, 0)
	now := t0
	h.d.now = func() time.Time { return now }
	frame := types.Frame{Image: image.NewNRGBA(image.Rect(0, 0, 32, 24))}

	steps := []struct {
		at          time.Duration
		annotations int
		summaries   int
	}{
		{0, 2, 1},                       // one marker per label, first summary
		{time.Second, 2, 1},             // both debounces still active
		{1600 * time.Millisecond, 4, 1}, // marker cooldown over
		{2100 * time.Millisecond, 4, 2}, // summary cooldown over
	}
	for _, s := range steps {
		now = t0.Add(s.at)
		h.d.scan(context.Background(), frame)

		if got := h.d.Annotations().Len(); got != s.annotations {
			t.Errorf("at %v: annotations = %d, want %d", s.at, got, s.annotations)
		}
		summaries := 0
		for _, text := range h.speaker.spoken() {
			if text == "I see cup, person" {
				summaries++
			}
		}
		if summaries != s.summaries {
			t.Errorf("at %v: summaries = %d, want %d (%v)", s.at, summaries, s.summaries, h.speaker.spoken())
		}
	}
}

func TestMaybeScanRespectsInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.Continuous.Markers = true
	cfg.Continuous.DetectionIntervalS = 0.25

	h := newHarness(t, cfg)
	block := make(chan struct{})
	h.detector.fn = func() ([]types.Detection, error) {
		<-block
		return nil, nil
	}

	t0 := time.Unix(1000, 0)
	now := t0
	h.d.now = func() time.Time { return now }
	frame := types.Frame{Image: image.NewNRGBA(image.Rect(0, 0, 32, 24))}

	h.d.maybeScan(context.Background(), frame)
	waitFor(t, "first scan", func() bool { return h.detector.calls.Load() == 1 })

	// in flight: a due scan is skipped
	now = t0.Add(time.Second)
	h.d.maybeScan(context.Background(), frame)

	close(block)
	waitFor(t, "scan to finish", func() bool { return !h.d.scanning.Load() })

	// not due yet relative to the first scan's start
	now = t0.Add(100 * time.Millisecond)
	h.d.maybeScan(context.Background(), frame)

	now = t0.Add(2 * time.Second)
	h.d.maybeScan(context.Background(), frame)
	waitFor(t, "second scan", func() bool { return h.detector.calls.Load() == 2 })
	h.d.wg.Wait()
}

func TestContinuousDisabledByDefault(t *testing.T) {
	h := newHarness(t, testConfig(t))
	frame := types.Frame{Image: image.NewNRGBA(image.Rect(0, 0, 32, 24))}
	h.d.maybeScan(context.Background(), frame)
	h.d.wg.Wait()
	if h.detector.calls.Load() != 0 {
		t.Error("scan ran with continuous mode off")
	}
}
