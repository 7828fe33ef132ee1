package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/care/drishti/internal/annotate"
	"github.com/care/drishti/internal/config"
	"github.com/care/drishti/internal/types"
)

// maybeScan starts a periodic detection pass when continuous markers or
// speech are enabled and the detection interval has elapsed. A scan still
// in flight suppresses the next one.
func (d *Drishti) maybeScan(ctx context.Context, frame types.Frame) {
	c := d.cfg.Continuous
	if !c.Markers && !c.Speech {
		return
	}

	now := d.now()
	if now.Sub(d.lastScan) < config.Seconds(c.DetectionIntervalS) {
		return
	}
	if !d.scanning.CompareAndSwap(false, true) {
		return
	}
	d.lastScan = now

	snapshot := frame.Snapshot()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.scanning.Store(false)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("continuous scan panicked", "panic", fmt.Sprint(r))
			}
		}()
		d.scan(ctx, snapshot)
	}()
}

func (d *Drishti) scan(ctx context.Context, frame types.Frame) {
	detections, err := d.detector.Detect(ctx, frame)
	if err != nil {
		slog.Debug("continuous detection failed", "error", err)
		return
	}

	now := d.now()
	c := d.cfg.Continuous

	if c.Markers {
		markerDebounce := config.Seconds(c.MarkerDebounceS)
		for _, det := range detections {
			d.markerMu.Lock()
			last, seen := d.lastMarker[det.Label]
			due := !seen || now.Sub(last) >= markerDebounce
			if due {
				d.lastMarker[det.Label] = now
			}
			d.markerMu.Unlock()

			if due {
				d.store.Add(annotate.KindObject, det.BBox, "Object: "+det.Label, annotate.ColorObject)
			}
		}
	}

	if c.Speech && len(detections) > 0 {
		d.markerMu.Lock()
		due := d.lastSummary.IsZero() || now.Sub(d.lastSummary) > config.Seconds(c.ObjectDebounceS)
		if due {
			d.lastSummary = now
		}
		d.markerMu.Unlock()

		if due {
			d.speech.Submit("I see " + strings.Join(uniqueLabels(detections), ", "))
		}
	}
}

// uniqueLabels returns the sorted set of detection labels
func uniqueLabels(detections []types.Detection) []string {
	set := make(map[string]struct{}, len(detections))
	for _, det := range detections {
		set[det.Label] = struct{}{}
	}
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
