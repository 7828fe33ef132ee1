package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/care/drishti/internal/annotate"
	"github.com/care/drishti/internal/command"
	"github.com/care/drishti/internal/types"
)

// handle is the command worker body. It runs on its own goroutine with a
// snapshot of the frame taken at dispatch.
func (d *Drishti) handle(ctx context.Context, cmd command.Command, frame types.Frame) error {
	switch cmd.Text {
	case command.Object:
		return d.handleObject(ctx, frame)
	case command.Read:
		return d.handleRead(ctx, frame)
	case command.Who:
		return d.handleWho(ctx, frame)
	case command.Exit:
		d.requestStop("exit command")
		return nil
	default:
		slog.Debug("ignoring unrecognized command", "text", cmd.Text, "source", cmd.Source)
		return nil
	}
}

func (d *Drishti) handleObject(ctx context.Context, frame types.Frame) error {
	detections, err := d.detector.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("object detection: %w", err)
	}

	for _, det := range detections {
		d.speech.Submit(fmt.Sprintf("Object %s ahead %s", det.Label, det.Direction))
		d.store.Add(annotate.KindObject, det.BBox, "Object: "+det.Label, annotate.ColorObject)
	}
	slog.Debug("objects detected", "count", len(detections), "trace_id", frame.TraceID)
	return nil
}

func (d *Drishti) handleRead(ctx context.Context, frame types.Frame) error {
	text, err := d.reader.Read(ctx, frame)
	if err != nil {
		return fmt.Errorf("text recognition: %w", err)
	}
	blocks, err := d.reader.Layout(ctx, frame)
	if err != nil {
		return fmt.Errorf("text layout: %w", err)
	}

	if text = strings.TrimSpace(text); text != "" {
		d.speech.Submit(text)
	}
	for _, b := range blocks {
		d.store.Add(annotate.KindText, b.BBox, "Text", annotate.ColorText)
	}
	slog.Debug("text read", "chars", len(text), "blocks", len(blocks), "trace_id", frame.TraceID)
	return nil
}

func (d *Drishti) handleWho(ctx context.Context, frame types.Frame) error {
	faces, err := d.faces.Recognize(ctx, frame)
	if err != nil {
		return fmt.Errorf("face recognition: %w", err)
	}

	for _, f := range faces {
		name := f.Name
		if name == "" {
			name = types.UnknownName
		}
		d.store.Add(annotate.KindPerson, f.BBox, "Person: "+name, annotate.ColorPerson)
		d.speech.Submit("Person " + name)
	}
	slog.Debug("faces recognized", "count", len(faces), "trace_id", frame.TraceID)
	return nil
}
