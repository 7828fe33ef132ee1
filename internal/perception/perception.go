// Package perception holds the detection, OCR and face recognition
// capabilities used by command workers. Inference runs in an external
// sidecar process; this package only frames requests and maps results
// back into frame coordinates.
package perception

import (
	"context"
	"errors"

	"github.com/care/drishti/internal/types"
)

var (
	// ErrSidecarClosed is returned for calls made after the sidecar exited or was closed
	ErrSidecarClosed = errors.New("perception: sidecar closed")
	// ErrNoFace is returned when a known-face image contains no face
	ErrNoFace = errors.New("perception: no face in image")
)

// Directions reported for detections
const (
	DirectionLeft   = "left"
	DirectionCenter = "center"
	DirectionRight  = "right"
)

// Detector finds objects in a frame
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// TextReader extracts text and its layout from a frame
type TextReader interface {
	Read(ctx context.Context, frame types.Frame) (string, error)
	Layout(ctx context.Context, frame types.Frame) ([]types.TextBlock, error)
}

// FaceRecognizer finds faces and names the ones it knows
type FaceRecognizer interface {
	Recognize(ctx context.Context, frame types.Frame) ([]types.Face, error)
	LoadKnownFaces(ctx context.Context, dir string) (int, error)
}

// Direction places a box in the left, center or right third of a frame
// of the given width.
func Direction(b types.BBox, width int) string {
	if width <= 0 {
		return DirectionCenter
	}
	cx := b.Center().X
	switch {
	case cx < width/3:
		return DirectionLeft
	case cx >= 2*width/3:
		return DirectionRight
	default:
		return DirectionCenter
	}
}
