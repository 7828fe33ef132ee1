package types

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// Frame represents a single captured video frame
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Image holds the pixels. Sources always produce NRGBA.
	Image *image.NRGBA
	// Source identifies where the frame came from (camera device, url, mock)
	Source string
	// TraceID is a unique identifier for tracing a frame through workers
	TraceID string
}

// Width returns the frame width in pixels
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Empty reports whether the frame carries no pixels
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

// Snapshot returns a deep copy of the frame. Command workers receive
// snapshots so they never observe frames acquired after dispatch.
func (f Frame) Snapshot() Frame {
	out := f
	if f.Image != nil {
		out.Image = imaging.Clone(f.Image)
	}
	return out
}

// FrameMeta contains frame metadata without the pixels
type FrameMeta struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Source    string
}

// Meta returns the frame metadata
func (f Frame) Meta() FrameMeta {
	return FrameMeta{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width(),
		Height:    f.Height(),
		Source:    f.Source,
	}
}

// StreamStats contains frame source statistics
type StreamStats struct {
	FrameCount  uint64
	FPSTarget   int
	FPSReal     float64
	Source      string
	Resolution  string
	Reconnects  uint32
	BytesRead   uint64
	IsConnected bool
	Errors      uint64
}
