package core

import (
	"context"

	"github.com/care/drishti/internal/types"
)

// FrameSource provides a stream of video frames
type FrameSource interface {
	// Start begins streaming frames
	Start(ctx context.Context) error
	// Frames returns a channel of frames, closed by Stop
	Frames() <-chan types.Frame
	// Stop releases the capture device
	Stop() error
	// Stats returns stream statistics
	Stats() types.StreamStats
}

// Speaker accepts utterances for the serialized speech worker
type Speaker interface {
	// Submit never blocks on synthesis and reports what was done with text
	Submit(text string) string
	// Pending counts queued utterances
	Pending() int
	// Flush waits for the queue to drain
	Flush(ctx context.Context) error
}
