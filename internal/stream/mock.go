package stream

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/drishti/internal/types"
)

// MockStream generates synthetic frames for testing and headless demos
type MockStream struct {
	width  int
	height int
	fps    int
	source string

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockStream creates a new mock stream provider
func NewMockStream(width, height, fps int) *MockStream {
	return &MockStream{
		width:    width,
		height:   height,
		fps:      fps,
		source:   "mock",
		framesCh: make(chan types.Frame, 2),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames
func (m *MockStream) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock stream starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)

	return nil
}

// Frames returns the frames channel
func (m *MockStream) Frames() <-chan types.Frame {
	return m.framesCh
}

// Stop stops the stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)

	slog.Info("mock stream stopped",
		"frames_emitted", m.emitted(),
		"duration", time.Since(m.startTime),
	)

	return nil
}

func (m *MockStream) emitted() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.framesEmitted
}

// Stats returns stream statistics
func (m *MockStream) Stats() types.StreamStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:  m.framesEmitted,
		FPSTarget:   m.fps,
		FPSReal:     fpsReal,
		Source:      m.source,
		Resolution:  fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected: m.isRunning,
	}
}

// generateFrames generates frames at the target FPS
func (m *MockStream) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

// createFrame draws a dark frame with a bright bar sweeping left to right
func (m *MockStream) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	img := image.NewNRGBA(image.Rect(0, 0, m.width, m.height))
	bg := color.NRGBA{R: 24, G: 24, B: 32, A: 0xff}
	bar := color.NRGBA{R: 220, G: 220, B: 220, A: 0xff}
	barX := int(seq*4) % max(m.width, 1)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			c := bg
			if x >= barX && x < barX+8 {
				c = bar
			}
			img.SetNRGBA(x, y, c)
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Image:     img,
		Source:    m.source,
		TraceID:   uuid.New().String(),
	}
}
