package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/drishti/internal/types"
)

// ErrNoCamera is returned when device probing finds no capture device
var ErrNoCamera = errors.New("stream: no camera device found")

// probeDevices are tried in order when the configured device is "auto"
var probeDevices = []string{"/dev/video0", "/dev/video1", "/dev/video2", "/dev/video3"}

// GstConfig configures a GStreamer capture source
type GstConfig struct {
	Device string // v4l2 device path or "auto"
	URL    string // any uridecodebin uri (rtsp://, file://); wins over Device
	Width  int
	Height int
	FPS    int
}

// GstSource captures RGBA frames through a GStreamer appsink pipeline.
// Network sources reconnect with exponential backoff.
type GstSource struct {
	cfg    GstConfig
	source string

	framesCh chan types.Frame
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu        sync.RWMutex
	pipeline  *gst.Pipeline
	isRunning bool
	startTime time.Time

	frameCount uint64
	bytesRead  uint64
	errors     uint64
	reconnects uint32
	connected  atomic.Bool
}

// NewGstSource validates the config and resolves the capture device
func NewGstSource(cfg GstConfig) (*GstSource, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("fps must be > 0")
	}

	source := cfg.URL
	if source == "" {
		dev, err := resolveDevice(cfg.Device, fileExists)
		if err != nil {
			return nil, err
		}
		cfg.Device = dev
		source = dev
	}

	return &GstSource{
		cfg:      cfg,
		source:   source,
		framesCh: make(chan types.Frame, 2),
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func resolveDevice(device string, exists func(string) bool) (string, error) {
	if device != "" && device != "auto" {
		if !exists(device) {
			return "", fmt.Errorf("%w: %s", ErrNoCamera, device)
		}
		return device, nil
	}
	for _, d := range probeDevices {
		if exists(d) {
			slog.Info("camera probe selected device", "device", d)
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: probed %s", ErrNoCamera, strings.Join(probeDevices, ", "))
}

// Start builds the pipeline and begins capturing. A pipeline that cannot
// be built or set to PLAYING is reported here.
func (s *GstSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("stream already running")
	}
	s.isRunning = true
	s.startTime = time.Now()
	s.mu.Unlock()

	gst.Init(nil)

	pipeline, err := s.buildPipeline()
	if err != nil {
		s.setStopped()
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.setStopped()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	s.setPipeline(pipeline)

	ctx, s.cancel = context.WithCancel(ctx)

	slog.Info("gstreamer source started",
		"source", s.source,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)

	s.wg.Add(1)
	go s.supervise(ctx, pipeline)

	return nil
}

func (s *GstSource) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

func (s *GstSource) setPipeline(p *gst.Pipeline) {
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
}

// supervise watches the bus and rebuilds the pipeline after errors
func (s *GstSource) supervise(ctx context.Context, pipeline *gst.Pipeline) {
	defer s.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := s.monitor(ctx, pipeline)
		s.connected.Store(false)
		pipeline.SetState(gst.StateNull)

		if ctx.Err() != nil {
			return
		}

		atomic.AddUint64(&s.errors, 1)
		slog.Warn("gstreamer pipeline stopped, reconnecting",
			"source", s.source,
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		next, buildErr := s.buildPipeline()
		if buildErr == nil {
			buildErr = next.SetState(gst.StatePlaying)
		}
		if buildErr != nil {
			slog.Error("gstreamer pipeline rebuild failed", "source", s.source, "error", buildErr)
			continue
		}
		pipeline = next
		s.setPipeline(pipeline)
		atomic.AddUint32(&s.reconnects, 1)
		backoff = time.Second
	}
}

func (s *GstSource) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstreamer pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"source", s.source,
			)
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstreamer pipeline state changed", "from", old, "to", new)
				if new == gst.StatePlaying {
					s.connected.Store(true)
				}
			}
		}
	}
}

// buildPipeline assembles:
// src -> videoconvert -> videoscale -> videorate -> capsfilter(RGBA) -> appsink
func (s *GstSource) buildPipeline() (*gst.Pipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	if s.cfg.URL != "" {
		src, err = gst.NewElement("uridecodebin")
		if err == nil {
			err = src.SetProperty("uri", s.cfg.URL)
		}
	} else {
		src, err = gst.NewElement("v4l2src")
		if err == nil {
			err = src.SetProperty("device", s.cfg.Device)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create source element: %w", err)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	rate.SetProperty("drop-only", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.AddMany(src, convert, scale, rate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add elements: %w", err)
	}

	if err := gst.ElementLinkMany(convert, scale, rate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link elements: %w", err)
	}

	if s.cfg.URL != "" {
		// uridecodebin exposes pads only once the stream is negotiated
		src.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			sinkPad := convert.GetStaticPad("sink")
			if sinkPad == nil || sinkPad.IsLinked() {
				return
			}
			if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
				slog.Debug("gstreamer pad not linked", "pad", srcPad.GetName(), "ret", ret)
			}
		})
	} else if err := src.Link(convert); err != nil {
		return nil, fmt.Errorf("failed to link source: %w", err)
	}

	return pipeline, nil
}

func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	want := s.cfg.Width * s.cfg.Height * 4
	if len(data) < want {
		buffer.Unmap()
		atomic.AddUint64(&s.errors, 1)
		slog.Debug("gstreamer short buffer", "got", len(data), "want", want)
		return gst.FlowOK
	}

	pix := make([]byte, want)
	copy(pix, data[:want])
	buffer.Unmap()

	seq := atomic.AddUint64(&s.frameCount, 1)
	atomic.AddUint64(&s.bytesRead, uint64(want))

	frame := types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Image: &image.NRGBA{
			Pix:    pix,
			Stride: s.cfg.Width * 4,
			Rect:   image.Rect(0, 0, s.cfg.Width, s.cfg.Height),
		},
		Source:  s.source,
		TraceID: uuid.New().String(),
	}

	select {
	case s.framesCh <- frame:
	default:
		// consumer is behind; the holder downstream only wants the newest
	}
	return gst.FlowOK
}

// Frames returns the frames channel
func (s *GstSource) Frames() <-chan types.Frame {
	return s.framesCh
}

// Stop tears the pipeline down and closes the frames channel
func (s *GstSource) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	pipeline := s.pipeline
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	var err error
	if pipeline != nil {
		err = pipeline.SetState(gst.StateNull)
	}
	close(s.framesCh)

	slog.Info("gstreamer source stopped",
		"source", s.source,
		"frames", atomic.LoadUint64(&s.frameCount),
		"reconnects", atomic.LoadUint32(&s.reconnects),
	)
	return err
}

// Stats returns capture statistics
func (s *GstSource) Stats() types.StreamStats {
	s.mu.RLock()
	started := s.startTime
	running := s.isRunning
	s.mu.RUnlock()

	frames := atomic.LoadUint64(&s.frameCount)
	var fps float64
	if running && frames > 0 {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			fps = float64(frames) / elapsed
		}
	}

	return types.StreamStats{
		FrameCount:  frames,
		FPSTarget:   s.cfg.FPS,
		FPSReal:     fps,
		Source:      s.source,
		Resolution:  fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		Reconnects:  atomic.LoadUint32(&s.reconnects),
		BytesRead:   atomic.LoadUint64(&s.bytesRead),
		IsConnected: s.connected.Load(),
		Errors:      atomic.LoadUint64(&s.errors),
	}
}
