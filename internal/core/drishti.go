// Package core ties the assistant together: it owns the render loop,
// dispatches command workers and decides when the process stops.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/drishti/internal/annotate"
	"github.com/care/drishti/internal/command"
	"github.com/care/drishti/internal/config"
	"github.com/care/drishti/internal/display"
	"github.com/care/drishti/internal/emitter"
	"github.com/care/drishti/internal/framebus"
	"github.com/care/drishti/internal/listener"
	"github.com/care/drishti/internal/metrics"
	"github.com/care/drishti/internal/perception"
)

// Spoken at startup and on the way out
const (
	Greeting = "System ready. Say a command ('object', 'read', 'who', 'exit')."
	Farewell = "Exiting system..."
)

// Deps are the collaborators the orchestrator drives. Events, Listeners
// and Metrics are optional.
type Deps struct {
	Source    FrameSource
	Detector  perception.Detector
	Reader    perception.TextReader
	Faces     perception.FaceRecognizer
	Speech    Speaker
	Display   display.Display
	Events    emitter.Publisher
	Listeners []listener.Listener
	Metrics   *metrics.Metrics
}

// Drishti is the main service orchestrator
type Drishti struct {
	cfg *config.Config

	// Collaborators
	source   FrameSource
	detector perception.Detector
	reader   perception.TextReader
	faces    perception.FaceRecognizer
	speech   Speaker
	display  display.Display
	events   *emitter.Multi
	metrics  *metrics.Metrics

	// Owned components
	frames     *framebus.Holder
	channel    *command.Channel
	dispatcher *command.Dispatcher
	store      *annotate.Store
	listeners  *listener.Group

	acquireTimeout time.Duration
	retrySleep     time.Duration
	now            func() time.Time

	// running is the shutdown signal: true until exit or quit
	running     atomic.Bool
	stopOnce    sync.Once
	releaseOnce sync.Once

	// continuous scan state
	lastScan    time.Time
	scanning    atomic.Bool
	markerMu    sync.Mutex
	lastMarker  map[string]time.Time
	lastSummary time.Time

	iterations atomic.Uint64
	loopPanics atomic.Uint64

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
}

// New wires the orchestrator. cfg must already be validated.
func New(cfg *config.Config, deps Deps) (*Drishti, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("core: nil config")
	case deps.Source == nil:
		return nil, errors.New("core: frame source required")
	case deps.Detector == nil || deps.Reader == nil || deps.Faces == nil:
		return nil, errors.New("core: detector, reader and face recognizer required")
	case deps.Speech == nil:
		return nil, errors.New("core: speaker required")
	case deps.Display == nil:
		return nil, errors.New("core: display required")
	}

	d := &Drishti{
		cfg:            cfg,
		source:         deps.Source,
		detector:       deps.Detector,
		reader:         deps.Reader,
		faces:          deps.Faces,
		speech:         deps.Speech,
		display:        deps.Display,
		events:         emitter.NewMulti(deps.Events),
		metrics:        deps.Metrics,
		frames:         framebus.New(),
		channel:        command.NewChannel(),
		acquireTimeout: config.Seconds(cfg.Loop.AcquireTimeoutS),
		retrySleep:     config.Seconds(cfg.Loop.RetrySleepS),
		now:            time.Now,
		lastMarker:     make(map[string]time.Time),
	}
	d.running.Store(true)

	d.store = annotate.NewStore(
		config.Seconds(cfg.Annotations.TTLS),
		cfg.Annotations.Capacity,
		annotate.WithMetrics(deps.Metrics),
		annotate.WithObserver(d.publishAnnotation),
	)
	d.dispatcher = command.NewDispatcher(d.handle, cfg.Loop.WorkerPoolSize, deps.Metrics)

	feed := listener.NewFeed(d.channel, deps.Metrics, d.events, d.running.Load)
	d.listeners = listener.NewGroup(feed, deps.Listeners...)

	return d, nil
}

// Commands exposes the command channel so extra producers can enqueue
func (d *Drishti) Commands() *command.Channel {
	return d.channel
}

// Annotations exposes the annotation store
func (d *Drishti) Annotations() *annotate.Store {
	return d.store
}

// Running reports the shutdown signal
func (d *Drishti) Running() bool {
	return d.running.Load()
}

// Run starts capture and listeners, greets the user and runs the main
// loop until an exit command, a quit gesture or ctx cancellation.
// A frame source that cannot start or deliver a first frame is fatal.
func (d *Drishti) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	d.isRunning = true
	d.started = time.Now()
	d.mu.Unlock()

	slog.Info("drishti service starting",
		"instance_id", d.cfg.InstanceID,
		"worker_pool_size", d.cfg.Loop.WorkerPoolSize,
		"continuous_markers", d.cfg.Continuous.Markers,
		"continuous_speech", d.cfg.Continuous.Speech,
	)

	if err := d.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame source: %w", err)
	}

	d.wg.Add(1)
	go d.pumpFrames(ctx)

	openTimeout := config.Seconds(d.cfg.Camera.OpenTimeoutS)
	if openTimeout <= 0 {
		openTimeout = 5 * time.Second
	}
	if _, err := d.frames.Acquire(ctx, openTimeout); err != nil {
		d.release()
		return fmt.Errorf("no frame from %s within %s: %w", d.source.Stats().Source, openTimeout, err)
	}

	d.listeners.Start(ctx)
	d.speech.Submit(Greeting)

	slog.Info("drishti service running",
		"listeners", d.listeners.Len(),
		"source", d.source.Stats().Source,
	)

	for d.running.Load() {
		if ctx.Err() != nil {
			d.requestStop("signal")
			break
		}
		d.iterate(ctx)
	}

	slog.Info("main loop exited", "iterations", d.iterations.Load())
	return nil
}

// pumpFrames moves captured frames into the latest-frame holder
func (d *Drishti) pumpFrames(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-d.source.Frames():
			if !ok {
				slog.Info("frame source closed")
				return
			}
			if err := d.frames.Set(frame); err != nil {
				return
			}
		}
	}
}

// iterate runs one pass of the main loop. Nothing that goes wrong inside
// it may stop the loop.
func (d *Drishti) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.loopPanics.Add(1)
			slog.Error("main loop iteration panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	d.iterations.Add(1)

	// 1. acquire
	frame, err := d.frames.Acquire(ctx, d.acquireTimeout)
	if err != nil {
		if ctx.Err() != nil || !d.running.Load() {
			return
		}
		d.metrics.AcquireMiss()
		if !errors.Is(err, framebus.ErrNoFrame) {
			slog.Warn("frame acquire failed", "error", err)
		}
		d.sleep(ctx, d.retrySleep)
		return
	}

	// 2. continuous scan
	d.maybeScan(ctx, frame)

	// 3. at most one command per iteration
	if d.running.Load() {
		if cmd, ok := d.channel.TryDequeue(); ok {
			if cmd.Text == command.Exit {
				d.running.Store(false)
			}
			d.dispatcher.Dispatch(ctx, cmd, frame)
		}
	}

	// 4. render
	d.store.RenderAndPrune(frame.Image)
	if err := d.display.Present(frame); err != nil {
		slog.Debug("frame not presented", "seq", frame.Seq, "error", err)
	} else {
		d.metrics.FrameRendered()
	}

	// 5. quit gesture
	select {
	case <-d.display.Quit():
		d.requestStop("quit gesture")
	default:
	}
}

func (d *Drishti) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// requestStop sets the shutdown signal, says goodbye and releases capture
// and display. Only the first call has an effect beyond the signal.
func (d *Drishti) requestStop(reason string) {
	d.running.Store(false)
	d.stopOnce.Do(func() {
		slog.Info("shutdown requested", "reason", reason)
		d.speech.Submit(Farewell)
		d.publish(emitter.Event{Type: emitter.TypeShutdown, Text: reason})
		d.release()
	})
}

// release stops capture and closes the display. Failures are logged and
// swallowed.
func (d *Drishti) release() {
	d.releaseOnce.Do(func() {
		if err := d.source.Stop(); err != nil {
			slog.Debug("frame source release failed", "error", err)
		}
		d.frames.Close()
		if err := d.display.Close(); err != nil {
			slog.Debug("display release failed", "error", err)
		}
	})
}

// waitBackground waits for the frame pump and any continuous scan, or
// until ctx is done.
func (d *Drishti) waitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks: %w", ctx.Err())
	}
}

func (d *Drishti) publish(ev emitter.Event) {
	if err := d.events.Publish(ev); err != nil {
		slog.Debug("event not published", "type", ev.Type, "error", err)
	}
}

func (d *Drishti) publishAnnotation(a annotate.Annotation) {
	bbox := a.BBox
	d.publish(emitter.Event{
		Type:    emitter.TypeAnnotation,
		Kind:    string(a.Kind),
		Caption: a.Caption,
		BBox:    &bbox,
	})
}

// Shutdown stops listeners, waits for in-flight command workers and lets
// the speech queue drain, all bounded by ctx.
func (d *Drishti) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	slog.Info("shutting down drishti service")
	d.running.Store(false)

	// 1. no new commands
	d.listeners.Stop(time.Second)

	// 2. capture and display
	d.release()

	// 3. in-flight workers and the continuous scan
	var errs []error
	if err := d.dispatcher.Wait(ctx); err != nil {
		slog.Warn("command workers still running at shutdown", "error", err)
		errs = append(errs, err)
	}
	if err := d.waitBackground(ctx); err != nil {
		slog.Warn("frame pump or continuous scan still running at shutdown", "error", err)
		errs = append(errs, err)
	}

	// 4. queued speech
	if err := d.speech.Flush(ctx); err != nil {
		slog.Warn("speech queue not drained", "pending", d.speech.Pending(), "error", err)
		errs = append(errs, err)
	}

	d.mu.Lock()
	uptime := time.Since(d.started)
	d.isRunning = false
	d.mu.Unlock()

	stats := d.dispatcher.Stats()
	slog.Info("drishti service shutdown complete",
		"uptime", uptime,
		"commands_dispatched", stats.Dispatched,
		"commands_failed", stats.Failed,
		"frames", d.frames.Stats().Acquired,
	)

	return errors.Join(errs...)
}
