package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/care/drishti/internal/config"
	"github.com/care/drishti/internal/core"
	"github.com/care/drishti/internal/display"
	"github.com/care/drishti/internal/emitter"
	"github.com/care/drishti/internal/listener"
	"github.com/care/drishti/internal/metrics"
	"github.com/care/drishti/internal/perception"
	"github.com/care/drishti/internal/speech"
	"github.com/care/drishti/internal/stream"
)

const defaultConfigPath = "config/drishti.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log, *debug)

	slog.Info("starting drishti service",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"debug", *debug,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	// Frame source: losing the camera before the loop starts is fatal
	source, err := newFrameSource(cfg.Camera)
	if err != nil {
		slog.Error("failed to open frame source", "error", err)
		os.Exit(1)
	}

	// Perception
	sidecar, err := perception.StartSidecar(ctx, perception.SidecarConfig{
		Command: cfg.Perception.Command,
		Args:    cfg.Perception.Args,
		Timeout: config.Seconds(cfg.Perception.TimeoutS),
	})
	if err != nil {
		slog.Error("failed to start perception sidecar", "command", cfg.Perception.Command, "error", err)
		os.Exit(1)
	}

	var gallery perception.Gallery
	if cfg.Faces.DatabaseURL != "" {
		pg, err := perception.NewPGGallery(ctx, cfg.Faces.DatabaseURL)
		if err != nil {
			slog.Error("failed to open face gallery", "error", err)
			sidecar.Close()
			os.Exit(1)
		}
		gallery = pg
	}

	models := perception.NewModels(sidecar, gallery, perception.ModelsConfig{
		MaxSide:          cfg.Perception.MaxSide,
		JPEGQuality:      cfg.Perception.JPEGQuality,
		ObjectConfidence: cfg.Perception.ObjectConfidence,
		MatchThreshold:   cfg.Faces.MatchThreshold,
	})

	loaded, err := models.LoadKnownFaces(ctx, cfg.Faces.KnownDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("known faces folder not found", "dir", cfg.Faces.KnownDir)
	case err != nil:
		slog.Warn("failed to load known faces", "dir", cfg.Faces.KnownDir, "error", err)
	default:
		slog.Info("known faces loaded", "dir", cfg.Faces.KnownDir, "count", loaded)
	}

	// Events
	events := emitter.NewMulti()

	var mqttEmitter *emitter.MQTTEmitter
	var mqttEvents *emitter.Async
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg)
		if err := mqttEmitter.Connect(ctx); err != nil {
			if cfg.Listeners.MQTT {
				slog.Error("failed to connect mqtt", "error", err)
				os.Exit(1)
			}
			slog.Warn("mqtt unavailable, events stay local", "error", err)
			mqttEmitter = nil
		} else {
			mqttEvents = emitter.NewAsync(mqttEmitter, 256)
			events.Add(mqttEvents)
		}
	}

	// Speech
	chain := speech.BuildChain(speech.ChainConfig{
		Voice:             speech.Voice{Rate: cfg.Speech.Rate, Volume: cfg.Speech.Volume},
		Player:            cfg.Speech.Player,
		DeepgramAPIKey:    cfg.Speech.Deepgram.APIKey,
		DeepgramModel:     cfg.Speech.Deepgram.Model,
		ElevenLabsAPIKey:  cfg.Speech.ElevenLabs.APIKey,
		ElevenLabsVoiceID: cfg.Speech.ElevenLabs.VoiceID,
		ElevenLabsModelID: cfg.Speech.ElevenLabs.ModelID,
		Drivers:           cfg.Speech.Drivers,
	})
	gate := speech.NewGate(chain, config.Seconds(cfg.Speech.CooldownS),
		speech.WithGateMetrics(m),
		speech.WithDeliveryTimeout(config.Seconds(cfg.Speech.DeliveryTimeoutS)),
		speech.WithDeliveryObserver(func(d speech.Delivery) {
			ev := emitter.Event{Type: emitter.TypeSpoken, Text: d.Text, Driver: d.Driver}
			if d.Err != nil {
				ev.Error = d.Err.Error()
			}
			events.Publish(ev)
		}),
	)

	// Display, health and metrics
	var service atomic.Pointer[core.Drishti]
	server := display.NewServer(display.ServerConfig{
		Addr:           cfg.Display.Addr,
		PreviewMaxSide: cfg.Display.PreviewMaxSide,
		JPEGQuality:    cfg.Display.JPEGQuality,
	}, m.Handler(), func() (any, bool) {
		d := service.Load()
		if d == nil {
			return map[string]string{"status": "starting"}, false
		}
		return d.Readiness()
	})
	if err := server.Start(); err != nil {
		slog.Error("failed to start preview server", "error", err)
		os.Exit(1)
	}
	events.Add(server.Hub())

	var sink display.Display = server
	if cfg.Display.Mode == "none" {
		sink = display.NewNull()
	}

	// Command sources
	var listeners []listener.Listener
	if cfg.Listeners.Stdin {
		listeners = append(listeners, listener.NewLines("stdin", os.Stdin))
	}
	if p := cfg.Listeners.Process; p != nil {
		listeners = append(listeners, listener.NewProcess(p.Command, p.Args))
	}
	if cfg.Listeners.MQTT && mqttEmitter != nil {
		listeners = append(listeners, listener.NewMQTT(mqttEmitter.Client, cfg.MQTT.Topics.Commands, cfg.MQTT.QoS["commands"]))
	}

	drishti, err := core.New(cfg, core.Deps{
		Source:    source,
		Detector:  models,
		Reader:    models,
		Faces:     models,
		Speech:    gate,
		Display:   sink,
		Events:    events,
		Listeners: listeners,
		Metrics:   m,
	})
	if err != nil {
		slog.Error("failed to create drishti service", "error", err)
		os.Exit(1)
	}
	service.Store(drishti)

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- drishti.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal, exit command or error
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
	}
	if runErr != nil {
		slog.Error("service error", "error", runErr)
	}

	// Graceful shutdown
	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownErr := drishti.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		slog.Error("shutdown incomplete", "error", shutdownErr)
	}

	gate.Close()
	if mqttEvents != nil {
		mqttEvents.Close(time.Second)
	}
	if mqttEmitter != nil {
		if err := mqttEmitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}
	if err := sidecar.Close(); err != nil {
		slog.Debug("perception sidecar close", "error", err)
	}
	models.Close()
	server.Close()

	if runErr != nil || shutdownErr != nil {
		os.Exit(1)
	}
	slog.Info("drishti service stopped successfully")
}

// loadConfig reads path, falling back to defaults when the file is absent
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "config", path)
		return config.Default()
	}
	return cfg, err
}

func setupLogger(lc config.LogConfig, debug bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(lc.Level))); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		})
	}
	slog.SetDefault(slog.New(handler))
}

// newFrameSource picks the mock or a GStreamer capture source
func newFrameSource(c config.CameraConfig) (core.FrameSource, error) {
	if c.Mock {
		slog.Info("using mock stream")
		return stream.NewMockStream(c.Width, c.Height, c.FPS), nil
	}

	src, err := stream.NewGstSource(stream.GstConfig{
		Device: c.Device,
		URL:    c.URL,
		Width:  c.Width,
		Height: c.Height,
		FPS:    c.FPS,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}
