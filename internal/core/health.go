package core

import (
	"time"

	"github.com/care/drishti/internal/command"
	"github.com/care/drishti/internal/framebus"
)

// HealthStatus represents the health state of the drishti service
type HealthStatus struct {
	Status          string                  `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64                   `json:"uptime_seconds"`
	Running         bool                    `json:"running"`
	StreamConnected bool                    `json:"stream_connected"`
	StreamFPS       float64                 `json:"stream_fps"`
	Iterations      uint64                  `json:"loop_iterations"`
	LoopPanics      uint64                  `json:"loop_panics"`
	Frames          framebus.Stats          `json:"frames"`
	CommandsQueued  int                     `json:"commands_queued"`
	CommandsTotal   uint64                  `json:"commands_total"`
	Workers         command.DispatcherStats `json:"workers"`
	SpeechPending   int                     `json:"speech_pending"`
	Annotations     int                     `json:"annotations"`
}

// HealthCheck returns the current health status of the service
func (d *Drishti) HealthCheck() HealthStatus {
	d.mu.RLock()
	isRunning := d.isRunning
	started := d.started
	d.mu.RUnlock()

	stream := d.source.Stats()
	status := HealthStatus{
		Status:          "healthy",
		Running:         isRunning && d.running.Load(),
		StreamConnected: stream.IsConnected,
		StreamFPS:       float64(int(stream.FPSReal*100)) / 100,
		Iterations:      d.iterations.Load(),
		LoopPanics:      d.loopPanics.Load(),
		Frames:          d.frames.Stats(),
		CommandsQueued:  d.channel.Len(),
		CommandsTotal:   d.channel.Total(),
		Workers:         d.dispatcher.Stats(),
		SpeechPending:   d.speech.Pending(),
		Annotations:     d.store.Len(),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	switch {
	case !status.Running:
		status.Status = "unhealthy"
	case !status.StreamConnected:
		status.Status = "degraded"
	}
	return status
}

// Readiness adapts HealthCheck to the display server's status hook.
// Degraded still counts as ready.
func (d *Drishti) Readiness() (any, bool) {
	h := d.HealthCheck()
	return h, h.Status != "unhealthy"
}
