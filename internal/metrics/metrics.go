// Package metrics holds the Prometheus collectors for drishti. All methods
// are safe to call on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drishti"

// Metrics bundles every collector the service exports
type Metrics struct {
	registry *prometheus.Registry

	commandsEnqueued   *prometheus.CounterVec
	commandsDispatched *prometheus.CounterVec
	workerFailures     *prometheus.CounterVec
	workersInflight    prometheus.Gauge

	speechSubmitted  *prometheus.CounterVec
	speechDelivered  *prometheus.CounterVec
	speechFailed     prometheus.Counter
	speechQueueDepth prometheus.Gauge

	annotationsAdded   *prometheus.CounterVec
	annotationsDropped *prometheus.CounterVec
	annotationsLive    prometheus.Gauge

	framesRendered prometheus.Counter
	acquireMisses  prometheus.Counter
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		commandsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_enqueued_total",
			Help:      "Commands accepted from listeners.",
		}, []string{"source"}),
		commandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Commands dequeued by the main loop and handed to a worker.",
		}, []string{"command"}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Command workers that ended with a perception error or panic.",
		}, []string{"command"}),
		workersInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_inflight",
			Help:      "Command workers currently running.",
		}),
		speechSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_submitted_total",
			Help:      "Speech submissions by gate result.",
		}, []string{"result"}),
		speechDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_delivered_total",
			Help:      "Utterances delivered, by the driver that succeeded.",
		}, []string{"driver"}),
		speechFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_failed_total",
			Help:      "Utterances for which every driver failed.",
		}),
		speechQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Accepted utterances waiting for the speech worker.",
		}),
		annotationsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_added_total",
			Help:      "Annotations added to the store.",
		}, []string{"kind"}),
		annotationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_dropped_total",
			Help:      "Annotations removed by the render pass.",
		}, []string{"reason"}),
		annotationsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "annotations_live",
			Help:      "Annotations retained after the last render pass.",
		}),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames rendered and presented by the main loop.",
		}),
		acquireMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_acquire_misses_total",
			Help:      "Main loop iterations that found no frame.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commandsEnqueued, m.commandsDispatched, m.workerFailures, m.workersInflight,
		m.speechSubmitted, m.speechDelivered, m.speechFailed, m.speechQueueDepth,
		m.annotationsAdded, m.annotationsDropped, m.annotationsLive,
		m.framesRendered, m.acquireMisses,
	)
	return m
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CommandEnqueued(source string) {
	if m != nil {
		m.commandsEnqueued.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) CommandDispatched(command string) {
	if m != nil {
		m.commandsDispatched.WithLabelValues(commandLabel(command)).Inc()
	}
}

func (m *Metrics) WorkerFailed(command string) {
	if m != nil {
		m.workerFailures.WithLabelValues(commandLabel(command)).Inc()
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.workersInflight.Inc()
	}
}

func (m *Metrics) WorkerFinished() {
	if m != nil {
		m.workersInflight.Dec()
	}
}

func (m *Metrics) SpeechSubmitted(result string) {
	if m != nil {
		m.speechSubmitted.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SpeechDelivered(driver string) {
	if m != nil {
		m.speechDelivered.WithLabelValues(driver).Inc()
	}
}

func (m *Metrics) SpeechFailed() {
	if m != nil {
		m.speechFailed.Inc()
	}
}

func (m *Metrics) SpeechQueueDepth(n int) {
	if m != nil {
		m.speechQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) AnnotationAdded(kind string) {
	if m != nil {
		m.annotationsAdded.WithLabelValues(kind).Inc()
	}
}

// AnnotationsPruned records one render pass
func (m *Metrics) AnnotationsPruned(expired, overCapacity, live int) {
	if m == nil {
		return
	}
	if expired > 0 {
		m.annotationsDropped.WithLabelValues("expired").Add(float64(expired))
	}
	if overCapacity > 0 {
		m.annotationsDropped.WithLabelValues("capacity").Add(float64(overCapacity))
	}
	m.annotationsLive.Set(float64(live))
}

func (m *Metrics) FrameRendered() {
	if m != nil {
		m.framesRendered.Inc()
	}
}

func (m *Metrics) AcquireMiss() {
	if m != nil {
		m.acquireMisses.Inc()
	}
}

// commandLabel keeps label cardinality bounded: free-form text the
// worker ignores is reported as "other".
func commandLabel(command string) string {
	switch command {
	case "object", "read", "who", "exit":
		return command
	default:
		return "other"
	}
}
