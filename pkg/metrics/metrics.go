// Package metrics exposes Prometheus collectors for voice sessions.
//
// Every method is safe on a nil *Metrics, so components can take an optional
// metrics value without nil checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockroom"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted   prometheus.Counter
	sessionsFailed    *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec
	audioChunks       *prometheus.CounterVec
	audioBytes        *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	interruptions     prometheus.Counter
	sourcesStopped    prometheus.Counter
}

// New registers the collectors on reg. A nil reg gets a fresh registry with
// the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: reg,
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions that reached the listening state",
		}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Session starts or live sessions that failed, by stage",
		}, []string{"stage"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Session status transitions, by new status",
		}, []string{"status"}),
		audioChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Audio chunks by direction (sent, received, dropped)",
		}, []string{"direction"}),
		audioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes by direction (sent, received)",
		}, []string{"direction"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (ok, error, unknown)",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"tool"}),
		interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interruptions_total",
			Help:      "Interruption events from the remote service",
		}),
		sourcesStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_sources_stopped_total",
			Help:      "Scheduled playback sources stopped by interruption or shutdown",
		}),
	}

	reg.MustRegister(
		m.sessionsStarted,
		m.sessionsFailed,
		m.statusTransitions,
		m.audioChunks,
		m.audioBytes,
		m.toolCalls,
		m.toolDuration,
		m.interruptions,
		m.sourcesStopped,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) SessionFailed(stage string) {
	if m == nil {
		return
	}
	m.sessionsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AudioSent(bytes int) {
	if m == nil {
		return
	}
	m.audioChunks.WithLabelValues("sent").Inc()
	m.audioBytes.WithLabelValues("sent").Add(float64(bytes))
}

func (m *Metrics) AudioReceived(bytes int) {
	if m == nil {
		return
	}
	m.audioChunks.WithLabelValues("received").Inc()
	m.audioBytes.WithLabelValues("received").Add(float64(bytes))
}

func (m *Metrics) AudioDropped() {
	if m == nil {
		return
	}
	m.audioChunks.WithLabelValues("dropped").Inc()
}

// ToolCall records one dispatched call.
func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// PlaybackInterrupted records an interruption that stopped n sources.
func (m *Metrics) PlaybackInterrupted(n int) {
	if m == nil {
		return
	}
	m.interruptions.Inc()
	m.sourcesStopped.Add(float64(n))
}
