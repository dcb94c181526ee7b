// Package metrics exposes debate engine metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

// Metrics holds Prometheus metrics for the debate engine. It implements
// broadcast.Observer and runtime.Observer.
type Metrics struct {
	// Session lifecycle
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge

	// Turns
	TurnDuration   *prometheus.HistogramVec
	ProviderErrors *prometheus.CounterVec

	// Event stream
	EventsPublished     *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec
	SubscribersDetached *prometheus.CounterVec

	// Transcript mirror
	TranscriptSaves *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics on reg.
//
// Metrics:
//   - rostra_sessions_started_total
//   - rostra_sessions_stopped_total
//   - rostra_sessions_ended_total{reason}
//   - rostra_active_sessions
//   - rostra_turn_duration_seconds{speaker,provider}
//   - rostra_provider_errors_total{provider}
//   - rostra_events_published_total{type}
//   - rostra_events_dropped_total{type}
//   - rostra_subscribers_detached_total{reason}
//   - rostra_transcript_saves_total{result}
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "rostra_sessions_started_total",
			Help: "Total number of debate sessions started",
		}),
		SessionsStopped: f.NewCounter(prometheus.CounterOpts{
			Name: "rostra_sessions_stopped_total",
			Help: "Total number of stop requests that removed a session",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_sessions_ended_total",
			Help: "Total number of debate sessions ended",
		}, []string{"reason"}), // "cancelled", "error", "max_turns"
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "rostra_active_sessions",
			Help: "Current number of running debate sessions",
		}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rostra_turn_duration_seconds",
			Help:    "Duration of one speaker turn in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"speaker", "provider"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_provider_errors_total",
			Help: "Total number of provider failures that ended a debate",
		}, []string{"provider"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_events_published_total",
			Help: "Total number of stream events delivered to a subscriber",
		}, []string{"type"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_events_dropped_total",
			Help: "Total number of stream events dropped",
		}, []string{"type"}),
		SubscribersDetached: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_subscribers_detached_total",
			Help: "Total number of subscribers detached",
		}, []string{"reason"}), // "replaced", "slow", "closed"
		TranscriptSaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostra_transcript_saves_total",
			Help: "Total number of transcript snapshot saves",
		}, []string{"result"}),
	}
}

func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionStopped() {
	m.SessionsStopped.Inc()
}

func (m *Metrics) SessionEnded(reason broadcast.EndReason) {
	m.SessionsEnded.WithLabelValues(string(reason)).Inc()
	m.ActiveSessions.Dec()
}

func (m *Metrics) TurnCompleted(speaker debate.Speaker, provider string, elapsed time.Duration) {
	m.TurnDuration.WithLabelValues(speaker.String(), provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ProviderFailed(provider string) {
	m.ProviderErrors.WithLabelValues(provider).Inc()
}

func (m *Metrics) EventPublished(t broadcast.EventType) {
	m.EventsPublished.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) EventDropped(t broadcast.EventType) {
	m.EventsDropped.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) SubscriberDetached(reason string) {
	m.SubscribersDetached.WithLabelValues(reason).Inc()
}

// TranscriptSaved is a transcript.WriterConfig.OnResult callback.
func (m *Metrics) TranscriptSaved(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TranscriptSaves.WithLabelValues(result).Inc()
}
