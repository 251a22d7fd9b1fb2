package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech orchestrator
type Metrics struct {
	// Session metrics
	SessionState    prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	RejectedEvents  *prometheus.CounterVec

	// Segment metrics
	SegmentsCaptured prometheus.Counter
	SegmentDuration  prometheus.Histogram
	SegmentSize      prometheus.Histogram

	// Transcription metrics
	TranscriptionRequests  *prometheus.CounterVec
	TranscriptionSuccesses *prometheus.CounterVec
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  *prometheus.HistogramVec
	TranscriptionRetries   prometheus.Counter

	// Result metrics
	TranscriptsDelivered prometheus.Counter
	EmptyTranscripts     prometheus.Counter
	StaleResults         prometheus.Counter

	// Latency phases
	PhaseDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stt_session_state",
			Help: "Current orchestrator state (0=idle, 1=listening, 2=speech_active, 3=segment_dispatched)",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_started_total",
			Help: "Total number of times capture was armed",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_sessions_stopped_total",
			Help: "Total number of explicit stop commands",
		}),
		RejectedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_detector_events_rejected_total",
			Help: "Detector events rejected because the session was not in a state that accepts them",
		}, []string{"event", "state"}),

		// Segment metrics
		SegmentsCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_segments_captured_total",
			Help: "Total number of speech segments committed for transcription",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_duration_seconds",
			Help:    "Audio duration of committed speech segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stt_segment_payload_bytes",
			Help:    "Size of encoded segment payloads sent to backends",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_transcription_requests_total",
			Help: "Total number of transcription dispatches",
		}, []string{"backend"}),
		TranscriptionSuccesses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}, []string{"backend"}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_transcription_failures_total",
			Help: "Total number of failed transcriptions by error kind",
		}, []string{"backend", "kind"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_transcription_duration_seconds",
			Help:    "Duration of backend invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"backend"}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcription_retries_total",
			Help: "Total number of transport-level request retries",
		}),

		// Result metrics
		TranscriptsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcripts_delivered_total",
			Help: "Total number of non-empty transcripts handed to the consumer",
		}),
		EmptyTranscripts: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_transcripts_empty_total",
			Help: "Total number of transcripts suppressed because nothing remained after normalization",
		}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "stt_results_stale_total",
			Help: "Total number of results discarded because their segment was no longer in flight",
		}),

		// Latency phases
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_phase_duration_seconds",
			Help:    "Duration of pipeline phases (speech, transcribe)",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"phase"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stt_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stt_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// The Record* helpers below accept a nil receiver so components can run without metrics.

// SetSessionState records the numeric orchestrator state
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter
func (m *Metrics) RecordSessionStopped() {
	if m == nil {
		return
	}
	m.SessionsStopped.Inc()
}

// RecordRejectedEvent counts a detector event refused in the given state
func (m *Metrics) RecordRejectedEvent(event, state string) {
	if m == nil {
		return
	}
	m.RejectedEvents.WithLabelValues(event, state).Inc()
}

// RecordSegmentCaptured records a committed speech segment
func (m *Metrics) RecordSegmentCaptured(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsCaptured.Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordTranscriptionRequest records a dispatch and its encoded payload size
func (m *Metrics) RecordTranscriptionRequest(backend string, sizeBytes int) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(backend).Inc()
	if sizeBytes > 0 {
		m.SegmentSize.Observe(float64(sizeBytes))
	}
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(backend string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.WithLabelValues(backend).Inc()
	m.TranscriptionDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(backend, kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(backend, kind).Inc()
	if durationSeconds > 0 {
		m.TranscriptionDuration.WithLabelValues(backend).Observe(durationSeconds)
	}
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordTranscriptDelivered counts a transcript handed to the consumer
func (m *Metrics) RecordTranscriptDelivered() {
	if m == nil {
		return
	}
	m.TranscriptsDelivered.Inc()
}

// RecordEmptyTranscript counts a transcript suppressed after normalization
func (m *Metrics) RecordEmptyTranscript() {
	if m == nil {
		return
	}
	m.EmptyTranscripts.Inc()
}

// RecordStaleResult counts a discarded out-of-session result
func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

// RecordPhase observes the duration of a pipeline phase
func (m *Metrics) RecordPhase(phase string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
