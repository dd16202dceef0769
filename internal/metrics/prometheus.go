package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live dialog service
type Metrics struct {
	// Ingest metrics
	FramesReceived prometheus.Counter
	BytesReceived  prometheus.Counter
	DecodeErrors   prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Segmenter metrics
	PartialsEmitted     prometheus.Counter
	FinalsEmitted       prometheus.Counter
	UtterancesDiscarded prometheus.Counter
	UtteranceDuration   prometheus.Histogram

	// Dispatch metrics
	QueueDepth      prometheus.Gauge
	PartialsDropped prometheus.Counter
	FinalsRejected  prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	ResultsFiltered        prometheus.Counter
	DiarizationDegraded    prometheus.Counter

	// Merge metrics
	TurnsClosed   prometheus.Counter
	Interruptions prometheus.Counter

	// Output metrics
	WebsocketClients prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Ingest metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_frames_received_total",
			Help: "Total number of audio frames received",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_bytes_received_total",
			Help: "Total number of audio payload bytes received",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_decode_errors_total",
			Help: "Total number of audio decode errors",
		}),

		// Session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dialog_active_sessions",
			Help: "Current number of active sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialog_session_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Segmenter metrics
		PartialsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_partials_emitted_total",
			Help: "Total number of partial utterances emitted",
		}),
		FinalsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_finals_emitted_total",
			Help: "Total number of final utterances emitted",
		}),
		UtterancesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_utterances_discarded_total",
			Help: "Total number of utterances discarded below the minimum speech length",
		}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialog_utterance_duration_seconds",
			Help:    "Duration of finalized utterances",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 7), // 0.25s to 16s
		}),

		// Dispatch metrics
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dialog_dispatch_queue_depth",
			Help: "Current number of utterances awaiting transcription",
		}),
		PartialsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_partials_dropped_total",
			Help: "Total number of partial utterances dropped under backpressure",
		}),
		FinalsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_finals_rejected_total",
			Help: "Total number of final utterances rejected by a full queue",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dialog_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		ResultsFiltered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_results_filtered_total",
			Help: "Total number of transcription segments dropped by the noise filter",
		}),
		DiarizationDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_diarization_degraded_total",
			Help: "Total number of utterances labeled provisionally because speaker identification was unavailable",
		}),

		// Merge metrics
		TurnsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_turns_closed_total",
			Help: "Total number of dialog turns closed",
		}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dialog_interruptions_total",
			Help: "Total number of turns closed by an interrupting speaker",
		}),

		// Output metrics
		WebsocketClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dialog_websocket_clients",
			Help: "Current number of connected websocket clients",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialog_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dialog_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived records one decoded audio frame of the given size
func (m *Metrics) RecordFrameReceived(sizeBytes int) {
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(sizeBytes))
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionClosed increments the sessions closed counter and records duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordPartialEmitted increments the partials emitted counter
func (m *Metrics) RecordPartialEmitted() {
	m.PartialsEmitted.Inc()
}

// RecordFinalEmitted records a finalized utterance and its duration
func (m *Metrics) RecordFinalEmitted(durationSeconds float64) {
	m.FinalsEmitted.Inc()
	m.UtteranceDuration.Observe(durationSeconds)
}

// RecordUtteranceDiscarded increments the discarded utterances counter
func (m *Metrics) RecordUtteranceDiscarded() {
	m.UtterancesDiscarded.Inc()
}

// SetQueueDepth sets the current dispatch queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordPartialDropped increments the dropped partials counter
func (m *Metrics) RecordPartialDropped() {
	m.PartialsDropped.Inc()
}

// RecordFinalRejected increments the rejected finals counter
func (m *Metrics) RecordFinalRejected() {
	m.FinalsRejected.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordResultFiltered increments the filtered results counter
func (m *Metrics) RecordResultFiltered() {
	m.ResultsFiltered.Inc()
}

// RecordDiarizationDegraded increments the degraded diarization counter
func (m *Metrics) RecordDiarizationDegraded() {
	m.DiarizationDegraded.Inc()
}

// RecordTurnClosed records a closed turn, counting interruptions separately
func (m *Metrics) RecordTurnClosed(interrupted bool) {
	m.TurnsClosed.Inc()
	if interrupted {
		m.Interruptions.Inc()
	}
}

// SetWebsocketClients sets the current number of websocket clients
func (m *Metrics) SetWebsocketClients(count int) {
	m.WebsocketClients.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
