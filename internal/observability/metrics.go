package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coach_gateway_active_sessions",
		Help: "Number of active coaching sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coach_gateway_sessions_total",
		Help: "Total number of sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coach_gateway_session_duration_seconds",
		Help:    "Duration of coaching sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Transcription filter metrics
	filterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_filter_decisions_total",
		Help: "Transcription filter decisions by outcome",
	}, []string{"reason"}) // "accepted" or the rejection reason

	// Turn gate metrics
	gateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_gate_transitions_total",
		Help: "Turn gate state transitions",
	}, []string{"from", "to"})

	discardedResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coach_gateway_discarded_stt_results_total",
		Help: "STT results discarded while the gate was closed",
	})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coach_gateway_barge_ins_total",
		Help: "Playback interruptions triggered by barge-in",
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coach_gateway_stt_latency_seconds",
		Help:    "STT processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coach_gateway_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Reasoning service metrics
	reasoningRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_reasoning_requests_total",
		Help: "Total number of reasoning service requests",
	}, []string{"status"})

	reasoningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coach_gateway_reasoning_latency_seconds",
		Help:    "Reasoning service latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coach_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID          string
	startTime          time.Time
	sttStartTime       time.Time
	ttsStartTime       time.Time
	reasoningStartTime time.Time
	mu                 sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFilterDecision records a transcription filter outcome.
// reason is "accepted" for valid results, otherwise the rejection reason.
func (m *Metrics) RecordFilterDecision(reason string) {
	filterDecisions.WithLabelValues(reason).Inc()
}

// RecordGateTransition records a turn gate state change
func (m *Metrics) RecordGateTransition(from, to string) {
	gateTransitions.WithLabelValues(from, to).Inc()
}

// RecordDiscardedResult records an STT result dropped by a closed gate
func (m *Metrics) RecordDiscardedResult() {
	discardedResults.Inc()
}

// RecordBargeIn records a playback interruption
func (m *Metrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordSTTStart records the start of STT processing
func (m *Metrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the end of STT processing
func (m *Metrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		sttLatency.Observe(time.Since(m.sttStartTime).Seconds())
	}

	sttRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordReasoningStart records the start of a reasoning request
func (m *Metrics) RecordReasoningStart() {
	m.mu.Lock()
	m.reasoningStartTime = time.Now()
	m.mu.Unlock()
}

// RecordReasoningEnd records the end of a reasoning request
func (m *Metrics) RecordReasoningEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.reasoningStartTime.IsZero() {
		reasoningLatency.Observe(time.Since(m.reasoningStartTime).Seconds())
	}

	reasoningRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
