package telemetry

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scout_sessions_started_total",
		Help: "Research sessions started.",
	})
	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_sessions_finished_total",
		Help: "Research sessions finished, by terminal state.",
	}, []string{"state"})
	researchRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scout_research_rounds_total",
		Help: "Completed research fan-out rounds.",
	})
	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_provider_attempts_total",
		Help: "Provider search attempts, by provider and outcome.",
	}, []string{"provider", "outcome"})
	indexWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_index_writes_total",
		Help: "Evidence index chunk writes, by backend and outcome.",
	}, []string{"backend", "outcome"})
	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scout_session_duration_seconds",
		Help:    "Wall-clock duration of research sessions.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Telemetry records engine-level events into prometheus collectors and the
// shared logger. A nil *Telemetry is safe to use and records nothing.
type Telemetry struct {
	logger *log.Logger
}

// New builds a telemetry recorder.
func New(logger *log.Logger) *Telemetry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags)
	}
	return &Telemetry{logger: logger}
}

// RecordSessionStart counts a new session.
func (t *Telemetry) RecordSessionStart() {
	if t == nil {
		return
	}
	sessionsStarted.Inc()
}

// RecordSessionEnd counts a finished session with its terminal state.
func (t *Telemetry) RecordSessionEnd(state string, elapsed time.Duration) {
	if t == nil {
		return
	}
	sessionsFinished.WithLabelValues(state).Inc()
	sessionDuration.Observe(elapsed.Seconds())
}

// RecordRound counts a completed research round.
func (t *Telemetry) RecordRound() {
	if t == nil {
		return
	}
	researchRounds.Inc()
}

// RecordProviderAttempt counts one provider call.
func (t *Telemetry) RecordProviderAttempt(provider string, success bool) {
	if t == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordIndexWrite counts one backend chunk write.
func (t *Telemetry) RecordIndexWrite(backend string, success bool) {
	if t == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	indexWrites.WithLabelValues(backend, outcome).Inc()
}
