package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/spec-kit/checkpoint-service/internal/domain"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	issued           prometheus.Counter
	redemptions      *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	scores           prometheus.Histogram
	swept            prometheus.Counter
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkpoint_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_credentials_issued_total",
			Help: "QR credentials issued.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_credential_redemptions_total",
			Help: "Credential redemption attempts by result.",
		}, []string{"result"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkpoint_sessions_finished_total",
			Help: "Verification sessions reaching a terminal stage.",
		}, []string{"stage", "reason"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkpoint_similarity_scores",
			Help:    "Submitted biometric similarity scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_credentials_swept_total",
			Help: "Expired credentials removed by the sweeper.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.issued, m.redemptions, m.sessionsFinished, m.scores, m.swept,
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// CredentialIssued counts an issued credential.
func (m *Metrics) CredentialIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

// CredentialRedeemed counts a redemption by its validation status.
func (m *Metrics) CredentialRedeemed(status domain.ValidationStatus) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(string(status)).Inc()
}

// SessionFinished counts a session reaching a terminal stage.
func (m *Metrics) SessionFinished(stage domain.SessionStage, reason domain.SessionReason) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(string(stage), string(reason)).Inc()
}

// ScoreObserved records a submitted similarity score.
func (m *Metrics) ScoreObserved(score float64) {
	if m == nil {
		return
	}
	m.scores.Observe(score)
}

// CredentialsSwept adds n removed credentials.
func (m *Metrics) CredentialsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
