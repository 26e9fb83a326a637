package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the request lifecycle, issuance and verification paths.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsSubmitted   prometheus.Counter
	Decisions           *prometheus.CounterVec
	CertificatesIssued  prometheus.Counter
	IssuanceFailures    prometheus.Counter
	IssuanceRetries     prometheus.Counter
	CertificatesRevoked prometheus.Counter
	Verifications       *prometheus.CounterVec
	DecideDuration      prometheus.Histogram
	VerifyDuration      prometheus.Histogram
	RateLimited         prometheus.Counter
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New registers every metric on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		RequestsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_requests_submitted_total",
			Help: "Total number of certificate requests submitted",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_request_decisions_total",
			Help: "Reviewer decisions by outcome",
		}, []string{"decision"}),
		CertificatesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_certificates_issued_total",
			Help: "Total number of certificates issued",
		}),
		IssuanceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_issuance_failures_total",
			Help: "Issuance attempts that left the request approved",
		}),
		IssuanceRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_issuance_retries_total",
			Help: "Issuance retries performed by the sweeper",
		}),
		CertificatesRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_certificates_revoked_total",
			Help: "Total number of certificates revoked",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_verifications_total",
			Help: "Public verification lookups by result",
		}, []string{"result"}),
		DecideDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_decide_duration_seconds",
			Help:    "Duration of decide operations including issuance",
			Buckets: latencyBuckets,
		}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_verify_duration_seconds",
			Help:    "Duration of public verification lookups",
			Buckets: latencyBuckets,
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "certify_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) IncrementSubmitted() {
	if m == nil {
		return
	}
	m.RequestsSubmitted.Inc()
}

// IncrementDecision records a reviewer decision ("approve" or "reject").
func (m *Metrics) IncrementDecision(decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.CertificatesIssued.Inc()
}

func (m *Metrics) IncrementIssuanceFailure() {
	if m == nil {
		return
	}
	m.IssuanceFailures.Inc()
}

func (m *Metrics) IncrementIssuanceRetry() {
	if m == nil {
		return
	}
	m.IssuanceRetries.Inc()
}

func (m *Metrics) IncrementRevoked() {
	if m == nil {
		return
	}
	m.CertificatesRevoked.Inc()
}

// IncrementVerification records a lookup outcome: "valid", "invalid" or "error".
func (m *Metrics) IncrementVerification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// ObserveDecide records the duration of a decide call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveDecide(start time.Time) {
	if m == nil {
		return
	}
	m.DecideDuration.Observe(time.Since(start).Seconds())
}

// ObserveVerify records the duration of a verify call.
func (m *Metrics) ObserveVerify(start time.Time) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}
