package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Invoice lifecycle
	InvoicesCreatedTotal  *prometheus.CounterVec
	InvoicesConsumedTotal *prometheus.CounterVec
	InvoiceStoreErrors    *prometheus.CounterVec

	// Payment verification
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec

	// Upstream proxy
	ForwardAttemptsTotal *prometheus.CounterVec
	ForwardDuration      *prometheus.HistogramVec
	ForwardExhaustedTotal prometheus.Counter

	// Settlement notification
	SettlementsTotal *prometheus.CounterVec

	// Circuit breakers
	CircuitBreakerStateChanges *prometheus.CounterVec

	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		InvoicesCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_invoices_created_total",
				Help: "Total number of payment invoices minted",
			},
			[]string{"method"},
		),
		InvoicesConsumedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_invoices_consumed_total",
				Help: "Total number of invoices marked used",
			},
			[]string{"method"},
		),
		InvoiceStoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_invoice_store_errors_total",
				Help: "Total number of invoice store operation failures",
			},
			[]string{"op", "backend"},
		),

		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_verifications_total",
				Help: "Total number of payment verification attempts",
			},
			[]string{"outcome", "source"}, // outcome: valid|invalid, source: facilitator|chain
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_verification_duration_seconds",
				Help:    "Time taken to verify a payment receipt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		),

		ForwardAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_forward_attempts_total",
				Help: "Total number of upstream forward attempts",
			},
			[]string{"provider", "outcome"},
		),
		ForwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_forward_duration_seconds",
				Help:    "Duration of upstream forward attempts",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),
		ForwardExhaustedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_forward_exhausted_total",
				Help: "Total number of requests for which every upstream provider failed",
			},
		),

		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_settlements_total",
				Help: "Total number of settlement notifications sent to the facilitator",
			},
			[]string{"settled"},
		),

		CircuitBreakerStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_state_changes_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"key", "to"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"route"},
		),
	}
}

// ObserveInvoiceCreated records a newly minted invoice.
func (m *Metrics) ObserveInvoiceCreated(method string) {
	m.InvoicesCreatedTotal.WithLabelValues(method).Inc()
}

// ObserveInvoiceConsumed records a successful mark-used transition.
func (m *Metrics) ObserveInvoiceConsumed(method string) {
	m.InvoicesConsumedTotal.WithLabelValues(method).Inc()
}

// ObserveInvoiceStoreError records an invoice store operation failure.
func (m *Metrics) ObserveInvoiceStoreError(op, backend string) {
	m.InvoiceStoreErrors.WithLabelValues(op, backend).Inc()
}

// ObserveVerification records a payment verification outcome.
func (m *Metrics) ObserveVerification(valid bool, source string, duration time.Duration) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.VerificationsTotal.WithLabelValues(outcome, source).Inc()
	m.VerificationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveForward records a single upstream forward attempt.
func (m *Metrics) ObserveForward(providerID string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.ForwardAttemptsTotal.WithLabelValues(providerID, outcome).Inc()
	m.ForwardDuration.WithLabelValues(providerID).Observe(duration.Seconds())
}

// ObserveForwardExhausted records that every candidate provider failed.
func (m *Metrics) ObserveForwardExhausted() {
	m.ForwardExhaustedTotal.Inc()
}

// ObserveSettlement records a settlement notification outcome.
func (m *Metrics) ObserveSettlement(settled bool) {
	label := "false"
	if settled {
		label = "true"
	}
	m.SettlementsTotal.WithLabelValues(label).Inc()
}

// ObserveCircuitBreakerStateChange records a breaker transition.
func (m *Metrics) ObserveCircuitBreakerStateChange(key, to string) {
	m.CircuitBreakerStateChanges.WithLabelValues(key, to).Inc()
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
