package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "surety"

// Metrics holds the marketplace collectors. Each instance owns its registry.
type Metrics struct {
	Registry *prometheus.Registry

	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	OracleResponses  *prometheus.CounterVec
	Resolutions      *prometheus.CounterVec
	PayoutsCredited  prometheus.Counter
	Withdrawals      *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	RequestsExpired  prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Marketplace operations by name and result.",
		}, []string{"op", "result"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent applying marketplace operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		OracleResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_responses_total",
			Help:      "Accepted oracle responses by status code.",
		}, []string{"status"}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "flight_resolutions_total",
			Help:      "Flight status resolutions reached by quorum.",
		}, []string{"status"}),
		PayoutsCredited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "payouts_credited_total",
			Help:      "Insurance policies credited after a late-airline resolution.",
		}),
		Withdrawals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal attempts by result.",
		}, []string{"result"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_delivered_total",
			Help:      "Outbox events handed to the publisher by kind and result.",
		}, []string{"kind", "result"}),
		RequestsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_requests_expired_total",
			Help:      "Oracle requests closed by the sweeper.",
		}),
	}
}

// Observe records the outcome of one operation.
func (m *Metrics) Observe(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(seconds)
}
