package observability

import (
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the switch.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	transactionsTotal *prometheus.CounterVec
	legDuration       *prometheus.HistogramVec
	compensations     *prometheus.CounterVec
	vpaCacheHits      *prometheus.CounterVec
	vpaCacheMisses    *prometheus.CounterVec
	settlementBatches *prometheus.CounterVec
	settledAmount     *prometheus.CounterVec
	routingRejections *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switch_request_duration_seconds",
				Help:    "Duration of switch operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_transactions_total",
				Help: "Transactions by terminal status.",
			},
			[]string{"status"},
		),
		legDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "switch_bank_leg_duration_seconds",
				Help:    "Duration of debit/credit legs by bank.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"bank", "leg"},
		),
		compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_compensations_total",
				Help: "Debit reversals by outcome.",
			},
			[]string{"outcome"},
		),
		vpaCacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_vpa_cache_hits_total",
				Help: "VPA resolution cache hits.",
			},
			[]string{"cache"},
		),
		vpaCacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_vpa_cache_misses_total",
				Help: "VPA resolution cache misses.",
			},
			[]string{"cache"},
		),
		settlementBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_settlement_batches_total",
				Help: "Settlement batches by outcome.",
			},
			[]string{"outcome"},
		),
		settledAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_settled_amount_paisa_total",
				Help: "Gross settled amount in paisa.",
			},
			[]string{"bank"},
		),
		routingRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switch_routing_rejections_total",
				Help: "Transactions refused before any bank call.",
			},
			[]string{"reason"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTransaction counts a transaction reaching a terminal status.
func (m *Metrics) IncrTransaction(status domain.TransactionStatus) {
	m.transactionsTotal.WithLabelValues(string(status)).Inc()
}

// RecordLegDuration records one bank leg call.
func (m *Metrics) RecordLegDuration(bank string, leg domain.LegType, d time.Duration) {
	m.legDuration.WithLabelValues(bank, string(leg)).Observe(d.Seconds())
}

// IncrCompensation counts a compensation attempt outcome
// ("success", "retried", "exhausted").
func (m *Metrics) IncrCompensation(outcome string) {
	m.compensations.WithLabelValues(outcome).Inc()
}

// IncrVPACacheHit increments the VPA cache hit counter.
func (m *Metrics) IncrVPACacheHit(cache string) {
	m.vpaCacheHits.WithLabelValues(cache).Inc()
}

// IncrVPACacheMiss increments the VPA cache miss counter.
func (m *Metrics) IncrVPACacheMiss(cache string) {
	m.vpaCacheMisses.WithLabelValues(cache).Inc()
}

// IncrSettlementBatch counts a settlement batch outcome.
func (m *Metrics) IncrSettlementBatch(outcome string) {
	m.settlementBatches.WithLabelValues(outcome).Inc()
}

// AddSettledAmount adds gross settled paisa for a bank.
func (m *Metrics) AddSettledAmount(bank string, paisa int64) {
	m.settledAmount.WithLabelValues(bank).Add(float64(paisa))
}

// IncrRoutingRejection counts a circuit-break / registry refusal.
func (m *Metrics) IncrRoutingRejection(reason string) {
	m.routingRejections.WithLabelValues(reason).Inc()
}

// SwitchSnapshot is the payload of GET /v1/metrics/switch.
type SwitchSnapshot struct {
	TotalTransactions   int64   `json:"totalTransactions"`
	SuccessTransactions int64   `json:"successTransactions"`
	FailedTransactions  int64   `json:"failedTransactions"`
	SuccessRate         float64 `json:"successRate"`
	CompensationsRun    int64   `json:"compensationsRun"`
	VPACacheHitRate     float64 `json:"vpaCacheHitRate"`
	SettlementBatches   int64   `json:"settlementBatches"`
	Period              string  `json:"period"`
}

// Snapshot gathers current counter values for the metrics endpoint.
func (m *Metrics) Snapshot() *SwitchSnapshot {
	success := getCounterValue(m.transactionsTotal, string(domain.StatusSuccess))
	var total float64
	for _, s := range []domain.TransactionStatus{
		domain.StatusSuccess, domain.StatusFailed, domain.StatusTimeout,
		domain.StatusInsufficientFunds, domain.StatusLimitExceeded,
		domain.StatusAccountFrozen, domain.StatusInvalidAccount,
		domain.StatusCancelled, domain.StatusReversed,
	} {
		total += getCounterValue(m.transactionsTotal, string(s))
	}
	failed := total - success

	hits := getCounterValue(m.vpaCacheHits, "vpa")
	misses := getCounterValue(m.vpaCacheMisses, "vpa")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	successRate := float64(0)
	if total > 0 {
		successRate = success / total
	}

	comp := getCounterValue(m.compensations, "success") +
		getCounterValue(m.compensations, "exhausted")
	batches := getCounterValue(m.settlementBatches, "completed") +
		getCounterValue(m.settlementBatches, "failed")

	return &SwitchSnapshot{
		TotalTransactions:   int64(total),
		SuccessTransactions: int64(success),
		FailedTransactions:  int64(failed),
		SuccessRate:         successRate,
		CompensationsRun:    int64(comp),
		VPACacheHitRate:     hitRate,
		SettlementBatches:   int64(batches),
		Period:              "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
