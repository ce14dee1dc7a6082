package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/kyc"
	"github.com/warp/savings-engine/savings"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	accrualAccounts *prometheus.CounterVec
	accrualInterest prometheus.Counter
	accrualFailures prometheus.Counter
	accrualDuration prometheus.Histogram
	transfers       *prometheus.CounterVec
	transferVolume  *prometheus.CounterVec
	conflictRetries prometheus.Counter
	limitRejections *prometheus.CounterVec
}

var (
	_ generic.LedgerObserver  = (*Metrics)(nil)
	_ kyc.RejectionObserver   = (*Metrics)(nil)
	_ savings.AccrualObserver = (*Metrics)(nil)
)

// NewMetrics registers the collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		accrualAccounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savings_accrual_accounts_total",
			Help: "Accounts handled by accrual runs, by outcome.",
		}, []string{"product", "status"}),
		accrualInterest: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savings_accrual_interest_minor_total",
			Help: "Interest credited by accrual runs, in minor units.",
		}),
		accrualFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "savings_accrual_run_failures_total",
			Help: "Per-account failures reported by finished accrual runs.",
		}),
		accrualDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "savings_accrual_run_duration_seconds",
			Help:    "Wall time of accrual runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Applied ledger transfers, by entry kind.",
		}, []string{"kind"}),
		transferVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfer_minor_total",
			Help: "Applied ledger transfer volume in minor units, by currency.",
		}, []string{"currency"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_conflict_retries_total",
			Help: "Units of work re-run after a version conflict.",
		}),
		limitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_limit_rejections_total",
			Help: "Movements rejected by the tier limit guard, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.accrualAccounts, m.accrualInterest, m.accrualFailures, m.accrualDuration,
		m.transfers, m.transferVolume, m.conflictRetries, m.limitRejections,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TransferApplied(kind generic.EntryKind, amount generic.Money) {
	m.transfers.WithLabelValues(string(kind)).Inc()
	m.transferVolume.WithLabelValues(string(amount.Currency)).Add(float64(amount.Minor))
}

func (m *Metrics) ConflictRetried() { m.conflictRetries.Inc() }

func (m *Metrics) LimitRejected(reason string) { m.limitRejections.WithLabelValues(reason).Inc() }

func (m *Metrics) AccountAccrued(product generic.Product, status generic.RunStatus, interest generic.Money) {
	m.accrualAccounts.WithLabelValues(string(product), string(status)).Inc()
	if interest.IsPositive() {
		m.accrualInterest.Add(float64(interest.Minor))
	}
}

func (m *Metrics) RunFinished(r savings.Report) {
	m.accrualDuration.Observe(r.Duration.Seconds())
	m.accrualFailures.Add(float64(len(r.Failures)))
}
