package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RecyclerMetrics struct {
	recycles       *prometheus.CounterVec
	claims         prometheus.Counter
	failures       *prometheus.CounterVec
	paymentTotal   prometheus.Counter
	proceedsTotal  prometheus.Counter
	claimedTotal   prometheus.Counter
	totalWeight    prometheus.Gauge
	weightPrice    prometheus.Gauge
	commitFailures prometheus.Counter
}

var (
	recyclerOnce     sync.Once
	recyclerRegistry *RecyclerMetrics
)

// Recycler returns the process-wide recycler metric set, registering it with
// the default prometheus registry on first use.
func Recycler() *RecyclerMetrics {
	recyclerOnce.Do(func() {
		recyclerRegistry = newRecyclerMetrics()
		prometheus.MustRegister(recyclerRegistry.collectors()...)
	})
	return recyclerRegistry
}

// NewRecyclerMetrics builds an unregistered metric set for tests and custom
// registries.
func NewRecyclerMetrics(reg prometheus.Registerer) *RecyclerMetrics {
	m := newRecyclerMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func newRecyclerMetrics() *RecyclerMetrics {
	return &RecyclerMetrics{
		recycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycler_recycles_total",
			Help: "Count of successful recycle calls by asset.",
		}, []string{"asset"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recycler_claims_total",
			Help: "Count of non-empty claims paid out.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recycler_failures_total",
			Help: "Count of rejected operations by operation and reason.",
		}, []string{"op", "reason"}),
		paymentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recycler_payment_wei_total",
			Help: "Cumulative payment attached to successful recycle calls, in wei.",
		}),
		proceedsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recycler_proceeds_wei_total",
			Help: "Cumulative router proceeds credited to the engine, in wei.",
		}),
		claimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recycler_claimed_wei_total",
			Help: "Cumulative proceeds paid out to participants, in wei.",
		}),
		totalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recycler_total_weight",
			Help: "Outstanding weight across all participants.",
		}),
		weightPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recycler_weight_price",
			Help: "Weight price observed by the most recent recycle call.",
		}),
		commitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recycler_commit_failures_total",
			Help: "Number of state commits that failed after a successful operation.",
		}),
	}
}

func (m *RecyclerMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recycles,
		m.claims,
		m.failures,
		m.paymentTotal,
		m.proceedsTotal,
		m.claimedTotal,
		m.totalWeight,
		m.weightPrice,
		m.commitFailures,
	}
}

// bigFloat converts wei amounts for prometheus. Precision loss above 2^53 is
// acceptable for dashboards.
func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func (m *RecyclerMetrics) ObserveRecycle(asset string, payment, proceeds, price *big.Int) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.recycles.WithLabelValues(asset).Inc()
	m.paymentTotal.Add(bigFloat(payment))
	m.proceedsTotal.Add(bigFloat(proceeds))
	m.weightPrice.Set(bigFloat(price))
}

func (m *RecyclerMetrics) ObserveClaim(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() == 0 {
		return
	}
	m.claims.Inc()
	m.claimedTotal.Add(bigFloat(amount))
}

func (m *RecyclerMetrics) ObserveFailure(op, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.failures.WithLabelValues(op, reason).Inc()
}

func (m *RecyclerMetrics) SetTotalWeight(weight *big.Int) {
	if m == nil {
		return
	}
	m.totalWeight.Set(bigFloat(weight))
}

func (m *RecyclerMetrics) ObserveCommitFailure() {
	if m == nil {
		return
	}
	m.commitFailures.Inc()
}
