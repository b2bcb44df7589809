// Package metrics provides Prometheus metrics for order planning, execution
// and history refresh.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Planner
	PlansBuilt     *prometheus.CounterVec
	PlanningErrors *prometheus.CounterVec

	// Execution
	CandidatesSimulated *prometheus.CounterVec
	SimulationLatency   prometheus.Histogram
	Outcomes            *prometheus.CounterVec

	// History
	Refreshes        *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	OrdersByStatus   *prometheus.GaugeVec
	StaleCycles      prometheus.Counter
	LastRefreshCycle prometheus.Gauge
}

// NewMetrics registers every metric on reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "autonomy_orders"
	}
	f := promauto.With(reg)

	return &Metrics{
		PlansBuilt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "plans_built_total",
			Help:      "Plans built by order kind and fee mode",
		}, []string{"kind", "fee_mode"}),
		PlanningErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "errors_total",
			Help:      "Intents rejected before any network call",
		}, []string{"reason"}),

		CandidatesSimulated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "candidates_simulated_total",
			Help:      "Gas simulations by result",
		}, []string{"result"}),
		SimulationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "simulation_latency_seconds",
			Help:      "Wall time of the candidate fan-out",
			Buckets:   prometheus.DefBuckets,
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "outcomes_total",
			Help:      "Execution outcomes by kind",
		}, []string{"kind"}),

		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "refreshes_total",
			Help:      "History refresh cycles by status",
		}, []string{"status"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "refresh_duration_seconds",
			Help:      "History refresh duration",
			Buckets:   prometheus.DefBuckets,
		}),
		OrdersByStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "orders",
			Help:      "Orders in the latest snapshot by status",
		}, []string{"status"}),
		StaleCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "stale_cycles_total",
			Help:      "Refresh results discarded because a newer cycle was already published",
		}),
		LastRefreshCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "last_published_cycle",
			Help:      "Cycle number of the latest published snapshot",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is registered on the default Prometheus registry.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

func RecordPlan(kind, feeMode string) {
	DefaultMetrics.PlansBuilt.WithLabelValues(kind, feeMode).Inc()
}

func RecordPlanningError(reason string) {
	DefaultMetrics.PlanningErrors.WithLabelValues(reason).Inc()
}

// RecordSimulation counts one candidate simulation ("ok" or "fail").
func RecordSimulation(result string) {
	DefaultMetrics.CandidatesSimulated.WithLabelValues(result).Inc()
}

func ObserveFanOut(d time.Duration) {
	DefaultMetrics.SimulationLatency.Observe(d.Seconds())
}

func RecordOutcome(kind string) {
	DefaultMetrics.Outcomes.WithLabelValues(kind).Inc()
}

// RecordRefresh records a refresh cycle; status is "published", "stale" or "error".
func RecordRefresh(status string, d time.Duration) {
	DefaultMetrics.Refreshes.WithLabelValues(status).Inc()
	DefaultMetrics.RefreshDuration.Observe(d.Seconds())
	if status == "stale" {
		DefaultMetrics.StaleCycles.Inc()
	}
}

// UpdateOrderCounts replaces the per-status gauges with the latest snapshot.
func UpdateOrderCounts(cycle uint64, counts map[string]int) {
	DefaultMetrics.OrdersByStatus.Reset()
	for status, n := range counts {
		DefaultMetrics.OrdersByStatus.WithLabelValues(status).Set(float64(n))
	}
	DefaultMetrics.LastRefreshCycle.Set(float64(cycle))
}
