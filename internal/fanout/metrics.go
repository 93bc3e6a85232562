package fanout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firefeed/internal/delivery"
	"firefeed/internal/news"
)

// Metrics are the Prometheus series of the fanout engine. A nil *Metrics records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	itemsFetched  prometheus.Counter
	deliveries    *prometheus.CounterVec
	rateDenials   *prometheus.CounterVec
	ineligible    *prometheus.CounterVec
	ledgerErrors  prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewMetrics registers the fanout series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firefeed_fanout_cycles_total",
			Help: "Fanout cycles by result.",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "firefeed_fanout_cycle_duration_seconds",
			Help:    "Wall time of one fanout cycle.",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
		itemsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "firefeed_fanout_items_fetched_total",
			Help: "Items pulled from the item source.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firefeed_deliveries_total",
			Help: "Delivery outcomes by recipient kind.",
		}, []string{"kind", "outcome"}),
		rateDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firefeed_rate_denials_total",
			Help: "Channel publications held back by the rate governor.",
		}, []string{"reason"}),
		ineligible: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firefeed_ineligible_targets_total",
			Help: "Targets skipped for lack of content in their language.",
		}, []string{"kind"}),
		ledgerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "firefeed_ledger_errors_total",
			Help: "Failed ledger reads or writes.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "firefeed_fanout_cycles_in_flight",
			Help: "Cycles currently running.",
		}),
	}
}

func (m *Metrics) cycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) fetched(n int) {
	if m == nil {
		return
	}
	m.itemsFetched.Add(float64(n))
}

func (m *Metrics) delivery(kind news.RecipientKind, o delivery.Outcome) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(kind), string(o)).Inc()
}

func (m *Metrics) denied(reason string) {
	if m == nil {
		return
	}
	m.rateDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) skippedIneligible(kind news.RecipientKind) {
	if m == nil {
		return
	}
	m.ineligible.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ledgerError() {
	if m == nil {
		return
	}
	m.ledgerErrors.Inc()
}

func (m *Metrics) running(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
