// Package metrics exposes node counters to Prometheus. It is both an event
// sink for the coordinator and the sequencer's batch observer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/levelbook/pkg/app/core/exchange"
	"github.com/uhyunpark/levelbook/pkg/app/nftx"
)

type Metrics struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	units       *prometheus.CounterVec
	txs         *prometheus.CounterVec
	txLatency   *prometheus.HistogramVec
	batches     prometheus.Counter
	batchSize   prometheus.Histogram
	batchHeight prometheus.Gauge
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levelbook_events_total",
			Help: "Committed ledger events by type",
		}, []string{"type"}),
		units: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levelbook_matched_units_total",
			Help: "Units settled by match events, by taker side",
		}, []string{"type"}),
		txs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "levelbook_txs_total",
			Help: "Signed requests applied by the sequencer",
		}, []string{"type", "result"}),
		txLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "levelbook_tx_apply_seconds",
			Help:    "Time to verify and apply one signed request",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}, []string{"type"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: "levelbook_batches_total",
			Help: "Non-empty batches committed",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "levelbook_batch_size",
			Help:    "Requests per committed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		batchHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "levelbook_batch_height",
			Help: "Height of the last committed batch",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Deliver counts committed events.
func (m *Metrics) Deliver(_ context.Context, events []exchange.Event) error {
	for _, e := range events {
		m.events.WithLabelValues(string(e.Type)).Inc()
		if e.Type == exchange.EventSellMatch || e.Type == exchange.EventBuyMatch {
			m.units.WithLabelValues(string(e.Type)).Add(float64(e.Amount))
		}
	}
	return nil
}

func (m *Metrics) ObserveTx(r nftx.TxResult, took time.Duration) {
	result := "ok"
	if r.Err != "" {
		result = "rejected"
	}
	m.txs.WithLabelValues(r.Type, result).Inc()
	m.txLatency.WithLabelValues(r.Type).Observe(took.Seconds())
}

func (m *Metrics) ObserveBatch(b nftx.BatchResult) {
	m.batches.Inc()
	m.batchSize.Observe(float64(len(b.Results)))
	m.batchHeight.Set(float64(b.Height))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
