package app

import (
	"net/http"

	"polyburg/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "polyburg"

// Metrics groups the service's Prometheus collectors. Each instance owns a
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	TradesIngested  prometheus.Counter
	TradesDuplicate prometheus.Counter
	MarketsUpserted prometheus.Counter
	PollRuns        *prometheus.CounterVec
	PollSkipped     *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	Alerts          *prometheus.CounterVec
	UpstreamRetries prometheus.Counter
	WSPriceUpdates  prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TradesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "trades_total",
			Help:      "Trades appended to the store",
		}),
		TradesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "trades_duplicate_total",
			Help:      "Trades dropped because their id was already ingested",
		}),
		MarketsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "markets_upserted_total",
			Help:      "Markets written by refreshes",
		}),
		PollRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion task runs by task and result",
		}, []string{"task", "result"}),
		PollSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "runs_skipped_total",
			Help:      "Ticks skipped because the previous run was still in flight",
		}, []string{"task"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Ingestion task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Large trade alerts by result",
		}, []string{"result"}),
		UpstreamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Venue requests retried after a transient failure",
		}),
		WSPriceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "price_updates_total",
			Help:      "Token prices applied from the market websocket",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.TradesIngested,
		m.TradesDuplicate,
		m.MarketsUpserted,
		m.PollRuns,
		m.PollSkipped,
		m.PollDuration,
		m.Alerts,
		m.UpstreamRetries,
		m.WSPriceUpdates,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterStore exposes store collection sizes as gauges read at scrape
// time.
func (m *Metrics) RegisterStore(s *store.Store) {
	gauge := func(name, help string, read func(store.Counts) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(s.Counts())) })
	}

	m.registry.MustRegister(
		gauge("markets", "Markets held in memory", func(c store.Counts) int { return c.Markets }),
		gauge("trades", "Trades retained in the log", func(c store.Counts) int { return c.Trades }),
		gauge("positions", "Open positions", func(c store.Counts) int { return c.Positions }),
		gauge("wallets", "Wallets with statistics", func(c store.Counts) int { return c.Wallets }),
	)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
