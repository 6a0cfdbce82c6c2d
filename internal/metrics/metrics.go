// Package metrics exposes Prometheus counters for the trade path:
//
//	trade_bot_trades_total{outcome}               results of PlaceTrade (success|error|info)
//	trade_bot_orders_total{exchange,side,kind}    orders acknowledged (kind: open|close)
//	trade_bot_order_failures_total{exchange,kind} orders rejected or failed
//	trade_bot_quota_rejections_total{plan}        trades refused by the plan limit
//	trade_bot_accounting_warnings_total           trades placed but not counted
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	trades             *prometheus.CounterVec
	orders             *prometheus.CounterVec
	orderFailures      *prometheus.CounterVec
	quotaRejections    *prometheus.CounterVec
	accountingWarnings prometheus.Counter
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: newRuntimeRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_bot_trades_total",
				Help: "Trade requests by outcome",
			},
			[]string{"outcome"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_bot_orders_total",
				Help: "Orders acknowledged by an exchange",
			},
			[]string{"exchange", "side", "kind"},
		),
		orderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_bot_order_failures_total",
				Help: "Orders that were rejected or failed",
			},
			[]string{"exchange", "kind"},
		),
		quotaRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_bot_quota_rejections_total",
				Help: "Trades refused because the plan's trade limit was reached",
			},
			[]string{"plan"},
		),
		accountingWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trade_bot_accounting_warnings_total",
				Help: "Trades placed whose trade count could not be updated",
			},
		),
	}

	m.registry.MustRegister(
		m.trades,
		m.orders,
		m.orderFailures,
		m.quotaRejections,
		m.accountingWarnings,
	)
	return m
}

func newRuntimeRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RuntimeHandler serves only the Go runtime and process collectors, for
// processes that do not trade.
func RuntimeHandler() http.Handler {
	return promhttp.HandlerFor(newRuntimeRegistry(), promhttp.HandlerOpts{})
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TradeOutcome(outcome string) {
	m.trades.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OrderPlaced(exchange, side, kind string) {
	m.orders.WithLabelValues(exchange, side, kind).Inc()
}

func (m *Metrics) OrderFailed(exchange, kind string) {
	m.orderFailures.WithLabelValues(exchange, kind).Inc()
}

func (m *Metrics) QuotaRejected(plan string) {
	m.quotaRejections.WithLabelValues(plan).Inc()
}

func (m *Metrics) AccountingWarning() {
	m.accountingWarnings.Inc()
}
