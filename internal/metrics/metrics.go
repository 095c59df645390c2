// Package metrics exposes pipeline outcomes to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	autoSales    prometheus.Counter
	anomalies    prometheus.Counter
	httpRequests *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopledger_operations_total",
				Help: "Engine operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopledger_operation_duration_seconds",
				Help:    "Duration of engine operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		autoSales: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopledger_stock_count_auto_sales_total",
			Help: "Bottles inferred as unrecorded sales by stock counts",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shopledger_stock_count_anomalies_total",
			Help: "Counted products with more bottles than physically possible",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopledger_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(m.operations, m.latency, m.autoSales, m.anomalies, m.httpRequests)
	return m
}

// Observe records one operation; outcome is "ok" when err is nil, otherwise the
// caller-supplied error class.
func (m *Metrics) Observe(operation string, started time.Time, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordCount(autoSales int, anomalies int) {
	if m == nil {
		return
	}
	m.autoSales.Add(float64(autoSales))
	m.anomalies.Add(float64(anomalies))
}

func (m *Metrics) RecordRequest(method string, route string, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
