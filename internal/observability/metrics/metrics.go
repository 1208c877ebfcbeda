package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediguard"

// AppMetrics exposes collectors for live subscriptions, store writes,
// outbound API calls, calendar sync and watch connections.
type AppMetrics struct {
	subscriptions    *prometheus.GaugeVec
	storeWrites      *prometheus.CounterVec
	apiCalls         *prometheus.CounterVec
	apiLatency       *prometheus.HistogramVec
	calendarSync     *prometheus.CounterVec
	watchConnections prometheus.Gauge
}

func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "live",
			Name:      "active_subscriptions",
			Help:      "Open live-query subscriptions per feed",
		}, []string{"feed"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "docstore",
			Name:      "writes_total",
			Help:      "Document store writes by operation, collection and status",
		}, []string{"op", "collection", "status"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "medapi",
			Name:      "calls_total",
			Help:      "Outbound AI/calendar API calls",
		}, []string{"op", "outcome"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "medapi",
			Name:      "call_latency_seconds",
			Help:      "Latency of outbound AI/calendar API calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		calendarSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calendar",
			Name:      "sync_jobs_total",
			Help:      "Processed calendar sync jobs by outcome",
		}, []string{"outcome"}),
		watchConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "connections",
			Help:      "Connected app-shell websockets",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.subscriptions, m.storeWrites, m.apiCalls, m.apiLatency, m.calendarSync, m.watchConnections)
	return m
}

func (m *AppMetrics) SubscriptionOpened(feed string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(feed).Inc()
}

func (m *AppMetrics) SubscriptionClosed(feed string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(feed).Dec()
}

// ObserveWrite counts one store write. Collection should be the top-level
// collection name so user ids do not become label values.
func (m *AppMetrics) ObserveWrite(op, collection string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.storeWrites.WithLabelValues(op, collection, status).Inc()
}

func (m *AppMetrics) ObserveCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(op, outcome).Inc()
	m.apiLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *AppMetrics) ObserveCalendarSync(outcome string) {
	if m == nil {
		return
	}
	m.calendarSync.WithLabelValues(outcome).Inc()
}

func (m *AppMetrics) WatchConnected() {
	if m == nil {
		return
	}
	m.watchConnections.Inc()
}

func (m *AppMetrics) WatchDisconnected() {
	if m == nil {
		return
	}
	m.watchConnections.Dec()
}
