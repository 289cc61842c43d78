package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/popradar/pkg/aggregate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for passes and queries. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	recordsFetched  *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	passDuration    prometheus.Summary
	passesTotal     *prometheus.CounterVec
	lastSuccessTS   prometheus.Gauge
	snapshotRecords prometheus.Gauge
	queriesTotal    *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.recordsFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradar",
		Name:      "records_fetched_total",
		Help:      "Records returned by source adapters",
	}, []string{"platform", "region"})
	m.fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradar",
		Name:      "fetch_failures_total",
		Help:      "Adapter calls that ended with a diagnostic error",
	}, []string{"platform", "region"})
	m.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradar",
		Name:      "rate_limited_total",
		Help:      "Adapter calls halted by an upstream throttle signal",
	}, []string{"platform", "region"})
	m.passDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "popradar",
		Name:      "pass_duration_seconds",
		Help:      "Time spent on a full aggregation pass",
	})
	m.passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradar",
		Name:      "passes_total",
		Help:      "Aggregation passes by outcome",
	}, []string{"outcome"})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popradar",
		Name:      "last_snapshot_timestamp_seconds",
		Help:      "Unix timestamp of the last snapshot written",
	})
	m.snapshotRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popradar",
		Name:      "snapshot_records",
		Help:      "Records in the current snapshot",
	})
	m.queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popradar",
		Name:      "queries_total",
		Help:      "Workflow queries by HTTP status",
	}, []string{"status"})

	m.registry.MustRegister(
		m.recordsFetched, m.fetchFailures, m.rateLimited,
		m.passDuration, m.passesTotal, m.lastSuccessTS,
		m.snapshotRecords, m.queriesTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch implements aggregate.Observer.
func (m *Metrics) ObserveFetch(r aggregate.Report) {
	if m == nil {
		return
	}
	platform := string(r.Platform)
	m.recordsFetched.WithLabelValues(platform, r.Region).Add(float64(r.Records))
	if r.Err != nil {
		m.fetchFailures.WithLabelValues(platform, r.Region).Inc()
	}
	if r.RateLimited {
		m.rateLimited.WithLabelValues(platform, r.Region).Inc()
	}
}

// ObservePass records a finished pass. outcome is "written", "empty",
// "cancelled" or "error".
func (m *Metrics) ObservePass(d time.Duration, outcome string, records int) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
	m.passesTotal.WithLabelValues(outcome).Inc()
	if outcome == "written" {
		m.lastSuccessTS.SetToCurrentTime()
		m.snapshotRecords.Set(float64(records))
	}
}

// SetSnapshotRecords updates the snapshot size after a reload.
func (m *Metrics) SetSnapshotRecords(n int) {
	if m == nil {
		return
	}
	m.snapshotRecords.Set(float64(n))
}

// ObserveQuery counts a query by its response status.
func (m *Metrics) ObserveQuery(status int) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
