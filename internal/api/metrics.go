package api

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects server metrics. Counters are kept both as atomics for the
// JSON snapshot on /metricz and in a per-server Prometheus registry for
// /metrics.
type Metrics struct {
	startTime    time.Time
	requests     atomic.Int64
	serverErrors atomic.Int64
	clientErrors atomic.Int64
	configReads  atomic.Int64
	saves        atomic.Int64
	saveRejects  atomic.Int64

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	savesTotal      *prometheus.CounterVec
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Requests      int64   `json:"requests"`
	ServerErrors  int64   `json:"server_errors"`
	ClientErrors  int64   `json:"client_errors"`
	ConfigReads   int64   `json:"config_reads"`
	SavesAccepted int64   `json:"saves_accepted"`
	SavesRejected int64   `json:"saves_rejected"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		startTime: time.Now(),
		registry:  reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		savesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_config_saves_total",
			Help: "Configuration save attempts by outcome",
		}, []string{"outcome"}),
	}
}

// RecordRequest counts one finished request.
func (m *Metrics) RecordRequest(route string, code int, dur time.Duration) {
	m.requests.Add(1)
	switch {
	case code >= 500:
		m.serverErrors.Add(1)
	case code >= 400:
		m.clientErrors.Add(1)
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordConfigRead counts a served configuration document.
func (m *Metrics) RecordConfigRead() {
	m.configReads.Add(1)
}

// RecordSave counts a save attempt by its audit outcome.
func (m *Metrics) RecordSave(outcome string, accepted bool) {
	if accepted {
		m.saves.Add(1)
	} else {
		m.saveRejects.Add(1)
	}
	m.savesTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Requests:      m.requests.Load(),
		ServerErrors:  m.serverErrors.Load(),
		ClientErrors:  m.clientErrors.Load(),
		ConfigReads:   m.configReads.Load(),
		SavesAccepted: m.saves.Load(),
		SavesRejected: m.saveRejects.Load(),
	}
}
