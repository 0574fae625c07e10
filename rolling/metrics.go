package rolling

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects executor-level request measurements. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesTotal      *prometheus.CounterVec
	inFlight        prometheus.Gauge
}

// NewMetrics creates the executor collectors and registers them with reg.
// A nil reg falls back to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickhouse_http_requests_total",
				Help: "Total number of HTTP requests sent to ClickHouse.",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clickhouse_http_request_duration_seconds",
				Help:    "ClickHouse HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickhouse_http_bytes_total",
				Help: "Bytes transferred to and from ClickHouse.",
			},
			[]string{"direction"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clickhouse_http_requests_in_flight",
				Help: "Number of ClickHouse HTTP requests currently in flight.",
			},
		),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.bytesTotal, m.inFlight)
	return m
}

func (m *Metrics) begin() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) end(method string, resp *Response, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()

	status := "error"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
		m.bytesTotal.WithLabelValues("sent").Add(float64(resp.Stats.BytesSent))
		m.bytesTotal.WithLabelValues("received").Add(float64(resp.Stats.BytesReceived))
	}
	m.requestsTotal.WithLabelValues(method, status).Inc()
	m.requestDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())
}
