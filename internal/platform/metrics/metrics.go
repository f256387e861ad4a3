// Package metrics exposes Prometheus instrumentation for the HTTP surface and
// the growth Z-score engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
)

type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	zscoreTotal       *prometheus.CounterVec
	eventFailures     *prometheus.CounterVec
	streamDropped     prometheus.Counter
}

var _ lms.Observer = (*Metrics)(nil)

// New registers every collector on a private registry, plus the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		zscoreTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growth_zscore_calculations_total",
			Help: "Z-score calculations by chart type and outcome.",
		}, []string{"chart", "outcome"}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "growth_event_publish_failures_total",
			Help: "Growth events that could not be published.",
		}, []string{"type"}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "growth_stream_dropped_total",
			Help: "Stream frames discarded because a subscriber was too slow.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.zscoreTotal,
		m.eventFailures,
		m.streamDropped,
	)
	return m
}

// ObserveZScore implements lms.Observer.
func (m *Metrics) ObserveZScore(chart lms.ChartType, outcome lms.Outcome) {
	if m == nil {
		return
	}
	m.zscoreTotal.WithLabelValues(string(chart), string(outcome)).Inc()
}

// EventPublishFailed counts a dropped growth event.
func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// StreamFrameDropped counts a frame the stream hub could not deliver.
func (m *Metrics) StreamFrameDropped() {
	if m == nil {
		return
	}
	m.streamDropped.Inc()
}

// TrackStreamClients exports the live subscriber count reported by count.
func (m *Metrics) TrackStreamClients(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "growth_stream_clients",
		Help: "Connected growth stream clients.",
	}, func() float64 { return float64(count()) }))
}

// Middleware records request count and latency by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
