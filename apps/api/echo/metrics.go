package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "school"

// Metrics are the prometheus collectors of the API process.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec

	ImportBatches    *prometheus.CounterVec // by outcome: staged, committed, discarded, expired
	ImportedStudents prometheus.Counter
	Promotions       *prometheus.CounterVec // by outcome: promoted, skipped
	Rollovers        prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ImportBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "batches_total",
			Help:      "Import batches by outcome.",
		}, []string{"outcome"}),
		ImportedStudents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "students_created_total",
			Help:      "Students created by import commits.",
		}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "promotion",
			Name:      "students_total",
			Help:      "Students processed by bulk promotions, by outcome.",
		}, []string{"outcome"}),
		Rollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollover",
			Name:      "commits_total",
			Help:      "Committed session rollovers.",
		}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.ImportBatches, m.ImportedStudents, m.Promotions, m.Rollovers)
	return m
}

// Middleware records the count and latency of every request.
// Errors are handled here so that the recorded code is the one sent.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}

			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ctx.Request().Method
			m.Requests.WithLabelValues(method, route, strconv.Itoa(ctx.Response().Status)).Inc()
			m.Latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// ReapHook counts the batches expired by the reaper.
func (m *Metrics) ReapHook(n int) {
	m.ImportBatches.WithLabelValues("expired").Add(float64(n))
}
