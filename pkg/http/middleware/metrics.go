package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpMetricsOnce sync.Once
	httpRegisterer  prometheus.Registerer = prometheus.DefaultRegisterer

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpInFlight     prometheus.Gauge
	httpResponseSize *prometheus.HistogramVec
)

// SetMetricsRegisterer must run before the first Metrics call.
func SetMetricsRegisterer(reg prometheus.Registerer) { httpRegisterer = reg }

func initHTTPMetrics() {
	httpMetricsOnce.Do(func() {
		f := promauto.With(httpRegisterer)
		httpRequests = f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalystpull_http_requests_total",
			Help: "HTTP requests by route template, method and status class",
		}, []string{"route", "method", "class"})
		httpDuration = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalystpull_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method"})
		httpInFlight = f.NewGauge(prometheus.GaugeOpts{
			Name: "catalystpull_http_in_flight_requests",
			Help: "Requests currently being served",
		})
		httpResponseSize = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalystpull_http_response_size_bytes",
			Help:    "Response body size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"route"})
	})
}

// Metrics records request metrics labelled by the echo route template so
// path parameters do not blow up cardinality. Paths in skip are ignored.
func Metrics(skip ...string) echo.MiddlewareFunc {
	initHTTPMetrics()
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := skipped[c.Request().URL.Path]; ok {
				return next(c)
			}
			httpInFlight.Inc()
			defer httpInFlight.Dec()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(route, method, statusClass(c.Response().Status)).Inc()
			httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			httpResponseSize.WithLabelValues(route).Observe(float64(c.Response().Size))
			return nil
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
