package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalystpull",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of pipeline endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalystpull",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by pipeline endpoint",
		},
		[]string{"endpoint"},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalystpull",
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Connected change-stream subscribers",
		},
	)

	ChangesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalystpull",
			Subsystem: "realtime",
			Name:      "dropped_total",
			Help:      "Change notifications dropped, by stage",
		},
		[]string{"stage"},
	)
)

// Register registers the collectors with the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(EndpointLatency, EndpointErrors, Subscribers, ChangesDropped)
	})
}
