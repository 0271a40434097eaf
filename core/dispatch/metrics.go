package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsHandled *prometheus.CounterVec
	requestsDropped *prometheus.CounterVec
	handleLatency   *prometheus.HistogramVec
	queueLength     prometheus.Gauge
	straysFound     *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge, *prometheus.CounterVec) {
	handled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_requests_total",
			Help: "Requests processed by the dispatcher",
		},
		[]string{"subject"},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_requests_dropped_total",
			Help: "Requests discarded before processing",
		},
		[]string{"reason"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_handle_seconds",
			Help:    "Time spent handling one request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)
	queue := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_queue_length",
			Help: "Customers waiting for a taxi",
		},
	)
	strays := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_strays_total",
			Help: "Entities disconnected for missing heartbeats",
		},
		[]string{"kind"},
	)
	return handled, dropped, lat, queue, strays
}

func init() {
	requestsHandled, requestsDropped, handleLatency, queueLength, straysFound = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatcher metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsHandled, requestsDropped, handleLatency, queueLength, straysFound)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	requestsHandled, requestsDropped, handleLatency, queueLength, straysFound = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
