package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
)

var messagesDropped *prometheus.CounterVec

func newCollectors() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_bus_messages_dropped_total",
			Help: "Broker messages discarded before reaching a subscriber",
		},
		[]string{"topic", "reason"},
	)
}

func init() {
	messagesDropped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers bus metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(messagesDropped)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	messagesDropped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
