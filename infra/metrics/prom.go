package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/taxifleet/core/metrics"
)

// PromSink records service and fleet events in Prometheus metrics.
type PromSink struct {
	services *prometheus.CounterVec
	fleet    *prometheus.GaugeVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The Prometheus server should be started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	services := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxifleet_service_events_total",
		Help: "Customer service steps by stage",
	}, []string{"stage"})
	fleet := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taxifleet_fleet_entities",
		Help: "Entities on the map by state",
	}, []string{"state"})

	if err := reg.Register(services); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		services = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(fleet); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		fleet = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	return &PromSink{services: services, fleet: fleet}, nil
}

// RecordService increments the counter of the event's stage.
func (s *PromSink) RecordService(ev coremetrics.ServiceEvent) error {
	s.services.WithLabelValues(ev.Stage.String()).Inc()
	return nil
}

// RecordFleet sets one gauge per counted state.
func (s *PromSink) RecordFleet(ev coremetrics.FleetEvent) error {
	s.fleet.WithLabelValues("taxis").Set(float64(ev.Taxis))
	s.fleet.WithLabelValues("connected").Set(float64(ev.Connected))
	s.fleet.WithLabelValues("carrying").Set(float64(ev.Carrying))
	s.fleet.WithLabelValues("stopped").Set(float64(ev.Stopped))
	s.fleet.WithLabelValues("customers").Set(float64(ev.Customers))
	s.fleet.WithLabelValues("queued").Set(float64(ev.Queued))
	return nil
}
