package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/taxifleet/core/metrics"
)

func TestPromSink_RecordService(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	for _, st := range []coremetrics.Stage{coremetrics.StageRequested, coremetrics.StageQueued, coremetrics.StageQueued} {
		if err := sink.RecordService(coremetrics.ServiceEvent{Stage: st}); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}

	expected := `
# HELP taxifleet_service_events_total Customer service steps by stage
# TYPE taxifleet_service_events_total counter
taxifleet_service_events_total{stage="queued"} 2
taxifleet_service_events_total{stage="requested"} 1
`
	if err := testutil.CollectAndCompare(sink.services, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestPromSink_RecordFleet(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	if err := sink.RecordFleet(coremetrics.FleetEvent{Taxis: 3, Queued: 2}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if v := testutil.ToFloat64(sink.fleet.WithLabelValues("taxis")); v != 3 {
		t.Errorf("taxis gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.fleet.WithLabelValues("queued")); v != 2 {
		t.Errorf("queued gauge = %v", v)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	second, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	if first.services != second.services {
		t.Fatal("expected the registered collector to be reused")
	}
}
