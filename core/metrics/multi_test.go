package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordService(ServiceEvent) error {
	r.count++
	return nil
}

func (r *recordSink) RecordFleet(FleetEvent) error {
	r.count++
	return nil
}

type serviceOnly struct{ count int }

func (s *serviceOnly) RecordService(ServiceEvent) error {
	s.count++
	return nil
}

type failingSink struct{}

func (failingSink) RecordService(ServiceEvent) error { return errors.New("boom") }

// TestMultiSink ensures events are forwarded to all sinks.
func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	s3 := &serviceOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordService(ServiceEvent{Stage: StageAssigned}); err != nil {
		t.Fatalf("record service: %v", err)
	}
	if err := m.RecordFleet(FleetEvent{Taxis: 2}); err != nil {
		t.Fatalf("record fleet: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("expected 2 events per sink got %d and %d", s1.count, s2.count)
	}
	if s3.count != 1 {
		t.Fatalf("service-only sink got %d events", s3.count)
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	after := &recordSink{}
	m := NewMultiSink(failingSink{}, after)
	if err := m.RecordService(ServiceEvent{}); err == nil {
		t.Fatal("expected error")
	}
	if after.count != 0 {
		t.Fatal("sink after failure should not be called")
	}
}

func TestStageString(t *testing.T) {
	if StagePickedUp.String() != "picked_up" {
		t.Fatalf("got %s", StagePickedUp)
	}
	if Stage(99).String() != "unknown" {
		t.Fatalf("got %s", Stage(99))
	}
}
