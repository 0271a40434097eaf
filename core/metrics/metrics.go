package metrics

import "time"

// Stage is a step of a customer's service.
type Stage int

const (
	StageRequested Stage = iota
	StageAssigned
	StageQueued
	StageDenied
	StagePickedUp
	StageCompleted
	// StageOrphaned is recorded when the serving taxi disconnects.
	StageOrphaned
)

var stageNames = map[Stage]string{
	StageRequested: "requested",
	StageAssigned:  "assigned",
	StageQueued:    "queued",
	StageDenied:    "denied",
	StagePickedUp:  "picked_up",
	StageCompleted: "completed",
	StageOrphaned:  "orphaned",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return "unknown"
}

// ServiceEvent records one step of a customer's service.
type ServiceEvent struct {
	Stage       Stage
	Customer    string
	Taxi        string
	Destination string
	Time        time.Time
}

// MetricsSink records service events for observability purposes.
type MetricsSink interface {
	RecordService(ev ServiceEvent) error
}

// FleetEvent is a census of the map taken after a state change.
type FleetEvent struct {
	Taxis     int
	Connected int
	Carrying  int
	Stopped   int
	Customers int
	Queued    int
	Locations int
	Time      time.Time
}

// FleetRecorder records fleet census events.
type FleetRecorder interface {
	RecordFleet(ev FleetEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordService(ServiceEvent) error { return nil }
func (NopSink) RecordFleet(FleetEvent) error     { return nil }
