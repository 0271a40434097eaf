package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordService forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordService(ev ServiceEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordService(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordFleet forwards census events to the sinks that support them.
func (m *MultiSink) RecordFleet(ev FleetEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FleetRecorder); ok {
			if err := rec.RecordFleet(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
