// Package sensor implements the link between a taxi and its on-board
// sensor: the status/reply frames and the sensor side of the exchange.
package sensor

import (
	"fmt"
	"time"

	"github.com/kilianp07/taxifleet/core/wire"
)

// Importance grades an incident reported by the sensor.
type Importance uint8

const (
	ImportanceNone Importance = iota
	ImportanceMinor
	ImportanceNormal
	ImportanceMajor
	ImportanceFatal
)

// Duration is how long an incident of this importance blocks the taxi.
func (i Importance) Duration() time.Duration {
	switch i {
	case ImportanceMinor:
		return 5 * time.Second
	case ImportanceNormal:
		return 15 * time.Second
	case ImportanceMajor:
		return 30 * time.Second
	default:
		return 0
	}
}

func (i Importance) String() string {
	switch i {
	case ImportanceMinor:
		return "minor"
	case ImportanceNormal:
		return "normal"
	case ImportanceMajor:
		return "major"
	case ImportanceFatal:
		return "fatal"
	default:
		return "none"
	}
}

// ParseImportance reads an importance name.
func ParseImportance(s string) (Importance, error) {
	for i := ImportanceNone; i <= ImportanceFatal; i++ {
		if i.String() == s {
			return i, nil
		}
	}
	return ImportanceNone, fmt.Errorf("unknown importance %q", s)
}

// Reason tells why the sensor stopped the taxi.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonTrafficLight
	ReasonPedestrian
	ReasonObstacle
	ReasonBreakdown
)

func (r Reason) String() string {
	switch r {
	case ReasonTrafficLight:
		return "traffic_light"
	case ReasonPedestrian:
		return "pedestrian"
	case ReasonObstacle:
		return "obstacle"
	case ReasonBreakdown:
		return "breakdown"
	default:
		return "none"
	}
}

// Status is what the sensor reports every cycle.
type Status struct {
	CanMove    bool
	Fatal      bool
	Importance Importance
	Reason     Reason
}

// Reply is the taxi's answer to a status frame.
type Reply struct {
	OrderedToStop bool
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeStatus builds a status frame.
func EncodeStatus(s Status) wire.Frame {
	f, _ := wire.Seal([]byte{flag(s.CanMove), flag(s.Fatal), byte(s.Importance), byte(s.Reason)})
	return f
}

// DecodeStatus parses a status frame.
func DecodeStatus(f wire.Frame) (Status, error) {
	p, err := wire.Open(f, 4)
	if err != nil {
		return Status{}, err
	}
	return Status{CanMove: p[0] == 1, Fatal: p[1] == 1, Importance: Importance(p[2]), Reason: Reason(p[3])}, nil
}

// EncodeReply builds a reply frame.
func EncodeReply(r Reply) wire.Frame {
	f, _ := wire.Seal([]byte{flag(r.OrderedToStop)})
	return f
}

// DecodeReply parses a reply frame.
func DecodeReply(f wire.Frame) (Reply, error) {
	p, err := wire.Open(f, 1)
	if err != nil {
		return Reply{}, err
	}
	return Reply{OrderedToStop: p[0] == 1}, nil
}
