package metrics

import (
	"time"

	"github.com/kilianp07/taxifleet/core/model"
)

// Census counts the entries of a map snapshot.
func Census(entries []model.MapEntry, at time.Time) FleetEvent {
	ev := FleetEvent{Time: at}
	for _, e := range entries {
		switch e.Kind {
		case model.KindTaxi:
			ev.Taxis++
			if e.Status != model.TaxiDisconnected {
				ev.Connected++
			}
			switch e.Status {
			case model.TaxiCarrying:
				ev.Carrying++
			case model.TaxiStopped:
				ev.Stopped++
			}
		case model.KindCustomer:
			ev.Customers++
			if e.Status == model.CustomerQueued {
				ev.Queued++
			}
		case model.KindLocation:
			ev.Locations++
		}
	}
	return ev
}
