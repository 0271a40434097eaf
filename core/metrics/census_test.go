package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/taxifleet/core/model"
)

func TestCensus(t *testing.T) {
	now := time.Now()
	entries := []model.MapEntry{
		{Kind: model.KindTaxi, Status: model.TaxiEmpty},
		{Kind: model.KindTaxi, Status: model.TaxiCarrying},
		{Kind: model.KindTaxi, Status: model.TaxiDisconnected},
		{Kind: model.KindTaxi, Status: model.TaxiStopped},
		{Kind: model.KindCustomer, Status: model.CustomerQueued},
		{Kind: model.KindCustomer, Status: model.CustomerRiding},
		{Kind: model.KindLocation},
	}
	assert.Equal(t, FleetEvent{
		Taxis: 4, Connected: 3, Carrying: 1, Stopped: 1,
		Customers: 2, Queued: 1, Locations: 1, Time: now,
	}, Census(entries, now))
}
