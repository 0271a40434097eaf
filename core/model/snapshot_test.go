package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/taxifleet/core/grid"
)

func TestPackKeepsEveryField(t *testing.T) {
	e := MapEntry{
		Kind:      KindTaxi,
		ID:        99,
		Position:  grid.Coordinate{X: 19, Y: 7},
		Status:    TaxiCarrying,
		CanMove:   true,
		Objective: 'z',
		Carrying:  true,
	}
	got := UnpackEntry(e.Pack())
	if diff := cmp.Diff(e, got); diff != "" {
		t.Fatalf("unpacked entry mismatch (-want +got):\n%s", diff)
	}
}

func TestPackFieldsDoNotOverlap(t *testing.T) {
	a := MapEntry{Kind: KindLocation, ID: 'Z', Position: grid.Coordinate{X: 0, Y: 19}}
	b := MapEntry{Kind: KindLocation, ID: 'Z', Position: grid.Coordinate{X: 0, Y: 19}, Carrying: true}
	assert.NotEqual(t, a.Pack(), b.Pack())
	assert.Equal(t, uint32(1)<<31, a.Pack()^b.Pack())
}

func TestTaxiEntryStatus(t *testing.T) {
	c := CustomerID('a')
	tests := []struct {
		name string
		taxi Taxi
		want EntryStatus
	}{
		{"disconnected", Taxi{Connected: false, Moving: true, CanMove: true}, TaxiDisconnected},
		{"held", Taxi{Connected: true, Moving: false, CanMove: true}, TaxiStopped},
		{"blocked", Taxi{Connected: true, Moving: true, CanMove: false}, TaxiStopped},
		{"carrying", Taxi{Connected: true, Moving: true, CanMove: true, Carrying: true, Customer: &c}, TaxiCarrying},
		{"empty", Taxi{Connected: true, Moving: true, CanMove: true}, TaxiEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TaxiEntry(tt.taxi).Status)
		})
	}
	assert.Equal(t, byte('a'), TaxiEntry(Taxi{Customer: &c}).Objective)
}

func TestCustomerEntry(t *testing.T) {
	dest := LocationID('C')
	e := CustomerEntry(Customer{ID: 'b', Position: grid.Coordinate{X: 3, Y: 4}, Destination: &dest, Status: CustomerInQueue})
	assert.Equal(t, CustomerQueued, e.Status)
	assert.Equal(t, byte('C'), e.Objective)
	assert.Equal(t, KindCustomer, e.Kind)
}

func TestIDValidation(t *testing.T) {
	assert.True(t, TaxiID(0).Valid())
	assert.False(t, TaxiID(100).Valid())
	assert.False(t, TaxiID(-1).Valid())
	_, err := ParseCustomerID("A")
	assert.Error(t, err)
	id, err := ParseLocationID("B")
	assert.NoError(t, err)
	assert.Equal(t, "B", id.String())
}
