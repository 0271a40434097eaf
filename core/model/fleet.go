package model

import (
	"fmt"
	"time"

	"github.com/kilianp07/taxifleet/core/grid"
)

// MaxTaxiID is the highest identifier a taxi may claim.
const MaxTaxiID = 99

// TaxiID identifies a taxi of the fleet.
type TaxiID int

// Valid reports whether the id is inside the accepted range.
func (id TaxiID) Valid() bool { return id >= 0 && id <= MaxTaxiID }

// CustomerID is a single lowercase letter.
type CustomerID byte

// Valid reports whether the id is a lowercase letter.
func (id CustomerID) Valid() bool { return id >= 'a' && id <= 'z' }

func (id CustomerID) String() string { return string(rune(id)) }

// LocationID is a single uppercase letter.
type LocationID byte

// Valid reports whether the id is an uppercase letter.
func (id LocationID) Valid() bool { return id >= 'A' && id <= 'Z' }

func (id LocationID) String() string { return string(rune(id)) }

// ParseCustomerID converts a one letter string into a CustomerID.
func ParseCustomerID(s string) (CustomerID, error) {
	if len(s) != 1 || !CustomerID(s[0]).Valid() {
		return 0, fmt.Errorf("invalid customer id %q", s)
	}
	return CustomerID(s[0]), nil
}

// ParseLocationID converts a one letter string into a LocationID.
func ParseLocationID(s string) (LocationID, error) {
	if len(s) != 1 || !LocationID(s[0]).Valid() {
		return 0, fmt.Errorf("invalid location id %q", s)
	}
	return LocationID(s[0]), nil
}

// Taxi is the dispatcher's authoritative view of a fleet member.
type Taxi struct {
	ID       TaxiID
	Position grid.Coordinate
	// Objective is a manual go-to target set by an operator, if any.
	Objective *grid.Coordinate
	Customer  *CustomerID
	Carrying  bool
	CanMove   bool
	// Moving is false while the taxi is held by a stop order.
	Moving    bool
	Connected bool
	// Available is false while the taxi is under a manual go-to.
	Available bool
	LastSeen  time.Time
	// Interrupted is the ride dropped by the last disconnection. A taxi
	// that reconnects takes it back if the customer is still queued.
	Interrupted *Interruption
}

// Interruption remembers a ride cut short by a disconnection.
type Interruption struct {
	Customer CustomerID
	Carrying bool
}

// Idle reports whether the taxi has nothing left to do.
func (t Taxi) Idle() bool { return t.Customer == nil && t.Objective == nil }

// Assignable reports whether the taxi may be matched with a new customer.
func (t Taxi) Assignable() bool {
	return t.Connected && t.Available && t.Moving && t.CanMove && t.Customer == nil
}

// CustomerStatus describes where a customer stands in its ride.
type CustomerStatus int

const (
	CustomerIdle CustomerStatus = iota
	CustomerWaitingTaxi
	CustomerInTaxi
	CustomerInQueue
)

func (s CustomerStatus) String() string {
	switch s {
	case CustomerWaitingTaxi:
		return "waiting_taxi"
	case CustomerInTaxi:
		return "in_taxi"
	case CustomerInQueue:
		return "in_queue"
	default:
		return "idle"
	}
}

// Customer is a passenger registered with the dispatcher.
type Customer struct {
	ID          CustomerID
	Position    grid.Coordinate
	Destination *LocationID
	Status      CustomerStatus
	LastSeen    time.Time
}

// Location is a named fixed point customers can travel to.
type Location struct {
	ID       LocationID      `json:"id"`
	Position grid.Coordinate `json:"position"`
}
