// Package store defines the persistence contract the dispatcher relies on.
// Every operation is atomic with respect to the others; implementations
// serialise them internally so the dispatcher never holds a lock across a
// store call.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
)

var (
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate is returned when inserting an id that is already in use.
	ErrDuplicate = errors.New("duplicate entity")
	// ErrNoTaxiAvailable is returned by AssignTaxi when nothing can serve.
	ErrNoTaxiAvailable = errors.New("no taxi available")
	// ErrInvalidState is returned when an operation does not apply to the
	// entity's current state.
	ErrInvalidState = errors.New("invalid entity state")
)

// ClaimResult is the outcome of a taxi identity claim.
type ClaimResult int

const (
	ClaimRejected ClaimResult = iota
	ClaimNew
	ClaimReconnect
)

func (c ClaimResult) String() string {
	switch c {
	case ClaimNew:
		return "new"
	case ClaimReconnect:
		return "reconnect"
	default:
		return "rejected"
	}
}

// Assignment pairs a customer with the taxi sent to fetch it.
type Assignment struct {
	Taxi             model.TaxiID
	Customer         model.CustomerID
	CustomerPosition grid.Coordinate
	Destination      model.LocationID
}

// Phase is what a taxi is currently doing, as far as the dispatcher knows.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseManual
	PhaseToCustomer
	PhaseToDestination
)

func (p Phase) String() string {
	switch p {
	case PhaseManual:
		return "manual"
	case PhaseToCustomer:
		return "to_customer"
	case PhaseToDestination:
		return "to_destination"
	default:
		return "idle"
	}
}

// TaxiStatus is the authoritative position and next target of a taxi.
type TaxiStatus struct {
	Phase    Phase
	Position grid.Coordinate
	// Target is meaningful for every phase but PhaseIdle.
	Target   grid.Coordinate
	Customer *model.CustomerID
}

// Arrived reports whether the taxi sits on its target.
func (s TaxiStatus) Arrived() bool {
	return s.Phase != PhaseIdle && s.Position == s.Target
}

// Ride describes a customer boarding or leaving a taxi.
type Ride struct {
	Taxi        model.TaxiID
	Customer    model.CustomerID
	Destination model.LocationID
	Target      grid.Coordinate
}

// Orphan is a customer left behind by a disconnected taxi.
type Orphan struct {
	Customer model.CustomerID
	Taxi     model.TaxiID
	// Position is the taxi's last known coordinate.
	Position grid.Coordinate
}

// Stale lists entities whose heartbeat lapsed.
type Stale struct {
	Taxis     []model.TaxiID
	Customers []model.CustomerID
}

// Store is the dispatcher's persistence collaborator.
type Store interface {
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Session returns the persisted session, empty when none exists.
	Session(ctx context.Context) (string, error)
	// Reset wipes all entities, seeds locations and records a new session.
	Reset(ctx context.Context, session string, locations []model.Location) error

	// ClaimTaxi registers a new taxi, reconnects a disconnected one, or
	// rejects an id held by a connected taxi. The first claimer wins.
	ClaimTaxi(ctx context.Context, id model.TaxiID) (ClaimResult, error)
	// InsertCustomer registers a customer or fails with ErrDuplicate.
	InsertCustomer(ctx context.Context, id model.CustomerID, pos grid.Coordinate) error

	// AssignTaxi records the customer's destination and matches it with
	// the nearest assignable taxi, lowest id on ties. ErrNoTaxiAvailable
	// leaves the destination recorded so the customer can be queued.
	AssignTaxi(ctx context.Context, customer model.CustomerID, dest model.LocationID) (Assignment, error)
	// Enqueue appends the customer to the waiting queue.
	Enqueue(ctx context.Context, customer model.CustomerID) error
	// Requeue puts the customer back at the head of the queue.
	Requeue(ctx context.Context, customer model.CustomerID) error
	// DequeueNext pops the head of the queue. ok is false when empty.
	DequeueNext(ctx context.Context) (customer model.CustomerID, dest model.LocationID, ok bool, err error)

	// TaxiStatus returns the taxi's phase and target.
	TaxiStatus(ctx context.Context, id model.TaxiID) (TaxiStatus, error)
	// PickUp boards the assigned customer.
	PickUp(ctx context.Context, id model.TaxiID) (Ride, error)
	// CompleteService drops the carried customer at its destination and
	// frees the taxi.
	CompleteService(ctx context.Context, id model.TaxiID) (Ride, error)

	MoveTaxi(ctx context.Context, id model.TaxiID, pos grid.Coordinate) error
	TaxiPosition(ctx context.Context, id model.TaxiID) (grid.Coordinate, error)
	// SetAvailable marks the taxi free for assignment or not.
	SetAvailable(ctx context.Context, id model.TaxiID, available bool) error
	// ManualGoTo gives the taxi an operator objective and makes it
	// unavailable and moving. It returns the taxi's customer, if any.
	ManualGoTo(ctx context.Context, id model.TaxiID, target grid.Coordinate) (*model.CustomerID, error)
	// ClearObjective drops a reached manual objective.
	ClearObjective(ctx context.Context, id model.TaxiID) error
	// SetMoving records a stop (false) or continue (true) order and
	// returns the taxi's customer, if any.
	SetMoving(ctx context.Context, id model.TaxiID, moving bool) (*model.CustomerID, error)
	// SetCanMove records the sensor verdict and returns the taxi's
	// customer, if any.
	SetCanMove(ctx context.Context, id model.TaxiID, canMove bool) (*model.CustomerID, error)

	// DisconnectTaxi marks the taxi disconnected. A customer it was
	// fetching or carrying is put back at the head of the queue and
	// returned.
	DisconnectTaxi(ctx context.Context, id model.TaxiID) (*Orphan, error)
	// DisconnectCustomer removes the customer and returns the taxi it
	// freed, if any.
	DisconnectCustomer(ctx context.Context, id model.CustomerID) (*model.TaxiID, error)

	// RefreshTaxi and RefreshCustomer record a heartbeat.
	RefreshTaxi(ctx context.Context, id model.TaxiID, at time.Time) error
	RefreshCustomer(ctx context.Context, id model.CustomerID, at time.Time) error
	// FindStale lists connected taxis and customers silent since before.
	FindStale(ctx context.Context, before time.Time) (Stale, error)

	// Snapshot returns every entity as a map entry.
	Snapshot(ctx context.Context) ([]model.MapEntry, error)
	// QueueLength returns the number of waiting customers.
	QueueLength(ctx context.Context) (int, error)

	Close() error
}
