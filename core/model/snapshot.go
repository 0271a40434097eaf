package model

import "github.com/kilianp07/taxifleet/core/grid"

// EntityKind tags a map entry.
type EntityKind uint8

const (
	KindTaxi EntityKind = iota
	KindCustomer
	KindLocation
)

// EntryStatus is the display status carried by a map entry.
type EntryStatus uint8

const (
	TaxiEmpty EntryStatus = iota
	TaxiCarrying
	TaxiStopped
	TaxiDisconnected
	CustomerWaiting
	CustomerRiding
	CustomerQueued
	CustomerOther
)

// MapEntry is one agent of a map snapshot broadcast to observers.
type MapEntry struct {
	Kind     EntityKind
	ID       byte
	Position grid.Coordinate
	Status   EntryStatus
	CanMove  bool
	// Objective is a customer letter for taxis and a location letter for
	// customers, zero when unset.
	Objective byte
	Carrying  bool
}

// Bit layout of a packed entry, least significant first.
const (
	kindShift      = 0
	canMoveShift   = 2
	statusShift    = 3
	xShift         = 6
	yShift         = 11
	idShift        = 16
	objectiveShift = 23
	carryingShift  = 31
)

// Pack encodes the entry into 32 bits:
// kind(2) canMove(1) status(3) x(5) y(5) id(7) objective(8) carrying(1).
func (e MapEntry) Pack() uint32 {
	v := uint32(e.Kind&0x3) << kindShift
	v |= uint32(e.Status&0x7) << statusShift
	v |= uint32(e.Position.X&0x1f) << xShift
	v |= uint32(e.Position.Y&0x1f) << yShift
	v |= uint32(e.ID&0x7f) << idShift
	v |= uint32(e.Objective) << objectiveShift
	if e.CanMove {
		v |= 1 << canMoveShift
	}
	if e.Carrying {
		v |= 1 << carryingShift
	}
	return v
}

// UnpackEntry is the inverse of Pack.
func UnpackEntry(v uint32) MapEntry {
	return MapEntry{
		Kind:      EntityKind(v >> kindShift & 0x3),
		CanMove:   v>>canMoveShift&1 == 1,
		Status:    EntryStatus(v >> statusShift & 0x7),
		Position:  grid.Coordinate{X: int(v >> xShift & 0x1f), Y: int(v >> yShift & 0x1f)},
		ID:        byte(v >> idShift & 0x7f),
		Objective: byte(v >> objectiveShift & 0xff),
		Carrying:  v>>carryingShift&1 == 1,
	}
}

// PackSnapshot packs every entry of a snapshot.
func PackSnapshot(entries []MapEntry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = e.Pack()
	}
	return out
}

// UnpackSnapshot decodes a packed snapshot.
func UnpackSnapshot(packed []uint32) []MapEntry {
	out := make([]MapEntry, len(packed))
	for i, v := range packed {
		out[i] = UnpackEntry(v)
	}
	return out
}

// TaxiEntry builds the snapshot entry of a taxi.
func TaxiEntry(t Taxi) MapEntry {
	e := MapEntry{Kind: KindTaxi, ID: byte(t.ID), Position: t.Position, CanMove: t.CanMove, Carrying: t.Carrying}
	switch {
	case !t.Connected:
		e.Status = TaxiDisconnected
	case !t.Moving || !t.CanMove:
		e.Status = TaxiStopped
	case t.Carrying:
		e.Status = TaxiCarrying
	default:
		e.Status = TaxiEmpty
	}
	if t.Customer != nil {
		e.Objective = byte(*t.Customer)
	}
	return e
}

// CustomerEntry builds the snapshot entry of a customer.
func CustomerEntry(c Customer) MapEntry {
	e := MapEntry{Kind: KindCustomer, ID: byte(c.ID), Position: c.Position}
	switch c.Status {
	case CustomerWaitingTaxi:
		e.Status = CustomerWaiting
	case CustomerInTaxi:
		e.Status = CustomerRiding
	case CustomerInQueue:
		e.Status = CustomerQueued
	default:
		e.Status = CustomerOther
	}
	if c.Destination != nil {
		e.Objective = byte(*c.Destination)
	}
	return e
}

// LocationEntry builds the snapshot entry of a location.
func LocationEntry(l Location) MapEntry {
	return MapEntry{Kind: KindLocation, ID: byte(l.ID), Position: l.Position}
}
