// Package memory is an in-process implementation of store.Store. It is the
// default backend of the dispatcher and the reference the SQLite backend is
// tested against.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
)

// Store keeps the fleet in maps guarded by a single mutex.
type Store struct {
	mu        sync.Mutex
	session   string
	taxis     map[model.TaxiID]*model.Taxi
	customers map[model.CustomerID]*model.Customer
	locations map[model.LocationID]model.Location
	queue     []model.CustomerID
	now       func() time.Time
}

// New returns an empty store without a session.
func New() *Store {
	return &Store{
		taxis:     make(map[model.TaxiID]*model.Taxi),
		customers: make(map[model.CustomerID]*model.Customer),
		locations: make(map[model.LocationID]model.Location),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for heartbeats.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) Session(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, nil
}

func (s *Store) Reset(_ context.Context, session string, locations []model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.taxis = make(map[model.TaxiID]*model.Taxi)
	s.customers = make(map[model.CustomerID]*model.Customer)
	s.locations = make(map[model.LocationID]model.Location, len(locations))
	s.queue = nil
	for _, l := range locations {
		if !l.ID.Valid() {
			return fmt.Errorf("invalid location id %q", l.ID)
		}
		s.locations[l.ID] = l
	}
	return nil
}

func (s *Store) ClaimTaxi(_ context.Context, id model.TaxiID) (store.ClaimResult, error) {
	if !id.Valid() {
		return store.ClaimRejected, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taxis[id]
	switch {
	case !ok:
		s.taxis[id] = &model.Taxi{ID: id, Connected: true, Available: true, Moving: true, LastSeen: s.now()}
		return store.ClaimNew, nil
	case t.Connected:
		return store.ClaimRejected, nil
	default:
		t.Connected = true
		t.CanMove = false
		t.Moving = true
		t.Available = t.Objective == nil
		t.LastSeen = s.now()
		s.resume(t)
		return store.ClaimReconnect, nil
	}
}

// resume gives a reconnecting taxi back the ride it dropped, provided the
// customer is still queued for it.
func (s *Store) resume(t *model.Taxi) {
	in := t.Interrupted
	t.Interrupted = nil
	if in == nil || t.Customer != nil {
		return
	}
	c, ok := s.customers[in.Customer]
	if !ok || c.Status != model.CustomerInQueue || c.Destination == nil {
		return
	}
	s.removeQueued(c.ID)
	cid := c.ID
	t.Customer = &cid
	t.Carrying = in.Carrying
	c.Status = model.CustomerWaitingTaxi
	if in.Carrying {
		c.Status = model.CustomerInTaxi
	}
}

func (s *Store) forgetInterruption(cid model.CustomerID) {
	for _, t := range s.taxis {
		if t.Interrupted != nil && t.Interrupted.Customer == cid {
			t.Interrupted = nil
		}
	}
}

func (s *Store) InsertCustomer(_ context.Context, id model.CustomerID, pos grid.Coordinate) error {
	if !id.Valid() || !pos.Valid() {
		return fmt.Errorf("%w: customer %q at %v", store.ErrInvalidState, id, pos)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; ok {
		return store.ErrDuplicate
	}
	s.customers[id] = &model.Customer{ID: id, Position: pos, LastSeen: s.now()}
	return nil
}

func (s *Store) AssignTaxi(_ context.Context, cid model.CustomerID, dest model.LocationID) (store.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[cid]
	if !ok {
		return store.Assignment{}, store.ErrNotFound
	}
	if _, ok := s.locations[dest]; !ok {
		return store.Assignment{}, fmt.Errorf("location %s: %w", dest, store.ErrNotFound)
	}
	if c.Status == model.CustomerWaitingTaxi || c.Status == model.CustomerInTaxi {
		return store.Assignment{}, fmt.Errorf("customer %s is %s: %w", cid, c.Status, store.ErrInvalidState)
	}
	c.Destination = &dest

	var best *model.Taxi
	bestDist := 0
	for _, t := range s.taxis {
		if !t.Assignable() {
			continue
		}
		d := grid.Distance(t.Position, c.Position)
		if best == nil || d < bestDist || (d == bestDist && t.ID < best.ID) {
			best, bestDist = t, d
		}
	}
	if best == nil {
		return store.Assignment{}, store.ErrNoTaxiAvailable
	}
	id := cid
	best.Customer = &id
	c.Status = model.CustomerWaitingTaxi
	s.removeQueued(cid)
	s.forgetInterruption(cid)
	return store.Assignment{Taxi: best.ID, Customer: cid, CustomerPosition: c.Position, Destination: dest}, nil
}

func (s *Store) Enqueue(_ context.Context, cid model.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[cid]
	if !ok {
		return store.ErrNotFound
	}
	if c.Status != model.CustomerInQueue {
		s.queue = append(s.queue, cid)
		c.Status = model.CustomerInQueue
	}
	return nil
}

func (s *Store) Requeue(_ context.Context, cid model.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[cid]
	if !ok {
		return store.ErrNotFound
	}
	s.requeue(c)
	return nil
}

func (s *Store) requeue(c *model.Customer) {
	s.removeQueued(c.ID)
	s.queue = append([]model.CustomerID{c.ID}, s.queue...)
	c.Status = model.CustomerInQueue
}

func (s *Store) removeQueued(cid model.CustomerID) {
	for i, q := range s.queue {
		if q == cid {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Store) DequeueNext(context.Context) (model.CustomerID, model.LocationID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		cid := s.queue[0]
		s.queue = s.queue[1:]
		c, ok := s.customers[cid]
		if !ok || c.Destination == nil {
			continue
		}
		c.Status = model.CustomerIdle
		return cid, *c.Destination, true, nil
	}
	return 0, 0, false, nil
}

func (s *Store) taxi(id model.TaxiID) (*model.Taxi, error) {
	t, ok := s.taxis[id]
	if !ok {
		return nil, fmt.Errorf("taxi %d: %w", id, store.ErrNotFound)
	}
	return t, nil
}

func (s *Store) destination(c *model.Customer) (model.Location, error) {
	if c.Destination == nil {
		return model.Location{}, fmt.Errorf("customer %s has no destination: %w", c.ID, store.ErrInvalidState)
	}
	l, ok := s.locations[*c.Destination]
	if !ok {
		return model.Location{}, fmt.Errorf("location %s: %w", *c.Destination, store.ErrNotFound)
	}
	return l, nil
}

func (s *Store) TaxiStatus(_ context.Context, id model.TaxiID) (store.TaxiStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return store.TaxiStatus{}, err
	}
	st := store.TaxiStatus{Phase: store.PhaseIdle, Position: t.Position, Customer: t.Customer}
	switch {
	case t.Objective != nil:
		st.Phase, st.Target = store.PhaseManual, *t.Objective
	case t.Customer != nil:
		c, ok := s.customers[*t.Customer]
		if !ok {
			return st, fmt.Errorf("customer %s: %w", *t.Customer, store.ErrNotFound)
		}
		if !t.Carrying {
			st.Phase, st.Target = store.PhaseToCustomer, c.Position
			break
		}
		l, err := s.destination(c)
		if err != nil {
			return st, err
		}
		st.Phase, st.Target = store.PhaseToDestination, l.Position
	}
	return st, nil
}

func (s *Store) PickUp(_ context.Context, id model.TaxiID) (store.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return store.Ride{}, err
	}
	if t.Customer == nil || t.Carrying {
		return store.Ride{}, fmt.Errorf("taxi %d has no customer to pick up: %w", id, store.ErrInvalidState)
	}
	c, ok := s.customers[*t.Customer]
	if !ok {
		return store.Ride{}, store.ErrNotFound
	}
	if c.Position != t.Position {
		return store.Ride{}, fmt.Errorf("taxi %d at %v, customer at %v: %w", id, t.Position, c.Position, store.ErrInvalidState)
	}
	l, err := s.destination(c)
	if err != nil {
		return store.Ride{}, err
	}
	t.Carrying = true
	c.Status = model.CustomerInTaxi
	return store.Ride{Taxi: id, Customer: c.ID, Destination: l.ID, Target: l.Position}, nil
}

func (s *Store) CompleteService(_ context.Context, id model.TaxiID) (store.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return store.Ride{}, err
	}
	if t.Customer == nil || !t.Carrying {
		return store.Ride{}, fmt.Errorf("taxi %d carries nobody: %w", id, store.ErrInvalidState)
	}
	c, ok := s.customers[*t.Customer]
	if !ok {
		return store.Ride{}, store.ErrNotFound
	}
	l, err := s.destination(c)
	if err != nil {
		return store.Ride{}, err
	}
	if t.Position != l.Position {
		return store.Ride{}, fmt.Errorf("taxi %d at %v, destination at %v: %w", id, t.Position, l.Position, store.ErrInvalidState)
	}
	c.Position = l.Position
	c.Status = model.CustomerIdle
	c.Destination = nil
	t.Customer = nil
	t.Carrying = false
	t.Available = t.Objective == nil
	return store.Ride{Taxi: id, Customer: c.ID, Destination: l.ID, Target: l.Position}, nil
}

func (s *Store) MoveTaxi(_ context.Context, id model.TaxiID, pos grid.Coordinate) error {
	if !pos.Valid() {
		return fmt.Errorf("%w: position %v", store.ErrInvalidState, pos)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return err
	}
	t.Position = pos
	if t.Carrying && t.Customer != nil {
		if c, ok := s.customers[*t.Customer]; ok {
			c.Position = pos
		}
	}
	return nil
}

func (s *Store) TaxiPosition(_ context.Context, id model.TaxiID) (grid.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return grid.Coordinate{}, err
	}
	return t.Position, nil
}

func (s *Store) SetAvailable(_ context.Context, id model.TaxiID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return err
	}
	t.Available = available
	return nil
}

func (s *Store) ManualGoTo(_ context.Context, id model.TaxiID, target grid.Coordinate) (*model.CustomerID, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target %v", store.ErrInvalidState, target)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return nil, err
	}
	obj := target
	t.Objective = &obj
	t.Available = false
	t.Moving = true
	return t.Customer, nil
}

func (s *Store) ClearObjective(_ context.Context, id model.TaxiID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return err
	}
	t.Objective = nil
	return nil
}

func (s *Store) SetMoving(_ context.Context, id model.TaxiID, moving bool) (*model.CustomerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return nil, err
	}
	t.Moving = moving
	return t.Customer, nil
}

func (s *Store) SetCanMove(_ context.Context, id model.TaxiID, canMove bool) (*model.CustomerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return nil, err
	}
	t.CanMove = canMove
	return t.Customer, nil
}

func (s *Store) DisconnectTaxi(_ context.Context, id model.TaxiID) (*store.Orphan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return nil, err
	}
	t.Connected = false
	t.Available = false
	t.CanMove = false
	if t.Customer == nil {
		return nil, nil
	}
	cid := *t.Customer
	t.Interrupted = &model.Interruption{Customer: cid, Carrying: t.Carrying}
	t.Customer = nil
	t.Carrying = false
	c, ok := s.customers[cid]
	if !ok {
		t.Interrupted = nil
		return nil, nil
	}
	if c.Status == model.CustomerInTaxi {
		c.Position = t.Position
	}
	s.requeue(c)
	return &store.Orphan{Customer: cid, Taxi: id, Position: t.Position}, nil
}

func (s *Store) DisconnectCustomer(_ context.Context, cid model.CustomerID) (*model.TaxiID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[cid]; !ok {
		return nil, store.ErrNotFound
	}
	delete(s.customers, cid)
	s.removeQueued(cid)
	s.forgetInterruption(cid)
	for _, t := range s.taxis {
		if t.Customer != nil && *t.Customer == cid {
			t.Customer = nil
			t.Carrying = false
			t.Available = t.Objective == nil
			id := t.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (s *Store) RefreshTaxi(_ context.Context, id model.TaxiID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.taxi(id)
	if err != nil {
		return err
	}
	t.LastSeen = at
	return nil
}

func (s *Store) RefreshCustomer(_ context.Context, id model.CustomerID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastSeen = at
	return nil
}

func (s *Store) FindStale(_ context.Context, before time.Time) (store.Stale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st store.Stale
	for _, t := range s.taxis {
		if t.Connected && t.LastSeen.Before(before) {
			st.Taxis = append(st.Taxis, t.ID)
		}
	}
	for _, c := range s.customers {
		if c.LastSeen.Before(before) {
			st.Customers = append(st.Customers, c.ID)
		}
	}
	sort.Slice(st.Taxis, func(i, j int) bool { return st.Taxis[i] < st.Taxis[j] })
	sort.Slice(st.Customers, func(i, j int) bool { return st.Customers[i] < st.Customers[j] })
	return st, nil
}

func (s *Store) Snapshot(context.Context) ([]model.MapEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MapEntry, 0, len(s.locations)+len(s.taxis)+len(s.customers))
	for _, l := range s.locations {
		out = append(out, model.LocationEntry(l))
	}
	for _, t := range s.taxis {
		out = append(out, model.TaxiEntry(*t))
	}
	for _, c := range s.customers {
		out = append(out, model.CustomerEntry(*c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) QueueLength(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}

var _ store.Store = (*Store)(nil)
