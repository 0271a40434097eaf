package taxi

import (
	"sync"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/sensor"
)

// State is the taxi's local view of itself, shared by its activities.
//
// mu guards the flags, the customer and the session; cond is tied to mu and
// wakes the movement engine. posMu guards position and objective. When both
// are needed mu is taken first.
type State struct {
	mu            sync.Mutex
	cond          *sync.Cond
	session       string
	canMove       bool
	orderedToStop bool
	stopping      bool
	grants        int
	customer      *model.CustomerID
	importance    sensor.Importance
	reason        sensor.Reason

	posMu     sync.Mutex
	pos       grid.Coordinate
	objective *grid.Coordinate
}

// NewState returns a stopped taxi at the origin.
func NewState() *State {
	s := &State{orderedToStop: true}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// move is the outcome of one movement step.
type move struct {
	moved   bool
	pos     grid.Coordinate
	arrived bool
}

func (s *State) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *State) setSession(session string) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

// Shutdown raises the stop flag and wakes every waiter.
func (s *State) Shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stopping reports whether Shutdown was called.
func (s *State) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// CanMove reports the last sensor verdict.
func (s *State) CanMove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canMove
}

// OrderedToStop reports whether the taxi is held in place.
func (s *State) OrderedToStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedToStop
}

// Position returns the current coordinate.
func (s *State) Position() grid.Coordinate {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.pos
}

// Customer returns the carried customer, if any.
func (s *State) Customer() *model.CustomerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customer
}

// grantLocked lets the movement engine take one step. mu must be held.
func (s *State) grantLocked() {
	if s.canMove && !s.orderedToStop {
		s.grants = 1
		s.cond.Signal()
	}
}

// applySensor records a sensor status. It reports whether canMove changed
// and the orderedToStop flag to send back.
func (s *State) applySensor(st sensor.Status) (changed, orderedToStop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.canMove != st.CanMove
	s.canMove = st.CanMove
	s.importance = st.Importance
	s.reason = st.Reason
	s.grantLocked()
	return changed, s.orderedToStop
}

// sensorLost clears canMove and reports whether it was set.
func (s *State) sensorLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.canMove
	s.canMove = false
	s.grants = 0
	return was
}

// goTo sets a new objective and releases the taxi. It reports whether the
// taxi cannot move right now.
func (s *State) goTo(target grid.Coordinate, customer *model.CustomerID) (blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderedToStop = false
	if customer != nil {
		s.customer = customer
	}
	s.posMu.Lock()
	s.objective = &target
	s.posMu.Unlock()
	return !s.canMove
}

func (s *State) stop() {
	s.mu.Lock()
	s.orderedToStop = true
	s.grants = 0
	s.mu.Unlock()
}

// resume releases the taxi. It reports whether the taxi cannot move.
func (s *State) resume() (blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderedToStop = false
	return !s.canMove
}

func (s *State) changePosition(c grid.Coordinate) {
	s.posMu.Lock()
	s.pos = c
	s.posMu.Unlock()
}

func (s *State) serviceCompleted() {
	s.mu.Lock()
	s.customer = nil
	s.mu.Unlock()
}

// nextMove waits for a movement grant and takes one step towards the
// objective. ok is false once the taxi is shutting down.
func (s *State) nextMove() (m move, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.stopping && s.grants == 0 {
		s.cond.Wait()
	}
	if s.stopping {
		return move{}, false
	}
	s.grants = 0
	if !s.canMove || s.orderedToStop {
		return move{}, true
	}

	s.posMu.Lock()
	defer s.posMu.Unlock()
	if s.objective == nil {
		s.orderedToStop = true
		return move{}, true
	}
	s.pos = grid.NextStep(s.pos, *s.objective)
	m = move{moved: true, pos: s.pos}
	if s.pos == *s.objective {
		s.orderedToStop = true
		m.arrived = true
	}
	return m, true
}
