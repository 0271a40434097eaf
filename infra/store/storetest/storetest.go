// Package storetest is a behavioural suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
)

// Locations seeded by the suite.
var Locations = []model.Location{
	{ID: 'A', Position: grid.Coordinate{X: 2, Y: 2}},
	{ID: 'B', Position: grid.Coordinate{X: 10, Y: 15}},
	{ID: 'C', Position: grid.Coordinate{X: 18, Y: 0}},
}

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SessionReset", testSessionReset},
		{"ClaimTaxi", testClaimTaxi},
		{"InsertCustomer", testInsertCustomer},
		{"AssignNearest", testAssignNearest},
		{"AssignRequiresAssignable", testAssignRequiresAssignable},
		{"QueueOrder", testQueueOrder},
		{"RideLifecycle", testRideLifecycle},
		{"DisconnectWhileCarrying", testDisconnectWhileCarrying},
		{"ReconnectResumesRide", testReconnectResumesRide},
		{"ReconnectAfterReassignment", testReconnectAfterReassignment},
		{"ReconnectAfterCustomerLeft", testReconnectAfterCustomerLeft},
		{"DisconnectCustomerFreesTaxi", testDisconnectCustomerFreesTaxi},
		{"ManualObjective", testManualObjective},
		{"FindStale", testFindStale},
		{"Snapshot", testSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			require.NoError(t, s.Reset(context.Background(), "session-1", Locations))
			tt.fn(t, s)
		})
	}
}

func readyTaxi(t *testing.T, s store.Store, id model.TaxiID, pos grid.Coordinate) {
	t.Helper()
	ctx := context.Background()
	res, err := s.ClaimTaxi(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.ClaimNew, res)
	_, err = s.SetCanMove(ctx, id, true)
	require.NoError(t, err)
	require.NoError(t, s.MoveTaxi(ctx, id, pos))
}

func testSessionReset(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sess)
	require.NoError(t, s.Ping(ctx))

	readyTaxi(t, s, 1, grid.Coordinate{})
	require.NoError(t, s.Reset(ctx, "session-2", Locations))
	sess, err = s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "session-2", sess)
	res, err := s.ClaimTaxi(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimNew, res)
}

func testClaimTaxi(t *testing.T, s store.Store) {
	ctx := context.Background()
	res, err := s.ClaimTaxi(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimNew, res)

	res, err = s.ClaimTaxi(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimRejected, res)

	_, err = s.DisconnectTaxi(ctx, 7)
	require.NoError(t, err)
	res, err = s.ClaimTaxi(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimReconnect, res)

	res, err = s.ClaimTaxi(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimRejected, res)
}

func testInsertCustomer(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 1, Y: 1}))
	assert.ErrorIs(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 2, Y: 2}), store.ErrDuplicate)
	assert.Error(t, s.InsertCustomer(ctx, 'A', grid.Coordinate{}))
}

func testAssignNearest(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 5, grid.Coordinate{X: 4, Y: 4})
	readyTaxi(t, s, 3, grid.Coordinate{X: 6, Y: 6})
	readyTaxi(t, s, 9, grid.Coordinate{X: 19, Y: 19})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 5, Y: 5}))

	a, err := s.AssignTaxi(ctx, 'a', 'B')
	require.NoError(t, err)
	assert.Equal(t, model.TaxiID(3), a.Taxi, "ties go to the lowest id")
	assert.Equal(t, grid.Coordinate{X: 5, Y: 5}, a.CustomerPosition)
	assert.Equal(t, model.LocationID('B'), a.Destination)

	require.NoError(t, s.InsertCustomer(ctx, 'b', grid.Coordinate{X: 0, Y: 0}))
	a, err = s.AssignTaxi(ctx, 'b', 'A')
	require.NoError(t, err)
	assert.Equal(t, model.TaxiID(9), a.Taxi, "wrapped distance is shorter")

	_, err = s.AssignTaxi(ctx, 'a', 'B')
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = s.AssignTaxi(ctx, 'z', 'B')
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAssignRequiresAssignable(t *testing.T, s store.Store) {
	ctx := context.Background()
	res, err := s.ClaimTaxi(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, store.ClaimNew, res)
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 1, Y: 1}))

	_, err = s.AssignTaxi(ctx, 'a', 'A')
	require.ErrorIs(t, err, store.ErrNoTaxiAvailable)
	require.NoError(t, s.Enqueue(ctx, 'a'))
	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.SetCanMove(ctx, 3, true)
	require.NoError(t, err)
	_, err = s.SetMoving(ctx, 3, false)
	require.NoError(t, err)
	cid, dest, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.AssignTaxi(ctx, cid, dest)
	assert.ErrorIs(t, err, store.ErrNoTaxiAvailable, "a stopped taxi is not assignable")
	require.NoError(t, s.Requeue(ctx, cid))

	_, err = s.SetMoving(ctx, 3, true)
	require.NoError(t, err)
	cid, dest, ok, err = s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CustomerID('a'), cid)
	assert.Equal(t, model.LocationID('A'), dest)
	a, err := s.AssignTaxi(ctx, cid, dest)
	require.NoError(t, err)
	assert.Equal(t, model.TaxiID(3), a.Taxi)
	n, err = s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testQueueOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []model.CustomerID{'a', 'b', 'c'} {
		require.NoError(t, s.InsertCustomer(ctx, id, grid.Coordinate{}))
		_, err := s.AssignTaxi(ctx, id, 'A')
		require.ErrorIs(t, err, store.ErrNoTaxiAvailable)
		require.NoError(t, s.Enqueue(ctx, id))
	}
	require.NoError(t, s.Enqueue(ctx, 'a'))
	require.NoError(t, s.Requeue(ctx, 'c'))

	var got []model.CustomerID
	for {
		cid, _, ok, err := s.DequeueNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, cid)
	}
	assert.Equal(t, []model.CustomerID{'c', 'a', 'b'}, got)
}

func testRideLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 1, grid.Coordinate{X: 0, Y: 0})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 3, Y: 3}))

	st, err := s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, st.Phase)

	_, err = s.AssignTaxi(ctx, 'a', 'B')
	require.NoError(t, err)
	st, err = s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToCustomer, st.Phase)
	assert.Equal(t, grid.Coordinate{X: 3, Y: 3}, st.Target)
	assert.False(t, st.Arrived())

	_, err = s.PickUp(ctx, 1)
	assert.ErrorIs(t, err, store.ErrInvalidState, "not at the customer yet")

	require.NoError(t, s.MoveTaxi(ctx, 1, grid.Coordinate{X: 3, Y: 3}))
	ride, err := s.PickUp(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.CustomerID('a'), ride.Customer)
	assert.Equal(t, grid.Coordinate{X: 10, Y: 15}, ride.Target)

	st, err = s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToDestination, st.Phase)

	require.NoError(t, s.MoveTaxi(ctx, 1, grid.Coordinate{X: 10, Y: 15}))
	ride, err = s.CompleteService(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.LocationID('B'), ride.Destination)

	st, err = s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, st.Phase)

	_, err = s.AssignTaxi(ctx, 'a', 'C')
	require.NoError(t, err, "customer can ride again")
}

func testDisconnectWhileCarrying(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertCustomer(ctx, 'b', grid.Coordinate{X: 9, Y: 9}))
	_, err := s.AssignTaxi(ctx, 'b', 'A')
	require.ErrorIs(t, err, store.ErrNoTaxiAvailable)
	require.NoError(t, s.Enqueue(ctx, 'b'))

	readyTaxi(t, s, 1, grid.Coordinate{X: 3, Y: 3})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 3, Y: 3}))
	_, err = s.AssignTaxi(ctx, 'a', 'B')
	require.NoError(t, err)
	_, err = s.PickUp(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.MoveTaxi(ctx, 1, grid.Coordinate{X: 4, Y: 5}))

	orphan, err := s.DisconnectTaxi(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, orphan)
	assert.Equal(t, model.CustomerID('a'), orphan.Customer)
	assert.Equal(t, grid.Coordinate{X: 4, Y: 5}, orphan.Position)

	cid, dest, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CustomerID('a'), cid, "orphan goes to the head")
	assert.Equal(t, model.LocationID('B'), dest)
	cid, _, ok, err = s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.CustomerID('b'), cid)

	orphan, err = s.DisconnectTaxi(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func testReconnectResumesRide(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 1, grid.Coordinate{X: 3, Y: 3})
	readyTaxi(t, s, 2, grid.Coordinate{X: 12, Y: 12})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 3, Y: 3}))
	require.NoError(t, s.InsertCustomer(ctx, 'c', grid.Coordinate{X: 13, Y: 13}))
	a, err := s.AssignTaxi(ctx, 'a', 'B')
	require.NoError(t, err)
	require.Equal(t, model.TaxiID(1), a.Taxi)
	a, err = s.AssignTaxi(ctx, 'c', 'A')
	require.NoError(t, err)
	require.Equal(t, model.TaxiID(2), a.Taxi)
	_, err = s.PickUp(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.MoveTaxi(ctx, 1, grid.Coordinate{X: 4, Y: 5}))

	_, err = s.DisconnectTaxi(ctx, 1)
	require.NoError(t, err)
	_, err = s.DisconnectTaxi(ctx, 2)
	require.NoError(t, err)
	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	res, err := s.ClaimTaxi(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, store.ClaimReconnect, res)
	st, err := s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToDestination, st.Phase, "passenger still aboard")
	assert.Equal(t, grid.Coordinate{X: 10, Y: 15}, st.Target)
	require.NotNil(t, st.Customer)
	assert.Equal(t, model.CustomerID('a'), *st.Customer)

	res, err = s.ClaimTaxi(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, store.ClaimReconnect, res)
	st, err = s.TaxiStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToCustomer, st.Phase)
	assert.Equal(t, grid.Coordinate{X: 13, Y: 13}, st.Target)

	n, err = s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "resumed customers leave the queue")
	_, err = s.AssignTaxi(ctx, 'a', 'C')
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func testReconnectAfterReassignment(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 1, grid.Coordinate{X: 3, Y: 3})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 3, Y: 3}))
	_, err := s.AssignTaxi(ctx, 'a', 'B')
	require.NoError(t, err)
	_, err = s.PickUp(ctx, 1)
	require.NoError(t, err)
	_, err = s.DisconnectTaxi(ctx, 1)
	require.NoError(t, err)

	readyTaxi(t, s, 2, grid.Coordinate{X: 5, Y: 5})
	cid, dest, ok, err := s.DequeueNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	a, err := s.AssignTaxi(ctx, cid, dest)
	require.NoError(t, err)
	require.Equal(t, model.TaxiID(2), a.Taxi)

	res, err := s.ClaimTaxi(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, store.ClaimReconnect, res)
	st, err := s.TaxiStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, st.Phase, "the ride belongs to taxi 2 now")
	st, err = s.TaxiStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToCustomer, st.Phase)
}

func testReconnectAfterCustomerLeft(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 3, grid.Coordinate{})
	require.NoError(t, s.InsertCustomer(ctx, 'd', grid.Coordinate{X: 1, Y: 1}))
	_, err := s.AssignTaxi(ctx, 'd', 'A')
	require.NoError(t, err)
	_, err = s.DisconnectTaxi(ctx, 3)
	require.NoError(t, err)

	_, err = s.DisconnectCustomer(ctx, 'd')
	require.NoError(t, err)
	require.NoError(t, s.InsertCustomer(ctx, 'd', grid.Coordinate{X: 1, Y: 1}))
	_, err = s.AssignTaxi(ctx, 'd', 'C')
	require.ErrorIs(t, err, store.ErrNoTaxiAvailable)
	require.NoError(t, s.Enqueue(ctx, 'd'))

	res, err := s.ClaimTaxi(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, store.ClaimReconnect, res)
	st, err := s.TaxiStatus(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, st.Phase, "a returning customer is a new request")
	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDisconnectCustomerFreesTaxi(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 2, grid.Coordinate{})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 1, Y: 1}))
	_, err := s.AssignTaxi(ctx, 'a', 'A')
	require.NoError(t, err)

	freed, err := s.DisconnectCustomer(ctx, 'a')
	require.NoError(t, err)
	require.NotNil(t, freed)
	assert.Equal(t, model.TaxiID(2), *freed)

	st, err := s.TaxiStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, st.Phase)

	_, err = s.DisconnectCustomer(ctx, 'a')
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testManualObjective(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 4, grid.Coordinate{X: 1, Y: 1})
	cust, err := s.ManualGoTo(ctx, 4, grid.Coordinate{X: 8, Y: 8})
	require.NoError(t, err)
	assert.Nil(t, cust)

	st, err := s.TaxiStatus(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseManual, st.Phase)
	assert.Equal(t, grid.Coordinate{X: 8, Y: 8}, st.Target)

	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 1, Y: 1}))
	_, err = s.AssignTaxi(ctx, 'a', 'A')
	assert.ErrorIs(t, err, store.ErrNoTaxiAvailable, "manual taxis are unavailable")

	require.NoError(t, s.ClearObjective(ctx, 4))
	require.NoError(t, s.SetAvailable(ctx, 4, true))
	_, err = s.AssignTaxi(ctx, 'a', 'A')
	assert.NoError(t, err)
}

func testFindStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	readyTaxi(t, s, 1, grid.Coordinate{})
	readyTaxi(t, s, 2, grid.Coordinate{})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{}))
	require.NoError(t, s.RefreshTaxi(ctx, 1, base))
	require.NoError(t, s.RefreshTaxi(ctx, 2, base.Add(20*time.Second)))
	require.NoError(t, s.RefreshCustomer(ctx, 'a', base))

	st, err := s.FindStale(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []model.TaxiID{1}, st.Taxis)
	assert.Equal(t, []model.CustomerID{'a'}, st.Customers)

	_, err = s.DisconnectTaxi(ctx, 1)
	require.NoError(t, err)
	st, err = s.FindStale(ctx, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.Empty(t, st.Taxis, "disconnected taxis are not stray")

	assert.ErrorIs(t, s.RefreshTaxi(ctx, 50, base), store.ErrNotFound)
}

func testSnapshot(t *testing.T, s store.Store) {
	ctx := context.Background()
	readyTaxi(t, s, 3, grid.Coordinate{X: 7, Y: 8})
	require.NoError(t, s.InsertCustomer(ctx, 'a', grid.Coordinate{X: 1, Y: 2}))
	_, err := s.AssignTaxi(ctx, 'a', 'C')
	require.NoError(t, err)

	entries, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, len(Locations)+2)

	var taxi, cust *model.MapEntry
	for i := range entries {
		switch entries[i].Kind {
		case model.KindTaxi:
			taxi = &entries[i]
		case model.KindCustomer:
			cust = &entries[i]
		}
	}
	require.NotNil(t, taxi)
	require.NotNil(t, cust)
	assert.Equal(t, grid.Coordinate{X: 7, Y: 8}, taxi.Position)
	assert.Equal(t, byte('a'), taxi.Objective)
	assert.Equal(t, model.TaxiEmpty, taxi.Status)
	assert.Equal(t, model.CustomerWaiting, cust.Status)
	assert.Equal(t, byte('C'), cust.Objective)
}
