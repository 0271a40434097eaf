package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
	"github.com/kilianp07/taxifleet/infra/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(filepath.Join(t.TempDir(), "fleet.db"))
		require.NoError(t, err)
		return s
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "persisted", storetest.Locations))
	res, err := s.ClaimTaxi(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, store.ClaimNew, res)
	require.NoError(t, s.MoveTaxi(ctx, 12, grid.Coordinate{X: 6, Y: 9}))
	require.NoError(t, s.InsertCustomer(ctx, 'q', grid.Coordinate{X: 1, Y: 1}))
	_, err = s.AssignTaxi(ctx, 'q', 'A')
	require.ErrorIs(t, err, store.ErrNoTaxiAvailable)
	require.NoError(t, s.Enqueue(ctx, 'q'))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	sess, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", sess)
	pos, err := s.TaxiPosition(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, grid.Coordinate{X: 6, Y: 9}, pos)
	n, err := s.QueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInterruptedRideSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "persisted", storetest.Locations))
	_, err = s.ClaimTaxi(ctx, 2)
	require.NoError(t, err)
	_, err = s.SetCanMove(ctx, 2, true)
	require.NoError(t, err)
	require.NoError(t, s.InsertCustomer(ctx, 'r', grid.Coordinate{X: 4, Y: 4}))
	_, err = s.AssignTaxi(ctx, 'r', 'C')
	require.NoError(t, err)
	_, err = s.DisconnectTaxi(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	res, err := s.ClaimTaxi(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, store.ClaimReconnect, res)
	st, err := s.TaxiStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseToCustomer, st.Phase)
	require.NotNil(t, st.Customer)
	assert.Equal(t, model.CustomerID('r'), *st.Customer)
}

func TestMigrateUpgradesOldSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fleet.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE taxis (
		id        INTEGER PRIMARY KEY,
		x         INTEGER NOT NULL DEFAULT 0,
		y         INTEGER NOT NULL DEFAULT 0,
		obj_x     INTEGER,
		obj_y     INTEGER,
		customer  TEXT,
		carrying  INTEGER NOT NULL DEFAULT 0,
		can_move  INTEGER NOT NULL DEFAULT 0,
		moving    INTEGER NOT NULL DEFAULT 1,
		connected INTEGER NOT NULL DEFAULT 1,
		available INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL
	);
	INSERT INTO taxis (id, x, y, connected, last_seen) VALUES (5, 3, 4, 0, 0);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()
	res, err := s.ClaimTaxi(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, store.ClaimReconnect, res)
	pos, err := s.TaxiPosition(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, grid.Coordinate{X: 3, Y: 4}, pos)
}
