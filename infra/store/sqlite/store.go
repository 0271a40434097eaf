// Package sqlite persists the fleet in a SQLite database so the dispatcher
// can be restarted without losing taxis, customers, the queue or the session.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
)

// Store implements store.Store on SQLite. Operations run in transactions
// over a single connection, which serialises them.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens or creates the database at path and ensures the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SetClock replaces the time source used for heartbeats.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		x  INTEGER NOT NULL,
		y  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS taxis (
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
		last_seen INTEGER NOT NULL,
		resume_customer TEXT,
		resume_carrying INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS customers (
		id          TEXT PRIMARY KEY,
		x           INTEGER NOT NULL,
		y           INTEGER NOT NULL,
		destination TEXT,
		status      INTEGER NOT NULL DEFAULT 0,
		last_seen   INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS queue (
		seq      INTEGER PRIMARY KEY,
		customer TEXT NOT NULL UNIQUE
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumns("taxis", map[string]string{
		"resume_customer": "TEXT",
		"resume_carrying": "INTEGER NOT NULL DEFAULT 0",
	})
}

// addColumns brings databases created by older builds up to date.
func (s *Store) addColumns(table string, cols map[string]string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		have[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if have[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, name, cols[name])); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func (s *Store) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

const taxiColumns = `id, x, y, obj_x, obj_y, customer, carrying, can_move, moving, connected, available, last_seen,
	resume_customer, resume_carrying`

func scanTaxi(row scanner) (*model.Taxi, error) {
	var (
		t          model.Taxi
		objX, objY sql.NullInt64
		customer   sql.NullString
		resumed    sql.NullString
		lastSeen   int64
	)
	var carrying, canMove, moving, conn, avail, resumeCarrying int
	if err := row.Scan(&t.ID, &t.Position.X, &t.Position.Y, &objX, &objY, &customer,
		&carrying, &canMove, &moving, &conn, &avail, &lastSeen,
		&resumed, &resumeCarrying); err != nil {
		return nil, err
	}
	if resumed.Valid && resumed.String != "" {
		t.Interrupted = &model.Interruption{
			Customer: model.CustomerID(resumed.String[0]),
			Carrying: resumeCarrying == 1,
		}
	}
	if objX.Valid && objY.Valid {
		t.Objective = &grid.Coordinate{X: int(objX.Int64), Y: int(objY.Int64)}
	}
	if customer.Valid && customer.String != "" {
		c := model.CustomerID(customer.String[0])
		t.Customer = &c
	}
	t.Carrying = carrying == 1
	t.CanMove = canMove == 1
	t.Moving = moving == 1
	t.Connected = conn == 1
	t.Available = avail == 1
	t.LastSeen = time.Unix(0, lastSeen)
	return &t, nil
}

func getTaxi(ctx context.Context, tx *sql.Tx, id model.TaxiID) (*model.Taxi, error) {
	t, err := scanTaxi(tx.QueryRowContext(ctx, `SELECT `+taxiColumns+` FROM taxis WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("taxi %d: %w", id, store.ErrNotFound)
	}
	return t, err
}

func saveTaxi(ctx context.Context, tx *sql.Tx, t *model.Taxi) error {
	var objX, objY, customer, resumed any
	if t.Objective != nil {
		objX, objY = t.Objective.X, t.Objective.Y
	}
	if t.Customer != nil {
		customer = t.Customer.String()
	}
	resumeCarrying := false
	if t.Interrupted != nil {
		resumed = t.Interrupted.Customer.String()
		resumeCarrying = t.Interrupted.Carrying
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO taxis (`+taxiColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  x = excluded.x, y = excluded.y,
		  obj_x = excluded.obj_x, obj_y = excluded.obj_y,
		  customer = excluded.customer, carrying = excluded.carrying,
		  can_move = excluded.can_move, moving = excluded.moving,
		  connected = excluded.connected, available = excluded.available,
		  last_seen = excluded.last_seen,
		  resume_customer = excluded.resume_customer, resume_carrying = excluded.resume_carrying`,
		t.ID, t.Position.X, t.Position.Y, objX, objY, customer,
		boolToInt(t.Carrying), boolToInt(t.CanMove), boolToInt(t.Moving),
		boolToInt(t.Connected), boolToInt(t.Available), t.LastSeen.UnixNano(),
		resumed, boolToInt(resumeCarrying))
	return err
}

const customerColumns = `id, x, y, destination, status, last_seen`

func scanCustomer(row scanner) (*model.Customer, error) {
	var (
		c        model.Customer
		id       string
		dest     sql.NullString
		lastSeen int64
	)
	if err := row.Scan(&id, &c.Position.X, &c.Position.Y, &dest, &c.Status, &lastSeen); err != nil {
		return nil, err
	}
	c.ID = model.CustomerID(id[0])
	if dest.Valid && dest.String != "" {
		d := model.LocationID(dest.String[0])
		c.Destination = &d
	}
	c.LastSeen = time.Unix(0, lastSeen)
	return &c, nil
}

func getCustomer(ctx context.Context, tx *sql.Tx, id model.CustomerID) (*model.Customer, error) {
	c, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return c, err
}

func saveCustomer(ctx context.Context, tx *sql.Tx, c *model.Customer) error {
	var dest any
	if c.Destination != nil {
		dest = c.Destination.String()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  x = excluded.x, y = excluded.y, destination = excluded.destination,
		  status = excluded.status, last_seen = excluded.last_seen`,
		c.ID.String(), c.Position.X, c.Position.Y, dest, int(c.Status), c.LastSeen.UnixNano())
	return err
}

func getLocation(ctx context.Context, tx *sql.Tx, id model.LocationID) (model.Location, error) {
	l := model.Location{ID: id}
	err := tx.QueryRowContext(ctx, `SELECT x, y FROM locations WHERE id = ?`, id.String()).Scan(&l.Position.X, &l.Position.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("location %s: %w", id, store.ErrNotFound)
	}
	return l, err
}

func destination(ctx context.Context, tx *sql.Tx, c *model.Customer) (model.Location, error) {
	if c.Destination == nil {
		return model.Location{}, fmt.Errorf("customer %s has no destination: %w", c.ID, store.ErrInvalidState)
	}
	return getLocation(ctx, tx, *c.Destination)
}

func dequeue(ctx context.Context, tx *sql.Tx, id model.CustomerID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE customer = ?`, id.String())
	return err
}

func requeue(ctx context.Context, tx *sql.Tx, c *model.Customer) error {
	if err := dequeue(ctx, tx, c.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO queue (seq, customer)
		VALUES ((SELECT COALESCE(MIN(seq), 1) - 1 FROM queue), ?)`, c.ID.String()); err != nil {
		return err
	}
	c.Status = model.CustomerInQueue
	return saveCustomer(ctx, tx, c)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Session(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'session'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) Reset(ctx context.Context, session string, locations []model.Location) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{`DELETE FROM taxis`, `DELETE FROM customers`, `DELETE FROM queue`, `DELETE FROM locations`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		for _, l := range locations {
			if !l.ID.Valid() {
				return fmt.Errorf("invalid location id %q", l.ID)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO locations (id, x, y) VALUES (?, ?, ?)`,
				l.ID.String(), l.Position.X, l.Position.Y); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('session', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, session)
		return err
	})
}

func (s *Store) ClaimTaxi(ctx context.Context, id model.TaxiID) (store.ClaimResult, error) {
	if !id.Valid() {
		return store.ClaimRejected, nil
	}
	res := store.ClaimRejected
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res = store.ClaimNew
			return saveTaxi(ctx, tx, &model.Taxi{ID: id, Connected: true, Available: true, Moving: true, LastSeen: s.now()})
		case err != nil:
			return err
		case t.Connected:
			res = store.ClaimRejected
			return nil
		}
		res = store.ClaimReconnect
		t.Connected = true
		t.CanMove = false
		t.Moving = true
		t.Available = t.Objective == nil
		t.LastSeen = s.now()
		if err := resume(ctx, tx, t); err != nil {
			return err
		}
		return saveTaxi(ctx, tx, t)
	})
	if err != nil {
		return store.ClaimRejected, err
	}
	return res, nil
}

// resume gives a reconnecting taxi back the ride it dropped, provided the
// customer is still queued for it.
func resume(ctx context.Context, tx *sql.Tx, t *model.Taxi) error {
	in := t.Interrupted
	t.Interrupted = nil
	if in == nil || t.Customer != nil {
		return nil
	}
	c, err := getCustomer(ctx, tx, in.Customer)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != model.CustomerInQueue || c.Destination == nil {
		return nil
	}
	if err := dequeue(ctx, tx, c.ID); err != nil {
		return err
	}
	cid := c.ID
	t.Customer = &cid
	t.Carrying = in.Carrying
	c.Status = model.CustomerWaitingTaxi
	if in.Carrying {
		c.Status = model.CustomerInTaxi
	}
	return saveCustomer(ctx, tx, c)
}

func forgetInterruption(ctx context.Context, tx *sql.Tx, cid model.CustomerID) error {
	_, err := tx.ExecContext(ctx, `UPDATE taxis SET resume_customer = NULL, resume_carrying = 0
		WHERE resume_customer = ?`, cid.String())
	return err
}

func (s *Store) InsertCustomer(ctx context.Context, id model.CustomerID, pos grid.Coordinate) error {
	if !id.Valid() || !pos.Valid() {
		return fmt.Errorf("%w: customer %q at %v", store.ErrInvalidState, id, pos)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := getCustomer(ctx, tx, id); err == nil {
			return store.ErrDuplicate
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return saveCustomer(ctx, tx, &model.Customer{ID: id, Position: pos, LastSeen: s.now()})
	})
}

func (s *Store) AssignTaxi(ctx context.Context, cid model.CustomerID, dest model.LocationID) (store.Assignment, error) {
	var (
		a     store.Assignment
		found bool
	)
	err := s.tx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, cid)
		if err != nil {
			return err
		}
		if _, err := getLocation(ctx, tx, dest); err != nil {
			return err
		}
		if c.Status == model.CustomerWaitingTaxi || c.Status == model.CustomerInTaxi {
			return fmt.Errorf("customer %s is %s: %w", cid, c.Status, store.ErrInvalidState)
		}
		c.Destination = &dest
		if err := saveCustomer(ctx, tx, c); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT `+taxiColumns+` FROM taxis
			WHERE connected = 1 AND available = 1 AND moving = 1 AND can_move = 1 AND customer IS NULL
			ORDER BY id`)
		if err != nil {
			return err
		}
		var best *model.Taxi
		bestDist := 0
		for rows.Next() {
			t, err := scanTaxi(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			if d := grid.Distance(t.Position, c.Position); best == nil || d < bestDist {
				best, bestDist = t, d
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if best == nil {
			return nil
		}
		best.Customer = &cid
		c.Status = model.CustomerWaitingTaxi
		if err := saveTaxi(ctx, tx, best); err != nil {
			return err
		}
		if err := saveCustomer(ctx, tx, c); err != nil {
			return err
		}
		if err := dequeue(ctx, tx, cid); err != nil {
			return err
		}
		if err := forgetInterruption(ctx, tx, cid); err != nil {
			return err
		}
		a = store.Assignment{Taxi: best.ID, Customer: cid, CustomerPosition: c.Position, Destination: dest}
		found = true
		return nil
	})
	if err == nil && !found {
		// The destination stays recorded so the customer can be queued.
		return a, store.ErrNoTaxiAvailable
	}
	return a, err
}

func (s *Store) Enqueue(ctx context.Context, cid model.CustomerID) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, cid)
		if err != nil {
			return err
		}
		if c.Status == model.CustomerInQueue {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO queue (seq, customer)
			VALUES ((SELECT COALESCE(MAX(seq), 0) + 1 FROM queue), ?)`, cid.String()); err != nil {
			return err
		}
		c.Status = model.CustomerInQueue
		return saveCustomer(ctx, tx, c)
	})
}

func (s *Store) Requeue(ctx context.Context, cid model.CustomerID) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		c, err := getCustomer(ctx, tx, cid)
		if err != nil {
			return err
		}
		return requeue(ctx, tx, c)
	})
}

func (s *Store) DequeueNext(ctx context.Context) (model.CustomerID, model.LocationID, bool, error) {
	var (
		cid  model.CustomerID
		dest model.LocationID
		ok   bool
	)
	err := s.tx(ctx, func(tx *sql.Tx) error {
		for {
			var id string
			err := tx.QueryRowContext(ctx, `SELECT customer FROM queue ORDER BY seq LIMIT 1`).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			c, err := getCustomer(ctx, tx, model.CustomerID(id[0]))
			if err := dequeue(ctx, tx, model.CustomerID(id[0])); err != nil {
				return err
			}
			if errors.Is(err, store.ErrNotFound) || (err == nil && c.Destination == nil) {
				continue
			}
			if err != nil {
				return err
			}
			c.Status = model.CustomerIdle
			cid, dest, ok = c.ID, *c.Destination, true
			return saveCustomer(ctx, tx, c)
		}
	})
	return cid, dest, ok, err
}

func (s *Store) TaxiStatus(ctx context.Context, id model.TaxiID) (store.TaxiStatus, error) {
	var st store.TaxiStatus
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		if err != nil {
			return err
		}
		st = store.TaxiStatus{Phase: store.PhaseIdle, Position: t.Position, Customer: t.Customer}
		switch {
		case t.Objective != nil:
			st.Phase, st.Target = store.PhaseManual, *t.Objective
		case t.Customer != nil:
			c, err := getCustomer(ctx, tx, *t.Customer)
			if err != nil {
				return err
			}
			if !t.Carrying {
				st.Phase, st.Target = store.PhaseToCustomer, c.Position
				return nil
			}
			l, err := destination(ctx, tx, c)
			if err != nil {
				return err
			}
			st.Phase, st.Target = store.PhaseToDestination, l.Position
		}
		return nil
	})
	return st, err
}

func (s *Store) PickUp(ctx context.Context, id model.TaxiID) (store.Ride, error) {
	var ride store.Ride
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Customer == nil || t.Carrying {
			return fmt.Errorf("taxi %d has no customer to pick up: %w", id, store.ErrInvalidState)
		}
		c, err := getCustomer(ctx, tx, *t.Customer)
		if err != nil {
			return err
		}
		if c.Position != t.Position {
			return fmt.Errorf("taxi %d at %v, customer at %v: %w", id, t.Position, c.Position, store.ErrInvalidState)
		}
		l, err := destination(ctx, tx, c)
		if err != nil {
			return err
		}
		t.Carrying = true
		c.Status = model.CustomerInTaxi
		if err := saveTaxi(ctx, tx, t); err != nil {
			return err
		}
		ride = store.Ride{Taxi: id, Customer: c.ID, Destination: l.ID, Target: l.Position}
		return saveCustomer(ctx, tx, c)
	})
	return ride, err
}

func (s *Store) CompleteService(ctx context.Context, id model.TaxiID) (store.Ride, error) {
	var ride store.Ride
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Customer == nil || !t.Carrying {
			return fmt.Errorf("taxi %d carries nobody: %w", id, store.ErrInvalidState)
		}
		c, err := getCustomer(ctx, tx, *t.Customer)
		if err != nil {
			return err
		}
		l, err := destination(ctx, tx, c)
		if err != nil {
			return err
		}
		if t.Position != l.Position {
			return fmt.Errorf("taxi %d at %v, destination at %v: %w", id, t.Position, l.Position, store.ErrInvalidState)
		}
		c.Position = l.Position
		c.Status = model.CustomerIdle
		c.Destination = nil
		t.Customer = nil
		t.Carrying = false
		t.Available = t.Objective == nil
		if err := saveTaxi(ctx, tx, t); err != nil {
			return err
		}
		ride = store.Ride{Taxi: id, Customer: c.ID, Destination: l.ID, Target: l.Position}
		return saveCustomer(ctx, tx, c)
	})
	return ride, err
}

// updateTaxi loads a taxi, applies fn and writes it back.
func (s *Store) updateTaxi(ctx context.Context, id model.TaxiID, fn func(tx *sql.Tx, t *model.Taxi) error) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, t); err != nil {
			return err
		}
		return saveTaxi(ctx, tx, t)
	})
}

func (s *Store) MoveTaxi(ctx context.Context, id model.TaxiID, pos grid.Coordinate) error {
	if !pos.Valid() {
		return fmt.Errorf("%w: position %v", store.ErrInvalidState, pos)
	}
	return s.updateTaxi(ctx, id, func(tx *sql.Tx, t *model.Taxi) error {
		t.Position = pos
		if !t.Carrying || t.Customer == nil {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE customers SET x = ?, y = ? WHERE id = ?`, pos.X, pos.Y, t.Customer.String())
		return err
	})
}

func (s *Store) TaxiPosition(ctx context.Context, id model.TaxiID) (grid.Coordinate, error) {
	var pos grid.Coordinate
	err := s.tx(ctx, func(tx *sql.Tx) error {
		t, err := getTaxi(ctx, tx, id)
		if err != nil {
			return err
		}
		pos = t.Position
		return nil
	})
	return pos, err
}

func (s *Store) SetAvailable(ctx context.Context, id model.TaxiID, available bool) error {
	return s.updateTaxi(ctx, id, func(_ *sql.Tx, t *model.Taxi) error {
		t.Available = available
		return nil
	})
}

func (s *Store) ManualGoTo(ctx context.Context, id model.TaxiID, target grid.Coordinate) (*model.CustomerID, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: target %v", store.ErrInvalidState, target)
	}
	var cust *model.CustomerID
	err := s.updateTaxi(ctx, id, func(_ *sql.Tx, t *model.Taxi) error {
		t.Objective = &target
		t.Available = false
		t.Moving = true
		cust = t.Customer
		return nil
	})
	return cust, err
}

func (s *Store) ClearObjective(ctx context.Context, id model.TaxiID) error {
	return s.updateTaxi(ctx, id, func(_ *sql.Tx, t *model.Taxi) error {
		t.Objective = nil
		return nil
	})
}

func (s *Store) SetMoving(ctx context.Context, id model.TaxiID, moving bool) (*model.CustomerID, error) {
	var cust *model.CustomerID
	err := s.updateTaxi(ctx, id, func(_ *sql.Tx, t *model.Taxi) error {
		t.Moving = moving
		cust = t.Customer
		return nil
	})
	return cust, err
}

func (s *Store) SetCanMove(ctx context.Context, id model.TaxiID, canMove bool) (*model.CustomerID, error) {
	var cust *model.CustomerID
	err := s.updateTaxi(ctx, id, func(_ *sql.Tx, t *model.Taxi) error {
		t.CanMove = canMove
		cust = t.Customer
		return nil
	})
	return cust, err
}

func (s *Store) DisconnectTaxi(ctx context.Context, id model.TaxiID) (*store.Orphan, error) {
	var orphan *store.Orphan
	err := s.updateTaxi(ctx, id, func(tx *sql.Tx, t *model.Taxi) error {
		t.Connected = false
		t.Available = false
		t.CanMove = false
		if t.Customer == nil {
			return nil
		}
		cid := *t.Customer
		t.Customer = nil
		t.Carrying = false
		c, err := getCustomer(ctx, tx, cid)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		t.Interrupted = &model.Interruption{Customer: cid, Carrying: c.Status == model.CustomerInTaxi}
		if c.Status == model.CustomerInTaxi {
			c.Position = t.Position
		}
		orphan = &store.Orphan{Customer: cid, Taxi: id, Position: t.Position}
		return requeue(ctx, tx, c)
	})
	return orphan, err
}

func (s *Store) DisconnectCustomer(ctx context.Context, cid model.CustomerID) (*model.TaxiID, error) {
	var freed *model.TaxiID
	err := s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, cid.String())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		if err := dequeue(ctx, tx, cid); err != nil {
			return err
		}
		if err := forgetInterruption(ctx, tx, cid); err != nil {
			return err
		}
		t, err := scanTaxi(tx.QueryRowContext(ctx, `SELECT `+taxiColumns+` FROM taxis WHERE customer = ?`, cid.String()))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		t.Customer = nil
		t.Carrying = false
		t.Available = t.Objective == nil
		freed = &t.ID
		return saveTaxi(ctx, tx, t)
	})
	return freed, err
}

func (s *Store) RefreshTaxi(ctx context.Context, id model.TaxiID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE taxis SET last_seen = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("taxi %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) RefreshCustomer(ctx context.Context, id model.CustomerID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET last_seen = ? WHERE id = ?`, at.UnixNano(), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) FindStale(ctx context.Context, before time.Time) (store.Stale, error) {
	var st store.Stale
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM taxis WHERE connected = 1 AND last_seen < ? ORDER BY id`, before.UnixNano())
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var id model.TaxiID
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return st, err
		}
		st.Taxis = append(st.Taxis, id)
	}
	if err := rows.Close(); err != nil {
		return st, err
	}
	rows, err = s.db.QueryContext(ctx, `SELECT id FROM customers WHERE last_seen < ? ORDER BY id`, before.UnixNano())
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return st, err
		}
		st.Customers = append(st.Customers, model.CustomerID(id[0]))
	}
	return st, rows.Err()
}

func (s *Store) Snapshot(ctx context.Context) ([]model.MapEntry, error) {
	var out []model.MapEntry
	err := s.tx(ctx, func(tx *sql.Tx) error {
		out = out[:0]
		rows, err := tx.QueryContext(ctx, `SELECT id, x, y FROM locations`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				id string
				l  model.Location
			)
			if err := rows.Scan(&id, &l.Position.X, &l.Position.Y); err != nil {
				_ = rows.Close()
				return err
			}
			l.ID = model.LocationID(id[0])
			out = append(out, model.LocationEntry(l))
		}
		if err := rows.Close(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, `SELECT `+taxiColumns+` FROM taxis`)
		if err != nil {
			return err
		}
		for rows.Next() {
			t, err := scanTaxi(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			out = append(out, model.TaxiEntry(*t))
		}
		if err := rows.Close(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCustomer(rows)
			if err != nil {
				return err
			}
			out = append(out, model.CustomerEntry(*c))
		}
		return rows.Err()
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Store) QueueLength(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&n)
	return n, err
}

var _ store.Store = (*Store)(nil)
