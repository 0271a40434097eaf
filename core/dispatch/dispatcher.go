// Package dispatch is the central authority of the fleet. It consumes every
// request published on the requests topic, applies it to the store and
// answers taxis, customers and map observers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/metrics"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
)

// Dispatcher matches customers with taxis and drives every trip.
type Dispatcher struct {
	cfg   Config
	store store.Store
	bus   bus.Bus
	sink  metrics.MetricsSink
	log   logger.Logger
	fresh bus.Freshness
	now   func() time.Time

	mu      sync.RWMutex
	session string

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a dispatcher. Start must be called before Run or Handle.
func New(cfg Config, st store.Store, b bus.Bus, sink metrics.MetricsSink, log logger.Logger) *Dispatcher {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	d := &Dispatcher{cfg: cfg, store: st, bus: b, sink: sink, log: log, now: time.Now, ready: make(chan struct{})}
	d.fresh = bus.Freshness{MaxAge: cfg.MaxAge, Now: func() time.Time { return d.now() }}
	return d
}

// SetClock replaces the time source. It must be called before Start.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Start opens the session. With resume set and a session already in the
// store, that session and its state are kept; otherwise the store is reset
// with a new session and the given locations.
func (d *Dispatcher) Start(ctx context.Context, locations []model.Location, resume bool) (string, error) {
	if err := d.store.Ping(ctx); err != nil {
		return "", fmt.Errorf("store unreachable: %w", err)
	}
	if resume {
		session, err := d.store.Session(ctx)
		if err != nil {
			return "", fmt.Errorf("read session: %w", err)
		}
		if session != "" {
			d.setSession(session)
			d.log.Infof("resuming session %s", session)
			return session, nil
		}
	}
	session := uuid.NewString()
	if err := d.store.Reset(ctx, session, locations); err != nil {
		return "", fmt.Errorf("reset store: %w", err)
	}
	d.setSession(session)
	d.log.Infof("started session %s with %d locations", session, len(locations))
	return session, nil
}

func (d *Dispatcher) setSession(s string) {
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
}

// Session returns the current session.
func (d *Dispatcher) Session() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

// Run consumes requests and runs the stray sweep until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub, err := d.bus.Subscribe(d.cfg.Topics.Requests())
	if err != nil {
		return fmt.Errorf("subscribe requests: %w", err)
	}
	defer sub.Close()
	d.readyOnce.Do(func() { close(d.ready) })
	d.broadcast(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case e, ok := <-sub.C():
				if !ok {
					return nil
				}
				d.Handle(gctx, e)
			}
		}
	})
	g.Go(func() error {
		t := time.NewTicker(d.cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				d.Sweep(gctx)
			}
		}
	})
	return g.Wait()
}

// Ready is closed once Run listens on the requests topic.
func (d *Dispatcher) Ready() <-chan struct{} { return d.ready }

// Accept applies the freshness and session rules to an inbound envelope.
func (d *Dispatcher) Accept(e bus.Envelope) bool {
	if !d.fresh.Fresh(e) {
		requestsDropped.WithLabelValues("stale").Inc()
		d.log.Debugw("dropped stale request", map[string]any{"subject": e.Subject.String(), "id": e.ID})
		return false
	}
	if !bus.SessionMatches(e, d.Session()) {
		requestsDropped.WithLabelValues("session").Inc()
		d.log.Debugw("dropped request from another session", map[string]any{"subject": e.Subject.String(), "id": e.ID, "session": e.Session})
		return false
	}
	return true
}

// Handle processes one inbound envelope if it is accepted.
func (d *Dispatcher) Handle(ctx context.Context, e bus.Envelope) {
	if !d.Accept(e) {
		return
	}
	start := time.Now()
	if err := d.dispatch(ctx, e); err != nil {
		d.log.Warnf("%s from %s: %v", e.Subject, e.ID, err)
	}
	requestsHandled.WithLabelValues(e.Subject.String()).Inc()
	handleLatency.WithLabelValues(e.Subject.String()).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) dispatch(ctx context.Context, e bus.Envelope) error {
	switch e.Subject {
	case bus.CustomerJoin, bus.AskForService, bus.PingCustomer, bus.CustomerDisconnect, bus.StrayCustomer:
		cid, err := bus.ParseCustomerRef(e.ID)
		if err != nil {
			return err
		}
		return d.customerRequest(ctx, e, cid)
	case bus.SubjectUnknown, bus.MapUpdate:
		return fmt.Errorf("unexpected subject %d", int(e.Subject))
	default:
		id, err := bus.ParseTaxiRef(e.ID)
		if err != nil {
			return err
		}
		return d.taxiRequest(ctx, e, id)
	}
}

func (d *Dispatcher) customerRequest(ctx context.Context, e bus.Envelope, cid model.CustomerID) error {
	switch e.Subject {
	case bus.CustomerJoin:
		return d.onCustomerJoin(ctx, e, cid)
	case bus.AskForService:
		dest, err := bus.ReadLocation(e.Data)
		if err != nil {
			return err
		}
		d.record(metrics.StageRequested, cid, nil, dest.String())
		err = d.request(ctx, cid, dest)
		d.broadcast(ctx)
		return err
	case bus.PingCustomer:
		return d.store.RefreshCustomer(ctx, cid, d.now())
	default:
		return d.onCustomerGone(ctx, cid)
	}
}

func (d *Dispatcher) taxiRequest(ctx context.Context, e bus.Envelope, id model.TaxiID) error {
	switch e.Subject {
	case bus.NewTaxi:
		return d.onNewTaxi(ctx, id)
	case bus.TaxiReconnect:
		return d.onReconnect(ctx, id)
	case bus.TaxiMove:
		if err := d.store.MoveTaxi(ctx, id, e.Coord); err != nil {
			return err
		}
		d.broadcast(ctx)
		return nil
	case bus.DestinationReached:
		return d.onArrival(ctx, id, e.Coord)
	case bus.TaxiCanMove:
		return d.onCanMove(ctx, id, true)
	case bus.TaxiCantMove:
		return d.onCanMove(ctx, id, false)
	case bus.TaxiCantMoveReminder:
		d.log.Infof("taxi %d was ordered to move but is blocked", id)
		return nil
	case bus.PingTaxi:
		return d.store.RefreshTaxi(ctx, id, d.now())
	case bus.TaxiDisconnect, bus.TaxiFatalError, bus.StrayTaxi:
		return d.onTaxiGone(ctx, id, e.Subject)
	case bus.OrderGoTo:
		return d.onOrderGoTo(ctx, id, e.Coord)
	case bus.OrderStop:
		return d.onOrderStop(ctx, id)
	case bus.OrderContinue:
		return d.onOrderContinue(ctx, id)
	default:
		return fmt.Errorf("subject %s is not a request", e.Subject)
	}
}

// Sweep disconnects, through the ordinary request path, every entity whose
// heartbeat is older than the grace period.
func (d *Dispatcher) Sweep(ctx context.Context) {
	stale, err := d.store.FindStale(ctx, d.now().Add(-d.cfg.Grace))
	if err != nil {
		d.log.Errorf("find stale entities: %v", err)
		return
	}
	for _, id := range stale.Taxis {
		d.log.Warnf("taxi %d missed its heartbeats", id)
		straysFound.WithLabelValues("taxi").Inc()
		d.publish(ctx, d.cfg.Topics.Requests(), bus.StrayTaxi, bus.TaxiRef(id), grid.Coordinate{}, nil)
	}
	for _, id := range stale.Customers {
		d.log.Warnf("customer %s missed its heartbeats", id)
		straysFound.WithLabelValues("customer").Inc()
		d.publish(ctx, d.cfg.Topics.Requests(), bus.StrayCustomer, bus.CustomerRef(id), grid.Coordinate{}, nil)
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic string, subject bus.Subject, id string, coord grid.Coordinate, data []byte) {
	e := bus.Envelope{Subject: subject, ID: id, Coord: coord, Data: data, Session: d.Session()}
	e.Stamp(d.now())
	if err := d.bus.Publish(ctx, topic, e); err != nil {
		d.log.Errorf("publish %s to %s: %v", subject, id, err)
	}
}

func (d *Dispatcher) toTaxi(ctx context.Context, subject bus.Subject, id model.TaxiID, coord grid.Coordinate, data []byte) {
	d.publish(ctx, d.cfg.Topics.Taxi(), subject, bus.TaxiRef(id), coord, data)
}

func (d *Dispatcher) toCustomer(ctx context.Context, subject bus.Subject, cid model.CustomerID, data []byte) {
	d.publish(ctx, d.cfg.Topics.Customer(), subject, bus.CustomerRef(cid), grid.Coordinate{}, data)
}

// broadcast publishes the full map to observers and records a census.
func (d *Dispatcher) broadcast(ctx context.Context) {
	entries, err := d.store.Snapshot(ctx)
	if err != nil {
		d.log.Errorf("snapshot: %v", err)
		return
	}
	e := bus.Envelope{Subject: bus.MapUpdate, Session: d.Session(), Map: model.PackSnapshot(entries)}
	e.Stamp(d.now())
	if err := d.bus.Publish(ctx, d.cfg.Topics.Map(), e); err != nil {
		d.log.Errorf("publish map: %v", err)
	}
	census := metrics.Census(entries, d.now())
	queueLength.Set(float64(census.Queued))
	if rec, ok := d.sink.(metrics.FleetRecorder); ok {
		if err := rec.RecordFleet(census); err != nil {
			d.log.Warnf("record fleet: %v", err)
		}
	}
}

func (d *Dispatcher) record(stage metrics.Stage, cid model.CustomerID, taxi *model.TaxiID, dest string) {
	ev := metrics.ServiceEvent{Stage: stage, Customer: cid.String(), Destination: dest, Time: d.now()}
	if taxi != nil {
		ev.Taxi = bus.TaxiRef(*taxi)
	}
	if err := d.sink.RecordService(ev); err != nil {
		d.log.Warnf("record %s: %v", stage, err)
	}
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
