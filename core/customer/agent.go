// Package customer runs a customer: it joins the map, asks for rides and
// follows each one until it completes.
package customer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/model"
)

var (
	// ErrRejected is returned when the dispatcher refuses the customer id.
	ErrRejected = errors.New("customer id refused by the dispatcher")
	// ErrNoAnswer is returned when every join attempt went unanswered.
	ErrNoAnswer = errors.New("dispatcher did not answer")
	// ErrServiceDenied is returned when a ride is refused without queueing.
	ErrServiceDenied = errors.New("service denied")
)

// Config describes one customer.
type Config struct {
	ID       model.CustomerID
	Position grid.Coordinate
	// Destinations are visited in order.
	Destinations []model.LocationID
	Topics       bus.Topics
	MaxAge       time.Duration
	JoinAttempts int
	JoinWait     time.Duration
	// HeartbeatInterval paces PingCustomer.
	HeartbeatInterval time.Duration
}

// SetDefaults fills unset durations and retry budgets.
func (c *Config) SetDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = bus.DefaultMaxAge
	}
	if c.JoinAttempts <= 0 {
		c.JoinAttempts = 5
	}
	if c.JoinWait <= 0 {
		c.JoinWait = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
}

// Agent is a customer connected to the bus.
type Agent struct {
	cfg     Config
	bus     bus.Bus
	log     logger.Logger
	fresh   bus.Freshness
	session string
}

// New creates a customer agent.
func New(cfg Config, b bus.Bus, log logger.Logger) *Agent {
	cfg.SetDefaults()
	return &Agent{cfg: cfg, bus: b, log: log, fresh: bus.Freshness{MaxAge: cfg.MaxAge}}
}

// Session returns the session adopted on join.
func (a *Agent) Session() string { return a.session }

// Run joins, completes every ride and leaves. Cancelling ctx leaves early.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.validate(); err != nil {
		return err
	}
	sub, err := a.bus.Subscribe(a.cfg.Topics.Customer())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	if err := a.join(ctx, sub); err != nil {
		return err
	}
	a.log.Infof("customer %s joined session %s at %v", a.cfg.ID, a.session, a.cfg.Position)

	g, gctx := errgroup.WithContext(ctx)
	rides, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		defer cancel()
		return a.ride(rides, sub)
	})
	g.Go(func() error { return a.heartbeat(rides) })
	err = g.Wait()

	leaveCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	a.send(leaveCtx, bus.CustomerDisconnect, nil)
	a.log.Infof("customer %s left", a.cfg.ID)
	return err
}

func (a *Agent) validate() error {
	if !a.cfg.ID.Valid() {
		return fmt.Errorf("invalid customer id %q", a.cfg.ID)
	}
	if !a.cfg.Position.Valid() {
		return fmt.Errorf("position %v is off the map", a.cfg.Position)
	}
	for _, d := range a.cfg.Destinations {
		if !d.Valid() {
			return fmt.Errorf("invalid destination %q", d)
		}
	}
	return nil
}

func (a *Agent) send(ctx context.Context, subject bus.Subject, data []byte) {
	e := bus.Envelope{Subject: subject, ID: bus.CustomerRef(a.cfg.ID), Coord: a.cfg.Position, Data: data, Session: a.session}
	e.Stamp(time.Now())
	if err := a.bus.Publish(ctx, a.cfg.Topics.Requests(), e); err != nil {
		a.log.Errorf("publish %s: %v", subject, err)
	}
}

// join announces the customer with a fresh correlator and waits for the
// matching answer, retrying a bounded number of times.
func (a *Agent) join(ctx context.Context, sub bus.Subscription) error {
	correlator := uuid.NewString()
	self := bus.CustomerRef(a.cfg.ID)
	for attempt := 1; attempt <= a.cfg.JoinAttempts; attempt++ {
		a.send(ctx, bus.CustomerJoin, bus.CorrelatorData(correlator))
		timer := time.NewTimer(a.cfg.JoinWait)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				a.log.Warnf("join attempt %d/%d unanswered", attempt, a.cfg.JoinAttempts)
				break wait
			case e, ok := <-sub.C():
				if !ok {
					timer.Stop()
					return ErrNoAnswer
				}
				if e.ID != self || !a.fresh.Fresh(e) || bus.ReadCorrelator(e.Data) != correlator {
					continue
				}
				timer.Stop()
				switch e.Subject {
				case bus.CustomerConfirmed:
					a.session = e.Session
					return nil
				case bus.CustomerRejected:
					return ErrRejected
				}
			}
		}
	}
	return ErrNoAnswer
}

func (a *Agent) ride(ctx context.Context, sub bus.Subscription) error {
	for _, dest := range a.cfg.Destinations {
		a.log.Infof("asking for a ride to %s", dest)
		a.send(ctx, bus.AskForService, bus.LocationData(dest))
		if err := a.follow(ctx, sub, dest); err != nil {
			return err
		}
	}
	return nil
}

// follow waits for the current ride to complete.
func (a *Agent) follow(ctx context.Context, sub bus.Subscription, dest model.LocationID) error {
	self := bus.CustomerRef(a.cfg.ID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if e.ID != self || !a.fresh.Fresh(e) || e.Session != a.session {
				continue
			}
			switch e.Subject {
			case bus.ServiceAccepted:
				a.log.Infof("taxi %s is coming", taxiName(e.Data))
			case bus.ServiceDenied:
				if !bus.ReadFlag(e.Data) {
					return fmt.Errorf("ride to %s: %w", dest, ErrServiceDenied)
				}
				a.log.Infof("no taxi available, waiting in queue")
			case bus.PickedUp:
				a.log.Infof("picked up by taxi %s", taxiName(e.Data))
			case bus.TaxiStopped:
				a.log.Infof("taxi %s stopped", taxiName(e.Data))
			case bus.TaxiResumed:
				a.log.Infof("taxi %s resumed", taxiName(e.Data))
			case bus.TaxiDisconnected:
				if id, pos, err := bus.ReadTaxiCoord(e.Data); err == nil {
					a.log.Warnf("taxi %d disconnected at %v, back in queue", id, pos)
				}
			case bus.ServiceCompleted:
				a.log.Infof("arrived at %s", dest)
				return nil
			}
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.send(ctx, bus.PingCustomer, nil)
		}
	}
}

func taxiName(data []byte) string {
	id, err := bus.ReadTaxi(data)
	if err != nil {
		return "?"
	}
	return bus.TaxiRef(id)
}
