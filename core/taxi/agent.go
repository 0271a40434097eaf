// Package taxi is the concurrency core of a taxi agent. Four activities
// share one State: the sensor link server, the dispatcher link consumer,
// the movement engine and the heartbeat emitter.
package taxi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/handshake"
	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/sensor"
	"github.com/kilianp07/taxifleet/core/wire"
)

// ErrFatalSensor is returned by Run when the sensor reports a fatal error.
var ErrFatalSensor = errors.New("sensor reported a fatal error")

// Agent runs one taxi.
type Agent struct {
	cfg   Config
	bus   bus.Bus
	state *State
	log   logger.Logger
	fresh bus.Freshness
	now   func() time.Time

	mu sync.Mutex
	ln net.Listener
}

// New creates an agent publishing and subscribing on b.
func New(cfg Config, b bus.Bus, log logger.Logger) *Agent {
	cfg.SetDefaults()
	return &Agent{
		cfg:   cfg,
		bus:   b,
		state: NewState(),
		log:   log,
		fresh: bus.Freshness{MaxAge: cfg.MaxAge},
		now:   time.Now,
	}
}

// State exposes the agent's shared state.
func (a *Agent) State() *State { return a.state }

// Bind opens the sensor port. Run calls it when needed.
func (a *Agent) Bind() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.SensorAddr)
	if err != nil {
		return fmt.Errorf("bind sensor port: %w", err)
	}
	a.ln = ln
	return nil
}

// SensorAddr returns the bound sensor address, nil before Bind.
func (a *Agent) SensorAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Run binds the sensor port, authenticates with the dispatcher and then
// runs every activity until ctx is done or the sensor reports a fatal
// error.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Bind(); err != nil {
		return err
	}
	defer a.ln.Close()

	sub, err := a.bus.Subscribe(a.cfg.Topics.Taxi())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Close()

	session, err := a.authenticate(ctx)
	if err != nil {
		return err
	}
	a.state.setSession(session)
	a.log.Infof("taxi %d joined session %s", a.cfg.ID, session)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, a.state.Shutdown)
	defer stop()
	g.Go(func() error { return a.serveSensor(gctx, a.ln) })
	g.Go(func() error { return a.consume(gctx, sub) })
	g.Go(func() error { return a.drive(gctx) })
	g.Go(func() error { return a.heartbeat(gctx) })
	err = g.Wait()
	if errors.Is(err, ErrFatalSensor) {
		return err
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.send(leaveCtx, bus.TaxiDisconnect, a.state.Position(), nil)
	return err
}

func (a *Agent) authenticate(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.cfg.CentralAddr)
	if err != nil {
		return "", fmt.Errorf("dial dispatcher: %w", err)
	}
	defer conn.Close()
	client := handshake.Client{
		LinkAttempts: a.cfg.LinkAttempts,
		LinkBackoff:  a.cfg.LinkBackoff,
		IDAttempts:   a.cfg.IDAttempts,
		ReplyTimeout: handshake.DefaultReadTimeout,
		Log:          a.log,
	}
	session, err := client.Authenticate(ctx, conn, a.cfg.ID)
	if err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}
	return session, nil
}

// send publishes a request carrying the current session.
func (a *Agent) send(ctx context.Context, subject bus.Subject, coord grid.Coordinate, data []byte) {
	e := bus.Envelope{Subject: subject, ID: bus.TaxiRef(a.cfg.ID), Coord: coord, Data: data, Session: a.state.Session()}
	e.Stamp(a.now())
	if err := a.bus.Publish(ctx, a.cfg.Topics.Requests(), e); err != nil {
		a.log.Errorf("publish %s: %v", subject, err)
	}
}

func (a *Agent) serveSensor(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept sensor: %w", err)
		}
		err = a.sensorSession(ctx, conn)
		_ = conn.Close()
		if errors.Is(err, ErrFatalSensor) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warnf("sensor link lost: %v", err)
		if a.state.sensorLost() {
			a.send(ctx, bus.TaxiCantMove, a.state.Position(), nil)
		}
	}
}

func (a *Agent) sensorSession(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	f, err := wire.ReadTimeout(conn, a.cfg.CourtesyTimeout)
	if err != nil {
		return fmt.Errorf("sensor link check: %w", err)
	}
	if f[0] != wire.ENQ {
		_ = wire.Write(conn, wire.Control(wire.NACK))
		return fmt.Errorf("sensor sent 0x%02x instead of ENQ", f[0])
	}
	if err := wire.Write(conn, wire.Control(wire.ACK)); err != nil {
		return err
	}
	a.log.Infof("sensor connected from %s", conn.RemoteAddr())

	for {
		f, err := wire.ReadTimeout(conn, a.cfg.CourtesyTimeout)
		if err != nil {
			return err
		}
		st, err := sensor.DecodeStatus(f)
		if err != nil {
			a.log.Warnf("bad sensor frame: %v", err)
			continue
		}
		if st.Fatal {
			return a.fatal(ctx, st)
		}
		changed, orderedToStop := a.state.applySensor(st)
		if changed {
			subject := bus.TaxiCantMove
			if st.CanMove {
				subject = bus.TaxiCanMove
			} else {
				a.log.Infof("sensor blocks taxi: %s %s", st.Importance, st.Reason)
			}
			a.send(ctx, subject, a.state.Position(), nil)
		}
		if err := wire.Write(conn, sensor.EncodeReply(sensor.Reply{OrderedToStop: orderedToStop})); err != nil {
			return err
		}
	}
}

func (a *Agent) fatal(ctx context.Context, st sensor.Status) error {
	a.log.Errorf("fatal sensor error: %s", st.Reason)
	a.send(ctx, bus.TaxiFatalError, a.state.Position(), nil)
	a.state.Shutdown()
	select {
	case <-ctx.Done():
	case <-time.After(a.cfg.FatalGrace):
	}
	return ErrFatalSensor
}

func (a *Agent) consume(ctx context.Context, sub bus.Subscription) error {
	self := bus.TaxiRef(a.cfg.ID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if e.ID != self {
				continue
			}
			if !a.fresh.Fresh(e) || e.Session != a.state.Session() {
				a.log.Debugw("dropped envelope", map[string]any{"subject": e.Subject.String(), "session": e.Session})
				continue
			}
			a.apply(ctx, e)
		}
	}
}

func (a *Agent) apply(ctx context.Context, e bus.Envelope) {
	switch e.Subject {
	case bus.TaxiGoTo:
		a.log.Infof("go to %v", e.Coord)
		if a.state.goTo(e.Coord, nil) {
			a.send(ctx, bus.TaxiCantMoveReminder, a.state.Position(), nil)
		}
	case bus.TaxiStartService:
		cust, err := bus.ReadCustomer(e.Data)
		if err != nil {
			a.log.Warnf("start service: %v", err)
			return
		}
		a.log.Infof("carrying %s to %v", cust, e.Coord)
		if a.state.goTo(e.Coord, &cust) {
			a.send(ctx, bus.TaxiCantMoveReminder, a.state.Position(), nil)
		}
	case bus.TaxiStop:
		a.state.stop()
	case bus.TaxiContinue:
		if a.state.resume() {
			a.send(ctx, bus.TaxiCantMoveReminder, a.state.Position(), nil)
		}
	case bus.TaxiChangePosition:
		a.state.changePosition(e.Coord)
	case bus.TaxiServiceCompleted:
		a.state.serviceCompleted()
	default:
		a.log.Debugf("ignored %s", e.Subject)
	}
}

func (a *Agent) drive(ctx context.Context) error {
	for {
		m, ok := a.state.nextMove()
		if !ok {
			return nil
		}
		if !m.moved {
			continue
		}
		a.send(ctx, bus.TaxiMove, m.pos, nil)
		if m.arrived {
			a.log.Infof("arrived at %v", m.pos)
			a.send(ctx, bus.DestinationReached, m.pos, nil)
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
			a.send(ctx, bus.PingTaxi, a.state.Position(), nil)
		}
	}
}
