package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/wire"
)

// ErrFatal is returned by Run after a fatal incident was reported.
var ErrFatal = errors.New("fatal incident reported")

// Incident blocks the taxi for the duration of its importance.
type Incident struct {
	Importance Importance
	Reason     Reason
}

// Config tunes the sensor loop.
type Config struct {
	TaxiAddr string
	Interval time.Duration
	// Timeout bounds the wait for the taxi's reply.
	Timeout time.Duration
}

// Agent emulates the on-board sensor of one taxi.
type Agent struct {
	cfg       Config
	log       logger.Logger
	incidents chan Incident
	now       func() time.Time
}

// NewAgent builds a sensor agent.
func NewAgent(cfg Config, log logger.Logger) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	return &Agent{cfg: cfg, log: log, incidents: make(chan Incident, 4), now: time.Now}
}

// Report injects an incident into the next cycles.
func (a *Agent) Report(i Incident) {
	select {
	case a.incidents <- i:
	default:
		a.log.Warnf("incident %s dropped: queue full", i.Importance)
	}
}

// Run connects to the taxi and reports its status until ctx is done, the
// taxi goes away or a fatal incident is sent.
func (a *Agent) Run(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.cfg.TaxiAddr)
	if err != nil {
		return fmt.Errorf("dial taxi: %w", err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.SetDeadline(time.Now())
	}()

	if err := wire.Write(conn, wire.Control(wire.ENQ)); err != nil {
		return fmt.Errorf("send ENQ: %w", err)
	}
	f, err := wire.ReadTimeout(conn, a.cfg.Timeout)
	if err != nil {
		return a.exit(ctx, fmt.Errorf("read link reply: %w", err))
	}
	if f[0] != wire.ACK {
		return fmt.Errorf("taxi refused sensor link: 0x%02x", f[0])
	}
	a.log.Infof("sensor linked to %s", a.cfg.TaxiAddr)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	var (
		current Incident
		until   time.Time
		stopped bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case i := <-a.incidents:
			current = i
			until = a.now().Add(i.Importance.Duration())
			a.log.Infof("incident %s (%s)", i.Importance, i.Reason)
			continue
		case <-ticker.C:
		}

		st := Status{CanMove: true}
		if current.Importance == ImportanceFatal {
			st = Status{Fatal: true, Importance: ImportanceFatal, Reason: current.Reason}
		} else if current.Importance != ImportanceNone && a.now().Before(until) {
			st = Status{Importance: current.Importance, Reason: current.Reason}
		} else {
			current = Incident{}
		}
		if err := wire.Write(conn, EncodeStatus(st)); err != nil {
			return a.exit(ctx, fmt.Errorf("send status: %w", err))
		}
		if st.Fatal {
			return ErrFatal
		}
		f, err := wire.ReadTimeout(conn, a.cfg.Timeout)
		if err != nil {
			return a.exit(ctx, fmt.Errorf("read reply: %w", err))
		}
		r, err := DecodeReply(f)
		if err != nil {
			a.log.Warnf("bad reply: %v", err)
			continue
		}
		if r.OrderedToStop != stopped {
			stopped = r.OrderedToStop
			a.log.Infof("taxi ordered to stop: %t", stopped)
		}
	}
}

func (a *Agent) exit(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
