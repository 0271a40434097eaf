// Package handshake implements the once-per-connection authentication of a
// taxi with the dispatcher over a TCP stream: a link check (ENQ/ACK), then
// an id negotiation answered with the session, then EOT.
package handshake

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
	"github.com/kilianp07/taxifleet/core/wire"
)

// DefaultReadTimeout bounds every read of the server.
const DefaultReadTimeout = 5 * time.Second

// Registry is the subset of the store the server needs.
type Registry interface {
	Ping(ctx context.Context) error
	Session(ctx context.Context) (string, error)
	ClaimTaxi(ctx context.Context, id model.TaxiID) (store.ClaimResult, error)
}

// Server accepts taxi connections and grants identities.
type Server struct {
	reg         Registry
	pub         bus.Publisher
	topics      bus.Topics
	log         logger.Logger
	readTimeout time.Duration
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewServer builds a server announcing accepted taxis on pub.
func NewServer(reg Registry, pub bus.Publisher, topics bus.Topics, log logger.Logger) *Server {
	return &Server{reg: reg, pub: pub, topics: topics, log: log, readTimeout: DefaultReadTimeout, now: time.Now}
}

// SetReadTimeout overrides the per-read deadline.
func (s *Server) SetReadTimeout(d time.Duration) { s.readTimeout = d }

// Serve accepts connections on ln until ctx is done. Each connection is
// handled on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Errorf("accept: %v", err)
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// grant is the identity a connection already holds.
type grant struct {
	id      model.TaxiID
	session string
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	var held *grant
	for {
		f, err := wire.ReadTimeout(conn, s.readTimeout)
		if err != nil {
			if wire.IsTimeout(err) {
				s.log.Warnf("handshake with %s timed out", remote)
			}
			return
		}
		switch f[0] {
		case wire.ENQ:
			reply := wire.ACK
			if err := s.reg.Ping(ctx); err != nil {
				s.log.Errorf("store unavailable: %v", err)
				reply = wire.NACK
			}
			if err := wire.Write(conn, wire.Control(reply)); err != nil {
				return
			}
		case wire.STX:
			reply, g := s.negotiate(ctx, f, remote, held)
			if g != nil {
				held = g
			}
			if err := wire.Write(conn, reply); err != nil {
				return
			}
		case wire.EOT:
			return
		default:
			if err := wire.Write(conn, wire.Control(wire.NACK)); err != nil {
				return
			}
		}
	}
}

// negotiate answers an id frame. A connection that already holds an id
// gets the same answer again when it repeats it, so a client retrying after
// a lost or garbled reply is not mistaken for a second taxi.
func (s *Server) negotiate(ctx context.Context, f wire.Frame, remote string, held *grant) (wire.Frame, *grant) {
	id, err := DecodeID(f)
	if err != nil {
		s.log.Warnf("bad id frame from %s: %v", remote, err)
		return EncodeReply(false, ""), nil
	}
	if held != nil {
		if held.id != id {
			s.log.Warnf("%s already holds taxi %d, refusing %d", remote, held.id, id)
			return EncodeReply(false, ""), nil
		}
		s.log.Debugf("taxi %d repeated its id, granting again", id)
		return EncodeReply(true, held.session), nil
	}
	res, err := s.reg.ClaimTaxi(ctx, id)
	if err != nil {
		s.log.Errorf("claim taxi %d: %v", id, err)
		return EncodeReply(false, ""), nil
	}
	if res == store.ClaimRejected {
		s.log.Infof("taxi %d refused: id in use", id)
		return EncodeReply(false, ""), nil
	}
	session, err := s.reg.Session(ctx)
	if err != nil {
		s.log.Errorf("read session: %v", err)
		return EncodeReply(false, ""), nil
	}
	s.log.Infof("taxi %d authenticated (%s)", id, res)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.announce(ctx, id, res, session)
	}()
	return EncodeReply(true, session), &grant{id: id, session: session}
}

// announce lets the dispatcher process the join on its ordinary event path.
func (s *Server) announce(ctx context.Context, id model.TaxiID, res store.ClaimResult, session string) {
	subject := bus.NewTaxi
	if res == store.ClaimReconnect {
		subject = bus.TaxiReconnect
	}
	env := bus.Envelope{Subject: subject, ID: bus.TaxiRef(id), Session: session}
	env.Stamp(s.now())
	if err := s.pub.Publish(ctx, s.topics.Requests(), env); err != nil {
		s.log.Errorf("announce taxi %d: %v", id, err)
	}
}
