package handshake

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kilianp07/taxifleet/core/logger"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/wire"
)

// Client drives the taxi side of the handshake.
type Client struct {
	LinkAttempts int
	LinkBackoff  time.Duration
	IDAttempts   int
	ReplyTimeout time.Duration
	Log          logger.Logger
}

// DefaultClient returns a client with the standard retry budget.
func DefaultClient(log logger.Logger) Client {
	return Client{LinkAttempts: 5, LinkBackoff: time.Second, IDAttempts: 3, ReplyTimeout: DefaultReadTimeout, Log: log}
}

// Authenticate runs the handshake on conn and returns the session granted
// to id. ErrIDInUse and ErrLinkRefused are fatal for the caller.
func (c Client) Authenticate(ctx context.Context, conn net.Conn, id model.TaxiID) (string, error) {
	if err := c.linkCheck(ctx, conn); err != nil {
		return "", err
	}
	session, err := c.negotiate(conn, id)
	if err != nil {
		return "", err
	}
	if err := wire.Write(conn, wire.Control(wire.EOT)); err != nil {
		c.Log.Warnf("send EOT: %v", err)
	}
	return session, nil
}

func (c Client) linkCheck(ctx context.Context, conn net.Conn) error {
	for attempt := 1; attempt <= c.LinkAttempts; attempt++ {
		if err := wire.Write(conn, wire.Control(wire.ENQ)); err != nil {
			return fmt.Errorf("send ENQ: %w", err)
		}
		f, err := wire.ReadTimeout(conn, c.ReplyTimeout)
		if err != nil && !wire.IsTimeout(err) {
			return fmt.Errorf("read link reply: %w", err)
		}
		if err == nil && f[0] == wire.ACK {
			return nil
		}
		c.Log.Warnf("link check attempt %d/%d failed", attempt, c.LinkAttempts)
		if attempt == c.LinkAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.LinkBackoff):
		}
	}
	return ErrLinkRefused
}

func (c Client) negotiate(conn net.Conn, id model.TaxiID) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.IDAttempts; attempt++ {
		if err := wire.Write(conn, EncodeID(id)); err != nil {
			return "", fmt.Errorf("send id frame: %w", err)
		}
		f, err := wire.ReadTimeout(conn, c.ReplyTimeout)
		if err != nil {
			if !wire.IsTimeout(err) {
				return "", fmt.Errorf("read id reply: %w", err)
			}
			lastErr = err
			continue
		}
		accepted, session, err := DecodeReply(f)
		if err != nil {
			c.Log.Warnf("id negotiation attempt %d/%d: %v", attempt, c.IDAttempts, err)
			lastErr = err
			continue
		}
		if !accepted {
			_ = wire.Write(conn, wire.Control(wire.EOT))
			return "", fmt.Errorf("taxi %d: %w", id, ErrIDInUse)
		}
		return session, nil
	}
	return "", fmt.Errorf("id negotiation failed: %w", lastErr)
}
