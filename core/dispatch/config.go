package dispatch

import (
	"time"

	"github.com/kilianp07/taxifleet/core/bus"
)

// DefaultGrace is how long an entity may stay silent before it is
// considered stray.
const DefaultGrace = 10 * time.Second

// Config tunes the dispatcher.
type Config struct {
	Topics bus.Topics
	// MaxAge is the bus staleness threshold.
	MaxAge time.Duration
	// Grace is the heartbeat grace period.
	Grace time.Duration
	// SweepInterval defaults to half of Grace.
	SweepInterval time.Duration
}

// SetDefaults fills unset durations.
func (c *Config) SetDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = bus.DefaultMaxAge
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.Grace / 2
	}
}
