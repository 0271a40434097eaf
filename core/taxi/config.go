package taxi

import (
	"time"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/model"
)

// Config tunes a taxi agent.
type Config struct {
	ID          model.TaxiID
	CentralAddr string
	SensorAddr  string
	Topics      bus.Topics
	// MaxAge is the bus staleness threshold.
	MaxAge time.Duration
	// CourtesyTimeout bounds the wait for each sensor frame.
	CourtesyTimeout   time.Duration
	HeartbeatInterval time.Duration
	// FatalGrace is how long the taxi lingers after a fatal sensor error.
	FatalGrace   time.Duration
	LinkAttempts int
	LinkBackoff  time.Duration
	IDAttempts   int
}

// SetDefaults fills unset durations and retry budgets.
func (c *Config) SetDefaults() {
	if c.CourtesyTimeout <= 0 {
		c.CourtesyTimeout = 1500 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.FatalGrace <= 0 {
		c.FatalGrace = 2 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = bus.DefaultMaxAge
	}
	if c.LinkAttempts <= 0 {
		c.LinkAttempts = 5
	}
	if c.LinkBackoff <= 0 {
		c.LinkBackoff = time.Second
	}
	if c.IDAttempts <= 0 {
		c.IDAttempts = 3
	}
}
