package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/customer"
	"github.com/kilianp07/taxifleet/core/dispatch"
	"github.com/kilianp07/taxifleet/core/factory"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/sensor"
	"github.com/kilianp07/taxifleet/core/taxi"
)

// Bus transports.
const (
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

// BusConfig selects the event bus transport and its topic layout.
type BusConfig struct {
	Transport string `json:"transport"`
	Prefix    string `json:"prefix"`
	// MaxAge is how old an envelope may be before consumers drop it.
	MaxAge time.Duration `json:"max_age"`
}

func (c *BusConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = TransportMQTT
	}
	if c.MaxAge <= 0 {
		c.MaxAge = bus.DefaultMaxAge
	}
}

func (c BusConfig) Validate() error {
	if c.Transport != TransportMQTT && c.Transport != TransportMemory {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// Topics returns the topic layout under the configured prefix.
func (c BusConfig) Topics() bus.Topics { return bus.Topics{Prefix: c.Prefix} }

// LocationConfig is a named point of the map.
type LocationConfig struct {
	ID string `json:"id"`
	X  int    `json:"x"`
	Y  int    `json:"y"`
}

// CentralConfig configures the dispatcher process.
type CentralConfig struct {
	// Listen is the handshake address taxis connect to.
	Listen        string                `json:"listen"`
	Grace         time.Duration         `json:"grace"`
	SweepInterval time.Duration         `json:"sweep_interval"`
	ReadTimeout   time.Duration         `json:"read_timeout"`
	// Resume keeps the persisted session and fleet instead of resetting.
	Resume    bool                 `json:"resume"`
	Store     factory.ModuleConfig `json:"store"`
	Locations []LocationConfig     `json:"locations"`
}

func (c *CentralConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":7500"
	}
	if c.Grace <= 0 {
		c.Grace = dispatch.DefaultGrace
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
}

func (c CentralConfig) Validate() error {
	if len(c.Locations) == 0 {
		return errors.New("at least one location is required")
	}
	_, err := c.MapLocations()
	return err
}

// MapLocations converts the configured locations, rejecting bad ids,
// duplicates and coordinates off the grid.
func (c CentralConfig) MapLocations() ([]model.Location, error) {
	out := make([]model.Location, 0, len(c.Locations))
	seen := make(map[model.LocationID]bool, len(c.Locations))
	for _, l := range c.Locations {
		id, err := model.ParseLocationID(l.ID)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate location %s", id)
		}
		seen[id] = true
		pos := grid.Coordinate{X: l.X, Y: l.Y}
		if !pos.Valid() {
			return nil, fmt.Errorf("location %s off the grid: %v", id, pos)
		}
		out = append(out, model.Location{ID: id, Position: pos})
	}
	return out, nil
}

// Dispatch builds the dispatcher configuration.
func (c CentralConfig) Dispatch(b BusConfig) dispatch.Config {
	return dispatch.Config{Topics: b.Topics(), MaxAge: b.MaxAge, Grace: c.Grace, SweepInterval: c.SweepInterval}
}

// TaxiConfig configures a taxi process.
type TaxiConfig struct {
	ID                int           `json:"id"`
	Central           string        `json:"central"`
	SensorListen      string        `json:"sensor_listen"`
	CourtesyTimeout   time.Duration `json:"courtesy_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	FatalGrace        time.Duration `json:"fatal_grace"`
	LinkAttempts      int           `json:"link_attempts"`
	LinkBackoff       time.Duration `json:"link_backoff"`
	IDAttempts        int           `json:"id_attempts"`
}

func (c *TaxiConfig) SetDefaults() {
	if c.Central == "" {
		c.Central = "127.0.0.1:7500"
	}
	if c.SensorListen == "" {
		c.SensorListen = "127.0.0.1:7600"
	}
}

func (c TaxiConfig) Validate() error {
	if !model.TaxiID(c.ID).Valid() {
		return fmt.Errorf("taxi id %d out of range", c.ID)
	}
	return nil
}

// Agent builds the taxi agent configuration.
func (c TaxiConfig) Agent(b BusConfig) taxi.Config {
	return taxi.Config{
		ID:                model.TaxiID(c.ID),
		CentralAddr:       c.Central,
		SensorAddr:        c.SensorListen,
		Topics:            b.Topics(),
		MaxAge:            b.MaxAge,
		CourtesyTimeout:   c.CourtesyTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		FatalGrace:        c.FatalGrace,
		LinkAttempts:      c.LinkAttempts,
		LinkBackoff:       c.LinkBackoff,
		IDAttempts:        c.IDAttempts,
	}
}

// CustomerConfig configures a customer process.
type CustomerConfig struct {
	ID                string        `json:"id"`
	X                 int           `json:"x"`
	Y                 int           `json:"y"`
	Destinations      []string      `json:"destinations"`
	JoinAttempts      int           `json:"join_attempts"`
	JoinWait          time.Duration `json:"join_wait"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

func (c CustomerConfig) Validate() error {
	_, err := c.Agent(BusConfig{})
	return err
}

// Agent builds the customer agent configuration.
func (c CustomerConfig) Agent(b BusConfig) (customer.Config, error) {
	id, err := model.ParseCustomerID(c.ID)
	if err != nil {
		return customer.Config{}, err
	}
	pos := grid.Coordinate{X: c.X, Y: c.Y}
	if !pos.Valid() {
		return customer.Config{}, fmt.Errorf("customer position off the grid: %v", pos)
	}
	if len(c.Destinations) == 0 {
		return customer.Config{}, errors.New("at least one destination is required")
	}
	dests := make([]model.LocationID, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		loc, err := model.ParseLocationID(d)
		if err != nil {
			return customer.Config{}, err
		}
		dests = append(dests, loc)
	}
	return customer.Config{
		ID:                id,
		Position:          pos,
		Destinations:      dests,
		Topics:            b.Topics(),
		MaxAge:            b.MaxAge,
		JoinAttempts:      c.JoinAttempts,
		JoinWait:          c.JoinWait,
		HeartbeatInterval: c.HeartbeatInterval,
	}, nil
}

// SensorConfig configures a sensor process.
type SensorConfig struct {
	Taxi     string        `json:"taxi"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
}

func (c *SensorConfig) SetDefaults() {
	if c.Taxi == "" {
		c.Taxi = "127.0.0.1:7600"
	}
}

// Agent builds the sensor agent configuration.
func (c SensorConfig) Agent() sensor.Config {
	return sensor.Config{TaxiAddr: c.Taxi, Interval: c.Interval, Timeout: c.Timeout}
}
