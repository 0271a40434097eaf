// Package config loads the taxifleet configuration file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/taxifleet/core/metrics"
	"github.com/kilianp07/taxifleet/infra/mqtt"
)

type Config struct {
	MQTT     mqtt.Config    `json:"mqtt"`
	Bus      BusConfig      `json:"bus"`
	Central  CentralConfig  `json:"central"`
	Taxi     TaxiConfig     `json:"taxi"`
	Customer CustomerConfig `json:"customer"`
	Sensor   SensorConfig   `json:"sensor"`
	Metrics  metrics.Config `json:"metrics"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Bus.SetDefaults()
	c.Central.SetDefaults()
	c.Taxi.SetDefaults()
	c.Sensor.SetDefaults()
}

// Validate checks the sections every process needs. Role specific
// sections are validated by the command that uses them.
func (c Config) Validate() error {
	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	if c.Bus.Transport == TransportMQTT && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}
