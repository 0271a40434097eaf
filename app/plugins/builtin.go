package plugins

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/infra/mqtt"
	"github.com/kilianp07/taxifleet/internal/eventbus"
)

func init() {
	RegisterTransport(config.TransportMQTT, func(cfg *config.Config) (bus.Bus, error) {
		mc := cfg.MQTT
		if mc.ClientID == "" {
			mc.ClientID = "taxifleet-" + uuid.NewString()[:8]
		}
		b, err := mqtt.New(mc)
		if err != nil {
			return nil, fmt.Errorf("mqtt bus: %w", err)
		}
		return b, nil
	})
	// The memory hub only connects components living in the same process.
	RegisterTransport(config.TransportMemory, func(*config.Config) (bus.Bus, error) {
		return eventbus.New(), nil
	})
}
