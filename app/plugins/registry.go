// Package plugins maps transport names from the configuration to event
// bus implementations.
package plugins

import (
	"fmt"
	"sort"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/bus"
)

// TransportFactory opens an event bus from the configuration.
type TransportFactory func(cfg *config.Config) (bus.Bus, error)

var Transports = map[string]TransportFactory{}

func RegisterTransport(name string, f TransportFactory) { Transports[name] = f }

// OpenBus opens the transport selected by cfg.Bus.Transport.
func OpenBus(cfg *config.Config) (bus.Bus, error) {
	f, ok := Transports[cfg.Bus.Transport]
	if !ok {
		names := make([]string, 0, len(Transports))
		for n := range Transports {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown transport %q (known: %v)", cfg.Bus.Transport, names)
	}
	return f(cfg)
}
