// Package backend builds the dispatcher's store from configuration.
package backend

import (
	"fmt"

	"github.com/kilianp07/taxifleet/core/factory"
	"github.com/kilianp07/taxifleet/core/store"
	"github.com/kilianp07/taxifleet/infra/store/memory"
	"github.com/kilianp07/taxifleet/infra/store/sqlite"
)

var registry = factory.NewRegistry[store.Store]()

func init() {
	_ = registry.Register("memory", func(map[string]any) (store.Store, error) {
		return memory.New(), nil
	})
	_ = registry.Register("sqlite", func(conf map[string]any) (store.Store, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, fmt.Errorf("sqlite store: path is required")
		}
		return sqlite.New(c.Path)
	})
}

// Open creates the store described by cfg. An empty type selects memory.
func Open(cfg factory.ModuleConfig) (store.Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return registry.Create(cfg)
}
