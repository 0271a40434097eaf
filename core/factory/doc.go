// Package factory provides a small generic registry used to instantiate
// pluggable modules, such as metrics sinks and store backends, from
// configuration. A module is a type name and a map of raw settings decoded
// into a typed struct by its factory.
//
// Example usage:
//
//	reg := factory.NewRegistry[store.Store]()
//	reg.Register("sqlite", func(conf map[string]any) (store.Store, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlite.Open(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "fleet.db"}})
package factory
