// Package infra contains technical adapters: the MQTT bus, the stores,
// the metrics exporters and the logger. These packages should depend only
// on the interfaces defined in the core packages.
package infra
