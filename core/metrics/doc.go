// Package metrics defines the sinks the dispatcher reports service and
// fleet events to. Sinks like PromSink and InfluxSink live in infra/metrics
// and register themselves by type name; NewMetricsSink builds the sinks
// listed in configuration and fans out to several of them with MultiSink.
package metrics
