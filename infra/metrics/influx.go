package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/taxifleet/core/metrics"
	"github.com/kilianp07/taxifleet/infra/logger"
)

// InfluxSink writes service and fleet events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordService writes one service step.
func (s *InfluxSink) RecordService(ev coremetrics.ServiceEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("service_event").
		AddTag("stage", ev.Stage.String()).
		AddTag("customer", ev.Customer).
		AddTag("component", "dispatcher")
	if ev.Taxi != "" {
		p = p.AddTag("taxi", ev.Taxi)
	}
	if ev.Destination != "" {
		p = p.AddField("destination", ev.Destination)
	}
	p = p.AddField("count", 1).SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordFleet writes a census of the map.
func (s *InfluxSink) RecordFleet(ev coremetrics.FleetEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("fleet_state").
		AddTag("component", "dispatcher").
		AddField("taxis", ev.Taxis).
		AddField("connected", ev.Connected).
		AddField("carrying", ev.Carrying).
		AddField("stopped", ev.Stopped).
		AddField("customers", ev.Customers).
		AddField("queued", ev.Queued).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client's resources.
func (s *InfluxSink) Close() {
	s.client.Close()
}
