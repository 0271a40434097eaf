//go:build !no_containers

package test

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/app"
	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/customer"
	"github.com/kilianp07/taxifleet/core/factory"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/sensor"
	"github.com/kilianp07/taxifleet/core/taxi"
	"github.com/kilianp07/taxifleet/infra/logger"
	"github.com/kilianp07/taxifleet/infra/mqtt"
	"github.com/kilianp07/taxifleet/test/util"
)

func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("DOCKER_AVAILABLE") == "" {
		t.Skip("DOCKER_AVAILABLE not set")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not installed")
	}
}

func connect(t *testing.T, broker, id string) *mqtt.Bus {
	t.Helper()
	b, err := mqtt.New(mqtt.Config{Broker: broker, ClientID: id, QoS: map[string]byte{"default": 1}, Buffer: 256})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestFleetOverMQTT runs every role on its own broker connection and
// serves one customer.
func TestFleetOverMQTT(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	broker, stop, err := util.StartMosquitto(ctx)
	require.NoError(t, err)
	defer stop()

	promAddr, err := util.FreeAddr()
	require.NoError(t, err)

	cfg := &config.Config{
		MQTT: mqtt.Config{Broker: broker},
		Bus:  config.BusConfig{Transport: config.TransportMQTT, Prefix: "e2e"},
		Central: config.CentralConfig{
			Listen:    "127.0.0.1:0",
			Store:     factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": t.TempDir() + "/fleet.db"}},
			Locations: []config.LocationConfig{{ID: "A", X: 4, Y: 4}},
		},
	}
	cfg.Metrics.PrometheusAddr = promAddr
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	central, err := app.NewCentral(cfg, connect(t, broker, "central"))
	require.NoError(t, err)
	defer central.Close()
	require.NoError(t, central.Listen())

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go func() { _ = central.Run(runCtx) }()
	select {
	case <-central.Dispatcher.Ready():
	case <-ctx.Done():
		t.Fatal("dispatcher not ready")
	}

	tc := cfg.Taxi
	tc.ID = 1
	tc.Central = central.Addr().String()
	tc.SensorListen = "127.0.0.1:0"
	agent := taxi.New(tc.Agent(cfg.Bus), connect(t, broker, "taxi-1"), logger.NopLogger{})
	require.NoError(t, agent.Bind())
	go func() { _ = agent.Run(runCtx) }()

	sens := sensor.NewAgent(sensor.Config{TaxiAddr: agent.SensorAddr().String(), Interval: 50 * time.Millisecond}, logger.NopLogger{})
	go func() { _ = sens.Run(runCtx) }()

	cust := customer.New(customer.Config{
		ID:           'e',
		Position:     grid.Coordinate{X: 1, Y: 1},
		Destinations: []model.LocationID{'A'},
		Topics:       cfg.Bus.Topics(),
	}, connect(t, broker, "customer-e"), logger.NopLogger{})
	rideCtx, rideCancel := context.WithTimeout(runCtx, 30*time.Second)
	defer rideCancel()
	require.NoError(t, cust.Run(rideCtx))
	assert.Equal(t, grid.Coordinate{X: 4, Y: 4}, agent.State().Position())

	metricCtx, metricCancel := context.WithTimeout(ctx, util.MetricTimeout)
	defer metricCancel()
	assert.NoError(t, util.WaitForMetric(metricCtx, "http://"+promAddr+"/metrics", `dispatcher_requests_total{subject="ask_for_service"}`))
}
