package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/customer"
	"github.com/kilianp07/taxifleet/core/factory"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/sensor"
	"github.com/kilianp07/taxifleet/core/taxi"
	"github.com/kilianp07/taxifleet/infra/logger"
	"github.com/kilianp07/taxifleet/internal/eventbus"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Bus: config.BusConfig{Transport: config.TransportMemory, Prefix: "test"},
		Central: config.CentralConfig{
			Listen: "127.0.0.1:0",
			Store:  factory.ModuleConfig{Type: "memory"},
			Locations: []config.LocationConfig{
				{ID: "A", X: 2, Y: 2},
				{ID: "B", X: 10, Y: 15},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestCentralRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Central.Locations = nil
	_, err := NewCentral(cfg, eventbus.New())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Central.Store = factory.ModuleConfig{Type: "etcd"}
	_, err = NewCentral(cfg, eventbus.New())
	assert.ErrorContains(t, err, "store")
}

func TestFleetServesCustomerEndToEnd(t *testing.T) {
	cfg := testConfig()
	hub := eventbus.NewBuffered(256)
	t.Cleanup(func() { _ = hub.Close() })

	central, err := NewCentral(cfg, hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = central.Close() })
	require.NoError(t, central.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	centralDone := make(chan error, 1)
	go func() { centralDone <- central.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-centralDone:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("central did not stop")
		}
	})
	<-central.Dispatcher.Ready()

	tc := cfg.Taxi
	tc.ID = 3
	tc.Central = central.Addr().String()
	tc.SensorListen = "127.0.0.1:0"
	tc.HeartbeatInterval = 100 * time.Millisecond
	agent := taxi.New(tc.Agent(cfg.Bus), hub, logger.NopLogger{})
	require.NoError(t, agent.Bind())
	taxiDone := make(chan error, 1)
	go func() { taxiDone <- agent.Run(ctx) }()

	sens := sensor.NewAgent(sensor.Config{TaxiAddr: agent.SensorAddr().String(), Interval: 20 * time.Millisecond}, logger.NopLogger{})
	go func() { _ = sens.Run(ctx) }()

	cust := customer.New(customer.Config{
		ID:           'c',
		Position:     grid.Coordinate{X: 0, Y: 0},
		Destinations: []model.LocationID{'A', 'B'},
		Topics:       cfg.Bus.Topics(),
		JoinWait:     200 * time.Millisecond,
	}, hub, logger.NopLogger{})

	rideCtx, rideCancel := context.WithTimeout(ctx, 10*time.Second)
	defer rideCancel()
	require.NoError(t, cust.Run(rideCtx))
	assert.Equal(t, central.Dispatcher.Session(), cust.Session())

	assert.Eventually(t, func() bool {
		pos := agent.State().Position()
		return pos == grid.Coordinate{X: 10, Y: 15}
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-taxiDone:
		assert.True(t, err == nil || errors.Is(err, context.Canceled), "taxi: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("taxi did not stop")
	}
}
