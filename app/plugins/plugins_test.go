package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/bus"
)

func TestOpenMemoryBus(t *testing.T) {
	b, err := OpenBus(&config.Config{Bus: config.BusConfig{Transport: config.TransportMemory}})
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe("requests")
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), "requests", bus.Envelope{Subject: bus.PingTaxi, ID: "1"}))
	e := <-sub.C()
	assert.Equal(t, bus.PingTaxi, e.Subject)
}

func TestOpenUnknownBus(t *testing.T) {
	_, err := OpenBus(&config.Config{Bus: config.BusConfig{Transport: "smoke"}})
	assert.ErrorContains(t, err, "known: [memory mqtt]")
}
