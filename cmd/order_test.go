package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/internal/eventbus"
)

func TestParseTaxi(t *testing.T) {
	id, err := parseTaxi("12")
	require.NoError(t, err)
	assert.Equal(t, model.TaxiID(12), id)

	_, err = parseTaxi("x")
	assert.Error(t, err)
	_, err = parseTaxi("100")
	assert.Error(t, err)
}

func TestParseCoordinate(t *testing.T) {
	c, err := parseCoordinate("3", "19")
	require.NoError(t, err)
	assert.Equal(t, grid.Coordinate{X: 3, Y: 19}, c)

	_, err = parseCoordinate("20", "0")
	assert.ErrorContains(t, err, "off the grid")
	_, err = parseCoordinate("1", "y")
	assert.Error(t, err)
}

func TestLearnSession(t *testing.T) {
	hub := eventbus.New()
	defer hub.Close()
	topics := bus.Topics{Prefix: "p"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make(chan string, 1)
	go func() {
		s, err := learnSession(ctx, hub, topics)
		assert.NoError(t, err)
		got <- s
	}()

	require.Eventually(t, func() bool {
		// keep publishing until the subscription is in place
		_ = hub.Publish(ctx, topics.Map(), bus.Envelope{Subject: bus.TaxiMove, Session: "wrong"})
		_ = hub.Publish(ctx, topics.Map(), bus.Envelope{Subject: bus.MapUpdate, Session: "s-1"})
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "s-1", <-got)
}

func TestLearnSessionTimeout(t *testing.T) {
	hub := eventbus.New()
	defer hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := learnSession(ctx, hub, bus.Topics{})
	assert.ErrorContains(t, err, "--session")
}
