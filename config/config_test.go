package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "cli"
  username: "user"
  password: "pass"
  use_tls: false
  qos:
    default: 1
bus:
  prefix: "fleet"
  max_age: 5s
central:
  listen: ":9000"
  grace: 20s
  store:
    type: sqlite
    conf:
      path: /tmp/fleet.db
  locations:
    - {id: A, x: 2, y: 2}
    - {id: B, x: 10, y: 15}
taxi:
  id: 7
  courtesy_timeout: 2s
customer:
  id: c
  x: 1
  y: 3
  destinations: [A, B]
metrics:
  sinks:
    - type: "nop"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "cli"},
		{"username", cfg.MQTT.Username, "user"},
		{"password", cfg.MQTT.Password, "pass"},
		{"qos", cfg.MQTT.QoS["default"], byte(1)},
		{"use_tls", cfg.MQTT.UseTLS, false},
		{"transport", cfg.Bus.Transport, TransportMQTT},
		{"requests topic", cfg.Bus.Topics().Requests(), "fleet/requests"},
		{"max_age", cfg.Bus.MaxAge, 5 * time.Second},
		{"listen", cfg.Central.Listen, ":9000"},
		{"grace", cfg.Central.Grace, 20 * time.Second},
		{"store", cfg.Central.Store.Type, "sqlite"},
		{"store path", cfg.Central.Store.Conf["path"], "/tmp/fleet.db"},
		{"taxi id", cfg.Taxi.ID, 7},
		{"taxi central default", cfg.Taxi.Central, "127.0.0.1:7500"},
		{"courtesy", cfg.Taxi.CourtesyTimeout, 2 * time.Second},
		{"sensor default", cfg.Sensor.Taxi, "127.0.0.1:7600"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
	}
	for _, c := range checks {
		assert.Equal(t, c.want, c.got, c.name)
	}

	locs, err := cfg.Central.MapLocations()
	require.NoError(t, err)
	assert.Equal(t, []model.Location{
		{ID: 'A', Position: grid.Coordinate{X: 2, Y: 2}},
		{ID: 'B', Position: grid.Coordinate{X: 10, Y: 15}},
	}, locs)

	d := cfg.Central.Dispatch(cfg.Bus)
	assert.Equal(t, 5*time.Second, d.MaxAge)
	assert.Equal(t, "fleet/map_responses", d.Topics.Map())

	agent := cfg.Taxi.Agent(cfg.Bus)
	assert.Equal(t, model.TaxiID(7), agent.ID)
	assert.Equal(t, "fleet/taxi_responses", agent.Topics.Taxi())

	cust, err := cfg.Customer.Agent(cfg.Bus)
	require.NoError(t, err)
	assert.Equal(t, model.CustomerID('c'), cust.ID)
	assert.Equal(t, []model.LocationID{'A', 'B'}, cust.Destinations)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"bus": {"transport": "memory"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, cfg.Bus.Transport)
	assert.Equal(t, "memory", cfg.Central.Store.Type)
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", "mqtt:\n  broker: tcp://a:1883\n")
	t.Setenv("K_MQTT__BROKER", "tcp://b:1883")
	t.Setenv("K_TAXI__ID", "12")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://b:1883", cfg.MQTT.Broker)
	assert.Equal(t, 12, cfg.Taxi.ID)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", ""))
	assert.ErrorContains(t, err, "unsupported")

	_, err = Load(writeConfig(t, "config.yaml", "bus:\n  transport: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "unknown transport")

	_, err = Load(writeConfig(t, "config.yaml", "bus:\n  transport: mqtt\n"))
	assert.ErrorContains(t, err, "broker")

	_, err = Load(writeConfig(t, "config.yaml", "bus:\n  transport: memory\nmetrics:\n  sinks:\n    - conf: {}\n"))
	assert.Error(t, err)
}

func TestCentralValidate(t *testing.T) {
	c := CentralConfig{}
	assert.Error(t, c.Validate())

	c.Locations = []LocationConfig{{ID: "A"}, {ID: "A", X: 1}}
	assert.ErrorContains(t, c.Validate(), "duplicate")

	c.Locations = []LocationConfig{{ID: "a"}}
	assert.Error(t, c.Validate())

	c.Locations = []LocationConfig{{ID: "A", X: 40}}
	assert.ErrorContains(t, c.Validate(), "off the grid")

	c.Locations = []LocationConfig{{ID: "Z", X: 19, Y: 19}}
	assert.NoError(t, c.Validate())
}

func TestTaxiAndCustomerValidate(t *testing.T) {
	assert.NoError(t, TaxiConfig{ID: 0}.Validate())
	assert.Error(t, TaxiConfig{ID: -1}.Validate())
	assert.Error(t, TaxiConfig{ID: model.MaxTaxiID + 1}.Validate())

	assert.Error(t, CustomerConfig{ID: "A", Destinations: []string{"A"}}.Validate())
	assert.Error(t, CustomerConfig{ID: "a"}.Validate())
	assert.Error(t, CustomerConfig{ID: "a", Destinations: []string{"?"}}.Validate())
	assert.NoError(t, CustomerConfig{ID: "a", Destinations: []string{"B"}}.Validate())
}
