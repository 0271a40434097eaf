package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/taxifleet/core/factory"
	"github.com/kilianp07/taxifleet/infra/store/memory"
	"github.com/kilianp07/taxifleet/infra/store/sqlite"
)

func TestOpenDefaultsToMemory(t *testing.T) {
	s, err := Open(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	s, err := Open(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": path}})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &sqlite.Store{}, s)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(factory.ModuleConfig{Type: "sqlite"})
	assert.Error(t, err)
	_, err = Open(factory.ModuleConfig{Type: "redis"})
	assert.Error(t, err)
}
