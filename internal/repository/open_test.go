package repository

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/pkg/config"
)

func TestOpenMemoryByDefault(t *testing.T) {
	store, closer, err := Open(context.Background(), &config.Config{}, Options{})
	require.NoError(t, err)
	defer closer() //nolint:errcheck
	assert.IsType(t, &MemoryStore{}, store)
}

func TestOpenRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := &config.Config{
		Store: config.StoreConfig{Driver: config.StoreRedis},
		Redis: config.RedisConfig{Host: srv.Host(), Port: mustPort(t, srv.Port()), KeyPrefix: "cs:"},
	}

	store, closer, err := Open(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer closer() //nolint:errcheck

	require.NoError(t, store.Set(context.Background(), CollectionSystem, DocAppStatus, map[string]interface{}{"locked": false}, false))
	assert.True(t, srv.Exists("cs:docs:"+CollectionSystem))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}, Options{})
	assert.Error(t, err)
}

func mustPort(t *testing.T, raw string) int {
	t.Helper()
	port, err := strconv.Atoi(raw)
	require.NoError(t, err)
	return port
}
