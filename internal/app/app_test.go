package app

import (
	"context"
	"testing"

	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/logging"
	"github.com/dunamismax/photoid/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreFallsBackToMemory(t *testing.T) {
	s, closeFn, err := OpenStore(context.Background(), config.DatabaseConfig{}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, &store.MemoryJobStore{}, s)
	assert.NoError(t, closeFn())
}

func TestOpenStoreRejectsUnreachablePostgres(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := OpenStore(ctx, config.DatabaseConfig{DSN: "postgres://nobody@127.0.0.1:1/none?sslmode=disable"}, logging.Discard())
	assert.Error(t, err)
}
