package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/sagaflow/pkg/lock"
	"github.com/dukex/sagaflow/pkg/persistence/file"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/dukex/sagaflow/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		expected string
	}{
		{url: "postgres://user@localhost/sagaflow", expected: "postgres"},
		{url: "postgresql://user@localhost/sagaflow", expected: "postgresql"},
		{url: "memory://", expected: "memory"},
		{url: "file://./data", expected: "file"},
		{url: "./data", expected: "file"},
		{url: "mongodb://localhost", expected: "file"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, parsePersistenceProvider(tt.url))
		})
	}
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := NewPersistence(context.Background(), logger, "memory://")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, p)

	p, err = NewPersistence(context.Background(), logger, "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus, err := NewEventBus("memory", nil, "sagaflow-test", logger)
	require.NoError(t, err)
	assert.NotNil(t, bus.Publisher)
	assert.NotNil(t, bus.Subscriber)
	assert.True(t, bus.InProcess)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("rabbitmq", nil, "sagaflow-test", logger)
	require.Error(t, err)

	_, err = NewEventBus("kafka", nil, "sagaflow-test", logger)
	require.Error(t, err)
}

func TestCoordinationWithoutRedis(t *testing.T) {
	t.Parallel()

	client, err := NewRedisClient(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, client)

	assert.IsType(t, &lock.MemoryLocker{}, NewLocker(client, lock.Options{}))
	assert.IsType(t, &timer.MemoryStore{}, NewTimerStore(client))

	_, err = NewRedisClient(context.Background(), "not a url")
	require.Error(t, err)
}
