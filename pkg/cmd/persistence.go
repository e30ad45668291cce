package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/sagaflow/pkg/persistence"
	"github.com/dukex/sagaflow/pkg/persistence/file"
	"github.com/dukex/sagaflow/pkg/persistence/memory"
	"github.com/dukex/sagaflow/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "memory", "postgres", "postgresql"}

// NewPersistence picks the backend from the scheme of databaseURL:
// postgres:// and postgresql:// use PostgreSQL, file:// serves definitions
// from a directory with in-memory instances, memory:// keeps everything in
// process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		postgres, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return postgres, nil
	case "memory":
		return memory.NewPersistence(memory.WithCleanup()), nil
	default:
		return file.NewPersistence(databaseURL, memory.NewPersistence(memory.WithCleanup())), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
