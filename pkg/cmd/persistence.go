// Package cmd provides common initialization helpers for the command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/persistence/file"
	"github.com/canvasflow/canvasflow/pkg/persistence/postgresql"
	redispersistence "github.com/canvasflow/canvasflow/pkg/persistence/redis"
)

// NewPersistence creates a persistence backend from a database URL. A
// postgres:// or postgresql:// URL selects the PostgreSQL backend; anything
// else is treated as a file path for the JSON document store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

// WithEntityCache layers the redis position cache over p when redisURL is
// set; an empty URL returns p unchanged.
func WithEntityCache(logger *slog.Logger, p persistence.Persistence, redisURL string) persistence.Persistence {
	if redisURL == "" {
		return p
	}

	client, err := redispersistence.NewClient(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to create redis client: %w", err))
	}

	return redispersistence.WrapPersistence(logger, client, p)
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
