package cmd

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/database/postgres"
)

// initPostgresBackend connects to PostgreSQL, runs migrations and registers
// the singleton repositories with the database package. Every command that
// touches the local store goes through here.
func initPostgresBackend(cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	assetRepo := postgres.NewAssetRepository(pool)
	stackRepo := postgres.NewStackRepository(pool)
	leaseRepo := postgres.NewLeaseRepository(pool)
	embeddingRepo := postgres.NewEmbeddingRepository(pool)
	database.RegisterPostgresBackend(
		func() database.AssetStore { return assetRepo },
		func() database.StackStore { return stackRepo },
		func() database.LeaseStore { return leaseRepo },
		func() database.EmbeddingReader { return embeddingRepo },
	)
	return pool, nil
}
