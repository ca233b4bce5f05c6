package database

import (
	"context"
	"fmt"
)

var (
	postgresAssetStore      func() AssetStore
	postgresStackStore      func() StackStore
	postgresLeaseStore      func() LeaseStore
	postgresEmbeddingReader func() EmbeddingReader
	postgresInitialized     bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	assets func() AssetStore,
	stacks func() StackStore,
	leases func() LeaseStore,
	embeddings func() EmbeddingReader,
) {
	postgresAssetStore = assets
	postgresStackStore = stacks
	postgresLeaseStore = leases
	postgresEmbeddingReader = embeddings
	postgresInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetAssetStore returns the AssetStore from the PostgreSQL backend.
func GetAssetStore(ctx context.Context) (AssetStore, error) {
	if !postgresInitialized || postgresAssetStore == nil {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresAssetStore(), nil
}

// GetStackStore returns the StackStore from the PostgreSQL backend.
func GetStackStore(ctx context.Context) (StackStore, error) {
	if !postgresInitialized || postgresStackStore == nil {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresStackStore(), nil
}

// GetLeaseStore returns the LeaseStore from the PostgreSQL backend.
func GetLeaseStore(ctx context.Context) (LeaseStore, error) {
	if !postgresInitialized || postgresLeaseStore == nil {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresLeaseStore(), nil
}

// GetEmbeddingReader returns the EmbeddingReader from the PostgreSQL backend.
func GetEmbeddingReader(ctx context.Context) (EmbeddingReader, error) {
	if !postgresInitialized || postgresEmbeddingReader == nil {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresEmbeddingReader(), nil
}
