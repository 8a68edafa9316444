package core

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"tradepost/internal/blob"
	"tradepost/internal/infra/persistence/postgres"
	"tradepost/internal/infra/persistence/sqlite"
	"tradepost/pkg/domain"
)

// StorageDriver identifies a document backend.
type StorageDriver string

const (
	StorageFilesystem StorageDriver = "fs"       // one file per document (default)
	StorageMemory     StorageDriver = "memory"   // in-process only (tests / dry runs)
	StorageS3         StorageDriver = "s3"       // S3 / MinIO compatible bucket
	StorageSQLite     StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres   StorageDriver = "postgres" // PostgreSQL server
)

// StorageDrivers lists every supported driver.
var StorageDrivers = []StorageDriver{StorageFilesystem, StorageMemory, StorageS3, StorageSQLite, StoragePostgres}

// StorageConfig selects and parameterizes the document backend.
type StorageConfig struct {
	Driver StorageDriver
	// DataDir is the fs root and the default home of the sqlite file.
	DataDir     string
	SQLitePath  string
	PostgresDSN string
	S3          blob.S3Config
}

// OpenDocumentStore constructs the backend named by cfg.Driver. Stores holding
// connections implement io.Closer; release them with CloseDocumentStore.
func OpenDocumentStore(ctx context.Context, cfg StorageConfig) (domain.DocumentStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageFilesystem
	}
	switch driver {
	case StorageFilesystem:
		store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverFilesystem, Root: cfg.DataDir})
		if err != nil {
			return nil, fmt.Errorf("open fs document store: %w", err)
		}
		return blob.NewDocuments(store), nil
	case StorageMemory:
		store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverMemory})
		if err != nil {
			return nil, err
		}
		return blob.NewDocuments(store), nil
	case StorageS3:
		store, err := blob.Open(ctx, blob.Config{Driver: blob.DriverS3, S3: cfg.S3})
		if err != nil {
			return nil, fmt.Errorf("open s3 document store: %w", err)
		}
		return blob.NewDocuments(store), nil
	case StorageSQLite:
		path := cfg.SQLitePath
		if path == "" && cfg.DataDir != "" {
			path = filepath.Join(cfg.DataDir, "tradepost.db")
		}
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite document store: %w", err)
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres document store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// CloseDocumentStore releases a store's connections if it holds any.
func CloseDocumentStore(store domain.DocumentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
