package domain

import (
	"context"
	"time"
)

// DocumentInfo describes a stored document or backup.
type DocumentInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// DocumentStore is the minimal backend contract behind the persistence gateway.
// Implementations exist for the local filesystem, memory, S3, SQLite and Postgres.
type DocumentStore interface {
	// Read returns the document bytes. Absent documents yield an error matching fs.ErrNotExist.
	Read(ctx context.Context, name string) ([]byte, error)
	// Write replaces the document atomically: either the new bytes land or the old remain.
	Write(ctx context.Context, name string, data []byte) error
	// Create stores a new document and fails with ErrDocumentExists if the name is taken.
	Create(ctx context.Context, name string, data []byte) error
	// Delete removes the document. Returns (false, nil) when it did not exist.
	Delete(ctx context.Context, name string) (bool, error)
	// List returns documents whose name has the prefix, ordered by name.
	List(ctx context.Context, prefix string) ([]DocumentInfo, error)
	// Driver names the backend.
	Driver() string
}
