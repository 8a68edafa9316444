package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage matches every StorageError; it marks lower-level I/O failures
	// that point at the disk or backend rather than at the document format.
	ErrStorage = errors.New("storage failure")
	// ErrDocumentExists is returned by DocumentStore.Create when the name is taken.
	ErrDocumentExists = errors.New("document already exists")
	// ErrSourceUnavailable wraps a failed source enumeration.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidUser wraps rejected user field edits.
	ErrInvalidUser = errors.New("invalid user fields")
	// ErrClosed is returned by operations on a catalog after shutdown.
	ErrClosed = errors.New("catalog closed")
	// ErrRebuilding is returned by edits made while a catalog is being rebuilt.
	ErrRebuilding = errors.New("catalog rebuild in progress")
)

// StorageError reports an I/O failure against a catalog document.
type StorageError struct {
	Op      string
	Catalog string
	Name    string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Name, e.Catalog, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ErrNotFound is returned when a key is not part of a catalog's complete set.
type ErrNotFound struct {
	Catalog string
	Key     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s entry %s not found", e.Catalog, e.Key)
}
