// Package domain defines the catalog entry model, the persisted document shape,
// and the collaborator contracts (sources, document stores, notices) shared by
// the tradepost engine and its backends.
package domain

import (
	"fmt"
	"strings"
)

// SchemaVersion is the persisted document version written by this build.
const SchemaVersion = 1

// Eligibility records whether the latest source descriptor for an entry may be
// offered by its catalog. It is derived state and is recomputed every pass.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// Entry is one record of a catalog. User holds the fields an operator owns and
// Derived holds the fields recomputed from the authoritative source. The split is
// structural so reconciliation only ever touches Derived and Eligibility, and
// editors only ever touch User.
type Entry[U any, D any] struct {
	Key         string      `json:"key"`
	User        U           `json:"user"`
	Derived     D           `json:"derived"`
	Eligibility Eligibility `json:"eligibility"`

	// Active is true iff the entry is backed by a live, eligible source entity
	// in the current pass. It is never persisted.
	Active bool `json:"-"`
}

// Derivation is the result of deriving one source descriptor. Defaults seed the
// user-owned fields and are only applied when the entry is first created.
type Derivation[U any, D any] struct {
	Derived  D
	Defaults U
	Eligible bool
	Reason   string
}

// Definition binds the generic engine to one concrete catalog.
type Definition[S any, U any, D any] struct {
	// ID names the catalog and its persisted document.
	ID string
	// Key extracts the stable identity of a descriptor.
	Key func(S) string
	// Derive computes derived fields, creation defaults and eligibility.
	Derive func(S) (Derivation[U, D], error)
	// OnIneligible is optional catalog policy applied when an entry newly loses
	// eligibility. It reports whether it changed the user fields.
	OnIneligible func(user *U, reason string) bool
	// ValidateUser optionally rejects user field edits.
	ValidateUser func(U) error
}

// Validate reports whether the definition can drive reconciliation.
func (d Definition[S, U, D]) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("catalog definition requires an id")
	}
	if d.Key == nil {
		return fmt.Errorf("catalog %s: key function required", d.ID)
	}
	if d.Derive == nil {
		return fmt.Errorf("catalog %s: derive function required", d.ID)
	}
	return nil
}

// Document is the persisted form of a catalog's complete set.
type Document[U any, D any] struct {
	SchemaVersion int                      `json:"schemaVersion"`
	Catalog       string                   `json:"catalog"`
	Entries       map[string]*Entry[U, D] `json:"entries"`
}

// NewDocument returns an empty document for the catalog.
func NewDocument[U any, D any](catalogID string) *Document[U, D] {
	return &Document[U, D]{
		SchemaVersion: SchemaVersion,
		Catalog:       catalogID,
		Entries:       make(map[string]*Entry[U, D]),
	}
}

// Validate migrates older layouts in place and rejects documents this build
// cannot interpret. Implements Persistable.
func (d *Document[U, D]) Validate(catalogID string) error {
	if d.SchemaVersion > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", d.SchemaVersion, SchemaVersion)
	}
	if d.SchemaVersion < 0 {
		return fmt.Errorf("invalid schema version %d", d.SchemaVersion)
	}
	if d.Catalog != "" && d.Catalog != catalogID {
		return fmt.Errorf("document belongs to catalog %q, not %q", d.Catalog, catalogID)
	}
	d.migrate(catalogID)
	for key, entry := range d.Entries {
		if entry == nil {
			return fmt.Errorf("entry %q is null", key)
		}
	}
	return nil
}

func (d *Document[U, D]) migrate(catalogID string) {
	// version 0 documents predate the envelope fields
	d.SchemaVersion = SchemaVersion
	d.Catalog = catalogID
	if d.Entries == nil {
		d.Entries = make(map[string]*Entry[U, D])
	}
	for key, entry := range d.Entries {
		if entry != nil && entry.Key != key {
			entry.Key = key
		}
	}
}

// Persistable is implemented by documents the persistence gateway can decode.
type Persistable interface {
	Validate(catalogID string) error
}
