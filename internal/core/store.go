package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tradepost/pkg/domain"
)

// Store owns a catalog's complete and active sets. Both maps hold the same
// entry pointers; the active set is a subset of the complete set. One RWMutex
// guards both, and reconciliation, mutation and snapshots all take it.
type Store[U any, D any] struct {
	catalog  string
	validate func(U) error

	mu       sync.RWMutex
	complete map[string]*domain.Entry[U, D]
	active   map[string]*domain.Entry[U, D]
}

// NewStore returns an empty store. validate may be nil.
func NewStore[U any, D any](catalogID string, validate func(U) error) *Store[U, D] {
	return &Store[U, D]{
		catalog:  catalogID,
		validate: validate,
		complete: make(map[string]*domain.Entry[U, D]),
		active:   make(map[string]*domain.Entry[U, D]),
	}
}

// Active returns a read-only view of the entries the catalog currently offers.
func (s *Store[U, D]) Active() View[U, D] { return View[U, D]{store: s, active: true} }

// Complete returns a read-only view of every entry ever created, retired included.
func (s *Store[U, D]) Complete() View[U, D] { return View[U, D]{store: s} }

// Mutate applies fn to a copy of the entry's user fields and commits the copy
// only when fn and the catalog validator both succeed. It does not save.
func (s *Store[U, D]) Mutate(key string, fn func(*U) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.complete[key]
	if !ok {
		return domain.ErrNotFound{Catalog: s.catalog, Key: key}
	}
	user := entry.User
	if err := fn(&user); err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validate(user); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidUser, key, err)
		}
	}
	entry.User = user
	return nil
}

// MutateJSON merges a JSON object onto the entry's user fields. Unknown fields
// are rejected.
func (s *Store[U, D]) MutateJSON(key string, patch []byte) error {
	return s.Mutate(key, func(u *U) error {
		dec := json.NewDecoder(bytes.NewReader(patch))
		dec.DisallowUnknownFields()
		if err := dec.Decode(u); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidUser, err)
		}
		return nil
	})
}

// Snapshot returns a detached copy of the complete set as a document.
func (s *Store[U, D]) Snapshot() *domain.Document[U, D] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store[U, D]) snapshotLocked() *domain.Document[U, D] {
	doc := domain.NewDocument[U, D](s.catalog)
	for key, entry := range s.complete {
		cp := *entry
		doc.Entries[key] = &cp
	}
	return doc
}

// Encode serializes the complete set while holding the read lock, so the
// bytes are a consistent point-in-time image.
func (s *Store[U, D]) Encode() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EncodeDocument(s.snapshotLocked())
}

// reconcileWith runs fn against the complete set under the write lock and
// installs the resulting sets.
func (s *Store[U, D]) reconcileWith(fn func(map[string]*domain.Entry[U, D]) Reconciliation[U, D]) Reconciliation[U, D] {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := fn(s.complete)
	s.complete = r.Complete
	s.active = r.Active
	return r
}

// replace swaps in a freshly loaded complete set. Nothing is active until the
// next reconciliation.
func (s *Store[U, D]) replace(entries map[string]*domain.Entry[U, D]) {
	if entries == nil {
		entries = make(map[string]*domain.Entry[U, D])
	}
	for _, e := range entries {
		e.Active = false
	}
	s.mu.Lock()
	s.complete = entries
	s.active = make(map[string]*domain.Entry[U, D])
	s.mu.Unlock()
}

// View is a read-only window onto one of a store's sets. Returned entries are
// copies; changing them has no effect on the store.
type View[U any, D any] struct {
	store  *Store[U, D]
	active bool
}

func (v View[U, D]) set() map[string]*domain.Entry[U, D] {
	if v.active {
		return v.store.active
	}
	return v.store.complete
}

// Get returns a copy of the entry for key.
func (v View[U, D]) Get(key string) (domain.Entry[U, D], bool) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	e, ok := v.set()[key]
	if !ok {
		return domain.Entry[U, D]{}, false
	}
	return *e, true
}

// Has reports whether key is in the set.
func (v View[U, D]) Has(key string) bool {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	_, ok := v.set()[key]
	return ok
}

// Len returns the number of entries in the set.
func (v View[U, D]) Len() int {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return len(v.set())
}

// Keys returns the set's keys in ascending order.
func (v View[U, D]) Keys() []string {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return sortedKeys(v.set())
}

// Entries returns copies of every entry ordered by key.
func (v View[U, D]) Entries() []domain.Entry[U, D] {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	set := v.set()
	out := make([]domain.Entry[U, D], 0, len(set))
	for _, k := range sortedKeys(set) {
		out = append(out, *set[k])
	}
	return out
}

// Range calls fn for each entry in key order until fn returns false. fn runs
// without the store lock held, so it may call Mutate.
func (v View[U, D]) Range(fn func(domain.Entry[U, D]) bool) {
	for _, e := range v.Entries() {
		if !fn(e) {
			return
		}
	}
}

func sortedKeys[E any](m map[string]E) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
