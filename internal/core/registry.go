package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradepost/pkg/domain"
)

// ErrUnknownCatalog is returned by Registry.Get for ids never registered.
var ErrUnknownCatalog = errors.New("unknown catalog")

// Manager is the type-erased surface of a Catalog used by administrative
// tooling that handles every catalog the same way.
type Manager interface {
	ID() string
	State() State
	Degraded() bool
	Initialize(ctx context.Context) error
	Reload(ctx context.Context) error
	Rebuild(ctx context.Context) error
	Update(key string, patch []byte) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Dump() DumpReport
	Backups(ctx context.Context) ([]domain.DocumentInfo, error)
}

// Registry holds catalogs by id in registration order.
type Registry struct {
	scheduler *SaveScheduler
	opts      options

	mu       sync.RWMutex
	catalogs map[string]Manager
	order    []string
}

// NewRegistry returns an empty registry. scheduler is shut down by ShutdownAll
// and may be nil.
func NewRegistry(scheduler *SaveScheduler, opts ...Option) *Registry {
	return &Registry{
		scheduler: scheduler,
		opts:      newOptions(opts),
		catalogs:  make(map[string]Manager),
	}
}

// Register adds m. Ids must be unique.
func (r *Registry) Register(m Manager) error {
	if m == nil {
		return errors.New("nil catalog")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.catalogs[m.ID()]; exists {
		return fmt.Errorf("catalog %s already registered", m.ID())
	}
	r.catalogs[m.ID()] = m
	r.order = append(r.order, m.ID())
	return nil
}

// Get returns the catalog registered under id.
func (r *Registry) Get(id string) (Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.catalogs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCatalog, id)
	}
	return m, nil
}

// IDs returns catalog ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) all() []Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manager, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.catalogs[id])
	}
	return out
}

// InitializeAll initializes every catalog, continuing past failures.
func (r *Registry) InitializeAll(ctx context.Context) error {
	var errs []error
	for _, m := range r.all() {
		if err := m.Initialize(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReloadAll reloads every catalog, continuing past failures.
func (r *Registry) ReloadAll(ctx context.Context) error {
	var errs []error
	for _, m := range r.all() {
		if err := m.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ShutdownAll runs every catalog's final save, then stops the scheduler.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	var errs []error
	for _, m := range r.all() {
		if err := m.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save scheduler: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.opts.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	r.opts.logger.Info("all catalogs saved", "catalogs", len(r.IDs()))
	return nil
}
