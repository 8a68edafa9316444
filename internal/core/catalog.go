package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"tradepost/pkg/domain"
)

// State is a catalog's lifecycle state.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateLoading         State = "loading"
	StateDefaultsCreated State = "defaults_created"
	StateReconciled      State = "reconciled"
	StateReady           State = "ready"
	StateClosed          State = "closed"
)

// Catalog drives one catalog's lifecycle: load, reconcile, mutate, save.
type Catalog[S any, U any, D any] struct {
	def       domain.Definition[S, U, D]
	source    domain.Source[S]
	gateway   *Gateway
	scheduler *SaveScheduler
	store     *Store[U, D]
	opts      options

	initialized atomic.Bool
	degraded    atomic.Bool
	closed      atomic.Bool
	rebuilding  atomic.Bool
	// mu serializes Initialize, Reload, Rebuild and Shutdown.
	mu sync.Mutex

	stateMu    sync.RWMutex
	state      State
	lastStatus LoadStatus
	lastReport Report
}

// NewCatalog wires a definition to its source and persistence.
func NewCatalog[S any, U any, D any](def domain.Definition[S, U, D], source domain.Source[S], gateway *Gateway, scheduler *SaveScheduler, opts ...Option) (*Catalog[S, U, D], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if source == nil || gateway == nil || scheduler == nil {
		return nil, fmt.Errorf("catalog %s: source, gateway and scheduler are required", def.ID)
	}
	return &Catalog[S, U, D]{
		def:       def,
		source:    source,
		gateway:   gateway,
		scheduler: scheduler,
		store:     NewStore[U, D](def.ID, def.ValidateUser),
		opts:      newOptions(opts),
		state:     StateUninitialized,
	}, nil
}

// ID returns the catalog id.
func (c *Catalog[S, U, D]) ID() string { return c.def.ID }

// Store exposes the catalog's entry store for typed editors.
func (c *Catalog[S, U, D]) Store() *Store[U, D] { return c.store }

// Active returns the entries currently offered to consumers.
func (c *Catalog[S, U, D]) Active() View[U, D] { return c.store.Active() }

// Complete returns every entry, retired ones included.
func (c *Catalog[S, U, D]) Complete() View[U, D] { return c.store.Complete() }

// State returns the lifecycle state.
func (c *Catalog[S, U, D]) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Degraded reports whether the last load failed with a storage error. While
// degraded, saves are suppressed so the unreadable document is never replaced.
func (c *Catalog[S, U, D]) Degraded() bool { return c.degraded.Load() }

// LastReport returns the most recent reconciliation report.
func (c *Catalog[S, U, D]) LastReport() Report {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastReport
}

func (c *Catalog[S, U, D]) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Initialize loads and reconciles the catalog once. Concurrent callers block
// until the first finishes; later calls return immediately. A failed source
// enumeration leaves the catalog uninitialized so the call can be retried.
func (c *Catalog[S, U, D]) Initialize(ctx context.Context) error {
	if c.initialized.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized.Load() {
		return nil
	}
	if c.closed.Load() {
		return fmt.Errorf("%s: %w", c.def.ID, domain.ErrClosed)
	}
	err := c.opts.observe(ctx, "initialize", func(ctx context.Context) error {
		descriptors, err := c.enumerate(ctx)
		if err != nil {
			return err
		}
		c.loadAndReconcile(ctx, descriptors)
		return nil
	})
	if err != nil {
		c.setState(StateUninitialized)
		return err
	}
	c.initialized.Store(true)
	return nil
}

func (c *Catalog[S, U, D]) enumerate(ctx context.Context) ([]S, error) {
	descriptors, err := c.source.Enumerate(ctx)
	if err != nil {
		c.opts.logger.Error("source enumeration failed", "catalog", c.def.ID, "error", err)
		return nil, fmt.Errorf("catalog %s: %w: %w", c.def.ID, domain.ErrSourceUnavailable, err)
	}
	return descriptors, nil
}

// loadAndReconcile runs the full startup sequence. Storage failures put the
// catalog into degraded mode on top of in-memory defaults.
func (c *Catalog[S, U, D]) loadAndReconcile(ctx context.Context, descriptors []S) {
	c.setState(StateLoading)
	doc := domain.NewDocument[U, D](c.def.ID)
	status, loadErr := c.gateway.Load(ctx, c.def.ID, doc)
	switch {
	case loadErr != nil:
		c.degraded.Store(true)
		c.store.replace(nil)
		c.opts.logger.Error("catalog running on defaults; saves suspended until reload", "catalog", c.def.ID, "error", loadErr)
	case status == LoadLoaded:
		c.degraded.Store(false)
		c.store.replace(doc.Entries)
	default:
		c.degraded.Store(false)
		c.store.replace(nil)
	}

	r := c.reconcile(descriptors)
	next := StateDefaultsCreated
	if loadErr == nil && status == LoadLoaded {
		next = StateReconciled
	}
	c.stateMu.Lock()
	c.state = next
	c.lastStatus = status
	c.stateMu.Unlock()

	if r.Changed || status != LoadLoaded {
		c.requestSave()
	}
	c.opts.logger.Info("catalog ready", "catalog", c.def.ID, "load", status.String(),
		"active", c.store.Active().Len(), "complete", c.store.Complete().Len(),
		"created", len(r.Report.Created), "retired", len(r.Report.Retired), "failed", len(r.Report.Failed))
	c.setState(StateReady)
}

func (c *Catalog[S, U, D]) reconcile(descriptors []S) Reconciliation[U, D] {
	var r Reconciliation[U, D]
	_ = c.opts.observe(context.Background(), "reconcile", func(context.Context) error {
		r = c.store.reconcileWith(func(complete map[string]*domain.Entry[U, D]) Reconciliation[U, D] {
			return Reconcile(complete, descriptors, c.def, c.opts.logger)
		})
		return nil
	})
	c.stateMu.Lock()
	c.lastReport = r.Report
	c.stateMu.Unlock()
	return r
}

// Reload re-reads the document (picking up offline edits) and reconciles it
// against the current source. If the document is missing or unreadable the
// in-memory set is kept and reconciled instead.
func (c *Catalog[S, U, D]) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("%s: %w", c.def.ID, domain.ErrClosed)
	}
	return c.opts.observe(ctx, "reload", func(ctx context.Context) error {
		if err := c.scheduler.Flush(ctx, c.def.ID); err != nil {
			c.opts.logger.Warn("pending save failed before reload", "catalog", c.def.ID, "error", err)
		}
		descriptors, err := c.enumerate(ctx)
		if err != nil {
			return err
		}
		if !c.initialized.Load() {
			c.loadAndReconcile(ctx, descriptors)
			c.initialized.Store(true)
			return nil
		}

		c.setState(StateLoading)
		doc := domain.NewDocument[U, D](c.def.ID)
		status, loadErr := c.gateway.Load(ctx, c.def.ID, doc)
		if loadErr == nil {
			c.degraded.Store(false)
			if status == LoadLoaded {
				c.store.replace(doc.Entries)
			} else {
				c.opts.logger.Warn("reload kept in-memory entries", "catalog", c.def.ID, "load", status.String())
			}
		} else {
			c.opts.logger.Error("reload could not read document; kept in-memory entries", "catalog", c.def.ID, "error", loadErr)
		}
		r := c.reconcile(descriptors)
		c.stateMu.Lock()
		c.lastStatus = status
		c.stateMu.Unlock()
		if r.Changed || status != LoadLoaded {
			c.requestSave()
		}
		c.setState(StateReady)
		return loadErr
	})
}

// Rebuild discards every entry, user fields included, deletes the document and
// recreates the catalog from defaults.
func (c *Catalog[S, U, D]) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("%s: %w", c.def.ID, domain.ErrClosed)
	}
	// Edits are refused until the fresh set is in place; a save queued from the
	// old set after the delete would be read back as the rebuilt document.
	c.rebuilding.Store(true)
	defer c.rebuilding.Store(false)
	return c.opts.observe(ctx, "rebuild", func(ctx context.Context) error {
		if err := c.scheduler.Flush(ctx, c.def.ID); err != nil {
			c.opts.logger.Warn("pending save failed before rebuild", "catalog", c.def.ID, "error", err)
		}
		descriptors, err := c.enumerate(ctx)
		if err != nil {
			return err
		}
		if err := c.gateway.Delete(ctx, c.def.ID); err != nil {
			return err
		}
		c.opts.logger.Info("catalog rebuilt from defaults", "catalog", c.def.ID)
		c.loadAndReconcile(ctx, descriptors)
		c.initialized.Store(true)
		return nil
	})
}

// Mutate edits one entry's user fields. Callers follow with RequestSave;
// bulk editors batch many mutations before a single save.
func (c *Catalog[S, U, D]) Mutate(key string, fn func(*U) error) error {
	if err := c.editable(); err != nil {
		return err
	}
	return c.store.Mutate(key, fn)
}

// Update merges a JSON patch onto one entry's user fields and schedules a save.
func (c *Catalog[S, U, D]) Update(key string, patch []byte) error {
	if err := c.editable(); err != nil {
		return err
	}
	if err := c.store.MutateJSON(key, patch); err != nil {
		return err
	}
	c.RequestSave()
	return nil
}

func (c *Catalog[S, U, D]) editable() error {
	if c.closed.Load() {
		return fmt.Errorf("%s: %w", c.def.ID, domain.ErrClosed)
	}
	if c.rebuilding.Load() {
		return fmt.Errorf("%s: %w", c.def.ID, domain.ErrRebuilding)
	}
	return nil
}

// RequestSave schedules a background save of the complete set. Requests made
// while a rebuild is running are dropped.
func (c *Catalog[S, U, D]) RequestSave() {
	if c.rebuilding.Load() {
		c.opts.logger.Warn("save request dropped during rebuild", "catalog", c.def.ID)
		return
	}
	c.requestSave()
}

func (c *Catalog[S, U, D]) requestSave() {
	if c.degraded.Load() {
		c.opts.logger.Warn("save suppressed while catalog storage is degraded", "catalog", c.def.ID)
		return
	}
	c.scheduler.RequestSave(c.def.ID, c.store.Encode)
}

// Flush waits for pending background saves.
func (c *Catalog[S, U, D]) Flush(ctx context.Context) error {
	return c.scheduler.Flush(ctx, c.def.ID)
}

// Backups lists the catalog's corruption backups.
func (c *Catalog[S, U, D]) Backups(ctx context.Context) ([]domain.DocumentInfo, error) {
	return c.gateway.Backups(ctx, c.def.ID)
}

// Shutdown writes the final state synchronously. Failures are reported and
// returned; the catalog is closed either way.
func (c *Catalog[S, U, D]) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Swap(true) {
		return nil
	}
	defer c.setState(StateClosed)
	if !c.initialized.Load() {
		return nil
	}
	if c.degraded.Load() {
		c.opts.logger.Warn("skipping shutdown save while storage is degraded", "catalog", c.def.ID)
		return nil
	}
	err := c.scheduler.SaveNow(ctx, c.def.ID, c.store.Encode)
	if err != nil {
		c.opts.notifier.Notify(ctx, domain.Notice{
			ID:       uuid.NewString(),
			Catalog:  c.def.ID,
			Kind:     domain.NoticeShutdownSaveFailed,
			Severity: domain.SeverityCritical,
			Title:    "Settings not saved",
			Message:  fmt.Sprintf("The final save of the %s settings failed. Changes made in this session may be lost.", c.def.ID),
			Error:    err.Error(),
			At:       c.opts.clock.Now(),
		})
		return fmt.Errorf("shutdown save %s: %w", c.def.ID, err)
	}
	return nil
}
