package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// SnapshotFunc produces the bytes to persist. It runs at write time, so a
// coalesced save always writes the latest state.
type SnapshotFunc func() ([]byte, error)

type documentSaver interface {
	Save(ctx context.Context, catalogID string, data []byte) error
}

type saveSlot struct {
	inFlight bool
	pending  bool
	snapshot SnapshotFunc
	done     chan struct{}
	lastErr  error
}

// SaveScheduler runs catalog saves in the background. Each catalog has at most
// one write in flight; requests arriving meanwhile collapse into exactly one
// follow-up write.
type SaveScheduler struct {
	saver documentSaver
	opts  options

	mu     sync.Mutex
	slots  map[string]*saveSlot
	closed bool
	wg     conc.WaitGroup
}

// NewSaveScheduler returns a scheduler writing through saver (usually a *Gateway).
func NewSaveScheduler(saver documentSaver, opts ...Option) *SaveScheduler {
	return &SaveScheduler{
		saver: saver,
		opts:  newOptions(opts),
		slots: make(map[string]*saveSlot),
	}
}

func (s *SaveScheduler) slotLocked(catalogID string) *saveSlot {
	slot, ok := s.slots[catalogID]
	if !ok {
		slot = &saveSlot{}
		s.slots[catalogID] = slot
	}
	return slot
}

// RequestSave schedules a background write and returns immediately.
func (s *SaveScheduler) RequestSave(catalogID string, snapshot SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.opts.logger.Warn("save requested after shutdown; dropped", "catalog", catalogID)
		return
	}
	slot := s.slotLocked(catalogID)
	slot.snapshot = snapshot
	if slot.inFlight {
		slot.pending = true
		return
	}
	slot.inFlight = true
	slot.done = make(chan struct{})
	s.wg.Go(func() { s.run(catalogID, slot) })
}

// run writes until no request is pending, then releases the slot.
func (s *SaveScheduler) run(catalogID string, slot *saveSlot) {
	for {
		s.mu.Lock()
		snapshot := slot.snapshot
		slot.pending = false
		s.mu.Unlock()

		err := s.write(context.Background(), "save", catalogID, snapshot)

		s.mu.Lock()
		slot.lastErr = err
		if slot.pending {
			s.mu.Unlock()
			continue
		}
		slot.inFlight = false
		close(slot.done)
		s.mu.Unlock()
		return
	}
}

func (s *SaveScheduler) write(ctx context.Context, op, catalogID string, snapshot SnapshotFunc) error {
	runID := uuid.NewString()
	err := s.opts.observe(ctx, op, func(ctx context.Context) error {
		var err error
		var pc panics.Catcher
		pc.Try(func() {
			var data []byte
			if data, err = snapshot(); err != nil {
				err = fmt.Errorf("snapshot %s: %w", catalogID, err)
				return
			}
			err = s.saver.Save(ctx, catalogID, data)
		})
		if r := pc.Recovered(); r != nil {
			err = fmt.Errorf("save %s panicked: %w", catalogID, r.AsError())
		}
		return err
	})
	if err != nil {
		s.opts.logger.Error("catalog save failed", "catalog", catalogID, "op", op, "run", runID, "error", err)
		return err
	}
	s.opts.logger.Debug("catalog save completed", "catalog", catalogID, "op", op, "run", runID)
	return nil
}

// Flush waits for the catalog's in-flight and pending writes and returns the
// last write's error.
func (s *SaveScheduler) Flush(ctx context.Context, catalogID string) error {
	s.mu.Lock()
	slot, ok := s.slots[catalogID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !slot.inFlight {
		err := slot.lastErr
		s.mu.Unlock()
		return err
	}
	done := slot.done
	s.mu.Unlock()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slot.lastErr
}

// SaveNow waits for any background write of the catalog, then writes
// synchronously. It is the shutdown path and still works after Shutdown.
func (s *SaveScheduler) SaveNow(ctx context.Context, catalogID string, snapshot SnapshotFunc) error {
	s.mu.Lock()
	slot := s.slotLocked(catalogID)
	for slot.inFlight {
		done := slot.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	slot.inFlight = true
	slot.pending = false
	slot.done = make(chan struct{})
	s.mu.Unlock()

	err := s.write(ctx, "shutdown_save", catalogID, snapshot)

	s.mu.Lock()
	slot.lastErr = err
	if slot.pending && !s.closed {
		// a request raced the synchronous write; hand the slot to a worker
		s.wg.Go(func() { s.run(catalogID, slot) })
	} else {
		slot.pending = false
		slot.inFlight = false
		close(slot.done)
	}
	s.mu.Unlock()
	return err
}

// Shutdown stops accepting requests and waits for background writes to finish.
func (s *SaveScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
