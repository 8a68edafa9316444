// Package notify delivers catalog notices: corruption recoveries, storage
// failures and failed shutdown saves. Notifiers compose, so the composition
// root can log every notice, append it to a JSONL file, keep it for a UI to
// poll, and suppress repeats, all at once.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"tradepost/pkg/domain"
)

// Log writes notices to a structured logger. Critical notices log at error
// level, everything else at warn.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a notifier writing to logger (slog.Default when nil).
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify implements domain.Notifier.
func (l *Log) Notify(ctx context.Context, n domain.Notice) {
	level := slog.LevelWarn
	if n.Severity == domain.SeverityCritical {
		level = slog.LevelError
	}
	attrs := []any{"notice", n.ID, "catalog", n.Catalog, "kind", string(n.Kind), "message", n.Message}
	if n.Backup != "" {
		attrs = append(attrs, "backup", n.Backup)
	}
	if n.Error != "" {
		attrs = append(attrs, "error", n.Error)
	}
	l.logger.Log(ctx, level, n.Title, attrs...)
}

// Emitter appends notices to a JSONL file. It is safe for concurrent use. A nil
// *Emitter is a valid no-op notifier.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter opens path for appending, creating it and its directory if needed.
func NewEmitter(path string) (*Emitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("notify: create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("notify: open %s: %w", path, err)
	}
	return &Emitter{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes one notice as a JSON line.
func (e *Emitter) Emit(n domain.Notice) error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(n); err != nil {
		return fmt.Errorf("notify: encode notice: %w", err)
	}
	return nil
}

// Notify implements domain.Notifier. Encoding failures are dropped; the
// notice has usually been logged by another notifier in the chain.
func (e *Emitter) Notify(_ context.Context, n domain.Notice) { _ = e.Emit(n) }

// Close closes the underlying file.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("notify: close: %w", err)
	}
	return nil
}

// ReadNotices decodes a JSONL file written by Emitter. A missing file yields
// no notices.
func ReadNotices(path string) ([]domain.Notice, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var out []domain.Notice
	dec := json.NewDecoder(f)
	for dec.More() {
		var n domain.Notice
		if err := dec.Decode(&n); err != nil {
			return out, fmt.Errorf("notify: decode %s: %w", path, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Once forwards the first notice per (catalog, kind) and drops repeats for
// the life of the process.
type Once struct {
	next domain.Notifier

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewOnce wraps next.
func NewOnce(next domain.Notifier) *Once {
	return &Once{next: next, seen: make(map[string]struct{})}
}

// Notify implements domain.Notifier.
func (o *Once) Notify(ctx context.Context, n domain.Notice) {
	key := n.Catalog + "\x00" + string(n.Kind)
	o.mu.Lock()
	_, dup := o.seen[key]
	o.seen[key] = struct{}{}
	o.mu.Unlock()
	if dup {
		return
	}
	o.next.Notify(ctx, n)
}

// Multi fans a notice out to every notifier in order. Nil entries are skipped.
type Multi []domain.Notifier

// Notify implements domain.Notifier.
func (m Multi) Notify(ctx context.Context, n domain.Notice) {
	for _, next := range m {
		if next != nil {
			next.Notify(ctx, n)
		}
	}
}

// Recorder keeps notices in memory until drained, for a UI to poll.
type Recorder struct {
	mu      sync.Mutex
	notices []domain.Notice
}

// Notify implements domain.Notifier.
func (r *Recorder) Notify(_ context.Context, n domain.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notice(nil), r.notices...)
}

// Drain returns the recorded notices and forgets them.
func (r *Recorder) Drain() []domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}
