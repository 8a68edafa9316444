package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradepost/internal/blob"
	"tradepost/pkg/domain"
)

type offer struct {
	Key      string
	Base     int
	Eligible bool
	Reason   string
	Broken   bool
}

type offerUser struct {
	Enabled bool `json:"enabled"`
	Price   int  `json:"price"`
}

type offerDerived struct {
	Base int      `json:"base"`
	Tags []string `json:"tags,omitempty"`
}

func offerDefinition() domain.Definition[offer, offerUser, offerDerived] {
	return domain.Definition[offer, offerUser, offerDerived]{
		ID:  "offers",
		Key: func(o offer) string { return o.Key },
		Derive: func(o offer) (domain.Derivation[offerUser, offerDerived], error) {
			if o.Broken {
				return domain.Derivation[offerUser, offerDerived]{}, fmt.Errorf("broken descriptor %s", o.Key)
			}
			return domain.Derivation[offerUser, offerDerived]{
				Derived:  offerDerived{Base: o.Base},
				Defaults: offerUser{Enabled: true, Price: o.Base * 10},
				Eligible: o.Eligible,
				Reason:   o.Reason,
			}, nil
		},
		ValidateUser: func(u offerUser) error {
			if u.Price < 0 {
				return errors.New("price must not be negative")
			}
			return nil
		},
	}
}

func eligible(key string, base int) offer { return offer{Key: key, Base: base, Eligible: true} }

// mutableSource lets a test change what the source offers between passes.
type mutableSource struct {
	mu    sync.Mutex
	items []offer
	err   error
	calls int
	// during runs once inside the next Enumerate call, before it returns.
	during func()
}

func (s *mutableSource) Enumerate(context.Context) ([]offer, error) {
	s.mu.Lock()
	during := s.during
	s.during = nil
	s.mu.Unlock()
	if during != nil {
		during()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]offer(nil), s.items...), nil
}

func (s *mutableSource) set(items ...offer) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func (s *mutableSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type captureNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *captureNotifier) Notify(_ context.Context, notice domain.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *captureNotifier) kinds() []domain.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (m *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	m.calls = append(m.calls, metricsCall{op: op, success: success})
	m.mu.Unlock()
}

func (m *captureMetrics) has(op string, success bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.op == op && c.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	mu    sync.Mutex
	ended []string
}

func (t *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, captureSpan{tracer: t, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s captureSpan) End(err error) {
	status := outcomeSuccess
	if err != nil {
		status = outcomeError
	}
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, s.op+":"+status)
	s.tracer.mu.Unlock()
}

// faultyDocs wraps a DocumentStore and fails selected operations.
type faultyDocs struct {
	domain.DocumentStore
	mu         sync.Mutex
	failRead   error
	failWrite  error
	failCreate error
	failDelete error
	writes     int
}

func newFaultyDocs() *faultyDocs {
	return &faultyDocs{DocumentStore: blob.NewDocuments(blob.NewMemory())}
}

func (f *faultyDocs) Read(ctx context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	err := f.failRead
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.DocumentStore.Read(ctx, name)
}

func (f *faultyDocs) Write(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	err := f.failWrite
	f.writes++
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.DocumentStore.Write(ctx, name, data)
}

func (f *faultyDocs) Create(ctx context.Context, name string, data []byte) error {
	if f.failCreate != nil {
		return f.failCreate
	}
	return f.DocumentStore.Create(ctx, name, data)
}

func (f *faultyDocs) Delete(ctx context.Context, name string) (bool, error) {
	if f.failDelete != nil {
		return false, f.failDelete
	}
	return f.DocumentStore.Delete(ctx, name)
}

func (f *faultyDocs) setReadErr(err error) {
	f.mu.Lock()
	f.failRead = err
	f.mu.Unlock()
}

func (f *faultyDocs) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func fixedClock() Clock { return ClockFunc(func() time.Time { return fixedNow }) }

type harness struct {
	docs      *faultyDocs
	notifier  *captureNotifier
	logger    *captureLogger
	gateway   *Gateway
	scheduler *SaveScheduler
	source    *mutableSource
	catalog   *Catalog[offer, offerUser, offerDerived]
}

func newHarness(docs *faultyDocs, items ...offer) *harness {
	if docs == nil {
		docs = newFaultyDocs()
	}
	h := &harness{docs: docs, notifier: &captureNotifier{}, logger: &captureLogger{}, source: &mutableSource{items: items}}
	opts := []Option{WithLogger(h.logger), WithNotifier(h.notifier), WithClock(fixedClock())}
	h.gateway = NewGateway(docs, opts...)
	h.scheduler = NewSaveScheduler(h.gateway, opts...)
	catalog, err := NewCatalog(offerDefinition(), domain.Source[offer](h.source), h.gateway, h.scheduler, opts...)
	if err != nil {
		panic(err)
	}
	h.catalog = catalog
	return h
}

func (h *harness) document(ctx context.Context) (*domain.Document[offerUser, offerDerived], LoadStatus, error) {
	doc := domain.NewDocument[offerUser, offerDerived]("offers")
	status, err := NewGateway(h.docs.DocumentStore).Load(ctx, "offers", doc)
	return doc, status, err
}
