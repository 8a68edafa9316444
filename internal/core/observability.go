package core

import (
	"context"
	"log/slog"
	"time"

	"tradepost/pkg/domain"
)

// Logger is the structured logging surface the engine writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of engine operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around engine operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error (nil on success).
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Clock supplies timestamps for backups and notices.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the system time.
type ClockFunc func() time.Time

// Now returns the current time in UTC.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Notice) {}

// Option customizes gateways, schedulers and catalogs.
type Option func(*options)

type options struct {
	logger   Logger
	metrics  MetricsRecorder
	tracer   Tracer
	clock    Clock
	notifier domain.Notifier
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		clock:    ClockFunc(nil),
		notifier: noopNotifier{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger overrides the default slog logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithNotifier routes user-facing notices (corruption, storage failures).
func WithNotifier(n domain.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// observe wraps fn in a span and a metrics observation named op.
func (o options) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, op)
	started := time.Now()
	err := fn(ctx)
	o.metrics.Observe(ctx, op, err == nil, time.Since(started))
	span.End(err)
	return err
}
