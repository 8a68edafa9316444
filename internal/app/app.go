// Package app wires configuration into a running set of catalogs: the
// document store, notifier chain, gateway, save scheduler and registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"tradepost/internal/blob"
	"tradepost/internal/catalogs/incidents"
	"tradepost/internal/catalogs/items"
	"tradepost/internal/catalogs/weather"
	"tradepost/internal/config"
	"tradepost/internal/core"
	"tradepost/internal/notify"
	"tradepost/internal/source"
	"tradepost/internal/telemetry"
	"tradepost/pkg/domain"
)

// App is the composed engine. Catalog fields are typed for callers that edit
// one catalog directly; Registry is the type-erased view over all of them.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *core.Registry
	Notices  *notify.Recorder

	Incidents *core.Catalog[incidents.Descriptor, incidents.User, incidents.Derived]
	Weather   *core.Catalog[weather.Descriptor, weather.User, weather.Derived]
	Items     *core.Catalog[items.Descriptor, items.User, items.Derived]

	// Expvar is set when metrics=expvar, Prometheus when metrics=prometheus.
	Expvar     *core.ExpvarMetricsRecorder
	Prometheus *prometheus.Registry
	// Traces is set when tracing=json.
	Traces *core.JSONTraceTracer

	docs          domain.DocumentStore
	gateway       *core.Gateway
	scheduler     *core.SaveScheduler
	emitter       *notify.Emitter
	traceShutdown func(context.Context) error
}

// Option customizes New.
type Option func(*settings)

type settings struct {
	logger      *slog.Logger
	docs        domain.DocumentStore
	traceWriter io.Writer
	notifiers   []domain.Notifier
	clock       core.Clock
}

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithDocumentStore bypasses storage.driver and uses docs. App.Close does not
// close an injected store.
func WithDocumentStore(docs domain.DocumentStore) Option {
	return func(s *settings) { s.docs = docs }
}

// WithTraceWriter sets where tracing=json writes spans. Without it spans are
// only retained in memory.
func WithTraceWriter(w io.Writer) Option {
	return func(s *settings) { s.traceWriter = w }
}

// WithNotifier adds a notifier to the chain.
func WithNotifier(n domain.Notifier) Option {
	return func(s *settings) { s.notifiers = append(s.notifiers, n) }
}

// WithClock overrides the clock used for notice and backup timestamps.
func WithClock(c core.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// New builds the engine described by cfg. Catalogs are registered but not
// initialized; call InitializeAll or initialize them one at a time.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	st := settings{}
	for _, opt := range opts {
		opt(&st)
	}
	if st.logger == nil {
		st.logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: st.logger, Notices: &notify.Recorder{}}

	ownsDocs := st.docs == nil
	docs := st.docs
	if ownsDocs {
		var err error
		docs, err = core.OpenDocumentStore(ctx, storageConfig(cfg))
		if err != nil {
			return nil, err
		}
	}
	a.docs = docs
	if !ownsDocs {
		a.docs = nopCloser{docs}
	}

	coreOpts, err := a.observability(ctx, cfg, st)
	if err != nil {
		_ = core.CloseDocumentStore(a.docs)
		return nil, err
	}
	if cfg.NoticesPath != "" {
		if a.emitter, err = notify.NewEmitter(cfg.NoticesPath); err != nil {
			_ = a.closeTracing(ctx)
			_ = core.CloseDocumentStore(a.docs)
			return nil, err
		}
	}
	chain := notify.Multi{notify.NewLog(st.logger), a.Notices}
	if a.emitter != nil {
		chain = append(chain, a.emitter)
	}
	chain = append(chain, st.notifiers...)
	coreOpts = append(coreOpts, core.WithNotifier(notify.NewOnce(chain)))
	if st.clock != nil {
		coreOpts = append(coreOpts, core.WithClock(st.clock))
	}

	a.gateway = core.NewGateway(docs, coreOpts...)
	a.scheduler = core.NewSaveScheduler(a.gateway, coreOpts...)
	a.Registry = core.NewRegistry(a.scheduler, coreOpts...)

	if err := a.register(cfg.SourceDir, coreOpts); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func storageConfig(cfg config.Config) core.StorageConfig {
	s3 := cfg.Storage.S3
	return core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		DataDir:     cfg.DataDir,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		S3: blob.S3Config{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			PathStyle:       s3.PathStyle,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
		},
	}
}

func (a *App) observability(ctx context.Context, cfg config.Config, st settings) ([]core.Option, error) {
	opts := []core.Option{core.WithLogger(st.logger)}
	switch cfg.Metrics {
	case "expvar":
		a.Expvar = core.NewExpvarMetricsRecorder("")
		opts = append(opts, core.WithMetricsRecorder(a.Expvar))
	case "prometheus":
		a.Prometheus = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.Prometheus)
		if err != nil {
			return nil, fmt.Errorf("prometheus metrics: %w", err)
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	switch cfg.Tracing {
	case "json":
		a.Traces = core.NewJSONTracer(st.traceWriter)
		opts = append(opts, core.WithTracer(a.Traces))
	case "otel":
		tp, shutdown, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		a.traceShutdown = shutdown
		opts = append(opts, core.WithTracer(core.NewOTelTracer(tp)))
	}
	return opts, nil
}

func (a *App) register(sourceDir string, opts []core.Option) error {
	var err error
	if a.Incidents, err = incidents.New(source.NewFile[incidents.Descriptor](sourceDir, incidents.ID), a.gateway, a.scheduler, opts...); err != nil {
		return err
	}
	if a.Weather, err = weather.New(source.NewFile[weather.Descriptor](sourceDir, weather.ID), a.gateway, a.scheduler, opts...); err != nil {
		return err
	}
	if a.Items, err = items.New(source.NewFile[items.Descriptor](sourceDir, items.ID), a.gateway, a.scheduler, opts...); err != nil {
		return err
	}
	for _, m := range []core.Manager{a.Incidents, a.Weather, a.Items} {
		if err := a.Registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Catalog returns the registered catalog with id.
func (a *App) Catalog(id string) (core.Manager, error) { return a.Registry.Get(id) }

// Driver names the document backend in use.
func (a *App) Driver() string { return a.gateway.Driver() }

// InitializeAll initializes every catalog, continuing past failures.
func (a *App) InitializeAll(ctx context.Context) error { return a.Registry.InitializeAll(ctx) }

// Close runs the shutdown save for every catalog, then releases the document
// store, notice file and trace exporter. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.ShutdownAll(ctx))
	}
	errs = append(errs, a.closeTracing(ctx))
	if a.emitter != nil {
		errs = append(errs, a.emitter.Close())
		a.emitter = nil
	}
	if a.docs != nil {
		errs = append(errs, core.CloseDocumentStore(a.docs))
		a.docs = nil
	}
	return errors.Join(errs...)
}

func (a *App) closeTracing(ctx context.Context) error {
	if a.traceShutdown == nil {
		return nil
	}
	shutdown := a.traceShutdown
	a.traceShutdown = nil
	return shutdown(ctx)
}

// nopCloser hides io.Closer on stores the caller owns.
type nopCloser struct{ domain.DocumentStore }
