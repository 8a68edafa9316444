package cli

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tradepost/internal/app"
	"tradepost/internal/source"
)

const metricsShutdownTimeout = 5 * time.Second

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep catalogs reconciled while the source files change",
		Long: `Initialize every catalog, then watch the source directory and reload a
catalog whenever its descriptor file changes. With metrics_addr set, /metrics
(prometheus) and /debug/vars (expvar) are served. On SIGINT or SIGTERM every
catalog is saved before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runWatch(ctx, opts.formatter(cmd), a)
			})
		},
	}
}

func runWatch(ctx context.Context, out *OutputFormatter, a *app.App) error {
	if err := a.InitializeAll(ctx); err != nil {
		a.Logger.Error("some catalogs failed to initialize; they are retried on the next source change", "error", err)
	}

	w, err := source.NewWatcher(a.Config.SourceDir, a.Config.WatchDebounce, a.Logger)
	if err != nil {
		return WrapExitError(ExitFailure, "create watcher", err)
	}
	if err := w.Start(); err != nil {
		return WrapExitError(ExitCommandError, "watch "+a.Config.SourceDir, err)
	}
	defer w.Stop()

	if addr := a.Config.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.Logger.Info("serving metrics", "addr", addr)
	}

	out.VerboseLog("watching %s", a.Config.SourceDir)
	a.Logger.Info("watching source directory", "dir", a.Config.SourceDir, "catalogs", a.Registry.IDs())
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("stopping; saving catalogs")
			return nil
		case id, ok := <-w.Changes:
			if !ok {
				return nil
			}
			reloadChanged(ctx, a, id)
		}
	}
}

func reloadChanged(ctx context.Context, a *app.App, id string) {
	m, err := a.Catalog(id)
	if err != nil {
		a.Logger.Debug("ignoring change to file of no catalog", "catalog", id)
		return
	}
	if err := m.Reload(ctx); err != nil {
		a.Logger.Error("reload failed", "catalog", id, "error", err)
		return
	}
	d := m.Dump()
	a.Logger.Info("catalog reloaded", "catalog", id, "active", len(d.Active),
		"created", len(d.Report.Created), "refreshed", len(d.Report.Refreshed), "retired", len(d.Report.Retired))
}

// metricsMux serves the exporters configured for a.
func metricsMux(a *app.App) *http.ServeMux {
	mux := http.NewServeMux()
	if a.Prometheus != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.Prometheus, promhttp.HandlerOpts{}))
	}
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}
