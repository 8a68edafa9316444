package integration

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"tradepost/internal/app"
	"tradepost/internal/blob"
	"tradepost/internal/config"
	"tradepost/internal/infra/persistence/sqlite"
	"tradepost/pkg/domain"
)

const (
	incidentsSource = `- {def_name: RaidEnemy, category: threat_big, base_chance: 2, worker_class: RaidEnemyWorker}
- {def_name: Flu, category: disease, base_chance: 0.5, worker_class: DiseaseWorker}
`
	weatherSource = `[{"def_name": "Clear", "favorability": "very_good"}]`
	itemsSource   = `[[entries]]
def_name = "Steel"
category = "resource"
market_value = 1.9
tradeable = true
`
)

// TestIntegrationSmoke runs a minimal edit/restart cycle against every
// in-process document backend: defaults are created, a user edit is saved on
// shutdown, and a second process sees the edit after reconciliation.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	sourceDir := t.TempDir()
	for name, body := range map[string]string{
		"incidents.yml": incidentsSource,
		"weather.json":  weatherSource,
		"items.toml":    itemsSource,
	} {
		if err := os.WriteFile(filepath.Join(sourceDir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write source: %v", err)
		}
	}

	variants := []struct {
		name string
		open func(t *testing.T) domain.DocumentStore
	}{
		{
			name: "memory",
			open: func(_ *testing.T) domain.DocumentStore { return blob.NewDocuments(blob.NewMemory()) },
		},
		{
			name: "filesystem",
			open: func(t *testing.T) domain.DocumentStore {
				fs, err := blob.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new filesystem blob: %v", err)
				}
				return blob.NewDocuments(fs)
			},
		},
		{
			name: "mock-s3",
			open: func(_ *testing.T) domain.DocumentStore { return blob.NewDocuments(blob.NewMockS3ForTests()) },
		},
		{
			name: "sqlite",
			open: func(t *testing.T) domain.DocumentStore {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "tradepost.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}

	cfg := config.Config{SourceDir: sourceDir, Metrics: "expvar", Tracing: "json"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			docs := v.open(t)

			var traces bytes.Buffer
			first, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithDocumentStore(docs), app.WithTraceWriter(&traces))
			if err != nil {
				t.Fatalf("new app: %v", err)
			}
			if err := first.InitializeAll(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if err := first.Incidents.Update("RaidEnemy", []byte(`{"enabled": true, "price": 1200}`)); err != nil {
				t.Fatalf("update incident: %v", err)
			}
			if err := first.Items.Update("Steel", []byte(`{"quantityLimit": 500, "hasQuantityLimit": true}`)); err != nil {
				t.Fatalf("update item: %v", err)
			}
			if err := first.Close(ctx); err != nil {
				t.Fatalf("close: %v", err)
			}

			snapshot := first.Expvar.Snapshot()
			if snapshot.Results["initialize"]["success"] != 3 {
				t.Fatalf("expected three initialize successes, got %+v", snapshot.Results)
			}
			if snapshot.Results["shutdown_save"]["success"] != 3 {
				t.Fatalf("expected three shutdown saves, got %+v", snapshot.Results)
			}
			if traces.Len() == 0 {
				t.Fatalf("expected trace exporter to emit spans")
			}

			second, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithDocumentStore(docs))
			if err != nil {
				t.Fatalf("reopen app: %v", err)
			}
			defer func() { _ = second.Close(ctx) }()
			if err := second.InitializeAll(ctx); err != nil {
				t.Fatalf("initialize after restart: %v", err)
			}
			raid, ok := second.Incidents.Active().Get("RaidEnemy")
			if !ok || !raid.User.Enabled || raid.User.Price != 1200 {
				t.Fatalf("incident edit lost: %+v", raid)
			}
			steel, ok := second.Items.Active().Get("Steel")
			if !ok || steel.User.QuantityLimit != 500 || !steel.User.HasQuantityLimit || steel.User.Price != 2 {
				t.Fatalf("item edit lost: %+v", steel)
			}
			if n := second.Weather.Active().Len(); n != 1 {
				t.Fatalf("expected one weather entry, got %d", n)
			}
			if notices := second.Notices.Notices(); len(notices) != 0 {
				t.Fatalf("unexpected notices: %+v", notices)
			}
		})
	}
}
