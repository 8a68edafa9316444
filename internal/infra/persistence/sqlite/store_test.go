package sqlite

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"tradepost/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "docs.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTripAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.Read(ctx, "items.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if err := store.Write(ctx, "items.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write(ctx, "items.json", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	_ = store.Close()

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, err := reopened.Read(ctx, "items.json")
	if err != nil || string(got) != `{"a":2}` {
		t.Fatalf("read after reopen: %q %v", got, err)
	}
	if reopened.Path() != path || reopened.Driver() != "sqlite" {
		t.Fatalf("unexpected path/driver")
	}
}

func TestSQLiteStoreCreateNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.Create(ctx, "weather_CORRUPTED_20240101T000000Z.json.bak", []byte("{oops")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.Create(ctx, "weather_CORRUPTED_20240101T000000Z.json.bak", []byte("other"))
	if !errors.Is(err, domain.ErrDocumentExists) {
		t.Fatalf("expected ErrDocumentExists, got %v", err)
	}
	got, _ := store.Read(ctx, "weather_CORRUPTED_20240101T000000Z.json.bak")
	if string(got) != "{oops" {
		t.Fatalf("backup overwritten: %q", got)
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, name := range []string{"items.json", "items_CORRUPTED_b.json.bak", "items_CORRUPTED_a.json.bak", "weather.json"} {
		if err := store.Write(ctx, name, []byte("x")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	list, err := store.List(ctx, "items_CORRUPTED_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "items_CORRUPTED_a.json.bak" || list[0].Size != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].LastModified.IsZero() {
		t.Fatalf("expected modification time")
	}
	ok, err := store.Delete(ctx, "items.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "items.json")
	if err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}
