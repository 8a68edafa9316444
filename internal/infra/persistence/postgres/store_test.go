package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"tradepost/internal/infra/persistence/postgres/testutil"
	"tradepost/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return store, conn
}

func TestNewStoreEnsuresDocumentsTable(t *testing.T) {
	store, conn := newStubStore(t)
	if store.Driver() != "postgres" || store.DB() == nil {
		t.Fatalf("unexpected store %+v", store)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS DOCUMENTS") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected documents DDL, got %v", conn.Execs)
	}
}

func TestNewStorePingAndDDLFailures(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "dsn"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}

	db2, conn2 := testutil.NewStubDB()
	conn2.FailExec = true
	restore2 := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db2, nil })
	defer restore2()
	if _, err := NewStore(context.Background(), "dsn"); err == nil || !strings.Contains(err.Error(), "ensure documents table") {
		t.Fatalf("expected ddl error, got %v", err)
	}

	restore3 := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore3()
	if _, err := NewStore(context.Background(), "dsn"); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestStoreReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	if _, err := store.Read(ctx, "items.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if err := store.Write(ctx, "items.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Write(ctx, "items.json", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if rows := conn.Tables["documents"]; len(rows) != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", len(rows))
	}
	got, err := store.Read(ctx, "items.json")
	if err != nil || string(got) != `{"v":2}` {
		t.Fatalf("read: %q %v", got, err)
	}
}

func TestStoreCreateNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := newStubStore(t)
	name := "incidents_CORRUPTED_20240301T120000Z.json.bak"
	if err := store.Create(ctx, name, []byte("not json")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, name, []byte("second")); !errors.Is(err, domain.ErrDocumentExists) {
		t.Fatalf("expected ErrDocumentExists, got %v", err)
	}
	got, _ := store.Read(ctx, name)
	if string(got) != "not json" {
		t.Fatalf("backup overwritten: %q", got)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newStubStore(t)
	for _, name := range []string{"items_CORRUPTED_2.json.bak", "items.json", "items_CORRUPTED_1.json.bak"} {
		if err := store.Write(ctx, name, []byte("xy")); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	list, err := store.List(ctx, "items_CORRUPTED_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "items_CORRUPTED_1.json.bak" || list[0].Size != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	if !list[0].LastModified.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected modification time %v", list[0].LastModified)
	}
	if ok, err := store.Delete(ctx, "items.json"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "items.json"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
}

func TestStoreSurfacesBackendErrors(t *testing.T) {
	ctx := context.Background()
	store, conn := newStubStore(t)
	conn.FailTables = map[string]bool{"documents": true}
	if err := store.Write(ctx, "items.json", []byte("x")); err == nil {
		t.Fatalf("expected write error")
	}
	if _, err := store.Read(ctx, "items.json"); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected non-missing read error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list error")
	}
}
