package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"tradepost/pkg/domain"
)

// LoadStatus reports what Gateway.Load found.
type LoadStatus int

const (
	// LoadLoaded means the document was read and decoded.
	LoadLoaded LoadStatus = iota
	// LoadMissing means no document exists yet.
	LoadMissing
	// LoadCorrupt means the document could not be interpreted; it was backed up.
	LoadCorrupt
)

func (s LoadStatus) String() string {
	switch s {
	case LoadLoaded:
		return "loaded"
	case LoadMissing:
		return "missing"
	case LoadCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

const (
	backupMarker     = "_CORRUPTED_"
	backupSuffix     = ".json.bak"
	backupTimeLayout = "20060102T150405Z"
	maxBackupSuffix  = 1000
)

// DocumentName returns the storage name of a catalog's document.
func DocumentName(catalogID string) string { return catalogID + ".json" }

// BackupPrefix returns the name prefix shared by a catalog's corruption backups.
func BackupPrefix(catalogID string) string { return catalogID + backupMarker }

// EncodeDocument serializes v deterministically: map keys sorted, two-space
// indent, trailing newline.
func EncodeDocument(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Gateway reads and writes catalog documents through a DocumentStore and turns
// failures into notices.
type Gateway struct {
	docs domain.DocumentStore
	opts options
}

// NewGateway wraps docs.
func NewGateway(docs domain.DocumentStore, opts ...Option) *Gateway {
	return &Gateway{docs: docs, opts: newOptions(opts)}
}

// Driver names the backing document store.
func (g *Gateway) Driver() string { return g.docs.Driver() }

// Load decodes the catalog's document into dst. A missing document is not an
// error. A document that cannot be interpreted is copied to a fresh backup and
// reported as LoadCorrupt with a nil error. A non-nil error is always a
// *domain.StorageError and means nothing on disk was touched; the returned
// status then still says what was detected.
func (g *Gateway) Load(ctx context.Context, catalogID string, dst domain.Persistable) (LoadStatus, error) {
	status := LoadLoaded
	err := g.opts.observe(ctx, "load", func(ctx context.Context) error {
		var err error
		status, err = g.load(ctx, catalogID, dst)
		return err
	})
	return status, err
}

func (g *Gateway) load(ctx context.Context, catalogID string, dst domain.Persistable) (LoadStatus, error) {
	name := DocumentName(catalogID)
	data, err := g.docs.Read(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		g.opts.logger.Info("catalog document missing", "catalog", catalogID, "name", name)
		return LoadMissing, nil
	}
	if err != nil {
		return LoadLoaded, g.storageFailure(ctx, "read", catalogID, name, err)
	}
	decodeErr := decodeDocument(data, catalogID, dst)
	if decodeErr == nil {
		return LoadLoaded, nil
	}
	g.opts.logger.Warn("catalog document corrupt", "catalog", catalogID, "name", name, "error", decodeErr)
	backup, err := g.backup(ctx, catalogID, data)
	if err != nil {
		return LoadCorrupt, g.storageFailure(ctx, "backup", catalogID, backup, err)
	}
	g.notify(ctx, domain.Notice{
		Catalog:  catalogID,
		Kind:     domain.NoticeCorruption,
		Severity: domain.SeverityWarning,
		Title:    "Settings file was corrupted",
		Message: fmt.Sprintf("The %s settings could not be read. Custom settings were lost and defaults were restored. "+
			"The unreadable file was kept as %s.", catalogID, backup),
		Backup: backup,
		Error:  decodeErr.Error(),
	})
	return LoadCorrupt, nil
}

// decodeDocument rejects blank or null documents, JSON errors, and anything
// the document's own validation refuses. Panics from custom unmarshalers are
// reported as decode errors.
func decodeDocument(data []byte, catalogID string, dst domain.Persistable) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("document is empty")
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return errors.New("document is null")
	}
	var decodeErr error
	var pc panics.Catcher
	pc.Try(func() {
		decodeErr = json.Unmarshal(trimmed, dst)
		if decodeErr == nil {
			decodeErr = dst.Validate(catalogID)
		}
	})
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("decode panicked: %w", r.AsError())
	}
	return decodeErr
}

// backup writes data under a name no existing document uses. It never
// overwrites: collisions get _1, _2, ... suffixes.
func (g *Gateway) backup(ctx context.Context, catalogID string, data []byte) (string, error) {
	base := BackupPrefix(catalogID) + g.opts.clock.Now().UTC().Format(backupTimeLayout)
	name := base + backupSuffix
	for i := 1; ; i++ {
		err := g.docs.Create(ctx, name, data)
		if err == nil {
			g.opts.logger.Info("corrupt document backed up", "catalog", catalogID, "backup", name)
			return name, nil
		}
		if !errors.Is(err, domain.ErrDocumentExists) {
			return name, err
		}
		if i > maxBackupSuffix {
			return name, fmt.Errorf("no free backup name after %d attempts", maxBackupSuffix)
		}
		name = fmt.Sprintf("%s_%d%s", base, i, backupSuffix)
	}
}

// Save replaces the catalog's document with data.
func (g *Gateway) Save(ctx context.Context, catalogID string, data []byte) error {
	name := DocumentName(catalogID)
	if err := g.docs.Write(ctx, name, data); err != nil {
		return g.storageFailure(ctx, "write", catalogID, name, err)
	}
	g.opts.logger.Debug("catalog document saved", "catalog", catalogID, "name", name, "bytes", len(data))
	return nil
}

// Delete removes the catalog's document. Backups are kept.
func (g *Gateway) Delete(ctx context.Context, catalogID string) error {
	name := DocumentName(catalogID)
	if _, err := g.docs.Delete(ctx, name); err != nil {
		return g.storageFailure(ctx, "delete", catalogID, name, err)
	}
	return nil
}

// Backups lists the catalog's corruption backups ordered by name.
func (g *Gateway) Backups(ctx context.Context, catalogID string) ([]domain.DocumentInfo, error) {
	infos, err := g.docs.List(ctx, BackupPrefix(catalogID))
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Catalog: catalogID, Name: BackupPrefix(catalogID), Err: err}
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Name, backupSuffix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (g *Gateway) storageFailure(ctx context.Context, op, catalogID, name string, err error) error {
	serr := &domain.StorageError{Op: op, Catalog: catalogID, Name: name, Err: err}
	g.opts.logger.Error("catalog storage failure", "catalog", catalogID, "op", op, "name", name, "driver", g.docs.Driver(), "error", err)
	g.notify(ctx, domain.Notice{
		Catalog:  catalogID,
		Kind:     domain.NoticeStorageFailure,
		Severity: domain.SeverityCritical,
		Title:    "Storage failure",
		Message: fmt.Sprintf("Could not %s the %s settings (%s). Check your storage hardware and free space; "+
			"changes will not be saved until this is resolved.", op, catalogID, name),
		Error: err.Error(),
	})
	return serr
}

func (g *Gateway) notify(ctx context.Context, n domain.Notice) {
	n.ID = uuid.NewString()
	n.At = g.opts.clock.Now()
	g.opts.notifier.Notify(ctx, n)
}
