package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"tradepost/pkg/domain"
)

const documentContentType = "application/json"

// Documents adapts a blob Store to domain.DocumentStore. Every document write
// goes through Store.Replace, so each backend's atomic replace guarantee
// carries over to catalog saves.
type Documents struct {
	store Store
}

// NewDocuments wraps store.
func NewDocuments(store Store) *Documents { return &Documents{store: store} }

var _ domain.DocumentStore = (*Documents)(nil)

func (d *Documents) Read(ctx context.Context, name string) ([]byte, error) {
	_, rc, err := d.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func (d *Documents) Write(ctx context.Context, name string, data []byte) error {
	_, err := d.store.Replace(ctx, name, bytes.NewReader(data), PutOptions{ContentType: documentContentType})
	return err
}

func (d *Documents) Create(ctx context.Context, name string, data []byte) error {
	_, err := d.store.Put(ctx, name, bytes.NewReader(data), PutOptions{ContentType: documentContentType})
	if errors.Is(err, ErrExists) {
		return fmt.Errorf("%s: %w", name, domain.ErrDocumentExists)
	}
	return err
}

func (d *Documents) Delete(ctx context.Context, name string) (bool, error) {
	return d.store.Delete(ctx, name)
}

func (d *Documents) List(ctx context.Context, prefix string) ([]domain.DocumentInfo, error) {
	infos, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DocumentInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, domain.DocumentInfo{Name: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return out, nil
}

func (d *Documents) Driver() string { return string(d.store.Driver()) }
