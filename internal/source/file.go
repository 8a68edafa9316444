// Package source loads catalog descriptors from files in a source directory,
// one file per catalog, and watches that directory for edits.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"tradepost/pkg/domain"
)

// Extensions lists the recognised descriptor file extensions in lookup order.
var Extensions = []string{".yaml", ".yml", ".json", ".toml"}

// File enumerates descriptors from <dir>/<catalog>.<ext>. The file is re-read
// on every call so edits are picked up by the next reconciliation.
//
// JSON and YAML files hold either a bare list or an object with an "entries"
// list; TOML files use [[entries]] tables.
type File[S any] struct {
	dir     string
	catalog string
}

var _ domain.Source[struct{}] = (*File[struct{}])(nil)

// NewFile returns a file-backed source for catalog.
func NewFile[S any](dir, catalog string) *File[S] {
	return &File[S]{dir: dir, catalog: catalog}
}

// Path returns the first existing descriptor file for the catalog.
func (f *File[S]) Path() (string, error) {
	for _, ext := range Extensions {
		p := filepath.Join(f.dir, f.catalog+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", &fs.PathError{Op: "open", Path: filepath.Join(f.dir, f.catalog+".{yaml,yml,json,toml}"), Err: fs.ErrNotExist}
}

// Enumerate implements domain.Source.
func (f *File[S]) Enumerate(ctx context.Context) ([]S, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := Decode[S](filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

type envelope[S any] struct {
	Entries []S `json:"entries" yaml:"entries" toml:"entries"`
}

// Decode parses descriptor data in the format named by ext.
func Decode[S any](ext string, data []byte) ([]S, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []S{}, nil
	}
	var env envelope[S]
	switch strings.ToLower(ext) {
	case ".json":
		if trimmed[0] == '[' {
			var list []S
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, err
			}
			return nonNil(list), nil
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []S
			if err := node.Decode(&list); err != nil {
				return nil, err
			}
			return nonNil(list), nil
		}
		if err := node.Decode(&env); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported descriptor format %q", ext)
	}
	return nonNil(env.Entries), nil
}

func nonNil[S any](list []S) []S {
	if list == nil {
		return []S{}
	}
	return list
}

// CatalogForPath maps a descriptor file path to its catalog id, or "" when the
// file is not a descriptor file.
func CatalogForPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	for _, known := range Extensions {
		if strings.EqualFold(ext, known) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return ""
}
