// Package store defines the document-store boundary the engine reads
// templates through, plus the default filesystem implementation. Template
// files are JSON with comments and trailing commas tolerated, which keeps
// hand-authored template libraries pleasant to maintain.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/types"
)

// DocumentStore is the engine's read-only view of template storage.
type DocumentStore interface {
	// List enumerates candidate template files in a directory,
	// non-recursively, sorted by path.
	List(dir string) ([]string, error)
	// Read loads and decodes a single template document.
	Read(path string) (*types.Template, error)
	// Stat reports the document's last modification time.
	Stat(path string) (time.Time, error)
}

// Extensions accepted as template documents.
var documentExtensions = map[string]bool{
	".json":  true,
	".jsonc": true,
}

// IsDocument reports whether a path looks like a template document.
func IsDocument(path string) bool {
	return documentExtensions[strings.ToLower(filepath.Ext(path))]
}

// KeyForPath derives the registry key for a document path: the file
// basename without its extension.
func KeyForPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FSStore reads template documents from the local filesystem.
type FSStore struct{}

// NewFSStore creates a filesystem-backed document store.
func NewFSStore() *FSStore { return &FSStore{} }

// List implements DocumentStore.
func (s *FSStore) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewConfigError(
			errors.CodeDirectoryInvalid,
			"cannot read template directory "+dir,
		).WithContext("cause", err.Error())
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDocument(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Read implements DocumentStore. Malformed documents come back as
// DocumentParseError so scan loops can recover per file.
func (s *FSStore) Read(path string) (*types.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewDocumentParseError(path, err)
	}

	var tmpl types.Template
	if err := json.Unmarshal(jsonc.ToJSON(data), &tmpl); err != nil {
		return nil, errors.NewDocumentParseError(path, err)
	}

	tmpl.FilePath = path
	if info, err := os.Stat(path); err == nil {
		tmpl.ModTime = info.ModTime()
	}
	return &tmpl, nil
}

// Stat implements DocumentStore.
func (s *FSStore) Stat(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, errors.NewDocumentParseError(path, err)
	}
	return info.ModTime(), nil
}
