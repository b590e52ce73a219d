// Package evidence persists human-auditable JSON documents, one per
// governance operation, named by the operation's identifier.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const ext = ".json"

// Dir is a directory of evidence documents.
type Dir struct {
	fs   afero.Fs
	path string
}

// NewDir returns the evidence directory at path on fsys.
func NewDir(fsys afero.Fs, path string) *Dir {
	return &Dir{fs: fsys, path: path}
}

// Path returns the file that holds the document for id.
func (d *Dir) Path(id string) string {
	return filepath.Join(d.path, id+ext)
}

// Root returns the directory itself.
func (d *Dir) Root() string {
	return d.path
}

// Write stores doc as indented JSON under id. The document is written to a
// temp file, synced and renamed into place.
func (d *Dir) Write(id string, doc any) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid evidence id %q", id)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal evidence: %w", err)
	}
	data = append(data, '\n')

	if err := d.fs.MkdirAll(d.path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create evidence directory: %w", err)
	}

	path := d.Path(id)
	tmp := filepath.Join(d.path, "."+id+".tmp-"+uuid.NewString())
	f, err := d.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create evidence file: %w", err)
	}
	_, werr := f.Write(data)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to write evidence %s: %w", path, err)
	}
	if err := d.fs.Rename(tmp, path); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to publish evidence %s: %w", path, err)
	}
	return path, nil
}

// Read decodes the document stored under id into out.
func (d *Dir) Read(id string, out any) error {
	data, err := afero.ReadFile(d.fs, d.Path(id))
	if err != nil {
		return fmt.Errorf("failed to read evidence %s: %w", id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse evidence %s: %w", id, err)
	}
	return nil
}

// Exists reports whether a document is stored under id.
func (d *Dir) Exists(id string) (bool, error) {
	return afero.Exists(d.fs, d.Path(id))
}

// Remove deletes the document for id. Removing a missing document is a no-op.
func (d *Dir) Remove(id string) error {
	if err := d.fs.Remove(d.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove evidence %s: %w", id, err)
	}
	return nil
}

// IDs lists stored document identifiers, sorted. A missing directory is
// empty.
func (d *Dir) IDs() ([]string, error) {
	entries, err := afero.ReadDir(d.fs, d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}
