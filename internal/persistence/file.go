package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	extPlain      = ".json"
	extCompressed = ".json.gz"
)

// FileBackend writes one file per scope under a directory:
// tenants/<id>.json.gz, domains/<domain>.json.gz and global.json.gz.
type FileBackend struct {
	dir      string
	compress bool
}

// NewFileBackend creates dir if needed.
func NewFileBackend(dir string, compress bool) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend: empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrPersistenceFailure, dir, err)
	}
	return &FileBackend{dir: dir, compress: compress}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) path(scope Scope, compressed bool) string {
	ext := extPlain
	if compressed {
		ext = extCompressed
	}
	return filepath.Join(b.dir, filepath.FromSlash(scope.String())+ext)
}

// Load reads the snapshot, accepting either extension.
func (b *FileBackend) Load(_ context.Context, scope Scope) (*Snapshot, error) {
	for _, compressed := range []bool{b.compress, !b.compress} {
		data, err := os.ReadFile(b.path(scope, compressed))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistenceFailure, scope, err)
		}
		return Decode(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, scope)
}

// Save writes to a temp file and renames it into place.
func (b *FileBackend) Save(_ context.Context, s *Snapshot) error {
	scope := s.Scope()
	data, err := Encode(s, b.compress)
	if err != nil {
		return err
	}

	path := b.path(scope, b.compress)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrPersistenceFailure, scope, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming %s: %v", ErrPersistenceFailure, scope, err)
	}
	// Drop a stale copy written with the other compression setting.
	_ = os.Remove(b.path(scope, !b.compress))
	return nil
}

// Delete removes both possible files.
func (b *FileBackend) Delete(_ context.Context, scope Scope) error {
	for _, compressed := range []bool{true, false} {
		if err := os.Remove(b.path(scope, compressed)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: deleting %s: %v", ErrPersistenceFailure, scope, err)
		}
	}
	return nil
}

// List walks the directory for snapshot files.
func (b *FileBackend) List(_ context.Context) ([]Scope, error) {
	seen := make(map[Scope]struct{})
	err := filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		var name string
		switch {
		case strings.HasSuffix(rel, extCompressed):
			name = strings.TrimSuffix(rel, extCompressed)
		case strings.HasSuffix(rel, extPlain):
			name = strings.TrimSuffix(rel, extPlain)
		default:
			return nil
		}
		if scope, err := ParseScope(name); err == nil {
			seen[scope] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", ErrPersistenceFailure, b.dir, err)
	}
	return sortedScopes(seen), nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

func sortedScopes(set map[Scope]struct{}) []Scope {
	out := make([]Scope, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Name < out[j].Name
	})
	return out
}
