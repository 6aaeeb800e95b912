package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	scope          TEXT PRIMARY KEY,
	format_version INTEGER NOT NULL,
	document_count INTEGER NOT NULL,
	last_saved     DATETIME NOT NULL,
	data           BLOB NOT NULL
)`

// SQLiteBackend keeps every snapshot as a row in one database file.
type SQLiteBackend struct {
	db       *sql.DB
	path     string
	compress bool
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(path string, compress bool) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", ErrPersistenceFailure, err)
	}

	// WAL keeps readers off the writer's lock.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrPersistenceFailure, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrPersistenceFailure, err)
	}
	return &SQLiteBackend{db: db, path: path, compress: compress}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Path returns the database file path.
func (b *SQLiteBackend) Path() string { return b.path }

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, scope Scope) (*Snapshot, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE scope = ?", scope.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %v", ErrPersistenceFailure, scope, err)
	}
	return Decode(data)
}

// Save upserts the row of the snapshot's scope.
func (b *SQLiteBackend) Save(ctx context.Context, s *Snapshot) error {
	data, err := Encode(s, b.compress)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO snapshots (scope, format_version, document_count, last_saved, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			format_version = excluded.format_version,
			document_count = excluded.document_count,
			last_saved = excluded.last_saved,
			data = excluded.data`,
		s.Scope().String(), s.FormatVersion, len(s.Documents), s.LastSaved.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("%w: saving %s: %v", ErrPersistenceFailure, s.Scope(), err)
	}
	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, scope Scope) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM snapshots WHERE scope = ?", scope.String()); err != nil {
		return fmt.Errorf("%w: deleting %s: %v", ErrPersistenceFailure, scope, err)
	}
	return nil
}

// List implements Backend.
func (b *SQLiteBackend) List(ctx context.Context) ([]Scope, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT scope FROM snapshots")
	if err != nil {
		return nil, fmt.Errorf("%w: listing: %v", ErrPersistenceFailure, err)
	}
	defer rows.Close()

	seen := make(map[Scope]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: listing: %v", ErrPersistenceFailure, err)
		}
		if scope, err := ParseScope(name); err == nil {
			seen[scope] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing: %v", ErrPersistenceFailure, err)
	}
	return sortedScopes(seen), nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
