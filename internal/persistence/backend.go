package persistence

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/knowd/internal/config"
)

// Backend stores snapshots.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Load returns ErrSnapshotNotFound when the scope was never saved.
	Load(ctx context.Context, scope Scope) (*Snapshot, error)
	// Save replaces the snapshot of s.Scope().
	Save(ctx context.Context, s *Snapshot) error
	// Delete removes a snapshot. Deleting a missing snapshot succeeds.
	Delete(ctx context.Context, scope Scope) error
	// List returns every stored scope.
	List(ctx context.Context) ([]Scope, error)
	Close() error
}

// NewBackend builds the configured backend. The "none" backend returns nil.
func NewBackend(ctx context.Context, cfg config.PersistenceConfig) (Backend, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "file", "":
		dir, err := config.ExpandHome(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return NewFileBackend(dir, cfg.CompressEnabled())
	case "sqlite":
		path, err := config.ExpandHome(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteBackend(path, cfg.CompressEnabled())
	case "s3":
		client, err := NewS3Client(ctx, S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey.Value(),
			UsePathStyle:    cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Backend(client, cfg.S3Bucket, cfg.S3Prefix, cfg.CompressEnabled()), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}
