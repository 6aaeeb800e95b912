package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileBackend(filepath.Join(dir, "files"), true)
	require.NoError(t, err)
	plain, err := NewFileBackend(filepath.Join(dir, "plain"), false)
	require.NoError(t, err)
	db, err := NewSQLiteBackend(filepath.Join(dir, "db", "knowd.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Backend{"file": file, "file-plain": plain, "sqlite": db}
}

func TestBackends_Contract(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.Load(ctx, TenantScope("t1"))
			assert.ErrorIs(t, err, ErrSnapshotNotFound)

			require.NoError(t, b.Save(ctx, tenantSnapshot()))
			require.NoError(t, b.Save(ctx, &Snapshot{Domain: "insurance", LastSaved: savedAt}))
			require.NoError(t, b.Save(ctx, &Snapshot{LastSaved: savedAt}))

			got, err := b.Load(ctx, TenantScope("t1"))
			require.NoError(t, err)
			assert.Equal(t, tenantSnapshot(), got)

			shared, err := b.Load(ctx, DomainScope("insurance"))
			require.NoError(t, err)
			assert.Empty(t, shared.Documents)
			assert.Equal(t, FormatVersion, shared.FormatVersion)

			scopes, err := b.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []Scope{TenantScope("t1"), DomainScope("insurance"), GlobalScope()}, scopes)

			// Overwrite.
			updated := tenantSnapshot()
			updated.Documents[0].Content = "changed"
			require.NoError(t, b.Save(ctx, updated))
			got, err = b.Load(ctx, TenantScope("t1"))
			require.NoError(t, err)
			assert.Equal(t, "changed", got.Documents[0].Content)

			require.NoError(t, b.Delete(ctx, TenantScope("t1")))
			require.NoError(t, b.Delete(ctx, TenantScope("t1")))
			_, err = b.Load(ctx, TenantScope("t1"))
			assert.ErrorIs(t, err, ErrSnapshotNotFound)

			scopes, err = b.List(ctx)
			require.NoError(t, err)
			assert.Len(t, scopes, 2)
		})
	}
}

func TestFileBackend_LayoutAndCompressionSwitch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	plain, err := NewFileBackend(dir, false)
	require.NoError(t, err)
	require.NoError(t, plain.Save(ctx, tenantSnapshot()))
	assert.FileExists(t, filepath.Join(dir, "tenants", "t1.json"))

	info, err := os.Stat(filepath.Join(dir, "tenants", "t1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A compressed backend over the same directory still reads the plain file
	// and replaces it on the next save.
	gz, err := NewFileBackend(dir, true)
	require.NoError(t, err)
	got, err := gz.Load(ctx, TenantScope("t1"))
	require.NoError(t, err)
	assert.Equal(t, "a", got.Documents[0].ID)

	require.NoError(t, gz.Save(ctx, got))
	assert.FileExists(t, filepath.Join(dir, "tenants", "t1.json.gz"))
	assert.NoFileExists(t, filepath.Join(dir, "tenants", "t1.json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	scopes, err := gz.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Scope{TenantScope("t1")}, scopes)
}

func TestFileBackend_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, true)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "global.json.gz"), []byte("garbage"), 0600))

	_, err = b.Load(context.Background(), GlobalScope())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Persistence

	cfg.Backend = "none"
	b, err := NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, b)

	cfg.Backend = "file"
	cfg.Dir = dir
	b, err = NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", b.Name())

	cfg.Backend = "sqlite"
	cfg.SQLitePath = filepath.Join(dir, "knowd.db")
	b, err = NewBackend(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", b.Name())
	require.NoError(t, b.Close())

	cfg.Backend = "tape"
	_, err = NewBackend(context.Background(), cfg)
	assert.Error(t, err)
}
