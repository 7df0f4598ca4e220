package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"audience-sync/internal/cache"
	"audience-sync/internal/logging"
	"audience-sync/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.Files))
	return store
}

func exerciseStore(t *testing.T, store cache.Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "audience:missing")
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Put(ctx, "audience:Customers", "111", 0))
	require.NoError(t, store.Put(ctx, "audience:Customers", "222", 0))
	val, err := store.Get(ctx, "audience:Customers")
	require.NoError(t, err)
	assert.Equal(t, "222", val, "last write wins")

	require.NoError(t, store.Put(ctx, cache.KeyLastMetrics, `{"records":[]}`, time.Minute))
	val, err = store.Get(ctx, cache.KeyLastMetrics)
	require.NoError(t, err)
	assert.Equal(t, `{"records":[]}`, val)

	advance(2 * time.Minute)
	_, err = store.Get(ctx, cache.KeyLastMetrics)
	require.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "audience:Customers"))
	require.NoError(t, store.Delete(ctx, "audience:Customers"))
	_, err = store.Get(ctx, "audience:Customers")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	store := openSQLite(t)
	now := time.Now()
	store.now = func() time.Time { return now }

	exerciseStore(t, store, func(d time.Duration) { now = now.Add(d) })

	removed, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}

func TestSQLiteMigrationsAreRepeatable(t *testing.T) {
	store := openSQLite(t)
	require.NoError(t, store.RunMigrations(context.Background(), migrations.Files))
}

func TestNewSQLiteRejectsEmptyPath(t *testing.T) {
	_, err := NewSQLite(context.Background(), "  ", logging.Discard())
	require.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgres(ctx, dsn, "", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.Files))

	now := time.Now()
	store.now = func() time.Time { return now }
	exerciseStore(t, store, func(d time.Duration) { now = now.Add(d) })
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, expiresAt(now, 0))
	got := expiresAt(now, time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(time.Hour), *got)
}
