package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"audience-sync/internal/cache"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps cache entries in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
		now:    time.Now,
	}, nil
}

// Close releases the database connection.
func (r *SQLiteStore) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

// Ping ensures the database is reachable.
func (r *SQLiteStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the sqlite/ migrations from filesystem.
func (r *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applySQLMigrations(ctx, r.db, filesystem, "sqlite")
}

func (r *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	const q = `
SELECT value
FROM kv_entries
WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
LIMIT 1;
`
	var value string
	if err := r.db.QueryRowContext(ctx, q, key, r.now().UnixMilli()).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", cache.ErrNotFound
		}
		return "", fmt.Errorf("get kv entry: %w", err)
	}
	return value, nil
}

func (r *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	const q = `
INSERT INTO kv_entries (key, value, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    value = excluded.value,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at;
`
	now := r.now()
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, q, key, value, expires, now.UnixMilli()); err != nil {
		return fmt.Errorf("put kv entry: %w", err)
	}
	return nil
}

func (r *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries whose TTL has elapsed and returns how many were removed.
func (r *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?;`, r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge kv entries: %w", err)
	}
	return res.RowsAffected()
}
