package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"audience-sync/internal/cache"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps cache entries in the kv_entries table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
	now    func() time.Time
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
		now:    time.Now,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresStore) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// Get returns the live value for key.
func (r *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	const q = `
SELECT value
FROM kv_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
LIMIT 1;
`
	var value string
	if err := r.pool.QueryRow(ctx, q, key, r.now().UTC()).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", cache.ErrNotFound
		}
		return "", fmt.Errorf("get kv entry: %w", err)
	}
	return value, nil
}

// Put upserts key. A zero ttl stores the entry without expiry.
func (r *PostgresStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	const q = `
INSERT INTO kv_entries (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (key) DO UPDATE SET
    value = EXCLUDED.value,
    expires_at = EXCLUDED.expires_at,
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, key, value, expiresAt(r.now(), ttl)); err != nil {
		return fmt.Errorf("put kv entry: %w", err)
	}
	return nil
}

// Delete removes key if present.
func (r *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1;`, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries whose TTL has elapsed and returns how many were removed.
func (r *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1;`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge kv entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl).UTC()
	return &t
}
