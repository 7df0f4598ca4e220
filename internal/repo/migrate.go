package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplyMigrations executes SQL files against the provided pool in lexicographical order.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) error {
	return walkMigrations(filesystem, ".", func(name, sqlText string) error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, sqlText)
			return err
		})
	})
}

// applySQLMigrations is the database/sql twin of ApplyMigrations.
func applySQLMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS, dir string) error {
	return walkMigrations(filesystem, dir, func(name, sqlText string) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func walkMigrations(filesystem fs.FS, dir string, apply func(name, sqlText string) error) error {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		sqlBytes, err := fs.ReadFile(filesystem, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if len(sqlBytes) == 0 {
			continue
		}

		if err := apply(entry.Name(), string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}
