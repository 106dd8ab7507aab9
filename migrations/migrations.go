// Package migrations embeds and applies the database schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed *.sql
var files embed.FS

// Versions returns the embedded migration names in apply order.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration not yet recorded in schema_migrations. Each
// migration runs in its own transaction.
func Apply(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if db == nil {
		return errors.New("migrations: nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("migrations: bootstrap: %w", err)
	}

	versions, err := Versions()
	if err != nil {
		return err
	}
	for _, version := range versions {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
			return fmt.Errorf("migrations: check %s: %w", version, err)
		}
		if exists {
			continue
		}
		body, err := files.ReadFile(version)
		if err != nil {
			return err
		}
		if err := applyOne(ctx, db, version, string(body)); err != nil {
			return err
		}
		logger.Info("migration applied", zap.String("version", version))
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, version, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrations: apply %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrations: record %s: %w", version, err)
	}
	return tx.Commit()
}
