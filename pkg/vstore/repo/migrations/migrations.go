// Package migrations embeds the SQL schema of the postgres and sqlite repositories
// and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect selects the schema flavour.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

func (d Dialect) dir() (string, error) {
	switch d {
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", d)
	}
}

// goose keeps its settings in package globals
var mu sync.Mutex

func prepare(d Dialect) (string, error) {
	dir, err := d.dir()
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(files)
	if err := goose.SetDialect(string(d)); err != nil {
		return "", fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return dir, nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB, d Dialect) error {
	mu.Lock()
	defer mu.Unlock()

	dir, err := prepare(d)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, d Dialect) error {
	mu.Lock()
	defer mu.Unlock()

	dir, err := prepare(d)
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, dir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// Version reports the schema version currently applied.
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	mu.Lock()
	defer mu.Unlock()

	if _, err := prepare(d); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
