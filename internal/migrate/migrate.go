// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/sync-keeper/migrations"
)

// Supported dialects, named as goose names them.
const (
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Up runs all pending Postgres migrations against dsn.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return Apply(ctx, db, Postgres)
}

// Apply runs all pending migrations of dialect on an open database.
func Apply(ctx context.Context, db *sql.DB, dialect string) error {
	dir, err := dirFor(dialect)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dir, err)
	}
	return nil
}

func dirFor(dialect string) (string, error) {
	switch dialect {
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
