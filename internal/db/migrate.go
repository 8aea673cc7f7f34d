package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

// migrations holds the embedded goose SQL files.
//
//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrationStatus reports the applied schema version and whether migrations
// are still pending.
func MigrationStatus(ctx context.Context, db *sqlx.DB) (current int64, pending bool, err error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, false, fmt.Errorf("goose set dialect: %w", err)
	}
	current, err = goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, false, fmt.Errorf("goose version: %w", err)
	}
	all, err := goose.CollectMigrations("migrations", 0, goose.MaxVersion)
	if err != nil {
		return 0, false, fmt.Errorf("collect migrations: %w", err)
	}
	last, err := all.Last()
	if err != nil {
		return current, false, nil
	}
	return current, last.Version > current, nil
}
