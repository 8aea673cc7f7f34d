// Package repository implements the domain store interfaces on SQLite.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"querypulse/internal/domain"
)

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Message: "resource not found"}
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &domain.MergeConflictError{Err: err}
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &domain.ConflictError{Message: "resource already exists"}
	}
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

// paginate applies the page's limit and offset.
func paginate(b sq.SelectBuilder, p domain.Page) sq.SelectBuilder {
	b = b.Limit(uint64(p.Limit())) //nolint:gosec // Limit is clamped to [1, MaxPageSize]
	if off := p.Offset(); off > 0 {
		b = b.Offset(uint64(off)) //nolint:gosec // Offset is never negative
	}
	return b
}

// selectAll runs a built query against db and scans every row into dest.
func selectAll(ctx context.Context, db sqlx.QueryerContext, dest interface{}, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := sqlx.SelectContext(ctx, db, dest, query, args...); err != nil {
		return mapDBError(err)
	}
	return nil
}

// purge deletes rows of table whose column is strictly before the cutoff.
func purge(ctx context.Context, db sqlx.ExecerContext, table, column string, before time.Time, extra ...sq.Sqlizer) (int64, error) {
	b := sq.Delete(table).Where(sq.Lt{column: toMillis(before)})
	for _, pred := range extra {
		b = b.Where(pred)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}
