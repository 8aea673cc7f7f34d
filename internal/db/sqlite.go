// Package db opens the engine's SQLite store and applies its migrations.
package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects how a pool is tuned.
type Mode string

// Pool modes.
const (
	// ModeWrite is a single-connection pool whose transactions take the
	// write lock at BEGIN, so concurrent passes serialize instead of
	// failing mid-transaction.
	ModeWrite Mode = "write"
	// ModeRead is a multi-connection pool for the read API and lookups.
	ModeRead Mode = "read"
)

const (
	busyTimeoutMs   = "5000"
	synchronousMode = "NORMAL"
	journalMode     = "WAL"
	defaultReadMax  = 4
)

// OpenSQLite opens a pool for the SQLite file at path.
func OpenSQLite(path string, mode Mode, maxOpen int) (*sqlx.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sqlx.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = defaultReadMax
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// Store is the write/read pool pair over one SQLite file.
type Store struct {
	Write *sqlx.DB
	Read  *sqlx.DB
}

// Open opens the write pool first, so the file exists in WAL mode before
// readers attach, then the read pool.
func Open(path string, readMaxOpen int) (*Store, error) {
	w, err := OpenSQLite(path, ModeWrite, 1)
	if err != nil {
		return nil, err
	}
	r, err := OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Store{Write: w, Read: r}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.Read.Close()
	if err := s.Write.Close(); err != nil {
		return err
	}
	return rerr
}

func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMs)
	params.Set("_synchronous", synchronousMode)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
