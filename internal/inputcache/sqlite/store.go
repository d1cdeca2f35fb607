// Package sqlite is the SQLite input cache backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"feedinput/internal/inputcache"
)

// SQLite has no timestamp type; stored_at is RFC3339Nano TEXT.
const (
	createSQL = `CREATE TABLE IF NOT EXISTS ` + inputcache.TableName + ` (
	plugin      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	entries     TEXT NOT NULL,
	stored_at   TEXT NOT NULL,
	PRIMARY KEY (plugin, fingerprint)
)`
	putSQL = `INSERT OR REPLACE INTO ` + inputcache.TableName +
		` (plugin, fingerprint, entries, stored_at) VALUES (?, ?, ?, ?)`
	latestSQL = `SELECT entries, stored_at FROM ` + inputcache.TableName +
		` WHERE plugin = ? AND fingerprint = ?`
)

type Store struct {
	db *sql.DB
}

func init() {
	inputcache.Register("sqlite", func(ctx context.Context, cfg inputcache.Config) (inputcache.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open connects to dsn and creates the cache table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", inputcache.TableName, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, r inputcache.Record) error {
	entries, err := inputcache.EncodeEntries(r.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, putSQL,
		r.Key.Plugin, r.Key.Fingerprint, entries, inputcache.FormatTime(r.StoredAt))
	return err
}

func (s *Store) Latest(ctx context.Context, k inputcache.Key) (inputcache.Record, bool, error) {
	var entries, storedAt string
	err := s.db.QueryRowContext(ctx, latestSQL, k.Plugin, k.Fingerprint).Scan(&entries, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inputcache.Record{}, false, nil
	}
	if err != nil {
		return inputcache.Record{}, false, err
	}

	rec := inputcache.Record{Key: k}
	if rec.Entries, err = inputcache.DecodeEntries(entries); err != nil {
		return inputcache.Record{}, false, err
	}
	if rec.StoredAt, err = inputcache.ParseTime(storedAt); err != nil {
		return inputcache.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Close() error { return s.db.Close() }
