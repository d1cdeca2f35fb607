// Package postgres is the Postgres input cache backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedinput/internal/inputcache"
)

const (
	createSQL = `CREATE TABLE IF NOT EXISTS ` + inputcache.TableName + ` (
	plugin      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	entries     TEXT NOT NULL,
	stored_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (plugin, fingerprint)
)`
	putSQL = `INSERT INTO ` + inputcache.TableName + ` (plugin, fingerprint, entries, stored_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (plugin, fingerprint)
DO UPDATE SET entries = EXCLUDED.entries, stored_at = EXCLUDED.stored_at`
	latestSQL = `SELECT entries, stored_at FROM ` + inputcache.TableName +
		` WHERE plugin = $1 AND fingerprint = $2`
)

// conn is the subset of *pgxpool.Pool the store uses.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type Store struct {
	pool conn
}

func init() {
	inputcache.Register("postgres", func(ctx context.Context, cfg inputcache.Config) (inputcache.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open connects a pool to dsn and creates the cache table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s, err := newStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newStore(ctx context.Context, c conn) (*Store, error) {
	if _, err := c.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("create %s: %w", inputcache.TableName, err)
	}
	return &Store{pool: c}, nil
}

func (s *Store) Put(ctx context.Context, r inputcache.Record) error {
	entries, err := inputcache.EncodeEntries(r.Entries)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, putSQL, r.Key.Plugin, r.Key.Fingerprint, entries, r.StoredAt.UTC())
	return err
}

func (s *Store) Latest(ctx context.Context, k inputcache.Key) (inputcache.Record, bool, error) {
	var (
		entries  string
		storedAt time.Time
	)
	err := s.pool.QueryRow(ctx, latestSQL, k.Plugin, k.Fingerprint).Scan(&entries, &storedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inputcache.Record{}, false, nil
	}
	if err != nil {
		return inputcache.Record{}, false, err
	}

	decoded, err := inputcache.DecodeEntries(entries)
	if err != nil {
		return inputcache.Record{}, false, err
	}
	return inputcache.Record{Key: k, Entries: decoded, StoredAt: storedAt.UTC()}, true, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
