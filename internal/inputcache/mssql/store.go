// Package mssql is the SQL Server input cache backend.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"feedinput/internal/inputcache"
)

const (
	createSQL = `IF OBJECT_ID(N'dbo.` + inputcache.TableName + `', N'U') IS NULL
CREATE TABLE dbo.` + inputcache.TableName + ` (
	plugin      NVARCHAR(128) NOT NULL,
	fingerprint CHAR(64) NOT NULL,
	entries     NVARCHAR(MAX) NOT NULL,
	stored_at   DATETIMEOFFSET NOT NULL,
	CONSTRAINT PK_` + inputcache.TableName + ` PRIMARY KEY (plugin, fingerprint)
)`
	// HOLDLOCK keeps concurrent upserts for one key from racing.
	putSQL = `MERGE dbo.` + inputcache.TableName + ` WITH (HOLDLOCK) AS t
USING (SELECT @p1 AS plugin, @p2 AS fingerprint) AS s
ON t.plugin = s.plugin AND t.fingerprint = s.fingerprint
WHEN MATCHED THEN UPDATE SET entries = @p3, stored_at = @p4
WHEN NOT MATCHED THEN INSERT (plugin, fingerprint, entries, stored_at) VALUES (@p1, @p2, @p3, @p4);`
	latestSQL = `SELECT entries, stored_at FROM dbo.` + inputcache.TableName +
		` WHERE plugin = @p1 AND fingerprint = @p2`
)

// dbConn is the subset of *sql.DB the store uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) row
	Close() error
}

type row interface {
	Scan(dest ...any) error
}

// sqlDB adapts *sql.DB to dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s sqlDB) Close() error { return s.db.Close() }

type Store struct {
	db dbConn
}

func init() {
	inputcache.Register("mssql", func(ctx context.Context, cfg inputcache.Config) (inputcache.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open connects with the "sqlserver" driver and creates the cache table if
// needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := newStore(ctx, sqlDB{db: db})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(ctx context.Context, db dbConn) (*Store, error) {
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("create %s: %w", inputcache.TableName, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, r inputcache.Record) error {
	entries, err := inputcache.EncodeEntries(r.Entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, putSQL, r.Key.Plugin, r.Key.Fingerprint, entries, r.StoredAt.UTC())
	return err
}

func (s *Store) Latest(ctx context.Context, k inputcache.Key) (inputcache.Record, bool, error) {
	var (
		entries  string
		storedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, latestSQL, k.Plugin, k.Fingerprint).Scan(&entries, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *Store) Close() error { return s.db.Close() }
