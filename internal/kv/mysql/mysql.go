//go:build mysql

// Package mysql implements the kv.Store contract on MySQL. Built only with
// -tags=mysql; the stub in stub.go takes its place otherwise.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/walletkit/txindex/internal/kv"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql: dsn is required")
	}

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INT PRIMARY KEY,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("mysql: create schema_migrations: %w", err)
	}

	var already bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=1)`).Scan(&already); err != nil {
		return fmt.Errorf("mysql: check version: %w", err)
	}
	if already {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv (
  `+"`key`"+` VARBINARY(512) PRIMARY KEY,
  value LONGBLOB NOT NULL
)`); err != nil {
		return fmt.Errorf("mysql: create kv: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (1)`); err != nil {
		return fmt.Errorf("mysql: record version: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE `key`=?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("mysql: get: %w", err)
	}
	return value, nil
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM kv WHERE `key`=?)", key).Scan(&exists); err != nil {
		return false, fmt.Errorf("mysql: has: %w", err)
	}
	return exists, nil
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{db: s.db}
}

func (s *Store) Iterate(ctx context.Context, opts kv.IterOptions, fn func(key, value []byte) (bool, error)) error {
	var (
		where []string
		args  []any
	)
	if opts.GTE != nil {
		where = append(where, "`key` >= ?")
		args = append(args, opts.GTE)
	}
	if opts.LTE != nil {
		where = append(where, "`key` <= ?")
		args = append(args, opts.LTE)
	}

	q := "SELECT `key`, value FROM kv"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY `key`"
	if opts.Reverse {
		q += " DESC"
	}
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("mysql: iterate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("mysql: iterate scan: %w", err)
		}
		cont, err := fn(key, value)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("mysql: iterate rows: %w", err)
	}
	return nil
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	db  *sql.DB
	ops []batchOp
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{
		key:    append([]byte(nil), key...),
		delete: true,
	})
}

func (b *batch) Commit(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range b.ops {
		if op.delete {
			if _, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE `key`=?", op.key); err != nil {
				return fmt.Errorf("mysql: batch delete: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "REPLACE INTO kv (`key`, value) VALUES (?, ?)", op.key, op.value); err != nil {
			return fmt.Errorf("mysql: batch put: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	b.ops = nil
	return nil
}

func (b *batch) Close() error {
	b.ops = nil
	return nil
}
