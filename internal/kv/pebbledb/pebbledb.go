// Package pebbledb implements the kv.Store contract on cockroachdb/pebble.
// This is the default driver: a single pebble database holds every wallet's
// index keyspace.
package pebbledb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/walletkit/txindex/internal/kv"
)

var metaSchemaVersion = []byte("!meta/schema_version")

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("pebbledb: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pebbledb: mkdir: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebbledb: open: %w", err)
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
	_ = ctx

	_, closer, err := s.db.Get(metaSchemaVersion)
	if err == nil {
		_ = closer.Close()
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("pebbledb: schema_version: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(metaSchemaVersion, []byte("1"), pebble.NoSync); err != nil {
		return fmt.Errorf("pebbledb: set schema_version: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebbledb: migrate commit: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	_ = ctx

	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("pebbledb: get: %w", err)
	}
	out := append([]byte(nil), v...)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("pebbledb: get close: %w", err)
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{db: s.db, b: s.db.NewBatch()}
}

func (s *Store) Iterate(ctx context.Context, opts kv.IterOptions, fn func(key, value []byte) (bool, error)) error {
	_ = ctx

	iterOpts := &pebble.IterOptions{}
	if opts.GTE != nil {
		iterOpts.LowerBound = opts.GTE
	}
	if opts.LTE != nil {
		// Pebble upper bounds are exclusive; the contract's LTE is
		// inclusive, so bump past it.
		iterOpts.UpperBound = append(append([]byte(nil), opts.LTE...), 0x00)
	}

	iter, err := s.db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("pebbledb: iter: %w", err)
	}
	defer iter.Close()

	n := 0
	advance := func() bool {
		if opts.Reverse {
			return iter.Prev()
		}
		return iter.Next()
	}

	var ok bool
	if opts.Reverse {
		ok = iter.Last()
	} else {
		ok = iter.First()
	}
	for ; ok; ok = advance() {
		if opts.Limit > 0 && n >= opts.Limit {
			break
		}
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("pebbledb: iterate: %w", err)
	}
	return nil
}

type batch struct {
	db *pebble.DB
	b  *pebble.Batch
}

func (b *batch) Put(key, value []byte) {
	_ = b.b.Set(key, value, pebble.NoSync)
}

func (b *batch) Delete(key []byte) {
	_ = b.b.Delete(key, pebble.NoSync)
}

func (b *batch) Commit(ctx context.Context) error {
	_ = ctx

	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebbledb: commit: %w", err)
	}
	return nil
}

func (b *batch) Close() error {
	return b.b.Close()
}
