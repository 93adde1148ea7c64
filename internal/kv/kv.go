// Package kv defines the ordered key-value store contract the wallet
// transaction indexes are built on: point reads, atomic write batches, and
// ordered range iteration. Keys are ASCII; iteration order is bytewise
// lexicographic.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist. Drivers map
// their backend's own not-found error to this one.
var ErrNotFound = errors.New("kv: not found")

// IterOptions bounds a range iteration. GTE and LTE are inclusive; a nil
// bound is open. Limit <= 0 means unlimited. Reverse walks the range from
// the upper bound down.
type IterOptions struct {
	GTE     []byte
	LTE     []byte
	Limit   int
	Reverse bool
}

// Batch stages writes that are applied atomically by Commit. A batch that is
// not committed must be Closed to release driver resources; Close after a
// successful Commit is a no-op.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Commit(ctx context.Context) error
	Close() error
}

// Store is the backing-store seam. Implementations must provide
// sequentially consistent reads with respect to committed batches.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Has(ctx context.Context, key []byte) (bool, error)

	// NewBatch opens an empty write batch.
	NewBatch() Batch

	// Iterate walks keys in [GTE, LTE] in order, invoking fn for each
	// pair. Returning false from fn stops the walk early without error.
	// The key and value slices are only valid for the duration of the
	// call; fn must copy anything it keeps.
	Iterate(ctx context.Context, opts IterOptions, fn func(key, value []byte) (bool, error)) error

	// Migrate prepares the backing schema (tables, version keys).
	Migrate(ctx context.Context) error

	Close() error
}
