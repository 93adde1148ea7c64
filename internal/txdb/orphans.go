package txdb

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/kv"
)

// Orphans are wallet-owned inputs whose referenced output is not yet known
// to the index. Each prevout carries an append-only list of waiting spender
// outpoints at o/<hash>/<vout>; the list is consulted and cleared when the
// output finally appears.

// addOrphan appends a waiting spender to the prevout's list, read-modify-
// write inside the current session.
func (s *session) addOrphan(ctx context.Context, prev *wire.OutPoint, spender *wire.OutPoint) error {
	key := s.db.keys.Orphan(&prev.Hash, prev.Index)
	cur, err := s.get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	entry := encodeOutpoint(&spender.Hash, spender.Index)
	s.put(key, append(append([]byte(nil), cur...), entry...))
	return nil
}

// removeOrphanWaiter strips every entry naming spender from the prevout's
// waiter list, deleting the list when it empties.
func (s *session) removeOrphanWaiter(ctx context.Context, prev *wire.OutPoint, spender *chainhash.Hash) error {
	key := s.db.keys.Orphan(&prev.Hash, prev.Index)
	cur, err := s.get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	}
	waiters, err := decodeOutpointList(cur)
	if err != nil {
		return err
	}

	kept := make([]byte, 0, len(cur))
	for _, w := range waiters {
		if w.Hash == *spender {
			continue
		}
		kept = append(kept, encodeOutpoint(&w.Hash, w.Index)...)
	}
	if len(kept) == len(cur) {
		return nil
	}
	if len(kept) == 0 {
		s.del(key)
		return nil
	}
	s.put(key, kept)
	return nil
}

// readOrphans returns the spender outpoints waiting on the given output, in
// arrival order.
func (db *TxDB) readOrphans(ctx context.Context, hash *chainhash.Hash, vout uint32) ([]wire.OutPoint, error) {
	v, err := db.store.Get(ctx, db.keys.Orphan(hash, vout))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeOutpointList(v)
}
