package txdb

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/events"
)

// shouldReplace arbitrates a double spend: existing already holds the spend
// record, ref wants the same prevout. Confirmation beats pending; between
// two confirmed records the earlier block time survives; between two
// pending records the later-received one replaces the earlier.
func shouldReplace(existing, ref *TxRecord) bool {
	switch {
	case existing.Confirmed() && !ref.Confirmed():
		return false
	case existing.Confirmed() && ref.Confirmed():
		return ref.Ts < existing.Ts
	case !existing.Confirmed() && ref.Confirmed():
		return true
	default:
		return ref.Ps > existing.Ps
	}
}

// resolveConflict handles ref double-spending a prevout already spent by
// the transaction named in spender. If ref loses arbitration nothing
// changes and false is returned. If ref wins, the loser and every
// transaction transitively spending its outputs are removed; each removal
// commits in its own batch, so a mid-walk failure leaves a partial but
// convergent state.
//
// Must run inside the caller's critical section, before the caller's own
// session opens.
func (db *TxDB) resolveConflict(ctx context.Context, ref *TxRecord, spender *wire.OutPoint) (bool, error) {
	loser, err := db.getTxRecord(ctx, &spender.Hash)
	if err != nil {
		return false, err
	}
	if loser == nil {
		return false, fmt.Errorf("txdb: spend record names unknown tx %v: %w",
			spender.Hash, ErrCorruption)
	}

	if !shouldReplace(loser, ref) {
		return false, nil
	}

	if err := db.removeRecursive(ctx, loser, events.KindTxConflict, &ref.Hash); err != nil {
		return false, err
	}
	return true, nil
}
