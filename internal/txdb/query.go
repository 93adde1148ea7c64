package txdb

import (
	"context"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/kv"
)

// Queries read the committed store directly and run concurrently with
// mutations; each sees some committed prefix of the mutation history.

// Balance partitions the wallet's unspent value by confirmation state.
type Balance struct {
	Confirmed   btcutil.Amount `json:"confirmed"`
	Unconfirmed btcutil.Amount `json:"unconfirmed"`
	Coins       int            `json:"coins"`
}

// CoinEntry pairs a coin with its outpoint.
type CoinEntry struct {
	Outpoint wire.OutPoint
	Coin     *Coin
}

// QueryOptions bound range queries. Zero values mean unbounded below,
// negative End means unbounded above, Limit 0 means no limit.
type QueryOptions struct {
	Start   int64
	End     int64
	Limit   int
	Reverse bool
}

// GetTx returns the stored record for hash, nil when unknown.
func (db *TxDB) GetTx(ctx context.Context, hash *chainhash.Hash) (*TxRecord, error) {
	return db.getTxRecord(ctx, hash)
}

// GetCoin returns the unspent coin at the outpoint, nil when absent or
// spent.
func (db *TxDB) GetCoin(ctx context.Context, hash *chainhash.Hash, vout uint32) (*Coin, error) {
	raw, err := db.getCoinBytes(ctx, hash, vout)
	if err != nil || raw == nil {
		return nil, err
	}
	return DeserializeCoin(raw)
}

// GetSpender returns the outpoint (spender hash, input index) consuming the
// given output, nil when unspent.
func (db *TxDB) GetSpender(ctx context.Context, hash *chainhash.Hash, vout uint32) (*wire.OutPoint, error) {
	return db.getSpend(ctx, hash, vout)
}

// GetBalance sums every unspent coin in the wallet.
func (db *TxDB) GetBalance(ctx context.Context) (*Balance, error) {
	gte, lte := db.keys.CoinRange()
	bal := &Balance{}
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(_, value []byte) (bool, error) {
		v, err := coinValue(value)
		if err != nil {
			return false, err
		}
		h, err := coinHeight(value)
		if err != nil {
			return false, err
		}
		if h < 0 {
			bal.Unconfirmed += v
		} else {
			bal.Confirmed += v
		}
		bal.Coins++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// GetAccountBalance sums the unspent coins owned by one account, resolving
// each mirror entry against the primary coin record.
func (db *TxDB) GetAccountBalance(ctx context.Context, account uint32) (*Balance, error) {
	gte, lte := db.keys.AcctCoinRange(account)
	bal := &Balance{}
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, _ []byte) (bool, error) {
		hash, vout, err := db.keys.ParseOutpoint(key, roleAcctCoin)
		if err != nil {
			return false, err
		}
		raw, err := db.getCoinBytes(ctx, hash, vout)
		if err != nil {
			return false, err
		}
		if raw == nil {
			// Mirror without a primary coin record.
			return false, ErrCorruption
		}
		v, err := coinValue(raw)
		if err != nil {
			return false, err
		}
		h, err := coinHeight(raw)
		if err != nil {
			return false, err
		}
		if h < 0 {
			bal.Unconfirmed += v
		} else {
			bal.Confirmed += v
		}
		bal.Coins++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// GetCoins lists every unspent coin in the wallet, ordered by outpoint.
func (db *TxDB) GetCoins(ctx context.Context) ([]CoinEntry, error) {
	gte, lte := db.keys.CoinRange()
	var out []CoinEntry
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, value []byte) (bool, error) {
		hash, vout, err := db.keys.ParseOutpoint(key, roleCoin)
		if err != nil {
			return false, err
		}
		coin, err := DeserializeCoin(value)
		if err != nil {
			return false, err
		}
		out = append(out, CoinEntry{
			Outpoint: wire.OutPoint{Hash: *hash, Index: vout},
			Coin:     coin,
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccountCoins lists one account's unspent coins.
func (db *TxDB) GetAccountCoins(ctx context.Context, account uint32) ([]CoinEntry, error) {
	gte, lte := db.keys.AcctCoinRange(account)
	var out []CoinEntry
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, _ []byte) (bool, error) {
		hash, vout, err := db.keys.ParseOutpoint(key, roleAcctCoin)
		if err != nil {
			return false, err
		}
		raw, err := db.getCoinBytes(ctx, hash, vout)
		if err != nil {
			return false, err
		}
		if raw == nil {
			return false, ErrCorruption
		}
		coin, err := DeserializeCoin(raw)
		if err != nil {
			return false, err
		}
		out = append(out, CoinEntry{
			Outpoint: wire.OutPoint{Hash: *hash, Index: vout},
			Coin:     coin,
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPending lists unconfirmed transactions. The pending index orders by
// hash; results are returned sorted by received time for presentation.
func (db *TxDB) GetPending(ctx context.Context) ([]*TxRecord, error) {
	gte, lte := db.keys.PendingRange()
	return db.recordsByHashIndex(ctx, gte, lte)
}

// GetAccountPending lists one account's unconfirmed transactions.
func (db *TxDB) GetAccountPending(ctx context.Context, account uint32) ([]*TxRecord, error) {
	gte, lte := db.keys.AcctPendingRange(account)
	return db.recordsByHashIndex(ctx, gte, lte)
}

func (db *TxDB) recordsByHashIndex(ctx context.Context, gte, lte []byte) ([]*TxRecord, error) {
	var out []*TxRecord
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, _ []byte) (bool, error) {
		hash, err := db.keys.ParseHashSuffix(key)
		if err != nil {
			return false, err
		}
		rec, err := db.getTxRecord(ctx, hash)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, ErrCorruption
		}
		out = append(out, rec)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ps < out[j].Ps })
	return out, nil
}

// GetHistory lists transactions by received time within [Start, End].
func (db *TxDB) GetHistory(ctx context.Context, opts QueryOptions) ([]*TxRecord, error) {
	gte, lte := db.keys.TimeRange(opts.Start, opts.End)
	return db.recordsByNumIndex(ctx, gte, lte, opts)
}

// GetAccountHistory lists one account's transactions by received time.
func (db *TxDB) GetAccountHistory(ctx context.Context, account uint32, opts QueryOptions) ([]*TxRecord, error) {
	gte, lte := db.keys.AcctTimeRange(account, opts.Start, opts.End)
	return db.recordsByNumIndex(ctx, gte, lte, opts)
}

// GetRange lists confirmed transactions with height in [Start, End].
func (db *TxDB) GetRange(ctx context.Context, opts QueryOptions) ([]*TxRecord, error) {
	gte, lte := db.keys.HeightRange(int32(opts.Start), int32(opts.End))
	return db.recordsByNumIndex(ctx, gte, lte, opts)
}

// GetAccountRange lists one account's confirmed transactions by height.
func (db *TxDB) GetAccountRange(ctx context.Context, account uint32, opts QueryOptions) ([]*TxRecord, error) {
	gte, lte := db.keys.AcctHeightRange(account, int32(opts.Start), int32(opts.End))
	return db.recordsByNumIndex(ctx, gte, lte, opts)
}

func (db *TxDB) recordsByNumIndex(ctx context.Context, gte, lte []byte, opts QueryOptions) ([]*TxRecord, error) {
	var out []*TxRecord
	iopts := kv.IterOptions{GTE: gte, LTE: lte, Limit: opts.Limit, Reverse: opts.Reverse}
	err := db.store.Iterate(ctx, iopts, func(key, _ []byte) (bool, error) {
		hash, err := db.keys.ParseHashSuffix(key)
		if err != nil {
			return false, err
		}
		rec, err := db.getTxRecord(ctx, hash)
		if err != nil {
			return false, err
		}
		if rec == nil {
			return false, ErrCorruption
		}
		out = append(out, rec)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PendingEvents returns outbox events with sequence strictly greater than
// afterSeq, up to limit.
func (db *TxDB) PendingEvents(ctx context.Context, afterSeq uint64, limit int) ([]OutboxEvent, error) {
	gte := db.keys.Event(afterSeq + 1)
	_, lte := db.keys.EventRange()
	var out []OutboxEvent
	err := db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte, Limit: limit}, func(key, value []byte) (bool, error) {
		seq, err := db.keys.ParseEventSeq(key)
		if err != nil {
			return false, err
		}
		ev, err := decodeOutboxEvent(seq, value)
		if err != nil {
			return false, err
		}
		out = append(out, *ev)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
