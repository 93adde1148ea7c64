// Package txdb implements a per-wallet persistent transaction index over an
// ordered key-value store: every transaction touching the wallet, the coins
// it owns, and the spend links between them, with confirm/unconfirm
// transitions for chain reorganisations and recursive removal of
// double-spend conflicts.
package txdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/events"
	"github.com/walletkit/txindex/internal/kv"
)

// Options configure one wallet index.
type Options struct {
	WalletID string

	// Params select the network for address extraction.
	Params *chaincfg.Params

	// Resolver answers address-hash ownership when a mutation arrives
	// without pre-computed path info.
	Resolver PathResolver

	// Verifier, when set, script-verifies wallet inputs during insertion
	// and orphan resolution.
	Verifier Verifier

	CoinCacheSize int
}

// Event is an in-process notification delivered after the batch that caused
// it committed, in commit order.
type Event struct {
	Kind       string
	Record     *TxRecord
	Accounts   []uint32
	ReplacedBy *chainhash.Hash
}

// TxDB is one wallet's transaction index. Mutations are serialised through
// the index lock; queries read the committed store directly and never take
// it.
type TxDB struct {
	store    kv.Store
	keys     *Keys
	walletID string
	params   *chaincfg.Params
	resolver PathResolver
	verifier Verifier
	cache    *coinCache
	lock     *SerialLock

	// cur is the open batch session; guarded by lock ownership.
	cur *session

	subs []func(Event)
}

func New(store kv.Store, opts Options) (*TxDB, error) {
	if store == nil {
		return nil, errors.New("txdb: store is nil")
	}
	if opts.WalletID == "" {
		return nil, errors.New("txdb: wallet id is required")
	}
	if opts.Params == nil {
		return nil, errors.New("txdb: chain params are required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("txdb: path resolver is required")
	}
	return &TxDB{
		store:    store,
		keys:     NewKeys(opts.WalletID),
		walletID: opts.WalletID,
		params:   opts.Params,
		resolver: opts.Resolver,
		verifier: opts.Verifier,
		cache:    newCoinCache(opts.CoinCacheSize),
		lock:     NewSerialLock(),
	}, nil
}

func (db *TxDB) WalletID() string {
	return db.walletID
}

// Subscribe registers an in-process event handler. Handlers run on the
// mutating goroutine after commit; they must not call back into mutations.
func (db *TxDB) Subscribe(fn func(Event)) {
	db.subs = append(db.subs, fn)
}

func (db *TxDB) notify(ev Event) {
	for _, fn := range db.subs {
		fn(ev)
	}
}

// OnDrain returns a channel closed when no inserts are queued or running.
func (db *TxDB) OnDrain() <-chan struct{} {
	return db.lock.OnDrain()
}

// Destroy drops all queued work. In-flight operations run to completion.
func (db *TxDB) Destroy() {
	db.lock.Destroy()
}

// Point reads used by both mutations and queries.

// getTxRecord loads t/<hash>, returning nil when absent.
func (db *TxDB) getTxRecord(ctx context.Context, hash *chainhash.Hash) (*TxRecord, error) {
	v, err := db.store.Get(ctx, db.keys.Tx(hash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return DeserializeTxRecord(v)
}

// getCoinBytes loads the serialized coin for an outpoint through the cache,
// returning nil when the coin is absent or spent.
func (db *TxDB) getCoinBytes(ctx context.Context, hash *chainhash.Hash, vout uint32) ([]byte, error) {
	if raw, ok := db.cache.get(hash, vout); ok {
		return raw, nil
	}
	v, err := db.store.Get(ctx, db.keys.Coin(hash, vout))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	db.cache.put(hash, vout, v)
	return v, nil
}

// getSpend loads the spender outpoint for a prevout, nil when unspent.
func (db *TxDB) getSpend(ctx context.Context, hash *chainhash.Hash, vout uint32) (*wire.OutPoint, error) {
	v, err := db.store.Get(ctx, db.keys.Spend(hash, vout))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeOutpoint(v)
}

// accountForScript resolves the account owning the address a script pays
// to, consulting paths first and the resolver second.
func (db *TxDB) accountForScript(paths *PathInfo, pkScript []byte) (uint32, bool, error) {
	addrHash := outputAddrHash(pkScript, db.params)
	if addrHash == nil {
		return 0, false, nil
	}
	if paths != nil {
		if p, ok := paths.GetPath(addrHash); ok {
			return p.Account, true, nil
		}
	}
	p, ok, err := db.resolver.ResolvePath(addrHash)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	return p.Account, true, nil
}

// pathsForTx computes path info for rec: every output address plus every
// input whose coin is resolved (or whose script commits to a known
// address).
func (db *TxDB) pathsForTx(rec *TxRecord, coins map[int]*Coin) (*PathInfo, error) {
	paths := NewPathInfo()

	add := func(addrHash []byte) error {
		if addrHash == nil || paths.HasPath(addrHash) {
			return nil
		}
		p, ok, err := db.resolver.ResolvePath(addrHash)
		if err != nil {
			return err
		}
		if ok {
			paths.Add(addrHash, p)
		}
		return nil
	}

	for _, out := range rec.MsgTx.TxOut {
		if err := add(outputAddrHash(out.PkScript, db.params)); err != nil {
			return nil, err
		}
	}
	if !isCoinbase(&rec.MsgTx) {
		for i, in := range rec.MsgTx.TxIn {
			if coin, ok := coins[i]; ok {
				if err := add(outputAddrHash(coin.PkScript, db.params)); err != nil {
					return nil, err
				}
				continue
			}
			for _, cand := range inputAddrHashes(in) {
				if err := add(cand); err != nil {
					return nil, err
				}
			}
		}
	}
	return paths, nil
}

// Add inserts a transaction, or confirms a previously pending record of the
// same hash. The returned status is tri-state: added, exists, or rejected
// without error (verification failure, lost conflict arbitration, or no
// wallet involvement). paths may be nil, in which case ownership is
// resolved through the configured PathResolver.
func (db *TxDB) Add(ctx context.Context, rec *TxRecord, paths *PathInfo) (AddStatus, error) {
	db.lock.AddPending(&rec.Hash)
	defer db.lock.RemovePending(&rec.Hash)

	release, err := db.lock.Acquire(ctx)
	if err != nil {
		return StatusRejected, err
	}
	defer release()

	return db.add(ctx, rec, paths)
}

func (db *TxDB) add(ctx context.Context, rec *TxRecord, paths *PathInfo) (AddStatus, error) {
	existing, err := db.getTxRecord(ctx, &rec.Hash)
	if err != nil {
		return StatusRejected, err
	}
	if existing != nil {
		if err := db.confirm(ctx, existing, rec); err != nil {
			return StatusRejected, err
		}
		return StatusExists, nil
	}

	// Resolve input coins, verifying scripts and arbitrating double
	// spends before anything is staged. Conflict removals commit in
	// their own batches.
	coins := make(map[int]*Coin)
	if !isCoinbase(&rec.MsgTx) {
		for i, in := range rec.MsgTx.TxIn {
			prev := &in.PreviousOutPoint
			raw, err := db.getCoinBytes(ctx, &prev.Hash, prev.Index)
			if err != nil {
				return StatusRejected, err
			}
			if raw == nil {
				spender, err := db.getSpend(ctx, &prev.Hash, prev.Index)
				if err != nil {
					return StatusRejected, err
				}
				if spender == nil {
					// Unknown prevout: foreign or orphan,
					// decided at write time.
					continue
				}
				if spender.Hash == rec.Hash {
					continue
				}
				ok, err := db.resolveConflict(ctx, rec, spender)
				if err != nil {
					return StatusRejected, err
				}
				if !ok {
					return StatusRejected, nil
				}
				// The loser's removal resurrected the coin.
				raw, err = db.getCoinBytes(ctx, &prev.Hash, prev.Index)
				if err != nil {
					return StatusRejected, err
				}
				if raw == nil {
					return StatusRejected, fmt.Errorf(
						"txdb: coin %v:%d missing after conflict removal: %w",
						prev.Hash, prev.Index, ErrCorruption)
				}
			}
			coin, err := DeserializeCoin(raw)
			if err != nil {
				return StatusRejected, err
			}
			coins[i] = coin
			if db.verifier != nil {
				if err := db.verifier.VerifyInput(&rec.MsgTx, i, coin.PkScript, coin.Value); err != nil {
					return StatusRejected, nil
				}
			}
		}
	}

	if paths == nil {
		paths, err = db.pathsForTx(rec, coins)
		if err != nil {
			return StatusRejected, err
		}
	}
	if paths.Empty() {
		return StatusRejected, nil
	}
	rec.Accounts = paths.Accounts()

	// Plan orphan resolution for owned outputs: the first waiter whose
	// script verifies takes the coin, later waiters are conflicting
	// spends of the same outpoint and are removed now.
	type resolution struct {
		winner   *wire.OutPoint
		resolved bool
	}
	resolutions := make(map[uint32]resolution)
	for vout := range rec.MsgTx.TxOut {
		out := rec.MsgTx.TxOut[vout]
		addrHash := outputAddrHash(out.PkScript, db.params)
		if addrHash == nil || !paths.HasPath(addrHash) {
			continue
		}
		waiters, err := db.readOrphans(ctx, &rec.Hash, uint32(vout))
		if err != nil {
			return StatusRejected, err
		}
		if len(waiters) == 0 {
			continue
		}

		coin := NewCoin(rec, uint32(vout))
		var winner *wire.OutPoint
		var losers []wire.OutPoint
		for wi := range waiters {
			w := waiters[wi]
			if winner != nil {
				losers = append(losers, w)
				continue
			}
			spRec, err := db.getTxRecord(ctx, &w.Hash)
			if err != nil {
				return StatusRejected, err
			}
			if spRec == nil {
				return StatusRejected, fmt.Errorf(
					"txdb: orphan waiter %v unknown: %w", w.Hash, ErrCorruption)
			}
			if db.verifier != nil {
				if err := db.verifier.VerifyInput(&spRec.MsgTx, int(w.Index), coin.PkScript, coin.Value); err != nil {
					losers = append(losers, w)
					continue
				}
			}
			winner = &waiters[wi]
		}

		for _, l := range losers {
			loserRec, err := db.getTxRecord(ctx, &l.Hash)
			if err != nil {
				return StatusRejected, err
			}
			if loserRec == nil {
				continue // already removed as a descendant
			}
			var replacedBy *chainhash.Hash
			kind := events.KindTxRemoved
			if winner != nil {
				kind = events.KindTxConflict
				replacedBy = &winner.Hash
			}
			if err := db.removeRecursive(ctx, loserRec, kind, replacedBy); err != nil {
				return StatusRejected, err
			}
		}
		resolutions[uint32(vout)] = resolution{winner: winner, resolved: true}
	}

	// Stage the whole insertion in one session.
	s := db.startSession()
	committed := false
	defer func() {
		if !committed {
			s.drop()
		}
	}()

	raw, err := rec.Serialize()
	if err != nil {
		return StatusRejected, err
	}
	s.put(db.keys.Tx(&rec.Hash), raw)
	s.put(db.keys.Time(rec.Ps, &rec.Hash), nil)
	if rec.Confirmed() {
		hk, err := db.keys.Height(rec.Height, &rec.Hash)
		if err != nil {
			return StatusRejected, err
		}
		s.put(hk, nil)
	} else {
		s.put(db.keys.Pending(&rec.Hash), nil)
	}
	for _, acct := range rec.Accounts {
		s.put(db.keys.AcctTx(acct, &rec.Hash), nil)
		s.put(db.keys.AcctTime(acct, rec.Ps, &rec.Hash), nil)
		if rec.Confirmed() {
			hk, err := db.keys.AcctHeight(acct, rec.Height, &rec.Hash)
			if err != nil {
				return StatusRejected, err
			}
			s.put(hk, nil)
		} else {
			s.put(db.keys.AcctPending(acct, &rec.Hash), nil)
		}
	}

	// Inputs: spend resolved coins, register orphans for owned inputs
	// with unknown prevouts.
	if !isCoinbase(&rec.MsgTx) {
		for i, in := range rec.MsgTx.TxIn {
			prev := &in.PreviousOutPoint
			coin, ok := coins[i]
			if !ok {
				ours := false
				for _, cand := range inputAddrHashes(in) {
					if paths.HasPath(cand) {
						ours = true
						break
					}
				}
				if ours {
					if err := s.addOrphan(ctx, prev, &wire.OutPoint{Hash: rec.Hash, Index: uint32(i)}); err != nil {
						return StatusRejected, err
					}
				}
				continue
			}

			s.put(db.keys.Spend(&prev.Hash, prev.Index), encodeOutpoint(&rec.Hash, uint32(i)))
			s.put(db.keys.Undo(&rec.Hash, uint32(i)), coin.Serialize())
			s.del(db.keys.Coin(&prev.Hash, prev.Index))
			if acct, ok, err := db.accountForScript(paths, coin.PkScript); err != nil {
				return StatusRejected, err
			} else if ok {
				s.del(db.keys.AcctCoin(acct, &prev.Hash, prev.Index))
			}
			s.cacheDel(&prev.Hash, prev.Index)
		}
	}

	// Outputs: write owned coins, or hand them straight to a resolved
	// orphan spender.
	for vout := range rec.MsgTx.TxOut {
		out := rec.MsgTx.TxOut[vout]
		if txscript.IsUnspendable(out.PkScript) {
			continue
		}
		addrHash := outputAddrHash(out.PkScript, db.params)
		if addrHash == nil {
			continue
		}
		path, ok := paths.GetPath(addrHash)
		if !ok {
			continue
		}

		coin := NewCoin(rec, uint32(vout))
		coinBytes := coin.Serialize()

		if res, ok := resolutions[uint32(vout)]; ok && res.resolved {
			s.del(db.keys.Orphan(&rec.Hash, uint32(vout)))
			if res.winner != nil {
				s.put(db.keys.Spend(&rec.Hash, uint32(vout)), encodeOutpoint(&res.winner.Hash, res.winner.Index))
				s.put(db.keys.Undo(&res.winner.Hash, res.winner.Index), coinBytes)
				continue
			}
		}

		s.put(db.keys.Coin(&rec.Hash, uint32(vout)), coinBytes)
		s.put(db.keys.AcctCoin(path.Account, &rec.Hash, uint32(vout)), nil)
		s.cachePut(&rec.Hash, uint32(vout), coinBytes)
	}

	if err := s.emit(ctx, events.KindTx, rec, nil); err != nil {
		return StatusRejected, err
	}
	if rec.Confirmed() {
		if err := s.emit(ctx, events.KindTxConfirmed, rec, nil); err != nil {
			return StatusRejected, err
		}
	}

	if err := s.commit(ctx); err != nil {
		return StatusRejected, err
	}
	committed = true
	return StatusAdded, nil
}

// confirm transitions an existing pending record to confirmed using the
// block metadata of the incoming duplicate. Already-confirmed records and
// unconfirmed duplicates are no-ops.
func (db *TxDB) confirm(ctx context.Context, existing, incoming *TxRecord) error {
	if existing.Confirmed() || !incoming.Confirmed() {
		return nil
	}

	updated := *existing
	updated.Height = incoming.Height
	updated.BlockIndex = incoming.BlockIndex
	updated.Ts = incoming.Ts
	if incoming.Block != nil {
		b := *incoming.Block
		updated.Block = &b
	}
	// Ps and Accounts keep their original values.

	s := db.startSession()
	committed := false
	defer func() {
		if !committed {
			s.drop()
		}
	}()

	raw, err := updated.Serialize()
	if err != nil {
		return err
	}
	s.put(db.keys.Tx(&updated.Hash), raw)
	s.del(db.keys.Pending(&updated.Hash))
	hk, err := db.keys.Height(updated.Height, &updated.Hash)
	if err != nil {
		return err
	}
	s.put(hk, nil)
	for _, acct := range updated.Accounts {
		s.del(db.keys.AcctPending(acct, &updated.Hash))
		ahk, err := db.keys.AcctHeight(acct, updated.Height, &updated.Hash)
		if err != nil {
			return err
		}
		s.put(ahk, nil)
	}

	// The time index keys on the preserved ps and needs no change. Coin
	// records keep their serialized value bytes; only the height field
	// moves.
	for vout := range updated.MsgTx.TxOut {
		key := db.keys.Coin(&updated.Hash, uint32(vout))
		cur, err := s.get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return err
		}
		patched := append([]byte(nil), cur...)
		if err := patchCoinHeight(patched, updated.Height); err != nil {
			return err
		}
		s.put(key, patched)
		s.cachePut(&updated.Hash, uint32(vout), patched)
	}

	if err := s.emit(ctx, events.KindTx, &updated, nil); err != nil {
		return err
	}
	if err := s.emit(ctx, events.KindTxConfirmed, &updated, nil); err != nil {
		return err
	}

	if err := s.commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Unconfirm returns a confirmed transaction to the pending state after a
// reorganisation. Unknown or already-pending hashes are no-ops.
func (db *TxDB) Unconfirm(ctx context.Context, hash *chainhash.Hash) error {
	release, err := db.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return db.unconfirm(ctx, hash)
}

func (db *TxDB) unconfirm(ctx context.Context, hash *chainhash.Hash) error {
	rec, err := db.getTxRecord(ctx, hash)
	if err != nil {
		return err
	}
	if rec == nil || !rec.Confirmed() {
		return nil
	}

	oldHeight := rec.Height
	rec.Height = -1
	rec.Ts = 0
	rec.BlockIndex = -1
	rec.Block = nil

	s := db.startSession()
	committed := false
	defer func() {
		if !committed {
			s.drop()
		}
	}()

	raw, err := rec.Serialize()
	if err != nil {
		return err
	}
	s.put(db.keys.Tx(hash), raw)
	hk, err := db.keys.Height(oldHeight, hash)
	if err != nil {
		return err
	}
	s.del(hk)
	s.put(db.keys.Pending(hash), nil)
	for _, acct := range rec.Accounts {
		ahk, err := db.keys.AcctHeight(acct, oldHeight, hash)
		if err != nil {
			return err
		}
		s.del(ahk)
		s.put(db.keys.AcctPending(acct, hash), nil)
	}

	for vout := range rec.MsgTx.TxOut {
		key := db.keys.Coin(hash, uint32(vout))
		cur, err := s.get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return err
		}
		patched := append([]byte(nil), cur...)
		if err := patchCoinHeight(patched, -1); err != nil {
			return err
		}
		s.put(key, patched)
		s.cachePut(hash, uint32(vout), patched)
	}

	if err := s.emit(ctx, events.KindTxUnconfirmed, rec, nil); err != nil {
		return err
	}

	if err := s.commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// Remove deletes a transaction and, first, every transaction transitively
// spending its outputs. Removing an unknown hash is a no-op.
func (db *TxDB) Remove(ctx context.Context, hash *chainhash.Hash) (*TxRecord, error) {
	release, err := db.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := db.getTxRecord(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if err := db.removeRecursive(ctx, rec, events.KindTxRemoved, nil); err != nil {
		return nil, err
	}
	return rec, nil
}

// Abandon removes a transaction that is still pending; abandoning anything
// else is an error.
func (db *TxDB) Abandon(ctx context.Context, hash *chainhash.Hash) error {
	release, err := db.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	pending, err := db.store.Has(ctx, db.keys.Pending(hash))
	if err != nil {
		return err
	}
	if !pending {
		return ErrNotPending
	}
	rec, err := db.getTxRecord(ctx, hash)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("txdb: pending flag without record %v: %w", hash, ErrCorruption)
	}
	return db.removeRecursive(ctx, rec, events.KindTxRemoved, nil)
}

// Zap removes unconfirmed transactions received before now-age. A negative
// account sweeps the whole wallet. Returns the number of transactions
// removed, descendants included.
func (db *TxDB) Zap(ctx context.Context, account int64, age time.Duration) (int, error) {
	release, err := db.lock.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := time.Now().Add(-age).Unix()
	if cutoff < 0 {
		// An age reaching past the epoch would read as an unbounded
		// range; nothing can be older than that.
		cutoff = 0
	}
	var gte, lte []byte
	if account < 0 {
		gte, lte = db.keys.TimeRange(0, cutoff)
	} else {
		gte, lte = db.keys.AcctTimeRange(uint32(account), 0, cutoff)
	}

	var hashes []*chainhash.Hash
	err = db.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, _ []byte) (bool, error) {
		h, err := db.keys.ParseHashSuffix(key)
		if err != nil {
			return false, err
		}
		hashes = append(hashes, h)
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, h := range hashes {
		rec, err := db.getTxRecord(ctx, h)
		if err != nil {
			return removed, err
		}
		if rec == nil || rec.Confirmed() {
			continue
		}
		n, err := db.countDescendants(ctx, rec)
		if err != nil {
			return removed, err
		}
		if err := db.removeRecursive(ctx, rec, events.KindTxRemoved, nil); err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (db *TxDB) countDescendants(ctx context.Context, rec *TxRecord) (int, error) {
	n := 1
	for vout := range rec.MsgTx.TxOut {
		sp, err := db.getSpend(ctx, &rec.Hash, uint32(vout))
		if err != nil {
			return 0, err
		}
		if sp == nil {
			continue
		}
		spRec, err := db.getTxRecord(ctx, &sp.Hash)
		if err != nil {
			return 0, err
		}
		if spRec == nil {
			continue
		}
		c, err := db.countDescendants(ctx, spRec)
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n, nil
}

// removeRecursive removes every transaction spending rec's outputs, depth
// first, then rec itself. Each level commits in its own batch; a failure
// mid-walk leaves a partial state the next traversal converges on, since
// single removal is idempotent.
func (db *TxDB) removeRecursive(ctx context.Context, rec *TxRecord, kind string, replacedBy *chainhash.Hash) error {
	// Re-entry under the caller's lock ownership; never grants.
	release := db.lock.AcquireForce()
	defer release()

	for vout := range rec.MsgTx.TxOut {
		sp, err := db.getSpend(ctx, &rec.Hash, uint32(vout))
		if err != nil {
			return err
		}
		if sp == nil {
			continue
		}
		spRec, err := db.getTxRecord(ctx, &sp.Hash)
		if err != nil {
			return err
		}
		if spRec == nil {
			return fmt.Errorf("txdb: spend record names unknown tx %v: %w",
				sp.Hash, ErrCorruption)
		}
		if err := db.removeRecursive(ctx, spRec, events.KindTxRemoved, nil); err != nil {
			return err
		}
	}
	return db.removeSingle(ctx, rec, kind, replacedBy)
}

// removeSingle deletes one transaction's records and, through its undo
// records, resurrects the coins it had consumed.
func (db *TxDB) removeSingle(ctx context.Context, rec *TxRecord, kind string, replacedBy *chainhash.Hash) error {
	s := db.startSession()
	committed := false
	defer func() {
		if !committed {
			s.drop()
		}
	}()

	hash := &rec.Hash
	s.del(db.keys.Tx(hash))
	s.del(db.keys.Time(rec.Ps, hash))
	if rec.Confirmed() {
		hk, err := db.keys.Height(rec.Height, hash)
		if err != nil {
			return err
		}
		s.del(hk)
	} else {
		s.del(db.keys.Pending(hash))
	}
	for _, acct := range rec.Accounts {
		s.del(db.keys.AcctTx(acct, hash))
		s.del(db.keys.AcctTime(acct, rec.Ps, hash))
		if rec.Confirmed() {
			ahk, err := db.keys.AcctHeight(acct, rec.Height, hash)
			if err != nil {
				return err
			}
			s.del(ahk)
		} else {
			s.del(db.keys.AcctPending(acct, hash))
		}
	}

	// Inputs: restore consumed coins from undo records; strip orphan
	// registrations for inputs that never resolved.
	if !isCoinbase(&rec.MsgTx) {
		for i, in := range rec.MsgTx.TxIn {
			prev := &in.PreviousOutPoint
			undoKey := db.keys.Undo(hash, uint32(i))
			undo, err := s.get(ctx, undoKey)
			if err != nil {
				if !errors.Is(err, kv.ErrNotFound) {
					return err
				}
				if err := s.removeOrphanWaiter(ctx, prev, hash); err != nil {
					return err
				}
				continue
			}

			coin, err := DeserializeCoin(undo)
			if err != nil {
				return err
			}
			s.put(db.keys.Coin(&prev.Hash, prev.Index), undo)
			if acct, ok, err := db.accountForScript(nil, coin.PkScript); err != nil {
				return err
			} else if ok {
				s.put(db.keys.AcctCoin(acct, &prev.Hash, prev.Index), nil)
			}
			s.del(db.keys.Spend(&prev.Hash, prev.Index))
			s.del(db.keys.Orphan(&prev.Hash, prev.Index))
			s.del(undoKey)
			s.cachePut(&prev.Hash, prev.Index, undo)
		}
	}

	// Outputs: drop this transaction's own coins and mirrors.
	for vout := range rec.MsgTx.TxOut {
		s.del(db.keys.Coin(hash, uint32(vout)))
		for _, acct := range rec.Accounts {
			s.del(db.keys.AcctCoin(acct, hash, uint32(vout)))
		}
		s.cacheDel(hash, uint32(vout))
	}

	if err := s.emit(ctx, kind, rec, replacedBy); err != nil {
		return err
	}

	if err := s.commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
