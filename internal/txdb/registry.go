package txdb

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/walletkit/txindex/internal/kv"
)

// Registry manages the set of wallet indexes sharing one physical store.
// Wallet metadata lives at w/<id>; the address book at
// a/<id>/<addrhash-hex> maps owned address hashes to accounts and backs
// each index's PathResolver.
type Registry struct {
	store    kv.Store
	params   *chaincfg.Params
	verifier Verifier
	cacheSz  int

	mu      sync.Mutex
	indexes map[string]*TxDB
}

// WalletInfo is the stored metadata for one registered wallet.
type WalletInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type RegistryOptions struct {
	Params        *chaincfg.Params
	Verifier      Verifier
	CoinCacheSize int
}

func NewRegistry(store kv.Store, opts RegistryOptions) (*Registry, error) {
	if store == nil {
		return nil, errors.New("txdb: store is nil")
	}
	if opts.Params == nil {
		return nil, errors.New("txdb: chain params are required")
	}
	return &Registry{
		store:    store,
		params:   opts.Params,
		verifier: opts.Verifier,
		cacheSz:  opts.CoinCacheSize,
		indexes:  make(map[string]*TxDB),
	}, nil
}

func walletKey(id string) []byte {
	return []byte("w/" + id)
}

func addrKey(walletID string, addrHash []byte) []byte {
	return []byte("a/" + walletID + "/" + hex.EncodeToString(addrHash))
}

func addrRange(walletID string) (gte, lte []byte) {
	base := "a/" + walletID + "/"
	return []byte(base), []byte(base + "~")
}

// Upsert registers a wallet, a no-op when the id already exists.
func (r *Registry) Upsert(ctx context.Context, id string) (*WalletInfo, error) {
	if id == "" {
		return nil, errors.New("txdb: wallet id is required")
	}
	v, err := r.store.Get(ctx, walletKey(id))
	if err == nil {
		info := &WalletInfo{}
		if err := json.Unmarshal(v, info); err != nil {
			return nil, fmt.Errorf("txdb: decode wallet %s: %w", id, err)
		}
		return info, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	info := &WalletInfo{ID: id, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("txdb: encode wallet %s: %w", id, err)
	}
	b := r.store.NewBatch()
	defer b.Close()
	b.Put(walletKey(id), raw)
	if err := b.Commit(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

// List returns every registered wallet, ordered by id.
func (r *Registry) List(ctx context.Context) ([]WalletInfo, error) {
	var out []WalletInfo
	err := r.store.Iterate(ctx, kv.IterOptions{GTE: []byte("w/"), LTE: []byte("w/~")}, func(_, value []byte) (bool, error) {
		var info WalletInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return false, fmt.Errorf("txdb: decode wallet record: %w", err)
		}
		out = append(out, info)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Wallet returns the index for a registered wallet, constructing and
// caching it on first use.
func (r *Registry) Wallet(ctx context.Context, id string) (*TxDB, error) {
	r.mu.Lock()
	if db, ok := r.indexes[id]; ok {
		r.mu.Unlock()
		return db, nil
	}
	r.mu.Unlock()

	if _, err := r.store.Get(ctx, walletKey(id)); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("txdb: wallet %s not registered", id)
		}
		return nil, err
	}

	db, err := New(r.store, Options{
		WalletID:      id,
		Params:        r.params,
		Resolver:      &bookResolver{reg: r, walletID: id},
		Verifier:      r.verifier,
		CoinCacheSize: r.cacheSz,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.indexes[id]; ok {
		return existing, nil
	}
	r.indexes[id] = db
	return db, nil
}

// AddAddress records ownership of an address hash by an account of the
// wallet.
func (r *Registry) AddAddress(ctx context.Context, walletID string, addrHash []byte, account uint32) error {
	if len(addrHash) == 0 {
		return errors.New("txdb: empty address hash")
	}
	if _, err := r.store.Get(ctx, walletKey(walletID)); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("txdb: wallet %s not registered", walletID)
		}
		return err
	}
	raw, err := json.Marshal(Path{Account: account})
	if err != nil {
		return err
	}
	b := r.store.NewBatch()
	defer b.Close()
	b.Put(addrKey(walletID, addrHash), raw)
	return b.Commit(ctx)
}

// Addresses returns the wallet's address book as hex hash to path.
func (r *Registry) Addresses(ctx context.Context, walletID string) (map[string]Path, error) {
	gte, lte := addrRange(walletID)
	out := make(map[string]Path)
	err := r.store.Iterate(ctx, kv.IterOptions{GTE: gte, LTE: lte}, func(key, value []byte) (bool, error) {
		s := string(key)
		hexHash := s[len(gte):]
		var p Path
		if err := json.Unmarshal(value, &p); err != nil {
			return false, fmt.Errorf("txdb: decode address record: %w", err)
		}
		out[hexHash] = p
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// bookResolver answers path lookups from the registry's address book.
type bookResolver struct {
	reg      *Registry
	walletID string
}

func (b *bookResolver) ResolvePath(addrHash []byte) (Path, bool, error) {
	v, err := b.reg.store.Get(context.Background(), addrKey(b.walletID, addrHash))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Path{}, false, nil
		}
		return Path{}, false, err
	}
	var p Path
	if err := json.Unmarshal(v, &p); err != nil {
		return Path{}, false, fmt.Errorf("txdb: decode address record: %w", err)
	}
	return p, true, nil
}
