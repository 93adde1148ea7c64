package txdb

import (
	"errors"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

const defaultCoinCacheSize = 10_000

// cachedCoin holds the serialized coin bytes so cache readers share the
// exact representation persisted in the store.
type cachedCoin struct {
	raw []byte
}

func (c *cachedCoin) Size() (uint64, error) {
	return 1, nil
}

// coinCache is a bounded LRU over serialized coin records keyed by the
// textual outpoint form "<hash>/<vout>". It is written only from committed
// batches; reads may fill it from the store since committed state cannot
// poison it.
type coinCache struct {
	lru *lru.Cache[string, *cachedCoin]
}

func newCoinCache(capacity int) *coinCache {
	if capacity <= 0 {
		capacity = defaultCoinCacheSize
	}
	return &coinCache{
		lru: lru.NewCache[string, *cachedCoin](uint64(capacity)),
	}
}

func coinCacheKey(hash *chainhash.Hash, vout uint32) string {
	return hash.String() + "/" + strconv.FormatUint(uint64(vout), 10)
}

func (c *coinCache) get(hash *chainhash.Hash, vout uint32) ([]byte, bool) {
	v, err := c.lru.Get(coinCacheKey(hash, vout))
	if err != nil {
		if errors.Is(err, cache.ErrElementNotFound) {
			return nil, false
		}
		return nil, false
	}
	return v.raw, true
}

func (c *coinCache) put(hash *chainhash.Hash, vout uint32, raw []byte) {
	_, _ = c.lru.Put(coinCacheKey(hash, vout), &cachedCoin{raw: append([]byte(nil), raw...)})
}

func (c *coinCache) del(hash *chainhash.Hash, vout uint32) {
	c.lru.Delete(coinCacheKey(hash, vout))
}
