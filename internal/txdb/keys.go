package txdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// The index keyspace is flat and ASCII. Every key is the wallet prefix, a
// one-character role, then slash-delimited components. Heights, timestamps,
// output indices and account ids are zero-padded fixed-width decimal so that
// bytewise order matches numeric order.
//
//	t/<hash>                    transaction record
//	p/<hash>                    pending flag (unconfirmed)
//	h/<height>/<hash>           confirmed height index
//	m/<ps>/<hash>               received-time index
//	c/<hash>/<vout>             unspent coin
//	s/<hash>/<vout>             spend record (value: spender outpoint)
//	d/<hash>/<input>            undo record (value: prior coin)
//	o/<hash>/<vout>             orphan waiter list
//	T/<acct>/<hash>             per-account transaction marker
//	P/<acct>/<hash>             per-account pending marker
//	H/<acct>/<height>/<hash>    per-account height index
//	M/<acct>/<ps>/<hash>        per-account time index
//	C/<acct>/<hash>/<vout>      per-account coin marker
//	e/<seq>                     event outbox
//	g/<name>                    index-local metadata
const (
	roleTx          = "t/"
	rolePending     = "p/"
	roleHeight      = "h/"
	roleTime        = "m/"
	roleCoin        = "c/"
	roleSpend       = "s/"
	roleUndo        = "d/"
	roleOrphan      = "o/"
	roleAcctTx      = "T/"
	roleAcctPending = "P/"
	roleAcctHeight  = "H/"
	roleAcctTime    = "M/"
	roleAcctCoin    = "C/"
	roleEvent       = "e/"
	roleMeta        = "g/"
)

// rangeTerm is one codepoint past '/'; appended to a prefix it forms an
// inclusive upper bound covering every key under that prefix.
const rangeTerm = "~"

const numWidth = 10

// Keys builds and parses index keys for one wallet. All keys it produces are
// scoped under the wallet's outer prefix so many indexes can share one
// physical store.
type Keys struct {
	prefix string
}

func NewKeys(walletID string) *Keys {
	return &Keys{prefix: "i/" + walletID + "/"}
}

func pad10(n int64) string {
	return fmt.Sprintf("%010d", n)
}

func pad20(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func (k *Keys) key(parts ...string) []byte {
	var b strings.Builder
	b.WriteString(k.prefix)
	for _, p := range parts {
		b.WriteString(p)
	}
	return []byte(b.String())
}

func (k *Keys) Tx(hash *chainhash.Hash) []byte {
	return k.key(roleTx, hash.String())
}

func (k *Keys) Pending(hash *chainhash.Hash) []byte {
	return k.key(rolePending, hash.String())
}

// Height returns the confirmed-height index key. Unconfirmed transactions
// have no height key; callers must normalise to the pending form instead of
// passing a negative height.
func (k *Keys) Height(height int32, hash *chainhash.Hash) ([]byte, error) {
	if height < 0 {
		return nil, fmt.Errorf("txdb: negative height %d for height index", height)
	}
	return k.key(roleHeight, pad10(int64(height)), "/", hash.String()), nil
}

func (k *Keys) Time(ps int64, hash *chainhash.Hash) []byte {
	if ps < 0 {
		ps = 0
	}
	return k.key(roleTime, pad10(ps), "/", hash.String())
}

func (k *Keys) Coin(hash *chainhash.Hash, vout uint32) []byte {
	return k.key(roleCoin, hash.String(), "/", pad10(int64(vout)))
}

func (k *Keys) Spend(hash *chainhash.Hash, vout uint32) []byte {
	return k.key(roleSpend, hash.String(), "/", pad10(int64(vout)))
}

func (k *Keys) Undo(hash *chainhash.Hash, input uint32) []byte {
	return k.key(roleUndo, hash.String(), "/", pad10(int64(input)))
}

func (k *Keys) Orphan(hash *chainhash.Hash, vout uint32) []byte {
	return k.key(roleOrphan, hash.String(), "/", pad10(int64(vout)))
}

func (k *Keys) AcctTx(acct uint32, hash *chainhash.Hash) []byte {
	return k.key(roleAcctTx, pad10(int64(acct)), "/", hash.String())
}

func (k *Keys) AcctPending(acct uint32, hash *chainhash.Hash) []byte {
	return k.key(roleAcctPending, pad10(int64(acct)), "/", hash.String())
}

func (k *Keys) AcctHeight(acct uint32, height int32, hash *chainhash.Hash) ([]byte, error) {
	if height < 0 {
		return nil, fmt.Errorf("txdb: negative height %d for height index", height)
	}
	return k.key(roleAcctHeight, pad10(int64(acct)), "/", pad10(int64(height)), "/", hash.String()), nil
}

func (k *Keys) AcctTime(acct uint32, ps int64, hash *chainhash.Hash) []byte {
	if ps < 0 {
		ps = 0
	}
	return k.key(roleAcctTime, pad10(int64(acct)), "/", pad10(ps), "/", hash.String())
}

func (k *Keys) AcctCoin(acct uint32, hash *chainhash.Hash, vout uint32) []byte {
	return k.key(roleAcctCoin, pad10(int64(acct)), "/", hash.String(), "/", pad10(int64(vout)))
}

func (k *Keys) Event(seq uint64) []byte {
	return k.key(roleEvent, pad20(seq))
}

func (k *Keys) Meta(name string) []byte {
	return k.key(roleMeta, name)
}

// Range bounds. Lower bounds are the bare prefix; upper bounds carry the
// range terminator so the whole prefix family is covered inclusively.

func (k *Keys) rangeFor(parts ...string) (gte, lte []byte) {
	base := string(k.key(parts...))
	return []byte(base), []byte(base + rangeTerm)
}

func (k *Keys) CoinRange() (gte, lte []byte) {
	return k.rangeFor(roleCoin)
}

func (k *Keys) PendingRange() (gte, lte []byte) {
	return k.rangeFor(rolePending)
}

func (k *Keys) EventRange() (gte, lte []byte) {
	return k.rangeFor(roleEvent)
}

// HeightRange bounds the height index to [start, end]. A negative end means
// unbounded above.
func (k *Keys) HeightRange(start, end int32) (gte, lte []byte) {
	if start < 0 {
		start = 0
	}
	gte = k.key(roleHeight, pad10(int64(start)), "/")
	if end < 0 {
		lte = k.key(roleHeight, rangeTerm)
	} else {
		lte = k.key(roleHeight, pad10(int64(end)), "/", rangeTerm)
	}
	return gte, lte
}

// TimeRange bounds the time index to [start, end]. A negative end means
// unbounded above.
func (k *Keys) TimeRange(start, end int64) (gte, lte []byte) {
	if start < 0 {
		start = 0
	}
	gte = k.key(roleTime, pad10(start), "/")
	if end < 0 {
		lte = k.key(roleTime, rangeTerm)
	} else {
		lte = k.key(roleTime, pad10(end), "/", rangeTerm)
	}
	return gte, lte
}

func (k *Keys) AcctCoinRange(acct uint32) (gte, lte []byte) {
	return k.rangeFor(roleAcctCoin, pad10(int64(acct)), "/")
}

func (k *Keys) AcctPendingRange(acct uint32) (gte, lte []byte) {
	return k.rangeFor(roleAcctPending, pad10(int64(acct)), "/")
}

func (k *Keys) AcctHeightRange(acct uint32, start, end int32) (gte, lte []byte) {
	if start < 0 {
		start = 0
	}
	base := roleAcctHeight
	gte = k.key(base, pad10(int64(acct)), "/", pad10(int64(start)), "/")
	if end < 0 {
		lte = k.key(base, pad10(int64(acct)), "/", rangeTerm)
	} else {
		lte = k.key(base, pad10(int64(acct)), "/", pad10(int64(end)), "/", rangeTerm)
	}
	return gte, lte
}

func (k *Keys) AcctTimeRange(acct uint32, start, end int64) (gte, lte []byte) {
	if start < 0 {
		start = 0
	}
	base := roleAcctTime
	gte = k.key(base, pad10(int64(acct)), "/", pad10(start), "/")
	if end < 0 {
		lte = k.key(base, pad10(int64(acct)), "/", rangeTerm)
	} else {
		lte = k.key(base, pad10(int64(acct)), "/", pad10(end), "/", rangeTerm)
	}
	return gte, lte
}

// Parsing. Keys arriving from iteration are parsed back to their logical
// components; a malformed key signals corruption.

func (k *Keys) trim(key []byte, role string) (string, error) {
	s := string(key)
	full := k.prefix + role
	if !strings.HasPrefix(s, full) {
		return "", fmt.Errorf("txdb: key %q outside expected prefix %q", s, full)
	}
	return s[len(full):], nil
}

func parseHash(s string) (*chainhash.Hash, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("txdb: bad hash in key: %w", err)
	}
	return h, nil
}

func parseNum(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("txdb: bad number in key: %w", err)
	}
	return n, nil
}

// ParsePending extracts the hash from a pending (or per-account pending or
// tx) key whose last component is the hash.
func (k *Keys) ParseHashSuffix(key []byte) (*chainhash.Hash, error) {
	s := string(key)
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return nil, fmt.Errorf("txdb: malformed key %q", s)
	}
	return parseHash(s[i+1:])
}

// ParseIndexed extracts (number, hash) from a height or time index key.
func (k *Keys) ParseIndexed(key []byte, role string) (int64, *chainhash.Hash, error) {
	rest, err := k.trim(key, role)
	if err != nil {
		return 0, nil, err
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return 0, nil, fmt.Errorf("txdb: malformed index key %q", string(key))
	}
	n, err := parseNum(parts[len(parts)-2])
	if err != nil {
		return 0, nil, err
	}
	h, err := parseHash(parts[len(parts)-1])
	if err != nil {
		return 0, nil, err
	}
	return n, h, nil
}

// ParseOutpoint extracts (hash, vout) from a coin, spend, undo or orphan
// key, or their per-account mirrors.
func (k *Keys) ParseOutpoint(key []byte, role string) (*chainhash.Hash, uint32, error) {
	rest, err := k.trim(key, role)
	if err != nil {
		return nil, 0, err
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return nil, 0, fmt.Errorf("txdb: malformed outpoint key %q", string(key))
	}
	h, err := parseHash(parts[len(parts)-2])
	if err != nil {
		return nil, 0, err
	}
	n, err := parseNum(parts[len(parts)-1])
	if err != nil {
		return nil, 0, err
	}
	return h, uint32(n), nil
}

// ParseEventSeq extracts the sequence number from an outbox key.
func (k *Keys) ParseEventSeq(key []byte) (uint64, error) {
	rest, err := k.trim(key, roleEvent)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("txdb: bad event seq in key: %w", err)
	}
	return n, nil
}
