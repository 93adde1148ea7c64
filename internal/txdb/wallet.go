package txdb

import (
	"encoding/hex"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Path locates an address inside the wallet.
type Path struct {
	Account uint32
}

// PathInfo maps, for one transaction, each involved address hash to the
// wallet account that owns it. It is computed outside the index (or by the
// configured PathResolver) and threaded through mutations.
type PathInfo struct {
	paths map[string]Path
}

func NewPathInfo() *PathInfo {
	return &PathInfo{paths: make(map[string]Path)}
}

func (p *PathInfo) Add(addrHash []byte, path Path) {
	p.paths[string(addrHash)] = path
}

func (p *PathInfo) HasPath(addrHash []byte) bool {
	_, ok := p.paths[string(addrHash)]
	return ok
}

func (p *PathInfo) GetPath(addrHash []byte) (Path, bool) {
	path, ok := p.paths[string(addrHash)]
	return path, ok
}

func (p *PathInfo) Empty() bool {
	return len(p.paths) == 0
}

// Accounts returns the sorted, de-duplicated set of accounts.
func (p *PathInfo) Accounts() []uint32 {
	seen := make(map[uint32]struct{}, len(p.paths))
	var out []uint32
	for _, path := range p.paths {
		if _, ok := seen[path.Account]; ok {
			continue
		}
		seen[path.Account] = struct{}{}
		out = append(out, path.Account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PathResolver answers which wallet account, if any, owns an address hash.
// It is the narrow seam to the wallet's address-derivation layer.
type PathResolver interface {
	ResolvePath(addrHash []byte) (Path, bool, error)
}

// MapResolver is a PathResolver over a fixed hex-addr-hash to account map.
type MapResolver map[string]uint32

func (m MapResolver) ResolvePath(addrHash []byte) (Path, bool, error) {
	acct, ok := m[hex.EncodeToString(addrHash)]
	if !ok {
		return Path{}, false, nil
	}
	return Path{Account: acct}, true, nil
}

// outputAddrHash extracts the address hash an output pays to, or nil when
// the script is non-standard or unspendable.
func outputAddrHash(pkScript []byte, params *chaincfg.Params) []byte {
	if txscript.IsUnspendable(pkScript) {
		return nil
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	return addrs[0].ScriptAddress()
}

// inputAddrHashes returns the candidate address hashes an input's script
// commits to. The prevout script is unknown here, so the candidates cover
// the standard forms: hash160 of the last signature-script push (p2pkh
// pubkey or p2sh redeem script) and, for witness spends, hash160 and sha256
// of the last witness item (p2wpkh and p2wsh).
func inputAddrHashes(in *wire.TxIn) [][]byte {
	var out [][]byte

	if len(in.SignatureScript) > 0 {
		pushes, err := txscript.PushedData(in.SignatureScript)
		if err == nil && len(pushes) > 0 {
			last := pushes[len(pushes)-1]
			if len(last) > 0 {
				out = append(out, btcutil.Hash160(last))
			}
		}
	}

	if n := len(in.Witness); n > 0 {
		last := in.Witness[n-1]
		if len(last) > 0 {
			out = append(out, btcutil.Hash160(last))
			sum := sha256Sum(last)
			out = append(out, sum)
		}
	}

	return out
}
