package txdb

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Verifier checks that input idx of tx validly spends a coin carrying the
// given script and value. A nil Verifier on the index disables script
// verification entirely.
type Verifier interface {
	VerifyInput(tx *wire.MsgTx, idx int, pkScript []byte, value btcutil.Amount) error
}

// ScriptVerifier runs the btcd script engine with standard verification
// flags.
type ScriptVerifier struct {
	sigCache *txscript.SigCache
}

func NewScriptVerifier() *ScriptVerifier {
	return &ScriptVerifier{
		sigCache: txscript.NewSigCache(1000),
	}
}

func (v *ScriptVerifier) VerifyInput(tx *wire.MsgTx, idx int, pkScript []byte, value btcutil.Amount) error {
	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, int64(value))
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	vm, err := txscript.NewEngine(pkScript, tx, idx, txscript.StandardVerifyFlags,
		v.sigCache, sigHashes, int64(value), fetcher)
	if err != nil {
		return fmt.Errorf("txdb: script engine: %w", err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("txdb: script verify input %d: %w", idx, err)
	}
	return nil
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// isCoinbase reports whether the transaction creates coins rather than
// spending them.
func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prev := &tx.TxIn[0].PreviousOutPoint
	return prev.Index == wire.MaxPrevOutIndex && prev.Hash == zeroHash
}

var zeroHash chainhash.Hash
