package txdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/events"
	"github.com/walletkit/txindex/internal/kv/pebbledb"
)

// rejectingVerifier fails verification for the listed spender hashes and
// passes everything else.
type rejectingVerifier struct {
	reject map[chainhash.Hash]bool
}

func (v *rejectingVerifier) VerifyInput(tx *wire.MsgTx, _ int, _ []byte, _ btcutil.Amount) error {
	if v.reject[tx.TxHash()] {
		return errors.New("script did not verify")
	}
	return nil
}

func newVerifyingDB(t *testing.T, v Verifier) *TxDB {
	t.Helper()

	st, err := pebbledb.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	db, err := New(st, Options{
		WalletID: "w1",
		Params:   &chaincfg.RegressionNetParams,
		Resolver: testResolver(),
		Verifier: v,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return db
}

func TestAddRejectedWhenInputVerificationFails(t *testing.T) {
	v := &rejectingVerifier{reject: map[chainhash.Hash]bool{}}
	db := newVerifyingDB(t, v)
	ctx := context.Background()

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 90)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xf0)
	mustAdd(t, db, cbRec, StatusAdded)

	sp := spendOf(t, alicePub, wire.OutPoint{Hash: cbRec.Hash, Index: 0},
		txOut{49_0000_0000, aliceHash})
	v.reject[sp.TxHash()] = true
	spRec := NewTxRecord(sp, time.Unix(2000, 0))

	status, err := db.Add(ctx, spRec, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if status != StatusRejected {
		t.Fatalf("status=%v want %v", status, StatusRejected)
	}

	// The rejected spend left nothing behind: coin unspent, no record.
	coin, err := db.GetCoin(ctx, &cbRec.Hash, 0)
	if err != nil {
		t.Fatalf("GetCoin: %v", err)
	}
	if coin == nil || coin.Value != 50_0000_0000 {
		t.Fatalf("coin touched by rejected spend: %+v", coin)
	}
	if rec, _ := db.GetTx(ctx, &spRec.Hash); rec != nil {
		t.Fatalf("rejected spend was recorded")
	}
}

// When the first orphan waiter fails script verification, a later waiter
// that verifies takes the coin and the failing one is removed as a conflict.
func TestOrphanResolutionSkipsFailingWaiter(t *testing.T) {
	v := &rejectingVerifier{reject: map[chainhash.Hash]bool{}}
	db := newVerifyingDB(t, v)
	ctx := context.Background()

	funding := coinbaseTo(t, 50_0000_0000, aliceHash, 91)
	fundingHash := funding.TxHash()
	prev := wire.OutPoint{Hash: fundingHash, Index: 0}

	bad := NewTxRecord(spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), time.Unix(2000, 0))
	v.reject[bad.Hash] = true
	mustAdd(t, db, bad, StatusAdded)

	good := NewTxRecord(spendOf(t, alicePub, prev, txOut{48_0000_0000, aliceHash}), time.Unix(3000, 0))
	mustAdd(t, db, good, StatusAdded)

	var got []Event
	db.Subscribe(func(ev Event) { got = append(got, ev) })

	mustAdd(t, db, confirmedRec(t, funding, 1000, 1, 0xf1), StatusAdded)

	sp, err := db.GetSpender(ctx, &fundingHash, 0)
	if err != nil {
		t.Fatalf("GetSpender: %v", err)
	}
	if sp == nil || sp.Hash != good.Hash {
		t.Fatalf("unexpected winner: %+v", sp)
	}
	if rec, _ := db.GetTx(ctx, &bad.Hash); rec != nil {
		t.Fatalf("failing waiter survived resolution")
	}
	if rec, _ := db.GetTx(ctx, &good.Hash); rec == nil {
		t.Fatalf("verified waiter disappeared")
	}

	var conflict *Event
	for i := range got {
		if got[i].Kind == events.KindTxConflict {
			conflict = &got[i]
		}
	}
	if conflict == nil || conflict.Record.Hash != bad.Hash {
		t.Fatalf("no conflict event for the failing waiter: %+v", got)
	}
	if conflict.ReplacedBy == nil || *conflict.ReplacedBy != good.Hash {
		t.Fatalf("conflict names wrong replacement: %+v", conflict)
	}
}

// With every waiter failing verification the coin stays with the wallet and
// the waiters are removed outright.
func TestOrphanResolutionAllWaitersFailKeepsCoin(t *testing.T) {
	v := &rejectingVerifier{reject: map[chainhash.Hash]bool{}}
	db := newVerifyingDB(t, v)
	ctx := context.Background()

	funding := coinbaseTo(t, 50_0000_0000, aliceHash, 92)
	fundingHash := funding.TxHash()

	waiter := NewTxRecord(spendOf(t, alicePub, wire.OutPoint{Hash: fundingHash, Index: 0},
		txOut{49_0000_0000, aliceHash}), time.Unix(2000, 0))
	v.reject[waiter.Hash] = true
	mustAdd(t, db, waiter, StatusAdded)

	var got []Event
	db.Subscribe(func(ev Event) { got = append(got, ev) })

	mustAdd(t, db, confirmedRec(t, funding, 1000, 1, 0xf2), StatusAdded)

	coin, err := db.GetCoin(ctx, &fundingHash, 0)
	if err != nil {
		t.Fatalf("GetCoin: %v", err)
	}
	if coin == nil || coin.Value != 50_0000_0000 || coin.Height != 1 {
		t.Fatalf("funding coin not kept: %+v", coin)
	}
	if sp, _ := db.GetSpender(ctx, &fundingHash, 0); sp != nil {
		t.Fatalf("failing waiter holds the coin: %+v", sp)
	}
	if rec, _ := db.GetTx(ctx, &waiter.Hash); rec != nil {
		t.Fatalf("failing waiter survived resolution")
	}
	waiters, err := db.readOrphans(ctx, &fundingHash, 0)
	if err != nil {
		t.Fatalf("readOrphans: %v", err)
	}
	if len(waiters) != 0 {
		t.Fatalf("waiter list not cleared: %+v", waiters)
	}

	// No conflict event: the waiter was removed without a replacement.
	for _, ev := range got {
		if ev.Kind == events.KindTxConflict {
			t.Fatalf("unexpected conflict event: %+v", ev)
		}
	}
	bal := balance(t, db)
	if bal.Confirmed != 50_0000_0000 || bal.Coins != 1 {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestScriptVerifierExecutesScripts(t *testing.T) {
	v := NewScriptVerifier()

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: *testHash(9), Index: 0},
	})
	spend.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_TRUE}))

	// An anyone-can-spend output verifies with an empty signature script.
	if err := v.VerifyInput(spend, 0, []byte{txscript.OP_TRUE}, 1000); err != nil {
		t.Fatalf("VerifyInput anyone-can-spend: %v", err)
	}

	// A script leaving false on the stack fails.
	if err := v.VerifyInput(spend, 0, []byte{txscript.OP_FALSE}, 1000); err == nil {
		t.Fatalf("false script verified")
	}
}
