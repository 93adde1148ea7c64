package txdb

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/walletkit/txindex/internal/events"
)

func TestShouldReplace(t *testing.T) {
	conf := func(ts int64) *TxRecord { return &TxRecord{Height: 5, Ts: ts} }
	pend := func(ps int64) *TxRecord { return &TxRecord{Height: -1, Ps: ps} }

	tests := []struct {
		name          string
		existing, ref *TxRecord
		want          bool
	}{
		{"confirmed beats pending", conf(100), pend(999), false},
		{"pending loses to confirmed", pend(100), conf(999), true},
		{"both confirmed, earlier block time survives", conf(100), conf(200), false},
		{"both confirmed, earlier ref replaces", conf(200), conf(100), true},
		{"both pending, newer received replaces", pend(100), pend(200), true},
		{"both pending, older ref loses", pend(200), pend(100), false},
		{"both pending, equal ps keeps existing", pend(100), pend(100), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldReplace(tc.existing, tc.ref); got != tc.want {
				t.Fatalf("shouldReplace=%v want %v", got, tc.want)
			}
		})
	}
}

func TestDoubleSpendNewerPendingReplacesOlder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var got []Event
	db.Subscribe(func(ev Event) { got = append(got, ev) })

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 20)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xb0)
	mustAdd(t, db, cbRec, StatusAdded)

	prev := wire.OutPoint{Hash: cbRec.Hash, Index: 0}
	first := NewTxRecord(spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), time.Unix(2000, 0))
	mustAdd(t, db, first, StatusAdded)

	second := NewTxRecord(spendOf(t, alicePub, prev, txOut{48_0000_0000, aliceHash}), time.Unix(3000, 0))
	mustAdd(t, db, second, StatusAdded)

	if rec, err := db.GetTx(ctx, &first.Hash); err != nil || rec != nil {
		t.Fatalf("losing double spend still present: %+v %v", rec, err)
	}
	spender, err := db.GetSpender(ctx, &cbRec.Hash, 0)
	if err != nil {
		t.Fatalf("GetSpender: %v", err)
	}
	if spender == nil || spender.Hash != second.Hash {
		t.Fatalf("unexpected winning spender: %+v", spender)
	}

	var conflict *Event
	for i := range got {
		if got[i].Kind == events.KindTxConflict {
			conflict = &got[i]
		}
	}
	if conflict == nil {
		t.Fatalf("no conflict event emitted")
	}
	if conflict.Record.Hash != first.Hash {
		t.Fatalf("conflict names %v, want loser %v", conflict.Record.Hash, first.Hash)
	}
	if conflict.ReplacedBy == nil || *conflict.ReplacedBy != second.Hash {
		t.Fatalf("conflict replaced_by=%v want %v", conflict.ReplacedBy, second.Hash)
	}
}

func TestDoubleSpendOlderPendingIsRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 21)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xb1)
	mustAdd(t, db, cbRec, StatusAdded)

	prev := wire.OutPoint{Hash: cbRec.Hash, Index: 0}
	first := NewTxRecord(spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), time.Unix(3000, 0))
	mustAdd(t, db, first, StatusAdded)

	older := NewTxRecord(spendOf(t, alicePub, prev, txOut{48_0000_0000, aliceHash}), time.Unix(2000, 0))
	mustAdd(t, db, older, StatusRejected)

	if rec, err := db.GetTx(ctx, &first.Hash); err != nil || rec == nil {
		t.Fatalf("winning spend disappeared: %v", err)
	}
	if rec, err := db.GetTx(ctx, &older.Hash); err != nil || rec != nil {
		t.Fatalf("rejected spend was stored: %+v %v", rec, err)
	}
}

func TestDoubleSpendConfirmedBeatsPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 22)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xb2)
	mustAdd(t, db, cbRec, StatusAdded)

	prev := wire.OutPoint{Hash: cbRec.Hash, Index: 0}
	confirmedSpend := confirmedRec(t, spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), 2000, 2, 0xb3)
	mustAdd(t, db, confirmedSpend, StatusAdded)

	// A pending double spend never displaces a confirmed one, however new.
	pending := NewTxRecord(spendOf(t, alicePub, prev, txOut{48_0000_0000, aliceHash}), time.Unix(9000, 0))
	mustAdd(t, db, pending, StatusRejected)

	if rec, err := db.GetTx(ctx, &confirmedSpend.Hash); err != nil || rec == nil {
		t.Fatalf("confirmed spend disappeared: %v", err)
	}
}

func TestDoubleSpendConfirmedReplacesPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 23)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xb4)
	mustAdd(t, db, cbRec, StatusAdded)

	prev := wire.OutPoint{Hash: cbRec.Hash, Index: 0}
	pending := NewTxRecord(spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), time.Unix(9000, 0))
	mustAdd(t, db, pending, StatusAdded)

	confirmedSpend := confirmedRec(t, spendOf(t, alicePub, prev, txOut{48_0000_0000, aliceHash}), 2000, 2, 0xb5)
	mustAdd(t, db, confirmedSpend, StatusAdded)

	if rec, err := db.GetTx(ctx, &pending.Hash); err != nil || rec != nil {
		t.Fatalf("pending double spend survived confirmed arrival: %+v %v", rec, err)
	}
	spender, err := db.GetSpender(ctx, &cbRec.Hash, 0)
	if err != nil {
		t.Fatalf("GetSpender: %v", err)
	}
	if spender == nil || spender.Hash != confirmedSpend.Hash {
		t.Fatalf("unexpected spender: %+v", spender)
	}
}

func TestConflictRemovalIsRecursive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cb := coinbaseTo(t, 50_0000_0000, aliceHash, 24)
	cbRec := confirmedRec(t, cb, 1000, 1, 0xb6)
	mustAdd(t, db, cbRec, StatusAdded)

	prev := wire.OutPoint{Hash: cbRec.Hash, Index: 0}
	loser := NewTxRecord(spendOf(t, alicePub, prev, txOut{49_0000_0000, aliceHash}), time.Unix(2000, 0))
	mustAdd(t, db, loser, StatusAdded)

	child := NewTxRecord(spendOf(t, alicePub, wire.OutPoint{Hash: loser.Hash, Index: 0},
		txOut{48_0000_0000, aliceHash}), time.Unix(2500, 0))
	mustAdd(t, db, child, StatusAdded)

	winner := NewTxRecord(spendOf(t, alicePub, prev, txOut{47_0000_0000, aliceHash}), time.Unix(3000, 0))
	mustAdd(t, db, winner, StatusAdded)

	if rec, _ := db.GetTx(ctx, &loser.Hash); rec != nil {
		t.Fatalf("conflict loser survived")
	}
	if rec, _ := db.GetTx(ctx, &child.Hash); rec != nil {
		t.Fatalf("descendant of conflict loser survived")
	}
	bal := balance(t, db)
	if bal.Unconfirmed != 47_0000_0000 || bal.Coins != 1 {
		t.Fatalf("unexpected balance after conflict: %+v", bal)
	}
}
