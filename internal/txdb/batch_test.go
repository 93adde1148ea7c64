package txdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/walletkit/txindex/internal/kv"
)

func TestSessionOverlayReads(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := db.startSession()
	defer s.drop()

	key := db.keys.Meta("overlay-test")
	if _, err := s.get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s.put(key, []byte("v1"))
	got, err := s.get(ctx, key)
	if err != nil {
		t.Fatalf("get staged put: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q want %q", got, "v1")
	}

	s.del(key)
	if _, err := s.get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("staged delete not observed: %v", err)
	}

	ok, err := s.has(ctx, key)
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if ok {
		t.Fatalf("has reported a deleted key")
	}
}

func TestSessionLastWriteWinsOnCommit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	k1 := db.keys.Meta("lww-1")
	k2 := db.keys.Meta("lww-2")

	s := db.startSession()
	s.put(k1, []byte("a"))
	s.del(k1)
	s.put(k1, []byte("b"))
	s.put(k2, []byte("x"))
	s.del(k2)
	if err := s.commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := db.store.Get(ctx, k1)
	if err != nil {
		t.Fatalf("Get k1: %v", err)
	}
	if string(got) != "b" {
		t.Fatalf("k1=%q want %q", got, "b")
	}
	if _, err := db.store.Get(ctx, k2); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("k2 survived trailing delete: %v", err)
	}
}

func TestDroppedSessionWritesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	key := db.keys.Meta("dropped")
	s := db.startSession()
	s.put(key, []byte("v"))
	s.drop()

	if _, err := db.store.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("dropped session leaked a write: %v", err)
	}

	// A fresh session can be opened after the drop.
	s = db.startSession()
	s.drop()
}

func TestOutboxSequencesAreContiguous(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// One pending insert, one confirmed insert: three events total.
	mustAdd(t, db, NewTxRecord(coinbaseTo(t, 1_0000_0000, aliceHash, 50), time.Unix(1000, 0)), StatusAdded)
	mustAdd(t, db, confirmedRec(t, coinbaseTo(t, 2_0000_0000, aliceHash, 51), 2000, 4, 0xe0), StatusAdded)

	evs, err := db.PendingEvents(ctx, 0, 100)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}

	// Cursor semantics: strictly-after, durable.
	evs, err = db.PendingEvents(ctx, 2, 100)
	if err != nil {
		t.Fatalf("PendingEvents after 2: %v", err)
	}
	if len(evs) != 1 || evs[0].Seq != 3 {
		t.Fatalf("unexpected tail: %+v", evs)
	}

	if err := db.SetPublishCursor(ctx, 3); err != nil {
		t.Fatalf("SetPublishCursor: %v", err)
	}
	cursor, err := db.PublishCursor(ctx)
	if err != nil {
		t.Fatalf("PublishCursor: %v", err)
	}
	if cursor != 3 {
		t.Fatalf("cursor=%d want 3", cursor)
	}
}
