package txdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/walletkit/txindex/internal/events"
	"github.com/walletkit/txindex/internal/kv"
)

const (
	metaEventSeq      = "eseq"
	metaPublishCursor = "publish_cursor"
)

type sessionOp struct {
	key    []byte
	value  []byte
	delete bool
}

type cacheOp struct {
	hash   chainhash.Hash
	vout   uint32
	raw    []byte
	delete bool
}

type pendingEvent struct {
	kind       string
	rec        *TxRecord
	accounts   []uint32
	replacedBy *chainhash.Hash
}

// session stages every put and delete of one logical mutation. Exactly one
// session may be open per index; opening a second is a programming error.
// Reads through the session observe staged writes before the store.
//
// Coin-cache updates and event emission are deferred until the batch has
// durably committed, so dropped batches leak nothing.
type session struct {
	db  *TxDB
	ops []sessionOp
	idx map[string]int

	cacheOps []cacheOp
	events   []pendingEvent

	eventSeq  uint64
	seqLoaded bool
}

func (db *TxDB) startSession() *session {
	if db.cur != nil {
		panic("txdb: session already open")
	}
	s := &session{
		db:  db,
		idx: make(map[string]int),
	}
	db.cur = s
	return s
}

func (s *session) put(key, value []byte) {
	s.idx[string(key)] = len(s.ops)
	s.ops = append(s.ops, sessionOp{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
}

func (s *session) del(key []byte) {
	s.idx[string(key)] = len(s.ops)
	s.ops = append(s.ops, sessionOp{
		key:    append([]byte(nil), key...),
		delete: true,
	})
}

// get reads through the staged overlay, then the store.
func (s *session) get(ctx context.Context, key []byte) ([]byte, error) {
	if i, ok := s.idx[string(key)]; ok {
		op := s.ops[i]
		if op.delete {
			return nil, kv.ErrNotFound
		}
		return op.value, nil
	}
	return s.db.store.Get(ctx, key)
}

func (s *session) has(ctx context.Context, key []byte) (bool, error) {
	_, err := s.get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *session) cachePut(hash *chainhash.Hash, vout uint32, raw []byte) {
	s.cacheOps = append(s.cacheOps, cacheOp{hash: *hash, vout: vout, raw: append([]byte(nil), raw...)})
}

func (s *session) cacheDel(hash *chainhash.Hash, vout uint32) {
	s.cacheOps = append(s.cacheOps, cacheOp{hash: *hash, vout: vout, delete: true})
}

// OutboxEvent is one durable event awaiting broker publication.
type OutboxEvent struct {
	Seq     uint64          `json:"-"`
	Kind    string          `json:"kind"`
	Height  int64           `json:"height"`
	Payload json.RawMessage `json:"payload"`
}

func decodeOutboxEvent(seq uint64, value []byte) (*OutboxEvent, error) {
	var ev OutboxEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, fmt.Errorf("txdb: decode outbox event %d: %w", seq, err)
	}
	ev.Seq = seq
	return &ev, nil
}

// emit stages an event: an outbox record in this batch plus an in-process
// notification delivered after commit.
func (s *session) emit(ctx context.Context, kind string, rec *TxRecord, replacedBy *chainhash.Hash) error {
	payload := events.TxPayload{
		TxID:     rec.Hash.String(),
		Height:   int64(rec.Height),
		Ts:       rec.Ts,
		Ps:       rec.Ps,
		Accounts: rec.Accounts,
	}
	if rec.Block != nil {
		payload.BlockHash = rec.Block.String()
		payload.BlockIndex = int64(rec.BlockIndex)
	}

	var raw []byte
	var err error
	if kind == events.KindTxConflict && replacedBy != nil {
		raw, err = json.Marshal(events.TxConflictPayload{
			TxPayload:  payload,
			ReplacedBy: replacedBy.String(),
		})
	} else {
		raw, err = json.Marshal(payload)
	}
	if err != nil {
		return fmt.Errorf("txdb: marshal event payload: %w", err)
	}

	value, err := json.Marshal(OutboxEvent{
		Kind:    kind,
		Height:  int64(rec.Height),
		Payload: raw,
	})
	if err != nil {
		return fmt.Errorf("txdb: marshal outbox event: %w", err)
	}

	seq, err := s.nextEventSeq(ctx)
	if err != nil {
		return err
	}
	s.put(s.db.keys.Event(seq), value)
	s.put(s.db.keys.Meta(metaEventSeq), []byte(strconv.FormatUint(seq+1, 10)))

	s.events = append(s.events, pendingEvent{
		kind:       kind,
		rec:        rec,
		accounts:   rec.Accounts,
		replacedBy: replacedBy,
	})
	return nil
}

// Sequences start at 1 so a zero publish cursor always means "publish from
// the beginning".
func (s *session) nextEventSeq(ctx context.Context) (uint64, error) {
	if !s.seqLoaded {
		s.eventSeq = 1
		v, err := s.get(ctx, s.db.keys.Meta(metaEventSeq))
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return 0, err
		}
		if err == nil {
			n, perr := strconv.ParseUint(string(v), 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("txdb: bad event seq %q: %w", v, ErrCorruption)
			}
			s.eventSeq = n
		}
		s.seqLoaded = true
	}
	seq := s.eventSeq
	s.eventSeq++
	return seq, nil
}

// commit atomically applies the staged batch. On success the coin cache is
// updated and events are delivered in emit order. On failure the session is
// closed and nothing is visible.
func (s *session) commit(ctx context.Context) error {
	if s.db.cur != s {
		panic("txdb: commit of a closed session")
	}
	s.db.cur = nil

	b := s.db.store.NewBatch()
	defer b.Close()
	for i, op := range s.ops {
		if s.idx[string(op.key)] != i {
			// Superseded by a later op on the same key.
			continue
		}
		if op.delete {
			b.Delete(op.key)
		} else {
			b.Put(op.key, op.value)
		}
	}
	if err := b.Commit(ctx); err != nil {
		return fmt.Errorf("txdb: commit: %w", err)
	}

	for _, op := range s.cacheOps {
		if op.delete {
			s.db.cache.del(&op.hash, op.vout)
		} else {
			s.db.cache.put(&op.hash, op.vout, op.raw)
		}
	}

	for _, ev := range s.events {
		s.db.notify(Event{
			Kind:       ev.kind,
			Record:     ev.rec,
			Accounts:   ev.accounts,
			ReplacedBy: ev.replacedBy,
		})
	}
	return nil
}

// drop discards the session without writing anything.
func (s *session) drop() {
	if s.db.cur == s {
		s.db.cur = nil
	}
}

// PublishCursor returns the sequence of the last outbox event handed to the
// broker, zero when nothing has been published.
func (db *TxDB) PublishCursor(ctx context.Context) (uint64, error) {
	v, err := db.store.Get(ctx, db.keys.Meta(metaPublishCursor))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("txdb: bad publish cursor %q: %w", v, ErrCorruption)
	}
	return n, nil
}

// SetPublishCursor durably advances the publish cursor. Runs outside the
// index lock; the publisher is the only writer.
func (db *TxDB) SetPublishCursor(ctx context.Context, seq uint64) error {
	b := db.store.NewBatch()
	defer b.Close()
	b.Put(db.keys.Meta(metaPublishCursor), []byte(strconv.FormatUint(seq, 10)))
	return b.Commit(ctx)
}
