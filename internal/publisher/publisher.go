// Package publisher drains the per-wallet event outboxes to a message
// broker. Events are written durably in the same batch as the mutation that
// caused them; the publisher polls past each wallet's publish cursor and
// advances it only after the broker accepts the message, giving at-least-
// once delivery in outbox order.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/walletkit/txindex/internal/broker"
	"github.com/walletkit/txindex/internal/txdb"
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

type Publisher struct {
	reg *txdb.Registry
	br  broker.Broker

	pollInterval time.Duration
	batchSize    int
}

func New(reg *txdb.Registry, br broker.Broker, cfg Config) (*Publisher, error) {
	if reg == nil {
		return nil, errors.New("publisher: registry is nil")
	}
	if br == nil {
		return nil, errors.New("publisher: broker is nil")
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 5000 {
		batchSize = 1000
	}

	return &Publisher{
		reg:          reg,
		br:           br,
		pollInterval: poll,
		batchSize:    batchSize,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.publishOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	wallets, err := p.reg.List(ctx)
	if err != nil {
		return fmt.Errorf("publisher: list wallets: %w", err)
	}

	for _, w := range wallets {
		db, err := p.reg.Wallet(ctx, w.ID)
		if err != nil {
			return err
		}
		cursor, err := db.PublishCursor(ctx)
		if err != nil {
			return err
		}

		for {
			events, err := db.PendingEvents(ctx, cursor, p.batchSize)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}

			for _, e := range events {
				env := &broker.Envelope{
					Version: broker.Version,
					Kind:    e.Kind,
					Wallet:  w.ID,
					TxID:    payloadTxID(e.Payload),
					Seq:     e.Seq,
					Height:  e.Height,
					Payload: e.Payload,
				}
				if err := p.br.Publish(ctx, env); err != nil {
					return err
				}

				cursor = e.Seq
				if err := db.SetPublishCursor(ctx, cursor); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// payloadTxID extracts the transaction id from an outbox payload, empty when
// the payload has none; the envelope key then falls back to the wallet id.
func payloadTxID(payload json.RawMessage) string {
	var tx struct {
		TxID string `json:"txid"`
	}
	if err := json.Unmarshal(payload, &tx); err != nil {
		return ""
	}
	return tx.TxID
}
