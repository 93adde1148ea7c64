package broker

import (
	"encoding/json"
	"fmt"
)

// Version is the envelope schema version stamped on every message.
const Version = "v1"

// Envelope is the wire form of one wallet index event. Seq is the event's
// position in its wallet's outbox, so consumers can de-duplicate the
// at-least-once stream per wallet.
type Envelope struct {
	Version string          `json:"version"`
	Kind    string          `json:"kind"`
	Wallet  string          `json:"wallet_id"`
	TxID    string          `json:"txid,omitempty"`
	Seq     uint64          `json:"seq"`
	Height  int64           `json:"height"`
	Payload json.RawMessage `json:"payload"`
}

// Key is the partition key: the transaction id, so every event for one
// transaction lands on the same partition in outbox order. Events that carry
// no transaction fall back to the wallet id.
func (e *Envelope) Key() string {
	if e.TxID != "" {
		return e.TxID
	}
	return e.Wallet
}

func (e *Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("broker: encode envelope: %w", err)
	}
	return b, nil
}
