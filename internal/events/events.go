// Package events defines the event kinds and payloads the index emits, both
// to in-process subscribers and through the durable outbox to the broker.
package events

const (
	KindTx            = "Tx"
	KindTxConfirmed   = "TxConfirmed"
	KindTxUnconfirmed = "TxUnconfirmed"
	KindTxConflict    = "TxConflict"
	KindTxRemoved     = "TxRemoved"
)

// TxPayload describes the transaction an event concerns. Height is -1 for
// unconfirmed records; Ts is 0 until confirmed.
type TxPayload struct {
	TxID       string   `json:"txid"`
	Height     int64    `json:"height"`
	BlockHash  string   `json:"block_hash,omitempty"`
	BlockIndex int64    `json:"block_index,omitempty"`
	Ts         int64    `json:"ts"`
	Ps         int64    `json:"ps"`
	Accounts   []uint32 `json:"accounts"`
}

type TxConflictPayload struct {
	TxPayload
	// ReplacedBy is the transaction that won arbitration.
	ReplacedBy string `json:"replaced_by"`
}
