package txdb

import "errors"

var (
	// ErrCorruption reports an expected record missing or undecodable:
	// either a bug or external tampering with the backing store.
	ErrCorruption = errors.New("txdb: inconsistent index state")

	// ErrNotPending is returned by Abandon when the target transaction
	// is not in the pending set.
	ErrNotPending = errors.New("txdb: transaction is not pending")

	// ErrDestroyed is returned to queued operations when the index is
	// torn down.
	ErrDestroyed = errors.New("txdb: index destroyed")
)

// AddStatus is the tri-state outcome of Add.
type AddStatus int

const (
	// StatusRejected means the transaction was not inserted: it failed
	// verification, lost conflict arbitration, or touches no wallet
	// address. Not an error.
	StatusRejected AddStatus = iota

	// StatusAdded means the transaction was inserted.
	StatusAdded

	// StatusExists means a record for the hash was already present. The
	// call may still have confirmed a previously pending record.
	StatusExists
)

func (s AddStatus) String() string {
	switch s {
	case StatusRejected:
		return "rejected"
	case StatusAdded:
		return "added"
	case StatusExists:
		return "exists"
	default:
		return "unknown"
	}
}
