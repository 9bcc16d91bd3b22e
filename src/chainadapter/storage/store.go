// Package storage persists submitted-transaction state keyed by the
// bridge's own idempotency key (e.g. "lock:<quantum hash>" or
// "unlock:<quantum hash>"), not by the chain's transaction hash: a lock
// or unlock can be retried under the same key before a TxHash even
// exists, so the key and TxHash are deliberately distinct fields.
package storage

import (
	"time"
)

// TxStatus represents the status of a transaction
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFinalized TxStatus = "finalized"
	TxStatusFailed    TxStatus = "failed"
)

// TxState represents the persistent state of a lock/unlock submission,
// recorded under its idempotency key rather than its TxHash so a
// duplicate submission can be recognized before broadcast completes.
type TxState struct {
	TxHash     string    // Broadcast transaction hash, once known
	RetryCount int       // Number of broadcast attempts
	FirstSeen  time.Time // First time this idempotency key was seen
	LastRetry  time.Time // Last broadcast attempt
	Status     TxStatus  // Current status
	ChainID    string    // Chain identifier
	RawTx      []byte    // Raw transaction bytes (for retry)
}

// TransactionStateStore provides persistent storage for transaction state,
// keyed by the caller's idempotency key (see package doc), not by TxHash.
// Implementations MUST be thread-safe.
type TransactionStateStore interface {
	// Get retrieves transaction state by idempotency key.
	//
	// Returns:
	// - TxState if found
	// - nil if not found
	// - Error only on storage failures
	Get(key string) (*TxState, error)

	// Set stores or updates transaction state under key.
	//
	// Contract:
	// - MUST be idempotent (can call multiple times safely)
	// - MUST atomically update RetryCount
	Set(key string, state *TxState) error

	// Delete removes transaction state for key.
	//
	// Contract:
	// - MUST be idempotent (deleting non-existent key returns nil)
	Delete(key string) error

	// List returns all transaction states.
	//
	// Contract:
	// - SHOULD return results sorted by FirstSeen (newest first)
	// - MAY apply pagination in future versions
	List() ([]*TxState, error)

	// ListByStatus returns transactions with a specific status.
	ListByStatus(status TxStatus) ([]*TxState, error)

	// Clean removes transaction states older than the specified duration.
	//
	// Parameters:
	// - olderThan: Remove transactions with FirstSeen older than this duration
	//
	// Returns:
	// - Number of entries removed
	// - Error on storage failures
	Clean(olderThan time.Duration) (int, error)
}
