package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get-style lookups that find nothing, mirroring
// the teacher's TransactionStateStore.Get contract ("nil if not found")
// reshaped into an explicit sentinel now that callers run under a context
// and a transactional store can't just return a bare nil pointer.
var ErrNotFound = errors.New("store: not found")

// ErrProofAlreadyProcessed is returned when InsertProcessedProofAndTransition collides
// with an existing (chain_id, foreign_tx_hash) row — spec §4.8's replay
// signal, which the caller's transition MUST fail on.
var ErrProofAlreadyProcessed = errors.New("store: proof already processed")

// ErrCheckpointRegression is returned by SaveCheckpoint when the new
// position is behind the stored one — spec §5 "the adapter MUST never
// regress a checkpoint".
var ErrCheckpointRegression = errors.New("store: checkpoint would regress")

// TransferStore persists Transfer, ProcessedProof, and AdapterCheckpoint
// records. Implementations MUST serialize writes to a single transfer
// (single-writer) and make proof insertion atomic with the transition that
// observes it.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *Transfer) error

	// UpdateTransfer persists t's full current state. Callers hold the
	// orchestrator's per-transfer keyed mutex (internal/orchestrator) so
	// this need not itself serialize concurrent writers to the same id;
	// it only needs write atomicity against concurrent readers.
	UpdateTransfer(ctx context.Context, t *Transfer) error

	GetTransfer(ctx context.Context, id string) (*Transfer, error)

	// ListNonTerminal returns every transfer not in a terminal state, for
	// Machine.Recover on process restart.
	ListNonTerminal(ctx context.Context) ([]*Transfer, error)

	// ListByQuantumKey returns every transfer referencing keyID, for the
	// key-retirement gate (quantum.KeyManager.RetireEligible).
	ListByQuantumKey(ctx context.Context, keyID string) ([]*Transfer, error)

	// InsertProcessedProofAndTransition atomically inserts a
	// ProcessedProof row and persists t in the same transaction. Returns
	// ErrProofAlreadyProcessed, leaving both unchanged, if the
	// (chain_id, foreign_tx_hash) pair already exists.
	InsertProcessedProofAndTransition(ctx context.Context, proof *ProcessedProof, t *Transfer) error

	IsProofProcessed(ctx context.Context, chainID, foreignTxHash string) (bool, error)

	GetCheckpoint(ctx context.Context, chainID string) (*AdapterCheckpoint, error)

	// SaveCheckpoint MUST reject a position that regresses the stored
	// checkpoint (spec §5: "the adapter MUST never regress a checkpoint").
	SaveCheckpoint(ctx context.Context, cp *AdapterCheckpoint) error
}

// KeyStore persists QuantumKeyRecord rows, the sealed-at-rest counterpart
// to quantum.KeyManager's in-memory snapshot.
type KeyStore interface {
	SaveKey(ctx context.Context, k *QuantumKeyRecord) error
	GetKey(ctx context.Context, id string) (*QuantumKeyRecord, error)
	ListByStatus(ctx context.Context, status QuantumKeyStatus) ([]*QuantumKeyRecord, error)
}

// Store is the full persistence surface internal/orchestrator and
// internal/quantum depend on.
type Store interface {
	TransferStore
	KeyStore
}
