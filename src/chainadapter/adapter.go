// Package chainadapter defines the unified contract for bridge lock/unlock
// operations, event ingestion, and confirmation tracking across two
// dissimilar settlement networks. This file contains the core BridgeAdapter
// interface that every chain-specific implementation (evm, btc) MUST
// satisfy.
package chainadapter

import (
	"context"
	"math/big"
	"time"
)

// FinalitySemantics describes how a chain converges on an irreversible
// outcome for a submitted transaction.
type FinalitySemantics string

const (
	// FinalityProbabilistic means confirmations only asymptotically reduce
	// reorg risk (e.g. Bitcoin).
	FinalityProbabilistic FinalitySemantics = "probabilistic"

	// FinalityDeterministic means a single block/height finalizes a
	// transaction (e.g. a BFT chain).
	FinalityDeterministic FinalitySemantics = "deterministic"
)

// EventKind classifies an on-chain bridge event.
type EventKind string

const (
	EventLock   EventKind = "Lock"
	EventUnlock EventKind = "Unlock"
	EventMint   EventKind = "Mint"
	EventBurn   EventKind = "Burn"
)

// BridgeAdapter is the uniform contract every chain-specific implementation
// MUST satisfy. It is the Go-native re-expression of the ChainAdapter
// capability contract: lock/unlock submission, confirmation tracking, and a
// restartable event stream, all addressed by id rather than object
// reference so the orchestrator never holds a pointer into adapter internals.
//
// Contract guarantees:
//   - All methods are safe for concurrent use by multiple goroutines.
//   - All methods respect context cancellation.
//   - All methods return a *ChainError for classification; none panic.
//   - SubmitLock/SubmitUnlock/Observe are idempotent by their natural key.
type BridgeAdapter interface {
	// ChainID returns the unique identifier for this chain (e.g.
	// "ethereum", "bitcoin").
	ChainID() string

	// MinConfirmations returns the number of confirmations required before
	// a submission is treated as LockConfirmed/UnlockConfirmed.
	MinConfirmations() int

	// FinalitySemantics reports whether this chain finalizes
	// deterministically or only probabilistically via confirmation depth.
	FinalitySemantics() FinalitySemantics

	// FeeEstimate returns the current cost, in this chain's native smallest
	// unit, of submitting one bridge transaction.
	FeeEstimate(ctx context.Context) (*big.Int, error)

	// SubmitLock locks `amount` of `asset` from `from` on this (source)
	// chain, binding the operation to `quantumHash` and recording the
	// eventual destination so the event it emits can be matched by the
	// destination adapter.
	//
	// Contract:
	//   - MUST be called at most meaningfully once per transfer; a retried
	//     call after a crash MUST observe the prior attempt via the
	//     checkpoint/state store before submitting a second transaction.
	//   - Returns InsufficientFunds, Underpriced, TemporarilyUnavailable
	//     (retryable), or Rejected (terminal).
	SubmitLock(ctx context.Context, params LockParams) (*SubmitResult, error)

	// SubmitUnlock releases `amountDest` to `recipient` on this
	// (destination) chain, keyed by idempotencyKey = (dest_chain,
	// source_proof_id). Repeated calls with the same idempotencyKey MUST
	// return the prior result rather than submitting twice.
	//
	// Contract:
	//   - MUST consult the replay guard (ProcessedProof) before ever
	//     broadcasting, and MUST return AlreadyProcessed on a second
	//     attempt against the same sourceProofID.
	SubmitUnlock(ctx context.Context, params UnlockParams, idempotencyKey string) (*SubmitResult, error)

	// Observe reports the current status of a previously submitted
	// transaction by its provisional or confirmed id.
	Observe(ctx context.Context, txID string) (*Observation, error)

	// SubscribeEvents returns a restartable, checkpointed stream of bridge
	// events starting at (or after) fromCheckpoint. Delivery is at least
	// once and strictly ordered by block height within one chain; the
	// adapter never regresses its own persisted checkpoint.
	SubscribeEvents(ctx context.Context, fromCheckpoint uint64) (<-chan BridgeEvent, error)
}

// LockParams describes a source-chain lock submission.
type LockParams struct {
	From          string
	Amount        *big.Int
	Asset         string
	QuantumHash   [32]byte
	DestChain     string
	DestRecipient string
}

// UnlockParams describes a destination-chain unlock/release submission.
type UnlockParams struct {
	Recipient     string
	AmountDest    *big.Int
	Asset         string
	SourceProofID string
	QuantumHash   [32]byte
}

// SubmitResult is returned by SubmitLock/SubmitUnlock.
type SubmitResult struct {
	TxID        string
	SubmittedAt time.Time
}

// ObservationStatus is the coarse outcome of Observe.
type ObservationStatus string

const (
	ObservationPending   ObservationStatus = "Pending"
	ObservationConfirmed ObservationStatus = "Confirmed"
	ObservationOrphaned  ObservationStatus = "Orphaned"
	ObservationFailed    ObservationStatus = "Failed"
)

// Observation is the result of polling a chain for a transaction's status.
type Observation struct {
	Status      ObservationStatus
	BlockHeight uint64
	Payload     *EventPayload // populated once Confirmed
	FailReason  string        // populated once Failed
}

// EventPayload carries the fields every bridge event emits, including the
// quantum_hash binding identifier that the orchestrator checks for equality
// across chains.
type EventPayload struct {
	Kind        EventKind
	TxID        string
	Amount      *big.Int
	Sender      string
	Recipient   string
	QuantumHash [32]byte
	BlockHeight uint64
	BlockTime   time.Time
}

// BridgeEvent is one item delivered by SubscribeEvents.
type BridgeEvent struct {
	EventPayload
	Checkpoint uint64 // checkpoint value to persist once this event is durably handled
}
