// Package store persists Transfer, ProcessedProof, AdapterCheckpoint, and
// QuantumKey records. It generalizes the teacher's single-table
// TransactionStateStore (src/chainadapter/storage) into a multi-table
// transactional store, since the orchestrator's atomicity requirements
// (insert proof + transition transfer in one transaction) exceed what a
// key-value TxState row can express.
package store

import (
	"math/big"
	"time"
)

// TransferState is the orchestrator's state machine position for a Transfer.
type TransferState string

const (
	TransferCreated            TransferState = "created"
	TransferQuoted             TransferState = "quoted"
	TransferRiskCheck          TransferState = "risk_check"
	TransferAdmitted           TransferState = "admitted"
	TransferLockSubmitting     TransferState = "lock_submitting"
	TransferLockPending        TransferState = "lock_pending"
	TransferLockConfirmed      TransferState = "lock_confirmed"
	TransferUnlockSubmitting   TransferState = "unlock_submitting"
	TransferUnlockPending      TransferState = "unlock_pending"
	TransferUnlockConfirmed    TransferState = "unlock_confirmed"
	TransferCompleted          TransferState = "completed"
	TransferCompensatingRefund TransferState = "compensating_refund"
	TransferRefunded           TransferState = "refunded"
	TransferFailed             TransferState = "failed"
	TransferExpired            TransferState = "expired"
)

// terminalStates are states from which no further transition is permitted.
var terminalStates = map[TransferState]bool{
	TransferCompleted: true,
	TransferRefunded:  true,
	TransferFailed:    true,
	TransferExpired:   true,
}

// IsTerminal reports whether s has no outgoing transitions.
func (s TransferState) IsTerminal() bool { return terminalStates[s] }

// Transfer is the persistent record of one cross-chain swap, per spec §3.
type Transfer struct {
	ID               string `json:"id"`
	SourceChain      string `json:"sourceChain"`
	DestChain        string `json:"destChain"`
	SourceAsset      string `json:"sourceAsset"`
	DestAsset        string `json:"destAsset"`
	AmountSource     *big.Int `json:"amountSource"`
	AmountDest       *big.Int `json:"amountDest"`
	Sender           string `json:"sender"`
	Recipient        string `json:"recipient"`
	Status           TransferState `json:"status"`
	QuoteID          string `json:"quoteId"`
	QuantumHash      string `json:"quantumHash,omitempty"`
	QuantumKeyID     string `json:"quantumKeyId,omitempty"`
	SourceProofID    string `json:"sourceProofId,omitempty"`
	DestProofID      string `json:"destProofId,omitempty"`
	Degraded         bool   `json:"degraded"`
	TerminalReason   string `json:"terminalReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ProcessedProof records a foreign-chain transaction already consumed by an
// unlock/mint, enforcing replay exclusivity per chain. (chain_id,
// foreign_tx_hash) is unique and rows are never deleted while a transfer
// references them.
type ProcessedProof struct {
	ChainID       string    `json:"chainId"`
	ForeignTxHash string    `json:"foreignTxHash"`
	TransferID    string    `json:"transferId"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
}

// AdapterCheckpoint is a chain adapter's event-subscription watermark
// (block height or ledger index), so a restart resumes instead of
// rescanning or regressing.
type AdapterCheckpoint struct {
	ChainID   string    `json:"chainId"`
	Position  uint64    `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QuantumKeyStatus mirrors quantum.KeyStatus for the persisted record.
type QuantumKeyStatus string

const (
	QuantumKeyActive   QuantumKeyStatus = "active"
	QuantumKeyRetiring QuantumKeyStatus = "retiring"
	QuantumKeyRetired  QuantumKeyStatus = "retired"
)

// QuantumKeyRecord is the at-rest form of a quantum.QuantumKey: the
// decapsulation key is sealed before it ever reaches this package.
type QuantumKeyRecord struct {
	ID               string           `json:"id"`
	Algorithm        string           `json:"algorithm"`
	PublicKey        []byte           `json:"publicKey"`
	SealedPrivateKey []byte           `json:"sealedPrivateKey"`
	CreatedAt        time.Time        `json:"createdAt"`
	NextRotationDue  time.Time        `json:"nextRotationDue"`
	Status           QuantumKeyStatus `json:"status"`
}
