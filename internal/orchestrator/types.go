package orchestrator

import (
	"math/big"
	"time"
)

// TransferRequest is the external-facing request that opens a Transfer.
// transfer_id is client-proposed so the create call is idempotent: a
// resubmission with the same id returns the existing snapshot instead of
// creating a second record (spec §6).
type TransferRequest struct {
	TransferID   string
	Sender       string
	Recipient    string
	SourceChain  string
	DestChain    string
	SourceAsset  string
	DestAsset    string
	AmountSource *big.Int
	QuoteID      string
}

// Terminal reason codes recorded on Transfer.TerminalReason.
const (
	ReasonQuoteStale    = "QuoteStale"
	ReasonRiskDenied    = "RiskDenied"
	ReasonRiskUnavailable = "RiskUnavailable"
	ReasonProofMismatch = "ProofMismatch"
	ReasonStuck         = "Stuck"
	ReasonExpired       = "Expired"
	ReasonAdapterRejected = "AdapterRejected"
)

// defaultMinProcessingHeadroom is the default minimum slack spec §4.1's Created->Quoted
// transition requires between a quote's expiry and now.
const defaultMinProcessingHeadroom = 15 * time.Second
