// Package api defines the boundary types a future HTTP/gRPC gateway would
// marshal/unmarshal, and the Core facade the orchestrator satisfies for
// that gateway — consistent with spec §6, which scopes routing itself out.
package api

import (
	"context"
	"math/big"

	"github.com/arcbridge/bridge-core/internal/quote"
	"github.com/arcbridge/bridge-core/internal/store"
)

// TransferRequest is the external request to open a Transfer.
type TransferRequest struct {
	TransferID   string   `json:"transferId" validate:"required,uuid4"`
	Sender       string   `json:"sender" validate:"required"`
	Recipient    string   `json:"recipient" validate:"required"`
	SourceChain  string   `json:"sourceChain" validate:"required"`
	DestChain    string   `json:"destChain" validate:"required,nefield=SourceChain"`
	SourceAsset  string   `json:"sourceAsset" validate:"required"`
	DestAsset    string   `json:"destAsset" validate:"required"`
	AmountSource *big.Int `json:"amountSource" validate:"required"`
	QuoteID      string   `json:"quoteId" validate:"required"`
}

// QuoteRequest is the external request for a firm quote, mirroring
// internal/quote.Request's fields with validator tags for the boundary.
type QuoteRequest struct {
	SourceChain  string   `json:"sourceChain" validate:"required"`
	DestChain    string   `json:"destChain" validate:"required,nefield=SourceChain"`
	SourceAsset  string   `json:"sourceAsset" validate:"required"`
	DestAsset    string   `json:"destAsset" validate:"required"`
	AmountSource *big.Int `json:"amountSource" validate:"required"`
}

// Core is the facade a gateway (out of scope here) would call into. It
// exports only the three operations an external caller needs; it never
// listens on a socket itself.
type Core interface {
	RequestTransfer(ctx context.Context, req TransferRequest) (*store.Transfer, error)
	RequestQuote(ctx context.Context, req QuoteRequest) (*quote.Quote, error)
	GetTransfer(ctx context.Context, transferID string) (*store.Transfer, error)
}
