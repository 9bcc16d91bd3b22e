package btc

import (
	"context"
	"math/big"
)

// estimatedTxVBytes assumes one P2WPKH input and two outputs (recipient +
// OP_RETURN memo), the common shape of a bridge unlock transaction.
const estimatedTxVBytes = 110

type feeEstimator struct {
	rpc *rpcHelper
}

func newFeeEstimator(rpc *rpcHelper) *feeEstimator {
	return &feeEstimator{rpc: rpc}
}

// totalFee returns the estimated cost, in satoshis, of broadcasting one
// bridge transaction at the default confirmation target.
func (f *feeEstimator) totalFee(ctx context.Context) (*big.Int, error) {
	satPerByte, err := f.rpc.EstimateSmartFee(ctx, 3)
	if err != nil {
		satPerByte = 20
	}
	return new(big.Int).Mul(big.NewInt(satPerByte), big.NewInt(estimatedTxVBytes)), nil
}

// satPerByte returns the fee rate alone, used by the transaction builder to
// size outputs once UTXOs are known.
func (f *feeEstimator) satPerByte(ctx context.Context) int64 {
	rate, err := f.rpc.EstimateSmartFee(ctx, 3)
	if err != nil || rate < 1 {
		return 20
	}
	return rate
}
