package evm

import (
	"context"
	"math/big"
)

// feeEstimator computes a single recommended total fee (EIP-1559 baseFee *
// multiplier + priorityFee, times a fixed gas budget) for one bridge lock or
// unlock transaction. Unlike a general-purpose wallet adapter it has no
// notion of FeeSpeed; the bridge always submits at "normal" urgency since
// settlement time is already bounded by MinConfirmations.
type feeEstimator struct {
	rpc      *rpcHelper
	gasLimit uint64
}

func newFeeEstimator(rpc *rpcHelper, gasLimit uint64) *feeEstimator {
	return &feeEstimator{rpc: rpc, gasLimit: gasLimit}
}

// estimateGasParams returns (maxFeePerGas, maxPriorityFeePerGas) for the next
// lock/unlock submission. Falls back to conservative defaults if the node's
// fee history is unavailable, trading precision for availability.
func (f *feeEstimator) estimateGasParams(ctx context.Context) (*big.Int, *big.Int, error) {
	baseFee, err := f.rpc.GetBaseFee(ctx)
	if err != nil {
		baseFee = big.NewInt(30e9)
	}
	priorityFee, err := f.rpc.GetFeeHistory(ctx, 10)
	if err != nil {
		priorityFee = big.NewInt(2e9)
	}

	maxFeePerGas := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFeePerGas.Add(maxFeePerGas, priorityFee)
	return maxFeePerGas, priorityFee, nil
}

// totalFee returns the total native-unit cost of one lock/unlock at current
// network conditions: maxFeePerGas * gasLimit.
func (f *feeEstimator) totalFee(ctx context.Context) (*big.Int, error) {
	maxFeePerGas, _, err := f.estimateGasParams(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(maxFeePerGas, new(big.Int).SetUint64(f.gasLimit)), nil
}
