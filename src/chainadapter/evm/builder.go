package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/arcbridge/chainadapter"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// txBuilder assembles unsigned EIP-1559 lock/unlock transactions. The
// quantum_hash binding a transfer across chains is embedded verbatim in the
// transaction's data field so the destination adapter's event subscriber can
// recover it directly from an observed log without a side channel.
type txBuilder struct {
	chainID *big.Int
}

func newTxBuilder(chainID int64) *txBuilder {
	return &txBuilder{chainID: big.NewInt(chainID)}
}

func (b *txBuilder) isValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42 && common.IsHexAddress(addr)
}

// buildLock constructs the unsigned lock transaction: value = amount, data =
// quantumHash || destChain || destRecipient, sent to the bridge contract
// address configured for this adapter.
func (b *txBuilder) buildLock(params chainadapter.LockParams, contractAddr string, nonce, gasLimit uint64, maxFeePerGas, maxPriorityFeePerGas *big.Int) (*types.Transaction, []byte, error) {
	if !b.isValidAddress(params.From) {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid from address: %s", params.From), nil)
	}
	if params.Amount == nil || params.Amount.Sign() < 0 {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount,
			"amount must be non-negative", nil)
	}

	data := encodeLockData(params.QuantumHash, params.DestChain, params.DestRecipient)
	toAddr := common.HexToAddress(contractAddr)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &toAddr,
		Value:     params.Amount,
		Data:      data,
	})

	signerHash := types.LatestSignerForChainID(b.chainID).Hash(tx)
	return tx, signerHash.Bytes(), nil
}

// buildUnlock constructs the unsigned unlock transaction: value =
// amountDest sent directly to the recipient, data = quantumHash ||
// sourceProofID so the event it emits carries its own provenance.
func (b *txBuilder) buildUnlock(params chainadapter.UnlockParams, nonce, gasLimit uint64, maxFeePerGas, maxPriorityFeePerGas *big.Int) (*types.Transaction, []byte, error) {
	if !b.isValidAddress(params.Recipient) {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid recipient address: %s", params.Recipient), nil)
	}
	if params.AmountDest == nil || params.AmountDest.Sign() < 0 {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount,
			"amount must be non-negative", nil)
	}

	data := encodeUnlockData(params.QuantumHash, params.SourceProofID)
	toAddr := common.HexToAddress(params.Recipient)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &toAddr,
		Value:     params.AmountDest,
		Data:      data,
	})

	signerHash := types.LatestSignerForChainID(b.chainID).Hash(tx)
	return tx, signerHash.Bytes(), nil
}

func encodeLockData(quantumHash [32]byte, destChain, destRecipient string) []byte {
	var buf []byte
	buf = append(buf, quantumHash[:]...)
	buf = append(buf, []byte(destChain)...)
	buf = append(buf, 0x00)
	buf = append(buf, []byte(destRecipient)...)
	return buf
}

func encodeUnlockData(quantumHash [32]byte, sourceProofID string) []byte {
	var buf []byte
	buf = append(buf, quantumHash[:]...)
	buf = append(buf, []byte(sourceProofID)...)
	return buf
}

// decodeLockData recovers the binding fields from a Lock event's calldata,
// the inverse of encodeLockData.
func decodeLockData(data []byte) (quantumHash [32]byte, destChain, destRecipient string, err error) {
	if len(data) < 32 {
		return quantumHash, "", "", fmt.Errorf("lock data too short: %d bytes", len(data))
	}
	copy(quantumHash[:], data[:32])
	rest := data[32:]
	sep := -1
	for i, c := range rest {
		if c == 0x00 {
			sep = i
			break
		}
	}
	if sep < 0 {
		return quantumHash, "", "", fmt.Errorf("lock data missing destChain separator")
	}
	return quantumHash, string(rest[:sep]), string(rest[sep+1:]), nil
}
