// Package evm implements BridgeAdapter for EVM-compatible, account-based
// chains (Ethereum mainnet and compatible testnets).
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/arcbridge/chainadapter"
	"github.com/arcbridge/chainadapter/rpc"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcHelper provides the narrow set of JSON-RPC calls the lock/unlock path
// and event subscriber need.
type rpcHelper struct {
	client rpc.RPCClient
}

func newRPCHelper(client rpc.RPCClient) *rpcHelper {
	return &rpcHelper{client: client}
}

func (r *rpcHelper) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionCount RPC failed: %s", err.Error()), nil, err)
	}

	var nonceHex string
	if err := json.Unmarshal(result, &nonceHex); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse nonce", err)
	}
	nonce, err := hexutil.DecodeUint64(nonceHex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode nonce hex", err)
	}
	return nonce, nil
}

func (r *rpcHelper) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	txObj := map[string]interface{}{"from": from, "to": to}
	if value != nil && value.Cmp(big.NewInt(0)) > 0 {
		txObj["value"] = hexutil.EncodeBig(value)
	}
	if len(data) > 0 {
		txObj["data"] = hexutil.Encode(data)
	}

	result, err := r.client.Call(ctx, "eth_estimateGas", []interface{}{txObj})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_estimateGas RPC failed: %s", err.Error()), nil, err)
	}

	var gasHex string
	if err := json.Unmarshal(result, &gasHex); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse gas estimate", err)
	}
	gas, err := hexutil.DecodeUint64(gasHex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode gas hex", err)
	}
	return gas, nil
}

func (r *rpcHelper) GetBaseFee(ctx context.Context) (*big.Int, error) {
	result, err := r.client.Call(ctx, "eth_getBlockByNumber", []interface{}{"latest", false})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"eth_getBlockByNumber RPC failed", nil, err)
	}

	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
		Number        string `json:"number"`
	}
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse block", err)
	}
	if block.BaseFeePerGas == "" {
		return big.NewInt(0), nil
	}
	baseFee, err := hexutil.DecodeBig(block.BaseFeePerGas)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode base fee", err)
	}
	return baseFee, nil
}

func (r *rpcHelper) GetFeeHistory(ctx context.Context, blockCount int) (*big.Int, error) {
	result, err := r.client.Call(ctx, "eth_feeHistory", []interface{}{
		hexutil.EncodeUint64(uint64(blockCount)), "latest", []int{50},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"eth_feeHistory RPC failed", nil, err)
	}

	var feeHistory struct {
		Reward [][]string `json:"reward"`
	}
	if err := json.Unmarshal(result, &feeHistory); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse fee history", err)
	}
	if len(feeHistory.Reward) == 0 {
		return big.NewInt(2e9), nil
	}

	sum := big.NewInt(0)
	count := 0
	for _, rewards := range feeHistory.Reward {
		if len(rewards) == 0 {
			continue
		}
		priorityFee, err := hexutil.DecodeBig(rewards[0])
		if err == nil {
			sum.Add(sum, priorityFee)
			count++
		}
	}
	if count == 0 {
		return big.NewInt(2e9), nil
	}
	return new(big.Int).Div(sum, big.NewInt(int64(count))), nil
}

func (r *rpcHelper) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"eth_blockNumber RPC failed", nil, err)
	}
	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse block number", err)
	}
	return hexutil.DecodeUint64(blockHex)
}

func (r *rpcHelper) GetTransactionReceipt(ctx context.Context, txHash string) (*receipt, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"eth_getTransactionReceipt RPC failed", nil, err)
	}
	if string(result) == "null" {
		return nil, nil
	}
	var rcpt receipt
	if err := json.Unmarshal(result, &rcpt); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse receipt", err)
	}
	return &rcpt, nil
}

func (r *rpcHelper) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	result, err := r.client.Call(ctx, "eth_sendRawTransaction", []interface{}{txHex})
	if err != nil {
		return "", chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_sendRawTransaction RPC failed: %s", err.Error()), nil, err)
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse tx hash", err)
	}
	return txHash, nil
}

// GetLogs retrieves event logs in [fromBlock, toBlock] emitted by the given
// bridge contract address, used by SubscribeEvents to poll for Lock/Unlock
// events since the last persisted checkpoint.
func (r *rpcHelper) GetLogs(ctx context.Context, address string, fromBlock, toBlock uint64) ([]logEntry, error) {
	result, err := r.client.Call(ctx, "eth_getLogs", []interface{}{map[string]interface{}{
		"address":   address,
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   hexutil.EncodeUint64(toBlock),
	}})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"eth_getLogs RPC failed", nil, err)
	}
	var logs []logEntry
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse logs", err)
	}
	return logs, nil
}

type receipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
}

type logEntry struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	Removed     bool     `json:"removed"`
}
