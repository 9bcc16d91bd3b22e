// Package btc implements BridgeAdapter for Bitcoin, a UTXO-based chain with
// only probabilistic finality.
package btc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcbridge/chainadapter"
	"github.com/arcbridge/chainadapter/rpc"
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string
	Vout          uint32
	Amount        int64
	ScriptPubKey  []byte
	Address       string
	Confirmations int
}

type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

type estimateSmartFeeResult struct {
	FeeRate float64  `json:"feerate"`
	Blocks  int      `json:"blocks"`
	Errors  []string `json:"errors,omitempty"`
}

type rawTransactionResult struct {
	TxID          string `json:"txid"`
	Confirmations int    `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	Vout          []struct {
		Value        float64 `json:"value"`
		N            uint32  `json:"n"`
		ScriptPubKey struct {
			Hex     string   `json:"hex"`
			Address string   `json:"address"`
			Addresses []string `json:"addresses,omitempty"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

type blockResult struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
}

type rpcHelper struct {
	client rpc.RPCClient
}

func newRPCHelper(client rpc.RPCClient) *rpcHelper {
	return &rpcHelper{client: client}
}

func (r *rpcHelper) ListUnspent(ctx context.Context, address string) ([]UTXO, error) {
	result, err := r.client.Call(ctx, "listunspent", []interface{}{0, 9999999, []string{address}})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("listunspent RPC failed: %s", err.Error()), nil, err)
	}

	var raw []listUnspentResult
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse listunspent result", err)
	}

	utxos := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		if !u.Spendable {
			continue
		}
		utxos = append(utxos, UTXO{
			TxID: u.TxID, Vout: u.Vout, Amount: int64(u.Amount * 1e8),
			ScriptPubKey: []byte(u.ScriptPubKey), Address: u.Address, Confirmations: u.Confirmations,
		})
	}
	return utxos, nil
}

func (r *rpcHelper) EstimateSmartFee(ctx context.Context, targetBlocks int) (int64, error) {
	result, err := r.client.Call(ctx, "estimatesmartfee", []interface{}{targetBlocks})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("estimatesmartfee RPC failed: %s", err.Error()), nil, err)
	}

	var feeResult estimateSmartFeeResult
	if err := json.Unmarshal(result, &feeResult); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse estimatesmartfee result", err)
	}
	if len(feeResult.Errors) > 0 {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("estimatesmartfee returned errors: %v", feeResult.Errors), nil, nil)
	}

	satPerByte := int64(feeResult.FeeRate * 1e8 / 1000)
	if satPerByte < 1 {
		satPerByte = 1
	}
	return satPerByte, nil
}

func (r *rpcHelper) GetBlockCount(ctx context.Context) (int64, error) {
	result, err := r.client.Call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblockcount RPC failed", nil, err)
	}
	var count int64
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getblockcount result", err)
	}
	return count, nil
}

func (r *rpcHelper) SendRawTransaction(ctx context.Context, txHex string) (string, error) {
	result, err := r.client.Call(ctx, "sendrawtransaction", []interface{}{txHex})
	if err != nil {
		errMsg := err.Error()
		if contains(errMsg, "already in block chain") || contains(errMsg, "txn-already-known") {
			var txHash string
			if unmarshalErr := json.Unmarshal(result, &txHash); unmarshalErr == nil && txHash != "" {
				return txHash, nil
			}
		}
		return "", chainadapter.NewRetryableError("ERR_BROADCAST_FAILED",
			fmt.Sprintf("sendrawtransaction RPC failed: %s", err.Error()), nil, err)
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse sendrawtransaction result", err)
	}
	return txHash, nil
}

func (r *rpcHelper) GetRawTransaction(ctx context.Context, txHash string, verbose bool) (*rawTransactionResult, error) {
	result, err := r.client.Call(ctx, "getrawtransaction", []interface{}{txHash, verbose})
	if err != nil {
		errMsg := err.Error()
		if contains(errMsg, "not found") || contains(errMsg, "No such") {
			return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound,
				fmt.Sprintf("transaction not found: %s", txHash), err)
		}
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable,
			"getrawtransaction RPC failed", nil, err)
	}
	var tx rawTransactionResult
	if err := json.Unmarshal(result, &tx); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse raw transaction", err)
	}
	return &tx, nil
}

func (r *rpcHelper) GetBlock(ctx context.Context, blockHash string, verbosity int) (*blockResult, error) {
	result, err := r.client.Call(ctx, "getblock", []interface{}{blockHash, verbosity})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblock RPC failed", nil, err)
	}
	var block blockResult
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse block", err)
	}
	return &block, nil
}

// ScanBlockForEvents retrieves the raw transactions in a block that carry an
// OP_RETURN payload, used by SubscribeEvents to poll for lock/unlock
// markers since Bitcoin has no native event log.
func (r *rpcHelper) ScanBlockForEvents(ctx context.Context, height int64) ([]rawTransactionResult, error) {
	result, err := r.client.Call(ctx, "getblockhash", []interface{}{height})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblockhash RPC failed", nil, err)
	}
	var blockHash string
	if err := json.Unmarshal(result, &blockHash); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse block hash", err)
	}

	blockData, err := r.client.Call(ctx, "getblock", []interface{}{blockHash, 2})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, "getblock RPC failed", nil, err)
	}
	var full struct {
		Tx []rawTransactionResult `json:"tx"`
	}
	if err := json.Unmarshal(blockData, &full); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse block transactions", err)
	}
	return full.Tx, nil
}

func contains(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
