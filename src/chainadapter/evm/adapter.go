package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/arcbridge/chainadapter"
	"github.com/arcbridge/chainadapter/replay"
	"github.com/arcbridge/chainadapter/rpc"
	"github.com/arcbridge/chainadapter/storage"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CheckpointStore persists the last block height an adapter has durably
// delivered to the orchestrator, so SubscribeEvents can restart without
// re-delivering (or skipping) events across process restarts.
type CheckpointStore interface {
	Load(chainID string) (uint64, error)
	Save(chainID string, height uint64) error
}

// MemoryCheckpointStore is an in-memory CheckpointStore, suitable for tests
// or single-process deployments where durability across restarts is
// provided by an outer component (e.g. the orchestrator's own recovery
// scan against the swap store).
type MemoryCheckpointStore struct {
	mu       sync.RWMutex
	heights  map[string]uint64
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{heights: make(map[string]uint64)}
}

func (m *MemoryCheckpointStore) Load(chainID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heights[chainID], nil
}

func (m *MemoryCheckpointStore) Save(chainID string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heights[chainID] = height
	return nil
}

// Adapter implements chainadapter.BridgeAdapter for Ethereum and
// EVM-compatible account-based chains.
type Adapter struct {
	chainID          string
	networkID        int64
	contractAddr     string
	rpc              *rpcHelper
	builder          *txBuilder
	fees             *feeEstimator
	txStore          storage.TransactionStateStore
	checkpoints      CheckpointStore
	guard            *replay.Guard
	minConfirmations int
	signerFor        func(asset string) (*signer, error)
}

// Config supplies everything NewAdapter needs beyond the RPC client.
type Config struct {
	NetworkID        int64
	ContractAddr     string
	TxStore          storage.TransactionStateStore
	Checkpoints      CheckpointStore
	Guard            *replay.Guard
	MinConfirmations int
	SignerFor        func(asset string) (*signer, error)
}

// NewAdapter constructs an EVM BridgeAdapter.
func NewAdapter(rpcClient rpc.RPCClient, cfg Config) (*Adapter, error) {
	chainID := "ethereum"
	switch cfg.NetworkID {
	case 5:
		chainID = "ethereum-goerli"
	case 11155111:
		chainID = "ethereum-sepolia"
	}

	minConf := cfg.MinConfirmations
	if minConf == 0 {
		minConf = 12
	}

	helper := newRPCHelper(rpcClient)

	return &Adapter{
		chainID:          chainID,
		networkID:        cfg.NetworkID,
		contractAddr:     cfg.ContractAddr,
		rpc:              helper,
		builder:          newTxBuilder(cfg.NetworkID),
		fees:             newFeeEstimator(helper, 120000),
		txStore:          cfg.TxStore,
		checkpoints:      cfg.Checkpoints,
		guard:            cfg.Guard,
		minConfirmations: minConf,
		signerFor:        cfg.SignerFor,
	}, nil
}

func (a *Adapter) ChainID() string { return a.chainID }

func (a *Adapter) MinConfirmations() int { return a.minConfirmations }

func (a *Adapter) FinalitySemantics() chainadapter.FinalitySemantics {
	return chainadapter.FinalityProbabilistic
}

func (a *Adapter) FeeEstimate(ctx context.Context) (*big.Int, error) {
	return a.fees.totalFee(ctx)
}

// SubmitLock locks funds on Ethereum as the bridge's source chain. It is
// idempotent against the adapter's txStore: a retried call for the same
// quantum hash returns the previously broadcast tx rather than submitting a
// second lock.
func (a *Adapter) SubmitLock(ctx context.Context, params chainadapter.LockParams) (result *chainadapter.SubmitResult, err error) {
	idempotencyKey := fmt.Sprintf("lock:%x", params.QuantumHash)
	if a.txStore != nil {
		if existing, getErr := a.txStore.Get(idempotencyKey); getErr == nil && existing != nil {
			return &chainadapter.SubmitResult{TxID: existing.TxHash, SubmittedAt: existing.LastRetry}, nil
		}
	}

	signer, err := a.signerFor(params.Asset)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "no signer for asset", err)
	}

	nonce, err := a.rpc.GetTransactionCount(ctx, params.From)
	if err != nil {
		return nil, err
	}
	maxFeePerGas, maxPriorityFeePerGas, err := a.fees.estimateGasParams(ctx)
	if err != nil {
		return nil, err
	}

	tx, signingHash, err := a.builder.buildLock(params, a.contractAddr, nonce, 120000, maxFeePerGas, maxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}
	_ = signingHash

	signedTx, err := signer.signTx(tx)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}

	rawBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SERIALIZE_FAILED", err.Error(), err)
	}
	txHex := hexutil.Encode(rawBytes)

	txHash, err := a.rpc.SendRawTransaction(ctx, txHex)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if a.txStore != nil {
		_ = a.txStore.Set(idempotencyKey, &storage.TxState{
			TxHash: txHash, ChainID: a.chainID, RawTx: rawBytes,
			RetryCount: 1, FirstSeen: now, LastRetry: now, Status: storage.TxStatusPending,
		})
	}

	return &chainadapter.SubmitResult{TxID: txHash, SubmittedAt: now}, nil
}

// SubmitUnlock releases funds on Ethereum as the bridge's destination
// chain. It MUST consult the replay guard before ever broadcasting.
func (a *Adapter) SubmitUnlock(ctx context.Context, params chainadapter.UnlockParams, idempotencyKey string) (result *chainadapter.SubmitResult, err error) {
	if rec, seen := a.guard.Check(idempotencyKey); seen {
		return &chainadapter.SubmitResult{TxID: rec.TxID, SubmittedAt: rec.ProcessedAt},
			chainadapter.NewNonRetryableError(chainadapter.ErrCodeAlreadyProcessed,
				fmt.Sprintf("unlock already processed for %s", idempotencyKey), nil)
	}

	signer, err := a.signerFor(params.Asset)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "no signer for asset", err)
	}

	nonce, err := a.rpc.GetTransactionCount(ctx, signer.Address())
	if err != nil {
		return nil, err
	}
	maxFeePerGas, maxPriorityFeePerGas, err := a.fees.estimateGasParams(ctx)
	if err != nil {
		return nil, err
	}

	tx, _, err := a.builder.buildUnlock(params, nonce, 100000, maxFeePerGas, maxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}

	signedTx, err := signer.signTx(tx)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}
	rawBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SERIALIZE_FAILED", err.Error(), err)
	}

	txHash, err := a.rpc.SendRawTransaction(ctx, hexutil.Encode(rawBytes))
	if err != nil {
		return nil, err
	}

	a.guard.MarkProcessed(idempotencyKey, txHash)
	return &chainadapter.SubmitResult{TxID: txHash, SubmittedAt: time.Now()}, nil
}

// Observe reports the current confirmation status of a previously submitted
// transaction.
func (a *Adapter) Observe(ctx context.Context, txID string) (*chainadapter.Observation, error) {
	receipt, err := a.rpc.GetTransactionReceipt(ctx, txID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return &chainadapter.Observation{Status: chainadapter.ObservationPending}, nil
	}
	if receipt.Status == "0x0" {
		return &chainadapter.Observation{Status: chainadapter.ObservationFailed, FailReason: "transaction reverted"}, nil
	}

	blockNum, err := hexutil.DecodeUint64(receipt.BlockNumber)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode receipt block number", err)
	}

	current, err := a.rpc.GetBlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	confirmations := int64(current) - int64(blockNum)

	status := chainadapter.ObservationPending
	if confirmations >= int64(a.minConfirmations) {
		status = chainadapter.ObservationConfirmed
	}

	return &chainadapter.Observation{Status: status, BlockHeight: blockNum}, nil
}

// SubscribeEvents polls eth_getLogs from the bridge contract starting at the
// checkpoint, decoding Lock calldata back into an EventLock BridgeEvent. Logs
// whose data does not decode as Lock data (Unlock data among them) are
// skipped.
func (a *Adapter) SubscribeEvents(ctx context.Context, fromCheckpoint uint64) (<-chan chainadapter.BridgeEvent, error) {
	out := make(chan chainadapter.BridgeEvent, 64)

	go func() {
		defer close(out)
		cursor := fromCheckpoint
		ticker := time.NewTicker(12 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				head, err := a.rpc.GetBlockNumber(ctx)
				if err != nil || head <= cursor {
					continue
				}

				logs, err := a.rpc.GetLogs(ctx, a.contractAddr, cursor+1, head)
				if err != nil {
					continue
				}

				for _, lg := range logs {
					if lg.Removed {
						continue
					}
					raw, decErr := hexutil.Decode(lg.Data)
					if decErr != nil {
						continue
					}
					quantumHash, _, _, decErr := decodeLockData(raw)
					if decErr != nil {
						continue
					}
					blockNum, _ := hexutil.DecodeUint64(lg.BlockNumber)

					event := chainadapter.BridgeEvent{
						EventPayload: chainadapter.EventPayload{
							Kind:        chainadapter.EventLock,
							TxID:        lg.TxHash,
							QuantumHash: quantumHash,
							BlockHeight: blockNum,
							BlockTime:   time.Now(),
						},
						Checkpoint: blockNum,
					}

					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}

				cursor = head
				if a.checkpoints != nil {
					_ = a.checkpoints.Save(a.chainID, cursor)
				}
			}
		}
	}()

	return out, nil
}
