package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/arcbridge/chainadapter"
	"github.com/arcbridge/chainadapter/replay"
	"github.com/arcbridge/chainadapter/rpc"
	"github.com/arcbridge/chainadapter/storage"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CheckpointStore persists the last block height an adapter has durably
// scanned, mirroring the evm package's checkpoint contract so the
// orchestrator can treat every adapter the same way.
type CheckpointStore interface {
	Load(chainID string) (uint64, error)
	Save(chainID string, height uint64) error
}

// MemoryCheckpointStore is an in-memory CheckpointStore for tests and
// single-process deployments.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	heights map[string]uint64
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

// Adapter implements chainadapter.BridgeAdapter for Bitcoin, a UTXO-based
// chain with only probabilistic finality and no native event log: bridge
// markers are recovered by scanning block transactions for tagged OP_RETURN
// outputs rather than querying an event index.
type Adapter struct {
	chainID          string
	network          *chaincfg.Params
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
	ChainID          string
	Network          *chaincfg.Params
	TxStore          storage.TransactionStateStore
	Checkpoints      CheckpointStore
	Guard            *replay.Guard
	MinConfirmations int
	SignerFor        func(asset string) (*signer, error)
}

// NewAdapter constructs a Bitcoin BridgeAdapter.
func NewAdapter(rpcClient rpc.RPCClient, cfg Config) (*Adapter, error) {
	chainID := cfg.ChainID
	if chainID == "" {
		chainID = "bitcoin"
	}
	network := cfg.Network
	if network == nil {
		network = networkForChainID(chainID)
	}

	minConf := cfg.MinConfirmations
	if minConf == 0 {
		minConf = 6
	}

	helper := newRPCHelper(rpcClient)

	return &Adapter{
		chainID:          chainID,
		network:          network,
		rpc:              helper,
		builder:          newTxBuilder(network),
		fees:             newFeeEstimator(helper),
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

// SubmitLock locks funds on Bitcoin as the bridge's source chain by
// broadcasting a transaction from the sender's own UTXOs tagged with
// quantumHash in OP_RETURN.
func (a *Adapter) SubmitLock(ctx context.Context, params chainadapter.LockParams) (result *chainadapter.SubmitResult, err error) {
	idempotencyKey := fmt.Sprintf("lock:%x", params.QuantumHash)
	if a.txStore != nil {
		if existing, getErr := a.txStore.Get(idempotencyKey); getErr == nil && existing != nil {
			return &chainadapter.SubmitResult{TxID: existing.TxHash, SubmittedAt: existing.LastRetry}, nil
		}
	}

	sig, err := a.signerFor(params.Asset)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "no signer for asset", err)
	}
	if sig.Address() != params.From {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			"signer does not control the from address", nil)
	}

	utxos, err := a.rpc.ListUnspent(ctx, params.From)
	if err != nil {
		return nil, err
	}
	satPerByte := a.fees.satPerByte(ctx)

	unlockParams := chainadapter.UnlockParams{
		Recipient:   params.From,
		AmountDest:  params.Amount,
		Asset:       params.Asset,
		QuantumHash: params.QuantumHash,
	}
	tx, selected, err := a.builder.buildUnlock(unlockParams, utxos, params.From, satPerByte)
	if err != nil {
		return nil, err
	}

	txHash, rawBytes, err := a.signAndBroadcast(ctx, tx, selected, sig)
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

// SubmitUnlock releases funds on Bitcoin as the bridge's destination chain
// from the custodial reserve UTXOs, tagged with quantumHash in OP_RETURN. It
// MUST consult the replay guard before ever broadcasting.
func (a *Adapter) SubmitUnlock(ctx context.Context, params chainadapter.UnlockParams, idempotencyKey string) (result *chainadapter.SubmitResult, err error) {
	if rec, seen := a.guard.Check(idempotencyKey); seen {
		return &chainadapter.SubmitResult{TxID: rec.TxID, SubmittedAt: rec.ProcessedAt},
			chainadapter.NewNonRetryableError(chainadapter.ErrCodeAlreadyProcessed,
				fmt.Sprintf("unlock already processed for %s", idempotencyKey), nil)
	}

	sig, err := a.signerFor(params.Asset)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidSignature, "no signer for asset", err)
	}

	utxos, err := a.rpc.ListUnspent(ctx, sig.Address())
	if err != nil {
		return nil, err
	}
	satPerByte := a.fees.satPerByte(ctx)

	tx, selected, err := a.builder.buildUnlock(params, utxos, sig.Address(), satPerByte)
	if err != nil {
		return nil, err
	}

	txHash, _, err := a.signAndBroadcast(ctx, tx, selected, sig)
	if err != nil {
		return nil, err
	}

	a.guard.MarkProcessed(idempotencyKey, txHash)
	return &chainadapter.SubmitResult{TxID: txHash, SubmittedAt: time.Now()}, nil
}

// signAndBroadcast computes the per-input witness signatures for tx,
// attaches them, serializes the signed transaction, and broadcasts it.
func (a *Adapter) signAndBroadcast(ctx context.Context, tx *wire.MsgTx, selected []UTXO, sig *signer) (string, []byte, error) {
	addr, err := btcutil.DecodeAddress(sig.Address(), a.network)
	if err != nil {
		return "", nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			"invalid signer address", err)
	}
	signerScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", nil, chainadapter.NewNonRetryableError("ERR_SCRIPT_BUILD", "failed to build signer script", err)
	}

	sigHashes, err := witnessSigHashes(tx, selected, signerScript)
	if err != nil {
		return "", nil, err
	}

	signatures := make([][]byte, len(sigHashes))
	for i, h := range sigHashes {
		s, err := sig.signHash(h)
		if err != nil {
			return "", nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
		}
		signatures[i] = s
	}
	attachWitnesses(tx, signatures, sig.PublicKey())

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", nil, chainadapter.NewNonRetryableError("ERR_SERIALIZE_FAILED", err.Error(), err)
	}
	rawBytes := buf.Bytes()

	txHash, err := a.rpc.SendRawTransaction(ctx, hex.EncodeToString(rawBytes))
	if err != nil {
		return "", nil, err
	}

	return txHash, rawBytes, nil
}

// Observe reports the current confirmation status of a previously submitted
// transaction.
func (a *Adapter) Observe(ctx context.Context, txID string) (*chainadapter.Observation, error) {
	tx, err := a.rpc.GetRawTransaction(ctx, txID, true)
	if err != nil {
		return nil, err
	}
	if tx.Confirmations == 0 && tx.BlockHash == "" {
		return &chainadapter.Observation{Status: chainadapter.ObservationPending}, nil
	}

	status := chainadapter.ObservationPending
	if int(tx.Confirmations) >= a.minConfirmations {
		status = chainadapter.ObservationConfirmed
	}

	var blockHeight uint64
	if tx.BlockHash != "" {
		block, err := a.rpc.GetBlock(ctx, tx.BlockHash, 1)
		if err == nil {
			blockHeight = uint64(block.Height)
		}
	}

	return &chainadapter.Observation{Status: status, BlockHeight: blockHeight}, nil
}

// SubscribeEvents polls for new blocks and scans every transaction's outputs
// for a bridge-tagged OP_RETURN, decoding the quantum hash back into a
// BridgeEvent. Bitcoin has no native event log, so this walks block contents
// directly rather than querying an index.
func (a *Adapter) SubscribeEvents(ctx context.Context, fromCheckpoint uint64) (<-chan chainadapter.BridgeEvent, error) {
	out := make(chan chainadapter.BridgeEvent, 64)

	go func() {
		defer close(out)
		cursor := int64(fromCheckpoint)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				head, err := a.rpc.GetBlockCount(ctx)
				if err != nil || head <= cursor {
					continue
				}

				for height := cursor + 1; height <= head; height++ {
					txs, err := a.rpc.ScanBlockForEvents(ctx, height)
					if err != nil {
						break
					}
					for _, tx := range txs {
						for _, vout := range tx.Vout {
							scriptBytes, decErr := hex.DecodeString(vout.ScriptPubKey.Hex)
							if decErr != nil {
								continue
							}
							quantumHash, ok := decodeOpReturn(scriptBytes)
							if !ok {
								continue
							}

							event := chainadapter.BridgeEvent{
								EventPayload: chainadapter.EventPayload{
									Kind:        chainadapter.EventUnlock,
									TxID:        tx.TxID,
									QuantumHash: quantumHash,
									BlockHeight: uint64(height),
									BlockTime:   time.Now(),
								},
								Checkpoint: uint64(height),
							}

							select {
							case out <- event:
							case <-ctx.Done():
								return
							}
						}
					}
					cursor = height
					if a.checkpoints != nil {
						_ = a.checkpoints.Save(a.chainID, uint64(cursor))
					}
				}
			}
		}
	}()

	return out, nil
}
