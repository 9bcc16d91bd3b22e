package btc

import (
	"fmt"
	"sort"

	"github.com/arcbridge/chainadapter"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const dustThreshold = 546

// opReturnTag distinguishes bridge markers from unrelated OP_RETURN traffic
// on the same chain without needing a registry lookup.
var opReturnTag = []byte("ARCB")

// txBuilder assembles unsigned Bitcoin transactions. Bitcoin's OP_RETURN
// budget (80 bytes) cannot carry a full quantum_hash plus routing metadata,
// so only the quantum_hash binding identifier is embedded on-chain; the
// remaining routing fields travel through the swap record the orchestrator
// already holds.
type txBuilder struct {
	network *chaincfg.Params
}

func newTxBuilder(network *chaincfg.Params) *txBuilder {
	return &txBuilder{network: network}
}

// selectUTXOs picks the fewest largest-first UTXOs covering amount plus an
// estimated fee, mirroring a simple greedy coin selection strategy.
func selectUTXOs(utxos []UTXO, amount int64, satPerByte int64) ([]UTXO, int64, error) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var selected []UTXO
	var total int64
	for _, u := range sorted {
		selected = append(selected, u)
		total += u.Amount
		estSize := int64(10 + 68*len(selected) + 31*2 + len(opReturnTag) + 32 + 9)
		fee := satPerByte * estSize
		if total >= amount+fee {
			return selected, fee, nil
		}
	}

	return nil, 0, chainadapter.NewNonRetryableError("ERR_INSUFFICIENT_FUNDS",
		fmt.Sprintf("insufficient UTXOs: need %d, have %d", amount, total), nil)
}

// buildUnlock constructs the unsigned release transaction: spends UTXOs
// controlled by the bridge custodial key, pays amountDest to recipient, and
// embeds quantumHash in an OP_RETURN output.
func (b *txBuilder) buildUnlock(params chainadapter.UnlockParams, utxos []UTXO, changeAddr string, satPerByte int64) (*wire.MsgTx, []UTXO, error) {
	if params.AmountDest == nil || params.AmountDest.Sign() <= 0 {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount,
			"amount must be positive", nil)
	}
	amount := params.AmountDest.Int64()

	recipientAddr, err := btcutil.DecodeAddress(params.Recipient, b.network)
	if err != nil {
		return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid recipient address: %s", params.Recipient), err)
	}

	selected, fee, err := selectUTXOs(utxos, amount, satPerByte)
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, nil, chainadapter.NewNonRetryableError("ERR_INVALID_UTXO", "invalid utxo txid", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}

	recipientScript, err := txscript.PayToAddrScript(recipientAddr)
	if err != nil {
		return nil, nil, chainadapter.NewNonRetryableError("ERR_SCRIPT_BUILD", "failed to build recipient script", err)
	}
	tx.AddTxOut(wire.NewTxOut(amount, recipientScript))

	memo := append(append([]byte{}, opReturnTag...), params.QuantumHash[:]...)
	memoScript, err := txscript.NullDataScript(memo)
	if err != nil {
		return nil, nil, chainadapter.NewNonRetryableError("ERR_SCRIPT_BUILD", "failed to build OP_RETURN script", err)
	}
	tx.AddTxOut(wire.NewTxOut(0, memoScript))

	var total int64
	for _, u := range selected {
		total += u.Amount
	}
	change := total - amount - fee
	if change > dustThreshold {
		changeAddress, err := btcutil.DecodeAddress(changeAddr, b.network)
		if err != nil {
			return nil, nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress,
				"invalid change address", err)
		}
		changeScript, err := txscript.PayToAddrScript(changeAddress)
		if err != nil {
			return nil, nil, chainadapter.NewNonRetryableError("ERR_SCRIPT_BUILD", "failed to build change script", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	return tx, selected, nil
}

// witnessSigHashes computes the BIP143 witness signature hash for every
// input so the caller's signer can produce a detached signature per input.
func witnessSigHashes(tx *wire.MsgTx, inputs []UTXO, signerScript []byte) ([][]byte, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_INVALID_UTXO", "invalid utxo txid", err)
		}
		fetcher.AddPrevOut(*wire.NewOutPoint(hash, u.Vout), wire.NewTxOut(u.Amount, signerScript))
		_ = i
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	hashes := make([][]byte, len(inputs))
	for i, u := range inputs {
		h, err := txscript.CalcWitnessSigHash(signerScript, sigHashes, txscript.SigHashAll, tx, i, u.Amount)
		if err != nil {
			return nil, chainadapter.NewNonRetryableError("ERR_SIGHASH", "failed to compute witness sighash", err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// attachWitnesses sets each input's witness stack to [signature || sighashType, pubKey].
func attachWitnesses(tx *wire.MsgTx, signatures [][]byte, pubKey []byte) {
	for i, sig := range signatures {
		sigWithType := append(append([]byte{}, sig...), byte(txscript.SigHashAll))
		tx.TxIn[i].Witness = wire.TxWitness{sigWithType, pubKey}
	}
}

// decodeOpReturn extracts the quantum hash from a bridge-tagged OP_RETURN
// output, or returns ok=false if the script isn't one of ours.
func decodeOpReturn(script []byte) (quantumHash [32]byte, ok bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return quantumHash, false
	}
	if !tokenizer.Next() {
		return quantumHash, false
	}
	data := tokenizer.Data()
	if len(data) != len(opReturnTag)+32 {
		return quantumHash, false
	}
	for i, b := range opReturnTag {
		if data[i] != b {
			return quantumHash, false
		}
	}
	copy(quantumHash[:], data[len(opReturnTag):])
	return quantumHash, true
}
