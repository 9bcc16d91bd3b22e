package store

import (
	"context"
	"math/big"
	"sync"
)

// Fake is an in-memory Store, generalizing the teacher's MemoryTxStore
// (src/chainadapter/storage/memory.go) from a single map[string]*TxState
// into the four tables this spec needs. Safe for concurrent use; suitable
// for tests and for a single-process deployment with no durability
// requirement.
type Fake struct {
	mu          sync.RWMutex
	transfers   map[string]*Transfer
	proofs      map[string]*ProcessedProof // keyed by chainID + "/" + foreignTxHash
	checkpoints map[string]*AdapterCheckpoint
	keys        map[string]*QuantumKeyRecord
}

// NewFake constructs an empty Fake store.
func NewFake() *Fake {
	return &Fake{
		transfers:   make(map[string]*Transfer),
		proofs:      make(map[string]*ProcessedProof),
		checkpoints: make(map[string]*AdapterCheckpoint),
		keys:        make(map[string]*QuantumKeyRecord),
	}
}

func proofKey(chainID, foreignTxHash string) string { return chainID + "/" + foreignTxHash }

func copyTransfer(t *Transfer) *Transfer {
	if t == nil {
		return nil
	}
	cp := *t
	if t.AmountSource != nil {
		cp.AmountSource = new(big.Int).Set(t.AmountSource)
	}
	if t.AmountDest != nil {
		cp.AmountDest = new(big.Int).Set(t.AmountDest)
	}
	return &cp
}

func (f *Fake) CreateTransfer(ctx context.Context, t *Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[t.ID] = copyTransfer(t)
	return nil
}

func (f *Fake) UpdateTransfer(ctx context.Context, t *Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transfers[t.ID]; !ok {
		return ErrNotFound
	}
	f.transfers[t.ID] = copyTransfer(t)
	return nil
}

func (f *Fake) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.transfers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTransfer(t), nil
}

func (f *Fake) ListNonTerminal(ctx context.Context) ([]*Transfer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Transfer, 0)
	for _, t := range f.transfers {
		if !t.Status.IsTerminal() {
			out = append(out, copyTransfer(t))
		}
	}
	return out, nil
}

func (f *Fake) ListByQuantumKey(ctx context.Context, keyID string) ([]*Transfer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Transfer, 0)
	for _, t := range f.transfers {
		if t.QuantumKeyID == keyID {
			out = append(out, copyTransfer(t))
		}
	}
	return out, nil
}

func (f *Fake) InsertProcessedProofAndTransition(ctx context.Context, proof *ProcessedProof, t *Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := proofKey(proof.ChainID, proof.ForeignTxHash)
	if _, exists := f.proofs[key]; exists {
		return ErrProofAlreadyProcessed
	}

	proofCopy := *proof
	f.proofs[key] = &proofCopy
	f.transfers[t.ID] = copyTransfer(t)
	return nil
}

func (f *Fake) IsProofProcessed(ctx context.Context, chainID, foreignTxHash string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.proofs[proofKey(chainID, foreignTxHash)]
	return ok, nil
}

func (f *Fake) GetCheckpoint(ctx context.Context, chainID string) (*AdapterCheckpoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp, ok := f.checkpoints[chainID]
	if !ok {
		return nil, ErrNotFound
	}
	cpCopy := *cp
	return &cpCopy, nil
}

func (f *Fake) SaveCheckpoint(ctx context.Context, cp *AdapterCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.checkpoints[cp.ChainID]; ok && cp.Position < existing.Position {
		return ErrCheckpointRegression
	}
	cpCopy := *cp
	f.checkpoints[cp.ChainID] = &cpCopy
	return nil
}

func (f *Fake) SaveKey(ctx context.Context, k *QuantumKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kCopy := *k
	f.keys[k.ID] = &kCopy
	return nil
}

func (f *Fake) GetKey(ctx context.Context, id string) (*QuantumKeyRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	k, ok := f.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	kCopy := *k
	return &kCopy, nil
}

func (f *Fake) ListByStatus(ctx context.Context, status QuantumKeyStatus) ([]*QuantumKeyRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*QuantumKeyRecord, 0)
	for _, k := range f.keys {
		if k.Status == status {
			kCopy := *k
			out = append(out, &kCopy)
		}
	}
	return out, nil
}
