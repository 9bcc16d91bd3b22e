package quantum

import (
	"crypto/mlkem"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// KeyStatus is the lifecycle stage of a QuantumKey.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRetiring KeyStatus = "retiring"
	KeyStatusRetired  KeyStatus = "retired"
)

// QuantumKey is one ML-KEM-1024 keypair tracked by the KeyManager. Private
// key bytes never leave this package: callers get an id and a status, never
// the decapsulation key itself.
type QuantumKey struct {
	ID              string
	Algorithm       string // "ML-KEM-1024"
	CreatedAt       time.Time
	NextRotationDue time.Time
	Status          KeyStatus

	decap *mlkem.DecapsulationKey1024
}

// EncapsulationKey returns the public key other components use to seal
// descriptors against this key.
func (k *QuantumKey) EncapsulationKey() *mlkem.EncapsulationKey1024 {
	return k.decap.EncapsulationKey()
}

// referenceCounter lets the KeyManager ask the store how many in-flight
// transfers still reference a retiring key before dropping it.
type referenceCounter interface {
	CountNonTerminalReferencingKey(keyID string) (int, error)
}

type keySnapshot struct {
	active   *QuantumKey
	retiring []*QuantumKey
	byID     map[string]*QuantumKey
}

// KeyManager owns the ML-KEM key lifecycle: exactly one active key at a
// time, rotation on a configured interval, and retirement gated on no
// in-flight transfer still referencing the retiring key.
type KeyManager struct {
	rotationPeriod time.Duration
	store          referenceCounter

	snapshot atomic.Pointer[keySnapshot]
	rotMu    sync.Mutex
	nextID   int
}

// NewKeyManager generates the first active key and returns a manager ready
// to decapsulate and rotate.
func NewKeyManager(rotationPeriod time.Duration, store referenceCounter) (*KeyManager, error) {
	m := &KeyManager{rotationPeriod: rotationPeriod, store: store}

	key, err := m.generateKey()
	if err != nil {
		return nil, err
	}
	key.Status = KeyStatusActive

	m.snapshot.Store(&keySnapshot{
		active: key,
		byID:   map[string]*QuantumKey{key.ID: key},
	})
	return m, nil
}

func (m *KeyManager) generateKey() (*QuantumKey, error) {
	decap, err := mlkem.GenerateKey1024()
	if err != nil {
		return nil, fmt.Errorf("quantum: generate ML-KEM-1024 keypair: %w", err)
	}
	m.nextID++
	now := time.Now()
	return &QuantumKey{
		ID:              fmt.Sprintf("qk-%d", m.nextID),
		Algorithm:       "ML-KEM-1024",
		CreatedAt:       now,
		NextRotationDue: now.Add(m.rotationPeriod),
		Status:          KeyStatusRetiring,
		decap:           decap,
	}, nil
}

// Active returns the current active key for encapsulation. Never blocks on
// rotation: reads an atomic snapshot.
func (m *KeyManager) Active() *QuantumKey {
	return m.snapshot.Load().active
}

// Lookup finds a key (active or retiring) by id for decapsulation.
func (m *KeyManager) Lookup(keyID string) (*QuantumKey, bool) {
	snap := m.snapshot.Load()
	key, ok := snap.byID[keyID]
	return key, ok
}

// Rotate generates a new active key, demotes the previous active key to
// retiring, and swaps the snapshot atomically. Never blocks on I/O: the
// retirement gate only runs in RetireEligible, called separately (e.g. by a
// background sweep), so rotation itself can never stall under load.
func (m *KeyManager) Rotate() (*QuantumKey, error) {
	m.rotMu.Lock()
	defer m.rotMu.Unlock()

	newKey, err := m.generateKey()
	if err != nil {
		return nil, err
	}
	newKey.Status = KeyStatusActive

	prev := m.snapshot.Load()
	retiring := make([]*QuantumKey, 0, len(prev.retiring)+1)
	retiring = append(retiring, prev.retiring...)
	if prev.active != nil {
		prev.active.Status = KeyStatusRetiring
		retiring = append(retiring, prev.active)
	}

	byID := make(map[string]*QuantumKey, len(prev.byID)+1)
	for id, k := range prev.byID {
		byID[id] = k
	}
	byID[newKey.ID] = newKey

	m.snapshot.Store(&keySnapshot{active: newKey, retiring: retiring, byID: byID})
	return newKey, nil
}

// RetireEligible drops every retiring key the store reports as no longer
// referenced by any non-terminal transfer. Safe to call periodically from a
// background sweep; it is the only path that performs the store I/O the
// retirement gate requires.
func (m *KeyManager) RetireEligible() error {
	prev := m.snapshot.Load()
	if len(prev.retiring) == 0 {
		return nil
	}

	var stillRetiring []*QuantumKey
	byID := make(map[string]*QuantumKey, len(prev.byID))
	byID[prev.active.ID] = prev.active

	for _, key := range prev.retiring {
		count, err := m.store.CountNonTerminalReferencingKey(key.ID)
		if err != nil {
			return fmt.Errorf("quantum: checking retirement eligibility for %s: %w", key.ID, err)
		}
		if count > 0 {
			stillRetiring = append(stillRetiring, key)
			byID[key.ID] = key
			continue
		}
		key.Status = KeyStatusRetired
		zeroKey(key)
	}

	m.rotMu.Lock()
	defer m.rotMu.Unlock()
	m.snapshot.Store(&keySnapshot{active: prev.active, retiring: stillRetiring, byID: byID})
	return nil
}

// zeroKey drops the manager's reference to the decapsulation key so the
// underlying key material becomes eligible for garbage collection once no
// other reference remains; ML-KEM keys are opaque structs with no exported
// byte buffer to zero in place.
func zeroKey(k *QuantumKey) {
	k.decap = nil
}
