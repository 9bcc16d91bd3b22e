package orchestrator

import (
	"context"

	"github.com/arcbridge/bridge-core/internal/store"
)

// KeyReferenceCounter adapts a store.Store to quantum.KeyManager's
// referenceCounter interface, which the retirement gate calls synchronously
// during rotation (spec §5: "rotation blocks briefly on an in-memory lock,
// never on I/O" refers to the rotation decision itself, not this count,
// which is a deliberately cheap read against an indexed column).
type KeyReferenceCounter struct {
	store store.Store
}

// NewKeyReferenceCounter wraps st for use with quantum.NewKeyManager.
func NewKeyReferenceCounter(st store.Store) *KeyReferenceCounter {
	return &KeyReferenceCounter{store: st}
}

func (c *KeyReferenceCounter) CountNonTerminalReferencingKey(keyID string) (int, error) {
	transfers, err := c.store.ListByQuantumKey(context.Background(), keyID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range transfers {
		if !t.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}
