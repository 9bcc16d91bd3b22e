package orchestrator

import "sync"

// workerRegistry is a keyed mutex map enforcing spec §5's single-writer
// discipline per transfer id: at most one goroutine drives a given
// transfer_id at a time, while distinct transfers proceed fully in
// parallel. Directly analogous to the teacher's ProviderRegistry
// double-checked-locking cache, generalized from "cache a provider
// instance" to "cache a lock", with a reference count so an idle
// transfer's entry is released instead of accumulating forever across
// the daemon's lifetime.
type workerRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	lock sync.Mutex
	refs int
}

func newWorkerRegistry() *workerRegistry {
	return &workerRegistry{entries: make(map[string]*registryEntry)}
}

func (r *workerRegistry) acquire(transferID string) *registryEntry {
	r.mu.Lock()
	entry, ok := r.entries[transferID]
	if !ok {
		entry = &registryEntry{}
		r.entries[transferID] = entry
	}
	entry.refs++
	r.mu.Unlock()
	return entry
}

func (r *workerRegistry) release(transferID string, entry *registryEntry) {
	r.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(r.entries, transferID)
	}
	r.mu.Unlock()
}

// withTransferLock runs fn while holding transferID's lock, guaranteeing no
// two goroutines drive the same transfer concurrently. The entry is
// released from the registry once the last holder is done with it.
func (r *workerRegistry) withTransferLock(transferID string, fn func() error) error {
	entry := r.acquire(transferID)
	entry.lock.Lock()
	defer func() {
		entry.lock.Unlock()
		r.release(transferID, entry)
	}()
	return fn()
}
