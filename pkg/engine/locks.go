package engine

import "sync"

// lockRegistry hands out non-blocking per-fabric sync locks. A fabric can
// have at most one sync in flight; everything else observes or rejects.
type lockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for fabricID if it is free. It never blocks.
func (r *lockRegistry) TryAcquire(fabricID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.held[fabricID]; ok {
		return false
	}
	r.held[fabricID] = struct{}{}
	return true
}

// Release frees the lock for fabricID. Releasing an unheld lock is a no-op.
func (r *lockRegistry) Release(fabricID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, fabricID)
}

// Held reports whether a sync is currently in flight for fabricID.
func (r *lockRegistry) Held(fabricID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[fabricID]
	return ok
}
