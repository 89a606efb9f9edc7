// Package dedup keeps the set of content fingerprints that have a publish
// task in flight.
package dedup

import "sync"

// Registry maps fingerprint to the claim currently holding it. The key is
// the fingerprint alone. A claim is a single task, or a whole batch whose
// tasks share one holder id; each task of the claim acquires and releases
// once, and the fingerprint frees when the last one releases.
type Registry struct {
	mu      sync.Mutex
	holders map[string]*claim
}

type claim struct {
	holder string
	refs   int
}

func NewRegistry() *Registry {
	return &Registry{holders: make(map[string]*claim)}
}

// TryAcquire claims fingerprint for holder. It returns false if another
// holder has it.
func (r *Registry) TryAcquire(fingerprint, holder string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.holders[fingerprint]
	if !ok {
		r.holders[fingerprint] = &claim{holder: holder, refs: 1}
		return true
	}
	if c.holder != holder {
		return false
	}
	c.refs++
	return true
}

// Release drops one reference of holder on fingerprint. It is a no-op for
// any other holder, so a task that lost TryAcquire can always call it.
func (r *Registry) Release(fingerprint, holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.holders[fingerprint]
	if !ok || c.holder != holder {
		return
	}
	if c.refs--; c.refs <= 0 {
		delete(r.holders, fingerprint)
	}
}

// Holder returns the claim holding fingerprint.
func (r *Registry) Holder(fingerprint string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.holders[fingerprint]
	if !ok {
		return "", false
	}
	return c.holder, true
}

// Len is the number of fingerprints in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
