package channelpool

import "sync"

// AffinityRegistry is the bidirectional-ish mapping from affinity key to
// ChannelRef. It owns the "bind lock": every bind/unbind, and every
// mutation of a ChannelRef's affinity counter, happens while holding it.
// The pool never holds its own lock while calling into the registry, and
// the registry never calls back into the pool.
type AffinityRegistry struct {
	mu    sync.Mutex
	byKey map[string]*ChannelRef
}

func newAffinityRegistry() *AffinityRegistry {
	return &AffinityRegistry{byKey: make(map[string]*ChannelRef)}
}

// Lookup returns the ChannelRef bound to key, if any. It does not require
// key to be registered; an empty result means "treat as unkeyed".
func (r *AffinityRegistry) Lookup(key string) (*ChannelRef, bool) {
	if key == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.byKey[key]
	return ref, ok
}

// Bind associates key with ref. Re-binding an already-bound key is a no-op
// beyond incrementing the counter on whichever ChannelRef the key already
// maps to — the first binding always wins.
func (r *AffinityRegistry) Bind(ref *ChannelRef, key string) {
	if ref == nil || key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byKey[key]
	if !ok {
		r.byKey[key] = ref
		existing = ref
	}
	existing.incrAffinity()
}

// Unbind decrements the affinity count of whichever ChannelRef key maps to.
// If that count reaches zero, every key currently mapping to the same
// ChannelRef is purged from the registry — the counter hitting zero means
// no logical holder remains for that channel.
func (r *AffinityRegistry) Unbind(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.byKey[key]
	if !ok {
		return
	}
	if ref.Affinity() > 0 {
		ref.decrAffinity()
	}
	if ref.Affinity() == 0 {
		for k, v := range r.byKey {
			if v == ref {
				delete(r.byKey, k)
			}
		}
	}
}

// Size returns the number of registered keys, for tests/observation.
func (r *AffinityRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
